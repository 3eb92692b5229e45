// Package memstore is an in-process memory.Store used for local development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vango-go/vai-memoir/pkg/memory"
)

type entry struct {
	rec memory.Record
	seq uint64
}

type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[string]entry
	seq     uint64
}

func New() *Store {
	return &Store{now: time.Now, records: make(map[string]entry)}
}

func (s *Store) Create(_ context.Context, rec memory.Record) (memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec = memory.Prepare(rec, s.now())
	s.seq++
	s.records[rec.ID] = entry{rec: clone(rec), seq: s.seq}
	return clone(rec), nil
}

func (s *Store) Get(_ context.Context, userID, id string) (memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[id]
	if !ok || e.rec.UserID != userID {
		return memory.Record{}, memory.ErrNotFound
	}
	return clone(e.rec), nil
}

func (s *Store) Search(_ context.Context, userID string, q memory.Query) ([]memory.Record, error) {
	s.mu.RLock()
	matches := make([]entry, 0)
	for _, e := range s.records {
		if e.rec.UserID == userID && memory.Matches(e.rec, q.Text) {
			matches = append(matches, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})
	if limit := q.EffectiveLimit(); len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]memory.Record, len(matches))
	for i, e := range matches {
		out[i] = clone(e.rec)
	}
	return out, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(rec memory.Record) memory.Record {
	if rec.Tags != nil {
		rec.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.OccurredOn != nil {
		d := *rec.OccurredOn
		rec.OccurredOn = &d
	}
	if rec.Location != nil {
		l := *rec.Location
		rec.Location = &l
	}
	return rec
}
