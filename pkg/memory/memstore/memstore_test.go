package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-memoir/pkg/memory"
)

func newStore() (*Store, *time.Time) {
	s := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	return s, &now
}

func TestStore_CreateAndGet(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	rec, err := s.Create(ctx, memory.Record{UserID: "u1", Title: "Porto", Content: "moved"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := s.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.Get(ctx, "u2", rec.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = s.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_SearchMostRecentFirst(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		_, err := s.Create(ctx, memory.Record{UserID: "u1", Title: fmt.Sprintf("m%d", i), Content: "c"})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, memory.Record{UserID: "u2", Title: "other", Content: "c"})
	require.NoError(t, err)

	recs, err := s.Search(ctx, "u1", memory.Query{})
	require.NoError(t, err)
	titles := make([]string, len(recs))
	for i, r := range recs {
		titles[i] = r.Title
	}
	assert.Equal(t, []string{"m7", "m6", "m5", "m4", "m3"}, titles)
}

func TestStore_SearchText(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_, _ = s.Create(ctx, memory.Record{UserID: "u1", Title: "Summer in Porto", Content: "river"})
	_, _ = s.Create(ctx, memory.Record{UserID: "u1", Title: "Wedding", Content: "in PORTO again"})
	_, _ = s.Create(ctx, memory.Record{UserID: "u1", Title: "School", Content: "Lisbon"})

	recs, err := s.Search(ctx, "u1", memory.Query{Text: "porto", Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Wedding", recs[0].Title)

	recs, err = s.Search(ctx, "u1", memory.Query{Text: "xyznotfound"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	rec, _ := s.Create(ctx, memory.Record{UserID: "u1", Title: "t", Content: "c", Tags: []string{"a"}})
	rec.Tags[0] = "mutated"

	got, err := s.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Tags)
}
