// Package memory defines the user-owned memory record and the store contract the
// tool dispatcher reads and writes through.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

const DefaultSearchLimit = 5

var ErrNotFound = errors.New("memory not found")

type Record struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	Tags       []string    `json:"tags,omitempty"`
	OccurredOn *civil.Date `json:"occurred_on,omitempty"`
	Location   *string     `json:"location,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Query filters a user's records. An empty Text returns the most recent records.
type Query struct {
	Text  string
	Limit int
}

type Store interface {
	Create(ctx context.Context, rec Record) (Record, error)
	// Get returns ErrNotFound when the record is missing or owned by another user.
	Get(ctx context.Context, userID, id string) (Record, error)
	// Search returns matches ordered most recent first.
	Search(ctx context.Context, userID string, q Query) ([]Record, error)
}

// Prepare fills the id and creation time of a new record and normalizes its tags.
func Prepare(rec Record, now time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	rec.Title = strings.TrimSpace(rec.Title)
	rec.Content = strings.TrimSpace(rec.Content)
	rec.Tags = NormalizeTags(rec.Tags)
	if rec.Location != nil {
		loc := strings.TrimSpace(*rec.Location)
		if loc == "" {
			rec.Location = nil
		} else {
			rec.Location = &loc
		}
	}
	return rec
}

// NormalizeTags trims tags and drops blanks and case-insensitive duplicates, keeping
// first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Matches reports whether text occurs in the title or content, ignoring case.
func Matches(rec Record, text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Title), text) ||
		strings.Contains(strings.ToLower(rec.Content), text)
}

// EffectiveLimit returns the limit, defaulting non-positive values.
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultSearchLimit
	}
	return q.Limit
}
