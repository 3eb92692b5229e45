// Package handoff publishes the navigation events emitted after a memory is saved.
// The UI decides what to do with them.
package handoff

import (
	"context"
	"errors"
	"time"
)

type Event struct {
	MemoryID string    `json:"memory_id"`
	Title    string    `json:"title"`
	UserID   string    `json:"user_id,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
