package handoff

import (
	"context"

	"github.com/vango-go/vai-memoir/pkg/broadcast"
)

// Broadcaster delivers handoff events to in-process subscribers such as the UI event
// feed.
type Broadcaster struct {
	hub *broadcast.Hub[Event]
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{hub: broadcast.New[Event]()}
}

func (b *Broadcaster) Publish(_ context.Context, ev Event) error {
	b.hub.Send(ev)
	return nil
}

func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	return b.hub.Subscribe(buffer)
}

func (b *Broadcaster) Close() {
	b.hub.Close()
}
