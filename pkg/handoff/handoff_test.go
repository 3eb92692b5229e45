package handoff

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_Publish(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	ev := Event{MemoryID: "m1", Title: "Porto", UserID: "u1", At: time.Unix(10, 0).UTC()}
	require.NoError(t, b.Publish(context.Background(), ev))
	assert.Equal(t, ev, <-ch)
}

func TestMulti_JoinsErrors(t *testing.T) {
	var got []string
	ok := PublisherFunc(func(_ context.Context, ev Event) error {
		got = append(got, ev.MemoryID)
		return nil
	})
	failing := PublisherFunc(func(context.Context, Event) error { return errors.New("down") })

	err := Multi{ok, nil, failing, ok}.Publish(context.Background(), Event{MemoryID: "m1"})
	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{"m1", "m1"}, got)
}

func TestNewRedisPublisher_RequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(nil, "")
	assert.Error(t, err)
}

func TestDialRedis_BadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "://nope", "")
	assert.Error(t, err)
}

func TestRedisPublisher_RoundTrip(t *testing.T) {
	url := os.Getenv("MEMOIR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MEMOIR_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := DialRedis(ctx, url, "memoir:test:"+t.Name())
	require.NoError(t, err)
	defer p.Close()

	events, err := p.Subscribe(ctx)
	require.NoError(t, err)

	ev := Event{MemoryID: "m1", Title: "Porto", At: time.Unix(10, 0).UTC()}
	require.NoError(t, p.Publish(ctx, ev))
	select {
	case got := <-events:
		assert.Equal(t, ev, got)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
