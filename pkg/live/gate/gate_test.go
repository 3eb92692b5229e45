package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-memoir/pkg/live/clock"
)

type fakeTarget struct {
	starts    atomic.Int32
	connected atomic.Bool
	err       error
	block     chan struct{}
}

func (f *fakeTarget) Start(ctx context.Context) error {
	f.starts.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func (f *fakeTarget) IsConnected() bool { return f.connected.Load() }

func newGate(t *testing.T, target *fakeTarget) (*Gate, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return New(target, Config{Clock: clk}), clk
}

func TestPress_DebouncesWithin700ms(t *testing.T) {
	target := &fakeTarget{}
	g, clk := newGate(t, target)

	require.True(t, g.Press(context.Background()).Accepted())
	clk.Advance(500 * time.Millisecond)
	r := g.Press(context.Background())
	assert.Equal(t, IgnoredDebounce, r.Outcome)
	assert.Equal(t, int32(1), target.starts.Load())

	clk.Advance(200 * time.Millisecond)
	assert.True(t, g.Press(context.Background()).Accepted())
	assert.Equal(t, int32(2), target.starts.Load())
}

func TestPress_IgnoredWhileInFlight(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	g, clk := newGate(t, target)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Press(context.Background())
	}()
	require.Eventually(t, func() bool { return target.starts.Load() == 1 }, time.Second, time.Millisecond)

	clk.Advance(time.Second)
	assert.Equal(t, IgnoredInFlight, g.Press(context.Background()).Outcome)

	close(target.block)
	wg.Wait()

	// The flag stays set until the cooldown after Start returns.
	assert.Equal(t, IgnoredInFlight, g.Press(context.Background()).Outcome)
	clk.Advance(DefaultCooldown)
	assert.True(t, g.Press(context.Background()).Accepted())
}

func TestPress_IgnoredWhenConnected(t *testing.T) {
	target := &fakeTarget{}
	target.connected.Store(true)
	g, _ := newGate(t, target)

	assert.Equal(t, IgnoredConnected, g.Press(context.Background()).Outcome)
	assert.Equal(t, int32(0), target.starts.Load())
}

func TestPress_ReturnsStartError(t *testing.T) {
	target := &fakeTarget{err: errors.New("mic denied")}
	g, clk := newGate(t, target)

	r := g.Press(context.Background())
	assert.True(t, r.Accepted())
	assert.EqualError(t, r.Err, "mic denied")

	// A failed start still clears the in-flight flag after the cooldown.
	clk.Advance(DefaultDebounce)
	assert.True(t, g.Press(context.Background()).Accepted())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "in_flight", IgnoredInFlight.String())
	assert.Equal(t, "debounced", IgnoredDebounce.String())
	assert.Equal(t, "already_connected", IgnoredConnected.String())
}
