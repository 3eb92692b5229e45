// Package gate guards the single user-facing start control against duplicate
// activations.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-memoir/pkg/live/clock"
)

const (
	DefaultDebounce = 700 * time.Millisecond
	DefaultCooldown = 400 * time.Millisecond
)

// Target is the session the gate starts.
type Target interface {
	Start(ctx context.Context) error
	IsConnected() bool
}

type Outcome int

const (
	Accepted Outcome = iota
	IgnoredInFlight
	IgnoredDebounce
	IgnoredConnected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case IgnoredInFlight:
		return "in_flight"
	case IgnoredDebounce:
		return "debounced"
	case IgnoredConnected:
		return "already_connected"
	default:
		return "unknown"
	}
}

// Result reports what a press did. Err is the Start error for accepted presses.
type Result struct {
	Outcome Outcome
	Err     error
}

func (r Result) Accepted() bool { return r.Outcome == Accepted }

type Config struct {
	Debounce time.Duration
	Cooldown time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

type Gate struct {
	target   Target
	debounce time.Duration
	cooldown time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	inFlight     bool
	lastAccepted time.Time
}

func New(target Target, cfg Config) *Gate {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		target:   target,
		debounce: cfg.Debounce,
		cooldown: cfg.Cooldown,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Press starts the session unless a start is in flight, the previous accepted press
// was within the debounce window, or the session is already connected. An accepted
// press blocks until Start returns.
func (g *Gate) Press(ctx context.Context) Result {
	g.mu.Lock()
	now := g.clock.Now()
	switch {
	case g.inFlight:
		g.mu.Unlock()
		return g.ignore(IgnoredInFlight)
	case !g.lastAccepted.IsZero() && now.Sub(g.lastAccepted) < g.debounce:
		g.mu.Unlock()
		return g.ignore(IgnoredDebounce)
	case g.target.IsConnected():
		g.mu.Unlock()
		return g.ignore(IgnoredConnected)
	}
	g.inFlight = true
	g.lastAccepted = now
	g.mu.Unlock()

	err := g.target.Start(ctx)
	g.clock.AfterFunc(g.cooldown, func() {
		g.mu.Lock()
		g.inFlight = false
		g.mu.Unlock()
	})
	return Result{Outcome: Accepted, Err: err}
}

func (g *Gate) ignore(o Outcome) Result {
	g.logger.Debug("trigger press ignored", "reason", o.String())
	return Result{Outcome: o}
}
