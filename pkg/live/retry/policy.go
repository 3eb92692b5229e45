// Package retry decides whether a dropped voice session reconnects on its own.
//
// The agent handshake is flaky for a few seconds after connect and reliable once a
// session has been up for a while, so only disconnects inside the early window are
// retried, and a session that stayed up past the stable threshold earns a fresh
// retry budget. Disconnects between the two thresholds are neither retried nor reset.
package retry

import "time"

const (
	DefaultEarlyDisconnect = 3000 * time.Millisecond
	DefaultStableSession   = 8000 * time.Millisecond
	DefaultBackoffStep     = 400 * time.Millisecond
	DefaultMaxRetries      = 3
)

type Config struct {
	EarlyDisconnect time.Duration
	StableSession   time.Duration
	BackoffStep     time.Duration
	MaxRetries      int
}

func DefaultConfig() Config {
	return Config{
		EarlyDisconnect: DefaultEarlyDisconnect,
		StableSession:   DefaultStableSession,
		BackoffStep:     DefaultBackoffStep,
		MaxRetries:      DefaultMaxRetries,
	}
}

type Action int

const (
	// ActionNone is a neutral disconnect: reported, not retried, budget untouched.
	ActionNone Action = iota
	ActionRetry
	ActionUnstable
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionUnstable:
		return "unstable"
	case ActionReset:
		return "reset"
	default:
		return "none"
	}
}

// Decision is the outcome of one disconnect.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Attempt int
	Elapsed time.Duration
}

// Policy holds the retry context for one controller. It is not safe for concurrent
// use; the session actor is its only caller.
type Policy struct {
	cfg             Config
	retryCount      int
	lastConnectedAt time.Time
}

func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.EarlyDisconnect <= 0 {
		cfg.EarlyDisconnect = def.EarlyDisconnect
	}
	if cfg.StableSession <= 0 {
		cfg.StableSession = def.StableSession
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = def.BackoffStep
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Policy{cfg: cfg}
}

// Connected records a successful handshake.
func (p *Policy) Connected(at time.Time) {
	p.lastConnectedAt = at
}

// Disconnected evaluates a disconnect the user did not ask for.
func (p *Policy) Disconnected(at time.Time) Decision {
	if p.lastConnectedAt.IsZero() {
		return Decision{Action: ActionNone, Attempt: p.retryCount}
	}
	elapsed := at.Sub(p.lastConnectedAt)
	switch {
	case elapsed < p.cfg.EarlyDisconnect && p.retryCount < p.cfg.MaxRetries:
		p.retryCount++
		return Decision{
			Action:  ActionRetry,
			Delay:   p.cfg.BackoffStep * time.Duration(p.retryCount),
			Attempt: p.retryCount,
			Elapsed: elapsed,
		}
	case elapsed < p.cfg.EarlyDisconnect:
		return Decision{Action: ActionUnstable, Attempt: p.retryCount, Elapsed: elapsed}
	case elapsed >= p.cfg.StableSession:
		p.retryCount = 0
		return Decision{Action: ActionReset, Elapsed: elapsed}
	default:
		return Decision{Action: ActionNone, Attempt: p.retryCount, Elapsed: elapsed}
	}
}

// Ended evaluates an explicit end. It never retries; a stable session still resets
// the budget.
func (p *Policy) Ended(at time.Time) Decision {
	if p.lastConnectedAt.IsZero() {
		return Decision{Action: ActionNone, Attempt: p.retryCount}
	}
	elapsed := at.Sub(p.lastConnectedAt)
	if elapsed >= p.cfg.StableSession {
		p.retryCount = 0
		return Decision{Action: ActionReset, Elapsed: elapsed}
	}
	return Decision{Action: ActionNone, Attempt: p.retryCount, Elapsed: elapsed}
}

// Reset clears the budget. Called when the user starts a session by hand.
func (p *Policy) Reset() {
	p.retryCount = 0
	p.lastConnectedAt = time.Time{}
}

func (p *Policy) RetryCount() int {
	return p.retryCount
}

func (p *Policy) LastConnectedAt() time.Time {
	return p.lastConnectedAt
}
