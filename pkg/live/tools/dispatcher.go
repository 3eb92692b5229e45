// Package tools answers the memory tool calls a live agent issues mid-conversation.
// Every call yields a plain string the agent can relay; failures never cross the
// tool boundary as errors.
package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vango-go/vai-memoir/pkg/core"
	"github.com/vango-go/vai-memoir/pkg/handoff"
	"github.com/vango-go/vai-memoir/pkg/live/clock"
	"github.com/vango-go/vai-memoir/pkg/memory"
)

const (
	DefaultHandoffDelay = 2 * time.Second
	DefaultRate         = rate.Limit(5)
	DefaultBurst        = 10
	handoffTimeout      = 5 * time.Second
)

// Outcomes recorded per call.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid"
	OutcomeNotFound    = "not_found"
	OutcomeStoreError  = "store_error"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnknownTool = "unknown_tool"
)

type Request struct {
	ID         string
	Name       string
	Parameters map[string]any
}

// Reporter receives store failures out of band, for the user rather than the agent.
type Reporter interface {
	ReportStoreError(tool string, err error)
}

type ReporterFunc func(tool string, err error)

func (f ReporterFunc) ReportStoreError(tool string, err error) { f(tool, err) }

type Observer interface {
	ObserveToolCall(tool, outcome string, elapsed time.Duration)
}

type Options struct {
	Store        memory.Store
	UserID       string
	Reporter     Reporter
	Handoff      handoff.Publisher
	HandoffDelay time.Duration
	// Rate and Burst size the token bucket shared by all calls from the session.
	Rate     rate.Limit
	Burst    int
	Clock    clock.Clock
	Observer Observer
	Logger   *slog.Logger
}

type Dispatcher struct {
	store        memory.Store
	userID       string
	reporter     Reporter
	handoff      handoff.Publisher
	handoffDelay time.Duration
	limiter      *rate.Limiter
	clock        clock.Clock
	observer     Observer
	logger       *slog.Logger
}

func New(opts Options) *Dispatcher {
	if opts.HandoffDelay <= 0 {
		opts.HandoffDelay = DefaultHandoffDelay
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		store:        opts.Store,
		userID:       opts.UserID,
		reporter:     opts.Reporter,
		handoff:      opts.Handoff,
		handoffDelay: opts.HandoffDelay,
		limiter:      rate.NewLimiter(opts.Rate, opts.Burst),
		clock:        opts.Clock,
		observer:     opts.Observer,
		logger:       opts.Logger,
	}
}

// Dispatch runs one tool call and returns the text for the agent. It is safe for
// concurrent use; concurrent calls are not ordered relative to each other.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) string {
	start := d.clock.Now()
	name := strings.TrimSpace(req.Name)
	result, outcome := d.dispatch(ctx, name, req.Parameters)
	elapsed := d.clock.Now().Sub(start)
	if d.observer != nil {
		d.observer.ObserveToolCall(name, outcome, elapsed)
	}
	d.logger.Debug("tool call handled",
		"tool", name,
		"tool_call_id", req.ID,
		"outcome", outcome,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, params map[string]any) (string, string) {
	call, err := ParseCall(name, params)
	if err != nil {
		var unknown *UnknownToolError
		if errors.As(err, &unknown) {
			return formatUnknown(unknown.Name), OutcomeUnknownTool
		}
		var perr *ParamError
		if errors.As(err, &perr) {
			return formatParamError(perr), OutcomeInvalid
		}
		return formatUnknown(name), OutcomeUnknownTool
	}

	if !d.limiter.AllowN(d.clock.Now(), 1) {
		return msgRateLimited, OutcomeRateLimited
	}
	if d.store == nil {
		d.report(name, core.NewStoreError(name, errors.New("memory store is not configured")))
		return msgStoreFailure, OutcomeStoreError
	}

	switch c := call.(type) {
	case SaveMemoryCall:
		return d.save(ctx, c)
	case RetrieveMemoryCall:
		return d.retrieve(ctx, c)
	case GetMemoryDetailsCall:
		return d.details(ctx, c)
	default:
		return formatUnknown(name), OutcomeUnknownTool
	}
}

func (d *Dispatcher) save(ctx context.Context, c SaveMemoryCall) (string, string) {
	rec, err := d.store.Create(ctx, memory.Record{
		UserID:     d.userID,
		Title:      c.Title,
		Content:    c.Content,
		Tags:       c.Tags,
		OccurredOn: c.OccurredOn,
		Location:   c.Location,
	})
	if err != nil {
		d.report(ToolSaveMemory, core.NewStoreError("save memory", err))
		return msgStoreFailure, OutcomeStoreError
	}
	if c.RawDate != "" && c.OccurredOn == nil {
		d.logger.Info("memory date not recognized", "tool", ToolSaveMemory, "memory_date", c.RawDate)
	}
	d.scheduleHandoff(handoff.Event{MemoryID: rec.ID, Title: rec.Title, UserID: d.userID})
	return formatSaved(rec), OutcomeOK
}

func (d *Dispatcher) retrieve(ctx context.Context, c RetrieveMemoryCall) (string, string) {
	recs, err := d.store.Search(ctx, d.userID, memory.Query{Text: c.Query, Limit: c.Limit})
	if err != nil {
		d.report(ToolRetrieveMemory, core.NewStoreError("search memories", err))
		return msgStoreFailure, OutcomeStoreError
	}
	return formatSummaries(c.Query, recs), OutcomeOK
}

func (d *Dispatcher) details(ctx context.Context, c GetMemoryDetailsCall) (string, string) {
	rec, err := d.store.Get(ctx, d.userID, c.MemoryID)
	if errors.Is(err, memory.ErrNotFound) {
		return formatNotFound(c.MemoryID), OutcomeNotFound
	}
	if err != nil {
		d.report(ToolGetMemoryDetails, core.NewStoreError("load memory", err))
		return msgStoreFailure, OutcomeStoreError
	}
	return formatDetails(rec), OutcomeOK
}

// scheduleHandoff publishes ev after the handoff delay so the agent can finish its
// confirmation before the UI navigates.
func (d *Dispatcher) scheduleHandoff(ev handoff.Event) {
	if d.handoff == nil {
		return
	}
	d.clock.AfterFunc(d.handoffDelay, func() {
		ev.At = d.clock.Now().UTC()
		ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
		defer cancel()
		if err := d.handoff.Publish(ctx, ev); err != nil {
			d.logger.Warn("handoff publish failed", "memory_id", ev.MemoryID, "error", err)
		}
	})
}

func (d *Dispatcher) report(tool string, err error) {
	d.logger.Error("memory store error", "tool", tool, "error", err)
	if d.reporter != nil {
		d.reporter.ReportStoreError(tool, err)
	}
}
