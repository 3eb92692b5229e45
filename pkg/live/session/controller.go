// Package session owns the lifecycle of one live voice session: credential exchange,
// connect with timeout, transcript folding, tool dispatch and automatic reconnects.
//
// All mutable state belongs to the goroutine running Controller.Run. Commands, stream
// events, attempt results and timer firings reach it through a single inbox.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-memoir/pkg/broadcast"
	"github.com/vango-go/vai-memoir/pkg/core"
	"github.com/vango-go/vai-memoir/pkg/live/clock"
	"github.com/vango-go/vai-memoir/pkg/live/retry"
	"github.com/vango-go/vai-memoir/pkg/live/tools"
	"github.com/vango-go/vai-memoir/pkg/live/transcript"
	"github.com/vango-go/vai-memoir/pkg/live/transport"
)

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultOutputVolume   = 0.8
	defaultNoticeBuffer   = 64
	inboxSize             = 128
)

type Config struct {
	UserID         string
	AgentID        string
	ConnectTimeout time.Duration
	OutputVolume   float64
	Retry          retry.Config
	NoticeBuffer   int
}

type Deps struct {
	Issuer     CredentialIssuer
	Dialer     Dialer
	Microphone Microphone
	// Tools configures the dispatcher; UserID, Reporter and Clock are filled in by
	// the controller.
	Tools   tools.Options
	Clock   clock.Clock
	Metrics Metrics
	Logger  *slog.Logger
}

type Controller struct {
	cfg        Config
	issuer     CredentialIssuer
	dialer     Dialer
	microphone Microphone
	dispatcher *tools.Dispatcher
	clock      clock.Clock
	metrics    Metrics
	logger     *slog.Logger

	inbox   chan any
	running atomic.Bool
	stopped chan struct{}

	transcript *transcript.Aggregator
	notices    *broadcast.Hub[Notice]
	defaultMu  sync.Mutex
	defaultSub <-chan Notice

	state      atomic.Int32
	retryCount atomic.Int32

	// Owned by the Run goroutine.
	policy  *retry.Policy
	runCtx  context.Context
	attempt *attempt
	live    *liveStream
	retryID uint64
	pending clock.Timer
	seq     uint64
}

type attempt struct {
	id        uint64
	isRetry   bool
	startedAt time.Time
	cancel    context.CancelFunc
	timeout   clock.Timer
	reply     chan error
}

type liveStream struct {
	id        uint64
	sessionID string
	stream    Stream
}

type (
	startCmd struct {
		isRetry bool
		reply   chan error
	}
	endCmd struct {
		reply chan struct{}
	}
	attemptResult struct {
		id     uint64
		stream Stream
		err    error
	}
	attemptTimeout struct{ id uint64 }
	streamEvent    struct {
		id    uint64
		event transport.Event
	}
	streamClosed struct {
		id  uint64
		err error
	}
	retryFire   struct{ id uint64 }
	storeReport struct {
		tool string
		err  error
	}
)

func New(cfg Config, deps Deps) (*Controller, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, core.NewValidationError("user id is required")
	}
	if deps.Issuer == nil {
		return nil, core.NewValidationError("credential issuer is required")
	}
	if deps.Dialer == nil {
		return nil, core.NewValidationError("dialer is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.OutputVolume <= 0 || cfg.OutputVolume > 1 {
		cfg.OutputVolume = DefaultOutputVolume
	}
	if cfg.NoticeBuffer <= 0 {
		cfg.NoticeBuffer = defaultNoticeBuffer
	}
	if deps.Microphone == nil {
		deps.Microphone = AlwaysGranted
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Controller{
		cfg:        cfg,
		issuer:     deps.Issuer,
		dialer:     deps.Dialer,
		microphone: deps.Microphone,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With("user_id", cfg.UserID),
		inbox:      make(chan any, inboxSize),
		stopped:    make(chan struct{}),
		transcript: transcript.New(),
		notices:    broadcast.New[Notice](),
		policy:     retry.New(cfg.Retry),
	}

	toolOpts := deps.Tools
	toolOpts.UserID = cfg.UserID
	toolOpts.Reporter = tools.ReporterFunc(c.reportStoreError)
	toolOpts.Clock = deps.Clock
	if toolOpts.Logger == nil {
		toolOpts.Logger = c.logger
	}
	c.dispatcher = tools.New(toolOpts)
	return c, nil
}

// Run processes the inbox until ctx is done. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session controller already running")
	}
	defer close(c.stopped)
	c.runCtx = ctx
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

// Start opens a session and blocks until the attempt connects or fails.
func (c *Controller) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, startCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// End closes the active session, suppresses any scheduled reconnect and clears the
// transcript. It is a no-op for an idle controller.
func (c *Controller) End(ctx context.Context) error {
	reply := make(chan struct{})
	if err := c.send(ctx, endCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) IsConnected() bool { return c.State() == StateConnected }

func (c *Controller) RetryCount() int { return int(c.retryCount.Load()) }

func (c *Controller) Transcript() []transcript.Message { return c.transcript.Messages() }

// Notices is the controller's default notice subscription, opened on first call.
// Notices are dropped when its buffer is full.
func (c *Controller) Notices() <-chan Notice {
	c.defaultMu.Lock()
	defer c.defaultMu.Unlock()
	if c.defaultSub == nil {
		c.defaultSub, _ = c.notices.Subscribe(c.cfg.NoticeBuffer)
	}
	return c.defaultSub
}

// Subscribe adds an independent notice subscription.
func (c *Controller) Subscribe(buffer int) (<-chan Notice, func()) {
	return c.notices.Subscribe(buffer)
}

func (c *Controller) send(ctx context.Context, msg any) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// post delivers a message from a helper goroutine or timer. It gives up once the
// controller has stopped.
func (c *Controller) post(msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) reportStoreError(tool string, err error) {
	c.post(storeReport{tool: tool, err: err})
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case startCmd:
		c.handleStart(m)
	case endCmd:
		c.handleEnd(m)
	case attemptResult:
		c.handleAttemptResult(m)
	case attemptTimeout:
		c.handleAttemptTimeout(m)
	case streamEvent:
		c.handleStreamEvent(m)
	case streamClosed:
		c.handleStreamClosed(m)
	case retryFire:
		c.handleRetryFire(m)
	case storeReport:
		n := failureNotice(m.err)
		n.Kind = NoticeStoreError
		n.Tool = m.tool
		c.notify(n)
	}
}

func (c *Controller) handleStart(cmd startCmd) {
	if c.State() != StateIdle {
		c.reply(cmd.reply, ErrAlreadyActive)
		return
	}
	c.cancelRetry()
	if !cmd.isRetry {
		c.policy.Reset()
		c.syncRetryCount()
	}
	c.beginAttempt(cmd.isRetry, cmd.reply)
}

func (c *Controller) beginAttempt(isRetry bool, reply chan error) {
	c.seq++
	ctx, cancel := context.WithCancel(c.runCtx)
	a := &attempt{
		id:        c.seq,
		isRetry:   isRetry,
		startedAt: c.clock.Now(),
		cancel:    cancel,
		reply:     reply,
	}
	id := a.id
	a.timeout = c.clock.AfterFunc(c.cfg.ConnectTimeout, func() { c.post(attemptTimeout{id: id}) })
	c.attempt = a
	c.setState(StateConnecting)
	c.logger.Info("session connecting", "attempt", id, "retry", isRetry, "retry_count", c.policy.RetryCount())

	go func() {
		stream, err := c.connect(ctx)
		if !c.post(attemptResult{id: id, stream: stream, err: err}) && stream != nil {
			_ = stream.Close()
		}
	}()
}

func (c *Controller) connect(ctx context.Context) (Stream, error) {
	if err := c.microphone.Request(ctx); err != nil {
		if core.IsType(err, core.ErrPermission) {
			return nil, err
		}
		return nil, core.NewPermissionError("microphone access denied", err)
	}
	signedURL, err := c.issuer.SignedURL(ctx, c.cfg.UserID, c.cfg.AgentID)
	if err != nil {
		if core.TypeOf(err) != "" {
			return nil, err
		}
		return nil, core.NewCredentialError("signed url request failed", err)
	}
	stream, err := c.dialer.Dial(ctx, signedURL)
	if err != nil {
		if core.TypeOf(err) != "" {
			return nil, err
		}
		return nil, core.NewHandshakeError("connect failed", err)
	}
	if stream == nil {
		return nil, core.NewHandshakeError("dialer returned no stream", nil)
	}
	return stream, nil
}

func (c *Controller) handleAttemptResult(m attemptResult) {
	a := c.attempt
	if a == nil || a.id != m.id || c.State() != StateConnecting {
		if m.stream != nil {
			c.logger.Debug("discarding stale connection", "attempt", m.id)
			_ = m.stream.Close()
		}
		return
	}
	c.attempt = nil
	a.timeout.Stop()
	a.cancel()
	elapsed := c.clock.Now().Sub(a.startedAt)

	if m.err != nil {
		c.observeConnect(string(core.TypeOf(m.err)), elapsed)
		c.logger.Warn("session connect failed", "attempt", a.id, "elapsed_ms", elapsed.Milliseconds(), "error", m.err)
		c.setState(StateIdle)
		c.notify(failureNotice(m.err))
		c.reply(a.reply, m.err)
		return
	}

	c.observeConnect("ok", elapsed)
	c.policy.Connected(c.clock.Now())
	if err := m.stream.SetVolume(c.cfg.OutputVolume); err != nil {
		c.logger.Warn("set output volume failed", "error", err)
	}
	ls := &liveStream{id: a.id, sessionID: uuid.NewString(), stream: m.stream}
	c.live = ls
	go c.pump(ls)

	c.logger.Info("session connected", "session_id", ls.sessionID, "attempt", a.id, "elapsed_ms", elapsed.Milliseconds())
	c.setState(StateConnected)
	c.reply(a.reply, nil)
}

func (c *Controller) handleAttemptTimeout(m attemptTimeout) {
	a := c.attempt
	if a == nil || a.id != m.id || c.State() != StateConnecting {
		return
	}
	c.attempt = nil
	a.cancel()
	err := core.NewHandshakeError("connection timed out", nil)
	c.observeConnect("timeout", c.cfg.ConnectTimeout)
	c.logger.Warn("session connect timed out", "attempt", a.id, "timeout_ms", c.cfg.ConnectTimeout.Milliseconds())
	c.setState(StateIdle)
	c.notify(failureNotice(err))
	c.reply(a.reply, err)
}

func (c *Controller) pump(ls *liveStream) {
	for ev := range ls.stream.Events() {
		if !c.post(streamEvent{id: ls.id, event: ev}) {
			return
		}
	}
	c.post(streamClosed{id: ls.id, err: ls.stream.Err()})
}

func (c *Controller) handleStreamEvent(m streamEvent) {
	ls := c.live
	if ls == nil || ls.id != m.id {
		return
	}
	switch ev := m.event.(type) {
	case transport.UserUtteranceEvent:
		c.transcript.AppendUtterance(transcript.RoleUser, ev.Text)
		c.notify(Notice{Kind: NoticeTranscript})
	case transport.AgentUtteranceEvent:
		c.transcript.AppendUtterance(transcript.RoleAgent, ev.Text)
		c.notify(Notice{Kind: NoticeTranscript})
	case transport.TranscriptDeltaEvent:
		role := transcript.RoleAgent
		if ev.Role == string(transcript.RoleUser) {
			role = transcript.RoleUser
		}
		c.transcript.AppendDelta(role, ev.Text, ev.Continuation)
		c.notify(Notice{Kind: NoticeTranscript})
	case transport.ToolCallEvent:
		go c.runTool(ls, ev)
	case transport.ErrorEvent:
		c.logger.Warn("agent reported error", "session_id", ls.sessionID, "code", ev.Code, "message", ev.Message)
		c.notify(failureNotice(core.NewAgentError(ev.Code, ev.Message)))
	case transport.InterruptionEvent:
		c.logger.Debug("agent interrupted", "session_id", ls.sessionID, "event_id", ev.EventID)
	case transport.UnknownEvent:
		c.logger.Debug("ignoring unknown event", "session_id", ls.sessionID, "type", ev.Type)
	}
}

func (c *Controller) runTool(ls *liveStream, ev transport.ToolCallEvent) {
	result := c.dispatcher.Dispatch(c.runCtx, tools.Request{ID: ev.ID, Name: ev.Name, Parameters: ev.Parameters})
	if err := ls.stream.SendToolResult(ev.ID, result, false); err != nil {
		c.logger.Warn("send tool result failed", "session_id", ls.sessionID, "tool", ev.Name, "tool_call_id", ev.ID, "error", err)
	}
}

func (c *Controller) handleStreamClosed(m streamClosed) {
	ls := c.live
	if ls == nil || ls.id != m.id || c.State() != StateConnected {
		return
	}
	c.live = nil
	_ = ls.stream.Close()

	decision := c.policy.Disconnected(c.clock.Now())
	c.syncRetryCount()
	c.observeDisconnect(decision.Action.String())
	c.logger.Info("session disconnected",
		"session_id", ls.sessionID,
		"elapsed_ms", decision.Elapsed.Milliseconds(),
		"action", decision.Action.String(),
		"retry_count", c.policy.RetryCount(),
		"error", m.err,
	)
	c.setState(StateIdle)

	switch decision.Action {
	case retry.ActionRetry:
		c.scheduleRetry(decision)
	case retry.ActionUnstable:
		c.notify(failureNotice(core.NewUnstableError(c.policy.RetryCount())))
	default:
		n := Notice{Kind: NoticeDisconnect}
		if m.err != nil {
			n.Message = m.err.Error()
		}
		c.notify(n)
	}
}

func (c *Controller) scheduleRetry(d retry.Decision) {
	c.retryID++
	id := c.retryID
	c.pending = c.clock.AfterFunc(d.Delay, func() { c.post(retryFire{id: id}) })
	if c.metrics != nil {
		c.metrics.RetryScheduled(d.Attempt)
	}
	c.notify(Notice{Kind: NoticeRetry, Attempt: d.Attempt, Delay: d.Delay, DelayMS: d.Delay.Milliseconds()})
}

func (c *Controller) cancelRetry() {
	if c.pending == nil {
		return
	}
	c.pending.Stop()
	c.pending = nil
	c.retryID++
}

func (c *Controller) handleRetryFire(m retryFire) {
	if c.pending == nil || m.id != c.retryID {
		return
	}
	c.pending = nil
	if c.State() != StateIdle {
		return
	}
	c.beginAttempt(true, nil)
}

func (c *Controller) handleEnd(cmd endCmd) {
	defer close(cmd.reply)
	c.cancelRetry()
	switch c.State() {
	case StateIdle, StateEnding:
		return
	}
	c.setState(StateEnding)

	if a := c.attempt; a != nil {
		c.attempt = nil
		a.timeout.Stop()
		a.cancel()
		c.reply(a.reply, ErrEnded)
	}
	if ls := c.live; ls != nil {
		c.live = nil
		decision := c.policy.Ended(c.clock.Now())
		c.syncRetryCount()
		c.logger.Info("session ended",
			"session_id", ls.sessionID,
			"elapsed_ms", decision.Elapsed.Milliseconds(),
			"action", decision.Action.String(),
		)
		_ = ls.stream.Close()
	}
	c.transcript.Clear()
	c.setState(StateIdle)
}

func (c *Controller) shutdown() {
	c.cancelRetry()
	if a := c.attempt; a != nil {
		c.attempt = nil
		a.timeout.Stop()
		a.cancel()
		c.reply(a.reply, ErrStopped)
	}
	if ls := c.live; ls != nil {
		c.live = nil
		_ = ls.stream.Close()
	}
	for {
		select {
		case msg := <-c.inbox:
			if r, ok := msg.(attemptResult); ok && r.stream != nil {
				_ = r.stream.Close()
			}
			if s, ok := msg.(startCmd); ok {
				c.reply(s.reply, ErrStopped)
			}
			continue
		default:
		}
		break
	}
	c.state.Store(int32(StateIdle))
	c.notices.Close()
}

func (c *Controller) reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (c *Controller) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.metrics != nil {
		c.metrics.StateChanged(s)
	}
	c.notify(Notice{Kind: NoticeState, State: s, StateName: s.String()})
}

func (c *Controller) syncRetryCount() {
	c.retryCount.Store(int32(c.policy.RetryCount()))
}

func (c *Controller) notify(n Notice) {
	if n.At.IsZero() {
		n.At = c.clock.Now().UTC()
	}
	if n.StateName == "" && n.Kind == NoticeState {
		n.StateName = n.State.String()
	}
	c.notices.Send(n)
}

func (c *Controller) observeConnect(outcome string, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.ConnectFinished(outcome, elapsed)
	}
}

func (c *Controller) observeDisconnect(action string) {
	if c.metrics != nil {
		c.metrics.Disconnected(action)
	}
}
