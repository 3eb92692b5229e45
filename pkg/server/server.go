// Package server exposes the session controller to a browser UI over HTTP and a
// websocket notice feed.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-go/vai-memoir/pkg/core"
	"github.com/vango-go/vai-memoir/pkg/handoff"
	"github.com/vango-go/vai-memoir/pkg/live/gate"
	"github.com/vango-go/vai-memoir/pkg/live/session"
	"github.com/vango-go/vai-memoir/pkg/live/transcript"
)

const (
	defaultFeedBuffer   = 64
	defaultPingInterval = 30 * time.Second
	defaultEndTimeout   = 5 * time.Second
)

// Session is the controller surface the server drives.
type Session interface {
	End(ctx context.Context) error
	State() session.State
	RetryCount() int
	Transcript() []transcript.Message
	Subscribe(buffer int) (<-chan session.Notice, func())
}

// Trigger is the debounced start entry point.
type Trigger interface {
	Press(ctx context.Context) gate.Result
}

type HandoffFeed interface {
	Subscribe(buffer int) (<-chan handoff.Event, func())
}

type Options struct {
	Session  Session
	Trigger  Trigger
	Handoffs HandoffFeed  // optional
	Metrics  http.Handler // optional, mounted at /metrics

	// StaticDir serves a single-page app with index.html fallback when set.
	StaticDir string

	FeedBuffer   int
	PingInterval time.Duration
	EndTimeout   time.Duration
	Logger       *slog.Logger
}

type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router
}

func New(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, core.NewValidationError("session is required")
	}
	if opts.Trigger == nil {
		return nil, core.NewValidationError("trigger is required")
	}
	if opts.FeedBuffer <= 0 {
		opts.FeedBuffer = defaultFeedBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.EndTimeout <= 0 {
		opts.EndTimeout = defaultEndTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, logger: logger}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(s.logger), middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Post("/trigger", s.handleTrigger)
		r.Post("/end", s.handleEnd)
		r.Get("/events", s.handleEvents)
	})

	if s.opts.StaticDir != "" {
		r.NotFound(spaHandler(s.opts.StaticDir).ServeHTTP)
	} else {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusNotFound, &core.Error{Type: core.ErrValidation, Message: "not found", Code: "not_found"})
		})
	}
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, &core.Error{Type: core.ErrValidation, Message: "method not allowed", Code: "method_not_allowed"})
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

type snapshot struct {
	State      string               `json:"state"`
	RetryCount int                  `json:"retry_count"`
	Transcript []transcript.Message `json:"transcript"`
}

func (s *Server) snapshot() snapshot {
	return snapshot{
		State:      s.opts.Session.State().String(),
		RetryCount: s.opts.Session.RetryCount(),
		Transcript: s.opts.Session.Transcript(),
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

type triggerResponse struct {
	Outcome string      `json:"outcome"`
	State   string      `json:"state"`
	Error   *core.Error `json:"error,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	res := s.opts.Trigger.Press(r.Context())
	resp := triggerResponse{Outcome: res.Outcome.String()}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = asCoreError(res.Err)
		status = statusFor(resp.Error)
	}
	resp.State = s.opts.Session.State().String()
	writeJSON(w, status, resp)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.EndTimeout)
	defer cancel()
	if err := s.opts.Session.End(ctx); err != nil {
		ce := asCoreError(err)
		writeError(w, r, statusFor(ce), ce)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func asCoreError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &core.Error{Type: core.ErrState, Message: "request ended before the session settled", Cause: err}
	}
	return &core.Error{Type: core.ErrState, Message: err.Error(), Cause: err}
}

func statusFor(err *core.Error) int {
	switch err.Type {
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrCredential, core.ErrHandshake, core.ErrUnstable:
		return http.StatusBadGateway
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
