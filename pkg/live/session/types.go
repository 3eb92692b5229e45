package session

import (
	"context"
	"errors"
	"time"

	"github.com/vango-go/vai-memoir/pkg/core"
	"github.com/vango-go/vai-memoir/pkg/live/transport"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyActive = core.NewStateError("session is already connecting or connected")
	ErrStopped       = core.NewStateError("session controller is not running")
	ErrEnded         = core.NewStateError("session ended before it connected")
)

// Stream is one live connection to the agent.
type Stream interface {
	// Events closes when the connection ends.
	Events() <-chan transport.Event
	SendToolResult(toolCallID, result string, isError bool) error
	SetVolume(v float64) error
	// Err is the terminal read error once Events has closed, nil for a clean close.
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, signedURL string) (Stream, error)
}

type DialFunc func(ctx context.Context, signedURL string) (Stream, error)

func (f DialFunc) Dial(ctx context.Context, signedURL string) (Stream, error) { return f(ctx, signedURL) }

// TransportDialer dials real websocket connections.
func TransportDialer(opts transport.Options) Dialer {
	return DialFunc(func(ctx context.Context, signedURL string) (Stream, error) {
		conn, err := transport.Dial(ctx, signedURL, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

type CredentialIssuer interface {
	SignedURL(ctx context.Context, userID, agentID string) (string, error)
}

// Microphone grants or denies local audio capture before a session starts.
type Microphone interface {
	Request(ctx context.Context) error
}

type MicrophoneFunc func(ctx context.Context) error

func (f MicrophoneFunc) Request(ctx context.Context) error { return f(ctx) }

// AlwaysGranted is used when capture happens outside this process.
var AlwaysGranted Microphone = MicrophoneFunc(func(context.Context) error { return nil })

// Metrics receives controller lifecycle observations.
type Metrics interface {
	StateChanged(s State)
	ConnectFinished(outcome string, elapsed time.Duration)
	Disconnected(action string)
	RetryScheduled(attempt int)
}

type NoticeKind string

const (
	NoticeState      NoticeKind = "state"
	NoticeTranscript NoticeKind = "transcript"
	NoticeRetry      NoticeKind = "retry_scheduled"
	NoticeFailure    NoticeKind = "failure"
	NoticeDisconnect NoticeKind = "disconnected"
	NoticeStoreError NoticeKind = "store_error"
)

// Notice is a UI-facing notification from the controller.
type Notice struct {
	Kind      NoticeKind     `json:"kind"`
	State     State          `json:"-"`
	StateName string         `json:"state,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Delay     time.Duration  `json:"-"`
	DelayMS   int64          `json:"delay_ms,omitempty"`
	ErrorType core.ErrorType `json:"error_type,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	At        time.Time      `json:"at"`
	Err       error          `json:"-"`
}

func failureNotice(err error) Notice {
	n := Notice{Kind: NoticeFailure, Err: err, ErrorType: core.TypeOf(err)}
	var ce *core.Error
	if errors.As(err, &ce) {
		n.Message = ce.Message
		n.Code = ce.Code
	} else if err != nil {
		n.Message = err.Error()
	}
	return n
}
