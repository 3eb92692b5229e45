package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-memoir/pkg/core"
	"github.com/vango-go/vai-memoir/pkg/live/protocol"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	eventBufferSize         = 64
)

// AudioSink receives decoded agent audio. Playback itself lives outside this package.
type AudioSink interface {
	PlayAudio(pcm []byte, volume float64)
}

// Options configures Dial.
type Options struct {
	// DynamicVariables are sent in the initiation frame (for example user_id).
	DynamicVariables map[string]string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Sink             AudioSink
	Logger           *slog.Logger
	Dialer           *websocket.Dialer
}

// Conn is one streaming connection to the conversational agent.
type Conn struct {
	conn           *websocket.Conn
	logger         *slog.Logger
	sink           AudioSink
	writeTimeout   time.Duration
	conversationID string

	events  chan Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	volume    atomic.Uint64

	errMu sync.Mutex
	err   error
}

// Dial opens the signed URL and completes the initiation handshake.
func Dial(ctx context.Context, signedURL string, opts Options) (*Conn, error) {
	signedURL = strings.TrimSpace(signedURL)
	if signedURL == "" {
		return nil, core.NewHandshakeError("signed url is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, signedURL, nil)
	if err != nil {
		if resp != nil {
			return nil, core.NewHandshakeError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewHandshakeError("websocket dial failed", err)
	}

	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(protocol.NewInitiationClientData(opts.DynamicVariables)); err != nil {
		_ = ws.Close()
		return nil, core.NewHandshakeError("send initiation data", err)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := dialCtx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	conversationID, err := awaitInitiation(ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &Conn{
		conn:           ws,
		logger:         logger,
		sink:           opts.Sink,
		writeTimeout:   writeTimeout,
		conversationID: conversationID,
		events:         make(chan Event, eventBufferSize),
		done:           make(chan struct{}),
		closing:        make(chan struct{}),
	}
	c.volume.Store(math.Float64bits(1))
	go c.readLoop()
	return c, nil
}

func awaitInitiation(ws *websocket.Conn) (string, error) {
	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			return "", core.NewHandshakeError("read initiation metadata", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeServerMessage(payload)
		if err != nil {
			return "", core.NewHandshakeError("decode initiation metadata", err)
		}
		switch m := msg.(type) {
		case protocol.InitiationMetadata:
			return m.Event.ConversationID, nil
		case protocol.ServerError:
			return "", core.NewHandshakeError(strings.TrimSpace(m.Event.Message), nil)
		case protocol.Ping:
			if err := ws.WriteJSON(protocol.NewPong(m.Event.EventID)); err != nil {
				return "", core.NewHandshakeError("send pong", err)
			}
		default:
			// Frames before the handshake completes carry nothing this client needs.
		}
	}
}

// ConversationID is the id assigned by the agent during the handshake.
func (c *Conn) ConversationID() string {
	if c == nil {
		return ""
	}
	return c.conversationID
}

// Events yields decoded frames. The channel closes when the connection ends.
func (c *Conn) Events() <-chan Event {
	if c == nil {
		return nil
	}
	return c.events
}

// SendToolResult answers a tool call.
func (c *Conn) SendToolResult(toolCallID, result string, isError bool) error {
	if c == nil {
		return fmt.Errorf("connection must not be nil")
	}
	return c.sendJSON(protocol.NewToolResult(toolCallID, result, isError))
}

// SetVolume sets the output volume applied to agent audio, in [0, 1].
func (c *Conn) SetVolume(v float64) error {
	if c == nil {
		return fmt.Errorf("connection must not be nil")
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("volume must be within [0, 1], got %v", v)
	}
	c.volume.Store(math.Float64bits(v))
	return nil
}

// Volume returns the current output volume.
func (c *Conn) Volume() float64 {
	if c == nil {
		return 0
	}
	return math.Float64frombits(c.volume.Load())
}

func (c *Conn) sendJSON(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("connection is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

// Close closes the websocket and waits for the read loop to exit.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Err returns the terminal read error, nil after a normal close.
func (c *Conn) Err() error {
	if c == nil {
		return nil
	}
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed once the read loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	agentOpen := false
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				c.logger.Warn("dropping malformed frame", "error", de.Error())
				continue
			}
			c.setErr(err)
			return
		}

		var event Event
		switch m := msg.(type) {
		case protocol.Ping:
			if err := c.sendJSON(protocol.NewPong(m.Event.EventID)); err != nil {
				c.logger.Warn("pong failed", "event_id", m.Event.EventID, "error", err)
			}
		case protocol.Audio:
			c.playAudio(m)
		case protocol.UserTranscript:
			agentOpen = false
			event = UserUtteranceEvent{Text: m.Event.UserTranscript}
		case protocol.AgentResponse:
			agentOpen = false
			event = AgentUtteranceEvent{Text: m.Event.AgentResponse}
		case protocol.TentativeResponse:
			event = TranscriptDeltaEvent{Role: "agent", Text: m.Event.TentativeAgentResponse, Continuation: agentOpen}
			agentOpen = true
		case protocol.ClientToolCall:
			event = ToolCallEvent{ID: m.Call.ToolCallID, Name: m.Call.ToolName, Parameters: m.Call.Parameters}
		case protocol.Interruption:
			agentOpen = false
			event = InterruptionEvent{EventID: m.Event.EventID}
		case protocol.ServerError:
			event = ErrorEvent{Message: m.Event.Message, Code: m.Event.Code}
		case protocol.InitiationMetadata:
		case protocol.Unknown:
			event = UnknownEvent{Type: m.Type, Raw: m.Raw}
		}
		if event != nil && !c.emit(event) {
			return
		}
	}
}

func (c *Conn) emit(event Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.closing:
		return false
	}
}

func (c *Conn) playAudio(m protocol.Audio) {
	if c.sink == nil || m.Event.AudioBase64 == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(m.Event.AudioBase64)
	if err != nil {
		c.logger.Warn("dropping undecodable audio", "event_id", m.Event.EventID, "error", err)
		return
	}
	c.sink.PlayAudio(pcm, c.Volume())
}
