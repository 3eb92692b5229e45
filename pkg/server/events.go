package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-memoir/pkg/handoff"
	"github.com/vango-go/vai-memoir/pkg/live/session"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedReadLimit    = 4 << 10
)

// Feed frame types.
const (
	FrameSnapshot = "snapshot"
	FrameNotice   = "notice"
	FrameHandoff  = "handoff"
)

type feedFrame struct {
	Type    string          `json:"type"`
	Session *snapshot       `json:"session,omitempty"`
	Notice  *session.Notice `json:"notice,omitempty"`
	Handoff *handoff.Event  `json:"handoff,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams a snapshot followed by every notice and handoff until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	notices, unsubscribe := s.opts.Session.Subscribe(s.opts.FeedBuffer)
	defer unsubscribe()

	var handoffs <-chan handoff.Event
	if s.opts.Handoffs != nil {
		ch, stop := s.opts.Handoffs.Subscribe(s.opts.FeedBuffer)
		defer stop()
		handoffs = ch
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(feedReadLimit)

	reqID, _ := RequestIDFrom(r.Context())
	logger := s.logger.With("request_id", reqID)

	// Client frames are ignored; reading surfaces close and keeps pong handling alive.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f feedFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteJSON(f); err != nil {
			logger.Debug("event feed write failed", "error", err)
			return false
		}
		return true
	}

	snap := s.snapshot()
	if !write(feedFrame{Type: FrameSnapshot, Session: &snap}) {
		return
	}

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(feedWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(feedWriteTimeout)); err != nil {
				return
			}
		case n, ok := <-notices:
			if !ok {
				return
			}
			if !write(feedFrame{Type: FrameNotice, Notice: &n}) {
				return
			}
		case ev, ok := <-handoffs:
			if !ok {
				handoffs = nil
				continue
			}
			if !write(feedFrame{Type: FrameHandoff, Handoff: &ev}) {
				return
			}
		}
	}
}
