package transport

import "encoding/json"

// Event is a decoded frame emitted by Conn.Events().
type Event interface {
	eventType() string
}

// UserUtteranceEvent is a committed user transcript.
type UserUtteranceEvent struct{ Text string }

func (UserUtteranceEvent) eventType() string { return "user_utterance" }

// AgentUtteranceEvent is a complete agent response.
type AgentUtteranceEvent struct{ Text string }

func (AgentUtteranceEvent) eventType() string { return "agent_utterance" }

// TranscriptDeltaEvent carries an incremental fragment. Continuation marks a fragment that
// extends the previous one rather than starting a new message.
type TranscriptDeltaEvent struct {
	Role         string
	Text         string
	Continuation bool
}

func (TranscriptDeltaEvent) eventType() string { return "transcript_delta" }

// ToolCallEvent is a tool call the agent is waiting on.
type ToolCallEvent struct {
	ID         string
	Name       string
	Parameters map[string]any
}

func (ToolCallEvent) eventType() string { return "tool_call" }

type InterruptionEvent struct{ EventID int64 }

func (InterruptionEvent) eventType() string { return "interruption" }

type ErrorEvent struct {
	Message string
	Code    string
}

func (ErrorEvent) eventType() string { return "error" }

type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }
