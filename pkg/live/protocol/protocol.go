package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeInitiationMetadata = "conversation_initiation_metadata"
	TypeUserTranscript     = "user_transcript"
	TypeAgentResponse      = "agent_response"
	TypeTentativeResponse  = "internal_tentative_agent_response"
	TypeClientToolCall     = "client_tool_call"
	TypePing               = "ping"
	TypeInterruption       = "interruption"
	TypeAudio              = "audio"
	TypeError              = "error"

	TypeInitiationClientData = "conversation_initiation_client_data"
	TypeClientToolResult     = "client_tool_result"
	TypePong                 = "pong"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// InitiationMetadata is the handshake frame; receiving it means the session is connected.
type InitiationMetadata struct {
	Type  string `json:"type"`
	Event struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format,omitempty"`
		UserInputAudioFormat   string `json:"user_input_audio_format,omitempty"`
	} `json:"conversation_initiation_metadata_event"`
}

type UserTranscript struct {
	Type  string `json:"type"`
	Event struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
}

type AgentResponse struct {
	Type  string `json:"type"`
	Event struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
}

// TentativeResponse carries an incremental agent transcript fragment.
type TentativeResponse struct {
	Type  string `json:"type"`
	Event struct {
		TentativeAgentResponse string `json:"tentative_agent_response"`
	} `json:"tentative_agent_response_internal_event"`
}

type ClientToolCall struct {
	Type string `json:"type"`
	Call struct {
		ToolName   string         `json:"tool_name"`
		ToolCallID string         `json:"tool_call_id"`
		Parameters map[string]any `json:"parameters"`
	} `json:"client_tool_call"`
}

type Ping struct {
	Type  string `json:"type"`
	Event struct {
		EventID int64 `json:"event_id"`
		PingMS  int64 `json:"ping_ms,omitempty"`
	} `json:"ping_event"`
}

type Interruption struct {
	Type  string `json:"type"`
	Event struct {
		EventID int64 `json:"event_id"`
	} `json:"interruption_event"`
}

type Audio struct {
	Type  string `json:"type"`
	Event struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event"`
}

type ServerError struct {
	Type  string `json:"type"`
	Event struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	} `json:"error_event"`
}

// Unknown preserves frames of a type this client does not model.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

// InitiationClientData is the first client frame after the socket opens.
type InitiationClientData struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type ClientToolResult struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

type Pong struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

func NewToolResult(toolCallID, result string, isError bool) ClientToolResult {
	return ClientToolResult{
		Type:       TypeClientToolResult,
		ToolCallID: strings.TrimSpace(toolCallID),
		Result:     result,
		IsError:    isError,
	}
}

func NewPong(eventID int64) Pong {
	return Pong{Type: TypePong, EventID: eventID}
}

func NewInitiationClientData(vars map[string]string) InitiationClientData {
	return InitiationClientData{Type: TypeInitiationClientData, DynamicVariables: vars}
}

// DecodeServerMessage decodes one text frame from the agent endpoint.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case TypeInitiationMetadata:
		var msg InitiationMetadata
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid conversation_initiation_metadata", "")
		}
		return msg, nil
	case TypeUserTranscript:
		var msg UserTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid user_transcript", "")
		}
		return msg, nil
	case TypeAgentResponse:
		var msg AgentResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid agent_response", "")
		}
		return msg, nil
	case TypeTentativeResponse:
		var msg TentativeResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid internal_tentative_agent_response", "")
		}
		return msg, nil
	case TypeClientToolCall:
		var msg ClientToolCall
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid client_tool_call", "")
		}
		if strings.TrimSpace(msg.Call.ToolCallID) == "" {
			return nil, badFrame("client_tool_call.tool_call_id is required", "tool_call_id")
		}
		if strings.TrimSpace(msg.Call.ToolName) == "" {
			return nil, badFrame("client_tool_call.tool_name is required", "tool_name")
		}
		if msg.Call.Parameters == nil {
			msg.Call.Parameters = map[string]any{}
		}
		return msg, nil
	case TypePing:
		var msg Ping
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid ping", "")
		}
		return msg, nil
	case TypeInterruption:
		var msg Interruption
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid interruption", "")
		}
		return msg, nil
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid audio", "")
		}
		return msg, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error", "")
		}
		return msg, nil
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
