package tools

import (
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

const (
	ToolSaveMemory       = "save_memory"
	ToolRetrieveMemory   = "retrieve_memory"
	ToolGetMemoryDetails = "get_memory_details"

	DefaultRetrieveLimit = 5
	MaxRetrieveLimit     = 50
)

// Call is a tool call decoded into the parameters of one tool.
type Call interface {
	ToolName() string
}

type SaveMemoryCall struct {
	Title      string
	Content    string
	Tags       []string
	OccurredOn *civil.Date
	Location   *string
	// RawDate is the memory_date text as sent by the agent.
	RawDate string
}

func (SaveMemoryCall) ToolName() string { return ToolSaveMemory }

type RetrieveMemoryCall struct {
	Query string
	Limit int
}

func (RetrieveMemoryCall) ToolName() string { return ToolRetrieveMemory }

type GetMemoryDetailsCall struct {
	MemoryID string
}

func (GetMemoryDetailsCall) ToolName() string { return ToolGetMemoryDetails }

// UnknownToolError is returned by ParseCall for names no handler is registered for.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ParamError describes a missing or malformed parameter.
type ParamError struct {
	Tool    string
	Param   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Param, e.Message)
}

// ParseCall validates params against the named tool and returns its typed call.
func ParseCall(name string, params map[string]any) (Call, error) {
	switch strings.TrimSpace(name) {
	case ToolSaveMemory:
		return parseSave(params)
	case ToolRetrieveMemory:
		return parseRetrieve(params)
	case ToolGetMemoryDetails:
		return parseDetails(params)
	default:
		return nil, &UnknownToolError{Name: name}
	}
}

func parseSave(params map[string]any) (Call, error) {
	title, err := stringParam(ToolSaveMemory, params, "title")
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, &ParamError{Tool: ToolSaveMemory, Param: "title", Message: "a title is required"}
	}
	content, err := stringParam(ToolSaveMemory, params, "content")
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, &ParamError{Tool: ToolSaveMemory, Param: "content", Message: "content is required"}
	}
	tags, err := tagsParam(params["tags"])
	if err != nil {
		return nil, err
	}
	rawDate, err := stringParam(ToolSaveMemory, params, "memory_date")
	if err != nil {
		return nil, err
	}
	location, err := stringParam(ToolSaveMemory, params, "memory_location")
	if err != nil {
		return nil, err
	}

	call := SaveMemoryCall{
		Title:      title,
		Content:    content,
		Tags:       tags,
		OccurredOn: NormalizeDate(rawDate),
		RawDate:    rawDate,
	}
	if location != "" {
		call.Location = &location
	}
	return call, nil
}

func parseRetrieve(params map[string]any) (Call, error) {
	query, err := stringParam(ToolRetrieveMemory, params, "query")
	if err != nil {
		return nil, err
	}
	limit := DefaultRetrieveLimit
	if raw, ok := params["limit"]; ok && raw != nil {
		n, ok := intFromAny(raw)
		if !ok {
			return nil, &ParamError{Tool: ToolRetrieveMemory, Param: "limit", Message: "limit must be a number"}
		}
		if n > 0 {
			limit = n
		}
	}
	if limit > MaxRetrieveLimit {
		limit = MaxRetrieveLimit
	}
	return RetrieveMemoryCall{Query: query, Limit: limit}, nil
}

func parseDetails(params map[string]any) (Call, error) {
	id, err := stringParam(ToolGetMemoryDetails, params, "memory_id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &ParamError{Tool: ToolGetMemoryDetails, Param: "memory_id", Message: "a memory_id is required"}
	}
	return GetMemoryDetailsCall{MemoryID: id}, nil
}

// stringParam returns the trimmed string value of key. Absent and null values are
// empty; numbers are formatted since agents sometimes send ids and years unquoted.
func stringParam(tool string, params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", &ParamError{Tool: tool, Param: key, Message: fmt.Sprintf("%s must be a string", key)}
	}
}

// tagsParam accepts a list of strings or a single comma-separated string.
func tagsParam(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return splitTags(strings.Split(v, ",")), nil
	case []string:
		return splitTags(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &ParamError{Tool: ToolSaveMemory, Param: fmt.Sprintf("tags[%d]", i), Message: "tags must be strings"}
			}
			out = append(out, s)
		}
		return splitTags(out), nil
	default:
		return nil, &ParamError{Tool: ToolSaveMemory, Param: "tags", Message: "tags must be a list of strings"}
	}
}

func splitTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func intFromAny(v any) (int, bool) {
	switch value := v.(type) {
	case int:
		return value, true
	case int32:
		return int(value), true
	case int64:
		return int(value), true
	case float32:
		return int(value), true
	case float64:
		return int(value), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		return n, err == nil
	default:
		return 0, false
	}
}
