package transcript

import "sync"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Aggregator folds utterances and deltas into an ordered conversation log.
type Aggregator struct {
	mu       sync.RWMutex
	messages []Message
}

func New() *Aggregator {
	return &Aggregator{}
}

// AppendUtterance records a complete utterance as a new message.
func (a *Aggregator) AppendUtterance(role Role, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, Message{Role: role, Text: text})
}

// AppendDelta extends the last message when it has the same role and continuation is
// set; otherwise the delta opens a new message.
func (a *Aggregator) AppendDelta(role Role, delta string, continuation bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.messages); continuation && n > 0 && a.messages[n-1].Role == role {
		a.messages[n-1].Text += delta
		return
	}
	a.messages = append(a.messages, Message{Role: role, Text: delta})
}

// Messages returns a copy of the log.
func (a *Aggregator) Messages() []Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.messages)
}

func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
}
