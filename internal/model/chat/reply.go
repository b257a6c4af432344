package chat

// Reply is the buffered answer to a message or question.
type Reply struct {
	Answer  string  `json:"answer"`
	Context *string `json:"context,omitempty"`
}

// SendRequest carries a user turn to the server.
type SendRequest struct {
	Content     string   `json:"content" validate:"required"`
	Attachments []string `json:"attachments,omitempty"`
}

// EventKind classifies a decoded stream frame.
type EventKind string

const (
	EventToken EventKind = "token"
	// EventContext carries only the retrieved context, sent ahead of the tokens.
	EventContext EventKind = "context"
	EventDone    EventKind = "done"
	EventError   EventKind = "error"
)

// StreamEvent is one decoded frame of a streamed reply. Answer is nil when the
// frame had no answer field; an empty answer is still an answer.
type StreamEvent struct {
	Kind    EventKind
	Token   string
	Answer  *string
	Context *string
	Error   string
}

// Frame is the JSON payload carried by a `data:` line of a streamed reply.
type Frame struct {
	Token    *string `json:"token,omitempty"`
	Response *string `json:"response,omitempty"`
	Answer   *string `json:"answer,omitempty"`
	Context  *string `json:"context,omitempty"`
	Error    string  `json:"error,omitempty"`
	Done     bool    `json:"done,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
