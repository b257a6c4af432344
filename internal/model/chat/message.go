package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn of a conversation. Once appended only Reactions change,
// except the content of an assistant reply while its stream is still arriving.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Attachments []string       `json:"attachments,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`
}

// Clone returns a copy that shares no slices or maps with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]string(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		out.Reactions = make(map[string]int, len(m.Reactions))
		for emoji, count := range m.Reactions {
			out.Reactions[emoji] = count
		}
	}
	return out
}

// MessageGroup is a display-only run of consecutive same-role messages.
type MessageGroup struct {
	Role     Role      `json:"role"`
	Messages []Message `json:"messages"`
}
