package chat

import "time"

// Session is one conversation thread, tied to at most one document.
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	DocumentID string    `json:"documentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Messages   []Message `json:"messages"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		out.Messages[i] = msg.Clone()
	}
	return out
}

// Summary is the list view of a session.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DocumentID   string    `json:"documentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Summarize builds the list view of s.
func (s Session) Summarize() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		DocumentID:   s.DocumentID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}
