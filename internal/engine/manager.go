package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/stream"
)

// Manager creates and hydrates sessions through the backend.
type Manager struct {
	backend Backend
	logger  *zap.Logger
}

// NewManager returns a session manager.
func NewManager(backend Backend, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{backend: backend, logger: logger.Named("sessions")}
}

// Create opens a new session for the document. Failures are returned as
// *SessionCreateError and are not retried.
func (m *Manager) Create(ctx context.Context, title, documentID string) (*chat.Session, error) {
	session, err := m.backend.CreateSession(ctx, title, documentID)
	if err != nil {
		return nil, &SessionCreateError{Title: title, DocumentID: documentID, Err: err}
	}
	if session.DocumentID == "" {
		session.DocumentID = documentID
	}
	if session.UpdatedAt.Before(session.CreatedAt) {
		session.UpdatedAt = session.CreatedAt
	}

	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("document_id", session.DocumentID))
	return &session, nil
}

// Fetch hydrates an existing session with its full message list.
func (m *Manager) Fetch(ctx context.Context, sessionID string) (*chat.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &SessionFetchError{SessionID: sessionID, Err: errors.New("session id is required")}
	}

	session, err := m.backend.GetSession(ctx, sessionID)
	if err != nil {
		return nil, &SessionFetchError{SessionID: sessionID, Err: err}
	}
	for _, msg := range session.Messages {
		if msg.Timestamp.After(session.UpdatedAt) {
			session.UpdatedAt = msg.Timestamp
		}
	}
	return &session, nil
}

// List returns the caller's session summaries.
func (m *Manager) List(ctx context.Context) ([]chat.Summary, error) {
	sessions, err := m.backend.ListSessions(ctx)
	if err != nil {
		return nil, &SessionFetchError{Err: err}
	}
	return sessions, nil
}

// Open resumes sessionID, or creates a session for the document when no id
// is given or the fetch fails. The failed id is not fetched again.
func (m *Manager) Open(ctx context.Context, sessionID, title, documentID string) (*chat.Session, error) {
	if sessionID != "" {
		session, err := m.Fetch(ctx, sessionID)
		if err == nil {
			return session, nil
		}
		m.logger.Warn("resume failed, starting a new session",
			zap.String("session_id", sessionID),
			zap.String("document_id", documentID),
			zap.Error(err))
	}
	return m.Create(ctx, title, documentID)
}

// Ask puts a one-off question to the backend without a session.
func (m *Manager) Ask(ctx context.Context, question, documentID string) (chat.Reply, error) {
	if strings.TrimSpace(question) == "" {
		return chat.Reply{}, ErrEmptyMessage
	}
	reply, err := m.backend.Ask(ctx, question, documentID)
	if err != nil {
		return chat.Reply{}, &SendFailedError{Err: err}
	}
	return reply, nil
}

// AskStream is Ask over the streamed endpoint. onToken, when non-nil, sees
// every token as it arrives; the returned reply holds the final answer, which
// replaces the tokens when the stream ends with an answer field.
func (m *Manager) AskStream(ctx context.Context, question, documentID string, onToken func(string)) (chat.Reply, error) {
	if strings.TrimSpace(question) == "" {
		return chat.Reply{}, ErrEmptyMessage
	}

	body, err := m.backend.AskStream(ctx, question, documentID)
	if err != nil {
		return chat.Reply{}, &SendFailedError{Streamed: true, Err: err}
	}
	defer body.Close()

	var (
		reply    chat.Reply
		text     strings.Builder
		answered bool
	)
	err = stream.NewDecoder(m.logger).Run(ctx, body, func(ev chat.StreamEvent) error {
		if ev.Context != nil {
			reply.Context = ev.Context
		}
		switch ev.Kind {
		case chat.EventError:
			return &StreamError{Message: ev.Error}
		case chat.EventToken, chat.EventDone:
			if ev.Token != "" {
				text.WriteString(ev.Token)
				if onToken != nil {
					onToken(ev.Token)
				}
			}
			if ev.Answer != nil {
				text.Reset()
				text.WriteString(*ev.Answer)
				answered = true
			}
		}
		return nil
	})
	if err != nil {
		return chat.Reply{}, &SendFailedError{Streamed: true, Err: err}
	}
	if text.Len() == 0 && !answered {
		return chat.Reply{}, &SendFailedError{Streamed: true, Err: errEmptyStream}
	}

	reply.Answer = text.String()
	return reply, nil
}
