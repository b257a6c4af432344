package engine

import (
	"context"
	"io"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// Backend is the network collaborator of the engine. Implementations attach
// credentials and apply timeouts; every failure is an ordinary error.
type Backend interface {
	CreateSession(ctx context.Context, title, documentID string) (chat.Session, error)
	ListSessions(ctx context.Context) ([]chat.Summary, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	SendMessage(ctx context.Context, sessionID string, req chat.SendRequest) (chat.Reply, error)
	// StreamMessage returns the raw framed body of a streamed reply. The
	// caller closes it.
	StreamMessage(ctx context.Context, sessionID string, req chat.SendRequest) (io.ReadCloser, error)
	Ask(ctx context.Context, question, documentID string) (chat.Reply, error)
	// AskStream is the streamed form of Ask. The caller closes the body.
	AskStream(ctx context.Context, question, documentID string) (io.ReadCloser, error)
}
