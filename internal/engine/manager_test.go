package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/engine"
	"github.com/zhouzirui/docchat/internal/model/chat"
)

func TestManagerCreate(t *testing.T) {
	manager := engine.NewManager(newFakeBackend(), nil)

	session, err := manager.Create(context.Background(), "Chat about X", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Chat about X", session.Title)
	assert.Equal(t, "doc-1", session.DocumentID)
	assert.Empty(t, session.Messages)
}

func TestManagerCreateFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.createErr = errUnavailable
	manager := engine.NewManager(backend, nil)

	_, err := manager.Create(context.Background(), "Chat about X", "doc-1")
	var createErr *engine.SessionCreateError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, "doc-1", createErr.DocumentID)
	assert.ErrorIs(t, err, errUnavailable)
}

func TestManagerFetchMissingThenCreate(t *testing.T) {
	manager := engine.NewManager(newFakeBackend(), nil)

	_, err := manager.Fetch(context.Background(), "missing-id")
	var fetchErr *engine.SessionFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "missing-id", fetchErr.SessionID)

	session, err := manager.Create(context.Background(), "Chat about X", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", session.DocumentID)
}

func TestManagerFetchEmptyID(t *testing.T) {
	manager := engine.NewManager(newFakeBackend(), nil)
	_, err := manager.Fetch(context.Background(), " ")
	var fetchErr *engine.SessionFetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestManagerFetchBumpsUpdatedAt(t *testing.T) {
	backend := newFakeBackend()
	last := epoch.Add(time.Hour)
	backend.sessions["s1"] = chat.Session{
		ID: "s1", Title: "Notes", CreatedAt: epoch, UpdatedAt: epoch,
		Messages: []chat.Message{{ID: "a", Role: chat.RoleUser, Content: "q", Timestamp: last}},
	}
	manager := engine.NewManager(backend, nil)

	session, err := manager.Fetch(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, last, session.UpdatedAt)
	assert.Len(t, session.Messages, 1)
}

func TestManagerOpen(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["s1"] = chat.Session{ID: "s1", Title: "Existing", DocumentID: "doc-2", CreatedAt: epoch, UpdatedAt: epoch}
	manager := engine.NewManager(backend, nil)

	resumed, err := manager.Open(context.Background(), "s1", "Chat about X", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", resumed.ID)

	created, err := manager.Open(context.Background(), "missing-id", "Chat about X", "doc-1")
	require.NoError(t, err)
	assert.NotEqual(t, "missing-id", created.ID)
	assert.Equal(t, "doc-1", created.DocumentID)

	fresh, err := manager.Open(context.Background(), "", "Fresh", "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", fresh.Title)
}

func TestManagerList(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["s1"] = chat.Session{
		ID: "s1", Title: "Notes", CreatedAt: epoch, UpdatedAt: epoch,
		Messages: []chat.Message{{ID: "a", Role: chat.RoleUser, Content: "q", Timestamp: epoch}},
	}
	manager := engine.NewManager(backend, nil)

	summaries, err := manager.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].MessageCount)
}

func TestManagerAsk(t *testing.T) {
	backend := newFakeBackend()
	manager := engine.NewManager(backend, nil)

	reply, err := manager.Ask(context.Background(), "limits?", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "re: limits?", reply.Answer)

	_, err = manager.Ask(context.Background(), "", "doc-1")
	assert.ErrorIs(t, err, engine.ErrEmptyMessage)

	backend.sendErr = errUnavailable
	_, err = manager.Ask(context.Background(), "limits?", "doc-1")
	var failed *engine.SendFailedError
	assert.ErrorAs(t, err, &failed)
}

func TestManagerAskStream(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{
		"data: {\"context\":\"chain rule\"}\n\n",
		"data: {\"token\":\"The answer \"}\n\n",
		"data: {\"token\":\"is 2x\"}\n\n",
		"data: {\"answer\":\"The answer is 2x\",\"done\":true}\n\n",
	}
	manager := engine.NewManager(backend, nil)

	var tokens []string
	reply, err := manager.AskStream(context.Background(), "derivative?", "doc-1", func(token string) {
		tokens = append(tokens, token)
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 2x", reply.Answer)
	require.NotNil(t, reply.Context)
	assert.Equal(t, "chain rule", *reply.Context)
	assert.Equal(t, []string{"The answer ", "is 2x"}, tokens)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, "derivative?", backend.sent[0].Content)
}

func TestManagerAskStreamTokensOnly(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{"data: {\"token\":\"a\"}\n\n", "data: {\"token\":\"b\"}\n\n", "data: [DONE]\n\n"}
	manager := engine.NewManager(backend, nil)

	reply, err := manager.AskStream(context.Background(), "q", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", reply.Answer)
	assert.Nil(t, reply.Context)
}

func TestManagerAskStreamFailures(t *testing.T) {
	ctx := context.Background()

	_, err := engine.NewManager(newFakeBackend(), nil).AskStream(ctx, " ", "", nil)
	assert.ErrorIs(t, err, engine.ErrEmptyMessage)

	errored := newFakeBackend()
	errored.frames = []string{"data: {\"token\":\"par\"}\n\n", "data: {\"error\":\"model overloaded\"}\n\n"}
	_, err = engine.NewManager(errored, nil).AskStream(ctx, "q", "", nil)
	var failed *engine.SendFailedError
	require.ErrorAs(t, err, &failed)
	assert.True(t, failed.Streamed)
	var streamErr *engine.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "model overloaded", streamErr.Message)

	empty := newFakeBackend()
	empty.frames = []string{": keep-alive\n\n"}
	_, err = engine.NewManager(empty, nil).AskStream(ctx, "q", "", nil)
	assert.ErrorAs(t, err, &failed)

	unreachable := newFakeBackend()
	unreachable.streamErr = errUnavailable
	_, err = engine.NewManager(unreachable, nil).AskStream(ctx, "q", "", nil)
	assert.ErrorIs(t, err, errUnavailable)
}
