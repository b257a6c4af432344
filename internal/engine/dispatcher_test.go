package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/engine"
	"github.com/zhouzirui/docchat/internal/model/chat"
)

type harness struct {
	backend    *fakeBackend
	store      *engine.Store
	dispatcher *engine.Dispatcher

	mu      sync.Mutex
	changes []engine.Change
}

func newHarness(t *testing.T, backend *fakeBackend, streaming bool) *harness {
	t.Helper()
	h := &harness{backend: backend}
	h.store = engine.NewStore(chat.Session{ID: "s1", Title: "Chat about X", DocumentID: "doc-1", CreatedAt: epoch, UpdatedAt: epoch})
	h.store.Subscribe(func(c engine.Change) {
		h.mu.Lock()
		h.changes = append(h.changes, c)
		h.mu.Unlock()
	})

	seq := 0
	h.dispatcher = engine.NewDispatcher(backend, h.store, engine.NewTypingIndicator(), engine.Options{
		Streaming: streaming,
		Now:       func() time.Time { return epoch },
		NewID: func() string {
			seq++
			return fmt.Sprintf("m%d", seq)
		},
	})
	t.Cleanup(h.dispatcher.Close)
	return h
}

func (h *harness) kinds() []engine.ChangeKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]engine.ChangeKind, len(h.changes))
	for i, c := range h.changes {
		out[i] = c.Kind
	}
	return out
}

func roles(messages []chat.Message) []chat.Role {
	out := make([]chat.Role, len(messages))
	for i, m := range messages {
		out[i] = m.Role
	}
	return out
}

func TestSendBufferedAppendsAnswerAndContext(t *testing.T) {
	backend := newFakeBackend()
	backend.reply = chat.Reply{Answer: "2x", Context: chat.StringPtr("derivative rules")}
	h := newHarness(t, backend, false)

	require.NoError(t, h.dispatcher.Send(context.Background(), "What is the derivative of x^2?"))

	messages := h.store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, "2x", messages[1].Content)

	ctxValue, ok := h.store.Context()
	require.True(t, ok)
	assert.Equal(t, "derivative rules", ctxValue)
	assert.Equal(t, engine.Idle, h.dispatcher.Typing().State())
}

func TestSendReplacesContext(t *testing.T) {
	backend := newFakeBackend()
	backend.reply = chat.Reply{Answer: "a", Context: chat.StringPtr("first")}
	h := newHarness(t, backend, false)
	require.NoError(t, h.dispatcher.Send(context.Background(), "one"))

	backend.reply = chat.Reply{Answer: "b", Context: chat.StringPtr("second")}
	require.NoError(t, h.dispatcher.Send(context.Background(), "two"))

	ctxValue, _ := h.store.Context()
	assert.Equal(t, "second", ctxValue)
	assert.Equal(t, []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleUser, chat.RoleAssistant}, roles(h.store.Messages()))
}

func TestSendForwardsAttachments(t *testing.T) {
	backend := newFakeBackend()
	backend.reply = chat.Reply{Answer: "ok"}
	h := newHarness(t, backend, false)

	require.NoError(t, h.dispatcher.Send(context.Background(), "see page 3", "page-3.png"))
	assert.Equal(t, []string{"page-3.png"}, h.store.Messages()[0].Attachments)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, []string{"page-3.png"}, backend.sent[0].Attachments)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	h := newHarness(t, newFakeBackend(), false)
	assert.ErrorIs(t, h.dispatcher.Send(context.Background(), "   "), engine.ErrEmptyMessage)
	assert.Empty(t, h.store.Messages())
}

func TestSendWhileWaitingIsBusy(t *testing.T) {
	backend := newFakeBackend()
	backend.reply = chat.Reply{Answer: "late"}
	backend.release = make(chan struct{})
	backend.started = make(chan struct{})
	h := newHarness(t, backend, false)

	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Send(context.Background(), "first") }()
	<-backend.started

	require.Equal(t, engine.Waiting, h.dispatcher.Typing().State())
	before := h.store.Messages()

	err := h.dispatcher.Send(context.Background(), "second")
	var busy *engine.SendBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "s1", busy.SessionID)
	assert.Equal(t, before, h.store.Messages())

	close(backend.release)
	require.NoError(t, <-done)
	assert.Len(t, h.store.Messages(), 2)
	assert.False(t, h.dispatcher.Busy())
}

func TestSendFailureKeepsUserMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errUnavailable
	h := newHarness(t, backend, false)

	err := h.dispatcher.Send(context.Background(), "hello")
	var failed *engine.SendFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, errUnavailable)

	messages := h.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, engine.Idle, h.dispatcher.Typing().State())

	backend.sendErr = nil
	backend.reply = chat.Reply{Answer: "back"}
	require.NoError(t, h.dispatcher.Send(context.Background(), "retry"))
}

func TestSendStreamedBuildsOneAssistantMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{
		"data: {\"context\":\"chain rule\"}\n\n",
		"data: {\"token\":\"The \"}\n\ndata: {\"tok",
		"en\":\"answer \"}\n\n",
		"data: {\"token\":\"is 2x\"}\n\n",
		"data: {\"answer\":\"The answer is 2x\",\"done\":true}\n\n",
	}
	h := newHarness(t, backend, true)

	require.NoError(t, h.dispatcher.Send(context.Background(), "derivative?"))

	messages := h.store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, "The answer is 2x", messages[1].Content)

	ctxValue, ok := h.store.Context()
	require.True(t, ok)
	assert.Equal(t, "chain rule", ctxValue)

	appended := 0
	updated := 0
	for _, k := range h.kinds() {
		switch k {
		case engine.MessageAppended:
			appended++
		case engine.MessageUpdated:
			updated++
		}
	}
	assert.Equal(t, 2, appended, "user message plus exactly one assistant message")
	assert.Equal(t, 2, updated)
	assert.Equal(t, engine.Idle, h.dispatcher.Typing().State())
}

func TestSendStreamedErrorEventFails(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{
		"data: {\"token\":\"partial\"}\n\n",
		"data: {\"error\":\"model overloaded\"}\n\n",
		"data: {\"token\":\"ignored\"}\n\n",
	}
	h := newHarness(t, backend, true)

	err := h.dispatcher.Send(context.Background(), "hi")
	var failed *engine.SendFailedError
	require.ErrorAs(t, err, &failed)
	assert.True(t, failed.Streamed)

	var streamErr *engine.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "model overloaded", streamErr.Message)

	messages := h.store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "partial", messages[1].Content)
	assert.Equal(t, engine.Idle, h.dispatcher.Typing().State())
}

func TestSendStreamedSkipsMalformedFrames(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{
		"data: {\"token\":\"a\"}\n\n",
		"data: {oops}\n\n",
		"data: {\"token\":\"b\"}\n\n",
	}
	h := newHarness(t, backend, true)

	require.NoError(t, h.dispatcher.Send(context.Background(), "hi"))
	assert.Equal(t, "ab", h.store.Messages()[1].Content)
}

func TestSendStreamedEmptyAnswerReplacesTokens(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{
		"data: {\"token\":\"draft\"}\n\n",
		"data: {\"answer\":\"\",\"done\":true}\n\n",
	}
	h := newHarness(t, backend, true)

	require.NoError(t, h.dispatcher.Send(context.Background(), "hi"))
	messages := h.store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "", messages[1].Content)
	assert.Equal(t, []engine.ChangeKind{engine.MessageAppended, engine.MessageAppended, engine.MessageUpdated}, h.kinds())
}

func TestSendStreamedWithoutAnswerFails(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{"data: {\"done\":true}\n\n"}
	h := newHarness(t, backend, true)

	err := h.dispatcher.Send(context.Background(), "hi")
	var failed *engine.SendFailedError
	require.ErrorAs(t, err, &failed)
	assert.Len(t, h.store.Messages(), 1)
}

func TestCloseBeforeFirstTokenLeavesNoAssistantMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.frames = []string{"data: {\"token\":\"never\"}\n\n"}
	backend.release = make(chan struct{})
	backend.started = make(chan struct{})
	h := newHarness(t, backend, true)

	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Send(context.Background(), "hi") }()
	<-backend.started

	h.dispatcher.Close()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrSessionDiscarded))

	messages := h.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, engine.Idle, h.dispatcher.Typing().State())

	assert.ErrorIs(t, h.dispatcher.Send(context.Background(), "again"), engine.ErrDispatcherClosed)
}

func TestSendStreamedOpenFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.streamErr = errUnavailable
	h := newHarness(t, backend, true)

	err := h.dispatcher.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, engine.Idle, h.dispatcher.Typing().State())
}
