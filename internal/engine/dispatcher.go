package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/metrics"
	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/stream"
)

var errEmptyStream = errors.New("stream ended without an answer")

// Options tunes a Dispatcher.
type Options struct {
	// Streaming selects the streamed reply endpoint instead of the buffered one.
	Streaming bool
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// Dispatcher sends user messages for one session and applies the replies to
// its store. At most one send is in flight at a time.
type Dispatcher struct {
	backend   Backend
	store     *Store
	typing    *TypingIndicator
	streaming bool
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	inFlight bool
	cancel   context.CancelFunc
	closed   bool
}

// NewDispatcher wires a dispatcher to a session store and its indicator.
func NewDispatcher(backend Backend, store *Store, typing *TypingIndicator, opts Options) *Dispatcher {
	if typing == nil {
		typing = NewTypingIndicator()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Dispatcher{
		backend:   backend,
		store:     store,
		typing:    typing,
		streaming: opts.Streaming,
		logger:    logger.Named("dispatcher").With(zap.String("session_id", store.SessionID())),
		now:       now,
		newID:     newID,
	}
}

// Store returns the session store the dispatcher writes to.
func (d *Dispatcher) Store() *Store { return d.store }

// Typing returns the indicator driven by the dispatcher.
func (d *Dispatcher) Typing() *TypingIndicator { return d.typing }

// Busy reports whether a send is awaiting its reply.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Send appends the user message, requests the reply and applies it. It
// blocks until the reply is applied or the send fails. A send while another
// is pending returns *SendBusyError without touching the log; a failure
// returns *SendFailedError and leaves the user message in place.
func (d *Dispatcher) Send(ctx context.Context, content string, attachments ...string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	ctx, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer d.release()

	sessionID := d.store.SessionID()
	mode := d.mode()

	user := chat.Message{
		ID:          d.newID(),
		Role:        chat.RoleUser,
		Content:     content,
		Timestamp:   d.now(),
		Attachments: append([]string(nil), attachments...),
	}
	if err := d.store.Append(user); err != nil {
		return &SendFailedError{SessionID: sessionID, Streamed: d.streaming, Err: err}
	}
	if err := d.typing.Begin(); err != nil {
		d.logger.Warn("typing indicator already waiting", zap.Error(err))
	}

	req := chat.SendRequest{Content: content, Attachments: user.Attachments}
	if d.streaming {
		err = d.sendStreamed(ctx, sessionID, req)
	} else {
		err = d.sendBuffered(ctx, sessionID, req)
	}

	if err != nil {
		_ = d.typing.Fail()
		metrics.Sends.WithLabelValues(mode, "failed").Inc()
		d.logger.Warn("send failed", zap.String("mode", mode), zap.Error(err))
		return &SendFailedError{SessionID: sessionID, Streamed: d.streaming, Err: err}
	}

	_ = d.typing.Succeed()
	metrics.Sends.WithLabelValues(mode, "ok").Inc()
	d.logger.Debug("reply applied", zap.String("mode", mode))
	return nil
}

// Close tears the conversation down: the in-flight request is aborted and
// the store stops accepting mutations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cancel := d.cancel
	d.mu.Unlock()

	d.store.Discard()
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) acquire(parent context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDispatcherClosed
	}
	if d.inFlight || d.typing.State() == Waiting {
		return nil, &SendBusyError{SessionID: d.store.SessionID()}
	}

	ctx, cancel := context.WithCancel(parent)
	d.inFlight = true
	d.cancel = cancel
	return ctx, nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.inFlight = false
}

func (d *Dispatcher) mode() string {
	if d.streaming {
		return "streamed"
	}
	return "buffered"
}

func (d *Dispatcher) sendBuffered(ctx context.Context, sessionID string, req chat.SendRequest) error {
	reply, err := d.backend.SendMessage(ctx, sessionID, req)
	if err != nil {
		return err
	}

	assistant := chat.Message{
		ID:        d.newID(),
		Role:      chat.RoleAssistant,
		Content:   reply.Answer,
		Timestamp: d.now(),
	}
	if err := d.store.Append(assistant); err != nil {
		return err
	}
	if reply.Context != nil {
		return d.store.SetContext(*reply.Context)
	}
	return nil
}

// pendingReply accumulates the one assistant message of a streamed send.
type pendingReply struct {
	id    string
	shown string
	text  strings.Builder
	// final is set once an answer field replaced the streamed tokens.
	final bool
}

func (d *Dispatcher) sendStreamed(ctx context.Context, sessionID string, req chat.SendRequest) error {
	body, err := d.backend.StreamMessage(ctx, sessionID, req)
	if err != nil {
		return err
	}
	defer body.Close()

	pending := &pendingReply{}
	decoder := stream.NewDecoder(d.logger)
	if err := decoder.Run(ctx, body, func(ev chat.StreamEvent) error {
		return d.apply(pending, ev)
	}); err != nil {
		return err
	}

	if pending.id == "" {
		return errEmptyStream
	}
	return nil
}

func (d *Dispatcher) apply(p *pendingReply, ev chat.StreamEvent) error {
	switch ev.Kind {
	case chat.EventError:
		return &StreamError{Message: ev.Error}
	case chat.EventToken:
		p.text.WriteString(ev.Token)
	case chat.EventDone:
		p.text.WriteString(ev.Token)
		if ev.Answer != nil {
			p.text.Reset()
			p.text.WriteString(*ev.Answer)
			p.final = true
		}
	}

	if content := p.text.String(); content != "" || (p.final && p.id != "") {
		if err := d.show(p, content); err != nil {
			return err
		}
	}
	if ev.Context != nil {
		return d.store.SetContext(*ev.Context)
	}
	return nil
}

// show appends the assistant message at the first token and updates it in
// place afterwards.
func (d *Dispatcher) show(p *pendingReply, content string) error {
	if p.id == "" {
		msg := chat.Message{
			ID:        d.newID(),
			Role:      chat.RoleAssistant,
			Content:   content,
			Timestamp: d.now(),
		}
		if err := d.store.Append(msg); err != nil {
			return err
		}
		p.id = msg.ID
		p.shown = content
		return nil
	}
	if content == p.shown {
		return nil
	}
	if err := d.store.UpdateContent(p.id, content); err != nil {
		return err
	}
	p.shown = content
	return nil
}
