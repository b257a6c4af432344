package engine

import (
	"sync"
	"time"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// ChangeKind names a store mutation.
type ChangeKind string

const (
	MessageAppended ChangeKind = "message.appended"
	MessageUpdated  ChangeKind = "message.updated"
	ReactionAdded   ChangeKind = "reaction.added"
	ContextChanged  ChangeKind = "context.changed"
)

// Change is delivered to store listeners after each mutation.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	SessionID string     `json:"sessionId"`
	MessageID string     `json:"messageId,omitempty"`
	Emoji     string     `json:"emoji,omitempty"`
}

// Listener observes store changes. It runs outside the store lock and may
// read snapshots.
type Listener func(Change)

// Store owns one session's message log and side-channel context. The log only
// grows: messages are appended, never removed or reordered.
type Store struct {
	mu        sync.RWMutex
	session   chat.Session
	index     map[string]int
	context   *string
	discarded bool

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

// NewStore takes ownership of a copy of session.
func NewStore(session chat.Session) *Store {
	s := &Store{
		session:   session.Clone(),
		index:     make(map[string]int, len(session.Messages)),
		listeners: make(map[int]Listener),
	}
	for i, msg := range s.session.Messages {
		s.index[msg.ID] = i
	}
	return s
}

// SessionID returns the id of the owned session.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.ID
}

// Snapshot returns a deep copy of the session.
func (s *Store) Snapshot() chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Messages returns a deep copy of the message log.
func (s *Store) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.session.Messages))
	for i, msg := range s.session.Messages {
		out[i] = msg.Clone()
	}
	return out
}

// Message returns a copy of one message.
func (s *Store) Message(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return s.session.Messages[i].Clone(), true
}

// Context returns the side-channel context delivered with the latest reply.
func (s *Store) Context() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.context == nil {
		return "", false
	}
	return *s.context, true
}

// Append adds msg to the end of the log.
func (s *Store) Append(msg chat.Message) error {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return ErrSessionDiscarded
	}
	if _, exists := s.index[msg.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateMessage
	}
	msg = msg.Clone()
	s.index[msg.ID] = len(s.session.Messages)
	s.session.Messages = append(s.session.Messages, msg)
	s.touch(msg.Timestamp)
	change := Change{Kind: MessageAppended, SessionID: s.session.ID, MessageID: msg.ID}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// UpdateContent replaces the content of a message that is still being
// streamed in.
func (s *Store) UpdateContent(id, content string) error {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return ErrSessionDiscarded
	}
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	s.session.Messages[i].Content = content
	change := Change{Kind: MessageUpdated, SessionID: s.session.ID, MessageID: id}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// SetContext replaces the side-channel context.
func (s *Store) SetContext(value string) error {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return ErrSessionDiscarded
	}
	s.context = &value
	change := Change{Kind: ContextChanged, SessionID: s.session.ID}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// addReaction increments one emoji counter; the read and write happen under
// a single lock acquisition.
func (s *Store) addReaction(id, emoji string) (int, error) {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return 0, ErrSessionDiscarded
	}
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return 0, ErrMessageNotFound
	}
	msg := &s.session.Messages[i]
	if msg.Reactions == nil {
		msg.Reactions = make(map[string]int)
	}
	msg.Reactions[emoji]++
	count := msg.Reactions[emoji]
	change := Change{Kind: ReactionAdded, SessionID: s.session.ID, MessageID: id, Emoji: emoji}
	s.mu.Unlock()

	s.notify(change)
	return count, nil
}

// Discard marks the session as torn down. Later mutations fail with
// ErrSessionDiscarded; reads keep working.
func (s *Store) Discard() {
	s.mu.Lock()
	s.discarded = true
	s.mu.Unlock()
}

// Discarded reports whether Discard was called.
func (s *Store) Discarded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discarded
}

// Subscribe registers fn and returns a func that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) touch(ts time.Time) {
	if ts.After(s.session.UpdatedAt) {
		s.session.UpdatedAt = ts
	}
}

func (s *Store) notify(change Change) {
	s.listenerMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}
