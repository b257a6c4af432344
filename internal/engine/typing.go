package engine

import "sync"

// TypingState is the busy indicator shown while a reply is outstanding.
type TypingState int

const (
	Idle TypingState = iota
	Waiting
)

func (s TypingState) String() string {
	if s == Waiting {
		return "waiting"
	}
	return "idle"
}

// TypingIndicator is the Idle/Waiting state machine. Views disable input
// while it reports Waiting.
type TypingIndicator struct {
	mu        sync.Mutex
	state     TypingState
	listeners map[int]func(TypingState)
	nextID    int
}

// NewTypingIndicator returns an indicator in the Idle state.
func NewTypingIndicator() *TypingIndicator {
	return &TypingIndicator{listeners: make(map[int]func(TypingState))}
}

// State returns the current state.
func (t *TypingIndicator) State() TypingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Begin moves Idle to Waiting when a send starts.
func (t *TypingIndicator) Begin() error {
	return t.transition(Idle, Waiting)
}

// Succeed moves Waiting to Idle after a reply was applied.
func (t *TypingIndicator) Succeed() error {
	return t.transition(Waiting, Idle)
}

// Fail moves Waiting to Idle after a send failed.
func (t *TypingIndicator) Fail() error {
	return t.transition(Waiting, Idle)
}

// Subscribe registers fn for every transition and returns its cancel func.
func (t *TypingIndicator) Subscribe(fn func(TypingState)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *TypingIndicator) transition(from, to TypingState) error {
	t.mu.Lock()
	if t.state != from {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	t.state = to
	listeners := make([]func(TypingState), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(to)
	}
	return nil
}
