package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid typing indicator transition")
	ErrSessionDiscarded  = errors.New("session has been discarded")
	ErrMessageNotFound   = errors.New("message not found")
	ErrDuplicateMessage  = errors.New("message id already present in session")
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrEmptyReaction     = errors.New("reaction emoji is empty")
	ErrDispatcherClosed  = errors.New("dispatcher is closed")
)

// SessionCreateError reports that the backend refused to create a session.
type SessionCreateError struct {
	Title      string
	DocumentID string
	Err        error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create session %q: %v", e.Title, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// SessionFetchError reports a failed session fetch or listing.
type SessionFetchError struct {
	SessionID string
	Err       error
}

func (e *SessionFetchError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("list sessions: %v", e.Err)
	}
	return fmt.Sprintf("fetch session %s: %v", e.SessionID, e.Err)
}

func (e *SessionFetchError) Unwrap() error { return e.Err }

// SendBusyError rejects a send while another one is awaiting its reply.
type SendBusyError struct {
	SessionID string
}

func (e *SendBusyError) Error() string {
	return fmt.Sprintf("session %s is still waiting for a response", e.SessionID)
}

// SendFailedError reports a network or server fault during a send.
type SendFailedError struct {
	SessionID string
	Streamed  bool
	Err       error
}

func (e *SendFailedError) Error() string {
	mode := "buffered"
	if e.Streamed {
		mode = "streamed"
	}
	if e.SessionID == "" {
		return fmt.Sprintf("ask (%s): %v", mode, e.Err)
	}
	return fmt.Sprintf("send to session %s (%s): %v", e.SessionID, mode, e.Err)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// StreamError is an explicit error event delivered inside a streamed reply.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream reported error: " + e.Message
}
