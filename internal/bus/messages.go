package bus

// Topics used on the in-process pub/sub.
const (
	CommandTopic = "docchat.commands"
	EventTopic   = "docchat.events"
)

// CommandKind names a view request.
type CommandKind string

const (
	CommandSend  CommandKind = "send"
	CommandReact CommandKind = "react"
)

// Command is published by a view and handled by the engine side.
type Command struct {
	Kind        CommandKind `json:"kind"`
	SessionID   string      `json:"sessionId"`
	Content     string      `json:"content,omitempty"`
	Attachments []string    `json:"attachments,omitempty"`
	MessageID   string      `json:"messageId,omitempty"`
	Emoji       string      `json:"emoji,omitempty"`
}

// EventKind names a notification sent back to views.
type EventKind string

const (
	EventMessageAppended EventKind = "message.appended"
	EventMessageUpdated  EventKind = "message.updated"
	EventReactionAdded   EventKind = "reaction.added"
	EventContextChanged  EventKind = "context.changed"
	EventTypingChanged   EventKind = "typing.changed"
	EventSendFailed      EventKind = "send.failed"
	EventReactionFailed  EventKind = "reaction.failed"
)

// Event tells a view that the session changed. Views re-read the store on
// receipt; delivery order across events is not guaranteed.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
	Typing    string    `json:"typing,omitempty"`
	Error     string    `json:"error,omitempty"`
	Busy      bool      `json:"busy,omitempty"`
}
