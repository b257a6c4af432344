// Package bus carries view commands to the engine and engine events back to
// views over an in-process watermill pub/sub.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/engine"
)

// Bus wraps a go-channel pub/sub with typed publish and subscribe helpers.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// New returns a bus. Close releases its subscribers.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bus")
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, newZapAdapter(logger)),
		logger: logger,
	}
}

// Close shuts the pub/sub down; subscriber channels are closed.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// Send asks the engine to send content in the session.
func (b *Bus) Send(sessionID, content string, attachments ...string) error {
	return b.publish(CommandTopic, Command{
		Kind:        CommandSend,
		SessionID:   sessionID,
		Content:     content,
		Attachments: attachments,
	})
}

// React asks the engine to add an emoji reaction to a message.
func (b *Bus) React(sessionID, messageID, emoji string) error {
	return b.publish(CommandTopic, Command{
		Kind:      CommandReact,
		SessionID: sessionID,
		MessageID: messageID,
		Emoji:     emoji,
	})
}

// Events subscribes to engine events. The channel closes when ctx ends or
// the bus is closed.
func (b *Bus) Events(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, EventTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				b.logger.Warn("dropping malformed event", zap.String("message_id", msg.UUID), zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Binding connects one session's dispatcher to the command topic.
type Binding struct {
	bus        *Bus
	ctx        context.Context
	commands   <-chan *message.Message
	dispatcher *engine.Dispatcher
	reactions  *engine.ReactionStore
	sessionID  string
	stop       []func()
	wg         sync.WaitGroup
}

// Bind subscribes the dispatcher to commands for its session and forwards
// store and typing changes as events. Commands are consumed by Run.
func (b *Bus) Bind(ctx context.Context, dispatcher *engine.Dispatcher, reactions *engine.ReactionStore) (*Binding, error) {
	commands, err := b.pubSub.Subscribe(ctx, CommandTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe commands: %w", err)
	}

	sessionID := dispatcher.Store().SessionID()
	bd := &Binding{
		bus:        b,
		ctx:        ctx,
		commands:   commands,
		dispatcher: dispatcher,
		reactions:  reactions,
		sessionID:  sessionID,
	}

	bd.stop = append(bd.stop,
		dispatcher.Store().Subscribe(func(c engine.Change) {
			b.emit(Event{Kind: EventKind(c.Kind), SessionID: c.SessionID, MessageID: c.MessageID, Emoji: c.Emoji})
		}),
		dispatcher.Typing().Subscribe(func(s engine.TypingState) {
			b.emit(Event{Kind: EventTypingChanged, SessionID: sessionID, Typing: s.String()})
		}),
	)
	return bd, nil
}

// Run handles commands until the binding's context ends or the bus closes,
// then waits for sends still in flight.
func (bd *Binding) Run() error {
	defer func() {
		for _, stop := range bd.stop {
			stop()
		}
	}()
	defer bd.wg.Wait()

	for msg := range bd.commands {
		var cmd Command
		err := json.Unmarshal(msg.Payload, &cmd)
		msg.Ack()
		if err != nil {
			bd.bus.logger.Warn("dropping malformed command", zap.String("message_id", msg.UUID), zap.Error(err))
			continue
		}
		if cmd.SessionID != bd.sessionID {
			continue
		}
		bd.handle(cmd)
	}
	return nil
}

func (bd *Binding) handle(cmd Command) {
	switch cmd.Kind {
	case CommandSend:
		bd.wg.Add(1)
		go func() {
			defer bd.wg.Done()
			if err := bd.dispatcher.Send(bd.ctx, cmd.Content, cmd.Attachments...); err != nil {
				var busy *engine.SendBusyError
				bd.bus.emit(Event{
					Kind:      EventSendFailed,
					SessionID: bd.sessionID,
					Error:     err.Error(),
					Busy:      errors.As(err, &busy),
				})
			}
		}()
	case CommandReact:
		if err := bd.reactions.AddReaction(cmd.MessageID, cmd.Emoji); err != nil {
			bd.bus.emit(Event{
				Kind:      EventReactionFailed,
				SessionID: bd.sessionID,
				MessageID: cmd.MessageID,
				Emoji:     cmd.Emoji,
				Error:     err.Error(),
			})
		}
	default:
		bd.bus.logger.Warn("unknown command", zap.String("kind", string(cmd.Kind)))
	}
}

func (b *Bus) emit(ev Event) {
	if err := b.publish(EventTopic, ev); err != nil {
		b.logger.Warn("publish event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (b *Bus) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := b.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
