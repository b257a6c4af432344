package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/zhouzirui/docchat/internal/analysis/grouping"
	"github.com/zhouzirui/docchat/internal/bus"
	"github.com/zhouzirui/docchat/internal/engine"
	"github.com/zhouzirui/docchat/internal/model/chat"
)

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen, color.Bold)
	systemColor    = color.New(color.FgYellow)
	dimColor       = color.New(color.Faint)
	errorColor     = color.New(color.FgRed)
)

func roleColor(role chat.Role) *color.Color {
	switch role {
	case chat.RoleUser:
		return userColor
	case chat.RoleAssistant:
		return assistantColor
	default:
		return systemColor
	}
}

func printSessions(w io.Writer, sessions []chat.Summary) {
	if len(sessions) == 0 {
		dimColor.Fprintln(w, "no sessions yet")
		return
	}
	for _, s := range sessions {
		doc := s.DocumentID
		if doc == "" {
			doc = "-"
		}
		fmt.Fprintf(w, "%s  %-28s  %-8s  %3d msgs  %s\n",
			s.ID, truncate(s.Title, 28), doc, s.MessageCount, dimColor.Sprint(s.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
}

// printTranscript prints the session grouped: one header per group, numbered
// messages underneath.
func printTranscript(w io.Writer, session chat.Session) {
	fmt.Fprintf(w, "%s", color.New(color.Bold).Sprint(session.Title))
	if session.DocumentID != "" {
		dimColor.Fprintf(w, "  [%s]", session.DocumentID)
	}
	fmt.Fprintln(w)

	n := 0
	for _, group := range grouping.Group(session.Messages) {
		first := group.Messages[0]
		fmt.Fprintf(w, "\n%s %s\n", roleColor(group.Role).Sprint(group.Role), dimColor.Sprint(first.Timestamp.Local().Format("15:04")))
		for _, msg := range group.Messages {
			n++
			fmt.Fprintf(w, "%s %s", dimColor.Sprintf("%3d", n), msg.Content)
			if r := formatReactions(msg.Reactions); r != "" {
				fmt.Fprintf(w, "  %s", r)
			}
			fmt.Fprintln(w)
		}
	}
}

func printReply(w io.Writer, reply chat.Reply) {
	assistantColor.Fprintln(w, "assistant")
	fmt.Fprintln(w, reply.Answer)
	if reply.Context != nil && *reply.Context != "" {
		dimColor.Fprintf(w, "\nsource:\n%s\n", *reply.Context)
	}
}

// printStreamedReply finishes an answer whose tokens were already printed.
// A final answer that differs from the printed tokens is printed in full.
func printStreamedReply(w io.Writer, reply chat.Reply, printed string) {
	switch {
	case printed == "":
		fmt.Fprint(w, reply.Answer)
	case reply.Answer != printed:
		fmt.Fprint(w, "\n"+reply.Answer)
	}
	fmt.Fprintln(w)
	if reply.Context != nil && *reply.Context != "" {
		dimColor.Fprintf(w, "\nsource:\n%s\n", *reply.Context)
	}
}

func formatReactions(reactions map[string]int) string {
	if len(reactions) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reactions))
	for k := range reactions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, reactions[k])
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// liveRenderer prints assistant output as bus events arrive. Events only say
// what changed; content is always read back from the store.
type liveRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	store   *engine.Store
	printed map[string]string
	open    bool
}

func newLiveRenderer(w io.Writer, store *engine.Store) *liveRenderer {
	r := &liveRenderer{w: w, store: store, printed: make(map[string]string)}
	for _, msg := range store.Messages() {
		r.printed[msg.ID] = msg.Content
	}
	return r
}

func (r *liveRenderer) handle(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case bus.EventMessageAppended, bus.EventMessageUpdated:
		r.renderMessage(ev.MessageID)
	case bus.EventTypingChanged:
		if ev.Typing == engine.Waiting.String() {
			dimColor.Fprintln(r.w, "…")
			return
		}
		if r.open {
			fmt.Fprintln(r.w)
			r.open = false
		}
	case bus.EventReactionAdded:
		if msg, ok := r.store.Message(ev.MessageID); ok {
			dimColor.Fprintf(r.w, "reacted %s (%d)\n", ev.Emoji, msg.Reactions[ev.Emoji])
		}
	case bus.EventSendFailed:
		if ev.Busy {
			errorColor.Fprintln(r.w, "still waiting for the previous answer")
			return
		}
		errorColor.Fprintf(r.w, "send failed: %s\n", ev.Error)
	case bus.EventReactionFailed:
		errorColor.Fprintf(r.w, "reaction failed: %s\n", ev.Error)
	}
}

// renderMessage prints what is new in an assistant message since the last
// call. A final answer that rewrites earlier tokens is printed in full.
func (r *liveRenderer) renderMessage(id string) {
	msg, ok := r.store.Message(id)
	if !ok {
		return
	}
	if msg.Role == chat.RoleUser {
		r.printed[id] = msg.Content
		return
	}

	prev, seen := r.printed[id]
	switch {
	case !seen:
		assistantColor.Fprintln(r.w, msg.Role)
		fmt.Fprint(r.w, msg.Content)
	case strings.HasPrefix(msg.Content, prev):
		fmt.Fprint(r.w, msg.Content[len(prev):])
	default:
		fmt.Fprint(r.w, "\n"+msg.Content)
	}
	r.printed[id] = msg.Content
	r.open = true
}
