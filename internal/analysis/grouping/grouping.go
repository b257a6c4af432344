// Package grouping clusters chat messages for display.
package grouping

import (
	"time"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// MaxGap is the largest distance between two messages that may share a group.
const MaxGap = 300 * time.Second

// Group buckets messages in order. A new group starts at the first message,
// on a role change, or when the time distance to the previous message exceeds
// MaxGap. Two adjacent groups share a role only when split by the time rule.
func Group(messages []chat.Message) []chat.MessageGroup {
	groups := make([]chat.MessageGroup, 0, len(messages))

	for i, msg := range messages {
		if i == 0 || startsGroup(messages[i-1], msg) {
			groups = append(groups, chat.MessageGroup{
				Role:     msg.Role,
				Messages: []chat.Message{msg},
			})
			continue
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, msg)
	}

	return groups
}

func startsGroup(prev, msg chat.Message) bool {
	if prev.Role != msg.Role {
		return true
	}
	gap := msg.Timestamp.Sub(prev.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	return gap > MaxGap
}
