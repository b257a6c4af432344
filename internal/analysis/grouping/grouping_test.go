package grouping

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

var base = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

func msg(id string, role chat.Role, offset time.Duration) chat.Message {
	return chat.Message{ID: id, Role: role, Content: id, Timestamp: base.Add(offset)}
}

func flatten(groups []chat.MessageGroup) []chat.Message {
	var out []chat.Message
	for _, g := range groups {
		out = append(out, g.Messages...)
	}
	return out
}

func TestGroupEmpty(t *testing.T) {
	assert.Empty(t, Group(nil))
}

func TestGroupSplitsOnRoleChange(t *testing.T) {
	messages := []chat.Message{
		msg("m1", chat.RoleSystem, 0),
		msg("m2", chat.RoleUser, time.Minute),
		msg("m3", chat.RoleUser, 2*time.Minute),
		msg("m4", chat.RoleAssistant, 2*time.Minute+15*time.Second),
	}

	groups := Group(messages)
	require.Len(t, groups, 3)
	assert.Equal(t, chat.RoleSystem, groups[0].Role)
	assert.Equal(t, chat.RoleUser, groups[1].Role)
	assert.Len(t, groups[1].Messages, 2)
	assert.Equal(t, chat.RoleAssistant, groups[2].Role)
}

func TestGroupTimeGapBoundary(t *testing.T) {
	atLimit := Group([]chat.Message{
		msg("m1", chat.RoleUser, 0),
		msg("m2", chat.RoleUser, 300*time.Second),
	})
	require.Len(t, atLimit, 1)

	overLimit := Group([]chat.Message{
		msg("m1", chat.RoleUser, 0),
		msg("m2", chat.RoleUser, 301*time.Second),
	})
	require.Len(t, overLimit, 2)
	assert.Equal(t, overLimit[0].Role, overLimit[1].Role, "same-role groups may only be split by time")
}

func TestGroupUsesAbsoluteGap(t *testing.T) {
	groups := Group([]chat.Message{
		msg("m1", chat.RoleAssistant, 10*time.Minute),
		msg("m2", chat.RoleAssistant, 0),
	})
	assert.Len(t, groups, 2)
}

func TestGroupPreservesMessagesAndRoles(t *testing.T) {
	roles := []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleSystem}
	gaps := []time.Duration{0, 10 * time.Second, 299 * time.Second, 300 * time.Second, 301 * time.Second, time.Hour}

	var messages []chat.Message
	offset := time.Duration(0)
	for i := 0; i < 60; i++ {
		offset += gaps[(i*7)%len(gaps)]
		role := roles[(i*i+i/3)%len(roles)]
		messages = append(messages, msg(fmt.Sprintf("m%d", i), role, offset))
	}

	groups := Group(messages)
	assert.Equal(t, messages, flatten(groups))

	for gi, g := range groups {
		require.NotEmpty(t, g.Messages)
		for _, m := range g.Messages {
			assert.Equal(t, g.Role, m.Role, "group %d is not role-homogeneous", gi)
		}
		if gi == 0 {
			continue
		}
		prev := groups[gi-1]
		if prev.Role == g.Role {
			last := prev.Messages[len(prev.Messages)-1]
			assert.Greater(t, g.Messages[0].Timestamp.Sub(last.Timestamp), MaxGap)
		}
	}
}
