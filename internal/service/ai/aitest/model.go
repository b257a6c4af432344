// Package aitest 为测试提供按脚本回放的聊天模型。
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model 是回放固定输出的 model.BaseChatModel。
type Model struct {
	// Reply 是 Generate 的返回内容
	Reply string
	// Chunks 由 Stream 按顺序输出
	Chunks []string
	Err    error

	mu     sync.Mutex
	inputs [][]*schema.Message
}

var _ model.BaseChatModel = (*Model)(nil)

func (m *Model) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

func (m *Model) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}
	chunks := make([]*schema.Message, len(m.Chunks))
	for i, c := range m.Chunks {
		chunks[i] = schema.AssistantMessage(c, nil)
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// LastInput 返回最近一次调用收到的消息。
func (m *Model) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

func (m *Model) record(input []*schema.Message) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
}
