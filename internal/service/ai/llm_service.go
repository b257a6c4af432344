package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/config"
	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/model/document"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyAnswer      = errors.New("model returned an empty answer")
)

// Request 是一次提问。
type Request struct {
	Question   string
	DocumentID string
	// History 是提问之前的对话，按时间先后排列
	History []chat.Message
}

// Stream 是流式回答。Context 是回答所依据的文档摘录，未指定文档时为空。
type Stream struct {
	Context string
	Reader  *schema.StreamReader[*schema.Message]
}

// Service 基于文档内容生成回答。
type Service struct {
	documents document.Store
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

// NewService 使用配置的 Ark 模型创建服务。
func NewService(ctx context.Context, documents document.Store, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, documents, chatModel, cfg, logger)
}

// NewServiceWithModel 在已有模型之上构建提示词链。
func NewServiceWithModel(ctx context.Context, documents document.Store, chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		documents: documents,
		cfg:       cfg,
		chain:     runnable,
		logger:    logger.Named("ai"),
	}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Answer 一次性生成完整回答。
func (s *Service) Answer(ctx context.Context, req Request) (chat.Reply, error) {
	input, excerpt, err := s.buildChainInput(req)
	if err != nil {
		return chat.Reply{}, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return chat.Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		return chat.Reply{}, ErrEmptyAnswer
	}

	s.logger.Debug("answer generated",
		zap.String("document_id", req.DocumentID),
		zap.Int("length", len(answer)))

	reply := chat.Reply{Answer: answer}
	if excerpt != "" {
		reply.Context = chat.StringPtr(excerpt)
	}
	return reply, nil
}

// Stream 通过提示词链流式输出回答分片。
func (s *Service) Stream(ctx context.Context, req Request) (*Stream, error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input, excerpt, err := s.buildChainInput(req)
	if err != nil {
		return nil, err
	}

	reader, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return &Stream{Context: excerpt, Reader: reader}, nil
}

func (s *Service) buildChainInput(req Request) (map[string]any, string, error) {
	var doc *document.Document
	if id := strings.TrimSpace(req.DocumentID); id != "" {
		found, ok := s.documents.FindByID(id)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		doc = &found
	}

	excerpt := ""
	if doc != nil {
		excerpt = RelevantContext(doc.Paragraphs, req.Question, s.cfg.ContextParagraphs)
	}

	return map[string]any{
		"system":  buildSystemPrompt(doc, excerpt),
		"history": buildHistoryMessages(req.History, s.cfg.HistoryLimit),
		"query":   req.Question,
	}, excerpt, nil
}

func buildHistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	startIdx := 0
	if len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
