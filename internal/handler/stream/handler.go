package stream

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/docchat/internal/handler/chat"
	"github.com/zhouzirui/docchat/internal/handler/middleware"
	"github.com/zhouzirui/docchat/internal/metrics"
	"github.com/zhouzirui/docchat/internal/model/chat"
	aiService "github.com/zhouzirui/docchat/internal/service/ai"
	chatService "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// Handler 通过 Server-Sent Events 推送流式回答
type Handler struct {
	aiService *aiService.Service
	chatSvc   *chatService.Service
	logger    *zap.Logger
}

// New 创建流式处理器
func New(aiSvc *aiService.Service, chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		aiService: aiSvc,
		chatSvc:   chatSvc,
		logger:    logger.Named("stream"),
	}
}

// RegisterRoutes 注册流式回复路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/messages/stream", h.handleStreamMessage)
	r.Post("/questions/ask/stream", h.handleAskStream)
}

type askRequest struct {
	Question   string `json:"question" validate:"required"`
	DocumentID string `json:"documentId"`
}

// handleStreamMessage 保存用户消息并流式返回回答：
// 先发 `{context}`，再逐个发 `{token}`，最后发 `{answer, context, done}`。
func (h *Handler) handleStreamMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing user")
		return
	}
	if h.aiService == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	var payload chat.SendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(ctx, userID, sessionID)
	if err != nil {
		chatHandler.RespondServiceError(w, err)
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.chatSvc.AppendMessage(ctx, userID, sessionID, chat.RoleUser, payload.Content, payload.Attachments); err != nil {
		h.sendError(sse, sessionID, "failed to save message", err)
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	req := aiService.Request{
		Question:   payload.Content,
		DocumentID: session.DocumentID,
		History:    session.Messages,
	}

	var reply chat.Reply
	if h.aiService.StreamingEnabled() {
		reply, err = h.streamAnswer(r, sse, req)
	} else {
		reply, err = h.bufferedAnswer(r, sse, req)
	}
	if err != nil {
		metrics.Answers.WithLabelValues("streamed", "failed").Inc()
		h.sendError(sse, sessionID, "answer generation failed", err)
		return
	}
	metrics.Answers.WithLabelValues("streamed", "ok").Inc()

	if _, err := h.chatSvc.AppendMessage(ctx, userID, sessionID, chat.RoleAssistant, reply.Answer, nil); err != nil {
		h.logger.Warn("failed to save assistant message", zap.String("session_id", sessionID), zap.Error(err))
	}

	_ = sse.Send(chat.Frame{Answer: &reply.Answer, Context: reply.Context, Done: true})
	h.logger.Info("stream completed", zap.String("session_id", sessionID), zap.Int("length", len(reply.Answer)))
}

func (h *Handler) streamAnswer(r *http.Request, sse *utils.SSEWriter, req aiService.Request) (chat.Reply, error) {
	stream, err := h.aiService.Stream(r.Context(), req)
	if err != nil {
		return chat.Reply{}, err
	}
	return relay(sse, stream)
}

// relay 先写上下文帧，再每个分片写一帧，返回拼接后的回答。返回时关闭 reader。
func relay(sse *utils.SSEWriter, stream *aiService.Stream) (chat.Reply, error) {
	defer stream.Reader.Close()

	var excerpt *string
	if stream.Context != "" {
		excerpt = chat.StringPtr(stream.Context)
		if err := sse.Send(chat.Frame{Context: excerpt}); err != nil {
			return chat.Reply{}, err
		}
	}

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return chat.Reply{}, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			token := chunk.Content
			if err := sse.Send(chat.Frame{Token: &token}); err != nil {
				return chat.Reply{}, err
			}
		}
	}

	if len(chunks) == 0 {
		return chat.Reply{}, aiService.ErrEmptyAnswer
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return chat.Reply{}, err
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		return chat.Reply{}, aiService.ErrEmptyAnswer
	}
	return chat.Reply{Answer: answer, Context: excerpt}, nil
}

// bufferedAnswer 在未开启流式输出时使用：先发上下文帧，再一次性给出完整回答。
func (h *Handler) bufferedAnswer(r *http.Request, sse *utils.SSEWriter, req aiService.Request) (chat.Reply, error) {
	reply, err := h.aiService.Answer(r.Context(), req)
	if err != nil {
		return chat.Reply{}, err
	}
	if reply.Context != nil {
		if err := sse.Send(chat.Frame{Context: reply.Context}); err != nil {
			return chat.Reply{}, err
		}
	}
	return reply, nil
}

func (h *Handler) sendError(sse *utils.SSEWriter, sessionID, message string, err error) {
	h.logger.Error(message, zap.String("session_id", sessionID), zap.Error(err))
	_ = sse.Send(chat.Frame{Error: message + ": " + err.Error()})
}

// handleAskStream 不依赖会话的流式问答，不保存任何消息。
// 文档不存在等错误在写出 SSE 头之前以 JSON 状态码返回。
func (h *Handler) handleAskStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserID(r.Context()); !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing user")
		return
	}
	if h.aiService == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	var payload askRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := aiService.Request{Question: payload.Question, DocumentID: payload.DocumentID}

	var (
		stream   *aiService.Stream
		buffered chat.Reply
		err      error
	)
	if h.aiService.StreamingEnabled() {
		stream, err = h.aiService.Stream(r.Context(), req)
	} else {
		buffered, err = h.aiService.Answer(r.Context(), req)
	}
	if err != nil {
		metrics.Answers.WithLabelValues("ask_streamed", "failed").Inc()
		h.logger.Error("ask stream failed", zap.Error(err))
		chatHandler.RespondServiceError(w, err)
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		if stream != nil {
			stream.Reader.Close()
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	reply := buffered
	if stream != nil {
		reply, err = relay(sse, stream)
	} else if reply.Context != nil {
		err = sse.Send(chat.Frame{Context: reply.Context})
	}
	if err != nil {
		metrics.Answers.WithLabelValues("ask_streamed", "failed").Inc()
		h.sendError(sse, "", "answer generation failed", err)
		return
	}
	metrics.Answers.WithLabelValues("ask_streamed", "ok").Inc()

	_ = sse.Send(chat.Frame{Answer: &reply.Answer, Context: reply.Context, Done: true})
	h.logger.Info("ask stream completed", zap.String("document_id", payload.DocumentID), zap.Int("length", len(reply.Answer)))
}
