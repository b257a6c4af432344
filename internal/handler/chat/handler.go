package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/handler/middleware"
	"github.com/zhouzirui/docchat/internal/metrics"
	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/model/document"
	aiService "github.com/zhouzirui/docchat/internal/service/ai"
	chatService "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc   *chatService.Service
	documents document.Store
	aiSvc     *aiService.Service
	logger    *zap.Logger
}

// New 创建聊天处理器，aiSvc 为 nil 时问答接口返回 503。
func New(chatSvc *chatService.Service, documents document.Store, aiSvc *aiService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:   chatSvc,
		documents: documents,
		aiSvc:     aiSvc,
		logger:    logger.Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
	r.Post("/questions/ask", h.handleAsk)
}

type createSessionRequest struct {
	Title      string `json:"title" validate:"required"`
	DocumentID string `json:"documentId"`
}

type askRequest struct {
	Question   string `json:"question" validate:"required"`
	DocumentID string `json:"documentId"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if id := strings.TrimSpace(payload.DocumentID); id != "" {
		if _, ok := h.documents.FindByID(id); !ok {
			utils.RespondError(w, http.StatusBadRequest, "document not found")
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), userID, payload.Title, payload.DocumentID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}

	h.logger.Info("session created",
		zap.String("user_id", userID),
		zap.String("session_id", session.ID),
		zap.String("document_id", session.DocumentID))
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleListSessions 列出当前用户的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), userID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleGetSession 获取会话及全部消息
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleSendMessage 保存用户消息并返回完整回答
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.aiSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
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
		RespondServiceError(w, err)
		return
	}

	if _, err := h.chatSvc.AppendMessage(ctx, userID, sessionID, chat.RoleUser, payload.Content, payload.Attachments); err != nil {
		RespondServiceError(w, err)
		return
	}

	reply, err := h.aiSvc.Answer(ctx, aiService.Request{
		Question:   payload.Content,
		DocumentID: session.DocumentID,
		History:    session.Messages,
	})
	if err != nil {
		metrics.Answers.WithLabelValues("buffered", "failed").Inc()
		h.logger.Error("answer failed", zap.String("session_id", sessionID), zap.Error(err))
		RespondServiceError(w, err)
		return
	}
	metrics.Answers.WithLabelValues("buffered", "ok").Inc()

	if _, err := h.chatSvc.AppendMessage(ctx, userID, sessionID, chat.RoleAssistant, reply.Answer, nil); err != nil {
		h.logger.Warn("failed to save assistant message", zap.String("session_id", sessionID), zap.Error(err))
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleAsk 不依赖会话的单次问答
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if h.aiSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	var payload askRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.aiSvc.Answer(r.Context(), aiService.Request{
		Question:   payload.Question,
		DocumentID: payload.DocumentID,
	})
	if err != nil {
		metrics.Answers.WithLabelValues("ask", "failed").Inc()
		h.logger.Error("ask failed", zap.Error(err))
		RespondServiceError(w, err)
		return
	}
	metrics.Answers.WithLabelValues("ask", "ok").Inc()
	utils.RespondJSON(w, http.StatusOK, reply)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing user")
		return "", false
	}
	return userID, true
}

// RespondServiceError 把服务层错误映射为 HTTP 状态码。
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chatService.ErrTitleRequired),
		errors.Is(err, chatService.ErrInvalidRole),
		errors.Is(err, aiService.ErrDocumentNotFound):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, aiService.ErrEmptyAnswer):
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
