package document

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/docchat/internal/model/document"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// Handler 文档服务的HTTP处理器
type Handler struct {
	documents document.Store
}

// New 创建文档处理器
func New(documents document.Store) *Handler {
	return &Handler{documents: documents}
}

// RegisterRoutes 注册文档相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/documents", h.handleListDocuments)
}

// handleListDocuments 列出所有文档（不含正文）
func (h *Handler) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"documents": h.documents.List()})
}
