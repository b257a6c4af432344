package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/handler/chat"
	"github.com/zhouzirui/docchat/internal/handler/document"
	"github.com/zhouzirui/docchat/internal/handler/middleware"
	"github.com/zhouzirui/docchat/internal/handler/stream"
	"github.com/zhouzirui/docchat/internal/metrics"
	documentModel "github.com/zhouzirui/docchat/internal/model/document"
	aiService "github.com/zhouzirui/docchat/internal/service/ai"
	chatService "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// Dependencies 路由需要的核心服务。AI 为 nil 时问答接口返回 503。
type Dependencies struct {
	Documents documentModel.Store
	Chat      *chatService.Service
	AI        *aiService.Service
	Auth      *middleware.Authenticator
	Logger    *zap.Logger
}

// NewRouter 把 HTTP 路由挂到核心服务上，/api 下的路由需要鉴权。
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	documentHandler := document.New(deps.Documents)
	chatHandler := chat.New(deps.Chat, deps.Documents, deps.AI, logger)
	streamHandler := stream.New(deps.AI, deps.Chat, logger)

	r.Route("/api", func(api chi.Router) {
		api.Use(deps.Auth.Middleware)

		documentHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
