package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/claudio/backend/internal/handler/chat"
	"github.com/zhouzirui/claudio/backend/internal/handler/persona"
	"github.com/zhouzirui/claudio/backend/internal/handler/stream"
	"github.com/zhouzirui/claudio/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/claudio/backend/internal/middleware"
	personaModel "github.com/zhouzirui/claudio/backend/internal/model/persona"
	aiService "github.com/zhouzirui/claudio/backend/internal/service/ai"
	chatService "github.com/zhouzirui/claudio/backend/internal/service/chat"
	"github.com/zhouzirui/claudio/backend/internal/web"
	"github.com/zhouzirui/claudio/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
// limiter 为 nil 时不限流。
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, aiSvc *aiService.Service, limiter *middlewarePkg.RateLimiter) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(log.Logger.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	page, err := web.Handler(personas)
	if err != nil {
		return nil, err
	}
	r.Method(http.MethodGet, "/", page)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"assistant": aiSvc != nil,
		})
	})

	personaHandler := persona.New(personas)
	chatHandler := chat.New(chatSvc, aiSvc, personas).WithSubmitMiddleware(limiter.Middleware)
	streamHandler := stream.New(aiSvc, chatSvc, personas)
	wsHandler := ws.New(aiSvc, chatSvc, personas)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api.With(limiter.Middleware))
		wsHandler.RegisterRoutes(api)
	})

	return r, nil
}
