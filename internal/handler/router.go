package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/handler/chat"
	"github.com/ayurscan/backend/internal/handler/session"
	"github.com/ayurscan/backend/internal/handler/stream"
	"github.com/ayurscan/backend/internal/handler/web"
	middlewarePkg "github.com/ayurscan/backend/internal/middleware"
	chatService "github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/events"
	"github.com/ayurscan/backend/internal/service/orchestrator"
	"github.com/ayurscan/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(store *chatService.Service, flow *orchestrator.Service, broker *events.Broker, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS([]string{"*"}))

	sessionHandler := session.New(store, flow, logger)
	chatHandler := chat.New(store, flow, logger)
	streamHandler := stream.New(store, broker, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	web.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
