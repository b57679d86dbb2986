package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/handler/apierr"
	chatService "github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/events"
	"github.com/ayurscan/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler streams session state changes via Server-Sent Events
type Handler struct {
	store     *chatService.Service
	broker    *events.Broker
	logger    *zap.Logger
	heartbeat time.Duration
}

// New creates a new stream handler
func New(store *chatService.Service, broker *events.Broker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     store,
		broker:    broker,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	sub, cancel := h.broker.Subscribe(sessionID)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.logger.Debug("opening event stream", zap.String("session", sessionID))
	if err := utils.SendSSEEvent(w, flusher, "state", events.Event{Type: "state", SessionID: sessionID, State: state, Time: time.Now().UTC()}); err != nil {
		return
	}

	h.pump(r.Context(), w, flusher, sub)
	h.logger.Debug("closing event stream", zap.String("session", sessionID))
}

func (h *Handler) pump(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub <-chan events.Event) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
