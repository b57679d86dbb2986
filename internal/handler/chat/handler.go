package chat

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/handler/apierr"
	chatService "github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/orchestrator"
	"github.com/ayurscan/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	store    *chatService.Service
	flow     *orchestrator.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
	pongWait time.Duration
}

// New 创建聊天处理器
func New(store *chatService.Service, flow *orchestrator.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  store,
		flow:   flow,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait: defaultPongWait,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

// handleSendMessage 发送一条聊天消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.flow.SendChatMessage(r.Context(), chi.URLParam(r, "sessionID"), payload.Message)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}
