package chat

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/handler/apierr"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
)

type inboundMessage struct {
	Message string `json:"message"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理WebSocket聊天连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	pongWait := h.pongWait
	done := make(chan struct{})
	writes := make(chan outgoingMessage, 8)
	stopped := make(chan struct{})
	go h.writeLoop(conn, writes, done, stopped, pongWait*9/10)
	defer func() {
		close(done)
		<-stopped
	}()

	send := func(msgType string, data interface{}) {
		select {
		case writes <- outgoingMessage{Type: msgType, SessionID: sessionID, Data: data, Timestamp: time.Now().UnixMilli()}:
		case <-stopped:
		}
	}

	send("state", state)

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket closed", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}

		state, err := h.flow.SendChatMessage(ctx, sessionID, msg.Message)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err != nil {
			send("error", apierr.FromError(err))
			if state.ID != "" {
				send("state", state)
			}
			continue
		}
		send("state", state)
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, writes <-chan outgoingMessage, done <-chan struct{}, stopped chan<- struct{}, pingPeriod time.Duration) {
	defer close(stopped)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.flush(conn, writes)
			return
		case msg := <-writes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// flush writes the frames still queued when the read side stops.
func (h *Handler) flush(conn *websocket.Conn, writes <-chan outgoingMessage) {
	for {
		select {
		case msg := <-writes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
