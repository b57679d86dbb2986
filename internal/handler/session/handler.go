package session

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/handler/apierr"
	"github.com/ayurscan/backend/internal/render"
	chatService "github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/orchestrator"
	"github.com/ayurscan/backend/pkg/utils"
)

// maxFrameBytes bounds a captured frame upload.
const maxFrameBytes = 10 << 20

// Handler 会话与拍摄流程的HTTP处理器
type Handler struct {
	store  *chatService.Service
	flow   *orchestrator.Service
	logger *zap.Logger
}

// New 创建会话处理器
func New(store *chatService.Service, flow *orchestrator.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, flow: flow, logger: logger}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Post("/sessions/{sessionID}/camera", h.handleStartCapture)
	r.Post("/sessions/{sessionID}/capture", h.handleCapture)
	r.Get("/sessions/{sessionID}/transcript", h.handleTranscript)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.CreateSession(r.Context())
	if err != nil {
		apierr.Write(w, err)
		return
	}
	state, err := h.store.Snapshot(r.Context(), session.ID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	h.logger.Info("session created", zap.String("session", session.ID))
	utils.RespondJSON(w, http.StatusCreated, state)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		apierr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	state, err := h.flow.StartCapture(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

// handleCapture 接收摄像头截图并执行上传、分析与聊天初始化
func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	frame, err := readFrame(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, captured, err := h.flow.CaptureFrame(r.Context(), sessionID, frame)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if !captured {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"lines":    render.Transcript(messages),
		"messages": messages,
	})
}

// readFrame accepts {"image": "<data uri>"} or a multipart "image" file.
func readFrame(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxFrameBytes); err != nil {
			return "", errors.New("invalid multipart body")
		}
		file, _, err := r.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		if err != nil {
			return "", errors.New("invalid image file")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", errors.New("failed to read image file")
		}
		return orchestrator.FrameFromBytes(data), nil
	}

	var payload struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return "", errors.New("invalid request body")
	}
	return strings.TrimSpace(payload.Image), nil
}
