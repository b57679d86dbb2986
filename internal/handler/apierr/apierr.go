// Package apierr maps service errors to HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/orchestrator"
	"github.com/ayurscan/backend/pkg/utils"
)

// Body is the JSON error payload.
type Body struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Status picks the HTTP status for an error.
func Status(err error) int {
	var stageErr *orchestrator.StageError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &stageErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromError builds the payload, naming the failed stage when there is one.
func FromError(err error) Body {
	body := Body{Error: err.Error()}
	var stageErr *orchestrator.StageError
	if errors.As(err, &stageErr) {
		body.Stage = string(stageErr.Stage)
	}
	return body
}

// Write sends the error with its mapped status.
func Write(w http.ResponseWriter, err error) {
	utils.RespondJSON(w, Status(err), FromError(err))
}
