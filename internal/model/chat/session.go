package chat

import (
	"time"

	"github.com/ayurscan/backend/internal/model/report"
)

// Stage names the step a session flow is currently in.
type Stage string

const (
	StageIdle     Stage = "idle"
	StageCapture  Stage = "capture"
	StageUpload   Stage = "upload"
	StageAnalysis Stage = "analysis"
	StageChat     Stage = "chat"
)

// Session captures a transient anonymous capture-and-chat session.
type Session struct {
	ID         string         `json:"id"`
	ShowCamera bool           `json:"showCamera"`
	Loading    bool           `json:"loading"`
	Stage      Stage          `json:"stage"`
	ImageURL   string         `json:"imageUrl,omitempty"`
	Report     *report.Report `json:"report,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
	ErrorStage Stage          `json:"errorStage,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// State is a point-in-time copy of a session together with its transcript.
type State struct {
	Session
	Transcript []Message `json:"transcript"`
}
