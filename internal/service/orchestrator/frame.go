package orchestrator

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// NormalizeFrame turns a captured still into something the uploader accepts.
// It reports false when the capture produced no frame.
func NormalizeFrame(frame string) (string, bool) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(frame, "data:"):
		idx := strings.Index(frame, ",")
		if idx < 0 || idx == len(frame)-1 {
			return "", false
		}
		return frame, true
	case strings.HasPrefix(frame, "https://"), strings.HasPrefix(frame, "http://"):
		return frame, true
	default:
		return "data:image/jpeg;base64," + frame, true
	}
}

// FrameFromBytes encodes raw image bytes as a data URI.
func FrameFromBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
