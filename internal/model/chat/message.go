package chat

import "time"

// Roles used in the transcript.
const (
	RoleUser = "User"
	RoleAI   = "AI"
)

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
