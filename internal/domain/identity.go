package domain

import (
	"github.com/google/uuid"
)

// Identity is the display identity lookup owned by the broader application.
// The call service only reads it when materializing rosters.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
