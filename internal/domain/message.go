package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes user content from service-generated messages
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// FeedMessage is a message in a group's feed. The call service only writes
// system-type announcements ("Video call started"); user chat is owned by
// the chat service.
type FeedMessage struct {
	MessageID   uuid.UUID `json:"message_id"`
	GroupID     uuid.UUID `json:"group_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
	Bucket      int       `json:"bucket"`
}

// CalculateBucket maps a timestamp to a monthly partition bucket (YYYYMM).
// Keeps Cassandra partitions bounded for long-lived groups.
func CalculateBucket(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}

// NewSystemMessage constructs a system announcement for a group feed
func NewSystemMessage(groupID, senderID uuid.UUID, content string) *FeedMessage {
	now := time.Now()
	return &FeedMessage{
		MessageID:   uuid.New(),
		GroupID:     groupID,
		SenderID:    senderID,
		Content:     content,
		MessageType: MessageTypeSystem,
		CreatedAt:   now,
		Bucket:      CalculateBucket(now),
	}
}
