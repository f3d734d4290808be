package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"pair-backend/internal/domain"
)

// FeedRepository writes messages into a group's feed in Cassandra.
// Uses monthly bucketing to keep partitions bounded.
type FeedRepository struct {
	session *gocql.Session
}

// NewFeedRepository creates a new FeedRepository
func NewFeedRepository(session *gocql.Session) *FeedRepository {
	return &FeedRepository{session: session}
}

// Save inserts a message into the group feed
func (r *FeedRepository) Save(message *domain.FeedMessage) error {
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO group_messages (
			group_id, bucket, message_id, sender_id, content, message_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.GroupID,
		message.Bucket,
		message.MessageID,
		message.SenderID,
		message.Content,
		message.MessageType,
		message.CreatedAt,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to save feed message: %w", err)
	}

	return nil
}
