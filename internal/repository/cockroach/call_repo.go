package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pair-backend/internal/domain"
)

// ErrCallNotFound is returned when a lookup targets a call that does not exist
var ErrCallNotFound = errors.New("call not found")

// CallRepository handles call and participant data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create creates a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, group_id, initiated_by, call_type, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.GroupID,
		call.InitiatedBy,
		call.CallType,
		call.Status,
		call.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, group_id, initiated_by, call_type, status, started_at, ended_at
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.GroupID,
		&call.InitiatedBy,
		&call.CallType,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// GetActiveByGroup retrieves the group's active call, if any.
// Returns (nil, nil) when the group has no active call.
func (r *CallRepository) GetActiveByGroup(ctx context.Context, groupID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, group_id, initiated_by, call_type, status, started_at, ended_at
		FROM calls
		WHERE group_id = $1 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, groupID).Scan(
		&call.CallID,
		&call.GroupID,
		&call.InitiatedBy,
		&call.CallType,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active call: %w", err)
	}

	return call, nil
}

// EndCall marks a call as ended with an end timestamp
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE calls
		SET status = 'ended',
		    ended_at = NOW()
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}

	return nil
}

// GetGroupCalls retrieves a group's call history, newest first
func (r *CallRepository) GetGroupCalls(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT call_id, group_id, initiated_by, call_type, status, started_at, ended_at
		FROM calls
		WHERE group_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get group calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.CallID,
			&call.GroupID,
			&call.InitiatedBy,
			&call.CallType,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group calls: %w", err)
	}

	return calls, nil
}

// AddParticipant inserts a participant row unless one already exists for
// (call_id, user_id). Returns false when the row was already present, so
// re-entry stays idempotent.
func (r *CallRepository) AddParticipant(ctx context.Context, p *domain.CallParticipant) (bool, error) {
	query := `
		INSERT INTO call_participants (call_id, user_id, is_muted, is_video_on, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_id, user_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, p.CallID, p.UserID, p.IsMuted, p.IsVideoOn, p.JoinedAt)
	if err != nil {
		return false, fmt.Errorf("failed to add participant: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// RemoveParticipant deletes the participant row for (callID, userID)
func (r *CallRepository) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	query := `
		DELETE FROM call_participants
		WHERE call_id = $1 AND user_id = $2
	`

	_, err := r.pool.Exec(ctx, query, callID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}

// RemoveAllParticipants clears the roster when a call is ended for everyone
func (r *CallRepository) RemoveAllParticipants(ctx context.Context, callID uuid.UUID) error {
	query := `
		DELETE FROM call_participants
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID)
	if err != nil {
		return fmt.Errorf("failed to remove participants: %w", err)
	}

	return nil
}

// CountParticipants returns the current roster size
func (r *CallRepository) CountParticipants(ctx context.Context, callID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM call_participants WHERE call_id = $1
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, callID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}

	return count, nil
}

// GetRoster retrieves all participants in a call joined with identity info
func (r *CallRepository) GetRoster(ctx context.Context, callID uuid.UUID) ([]domain.RosterEntry, error) {
	query := `
		SELECT cp.call_id, cp.user_id, cp.is_muted, cp.is_video_on, cp.joined_at,
		       u.username, u.avatar_url
		FROM call_participants cp
		JOIN users u ON u.user_id = cp.user_id
		WHERE cp.call_id = $1
		ORDER BY cp.joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get roster: %w", err)
	}
	defer rows.Close()

	var roster []domain.RosterEntry
	for rows.Next() {
		var entry domain.RosterEntry
		err := rows.Scan(
			&entry.CallID,
			&entry.UserID,
			&entry.IsMuted,
			&entry.IsVideoOn,
			&entry.JoinedAt,
			&entry.Username,
			&entry.AvatarURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roster entry: %w", err)
		}
		roster = append(roster, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	return roster, nil
}

// UpdateParticipantMedia updates a participant's mute/video state
func (r *CallRepository) UpdateParticipantMedia(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoOn bool) error {
	query := `
		UPDATE call_participants
		SET is_muted = $3, is_video_on = $4
		WHERE call_id = $1 AND user_id = $2
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, isMuted, isVideoOn)
	if err != nil {
		return fmt.Errorf("failed to update participant media: %w", err)
	}

	return nil
}
