package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallType represents the kind of call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusActive CallStatus = "active"
	CallStatusEnded  CallStatus = "ended"
)

// Call represents one multi-party call session within a group.
// A group has at most one active call at any time.
type Call struct {
	CallID      uuid.UUID  `json:"call_id"`
	GroupID     uuid.UUID  `json:"group_id"`
	InitiatedBy uuid.UUID  `json:"initiated_by"`
	CallType    CallType   `json:"call_type"` // voice, video
	Status      CallStatus `json:"status"`    // active, ended
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// NewCall validates inputs and constructs an active Call.
// Fails fast on malformed data instead of propagating zero-value fields.
func NewCall(groupID, initiatedBy uuid.UUID, callType CallType) (*Call, error) {
	if groupID == uuid.Nil {
		return nil, fmt.Errorf("call requires a group id")
	}
	if initiatedBy == uuid.Nil {
		return nil, fmt.Errorf("call requires an initiator id")
	}
	if callType != CallTypeVoice && callType != CallTypeVideo {
		return nil, fmt.Errorf("invalid call type %q", callType)
	}

	return &Call{
		CallID:      uuid.New(),
		GroupID:     groupID,
		InitiatedBy: initiatedBy,
		CallType:    callType,
		Status:      CallStatusActive,
		StartedAt:   time.Now(),
	}, nil
}

// IsActive reports whether the call is still joinable
func (c *Call) IsActive() bool {
	return c.Status == CallStatusActive
}

// IsStale reports whether an active call is older than the given threshold
// and should be reclaimed instead of joined
func (c *Call) IsStale(threshold time.Duration) bool {
	return c.IsActive() && time.Since(c.StartedAt) > threshold
}

// CallParticipant represents one user's membership within a call.
// At most one row exists per (call, user) pair.
type CallParticipant struct {
	CallID    uuid.UUID `json:"call_id"`
	UserID    uuid.UUID `json:"user_id"`
	IsMuted   bool      `json:"is_muted"`
	IsVideoOn bool      `json:"is_video_on"`
	JoinedAt  time.Time `json:"joined_at"`
}

// NewCallParticipant validates inputs and constructs a participant row.
// Video starts enabled for video calls only.
func NewCallParticipant(callID, userID uuid.UUID, callType CallType) (*CallParticipant, error) {
	if callID == uuid.Nil {
		return nil, fmt.Errorf("participant requires a call id")
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("participant requires a user id")
	}

	return &CallParticipant{
		CallID:    callID,
		UserID:    userID,
		IsMuted:   false,
		IsVideoOn: callType == CallTypeVideo,
		JoinedAt:  time.Now(),
	}, nil
}

// RosterEntry is a participant joined with identity info for display
type RosterEntry struct {
	CallParticipant
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// CallView is the materialized state of a call delivered to subscribers:
// the call record plus its current roster with identity data.
type CallView struct {
	Call   *Call         `json:"call"`
	Roster []RosterEntry `json:"roster"`
}
