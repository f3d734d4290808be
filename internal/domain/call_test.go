package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestNewCall tests call construction and validation
func TestNewCall(t *testing.T) {
	groupID := uuid.New()
	userID := uuid.New()

	call, err := NewCall(groupID, userID, CallTypeVideo)

	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, call.CallID)
	assert.Equal(t, groupID, call.GroupID)
	assert.Equal(t, userID, call.InitiatedBy)
	assert.Equal(t, CallStatusActive, call.Status)
	assert.Nil(t, call.EndedAt)
	assert.True(t, call.IsActive())
}

// TestNewCall_Invalid tests constructor rejection of malformed input
func TestNewCall_Invalid(t *testing.T) {
	groupID := uuid.New()
	userID := uuid.New()

	_, err := NewCall(uuid.Nil, userID, CallTypeVoice)
	assert.Error(t, err)

	_, err = NewCall(groupID, uuid.Nil, CallTypeVoice)
	assert.Error(t, err)

	_, err = NewCall(groupID, userID, CallType("hologram"))
	assert.Error(t, err)
}

// TestCall_IsStale tests the stale threshold check
func TestCall_IsStale(t *testing.T) {
	call := &Call{
		Status:    CallStatusActive,
		StartedAt: time.Now().Add(-3 * time.Hour),
	}
	assert.True(t, call.IsStale(2*time.Hour))

	call.StartedAt = time.Now().Add(-30 * time.Minute)
	assert.False(t, call.IsStale(2*time.Hour))

	// Ended calls are never stale, they are just over.
	call.Status = CallStatusEnded
	call.StartedAt = time.Now().Add(-3 * time.Hour)
	assert.False(t, call.IsStale(2*time.Hour))
}

// TestNewCallParticipant tests participant defaults per call kind
func TestNewCallParticipant(t *testing.T) {
	callID := uuid.New()
	userID := uuid.New()

	p, err := NewCallParticipant(callID, userID, CallTypeVideo)
	assert.NoError(t, err)
	assert.False(t, p.IsMuted)
	assert.True(t, p.IsVideoOn)

	p, err = NewCallParticipant(callID, userID, CallTypeVoice)
	assert.NoError(t, err)
	assert.False(t, p.IsVideoOn)

	_, err = NewCallParticipant(uuid.Nil, userID, CallTypeVoice)
	assert.Error(t, err)
}

// TestCalculateBucket tests monthly feed bucketing
func TestCalculateBucket(t *testing.T) {
	ts := time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 202503, CalculateBucket(ts))
}
