package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"pair-backend/internal/domain"
	"pair-backend/internal/repository/cockroach"
	apperrors "pair-backend/pkg/errors"
)

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) GetActiveByGroup(ctx context.Context, groupID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) EndCall(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallRepository) GetGroupCalls(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	args := m.Called(ctx, groupID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *MockCallRepository) AddParticipant(ctx context.Context, p *domain.CallParticipant) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	args := m.Called(ctx, callID, userID)
	return args.Error(0)
}

func (m *MockCallRepository) RemoveAllParticipants(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallRepository) CountParticipants(ctx context.Context, callID uuid.UUID) (int, error) {
	args := m.Called(ctx, callID)
	return args.Int(0), args.Error(1)
}

func (m *MockCallRepository) GetRoster(ctx context.Context, callID uuid.UUID) ([]domain.RosterEntry, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RosterEntry), args.Error(1)
}

func (m *MockCallRepository) UpdateParticipantMedia(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoOn bool) error {
	args := m.Called(ctx, callID, userID, isMuted, isVideoOn)
	return args.Error(0)
}

// MockFeedRepository is a mock implementation of FeedRepository
type MockFeedRepository struct {
	mock.Mock
}

func (m *MockFeedRepository) Save(message *domain.FeedMessage) error {
	args := m.Called(message)
	return args.Error(0)
}

// MockAvatarPresigner is a mock implementation of AvatarPresigner
type MockAvatarPresigner struct {
	mock.Mock
}

func (m *MockAvatarPresigner) PresignAvatar(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// TestStartCall_CreatesNewCall tests starting a call when no active call exists
func TestStartCall_CreatesNewCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	groupID := uuid.New()
	userID := uuid.New()

	var initiator *domain.CallParticipant
	mockCallRepo.On("GetActiveByGroup", mock.Anything, groupID).Return(nil, nil)
	mockCallRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	mockCallRepo.On("AddParticipant", mock.Anything, mock.AnythingOfType("*domain.CallParticipant")).Run(func(args mock.Arguments) {
		initiator = args.Get(1).(*domain.CallParticipant)
	}).Return(true, nil)

	call, err := service.StartCall(context.Background(), groupID, userID, domain.CallTypeVideo)

	assert.NoError(t, err)
	assert.NotNil(t, call)
	assert.Equal(t, groupID, call.GroupID)
	assert.Equal(t, userID, call.InitiatedBy)
	assert.Equal(t, domain.CallTypeVideo, call.CallType)
	assert.Equal(t, domain.CallStatusActive, call.Status)

	// The initiator lands on the roster immediately; the call must never
	// sit active with nobody in it.
	assert.NotNil(t, initiator)
	assert.Equal(t, call.CallID, initiator.CallID)
	assert.Equal(t, userID, initiator.UserID)
	assert.True(t, initiator.IsVideoOn)
	mockCallRepo.AssertExpectations(t)
}

// TestStartCall_ReusesActiveCall tests that a recent active call is
// returned instead of creating a duplicate
func TestStartCall_ReusesActiveCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	groupID := uuid.New()
	userID := uuid.New()

	existing := &domain.Call{
		CallID:    uuid.New(),
		GroupID:   groupID,
		CallType:  domain.CallTypeVoice,
		Status:    domain.CallStatusActive,
		StartedAt: time.Now().Add(-10 * time.Minute),
	}

	mockCallRepo.On("GetActiveByGroup", mock.Anything, groupID).Return(existing, nil)

	call, err := service.StartCall(context.Background(), groupID, userID, domain.CallTypeVoice)

	assert.NoError(t, err)
	assert.Equal(t, existing.CallID, call.CallID)
	mockCallRepo.AssertNotCalled(t, "Create")
	mockCallRepo.AssertExpectations(t)
}

// TestStartCall_ReclaimsStaleCall tests that an active call older than
// the stale threshold is force-ended and replaced
func TestStartCall_ReclaimsStaleCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	groupID := uuid.New()
	userID := uuid.New()

	stale := &domain.Call{
		CallID:    uuid.New(),
		GroupID:   groupID,
		CallType:  domain.CallTypeVideo,
		Status:    domain.CallStatusActive,
		StartedAt: time.Now().Add(-3 * time.Hour),
	}

	mockCallRepo.On("GetActiveByGroup", mock.Anything, groupID).Return(stale, nil)
	mockCallRepo.On("EndCall", mock.Anything, stale.CallID).Return(nil)
	mockCallRepo.On("RemoveAllParticipants", mock.Anything, stale.CallID).Return(nil)
	mockCallRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	mockCallRepo.On("AddParticipant", mock.Anything, mock.AnythingOfType("*domain.CallParticipant")).Return(true, nil)

	call, err := service.StartCall(context.Background(), groupID, userID, domain.CallTypeVideo)

	assert.NoError(t, err)
	assert.NotEqual(t, stale.CallID, call.CallID)
	assert.Equal(t, domain.CallStatusActive, call.Status)
	mockCallRepo.AssertExpectations(t)
}

// TestStartCall_InvalidCallType tests rejection of unknown call kinds
func TestStartCall_InvalidCallType(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	groupID := uuid.New()
	userID := uuid.New()

	mockCallRepo.On("GetActiveByGroup", mock.Anything, groupID).Return(nil, nil)

	call, err := service.StartCall(context.Background(), groupID, userID, domain.CallType("screenshare"))

	assert.Error(t, err)
	assert.Nil(t, call)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetAppError(err).Code)
	mockCallRepo.AssertNotCalled(t, "Create")
}

// TestStartCall_PostsAnnouncementOnce tests that creating a call posts a
// system message to the group feed, while reusing one does not
func TestStartCall_PostsAnnouncementOnce(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	mockFeedRepo := new(MockFeedRepository)
	service := NewService(mockCallRepo, mockFeedRepo, nil, nil)

	groupID := uuid.New()
	userID := uuid.New()

	saved := make(chan *domain.FeedMessage, 1)
	mockCallRepo.On("GetActiveByGroup", mock.Anything, groupID).Return(nil, nil).Once()
	mockCallRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	mockCallRepo.On("AddParticipant", mock.Anything, mock.AnythingOfType("*domain.CallParticipant")).Return(true, nil)
	mockFeedRepo.On("Save", mock.AnythingOfType("*domain.FeedMessage")).Run(func(args mock.Arguments) {
		saved <- args.Get(0).(*domain.FeedMessage)
	}).Return(nil)

	call, err := service.StartCall(context.Background(), groupID, userID, domain.CallTypeVideo)
	assert.NoError(t, err)

	select {
	case message := <-saved:
		assert.Equal(t, groupID, message.GroupID)
		assert.Equal(t, domain.MessageTypeSystem, message.MessageType)
		assert.Equal(t, "Video call started", message.Content)
	case <-time.After(time.Second):
		t.Fatal("expected call announcement to be posted")
	}

	// A second start reuses the active call and posts nothing.
	mockCallRepo.On("GetActiveByGroup", mock.Anything, groupID).Return(call, nil).Once()

	_, err = service.StartCall(context.Background(), groupID, userID, domain.CallTypeVideo)
	assert.NoError(t, err)

	select {
	case <-saved:
		t.Fatal("reusing an active call must not post an announcement")
	case <-time.After(50 * time.Millisecond):
	}

	mockFeedRepo.AssertNumberOfCalls(t, "Save", 1)
}

// TestJoinCall tests joining an active call
func TestJoinCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	userID := uuid.New()

	activeCall := &domain.Call{
		CallID:    callID,
		CallType:  domain.CallTypeVideo,
		Status:    domain.CallStatusActive,
		StartedAt: time.Now(),
	}
	roster := []domain.RosterEntry{
		{CallParticipant: domain.CallParticipant{CallID: callID, UserID: userID}, Username: "ana"},
	}

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(activeCall, nil)
	mockCallRepo.On("AddParticipant", mock.Anything, mock.AnythingOfType("*domain.CallParticipant")).Return(true, nil)
	mockCallRepo.On("GetRoster", mock.Anything, callID).Return(roster, nil)

	result, err := service.JoinCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	assert.Len(t, result, 1)
	assert.Equal(t, "ana", result[0].Username)
	mockCallRepo.AssertExpectations(t)
}

// TestJoinCall_Idempotent tests that joining twice succeeds without a
// duplicate roster entry
func TestJoinCall_Idempotent(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	userID := uuid.New()

	activeCall := &domain.Call{
		CallID:    callID,
		CallType:  domain.CallTypeVoice,
		Status:    domain.CallStatusActive,
		StartedAt: time.Now(),
	}
	roster := []domain.RosterEntry{
		{CallParticipant: domain.CallParticipant{CallID: callID, UserID: userID}},
	}

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(activeCall, nil)
	// Second insert hits the existing row and reports no change.
	mockCallRepo.On("AddParticipant", mock.Anything, mock.AnythingOfType("*domain.CallParticipant")).Return(false, nil)
	mockCallRepo.On("GetRoster", mock.Anything, callID).Return(roster, nil)

	result, err := service.JoinCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	assert.Len(t, result, 1)
	mockCallRepo.AssertExpectations(t)
}

// TestJoinCall_NotFound tests joining a missing call
func TestJoinCall_NotFound(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(nil, cockroach.ErrCallNotFound)

	result, err := service.JoinCall(context.Background(), callID, uuid.New())

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, apperrors.GetAppError(err).Code)
	mockCallRepo.AssertNotCalled(t, "AddParticipant")
}

// TestJoinCall_Ended tests joining an already ended call
func TestJoinCall_Ended(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	endedCall := &domain.Call{
		CallID:   callID,
		CallType: domain.CallTypeVideo,
		Status:   domain.CallStatusEnded,
	}

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(endedCall, nil)

	_, err := service.JoinCall(context.Background(), callID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, apperrors.GetAppError(err).Code)
	mockCallRepo.AssertNotCalled(t, "AddParticipant")
}

// TestLeaveCall tests leaving while other participants remain
func TestLeaveCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	userID := uuid.New()

	mockCallRepo.On("RemoveParticipant", mock.Anything, callID, userID).Return(nil)
	mockCallRepo.On("CountParticipants", mock.Anything, callID).Return(1, nil)

	err := service.LeaveCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	mockCallRepo.AssertNotCalled(t, "EndCall")
	mockCallRepo.AssertExpectations(t)
}

// TestLeaveCall_LastParticipantEndsCall tests that an empty roster ends
// the call
func TestLeaveCall_LastParticipantEndsCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	userID := uuid.New()

	activeCall := &domain.Call{
		CallID:    callID,
		CallType:  domain.CallTypeVoice,
		Status:    domain.CallStatusActive,
		StartedAt: time.Now().Add(-5 * time.Minute),
	}

	mockCallRepo.On("RemoveParticipant", mock.Anything, callID, userID).Return(nil)
	mockCallRepo.On("CountParticipants", mock.Anything, callID).Return(0, nil)
	mockCallRepo.On("GetByID", mock.Anything, callID).Return(activeCall, nil)
	mockCallRepo.On("EndCall", mock.Anything, callID).Return(nil)
	mockCallRepo.On("RemoveAllParticipants", mock.Anything, callID).Return(nil)

	err := service.LeaveCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	mockCallRepo.AssertExpectations(t)
}

// TestEndCall tests that the initiator can end the call for everyone
func TestEndCall(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	initiatorID := uuid.New()
	activeCall := &domain.Call{
		CallID:      callID,
		InitiatedBy: initiatorID,
		CallType:    domain.CallTypeVideo,
		Status:      domain.CallStatusActive,
		StartedAt:   time.Now().Add(-time.Hour),
	}

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(activeCall, nil)
	mockCallRepo.On("EndCall", mock.Anything, callID).Return(nil)
	mockCallRepo.On("RemoveAllParticipants", mock.Anything, callID).Return(nil)

	err := service.EndCall(context.Background(), callID, initiatorID)

	assert.NoError(t, err)
	mockCallRepo.AssertExpectations(t)
}

// TestEndCall_NotInitiator tests that end-for-everyone is refused for
// anyone but the call initiator
func TestEndCall_NotInitiator(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	activeCall := &domain.Call{
		CallID:      callID,
		InitiatedBy: uuid.New(),
		CallType:    domain.CallTypeVoice,
		Status:      domain.CallStatusActive,
		StartedAt:   time.Now(),
	}

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(activeCall, nil)

	err := service.EndCall(context.Background(), callID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
	mockCallRepo.AssertNotCalled(t, "EndCall")
	mockCallRepo.AssertNotCalled(t, "RemoveAllParticipants")
}

// TestSetParticipantMedia tests persisting mute/video state
func TestSetParticipantMedia(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	userID := uuid.New()

	mockCallRepo.On("UpdateParticipantMedia", mock.Anything, callID, userID, true, false).Return(nil)

	err := service.SetParticipantMedia(context.Background(), callID, userID, true, false)

	assert.NoError(t, err)
	mockCallRepo.AssertExpectations(t)
}

// TestGetCallHistory tests limit defaulting and capping
func TestGetCallHistory(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	groupID := uuid.New()
	calls := []*domain.Call{
		{CallID: uuid.New(), GroupID: groupID, CallType: domain.CallTypeVideo, Status: domain.CallStatusEnded},
	}

	mockCallRepo.On("GetGroupCalls", mock.Anything, groupID, 20, 0).Return(calls, nil)

	result, err := service.GetCallHistory(context.Background(), groupID, 0, 0)

	assert.NoError(t, err)
	assert.Len(t, result, 1)
	mockCallRepo.AssertExpectations(t)

	mockCallRepo.On("GetGroupCalls", mock.Anything, groupID, 100, 0).Return(calls, nil)

	_, err = service.GetCallHistory(context.Background(), groupID, 500, 0)
	assert.NoError(t, err)
	mockCallRepo.AssertExpectations(t)
}

// TestJoinCall_PresignsAvatars tests that roster avatar keys are
// presigned when a presigner is configured
func TestJoinCall_PresignsAvatars(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	mockPresigner := new(MockAvatarPresigner)
	service := NewService(mockCallRepo, nil, mockPresigner, nil)

	callID := uuid.New()
	userID := uuid.New()

	activeCall := &domain.Call{
		CallID:    callID,
		CallType:  domain.CallTypeVideo,
		Status:    domain.CallStatusActive,
		StartedAt: time.Now(),
	}
	roster := []domain.RosterEntry{
		{CallParticipant: domain.CallParticipant{CallID: callID, UserID: userID}, Username: "ben", AvatarURL: "avatars/ben.jpg"},
	}

	mockCallRepo.On("GetByID", mock.Anything, callID).Return(activeCall, nil)
	mockCallRepo.On("AddParticipant", mock.Anything, mock.AnythingOfType("*domain.CallParticipant")).Return(true, nil)
	mockCallRepo.On("GetRoster", mock.Anything, callID).Return(roster, nil)
	mockPresigner.On("PresignAvatar", mock.Anything, "avatars/ben.jpg").Return("https://cdn.example.com/avatars/ben.jpg?sig=abc", nil)

	result, err := service.JoinCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/ben.jpg?sig=abc", result[0].AvatarURL)
	mockPresigner.AssertExpectations(t)
}

// TestLeaveCall_PersistenceError tests that store failures surface the
// persistence error code
func TestLeaveCall_PersistenceError(t *testing.T) {
	mockCallRepo := new(MockCallRepository)
	service := NewService(mockCallRepo, nil, nil, nil)

	callID := uuid.New()
	userID := uuid.New()

	mockCallRepo.On("RemoveParticipant", mock.Anything, callID, userID).Return(errors.New("connection refused"))

	err := service.LeaveCall(context.Background(), callID, userID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetAppError(err).Code)
}
