package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pair-backend/internal/domain"
	"pair-backend/internal/repository/cockroach"
	"pair-backend/pkg/constants"
	apperrors "pair-backend/pkg/errors"
	"pair-backend/pkg/logger"
	"pair-backend/pkg/metrics"
)

// CallRepository is the session store: call records plus the live
// participant roster.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetActiveByGroup(ctx context.Context, groupID uuid.UUID) (*domain.Call, error)
	EndCall(ctx context.Context, callID uuid.UUID) error
	GetGroupCalls(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	AddParticipant(ctx context.Context, p *domain.CallParticipant) (bool, error)
	RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error
	RemoveAllParticipants(ctx context.Context, callID uuid.UUID) error
	CountParticipants(ctx context.Context, callID uuid.UUID) (int, error)
	GetRoster(ctx context.Context, callID uuid.UUID) ([]domain.RosterEntry, error)
	UpdateParticipantMedia(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoOn bool) error
}

// FeedRepository writes system announcements into the group feed.
type FeedRepository interface {
	Save(message *domain.FeedMessage) error
}

// AvatarPresigner converts stored avatar object keys into fetchable URLs.
type AvatarPresigner interface {
	PresignAvatar(ctx context.Context, key string) (string, error)
}

// CallEvent is published on the call's event channel whenever its
// persisted state changes. Subscribers re-fetch the call view on every
// event rather than trusting the payload.
type CallEvent struct {
	Type   string    `json:"type"` // "roster-changed", "ended"
	CallID uuid.UUID `json:"call_id"`
}

const (
	EventRosterChanged = "roster-changed"
	EventCallEnded     = "ended"
)

// EventChannel returns the pub/sub channel carrying a call's state
// change events. Distinct from the signaling channel.
func EventChannel(callID uuid.UUID) string {
	return fmt.Sprintf("call-events:%s", callID)
}

// Service implements call lifecycle operations: starting, joining,
// leaving and ending calls, with the session store as the source of
// truth. The feed repository, avatar presigner and Redis client are
// optional; a nil dependency disables that side effect but never fails
// the call operation.
type Service struct {
	callRepo CallRepository
	feedRepo FeedRepository
	avatars  AvatarPresigner
	redis    *redis.Client
}

// NewService creates a call service.
func NewService(callRepo CallRepository, feedRepo FeedRepository, avatars AvatarPresigner, redisClient *redis.Client) *Service {
	return &Service{
		callRepo: callRepo,
		feedRepo: feedRepo,
		avatars:  avatars,
		redis:    redisClient,
	}
}

// StartCall returns the group's active call, creating one with the
// initiator already on the roster if none exists. An active call older
// than the stale threshold is treated as a leaked record from a crashed
// session: it is force-ended and replaced rather than joined. On reuse
// the caller follows up with JoinCall.
func (s *Service) StartCall(ctx context.Context, groupID, userID uuid.UUID, callType domain.CallType) (*domain.Call, error) {
	existing, err := s.callRepo.GetActiveByGroup(ctx, groupID)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}

	if existing != nil {
		if !existing.IsStale(constants.StaleCallThreshold) {
			metrics.CallReusedTotal.Inc()
			return existing, nil
		}

		logger.Log.Warn("Reclaiming stale call",
			zap.String("call_id", existing.CallID.String()),
			zap.String("group_id", groupID.String()),
			zap.Time("started_at", existing.StartedAt))

		if err := s.callRepo.EndCall(ctx, existing.CallID); err != nil {
			return nil, apperrors.PersistenceError(err)
		}
		if err := s.callRepo.RemoveAllParticipants(ctx, existing.CallID); err != nil {
			return nil, apperrors.PersistenceError(err)
		}
		metrics.CallEndedTotal.WithLabelValues("stale_reclaim").Inc()
		metrics.CallsActive.Dec()
		s.publishEvent(ctx, existing.CallID, EventCallEnded)
	}

	call, err := domain.NewCall(groupID, userID, callType)
	if err != nil {
		return nil, apperrors.InvalidInputError(err.Error())
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, apperrors.PersistenceError(err)
	}

	// Seed the roster with the initiator so the call is never an active
	// record with nobody in it; the last-leave rule needs that first row.
	initiator, err := domain.NewCallParticipant(call.CallID, userID, callType)
	if err != nil {
		return nil, apperrors.InvalidInputError(err.Error())
	}
	if _, err := s.callRepo.AddParticipant(ctx, initiator); err != nil {
		return nil, apperrors.PersistenceError(err)
	}
	metrics.CallParticipantJoinTotal.WithLabelValues("joined").Inc()

	metrics.CallStartedTotal.WithLabelValues(string(callType)).Inc()
	metrics.CallsActive.Inc()

	s.postCallAnnouncement(call)
	s.publishEvent(ctx, call.CallID, EventRosterChanged)

	logger.Log.Info("Call started",
		zap.String("call_id", call.CallID.String()),
		zap.String("group_id", groupID.String()),
		zap.String("call_type", string(callType)))

	return call, nil
}

// JoinCall adds the user to the call's roster and returns the current
// roster. Joining twice is idempotent; the duplicate insert is a no-op
// and the caller still receives the roster.
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) ([]domain.RosterEntry, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, cockroach.ErrCallNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.PersistenceError(err)
	}
	if !call.IsActive() {
		return nil, apperrors.CallNotFoundError()
	}

	participant, err := domain.NewCallParticipant(callID, userID, call.CallType)
	if err != nil {
		return nil, apperrors.InvalidInputError(err.Error())
	}

	inserted, err := s.callRepo.AddParticipant(ctx, participant)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}

	if inserted {
		metrics.CallParticipantJoinTotal.WithLabelValues("joined").Inc()
		s.publishEvent(ctx, callID, EventRosterChanged)
	} else {
		metrics.CallParticipantJoinTotal.WithLabelValues("already_joined").Inc()
	}

	roster, err := s.roster(ctx, callID)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Participant joined call",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()),
		zap.Bool("first_join", inserted),
		zap.Int("roster_size", len(roster)))

	return roster, nil
}

// LeaveCall removes the user from the roster. The last participant to
// leave ends the call; an empty active call must not linger.
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) error {
	if err := s.callRepo.RemoveParticipant(ctx, callID, userID); err != nil {
		return apperrors.PersistenceError(err)
	}
	metrics.CallParticipantLeaveTotal.Inc()

	remaining, err := s.callRepo.CountParticipants(ctx, callID)
	if err != nil {
		return apperrors.PersistenceError(err)
	}

	if remaining > 0 {
		s.publishEvent(ctx, callID, EventRosterChanged)
		return nil
	}

	if err := s.endCall(ctx, callID, "empty_roster"); err != nil {
		return err
	}

	logger.Log.Info("Last participant left, call ended",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))

	return nil
}

// EndCall ends the call for everyone: the record is marked ended, the
// roster is purged and subscribers are told to exit call state. Only
// the initiator may do this; everyone else just leaves.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, cockroach.ErrCallNotFound) {
			return apperrors.CallNotFoundError()
		}
		return apperrors.PersistenceError(err)
	}
	if call.InitiatedBy != userID {
		return apperrors.ForbiddenError("Only the call initiator can end the call for everyone")
	}

	if err := s.finishCall(ctx, call, "explicit"); err != nil {
		return err
	}

	logger.Log.Info("Call ended for everyone",
		zap.String("call_id", callID.String()),
		zap.String("ended_by", userID.String()))
	return nil
}

func (s *Service) endCall(ctx context.Context, callID uuid.UUID, reason string) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, cockroach.ErrCallNotFound) {
			return apperrors.CallNotFoundError()
		}
		return apperrors.PersistenceError(err)
	}
	return s.finishCall(ctx, call, reason)
}

// finishCall marks the call ended, purges its roster and notifies
// subscribers. Callers have already resolved the call record.
func (s *Service) finishCall(ctx context.Context, call *domain.Call, reason string) error {
	callID := call.CallID

	if err := s.callRepo.EndCall(ctx, callID); err != nil {
		return apperrors.PersistenceError(err)
	}
	if err := s.callRepo.RemoveAllParticipants(ctx, callID); err != nil {
		return apperrors.PersistenceError(err)
	}

	metrics.CallEndedTotal.WithLabelValues(reason).Inc()
	if call.IsActive() {
		metrics.CallsActive.Dec()
		metrics.CallDurationSeconds.Observe(time.Since(call.StartedAt).Seconds())
	}

	s.publishEvent(ctx, callID, EventCallEnded)
	return nil
}

// SetParticipantMedia persists a participant's mute/video state so late
// joiners see correct indicators, then notifies subscribers.
func (s *Service) SetParticipantMedia(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoOn bool) error {
	if err := s.callRepo.UpdateParticipantMedia(ctx, callID, userID, isMuted, isVideoOn); err != nil {
		return apperrors.PersistenceError(err)
	}
	s.publishEvent(ctx, callID, EventRosterChanged)
	return nil
}

// GetCallView materializes the call record with its roster.
func (s *Service) GetCallView(ctx context.Context, callID uuid.UUID) (*domain.CallView, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, cockroach.ErrCallNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.PersistenceError(err)
	}

	roster, err := s.roster(ctx, callID)
	if err != nil {
		return nil, err
	}

	return &domain.CallView{Call: call, Roster: roster}, nil
}

// GetCallHistory returns a group's calls, newest first.
func (s *Service) GetCallHistory(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = constants.CallHistoryDefaultLimit
	}
	if limit > constants.CallHistoryMaxLimit {
		limit = constants.CallHistoryMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := s.callRepo.GetGroupCalls(ctx, groupID, limit, offset)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}
	return calls, nil
}

// SubscribeToCall delivers a fresh call view to onUpdate on every state
// change, starting with the current state. The returned function stops
// the subscription; the caller must invoke it when leaving call state.
// When the view's status flips to ended the caller should unsubscribe
// and exit.
func (s *Service) SubscribeToCall(ctx context.Context, callID uuid.UUID, onUpdate func(*domain.CallView)) (func(), error) {
	if s.redis == nil {
		return nil, apperrors.SignalingFailureError(errors.New("event bus unavailable"))
	}

	pubsub := s.redis.Subscribe(ctx, EventChannel(callID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, apperrors.SignalingFailureError(fmt.Errorf("failed to subscribe to call events: %w", err))
	}

	// Deliver the current state immediately so the subscriber is never
	// blank while waiting for the first change.
	if view, err := s.GetCallView(ctx, callID); err == nil {
		onUpdate(view)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-readCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event CallEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Log.Warn("Malformed call event", zap.Error(err))
					continue
				}

				view, err := s.GetCallView(readCtx, callID)
				if err != nil {
					logger.Log.Warn("Failed to refresh call view",
						zap.String("call_id", callID.String()),
						zap.Error(err))
					continue
				}
				onUpdate(view)
			}
		}
	}()

	return func() {
		cancel()
		pubsub.Close()
	}, nil
}

// roster fetches the roster and presigns each avatar key. Presigning
// failures degrade to the raw key instead of failing the roster.
func (s *Service) roster(ctx context.Context, callID uuid.UUID) ([]domain.RosterEntry, error) {
	roster, err := s.callRepo.GetRoster(ctx, callID)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}

	if s.avatars != nil {
		for i := range roster {
			if roster[i].AvatarURL == "" {
				continue
			}
			presigned, err := s.avatars.PresignAvatar(ctx, roster[i].AvatarURL)
			if err != nil {
				logger.Log.Warn("Failed to presign avatar",
					zap.String("user_id", roster[i].UserID.String()),
					zap.Error(err))
				continue
			}
			roster[i].AvatarURL = presigned
		}
	}

	return roster, nil
}

// postCallAnnouncement writes a system message into the group feed.
// Fire-and-forget; feed write failures never fail the call.
func (s *Service) postCallAnnouncement(call *domain.Call) {
	if s.feedRepo == nil {
		return
	}

	content := "Voice call started"
	if call.CallType == domain.CallTypeVideo {
		content = "Video call started"
	}

	go func() {
		message := domain.NewSystemMessage(call.GroupID, call.InitiatedBy, content)
		if err := s.feedRepo.Save(message); err != nil {
			logger.Log.Error("Failed to post call announcement",
				zap.String("call_id", call.CallID.String()),
				zap.String("group_id", call.GroupID.String()),
				zap.Error(err))
		}
	}()
}

// publishEvent notifies subscribers that the call's state changed.
// Best-effort; subscribers re-fetch state, so a lost event only delays
// the next refresh.
func (s *Service) publishEvent(ctx context.Context, callID uuid.UUID, eventType string) {
	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(CallEvent{Type: eventType, CallID: callID})
	if err != nil {
		return
	}

	if err := s.redis.Publish(ctx, EventChannel(callID), payload).Err(); err != nil {
		logger.Log.Warn("Failed to publish call event",
			zap.String("call_id", callID.String()),
			zap.String("event", eventType),
			zap.Error(err))
	}
}
