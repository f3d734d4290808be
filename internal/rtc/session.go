package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pair-backend/internal/signaling"
	"pair-backend/pkg/logger"
)

// Session is one user's participation in one call. It owns the local
// media, the peer-connection registry and the signaling router, and is
// constructed per call and discarded on leave. The owning controller
// reads Events to render remote tracks and roster changes.
type Session struct {
	callID      uuid.UUID
	localUserID uuid.UUID

	media    *Media
	registry *Registry
	router   *signaling.Router

	mu     sync.Mutex
	closed bool
}

// NewSession captures local media and assembles the signaling and peer
// machinery for one call. Media capture failure on a voice call aborts
// construction; the caller surfaces the media access error to the user.
func NewSession(engine *Engine, transport signaling.Transport, callID, localUserID uuid.UUID, wantsVideo bool) (*Session, error) {
	media := NewMedia(engine)
	if err := media.Initialize(wantsVideo); err != nil {
		return nil, err
	}

	// The registry sends through the router, which is built right after.
	// The closure resolves the variable at call time, never before Join.
	var router *signaling.Router
	registry := NewRegistry(engine, media, func(msg *signaling.Message) error {
		return router.Send(context.Background(), msg)
	})
	router = signaling.NewRouter(transport, registry, callID, localUserID)

	return &Session{
		callID:      callID,
		localUserID: localUserID,
		media:       media,
		registry:    registry,
		router:      router,
	}, nil
}

// Join announces the local participant on the call channel. Existing
// participants respond with offers which the session answers
// automatically.
func (s *Session) Join(ctx context.Context) error {
	return s.router.Join(ctx)
}

// Leave announces departure, closes every peer connection and releases
// local media. Safe to call more than once.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.router.Leave(ctx)
	s.media.Close()
	return err
}

// Events surfaces remote tracks and peer departures to the owning
// controller.
func (s *Session) Events() <-chan Event {
	return s.registry.Events()
}

// ToggleMute flips the microphone and broadcasts the new state. Returns
// the new muted state; without an audio track it is a no-op returning
// false.
func (s *Session) ToggleMute(ctx context.Context) bool {
	if !s.media.HasAudio() {
		return false
	}

	muted := s.media.ToggleMute()
	if err := s.router.AnnounceMediaState(ctx, signaling.TypeMuteAudio, !muted); err != nil {
		logger.Log.Warn("Failed to announce mute state",
			zap.String("call_id", s.callID.String()),
			zap.Error(err))
	}
	return muted
}

// ToggleVideo flips the camera and broadcasts the new state. Returns
// true when video is now on; without a video track it is a no-op
// returning false.
func (s *Session) ToggleVideo(ctx context.Context) bool {
	if !s.media.HasVideo() {
		return false
	}

	videoOn := s.media.ToggleVideo()
	if err := s.router.AnnounceMediaState(ctx, signaling.TypeMuteVideo, videoOn); err != nil {
		logger.Log.Warn("Failed to announce video state",
			zap.String("call_id", s.callID.String()),
			zap.Error(err))
	}
	return videoOn
}

// SwitchCamera cycles to the next camera and swaps the outgoing track on
// every live connection in place.
func (s *Session) SwitchCamera() error {
	return s.media.SwitchCamera(s.registry.ReplaceVideoTrack)
}

// IsMuted reports the local microphone state.
func (s *Session) IsMuted() bool {
	return s.media.IsMuted()
}

// IsVideoOn reports the local camera state.
func (s *Session) IsVideoOn() bool {
	return s.media.IsVideoOn()
}
