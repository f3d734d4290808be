package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"

	apperrors "pair-backend/pkg/errors"
	"pair-backend/pkg/logger"
)

// Media owns the local capture tracks for one call session: the
// microphone and, for video calls, the camera. Mute and video state are
// tracked here and announced to peers through signaling; the registry
// pulls the tracks when building peer connections.
type Media struct {
	codecSelector *mediadevices.CodecSelector
	capture       func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)

	mu          sync.Mutex
	audioTracks []mediadevices.Track
	videoTracks []mediadevices.Track
	muted       bool
	videoOn     bool
	cameraIndex int
}

// NewMedia creates an empty media holder bound to the engine's codecs.
// Call Initialize before joining a call.
func NewMedia(engine *Engine) *Media {
	return &Media{
		codecSelector: engine.codecSelector,
		capture:       mediadevices.GetUserMedia,
	}
}

func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	c.Width = prop.IntRanged{Ideal: 1920}
	c.Height = prop.IntRanged{Ideal: 1080}
	c.FrameRate = prop.FloatRanged{Ideal: 30}
}

// Initialize captures the microphone and, when wantsVideo is set, the
// camera. Denied permission or missing hardware is terminal: the error
// surfaces to the caller, who decides whether to retry with different
// parameters. No silent downgrade to audio-only.
func (m *Media) Initialize(wantsVideo bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, err := m.getUserMedia(wantsVideo, "")
	if err != nil {
		return apperrors.MediaAccessError(err)
	}

	m.audioTracks = stream.GetAudioTracks()
	m.videoTracks = stream.GetVideoTracks()
	m.muted = false
	m.videoOn = len(m.videoTracks) > 0

	return nil
}

func (m *Media) getUserMedia(withVideo bool, deviceID string) (mediadevices.MediaStream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: m.codecSelector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if withVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			videoConstraints(c)
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
		}
	}
	return m.capture(constraints)
}

// Tracks returns every live local track for attachment to a new peer
// connection. May be empty when capture never succeeded.
func (m *Media) Tracks() []mediadevices.Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := make([]mediadevices.Track, 0, len(m.audioTracks)+len(m.videoTracks))
	tracks = append(tracks, m.audioTracks...)
	tracks = append(tracks, m.videoTracks...)
	return tracks
}

// ToggleMute flips the microphone mute state and returns the new state
// (true means muted). Without an audio track this is a no-op returning
// false.
func (m *Media) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.audioTracks) == 0 {
		return false
	}
	m.muted = !m.muted
	return m.muted
}

// ToggleVideo flips the camera state and returns the new state (true
// means video is on). Without a video track this is a no-op returning
// false.
func (m *Media) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.videoTracks) == 0 {
		return false
	}
	m.videoOn = !m.videoOn
	return m.videoOn
}

// HasAudio reports whether a live microphone track exists.
func (m *Media) HasAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audioTracks) > 0
}

// HasVideo reports whether a live camera track exists.
func (m *Media) HasVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.videoTracks) > 0
}

// IsMuted reports the current microphone state.
func (m *Media) IsMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// IsVideoOn reports the current camera state.
func (m *Media) IsVideoOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoOn
}

// SwitchCamera cycles to the next available camera and hands the fresh
// track to replace, which swaps it into every live peer connection
// without renegotiation. Silently a no-op when fewer than two cameras
// exist or no video track is live.
func (m *Media) SwitchCamera(replace func(mediadevices.Track) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.videoTracks) == 0 {
		return nil
	}

	var cameras []mediadevices.MediaDeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			cameras = append(cameras, d)
		}
	}
	if len(cameras) < 2 {
		return nil
	}

	next := (m.cameraIndex + 1) % len(cameras)
	stream, err := m.getUserMedia(true, cameras[next].DeviceID)
	if err != nil {
		return apperrors.MediaAccessError(fmt.Errorf("failed to open camera %q: %w", cameras[next].Label, err))
	}

	newTracks := stream.GetVideoTracks()
	if len(newTracks) == 0 {
		return apperrors.MediaAccessError(fmt.Errorf("camera %q produced no video track", cameras[next].Label))
	}

	if err := replace(newTracks[0]); err != nil {
		for _, t := range newTracks {
			t.Close()
		}
		return err
	}

	for _, t := range m.videoTracks {
		t.Close()
	}
	m.videoTracks = newTracks
	m.cameraIndex = next

	logger.Log.Info("Switched camera", zap.String("device", cameras[next].Label))
	return nil
}

// Close stops every local capture track. Safe to call more than once.
func (m *Media) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.audioTracks {
		t.Close()
	}
	for _, t := range m.videoTracks {
		t.Close()
	}
	m.audioTracks = nil
	m.videoTracks = nil
}
