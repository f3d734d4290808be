package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"
)

// Engine holds the shared WebRTC machinery for all peer connections of a
// process: the codec selection, the configured API and the ICE servers.
// Build one Engine at startup and share it across call sessions.
type Engine struct {
	api           *webrtc.API
	codecSelector *mediadevices.CodecSelector
	iceServers    []webrtc.ICEServer
}

// NewEngine wires VP8 and Opus through a mediadevices codec selector into
// a webrtc API with default interceptors. stunServers come from
// configuration (stun:host:port URLs).
func NewEngine(stunServers []string) (*Engine, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	// Generous ICE timeouts so a brief NAT or relay hiccup does not tear
	// the call down. The 5s default disconnectedTimeout is too tight for
	// mobile network handoffs.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var iceServers []webrtc.ICEServer
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return &Engine{
		api:           api,
		codecSelector: codecSelector,
		iceServers:    iceServers,
	}, nil
}

// NewPeerConnection creates a peer connection backed by the engine's
// media stack and ICE servers.
func (e *Engine) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: e.iceServers,
	})
}
