package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"pair-backend/internal/signaling"
	apperrors "pair-backend/pkg/errors"
	"pair-backend/pkg/logger"
	"pair-backend/pkg/metrics"
)

// SendFunc delivers an outbound signaling message to the call channel.
// The registry uses it for offers, answers and trickled ICE candidates.
type SendFunc func(msg *signaling.Message) error

// TrackSource supplies the local capture tracks attached to every new
// peer connection. A nil source produces receive-only connections.
type TrackSource interface {
	Tracks() []mediadevices.Track
}

// Registry holds one participant's peer connections, keyed by remote
// user. A remote user has at most one connection; a second offer for the
// same user replaces the first, so a peer that rejoins after a crash
// renegotiates cleanly instead of colliding with its dead connection.
type Registry struct {
	engine *Engine
	send   SendFunc
	tracks TrackSource

	mu    sync.Mutex
	conns map[uuid.UUID]*peerLink

	events chan Event
}

type peerLink struct {
	pc           *webrtc.PeerConnection
	videoSenders []*webrtc.RTPSender
}

// NewRegistry creates an empty registry. tracks may be nil for
// receive-only participants.
func NewRegistry(engine *Engine, tracks TrackSource, send SendFunc) *Registry {
	return &Registry{
		engine: engine,
		send:   send,
		tracks: tracks,
		conns:  make(map[uuid.UUID]*peerLink),
		events: make(chan Event, 64),
	}
}

// Events delivers registry state changes. Read it from a dedicated
// goroutine; events are dropped with a warning if nobody keeps up.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Count returns the number of live peer connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CreateConnection sets up a connection slot for a remote peer. When
// asOfferer is set the local side sends the initial offer; otherwise the
// slot waits for the remote offer.
func (r *Registry) CreateConnection(remoteUserID uuid.UUID, asOfferer bool) error {
	r.mu.Lock()
	link, err := r.createLocked(remoteUserID)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if asOfferer {
		return r.negotiate(remoteUserID, link)
	}
	return nil
}

// createLocked builds a new peer connection for the remote user,
// replacing any existing one. Callers must hold r.mu.
func (r *Registry) createLocked(remoteUserID uuid.UUID) (*peerLink, error) {
	if old, ok := r.conns[remoteUserID]; ok {
		logger.Log.Info("Replacing existing peer connection",
			zap.String("remote_user_id", remoteUserID.String()))
		old.pc.Close()
		delete(r.conns, remoteUserID)
		metrics.PeerConnectionsActive.Dec()
	}

	pc, err := r.engine.NewPeerConnection()
	if err != nil {
		return nil, apperrors.SignalingFailureError(fmt.Errorf("failed to create peer connection: %w", err))
	}

	link := &peerLink{pc: pc}
	r.attachLocalTracks(link)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Log.Error("Failed to marshal ICE candidate", zap.Error(err))
			return
		}
		if err := r.send(&signaling.Message{
			Type:      signaling.TypeICECandidate,
			To:        remoteUserID,
			Candidate: candidate,
		}); err != nil {
			logger.Log.Warn("Failed to send ICE candidate",
				zap.String("remote_user_id", remoteUserID.String()),
				zap.Error(err))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		r.emit(Event{
			Kind:         EventRemoteTrack,
			RemoteUserID: remoteUserID,
			Track:        track,
			Receiver:     receiver,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Log.Debug("Peer connection state changed",
			zap.String("remote_user_id", remoteUserID.String()),
			zap.String("state", state.String()))

		switch state {
		case webrtc.PeerConnectionStateConnected:
			r.emit(Event{Kind: EventPeerConnected, RemoteUserID: remoteUserID})
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			// Treat a broken transport as an implicit leave.
			metrics.PeerConnectionFailedTotal.Inc()
			r.Remove(remoteUserID)
		}
	})

	r.conns[remoteUserID] = link
	metrics.PeerConnectionsActive.Inc()
	return link, nil
}

// attachLocalTracks adds the local capture tracks to the connection, or
// receive-only transceivers when there are none so negotiation still
// produces valid audio and video m-lines.
func (r *Registry) attachLocalTracks(link *peerLink) {
	var tracks []mediadevices.Track
	if r.tracks != nil {
		tracks = r.tracks.Tracks()
	}

	if len(tracks) == 0 {
		if _, err := link.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			logger.Log.Warn("Failed to add recvonly video transceiver", zap.Error(err))
		}
		if _, err := link.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			logger.Log.Warn("Failed to add recvonly audio transceiver", zap.Error(err))
		}
		return
	}

	for _, track := range tracks {
		sender, err := link.pc.AddTrack(track)
		if err != nil {
			logger.Log.Warn("Failed to add local track", zap.Error(err))
			continue
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			link.videoSenders = append(link.videoSenders, sender)
		}
	}
}

// negotiate creates and sends the initial offer. Called without r.mu
// held so the signaling path can re-enter the registry.
func (r *Registry) negotiate(remoteUserID uuid.UUID, link *peerLink) error {
	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to create offer: %w", err))
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to set local offer: %w", err))
	}

	return r.send(&signaling.Message{
		Type: signaling.TypeOffer,
		To:   remoteUserID,
		SDP:  offer.SDP,
	})
}

// HandleOffer applies a remote offer, creating the connection slot if
// this is the first contact with the peer, and replies with an answer.
func (r *Registry) HandleOffer(remoteUserID uuid.UUID, sdp string) error {
	r.mu.Lock()
	link, ok := r.conns[remoteUserID]
	if !ok {
		var err error
		link, err = r.createLocked(remoteUserID)
		if err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(offer); err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to set remote offer: %w", err))
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to create answer: %w", err))
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to set local answer: %w", err))
	}

	return r.send(&signaling.Message{
		Type: signaling.TypeAnswer,
		To:   remoteUserID,
		SDP:  answer.SDP,
	})
}

// HandleAnswer applies a remote answer to a connection this side
// offered. Answers for unknown peers are ignored; they belong to a
// connection that was already replaced or removed.
func (r *Registry) HandleAnswer(remoteUserID uuid.UUID, sdp string) error {
	r.mu.Lock()
	link, ok := r.conns[remoteUserID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(answer); err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to set remote answer: %w", err))
	}
	return nil
}

// HandleICECandidate applies a trickled candidate. Candidates for
// unknown peers are ignored.
func (r *Registry) HandleICECandidate(remoteUserID uuid.UUID, raw []byte) error {
	r.mu.Lock()
	link, ok := r.conns[remoteUserID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to unmarshal ICE candidate: %w", err))
	}

	if err := link.pc.AddICECandidate(candidate); err != nil {
		return apperrors.SignalingFailureError(fmt.Errorf("failed to add ICE candidate: %w", err))
	}
	return nil
}

// Remove tears down the connection to one peer. Idempotent; removing an
// unknown peer is a no-op.
func (r *Registry) Remove(remoteUserID uuid.UUID) {
	r.mu.Lock()
	link, ok := r.conns[remoteUserID]
	if ok {
		delete(r.conns, remoteUserID)
		metrics.PeerConnectionsActive.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	link.pc.Close()
	r.emit(Event{Kind: EventPeerLeft, RemoteUserID: remoteUserID})
}

// CloseAll tears down every connection when the local participant
// leaves the call.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	links := make([]*peerLink, 0, len(r.conns))
	for _, link := range r.conns {
		links = append(links, link)
	}
	n := len(r.conns)
	r.conns = make(map[uuid.UUID]*peerLink)
	r.mu.Unlock()

	for _, link := range links {
		link.pc.Close()
	}
	metrics.PeerConnectionsActive.Sub(float64(n))
}

// ReplaceVideoTrack swaps the outgoing video track on every live
// connection in place, without renegotiation. Used for camera switching.
func (r *Registry) ReplaceVideoTrack(track mediadevices.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, link := range r.conns {
		for _, sender := range link.videoSenders {
			if err := sender.ReplaceTrack(track); err != nil {
				return apperrors.SignalingFailureError(
					fmt.Errorf("failed to replace video track for %s: %w", userID, err))
			}
		}
	}
	return nil
}

func (r *Registry) emit(event Event) {
	select {
	case r.events <- event:
	default:
		logger.Log.Warn("Dropping registry event, consumer not keeping up",
			zap.Int("kind", int(event.Kind)),
			zap.String("remote_user_id", event.RemoteUserID.String()))
	}
}
