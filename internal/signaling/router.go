package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "pair-backend/pkg/errors"
	"pair-backend/pkg/logger"
	"pair-backend/pkg/metrics"
)

// PeerRegistry is the set of peer-connection operations the router
// drives while dispatching signaling traffic.
type PeerRegistry interface {
	// CreateConnection establishes a connection slot for a remote peer.
	// When asOfferer is true the local side initiates negotiation.
	CreateConnection(remoteUserID uuid.UUID, asOfferer bool) error

	// HandleOffer applies a remote offer and produces an answer.
	HandleOffer(remoteUserID uuid.UUID, sdp string) error

	// HandleAnswer applies a remote answer to a connection this side
	// initiated. Unknown peers are ignored.
	HandleAnswer(remoteUserID uuid.UUID, sdp string) error

	// HandleICECandidate applies a remote ICE candidate. Unknown peers
	// are ignored.
	HandleICECandidate(remoteUserID uuid.UUID, candidate []byte) error

	// Remove tears down the connection to one peer, if present.
	Remove(remoteUserID uuid.UUID)

	// CloseAll tears down every connection.
	CloseAll()
}

// Router binds one participant to one call's signaling channel. It
// broadcasts the participant's own announcements and dispatches incoming
// messages to the peer registry, discarding self-echo and messages
// addressed to other participants.
type Router struct {
	transport   Transport
	registry    PeerRegistry
	callID      uuid.UUID
	localUserID uuid.UUID

	// OnPeerMedia, when set, is invoked for mute-audio / mute-video
	// broadcasts from other participants. Must be set before Join.
	OnPeerMedia func(userID uuid.UUID, msgType MessageType, enabled bool)

	mu   sync.Mutex
	sub  Subscription
	left bool
}

// NewRouter creates a router for one participant in one call. The
// router is inert until Join is called.
func NewRouter(transport Transport, registry PeerRegistry, callID, localUserID uuid.UUID) *Router {
	return &Router{
		transport:   transport,
		registry:    registry,
		callID:      callID,
		localUserID: localUserID,
	}
}

// Join subscribes to the call's channel and then broadcasts the join
// announcement. Subscribing first guarantees the participant cannot
// miss offers triggered by its own join.
func (r *Router) Join(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return nil
	}

	sub, err := r.transport.Subscribe(ctx, r.callID, r.dispatch)
	if err != nil {
		return err
	}
	r.sub = sub
	r.left = false

	if err := r.Send(ctx, &Message{Type: TypeJoin}); err != nil {
		sub.Unsubscribe()
		r.sub = nil
		return err
	}

	return nil
}

// Leave broadcasts the leave announcement, tears down every peer
// connection and releases the subscription. Safe to call more than
// once; repeat calls are no-ops.
func (r *Router) Leave(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.left || r.sub == nil {
		return nil
	}
	r.left = true

	// Announce first so peers tear down their side even if the local
	// cleanup below is slow.
	if err := r.Send(ctx, &Message{Type: TypeLeave}); err != nil {
		logger.Log.Warn("Failed to broadcast leave",
			zap.String("call_id", r.callID.String()),
			zap.Error(err))
	}

	r.registry.CloseAll()

	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}

// Send stamps the message with the local sender identity and publishes
// it to the call's channel.
func (r *Router) Send(ctx context.Context, msg *Message) error {
	msg.CallID = r.callID
	msg.From = r.localUserID
	msg.Timestamp = time.Now()
	return r.transport.Publish(ctx, r.callID, msg)
}

// AnnounceMediaState broadcasts the local participant's current mute or
// video state so remote rosters can update their indicators.
func (r *Router) AnnounceMediaState(ctx context.Context, msgType MessageType, enabled bool) error {
	if msgType != TypeMuteAudio && msgType != TypeMuteVideo {
		return apperrors.SignalingFailureError(errors.New("media announcement must be mute-audio or mute-video"))
	}
	return r.Send(ctx, &Message{Type: msgType, Enabled: enabled})
}

// dispatch routes one incoming message. Messages from the local
// participant and messages addressed to someone else are discarded
// before any registry work happens.
func (r *Router) dispatch(msg *Message) {
	if msg.From == r.localUserID {
		metrics.SignalingMessageDiscardedTotal.WithLabelValues("self_echo").Inc()
		return
	}
	if !msg.Type.IsBroadcast() && msg.To != r.localUserID {
		metrics.SignalingMessageDiscardedTotal.WithLabelValues("wrong_target").Inc()
		return
	}

	var err error
	switch msg.Type {
	case TypeJoin:
		// The existing participant offers; the newcomer answers.
		err = r.registry.CreateConnection(msg.From, true)
	case TypeOffer:
		err = r.registry.HandleOffer(msg.From, msg.SDP)
	case TypeAnswer:
		err = r.registry.HandleAnswer(msg.From, msg.SDP)
	case TypeICECandidate:
		err = r.registry.HandleICECandidate(msg.From, msg.Candidate)
	case TypeLeave:
		r.registry.Remove(msg.From)
	case TypeMuteAudio, TypeMuteVideo:
		if r.OnPeerMedia != nil {
			r.OnPeerMedia(msg.From, msg.Type, msg.Enabled)
		}
	default:
		metrics.SignalingMessageDiscardedTotal.WithLabelValues("malformed").Inc()
		return
	}

	if err != nil {
		logger.Log.Error("Failed to dispatch signaling message",
			zap.String("call_id", r.callID.String()),
			zap.String("type", string(msg.Type)),
			zap.String("from", msg.From.String()),
			zap.Error(err))
		return
	}

	metrics.SignalingMessageDispatchedTotal.WithLabelValues(string(msg.Type)).Inc()
}
