package rtc

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// EventKind classifies registry events delivered to the owning session.
type EventKind int

const (
	// EventRemoteTrack fires when media from a remote peer starts
	// arriving. Track and Receiver are set.
	EventRemoteTrack EventKind = iota
	// EventPeerConnected fires when a peer connection reaches the
	// connected state.
	EventPeerConnected
	// EventPeerLeft fires when a peer connection is removed, whether by
	// an explicit leave or a connection failure.
	EventPeerLeft
)

// Event is a state change surfaced by the peer registry. Consumers read
// them from Registry.Events on their own goroutine; events for the same
// peer arrive in order.
type Event struct {
	Kind         EventKind
	RemoteUserID uuid.UUID
	Track        *webrtc.TrackRemote
	Receiver     *webrtc.RTPReceiver
}
