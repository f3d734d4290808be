package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of signaling message flowing through a
// call's channel.
type MessageType string

const (
	// TypeJoin announces a new participant. Broadcast, no target.
	TypeJoin MessageType = "join"
	// TypeOffer carries an SDP offer to one specific peer.
	TypeOffer MessageType = "offer"
	// TypeAnswer carries an SDP answer to one specific peer.
	TypeAnswer MessageType = "answer"
	// TypeICECandidate carries one ICE candidate to one specific peer.
	TypeICECandidate MessageType = "ice-candidate"
	// TypeLeave announces departure. Broadcast, no target.
	TypeLeave MessageType = "leave"
	// TypeMuteAudio broadcasts a participant's mute state change.
	TypeMuteAudio MessageType = "mute-audio"
	// TypeMuteVideo broadcasts a participant's video state change.
	TypeMuteVideo MessageType = "mute-video"
)

// Message is the envelope exchanged between call participants over the
// signaling channel. Offers, answers and candidates are addressed to a
// single peer via To; join/leave and media-state changes are broadcast
// with To left as the zero UUID.
type Message struct {
	Type      MessageType     `json:"type"`
	CallID    uuid.UUID       `json:"call_id"`
	From      uuid.UUID       `json:"from"`
	To        uuid.UUID       `json:"to,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Enabled   bool            `json:"enabled,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// IsBroadcast reports whether the message type fans out to every
// participant rather than one addressed peer.
func (t MessageType) IsBroadcast() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeMuteAudio, TypeMuteVideo:
		return true
	}
	return false
}

// Validate checks structural invariants before a message is published or
// dispatched. Directed types must carry a target; negotiation types must
// carry their payload.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeJoin, TypeLeave, TypeMuteAudio, TypeMuteVideo:
		// broadcast types carry no target
	case TypeOffer, TypeAnswer:
		if m.To == uuid.Nil {
			return fmt.Errorf("%s message requires a target", m.Type)
		}
		if m.SDP == "" {
			return fmt.Errorf("%s message requires an sdp payload", m.Type)
		}
	case TypeICECandidate:
		if m.To == uuid.Nil {
			return fmt.Errorf("ice-candidate message requires a target")
		}
		if len(m.Candidate) == 0 {
			return fmt.Errorf("ice-candidate message requires a candidate payload")
		}
	default:
		return fmt.Errorf("unknown signaling message type %q", m.Type)
	}

	if m.From == uuid.Nil {
		return fmt.Errorf("signaling message requires a sender")
	}

	return nil
}
