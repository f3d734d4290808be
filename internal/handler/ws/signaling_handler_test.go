package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"pair-backend/internal/signaling"
)

type publishRecord struct {
	msgType signaling.MessageType
	ctxErr  error
}

// fakeTransport records every publish together with the liveness of the
// context it was issued on.
type fakeTransport struct {
	mu        sync.Mutex
	published []publishRecord
}

func (f *fakeTransport) Subscribe(ctx context.Context, callID uuid.UUID, onMessage func(*signaling.Message)) (signaling.Subscription, error) {
	return fakeSubscription{}, nil
}

func (f *fakeTransport) Publish(ctx context.Context, callID uuid.UUID, msg *signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishRecord{msgType: msg.Type, ctxErr: ctx.Err()})
	return nil
}

func (f *fakeTransport) records() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishRecord, len(f.published))
	copy(out, f.published)
	return out
}

type fakeSubscription struct{}

func (fakeSubscription) Unsubscribe() error { return nil }

func newHubClient(hub *SignalingHub) *SignalingClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalingClient{
		hub:    hub,
		send:   make(chan []byte, 4),
		userID: uuid.New(),
		callID: uuid.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// TestHub_AnnouncesJoinOnRegister tests that registering a client
// publishes a join through the transport
func TestHub_AnnouncesJoinOnRegister(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewSignalingHub(transport)
	client := newHubClient(hub)

	hub.register <- client

	assert.Eventually(t, func() bool {
		return len(transport.records()) == 1
	}, time.Second, 10*time.Millisecond)

	records := transport.records()
	assert.Equal(t, signaling.TypeJoin, records[0].msgType)
	assert.NoError(t, records[0].ctxErr)
}

// TestHub_BroadcastsLeaveBeforeTeardown tests that a disconnecting
// client's leave goes out while its context is still live, so remote
// peers drop it immediately instead of waiting out the ICE timeout
func TestHub_BroadcastsLeaveBeforeTeardown(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewSignalingHub(transport)
	client := newHubClient(hub)

	hub.register <- client
	assert.Eventually(t, func() bool {
		return len(transport.records()) == 1
	}, time.Second, 10*time.Millisecond)

	hub.unregister <- client
	assert.Eventually(t, func() bool {
		return len(transport.records()) == 2
	}, time.Second, 10*time.Millisecond)

	records := transport.records()
	assert.Equal(t, signaling.TypeLeave, records[1].msgType)
	assert.NoError(t, records[1].ctxErr, "leave must be published on a live context")

	// Teardown still happens, just after the broadcast.
	assert.Eventually(t, func() bool {
		return client.ctx.Err() != nil
	}, time.Second, 10*time.Millisecond)
}
