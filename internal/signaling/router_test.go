package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// fakeTransport is an in-memory transport that records published
// messages and lets tests inject incoming ones.
type fakeTransport struct {
	mu        sync.Mutex
	published []*Message
	onMessage func(*Message)
	closed    bool
}

func (t *fakeTransport) Subscribe(ctx context.Context, callID uuid.UUID, onMessage func(*Message)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = onMessage
	t.closed = false
	return t, nil
}

func (t *fakeTransport) Publish(ctx context.Context, callID uuid.UUID, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, msg)
	return nil
}

func (t *fakeTransport) Unsubscribe() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// deliver simulates an incoming message from the channel.
func (t *fakeTransport) deliver(msg *Message) {
	t.mu.Lock()
	onMessage := t.onMessage
	t.mu.Unlock()
	onMessage(msg)
}

func (t *fakeTransport) publishedTypes() []MessageType {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]MessageType, len(t.published))
	for i, m := range t.published {
		types[i] = m.Type
	}
	return types
}

// MockPeerRegistry is a mock implementation of PeerRegistry
type MockPeerRegistry struct {
	mock.Mock
}

func (m *MockPeerRegistry) CreateConnection(remoteUserID uuid.UUID, asOfferer bool) error {
	args := m.Called(remoteUserID, asOfferer)
	return args.Error(0)
}

func (m *MockPeerRegistry) HandleOffer(remoteUserID uuid.UUID, sdp string) error {
	args := m.Called(remoteUserID, sdp)
	return args.Error(0)
}

func (m *MockPeerRegistry) HandleAnswer(remoteUserID uuid.UUID, sdp string) error {
	args := m.Called(remoteUserID, sdp)
	return args.Error(0)
}

func (m *MockPeerRegistry) HandleICECandidate(remoteUserID uuid.UUID, candidate []byte) error {
	args := m.Called(remoteUserID, candidate)
	return args.Error(0)
}

func (m *MockPeerRegistry) Remove(remoteUserID uuid.UUID) {
	m.Called(remoteUserID)
}

func (m *MockPeerRegistry) CloseAll() {
	m.Called()
}

// TestJoin_BroadcastsAfterSubscribing tests that Join subscribes first
// and then announces the participant
func TestJoin_BroadcastsAfterSubscribing(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	localID := uuid.New()
	router := NewRouter(transport, registry, uuid.New(), localID)

	err := router.Join(context.Background())

	assert.NoError(t, err)
	assert.NotNil(t, transport.onMessage, "subscription must be active before the join broadcast")
	assert.Equal(t, []MessageType{TypeJoin}, transport.publishedTypes())
	assert.Equal(t, localID, transport.published[0].From)
}

// TestJoin_Twice tests that a repeated Join is a no-op
func TestJoin_Twice(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())

	assert.NoError(t, router.Join(context.Background()))
	assert.NoError(t, router.Join(context.Background()))
	assert.Equal(t, []MessageType{TypeJoin}, transport.publishedTypes())
}

// TestDispatch_SelfEchoDiscarded tests that the router never processes
// its own broadcasts, whatever the type
func TestDispatch_SelfEchoDiscarded(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	localID := uuid.New()
	router := NewRouter(transport, registry, uuid.New(), localID)
	assert.NoError(t, router.Join(context.Background()))

	for _, msgType := range []MessageType{TypeJoin, TypeOffer, TypeAnswer, TypeICECandidate, TypeLeave} {
		transport.deliver(&Message{Type: msgType, From: localID, To: localID})
	}

	registry.AssertNotCalled(t, "CreateConnection")
	registry.AssertNotCalled(t, "HandleOffer")
	registry.AssertNotCalled(t, "HandleAnswer")
	registry.AssertNotCalled(t, "HandleICECandidate")
	registry.AssertNotCalled(t, "Remove")
}

// TestDispatch_WrongTargetDiscarded tests that directed messages for
// other participants are dropped
func TestDispatch_WrongTargetDiscarded(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())
	assert.NoError(t, router.Join(context.Background()))

	sender := uuid.New()
	someoneElse := uuid.New()
	transport.deliver(&Message{Type: TypeOffer, From: sender, To: someoneElse, SDP: "v=0"})
	transport.deliver(&Message{Type: TypeAnswer, From: sender, To: someoneElse, SDP: "v=0"})
	transport.deliver(&Message{Type: TypeICECandidate, From: sender, To: someoneElse, Candidate: json.RawMessage(`{}`)})

	registry.AssertNotCalled(t, "HandleOffer")
	registry.AssertNotCalled(t, "HandleAnswer")
	registry.AssertNotCalled(t, "HandleICECandidate")
}

// TestDispatch_JoinCreatesOffererConnection tests that a newcomer's join
// makes the existing participant the offerer
func TestDispatch_JoinCreatesOffererConnection(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())
	assert.NoError(t, router.Join(context.Background()))

	newcomer := uuid.New()
	registry.On("CreateConnection", newcomer, true).Return(nil)

	transport.deliver(&Message{Type: TypeJoin, From: newcomer})

	registry.AssertExpectations(t)
}

// TestDispatch_DirectedMessagesRouted tests offer/answer/candidate
// dispatch to the registry
func TestDispatch_DirectedMessagesRouted(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	localID := uuid.New()
	router := NewRouter(transport, registry, uuid.New(), localID)
	assert.NoError(t, router.Join(context.Background()))

	peer := uuid.New()
	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host"}`)

	registry.On("HandleOffer", peer, "offer-sdp").Return(nil)
	registry.On("HandleAnswer", peer, "answer-sdp").Return(nil)
	registry.On("HandleICECandidate", peer, []byte(candidate)).Return(nil)

	transport.deliver(&Message{Type: TypeOffer, From: peer, To: localID, SDP: "offer-sdp"})
	transport.deliver(&Message{Type: TypeAnswer, From: peer, To: localID, SDP: "answer-sdp"})
	transport.deliver(&Message{Type: TypeICECandidate, From: peer, To: localID, Candidate: candidate})

	registry.AssertExpectations(t)
}

// TestDispatch_LeaveRemovesPeer tests that a leave broadcast tears down
// that peer's connection
func TestDispatch_LeaveRemovesPeer(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())
	assert.NoError(t, router.Join(context.Background()))

	peer := uuid.New()
	registry.On("Remove", peer).Return()

	transport.deliver(&Message{Type: TypeLeave, From: peer})

	registry.AssertExpectations(t)
}

// TestDispatch_PeerMediaCallback tests mute broadcasts reach the
// roster callback
func TestDispatch_PeerMediaCallback(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())

	var gotUser uuid.UUID
	var gotType MessageType
	var gotEnabled bool
	router.OnPeerMedia = func(userID uuid.UUID, msgType MessageType, enabled bool) {
		gotUser = userID
		gotType = msgType
		gotEnabled = enabled
	}
	assert.NoError(t, router.Join(context.Background()))

	peer := uuid.New()
	transport.deliver(&Message{Type: TypeMuteAudio, From: peer, Enabled: false})

	assert.Equal(t, peer, gotUser)
	assert.Equal(t, TypeMuteAudio, gotType)
	assert.False(t, gotEnabled)
}

// TestLeave_AnnouncesThenTearsDown tests the leave sequence: broadcast,
// close connections, release the subscription
func TestLeave_AnnouncesThenTearsDown(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())
	assert.NoError(t, router.Join(context.Background()))

	registry.On("CloseAll").Return()

	err := router.Leave(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, []MessageType{TypeJoin, TypeLeave}, transport.publishedTypes())
	assert.True(t, transport.closed)
	registry.AssertExpectations(t)
}

// TestLeave_Idempotent tests that repeated Leave calls are no-ops
func TestLeave_Idempotent(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())
	assert.NoError(t, router.Join(context.Background()))

	registry.On("CloseAll").Return()

	assert.NoError(t, router.Leave(context.Background()))
	assert.NoError(t, router.Leave(context.Background()))

	assert.Equal(t, []MessageType{TypeJoin, TypeLeave}, transport.publishedTypes())
	registry.AssertNumberOfCalls(t, "CloseAll", 1)
}

// TestAnnounceMediaState tests mute/video broadcasts
func TestAnnounceMediaState(t *testing.T) {
	transport := &fakeTransport{}
	registry := new(MockPeerRegistry)
	router := NewRouter(transport, registry, uuid.New(), uuid.New())
	assert.NoError(t, router.Join(context.Background()))

	assert.NoError(t, router.AnnounceMediaState(context.Background(), TypeMuteAudio, false))
	assert.NoError(t, router.AnnounceMediaState(context.Background(), TypeMuteVideo, true))
	assert.Error(t, router.AnnounceMediaState(context.Background(), TypeOffer, true))

	assert.Equal(t, []MessageType{TypeJoin, TypeMuteAudio, TypeMuteVideo}, transport.publishedTypes())
}
