package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pair-backend/internal/signaling"
	"pair-backend/pkg/constants"
	"pair-backend/pkg/logger"
	"pair-backend/pkg/metrics"
)

// SignalingHub bridges WebSocket clients (mobile apps) onto the
// Redis-backed signaling transport. All traffic flows through the
// transport, so clients on this instance, clients on other instances
// and in-process sessions all see the same channel.
type SignalingHub struct {
	transport signaling.Transport

	// Registered clients per call
	calls map[uuid.UUID]map[*SignalingClient]bool

	// Transport subscriptions per call
	subscriptions map[uuid.UUID]signaling.Subscription

	mu sync.RWMutex

	register   chan *SignalingClient
	unregister chan *SignalingClient
	deliver    chan *signaling.Message

	// Concurrency limit for WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

// SignalingClient represents one WebSocket participant in one call
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	callID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return allowedOrigins
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}

		allowedOrigins := GetAllowedOrigins()
		for allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// NewSignalingHub creates a new signaling hub
func NewSignalingHub(transport signaling.Transport) *SignalingHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &SignalingHub{
		transport:      transport,
		calls:          make(map[uuid.UUID]map[*SignalingClient]bool),
		subscriptions:  make(map[uuid.UUID]signaling.Subscription),
		register:       make(chan *SignalingClient),
		unregister:     make(chan *SignalingClient),
		deliver:        make(chan *signaling.Message, 256),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *SignalingHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.calls[client.callID] == nil {
				h.calls[client.callID] = make(map[*SignalingClient]bool)

				// First client for this call on this instance: attach to
				// the call's transport channel.
				sub, err := h.transport.Subscribe(context.Background(), client.callID, func(msg *signaling.Message) {
					h.deliver <- msg
				})
				if err != nil {
					logger.Log.Error("Failed to subscribe to signaling channel",
						zap.String("call_id", client.callID.String()),
						zap.Error(err))
				} else {
					h.subscriptions[client.callID] = sub
				}
			}
			h.calls[client.callID][client] = true
			h.mu.Unlock()
			metrics.WSSignalingConnectionsActive.Inc()

			// Announce the join through the transport so every
			// participant, local or remote, sees it.
			h.publish(client, &signaling.Message{Type: signaling.TypeJoin})

		case client := <-h.unregister:
			h.mu.Lock()
			removed := false
			if clients, ok := h.calls[client.callID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					removed = true

					if len(clients) == 0 {
						if sub, ok := h.subscriptions[client.callID]; ok {
							sub.Unsubscribe()
							delete(h.subscriptions, client.callID)
						}
						delete(h.calls, client.callID)
					}
				}
			}
			h.mu.Unlock()

			if removed {
				metrics.WSSignalingConnectionsActive.Dec()
				// The leave broadcast must go out before the client context
				// dies, or remote peers wait for the ICE failure timeout.
				h.publish(client, &signaling.Message{Type: signaling.TypeLeave})
				client.cancel()
			}

		case message := <-h.deliver:
			h.deliverToClients(message)
		}
	}
}

// deliverToClients fans one transport message out to the local
// WebSocket clients of its call, honoring targeting and never echoing a
// message back to its sender.
func (h *SignalingHub) deliverToClients(message *signaling.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.calls[message.CallID]
	if !ok {
		return
	}

	messageJSON, err := json.Marshal(message)
	if err != nil {
		return
	}

	for client := range clients {
		if client.userID == message.From {
			continue
		}
		if !message.Type.IsBroadcast() && client.userID != message.To {
			continue
		}

		select {
		case client.send <- messageJSON:
		default:
			metrics.WSSignalingMessageDroppedTotal.WithLabelValues("slow_client").Inc()
		}
	}
}

// publish stamps the client's identity on the message and sends it
// through the transport.
func (h *SignalingHub) publish(client *SignalingClient, msg *signaling.Message) {
	msg.CallID = client.callID
	msg.From = client.userID
	msg.Timestamp = time.Now()

	if err := h.transport.Publish(client.ctx, client.callID, msg); err != nil {
		logger.Log.Warn("Failed to publish signaling message",
			zap.String("call_id", client.callID.String()),
			zap.String("user_id", client.userID.String()),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

// ServeWS handles WebSocket requests for signaling
// GET /v1/ws/signaling?call_id=<uuid>
func (h *SignalingHub) ServeWS(c *gin.Context) {
	// Limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Log.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	callIDStr := c.Query("call_id")
	if callIDStr == "" {
		c.JSON(400, gin.H{"error": "call_id required"})
		return
	}

	callID, err := uuid.Parse(callIDStr)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid call_id"})
		return
	}

	// Set by auth middleware
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(401, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(500, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalingClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		callID: callID,
		ctx:    ctx,
		cancel: cancel,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from WebSocket
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug("WebSocket connection closed",
					zap.String("call_id", c.callID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg signaling.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Log.Warn("Invalid message format from WebSocket",
				zap.String("call_id", c.callID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		// Clients announce join/leave implicitly via connect/disconnect;
		// everything else passes through to the transport.
		if msg.Type == signaling.TypeJoin || msg.Type == signaling.TypeLeave {
			continue
		}

		c.hub.publish(c, &msg)
	}
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
