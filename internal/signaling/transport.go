package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "pair-backend/pkg/errors"
	"pair-backend/pkg/logger"
	"pair-backend/pkg/metrics"
)

// Transport is the pub/sub channel a call's signaling flows through.
// One logical channel exists per call; every participant of the call
// receives every published message, including (depending on the backing
// implementation) the publisher itself. Deduplication of self-echo is
// the router's responsibility.
type Transport interface {
	// Subscribe attaches to the call's channel and delivers incoming
	// messages to onMessage from a background goroutine. It returns only
	// after the subscription is confirmed, so a join broadcast sent
	// immediately afterwards cannot outrun the subscription.
	Subscribe(ctx context.Context, callID uuid.UUID, onMessage func(*Message)) (Subscription, error)

	// Publish sends a message to every subscriber of the call's channel.
	Publish(ctx context.Context, callID uuid.UUID, msg *Message) error
}

// Subscription is a handle to an active transport subscription.
type Subscription interface {
	Unsubscribe() error
}

// SignalChannel returns the pub/sub channel name for a call.
func SignalChannel(callID uuid.UUID) string {
	return fmt.Sprintf("call:%s", callID)
}

// RedisTransport carries signaling messages over Redis Pub/Sub so that
// participants connected to different backend instances still reach
// each other.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport creates a Redis-backed signaling transport.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	return s.pubsub.Close()
}

// Subscribe attaches to the call's Redis channel. The returned
// Subscription must be released with Unsubscribe when the participant
// leaves the call.
func (t *RedisTransport) Subscribe(ctx context.Context, callID uuid.UUID, onMessage func(*Message)) (Subscription, error) {
	channel := SignalChannel(callID)
	pubsub := t.client.Subscribe(ctx, channel)

	// Force the subscription to be established before we return, so no
	// message published after Subscribe can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, apperrors.SignalingFailureError(fmt.Errorf("failed to subscribe to %s: %w", channel, err))
	}

	readCtx, cancel := context.WithCancel(context.Background())
	metrics.SignalingSubscriptionActive.Inc()

	go func() {
		defer metrics.SignalingSubscriptionActive.Dec()

		ch := pubsub.Channel()
		for {
			select {
			case <-readCtx.Done():
				return
			case redisMsg, ok := <-ch:
				if !ok {
					return
				}

				var msg Message
				if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
					logger.Log.Warn("Discarding malformed signaling message",
						zap.String("channel", channel),
						zap.Error(err))
					metrics.SignalingMessageDiscardedTotal.WithLabelValues("malformed").Inc()
					continue
				}

				onMessage(&msg)
			}
		}
	}()

	return &redisSubscription{pubsub: pubsub, cancel: cancel}, nil
}

// Publish validates and sends a message to the call's Redis channel.
func (t *RedisTransport) Publish(ctx context.Context, callID uuid.UUID, msg *Message) error {
	if err := msg.Validate(); err != nil {
		metrics.SignalingMessagePublishedTotal.WithLabelValues(string(msg.Type), "invalid").Inc()
		return apperrors.SignalingFailureError(err)
	}

	msg.CallID = callID

	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.SignalingMessagePublishedTotal.WithLabelValues(string(msg.Type), "error").Inc()
		return apperrors.SignalingFailureError(fmt.Errorf("failed to marshal signaling message: %w", err))
	}

	if err := t.client.Publish(ctx, SignalChannel(callID), payload).Err(); err != nil {
		metrics.SignalingMessagePublishedTotal.WithLabelValues(string(msg.Type), "error").Inc()
		return apperrors.SignalingFailureError(fmt.Errorf("failed to publish signaling message: %w", err))
	}

	metrics.SignalingMessagePublishedTotal.WithLabelValues(string(msg.Type), "ok").Inc()
	return nil
}
