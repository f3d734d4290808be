package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring call lifecycle and signaling delivery
var (
	// Call lifecycle metrics
	CallStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_started_total",
		Help: "Total number of calls started",
	}, []string{"call_type"})

	CallEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_ended_total",
		Help: "Total number of calls ended",
	}, []string{"reason"}) // "empty_roster", "explicit", "stale_reclaim"

	CallReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_reused_total",
		Help: "Total number of start requests that joined an existing active call",
	})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "Current number of active calls tracked by this instance",
	})

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of ended calls",
		Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
	})

	// Participant metrics
	CallParticipantJoinTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_participant_join_total",
		Help: "Total number of participant joins",
	}, []string{"status"}) // "joined", "already_joined"

	CallParticipantLeaveTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_participant_leave_total",
		Help: "Total number of participant leaves",
	})

	// Signaling metrics
	SignalingMessagePublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_message_published_total",
		Help: "Total number of signaling messages published to Redis",
	}, []string{"type", "status"})

	SignalingMessageDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_message_dispatched_total",
		Help: "Total number of inbound signaling messages dispatched by the router",
	}, []string{"type"})

	SignalingMessageDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_message_discarded_total",
		Help: "Total number of inbound signaling messages discarded",
	}, []string{"reason"}) // "self_echo", "wrong_target", "malformed"

	SignalingSubscriptionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_subscription_active",
		Help: "Current number of active Redis signaling subscriptions",
	})

	// Peer connection metrics
	PeerConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peer_connections_active",
		Help: "Current number of open peer connections in the registry",
	})

	PeerConnectionFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peer_connection_failed_total",
		Help: "Total number of peer connections that reached disconnected/failed state",
	})

	// WebSocket bridge metrics
	WSSignalingConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_signaling_connections_active",
		Help: "Current number of WebSocket signaling clients",
	})

	WSSignalingMessageDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_signaling_message_dropped_total",
		Help: "Total number of signaling messages dropped to slow clients",
	}, []string{"reason"})
)
