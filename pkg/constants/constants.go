// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Call lifecycle constants
const (
	// StaleCallThreshold is how old an active call may be before a new
	// start request reclaims it (force-ends it and creates a fresh one)
	// instead of joining it. Policy heuristic, not a protocol requirement.
	StaleCallThreshold = 2 * time.Hour

	// CallHistoryDefaultLimit is the default page size for call history
	CallHistoryDefaultLimit = 20

	// CallHistoryMaxLimit caps the page size for call history
	CallHistoryMaxLimit = 100
)

// Rate limiting constants
const (
	// RateLimitRequests is the number of requests allowed per window
	RateLimitRequests = 120

	// RateLimitWindow is the fixed window for the request limit
	RateLimitWindow = 1 * time.Minute
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 30 * 24 * time.Hour
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Avatar storage constants
const (
	// AvatarURLExpiry is how long presigned avatar URLs stay valid
	AvatarURLExpiry = 24 * time.Hour
)
