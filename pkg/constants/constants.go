// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Consultation constants
const (
	// MaxConsultationDurationMins bounds how long a consultation may be booked for
	MaxConsultationDurationMins = 480

	// TokenIssuanceRateLimit caps room-grant requests per client per window
	TokenIssuanceRateLimit = 30

	// TokenIssuanceRateWindow is the rate-limit window for room grants
	TokenIssuanceRateWindow = time.Minute
)
