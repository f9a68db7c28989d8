package shared

import "time"

// HTTP Client Configuration
const (
	DefaultGenerationTimeout = 120 * time.Second
	DefaultDeliveryTimeout   = 30 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// Retry Configuration
const (
	DefaultMaxRetryAttempts = 3
	MaxBackoffDelay         = 10 * time.Second
)

// Artifact Configuration
const (
	// Artifacts older than this are reaped, matching the retention window the
	// NAP companion expects before a consumer has fetched the file.
	DefaultArtifactRetention = 15 * time.Minute
	ArtifactFilePerm         = 0o644
	ArtifactDirPerm          = 0o755
)

// Rate Limit Configuration
const (
	DefaultRateLimitPeriod = 60 * time.Second
	// How long a redis window key outlives its period before expiring.
	RedisWindowTTLSlack = 5 * time.Second
)

// ID Configuration
const (
	IDAlphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
	RequestIDLength = 28
	ArtifactIDLen   = 8
)
