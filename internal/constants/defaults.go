package constants

// Reconciliation and timeline defaults
const (
	// DefaultCorrelationWindowSec bounds how far apart (in either direction)
	// an optimistic entry and its authoritative counterpart may be timestamped
	// and still be matched by sender.
	DefaultCorrelationWindowSec = 30
	DefaultHistoryPageSize      = 20
)

// Typing indicator defaults
const (
	// DefaultTypingIdleSec is the pause after which a typing session ends and
	// one stop_typing is emitted. Independent of network latency.
	DefaultTypingIdleSec = 3
	// DefaultRemoteTypingExpirySec removes a remote typing entry that never
	// received its stop signal.
	DefaultRemoteTypingExpirySec = 6
)

// Receipt defaults
const (
	// DefaultReadProximityPx is the distance from the bottom of the viewport
	// within which a scroll event counts as "reading".
	DefaultReadProximityPx = 100
)

// Transport defaults
const (
	DefaultAckTimeoutSec     = 15
	DefaultWriteTimeoutSec   = 10
	DefaultConnectTimeoutSec = 15
)

// Local cache defaults
const (
	DefaultCacheRetentionDays        = 30
	DefaultCacheRetryAttempts        = 3
	DefaultCacheRetryBackoffMs       = 250
	DefaultCacheMaxBackoffMs         = 5000
	DefaultCacheCleanupIntervalHours = 6
)

// Default media configuration values
const (
	DefaultMaxImageSizeMB = 5
	DefaultMaxVideoSizeMB = 100
	DefaultMaxVoiceSizeMB = 16
	DefaultMaxFileSizeMB  = 100
)

// Debug server defaults
const (
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Privacy settings
const (
	DefaultUserIDMaskLength = 4
	DefaultMessageIDLength  = 8
)

// Local cache encryption salt
const EncryptionSalt = "tripchat-cache-salt-v1"
