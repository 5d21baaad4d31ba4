package constants

// Message page sizes
const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 500
	DefaultMaxPagesPerSync = 20
)

// Sync defaults
const (
	DefaultFetchTimeoutSec    = 15
	DefaultSyncIntervalSec    = 300
	DefaultSyncMaxConcurrent  = 4
	DefaultWriteQueueDepth    = 64
	DefaultQueueIdleTimeoutMs = 30000
)

// Badge defaults
const (
	DefaultBadgeRefreshIntervalSec = 30
	DefaultBadgeFetchTimeoutSec    = 10
)

// Remote API defaults
const (
	DefaultAPITimeoutSec        = 60
	DefaultAPIRateLimitPerSec   = 10
	DefaultAPIRateBurst         = 20
	DefaultBreakerMaxFailures   = 5
	DefaultBreakerResetTimeoutS = 30
)

// Real-time transport defaults
const (
	DefaultReconnectInitialMs = 500
	DefaultReconnectMaxMs     = 30000
	DefaultDialTimeoutSec     = 10
	DefaultMaxFrameBytes      = 1 << 20
)

// Retry defaults
const (
	DefaultRetryBackoffMs         = 200
	DefaultMaxBackoffMs           = 5000
	DefaultMaxAttempts            = 3
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseBusyTimeoutMs  = 5000
	DefaultDatabaseRetryBackoffMs = 50
)

// Server defaults
const (
	DefaultListenAddr            = "127.0.0.1:8787"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 10
	ServerErrorChannelSize       = 1
	MaxRequestBodyBytes          = 4 << 20
)

// Validation limits
const (
	MaxMessageIDLength      = 256
	MaxConversationIDLength = 512
	MaxContentLength        = 64 * 1024
)

// Privacy settings
const (
	DefaultIDMaskLength      = 4
	DefaultContentPreviewLen = 12
)

// Encryption settings
const (
	EncryptionSalt      = "chatsync-local-cache-v1"
	MinEncryptionSecret = 32
)
