package models

// Config holds the application configuration
type Config struct {
	UserID   string         `json:"user_id"`
	API      APIConfig      `json:"api"`
	Realtime RealtimeConfig `json:"realtime"`
	Database DatabaseConfig `json:"database"`
	Sync     SyncConfig     `json:"sync"`
	Badge    BadgeConfig    `json:"badge"`
	Retry    RetryConfig    `json:"retry"`
	Server   ServerConfig   `json:"server"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// APIConfig holds the chat service REST settings. AuthToken comes from
// the environment only.
type APIConfig struct {
	BaseURL             string  `json:"base_url"`
	AuthToken           string  `json:"-"`
	TimeoutSec          int     `json:"timeout_sec"`
	RateLimitPerSec     float64 `json:"rate_limit_per_sec"`
	RateBurst           int     `json:"rate_burst"`
	BreakerMaxFailures  int     `json:"breaker_max_failures"`
	BreakerResetTimeout int     `json:"breaker_reset_timeout_sec"`
}

// RealtimeConfig holds the push channel settings
type RealtimeConfig struct {
	URL                string `json:"url"`
	Enabled            bool   `json:"enabled"`
	AckDelivered       bool   `json:"ack_delivered"`
	ReconnectInitialMs int    `json:"reconnect_initial_ms"`
	ReconnectMaxMs     int    `json:"reconnect_max_ms"`
	DialTimeoutSec     int    `json:"dial_timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path             string `json:"path"`
	MaxOpenConns     int    `json:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns"`
	BusyTimeoutMs    int    `json:"busy_timeout_ms"`
	EnableEncryption bool   `json:"-"`
	EncryptionSecret string `json:"-"`
}

// SyncConfig holds Delta Loader settings
type SyncConfig struct {
	PageSize        int `json:"page_size"`
	MaxPages        int `json:"max_pages"`
	FetchTimeoutSec int `json:"fetch_timeout_sec"`
	MaxConcurrent   int `json:"max_concurrent"`
	IntervalSec     int `json:"interval_sec"`
	QueueDepth      int `json:"queue_depth"`
}

// BadgeConfig holds Badge Aggregator settings
type BadgeConfig struct {
	RefreshIntervalSec int `json:"refresh_interval_sec"`
	FetchTimeoutSec    int `json:"fetch_timeout_sec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds the local API listener settings
type ServerConfig struct {
	ListenAddr      string `json:"listen_addr"`
	ReadTimeoutSec  int    `json:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec"`
	IdleTimeoutSec  int    `json:"idle_timeout_sec"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
