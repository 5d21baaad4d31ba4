package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"chatsync/internal/constants"
	"chatsync/internal/models"
	"chatsync/internal/security"
	"chatsync/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingAPIURL      = models.ConfigError{Message: "missing chat service API URL"}
	ErrMissingRealtimeURL = models.ConfigError{Message: "missing realtime URL while realtime is enabled"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingUserID      = models.ConfigError{Message: "missing user id"}
)

// Environment variables read after the file is parsed
const (
	EnvAPIURL           = "CHATSYNC_API_URL"
	EnvRealtimeURL      = "CHATSYNC_REALTIME_URL"
	EnvDBPath           = "CHATSYNC_DB_PATH"
	EnvUserID           = "CHATSYNC_USER_ID"
	EnvListenAddr       = "CHATSYNC_LISTEN_ADDR"
	EnvLogLevel         = "CHATSYNC_LOG_LEVEL"
	EnvAuthToken        = "CHATSYNC_AUTH_TOKEN"
	EnvEnableEncryption = "CHATSYNC_ENABLE_ENCRYPTION"
	EnvEncryptionSecret = "CHATSYNC_ENCRYPTION_SECRET"
	EnvEnvironment      = "CHATSYNC_ENV"
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = constants.DefaultAPITimeoutSec
	}
	if c.API.RateLimitPerSec <= 0 {
		c.API.RateLimitPerSec = constants.DefaultAPIRateLimitPerSec
	}
	if c.API.RateBurst <= 0 {
		c.API.RateBurst = constants.DefaultAPIRateBurst
	}
	if c.API.BreakerMaxFailures <= 0 {
		c.API.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.API.BreakerResetTimeout <= 0 {
		c.API.BreakerResetTimeout = constants.DefaultBreakerResetTimeoutS
	}

	if c.Realtime.ReconnectInitialMs <= 0 {
		c.Realtime.ReconnectInitialMs = constants.DefaultReconnectInitialMs
	}
	if c.Realtime.ReconnectMaxMs <= 0 {
		c.Realtime.ReconnectMaxMs = constants.DefaultReconnectMaxMs
	}
	if c.Realtime.DialTimeoutSec <= 0 {
		c.Realtime.DialTimeoutSec = constants.DefaultDialTimeoutSec
	}

	if c.Database.BusyTimeoutMs <= 0 {
		c.Database.BusyTimeoutMs = constants.DefaultDatabaseBusyTimeoutMs
	}

	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = constants.DefaultMessagePageSize
	}
	if c.Sync.PageSize > constants.MaxMessagePageSize {
		c.Sync.PageSize = constants.MaxMessagePageSize
	}
	if c.Sync.MaxPages <= 0 {
		c.Sync.MaxPages = constants.DefaultMaxPagesPerSync
	}
	if c.Sync.FetchTimeoutSec <= 0 {
		c.Sync.FetchTimeoutSec = constants.DefaultFetchTimeoutSec
	}
	if c.Sync.MaxConcurrent <= 0 {
		c.Sync.MaxConcurrent = constants.DefaultSyncMaxConcurrent
	}
	if c.Sync.IntervalSec <= 0 {
		c.Sync.IntervalSec = constants.DefaultSyncIntervalSec
	}
	if c.Sync.QueueDepth <= 0 {
		c.Sync.QueueDepth = constants.DefaultWriteQueueDepth
	}

	if c.Badge.RefreshIntervalSec <= 0 {
		c.Badge.RefreshIntervalSec = constants.DefaultBadgeRefreshIntervalSec
	}
	if c.Badge.FetchTimeoutSec <= 0 {
		c.Badge.FetchTimeoutSec = constants.DefaultBadgeFetchTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = constants.DefaultListenAddr
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	defaults := tracing.DefaultTracingConfig()
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.ServiceName
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = defaults.ServiceVersion
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = defaults.Environment
	}
	if c.Tracing.OTLPEndpoint == "" && !c.Tracing.UseStdout {
		c.Tracing.OTLPEndpoint = defaults.OTLPEndpoint
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = defaults.SampleRate
	}
}

func validate(c *models.Config) error {
	if c.API.BaseURL == "" {
		return ErrMissingAPIURL
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.UserID == "" {
		return ErrMissingUserID
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}

	if c.Realtime.Enabled {
		if c.Realtime.URL == "" {
			return ErrMissingRealtimeURL
		}
		if err := validateURL("realtime.url", c.Realtime.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Realtime.ReconnectMaxMs < c.Realtime.ReconnectInitialMs {
		return models.ConfigError{Message: "realtime.reconnect_max_ms must not be below reconnect_initial_ms"}
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return models.ConfigError{Message: "retry.maxBackoffMs must not be below initialBackoffMs"}
	}

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid server.listen_addr %q: %v", c.Server.ListenAddr, err)}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level %q", c.LogLevel)}
	}

	if err := tracing.ValidateConfig(c.Tracing); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return models.ConfigError{Message: fmt.Sprintf("invalid %s: %q", key, raw)}
	}
	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) {
			return nil
		}
	}
	return models.ConfigError{Message: fmt.Sprintf("%s must use one of %s", key, strings.Join(schemes, ", "))}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvRealtimeURL); v != "" {
		c.Realtime.URL = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		c.UserID = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	// Secrets are never read from the config file
	c.API.AuthToken = os.Getenv(EnvAuthToken)
	if v := os.Getenv(EnvEnableEncryption); v != "" {
		enabled, err := strconv.ParseBool(v)
		c.Database.EnableEncryption = err == nil && enabled
	}
	c.Database.EncryptionSecret = os.Getenv(EnvEncryptionSecret)
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.Database.EnableEncryption {
		if c.Database.EncryptionSecret == "" {
			return models.ConfigError{Message: fmt.Sprintf("encryption is enabled but %s is not set", EnvEncryptionSecret)}
		}
		if len(c.Database.EncryptionSecret) < constants.MinEncryptionSecret {
			return models.ConfigError{Message: fmt.Sprintf("encryption secret must be at least %d characters long", constants.MinEncryptionSecret)}
		}
	}

	if os.Getenv(EnvEnvironment) == "production" {
		if c.API.AuthToken == "" {
			return models.ConfigError{Message: fmt.Sprintf("auth token is required in production (set %s)", EnvAuthToken)}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (message content may be logged)"}
		}
		return nil
	}

	if c.API.AuthToken == "" {
		fmt.Fprintf(os.Stderr, "WARNING: auth token not set. Set %s to authenticate against the chat service.\n", EnvAuthToken)
	}
	return nil
}
