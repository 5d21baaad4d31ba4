package service

// Standard field names for structured logging across the engine.
// Use these exact keys so log queries stay stable.
const (
	// Core identifiers
	LogFieldConversationID = "conversation_id"
	LogFieldMessageID      = "message_id"
	LogFieldUserID         = "user_id"
	LogFieldMatchID        = "match_id"
	LogFieldRequestID      = "request_id"
	LogFieldTraceID        = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Sync and event fields
	LogFieldEvent   = "event"
	LogFieldCursor  = "cursor"
	LogFieldPage    = "page"
	LogFieldApplied = "applied"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log levels
//
// DEBUG: per-message merge decisions, skipped rows, ignored events.
// INFO: startup and shutdown, completed sync runs, connection state.
// WARN: retryable failures, rows dropped as malformed, retained badge values.
// ERROR: failed operations the caller cannot recover from.
//
// Messages follow "Starting X", "Completed X" and "Failed to X".
