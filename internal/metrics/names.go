package metrics

// Metric names recorded by the sync engine
const (
	MessagesApplied       = "messages_applied_total"
	MessagesRejected      = "messages_rejected_total"
	MessagesMalformed     = "messages_malformed_total"
	ConversationsStored   = "conversations_stored_total"
	ConversationsSkipped  = "conversations_skipped_total"
	ConversationsMaterial = "conversations_materialized_total"
	SyncRuns              = "sync_runs_total"
	SyncFailures          = "sync_failures_total"
	SyncCancelled         = "sync_cancelled_total"
	SyncDuration          = "sync_duration"
	RealtimeEvents        = "realtime_events_total"
	RealtimeReconnects    = "realtime_reconnects_total"
	BadgeRefreshes        = "badge_refreshes_total"
	BadgeRefreshFailures  = "badge_refresh_failures_total"
	BadgeLikesYou         = "badge_likes_you"
	BadgeUnreadMessages   = "badge_unread_messages"
	CacheFailures         = "cache_failures_total"
	APIRequests           = "api_requests_total"
	APIRequestDuration    = "api_request_duration"
	HTTPRequests          = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration"
	WriteQueueWorkers     = "write_queue_workers"
)
