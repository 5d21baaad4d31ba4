package database

// Message queries
const (
	messageColumns = `id, conversation_id, sender_id, receiver_id, content, message_type,
		status, created_at, reply_to_id, audio_url, audio_duration, image_url,
		sticker_emoji, file_name, file_url, call_type, call_duration, call_status`

	// same ordering as models.MessageStatus.Rank
	statusRankExcluded = `CASE excluded.status WHEN 'read' THEN 2 WHEN 'delivered' THEN 1 ELSE 0 END`
	statusRankExisting = `CASE messages.status WHEN 'read' THEN 2 WHEN 'delivered' THEN 1 ELSE 0 END`

	// UpsertMessageQuery replaces an existing row only when the incoming row is
	// at least as new and its status is not a downgrade.
	UpsertMessageQuery = `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			sender_id = excluded.sender_id,
			receiver_id = excluded.receiver_id,
			content = excluded.content,
			message_type = excluded.message_type,
			status = excluded.status,
			created_at = excluded.created_at,
			reply_to_id = excluded.reply_to_id,
			audio_url = excluded.audio_url,
			audio_duration = excluded.audio_duration,
			image_url = excluded.image_url,
			sticker_emoji = excluded.sticker_emoji,
			file_name = excluded.file_name,
			file_url = excluded.file_url,
			call_type = excluded.call_type,
			call_duration = excluded.call_duration,
			call_status = excluded.call_status
		WHERE excluded.created_at >= messages.created_at
			AND (` + statusRankExcluded + `) >= (` + statusRankExisting + `)
	`

	SelectMessagesByConversationQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	SelectMessageByIDQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = ?
	`

	SelectLatestMessageQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	SelectLastSyncTimeQuery = `
		SELECT COALESCE(MAX(created_at), 0)
		FROM messages
		WHERE conversation_id = ?
	`

	DeleteAllMessagesQuery = `DELETE FROM messages`
)

// Conversation queries
const (
	conversationColumns = `conversation_id, other_user_id, other_user_name, other_user_photo,
		last_message, last_message_time, unread_count, updated_at`

	UpsertConversationQuery = `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			other_user_id = excluded.other_user_id,
			other_user_name = excluded.other_user_name,
			other_user_photo = excluded.other_user_photo,
			last_message = excluded.last_message,
			last_message_time = excluded.last_message_time,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at
	`

	SelectConversationByIDQuery = `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE conversation_id = ?
	`

	SelectConversationsQuery = `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE other_user_id IS NOT NULL AND other_user_id != ''
		ORDER BY last_message_time DESC
	`

	DeleteAllConversationsQuery = `DELETE FROM conversations`
)

// Statistics
const (
	CountMessagesQuery      = `SELECT COUNT(*) FROM messages`
	CountConversationsQuery = `SELECT COUNT(*) FROM conversations`
)
