package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/migrations"
	"chatsync/internal/models"
	"chatsync/internal/privacy"
	"chatsync/internal/security"
	"chatsync/internal/validation"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotInitialized is returned by every operation before Init succeeded
var ErrNotInitialized = apperrors.ErrNotInitialized

// Writer is the set of primitives shared by the store and its transactions
type Writer interface {
	UpsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	UpsertConversation(ctx context.Context, conv *models.Conversation) (bool, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	GetLatestMessage(ctx context.Context, conversationID string) (*models.Message, error)
	GetLastSyncTime(ctx context.Context, conversationID string) (int64, error)
}

// Stats summarizes the cache contents
type Stats struct {
	Messages      int `json:"messages"`
	Conversations int `json:"conversations"`
}

// Store is the durable local cache of messages and conversation summaries
type Store struct {
	path   string
	cfg    models.DatabaseConfig
	logger *logrus.Logger

	mu     sync.RWMutex
	db     *sql.DB
	enc    *encryptor
	ready  bool
	closed bool
}

// New returns a store that is not yet initialized
func New(path string, cfg models.DatabaseConfig, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{path: path, cfg: cfg, logger: logger}
}

// Open creates and initializes a store
func Open(ctx context.Context, path string, cfg models.DatabaseConfig, logger *logrus.Logger) (*Store, error) {
	s := New(path, cfg, logger)
	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database file and applies pending migrations. Safe to call again.
func (s *Store) Init(ctx context.Context) error {
	if s == nil {
		return ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.NewStorageError("init", fmt.Errorf("store is closed"))
	}

	if s.db == nil {
		db, enc, err := s.openDB(ctx)
		if err != nil {
			return err
		}
		s.db = db
		s.enc = enc
	}

	applied, err := migrations.Run(ctx, s.db)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeMigration, "failed to apply migrations")
	}
	if len(applied) > 0 {
		s.logger.WithFields(logrus.Fields{
			"versions": applied,
		}).Info("Applied cache schema migrations")
	}

	s.ready = true
	return nil
}

func (s *Store) openDB(ctx context.Context) (*sql.DB, *encryptor, error) {
	busyTimeout := s.cfg.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = constants.DefaultDatabaseBusyTimeoutMs
	}

	dsn, err := security.SQLiteDSN(s.path, busyTimeout)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("open", fmt.Errorf("invalid database path: %w", err))
	}

	if s.path != ":memory:" {
		file, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, apperrors.NewStorageError("open", fmt.Errorf("failed to create database file: %w", err))
		}
		if err := file.Close(); err != nil {
			return nil, nil, apperrors.NewStorageError("open", fmt.Errorf("failed to close database file: %w", err))
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("open", err)
	}

	if s.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	if s.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, apperrors.NewStorageError("ping", err)
	}

	enc, err := newEncryptor(s.cfg.EnableEncryption, s.cfg.EncryptionSecret)
	if err != nil {
		_ = db.Close()
		return nil, nil, apperrors.NewStorageError("init encryption", err)
	}

	return db, enc, nil
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ready = false

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ops() (*rowOps, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready || s.db == nil {
		return nil, ErrNotInitialized
	}
	return &rowOps{q: s.db, enc: s.enc, logger: s.logger}, nil
}

func (s *Store) handle() (*sql.DB, *encryptor, error) {
	if s == nil {
		return nil, nil, ErrNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready || s.db == nil {
		return nil, nil, ErrNotInitialized
	}
	return s.db, s.enc, nil
}

// UpsertMessage writes msg through the guarded merge. applied is false when
// the cached row is newer or has a higher status.
func (s *Store) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	ops, err := s.ops()
	if err != nil {
		return false, err
	}

	var applied bool
	err = retryableDBOperation(ctx, func() error {
		var opErr error
		applied, opErr = ops.UpsertMessage(ctx, msg)
		return opErr
	}, "upsert message")
	return applied, wrapStorage("upsert message", err)
}

// UpsertMessages writes a batch in one transaction and returns how many rows
// were applied. Malformed messages are skipped.
func (s *Store) UpsertMessages(ctx context.Context, msgs []*models.Message) (int, error) {
	if len(msgs) == 0 {
		if _, err := s.ops(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var count int
	err := s.InTx(ctx, func(w Writer) error {
		count = 0
		for _, msg := range msgs {
			applied, err := w.UpsertMessage(ctx, msg)
			if err != nil {
				if apperrors.HasCode(err, apperrors.ErrCodeMalformedInput) {
					s.logger.WithError(err).Warn("Skipping malformed message in batch")
					continue
				}
				return err
			}
			if applied {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetMessages returns the newest messages of a conversation, newest first
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = constants.DefaultMessagePageSize
	}
	if limit > constants.MaxMessagePageSize {
		limit = constants.MaxMessagePageSize
	}

	msgs, err := ops.getMessages(ctx, conversationID, limit)
	return msgs, wrapStorage("get messages", err)
}

// GetMessage returns one message or nil
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}
	msg, err := ops.getMessage(ctx, SelectMessageByIDQuery, id)
	return msg, wrapStorage("get message", err)
}

// GetLatestMessage returns the newest message of a conversation or nil
func (s *Store) GetLatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}
	msg, err := ops.GetLatestMessage(ctx, conversationID)
	return msg, wrapStorage("get latest message", err)
}

// GetLastSyncTime returns the newest cached created_at, or 0
func (s *Store) GetLastSyncTime(ctx context.Context, conversationID string) (int64, error) {
	ops, err := s.ops()
	if err != nil {
		return 0, err
	}
	ts, err := ops.GetLastSyncTime(ctx, conversationID)
	return ts, wrapStorage("get last sync time", err)
}

// UpsertConversation replaces a summary row. Rows without an other user
// are skipped and stored is false.
func (s *Store) UpsertConversation(ctx context.Context, conv *models.Conversation) (bool, error) {
	ops, err := s.ops()
	if err != nil {
		return false, err
	}

	var stored bool
	err = retryableDBOperation(ctx, func() error {
		var opErr error
		stored, opErr = ops.UpsertConversation(ctx, conv)
		return opErr
	}, "upsert conversation")
	return stored, wrapStorage("upsert conversation", err)
}

// GetConversation returns one summary row or nil
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}
	conv, err := ops.GetConversation(ctx, conversationID)
	return conv, wrapStorage("get conversation", err)
}

// GetConversations returns every row with an other user, most recent first
func (s *Store) GetConversations(ctx context.Context) ([]*models.Conversation, error) {
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}
	convs, err := ops.getConversations(ctx)
	return convs, wrapStorage("get conversations", err)
}

// Clear deletes every message and conversation in one transaction
func (s *Store) Clear(ctx context.Context) error {
	db, _, err := s.handle()
	if err != nil {
		return err
	}

	err = retryableDBOperation(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, DeleteAllMessagesQuery); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, DeleteAllConversationsQuery); err != nil {
			return err
		}
		return tx.Commit()
	}, "clear cache")
	if err != nil {
		return wrapStorage("clear", err)
	}

	s.logger.Info("Local cache cleared")
	return nil
}

// InTx runs fn inside one transaction. A non-nil error from fn rolls back.
// Transient SQLite errors retry the whole transaction.
func (s *Store) InTx(ctx context.Context, fn func(w Writer) error) error {
	db, enc, err := s.handle()
	if err != nil {
		return err
	}

	err = retryableDBOperation(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(&rowOps{q: tx, enc: enc, logger: s.logger}); err != nil {
			return err
		}
		return tx.Commit()
	}, "transaction")
	return wrapStorage("transaction", err)
}

// Health pings the database
func (s *Store) Health(ctx context.Context) error {
	db, _, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("ping", err)
	}
	return nil
}

// Stats counts cached rows
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db, _, err := s.handle()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	if err := db.QueryRowContext(ctx, CountMessagesQuery).Scan(&stats.Messages); err != nil {
		return nil, apperrors.NewStorageError("count messages", err)
	}
	if err := db.QueryRowContext(ctx, CountConversationsQuery).Scan(&stats.Conversations); err != nil {
		return nil, apperrors.NewStorageError("count conversations", err)
	}
	return stats, nil
}

// wrapStorage types raw driver errors. Typed errors and context errors pass through.
func wrapStorage(operation string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.FromCtxErr(err, operation)
	}
	return apperrors.NewStorageError(operation, err)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowOps implements the row level primitives against a *sql.DB or *sql.Tx
type rowOps struct {
	q      querier
	enc    *encryptor
	logger *logrus.Logger
}

func (o *rowOps) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if err := validation.ValidateMessage(msg); err != nil {
		return false, err
	}

	row := *msg
	row.ApplyDefaults()

	content, err := o.enc.Encrypt(row.Content)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt content: %w", err)
	}

	var callType, callStatus *string
	var callDuration *int64
	if row.Call != nil {
		callType = &row.Call.CallType
		callDuration = row.Call.Duration
		if row.Call.Status != "" {
			callStatus = &row.Call.Status
		}
	}

	result, err := o.q.ExecContext(ctx, UpsertMessageQuery,
		row.ID,
		row.ConversationID,
		nullString(row.SenderID),
		nullString(row.ReceiverID),
		content,
		string(row.MessageType),
		string(row.Status),
		row.CreatedAt,
		row.ReplyToID,
		row.AudioURL,
		row.AudioDuration,
		row.ImageURL,
		row.StickerEmoji,
		row.FileName,
		row.FileURL,
		callType,
		callDuration,
		callStatus,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 0 {
		o.logger.WithFields(logrus.Fields{
			"message_id":      privacy.MaskMessageID(row.ID),
			"conversation_id": privacy.MaskConversationID(row.ConversationID),
			"status":          row.Status,
		}).Debug("Rejected stale message write")
	}
	return affected > 0, nil
}

func (o *rowOps) GetLatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	return o.getMessage(ctx, SelectLatestMessageQuery, conversationID)
}

func (o *rowOps) GetLastSyncTime(ctx context.Context, conversationID string) (int64, error) {
	var ts int64
	if err := o.q.QueryRowContext(ctx, SelectLastSyncTimeQuery, conversationID).Scan(&ts); err != nil {
		return 0, err
	}
	return ts, nil
}

func (o *rowOps) getMessage(ctx context.Context, query string, arg string) (*models.Message, error) {
	msg, err := o.scanMessage(o.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (o *rowOps) getMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	rows, err := o.q.QueryContext(ctx, SelectMessagesByConversationQuery, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := o.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (o *rowOps) scanMessage(sc scanner) (*models.Message, error) {
	var (
		msg                             models.Message
		senderID, receiverID, content   sql.NullString
		messageType, status             string
		replyTo, audioURL, imageURL     sql.NullString
		stickerEmoji, fileName, fileURL sql.NullString
		callType, callStatus            sql.NullString
		audioDuration, callDuration     sql.NullInt64
	)

	err := sc.Scan(
		&msg.ID,
		&msg.ConversationID,
		&senderID,
		&receiverID,
		&content,
		&messageType,
		&status,
		&msg.CreatedAt,
		&replyTo,
		&audioURL,
		&audioDuration,
		&imageURL,
		&stickerEmoji,
		&fileName,
		&fileURL,
		&callType,
		&callDuration,
		&callStatus,
	)
	if err != nil {
		return nil, err
	}

	msg.SenderID = senderID.String
	msg.ReceiverID = receiverID.String
	msg.MessageType = models.MessageType(messageType)
	msg.Status = models.MessageStatus(status)
	msg.Content, err = o.enc.Decrypt(content.String)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}

	msg.ReplyToID = stringPtr(replyTo)
	msg.AudioURL = stringPtr(audioURL)
	msg.AudioDuration = int64Ptr(audioDuration)
	msg.ImageURL = stringPtr(imageURL)
	msg.StickerEmoji = stringPtr(stickerEmoji)
	msg.FileName = stringPtr(fileName)
	msg.FileURL = stringPtr(fileURL)

	if callType.Valid && callType.String != "" {
		msg.Call = &models.CallData{
			CallType: callType.String,
			Duration: int64Ptr(callDuration),
			Status:   callStatus.String,
		}
	}

	return &msg, nil
}

func (o *rowOps) UpsertConversation(ctx context.Context, conv *models.Conversation) (bool, error) {
	if !conv.HasOtherUser() {
		id := ""
		if conv != nil {
			id = conv.ConversationID
		}
		o.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(id),
		}).Warn("Skipping conversation without other user")
		return false, nil
	}
	if err := validation.ValidateConversation(conv); err != nil {
		return false, err
	}

	row := *conv
	row.Normalize(models.NowMillis())

	var lastMessage *string
	if row.LastMessage != nil {
		sealed, err := o.enc.Encrypt(row.LastMessage.Content)
		if err != nil {
			return false, fmt.Errorf("failed to encrypt last message: %w", err)
		}
		lastMessage = &sealed
	}

	_, err := o.q.ExecContext(ctx, UpsertConversationQuery,
		row.ConversationID,
		row.OtherUser.ID,
		row.OtherUser.Name,
		row.OtherUser.Photo,
		lastMessage,
		row.LastMessageAt,
		row.UnreadCount,
		row.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *rowOps) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := o.scanConversation(o.q.QueryRowContext(ctx, SelectConversationByIDQuery, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (o *rowOps) getConversations(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := o.q.QueryContext(ctx, SelectConversationsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := o.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (o *rowOps) scanConversation(sc scanner) (*models.Conversation, error) {
	var (
		conv                      models.Conversation
		otherID, otherName, photo sql.NullString
		lastMessage               sql.NullString
		lastMessageTime           sql.NullInt64
		updatedAt                 sql.NullInt64
	)

	err := sc.Scan(
		&conv.ConversationID,
		&otherID,
		&otherName,
		&photo,
		&lastMessage,
		&lastMessageTime,
		&conv.UnreadCount,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if otherID.String != "" {
		conv.OtherUser = &models.OtherUser{
			ID:    otherID.String,
			Name:  otherName.String,
			Photo: photo.String,
		}
	}
	conv.LastMessageAt = lastMessageTime.Int64
	conv.UpdatedAt = updatedAt.Int64

	if lastMessage.Valid {
		content, err := o.enc.Decrypt(lastMessage.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt last message: %w", err)
		}
		conv.LastMessage = &models.LastMessage{
			Content:   content,
			CreatedAt: lastMessageTime.Int64,
		}
	}

	return &conv, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
