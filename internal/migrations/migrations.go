package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is one ordered schema step. Apply runs inside the transaction
// that records the version, so each step lands exactly once.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// Record is a row of schema_migrations
type Record struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at INTEGER NOT NULL
)`

var callColumns = []struct {
	name string
	ddl  string
}{
	{"call_type", "ALTER TABLE messages ADD COLUMN call_type TEXT"},
	{"call_duration", "ALTER TABLE messages ADD COLUMN call_duration INTEGER"},
	{"call_status", "ALTER TABLE messages ADD COLUMN call_status TEXT"},
}

// All returns the cache schema in apply order
func All() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_messages",
			Apply: execStatement(`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				sender_id TEXT,
				receiver_id TEXT,
				content TEXT,
				message_type TEXT NOT NULL DEFAULT 'text',
				status TEXT NOT NULL DEFAULT 'sent',
				created_at INTEGER NOT NULL,
				reply_to_id TEXT,
				audio_url TEXT,
				audio_duration INTEGER,
				image_url TEXT,
				sticker_emoji TEXT,
				file_name TEXT,
				file_url TEXT
			)`),
		},
		{
			Version: 2,
			Name:    "create_conversations",
			Apply: execStatement(`CREATE TABLE IF NOT EXISTS conversations (
				conversation_id TEXT PRIMARY KEY,
				other_user_id TEXT,
				other_user_name TEXT,
				other_user_photo TEXT,
				last_message TEXT,
				last_message_time INTEGER,
				unread_count INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER
			)`),
		},
		{
			Version: 3,
			Name:    "add_call_columns",
			Apply:   addCallColumns,
		},
		{
			Version: 4,
			Name:    "index_messages_conversation_time",
			Apply: execStatement(`CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
				ON messages(conversation_id, created_at DESC)`),
		},
	}
}

func execStatement(stmt string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}
}

// addCallColumns only adds columns that are missing so databases created
// before call logs and databases created after both converge.
func addCallColumns(ctx context.Context, tx *sql.Tx) error {
	for _, col := range callColumns {
		exists, err := columnExists(ctx, tx, "messages", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	return count > 0, nil
}

// Run applies every pending migration from All and returns the versions applied
func Run(ctx context.Context, db *sql.DB) ([]int, error) {
	return RunMigrations(ctx, db, All())
}

// RunMigrations applies the given migrations in version order. Versions
// already recorded in schema_migrations are skipped.
func RunMigrations(ctx context.Context, db *sql.DB, list []Migration) ([]int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	ordered := make([]Migration, len(list))
	copy(ordered, list)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	var applied []int
	for _, m := range ordered {
		if done[m.Version] {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return applied, err
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Apply(ctx, tx); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// Status lists applied migrations, oldest first
func Status(ctx context.Context, db *sql.DB) ([]Record, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var appliedAt int64
		if err := rows.Scan(&r.Version, &r.Name, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		r.AppliedAt = time.UnixMilli(appliedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Pending lists migrations from All that have not been applied
func Pending(ctx context.Context, db *sql.DB) ([]Migration, error) {
	records, err := Status(ctx, db)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(records))
	for _, r := range records {
		done[r.Version] = true
	}

	var pending []Migration
	for _, m := range All() {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}
