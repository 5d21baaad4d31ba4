package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ValidateFilePath rejects empty paths, NUL bytes and directory traversal
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("file path contains NUL byte")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return nil
}

// ValidateFilePathWithBase validates a relative file path against a base directory
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	cleanPath := filepath.Clean(filepath.Join(baseDir, path))
	cleanBase := filepath.Clean(baseDir)
	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}
	return nil
}

// SQLiteDSN builds a go-sqlite3 DSN for a validated database path. Each
// ":memory:" call names a fresh database, shared only by the pool that opens it.
func SQLiteDSN(path string, busyTimeoutMs int) (string, error) {
	if err := ValidateFilePath(path); err != nil {
		return "", err
	}
	if path == ":memory:" {
		return fmt.Sprintf("file:chatsync-%s?mode=memory&cache=shared&_busy_timeout=%d&_foreign_keys=on", uuid.NewString(), busyTimeoutMs), nil
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeoutMs), nil
}
