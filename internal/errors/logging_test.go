package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	assert.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)

	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestFromLogrus(t *testing.T) {
	base := logrus.New()
	wrapped := FromLogrus(base)
	assert.Same(t, base, wrapped.Logger)

	assert.NotNil(t, FromLogrus(nil).Logger)
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	tests := []struct {
		name             string
		err              error
		message          string
		fields           []logrus.Fields
		expectedInOutput []string
	}{
		{
			name:    "AppError with context",
			err:     NewMalformedInputError("other_user.id", "conversation has no other user"),
			message: "Rejected conversation payload",
			fields:  []logrus.Fields{{"conversation_id": "a_b"}},
			expectedInOutput: []string{
				`"level":"error"`,
				`"error_code":"MALFORMED_INPUT"`,
				`"retryable":false`,
				`"field":"other_user.id"`,
				`"conversation_id":"a_b"`,
				`"msg":"Rejected conversation payload"`,
			},
		},
		{
			name:    "standard error",
			err:     errors.New("something went wrong"),
			message: "Operation failed",
			expectedInOutput: []string{
				`"level":"error"`,
				`"msg":"Operation failed"`,
				`"error":"something went wrong"`,
			},
		},
		{
			name:    "wrapped retryable AppError",
			err:     fmt.Errorf("sync failed: %w", NewRemoteFetchError("/chat/conversations", 503, errors.New("unavailable"))),
			message: "Remote error",
			expectedInOutput: []string{
				`"error_code":"REMOTE_FETCH"`,
				`"retryable":true`,
				`"status_code":503`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()

			logger.LogError(tt.err, tt.message, tt.fields...)

			output := buf.String()
			for _, expected := range tt.expectedInOutput {
				assert.Contains(t, output, expected)
			}
		})
	}
}

func TestLogger_LogWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	appErr := NewTimeoutError("fetch messages", "15s")

	logger.LogWarn(appErr, "Fetch timed out")

	output := buf.String()
	assert.Contains(t, output, `"level":"warning"`)
	assert.Contains(t, output, `"error_code":"TIMEOUT"`)
	assert.Contains(t, output, `"timeout":"15s"`)
	assert.Contains(t, output, `"msg":"Fetch timed out"`)
}

func TestLogger_LogRetryableError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	tests := []struct {
		name          string
		err           error
		expectedLevel string
	}{
		{
			name:          "retryable error logs at warn level",
			err:           NewStorageError("upsert message", errors.New("database is locked")),
			expectedLevel: "warning",
		},
		{
			name:          "non-retryable error logs at error level",
			err:           NewMalformedInputError("id", "missing id"),
			expectedLevel: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()

			logger.LogRetryableError(tt.err, "Test message")

			assert.Contains(t, buf.String(), `"level":"`+tt.expectedLevel+`"`)
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger := NewLogger()

	entry := logger.WithContext(logrus.Fields{
		"request_id":      "123",
		"conversation_id": "a_b",
	})

	assert.Equal(t, "123", entry.Data["request_id"])
	assert.Equal(t, "a_b", entry.Data["conversation_id"])
}

func TestLogger_StructuredLogging_Integration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	appErr := NewStorageError("open", errors.New("unable to open database file")).
		WithContext("path", "/tmp/cache.db")

	logger.LogError(appErr, "Local store unavailable", logrus.Fields{
		"attempt": 3,
	})

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "error", logEntry["level"])
	assert.Equal(t, "STORAGE", logEntry["error_code"])
	assert.Equal(t, false, logEntry["retryable"])
	assert.Equal(t, "open", logEntry["operation"])
	assert.Equal(t, "/tmp/cache.db", logEntry["path"])
	assert.Equal(t, float64(3), logEntry["attempt"])
	assert.Contains(t, logEntry["error"].(string), "unable to open database file")
}

func TestLogger_NilError_Handling(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	logger.LogError(nil, "Something happened without an error")

	output := buf.String()
	assert.Contains(t, output, `"level":"error"`)
	assert.NotContains(t, output, `"error_code"`)
}
