package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatsync/internal/metrics"
	"chatsync/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger(buf *bytes.Buffer, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger
}

func TestObservabilityMiddleware(t *testing.T) {
	var logBuffer bytes.Buffer
	logger := newLogger(&logBuffer, logrus.InfoLevel)
	registry := metrics.NewRegistry()

	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(logger, registry))
	router.HandleFunc("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, tracing.GetRequestID(r.Context()))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/conversations/alice_bob/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	requestID := w.Header().Get(RequestIDHeader)
	assert.True(t, strings.HasPrefix(requestID, "req_"))

	labels := map[string]string{"method": "GET", "route": "/conversations/{id}/messages", "status_code": "200"}
	assert.Equal(t, float64(1), registry.CounterValue(metrics.HTTPRequests, labels))

	snap := registry.Snapshot()
	var timed bool
	for key := range snap.Timers {
		if strings.HasPrefix(key, metrics.HTTPRequestDuration) {
			timed = true
		}
	}
	assert.True(t, timed)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(logBuffer.Bytes()), &entry))
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, requestID, entry["request_id"])
	assert.Equal(t, "/conversations/{id}/messages", entry["endpoint"])
	assert.NotContains(t, logBuffer.String(), "alice_bob")
}

func TestObservabilityMiddleware_ReusesRequestID(t *testing.T) {
	var logBuffer bytes.Buffer
	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(newLogger(&logBuffer, logrus.InfoLevel), metrics.NewRegistry()))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-from-ui", tracing.GetRequestID(r.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-from-ui")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-from-ui", w.Header().Get(RequestIDHeader))
}

func TestObservabilityMiddleware_ErrorLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusBadRequest, "warning"},
		{http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var logBuffer bytes.Buffer
			registry := metrics.NewRegistry()
			router := mux.NewRouter()
			router.Use(ObservabilityMiddleware(newLogger(&logBuffer, logrus.InfoLevel), registry))
			router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(logBuffer.Bytes()), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status_code"])
		})
	}
}

func TestLoopbackOnly(t *testing.T) {
	var logBuffer bytes.Buffer
	handler := LoopbackOnly(newLogger(&logBuffer, logrus.InfoLevel))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	local := httptest.NewRequest(http.MethodGet, "/badges", nil)
	local.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, local)
	assert.Equal(t, http.StatusNoContent, w.Code)

	remote := httptest.NewRequest(http.MethodGet, "/badges", nil)
	remote.RemoteAddr = "192.0.2.8:50000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, remote)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDetailedLoggingMiddleware(t *testing.T) {
	var logBuffer bytes.Buffer
	logger := newLogger(&logBuffer, logrus.DebugLevel)
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "meet at noon", body["content"], "body is restored for the handler")
		w.WriteHeader(http.StatusAccepted)
	}))

	payload := `{"_id":"65f0c1d2e3a4","content":"meet at noon","conversationId":"alice_bob"}`
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	logged := logBuffer.String()
	assert.Contains(t, logged, "Detailed request logging")
	assert.NotContains(t, logged, "secret-token")
	assert.NotContains(t, logged, "meet at noon")
	assert.NotContains(t, logged, "65f0c1d2e3a4")
}

func TestDetailedLoggingMiddleware_SkipsWhenNotDebug(t *testing.T) {
	var logBuffer bytes.Buffer
	handler := DetailedLoggingMiddleware(newLogger(&logBuffer, logrus.InfoLevel), DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{}`)))
	assert.Empty(t, logBuffer.String())
}
