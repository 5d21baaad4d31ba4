package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"chatsync/internal/privacy"
	"chatsync/internal/service"
	"chatsync/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what the verbose request log contains
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SkipPaths         []string
}

// DefaultDetailedLoggingConfig returns the settings used with -verbose
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		MaxBodySize:       2048,
		SensitiveHeaders:  []string{"authorization", "cookie", "x-auth-token"},
		SkipPaths:         []string{"/health", "/metrics"},
	}
}

// DetailedLoggingMiddleware logs headers and JSON bodies at debug level.
// Message content and ids in bodies are masked before logging.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.String(),
				"content_length":          r.ContentLength,
			}

			if config.LogRequestHeaders {
				headers := make(map[string]string, len(r.Header))
				for name, values := range r.Header {
					if isSensitiveHeader(name, config.SensitiveHeaders) {
						headers[name] = "***MASKED***"
					} else {
						headers[name] = strings.Join(values, ", ")
					}
				}
				fields["request_headers"] = headers
			}

			if config.LogRequestBody && r.Body != nil && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = maskBody(body)
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

// maskBody masks the sensitive keys of a JSON object or array body
func maskBody(body []byte) interface{} {
	var object map[string]interface{}
	if err := json.Unmarshal(body, &object); err == nil {
		return privacy.MaskSensitiveFields(object)
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(body, &list); err == nil {
		masked := make([]map[string]interface{}, len(list))
		for i, item := range list {
			masked[i] = privacy.MaskSensitiveFields(item)
		}
		return masked
	}
	return "***NON-JSON BODY***"
}

func skipPath(path string, skip []string) bool {
	for _, p := range skip {
		if path == p {
			return true
		}
	}
	return false
}

func isSensitiveHeader(name string, sensitive []string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if lower == strings.ToLower(s) {
			return true
		}
	}
	return false
}
