package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const (
	requestIDKey      contextKey = "request_id"
	conversationIDKey contextKey = "conversation_id"
)

// ErrNotInitialized is returned by every store operation before Init succeeded.
var ErrNotInitialized = New(ErrCodeStoreNotInitialized, "local store is not initialized")

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewStorageError wraps a local store failure with the operation that failed.
// Transient SQLite conditions are marked retryable.
func NewStorageError(operation string, err error) *AppError {
	appErr := Wrap(err, ErrCodeStorage, fmt.Sprintf("storage %s failed", operation)).
		WithContext("operation", operation)
	appErr.Retryable = isTransientStorage(err)
	return appErr
}

// NewMalformedInputError reports a record missing required fields
func NewMalformedInputError(field, message string) *AppError {
	return New(ErrCodeMalformedInput, message).
		WithContext("field", field)
}

// NewRemoteFetchError creates an error for a failed call to the chat service.
// 5xx, 408 and 429 responses and transport failures (statusCode 0) are retryable.
func NewRemoteFetchError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeRemoteFetch, "remote fetch failed").
		WithContext("endpoint", endpoint)
	if statusCode > 0 {
		appErr.WithContext("status_code", statusCode)
	}
	appErr.Retryable = statusCode == 0 || statusCode >= 500 ||
		statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout
	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// FromCtxErr translates a context error into a typed error. Other errors pass through.
func FromCtxErr(err error, operation string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, fmt.Sprintf("%s canceled", operation))
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapRetryable(err, ErrCodeTimeout, fmt.Sprintf("%s timed out", operation))
	default:
		return err
	}
}

func isTransientStorage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "database table is locked", "sqlite_busy", "disk i/o error"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Context helpers

// ContextWithRequestID stores a request id for error context extraction
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithConversationID stores the conversation being worked on
func ContextWithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})
	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if conversationID := ctx.Value(conversationIDKey); conversationID != nil {
		errorCtx["conversation_id"] = conversationID
	}
	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}
	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}
	return err
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeMalformedInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRemoteFetch, ErrCodeTransport:
		return http.StatusBadGateway
	case ErrCodeStoreNotInitialized, ErrCodeStorage, ErrCodeMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the error body of the local API
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		response.Error.Code = appErr.Code
		response.Error.Message = appErr.Message
		if len(appErr.Context) > 0 {
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "token" && k != "secret" && k != "content" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = "internal error"
	}

	return response
}
