package service

import (
	"context"

	"chatsync/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx for verbose logging
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// conversationFields returns the masked conversation id, or the raw one
// when ctx asks for verbose logging.
func conversationFields(ctx context.Context, conversationID string) logrus.Fields {
	if IsVerboseLogging(ctx) {
		return logrus.Fields{LogFieldConversationID: conversationID}
	}
	return logrus.Fields{LogFieldConversationID: privacy.MaskConversationID(conversationID)}
}

func messageFields(ctx context.Context, messageID, conversationID string) logrus.Fields {
	fields := conversationFields(ctx, conversationID)
	if IsVerboseLogging(ctx) {
		fields[LogFieldMessageID] = messageID
	} else {
		fields[LogFieldMessageID] = privacy.MaskMessageID(messageID)
	}
	return fields
}
