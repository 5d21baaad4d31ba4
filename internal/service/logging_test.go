package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVerboseLogging(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected bool
	}{
		{name: "verbose enabled", ctx: WithVerbose(context.Background(), true), expected: true},
		{name: "verbose disabled", ctx: WithVerbose(context.Background(), false), expected: false},
		{name: "no verbose in context", ctx: context.Background(), expected: false},
		{name: "untyped key ignored", ctx: context.WithValue(context.Background(), "verbose", true), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsVerboseLogging(tt.ctx))
		})
	}
}

func TestMessageFieldsMasking(t *testing.T) {
	masked := messageFields(context.Background(), "65f0c1d2e3a4", "alice_bob")
	assert.NotEqual(t, "65f0c1d2e3a4", masked[LogFieldMessageID])
	assert.NotEqual(t, "alice_bob", masked[LogFieldConversationID])

	verbose := messageFields(WithVerbose(context.Background(), true), "65f0c1d2e3a4", "alice_bob")
	assert.Equal(t, "65f0c1d2e3a4", verbose[LogFieldMessageID])
	assert.Equal(t, "alice_bob", verbose[LogFieldConversationID])
}
