package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRunID    contextKey = "run_id"
	ContextKeyJobToken contextKey = "job_token"
)

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return runID
	}
	return ""
}

// WithJobToken adds a job token to the context
func WithJobToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyJobToken, token)
}

// JobTokenFromContext extracts the job token from context
func JobTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(ContextKeyJobToken).(string); ok {
		return token
	}
	return ""
}
