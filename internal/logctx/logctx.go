// Package logctx carries request-scoped correlation identifiers through a
// call chain via context.Context, instead of the global mutable
// trace-id/request-id the source relied on (spec.md §9).
package logctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

type key int

const (
	requestIDKey key = iota
	traceIDKey
	functionNameKey
)

// NewRequestID generates a fresh request id (used once per invocation:
// one bootstrap run, one lifecycle event, one backup/health tick).
func NewRequestID() string {
	return uuid.NewString()
}

// NewTraceID generates the 16-hex-character trace id that correlates a
// remote-exec command with its initiator (spec.md §6).
func NewTraceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed marker rather than panicking mid-invocation.
		return "0000000000000000"
	}
	return hex.EncodeToString(b[:])
}

// WithRequestID returns a context carrying the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request id from the context, or "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTraceID returns a context carrying the given trace id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID extracts the trace id from the context, or "" if absent.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithFunctionName returns a context tagging the current operation, e.g.
// "bootstrap.join" or "etcdlifecycle.drain".
func WithFunctionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, functionNameKey, name)
}

// FunctionName extracts the current operation name, or "" if absent.
func FunctionName(ctx context.Context) string {
	name, _ := ctx.Value(functionNameKey).(string)
	return name
}

// EnsureRequestID returns ctx unchanged if it already carries a request
// id, or a derived context with a freshly minted one otherwise.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestID(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, NewRequestID())
}

// String renders the correlation pair for inclusion in non-logging
// surfaces (e.g. error messages bubbled up to a caller).
func String(ctx context.Context) string {
	return fmt.Sprintf("request_id=%s trace_id=%s", RequestID(ctx), TraceID(ctx))
}
