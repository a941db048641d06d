package mieru

import (
	"context"
	"net/http"
)

// TraceHook receives async notifications when a trace is stored, whether
// it arrived over the HTTP ingest endpoint or was recorded by the task
// runner. Multiple hooks may be registered via multiple WithTraceHook
// calls. Hook methods run in goroutines and must not block indefinitely.
// Failures are logged but do not fail the originating write.
type TraceHook interface {
	OnTraceRecorded(ctx context.Context, trace Trace) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Registered routes share the mux, middleware chain, and OTEL
// instrumentation with the built-in routes. The function is called once
// during New() after all built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. Applied outermost, before
// routing, so it sees all requests including /health. Use for custom
// logging, auth, or cross-cutting headers. Multiple middlewares are
// applied in registration order (first registered is outermost).
type Middleware func(http.Handler) http.Handler
