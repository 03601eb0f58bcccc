// Package reqlog carries log fields discovered while a request is being
// handled back out to the request logging middleware.
package reqlog

import (
	"context"
	"log/slog"
	"sync"
)

type ctxKey struct{}

// Fields is a request-scoped, concurrency-safe bag of log attributes.
type Fields struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// With returns a child context carrying a fresh Fields and the Fields itself.
func With(ctx context.Context) (context.Context, *Fields) {
	f := &Fields{}
	return context.WithValue(ctx, ctxKey{}, f), f
}

// From returns the Fields attached to ctx, or nil.
func From(ctx context.Context) *Fields {
	f, _ := ctx.Value(ctxKey{}).(*Fields)
	return f
}

// Set records key=value for the current request. It replaces an earlier
// value for the same key. Missing Fields make it a no-op.
func Set(ctx context.Context, key string, value any) {
	f := From(ctx)
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.attrs {
		if f.attrs[i].Key == key {
			f.attrs[i] = slog.Any(key, value)
			return
		}
	}
	f.attrs = append(f.attrs, slog.Any(key, value))
}

// SessionName tags the request with the session display name. Secret keys
// never go through here.
func SessionName(ctx context.Context, name string) { Set(ctx, "session", name) }

// Attrs returns a snapshot of the recorded attributes.
func (f *Fields) Attrs() []slog.Attr {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]slog.Attr, len(f.attrs))
	copy(out, f.attrs)
	return out
}

// Args flattens the attributes for slog's variadic logging calls.
func (f *Fields) Args() []any {
	attrs := f.Attrs()
	out := make([]any, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, a)
	}
	return out
}
