// Package audit records security-relevant auth events.
//
// Sinks are best effort: a failing sink logs and never fails the request
// that produced the event.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions recorded by the auth subsystem.
const (
	SessionCreated   = "session.created"
	EvidenceRotated  = "evidence.rotated"
	UserCreated      = "user.created"
	UserAttached     = "user.attached"
	UserDetached     = "user.detached"
	UserLocked       = "user.locked"
	UserForgotten    = "user.forgotten"
	PasswordFailed   = "password.failed"
	PasswordThrottle = "password.throttled"
)

// Event is one audit entry. It never carries secret keys or credentials.
type Event struct {
	TS          time.Time      `json:"ts"`
	Action      string         `json:"action"`
	SessionID   string         `json:"sessionId,omitempty"`
	SessionName string         `json:"sessionName,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	IP          string         `json:"ip,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Sink consumes audit events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, ev)
		}
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Record(ctx context.Context, ev Event) {
	if s.Log == nil {
		return
	}
	args := []any{"action", ev.Action}
	if ev.SessionName != "" {
		args = append(args, "session", ev.SessionName)
	}
	if ev.UserID != "" {
		args = append(args, "user_id", ev.UserID)
	}
	if ev.IP != "" {
		args = append(args, "ip", ev.IP)
	}
	if len(ev.Meta) > 0 {
		args = append(args, "meta", ev.Meta)
	}
	s.Log.InfoContext(ctx, "audit", args...)
}

// Counter is satisfied by *metrics.Metrics.
type Counter interface {
	AuthEvent(action string)
}

// MetricsSink counts events by action.
type MetricsSink struct {
	Counter Counter
}

func (s MetricsSink) Record(_ context.Context, ev Event) {
	if s.Counter != nil {
		s.Counter.AuthEvent(ev.Action)
	}
}
