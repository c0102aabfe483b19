package a2a

import (
	"context"
	"log/slog"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// CallEvent describes one completed client call, successful or not.
type CallEvent struct {
	Source      string
	Destination string
	UserID      string
	SessionID   string
	Latency     time.Duration
	Success     bool
	Code        domain.ErrorCode
	Attempts    int
	WithMedia   bool
}

// Observer receives one event per client call.
type Observer interface {
	ObserveCall(ctx context.Context, ev CallEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev CallEvent)

func (f ObserverFunc) ObserveCall(ctx context.Context, ev CallEvent) { f(ctx, ev) }

// MultiObserver fans an event out to several observers.
type MultiObserver []Observer

func (m MultiObserver) ObserveCall(ctx context.Context, ev CallEvent) {
	for _, o := range m {
		if o != nil {
			o.ObserveCall(ctx, ev)
		}
	}
}

// LogObserver writes each call as one structured "a2a call" log line.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) ObserveCall(ctx context.Context, ev CallEvent) {
	if o.Logger == nil {
		return
	}
	user, session := ev.UserID, ev.SessionID
	if user == "" {
		user = "unknown"
	}
	if session == "" {
		session = "unknown"
	}
	attrs := []any{
		"source_agent", ev.Source,
		"target_agent", ev.Destination,
		"user_id", user,
		"session_id", session,
		"latency_ms", float64(ev.Latency.Microseconds()) / 1000,
		"success", ev.Success,
		"attempts", ev.Attempts,
	}
	if !ev.Success {
		attrs = append(attrs, "error_code", string(ev.Code))
		o.Logger.WarnContext(ctx, "a2a call", attrs...)
		return
	}
	o.Logger.InfoContext(ctx, "a2a call", attrs...)
}
