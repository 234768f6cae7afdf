// Package eventlog is the append-only, session-keyed log of telemetry events,
// together with the session's Scenario History.
package eventlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/danielpatrickdp/studytrack/internal/logging"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
)

// #region log

// Log appends to and reads one session's event log.
type Log struct {
	store     store.Store
	sessionID string
	logger    *log.Logger
}

// Open returns the log for sessionID. Nothing is written until the first Append.
func Open(s store.Store, sessionID string, logger *log.Logger) (*Log, error) {
	if s == nil {
		return nil, fmt.Errorf("event log requires a store")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	return &Log{store: s, sessionID: sessionID, logger: logging.OrDiscard(logger)}, nil
}

// SessionID returns the session this log belongs to.
func (l *Log) SessionID() string {
	return l.sessionID
}

// Store returns the backing store.
func (l *Log) Store() store.Store {
	return l.store
}

// #endregion log

// #region append

// Append stamps ev with the session id and the next sequence number, validates
// it and appends it durably. The stored event is returned.
func (l *Log) Append(ctx context.Context, ev telemetry.Event) (telemetry.Event, error) {
	ev.SessionID = l.sessionID
	if err := ev.Validate(); err != nil {
		return telemetry.Event{}, fmt.Errorf("append event: %w", err)
	}
	_, err := store.UpdateList(ctx, l.store, store.EventsKey(l.sessionID), l.logger,
		func(events []telemetry.Event) ([]telemetry.Event, error) {
			ev.Seq = nextSeq(events)
			return append(events, ev), nil
		})
	if err != nil {
		return telemetry.Event{}, fmt.Errorf("append event: %w", err)
	}
	return ev, nil
}

// nextSeq continues from the last stored sequence so that a log truncated by
// corruption never reuses a number that was already handed out downstream.
func nextSeq(events []telemetry.Event) int {
	if len(events) == 0 {
		return 1
	}
	last := events[len(events)-1].Seq
	if last < len(events) {
		last = len(events)
	}
	return last + 1
}

// #endregion append

// Events returns the full log in append order.
func (l *Log) Events(ctx context.Context) ([]telemetry.Event, error) {
	return store.ReadList[telemetry.Event](ctx, l.store, store.EventsKey(l.sessionID), l.logger)
}

// #region history

// AppendHistory appends a closed scenario record to the session's history.
func AppendHistory[T any](ctx context.Context, l *Log, rec T) error {
	if _, err := store.AppendList(ctx, l.store, store.HistoryKey(l.sessionID), rec, l.logger); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the session's closed scenario records in completion order.
func History[T any](ctx context.Context, l *Log) ([]T, error) {
	return store.ReadList[T](ctx, l.store, store.HistoryKey(l.sessionID), l.logger)
}

// #endregion history
