// Package remote holds the clients that persist study records outside the
// participant's local store. Every client satisfies Inserter; any error it
// returns is treated by the write pipeline as "not persisted yet".
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// #region tables

// Table names one category of remote record.
type Table string

const (
	TableInteractionEvents Table = "interaction_events"
	TableCVRResponses      Table = "cvr_responses"
	TableAPAReorderings    Table = "apa_reorderings"
	TableValueEvolution    Table = "value_evolution"
	TableSessionFeedback   Table = "session_feedback"
	TableSessionMetrics    Table = "session_metrics"
)

// Tables lists every category in the order sync visits them.
var Tables = []Table{
	TableInteractionEvents,
	TableCVRResponses,
	TableAPAReorderings,
	TableValueEvolution,
	TableSessionFeedback,
	TableSessionMetrics,
}

// Valid reports whether t is one of Tables.
func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTable validates a category name.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown table %q", s)
	}
	return t, nil
}

// #endregion tables

// #region inserter

// Inserter persists one record into one table.
type Inserter interface {
	Insert(ctx context.Context, table Table, record json.RawMessage) error
}

// InserterFunc adapts a function to Inserter.
type InserterFunc func(ctx context.Context, table Table, record json.RawMessage) error

func (f InserterFunc) Insert(ctx context.Context, table Table, record json.RawMessage) error {
	return f(ctx, table, record)
}

// ErrUnavailable is returned by Offline and by clients that are not connected.
var ErrUnavailable = errors.New("remote persistence unavailable")

// Offline never persists anything, so every write lands in the fallback queue.
type Offline struct{}

func (Offline) Insert(context.Context, Table, json.RawMessage) error {
	return ErrUnavailable
}

// WithTimeout bounds every Insert on inner by d. A zero d returns inner.
func WithTimeout(inner Inserter, d time.Duration) Inserter {
	if d <= 0 {
		return inner
	}
	return InserterFunc(func(ctx context.Context, table Table, record json.RawMessage) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return inner.Insert(ctx, table, record)
	})
}

// #endregion inserter

// sessionOf pulls the session_id field out of a record, if it has one.
func sessionOf(record json.RawMessage) string {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(record, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}
