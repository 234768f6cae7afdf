// Package pipeline wraps every remote write with a local fallback queue. A
// write that cannot be persisted remotely is queued under the session's store
// and replayed by SyncFallbackData; nothing recorded is ever dropped.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/studytrack/internal/logging"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/store"
)

// #region entry

// Entry is one queued write. Entries are only ever marked synced, never
// removed, so the queue doubles as an audit trail.
type Entry struct {
	ID        string          `json:"id"`
	Category  remote.Table    `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	QueuedAt  time.Time       `json:"queued_at"`
	Synced    bool            `json:"synced"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// #endregion entry

// #region pipeline

// Pipeline is scoped to one participant session.
type Pipeline struct {
	store     store.Store
	sessionID string
	sink      remote.Inserter
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *log.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(p *Pipeline) { p.logger = logging.OrDiscard(l) } }

// WithLimiter paces remote calls made during sync.
func WithLimiter(l *rate.Limiter) Option { return func(p *Pipeline) { p.limiter = l } }

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New returns the pipeline for sessionID.
func New(s store.Store, sessionID string, sink remote.Inserter, opts ...Option) (*Pipeline, error) {
	if s == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	if sink == nil {
		return nil, fmt.Errorf("pipeline requires a remote inserter")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	p := &Pipeline{
		store:     s,
		sessionID: sessionID,
		sink:      sink,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// #endregion pipeline

// #region write

// Write persists payload to category. It reports whether the remote insert
// succeeded; on failure the payload is queued and (false, nil) is returned,
// which is the expected degraded path. The error is non-nil only when the
// local queue itself could not take the entry.
func (p *Pipeline) Write(ctx context.Context, category remote.Table, payload any) (bool, error) {
	if !category.Valid() {
		return false, fmt.Errorf("write: unknown category %q", category)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("write %s: marshal payload: %w", category, err)
	}

	insertErr := p.insert(ctx, category, data)
	if insertErr == nil {
		p.metrics.write(category, resultPersisted)
		return true, nil
	}

	entry := Entry{
		ID:        uuid.New().String(),
		Category:  category,
		Payload:   data,
		QueuedAt:  p.now().UTC(),
		LastError: insertErr.Error(),
	}
	if _, err := store.AppendList(ctx, p.store, store.FallbackKey(p.sessionID, string(category)), entry, p.logger); err != nil {
		p.metrics.write(category, resultEnqueueError)
		return false, fmt.Errorf("write %s: enqueue fallback: %w", category, err)
	}
	p.metrics.write(category, resultQueued)
	p.logger.Warn("remote write failed, queued for sync",
		"session", p.sessionID, "category", category, "entry", entry.ID, "err", insertErr)
	return false, nil
}

// insert calls the sink, turning a panic into an ordinary failure.
func (p *Pipeline) insert(ctx context.Context, category remote.Table, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote insert panicked: %v", r)
		}
	}()
	return p.sink.Insert(ctx, category, data)
}

// #endregion write

// #region sync

// CategoryReport counts one category's sync outcome.
type CategoryReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

// SyncReport is the result of one SyncFallbackData call.
type SyncReport struct {
	Categories map[remote.Table]CategoryReport `json:"categories"`
}

// Totals sums the per-category reports.
func (r SyncReport) Totals() CategoryReport {
	var t CategoryReport
	for _, c := range r.Categories {
		t.Attempted += c.Attempted
		t.Synced += c.Synced
		t.Failed += c.Failed
	}
	return t
}

type attempt struct {
	synced bool
	err    string
}

// SyncFallbackData retries every unsynced entry in every category. Entries
// are marked synced only when the retry succeeds; failures stay queued for
// the next call. A category that cannot be read or written back does not
// stop the others; those errors are joined into the returned error.
func (p *Pipeline) SyncFallbackData(ctx context.Context) (SyncReport, error) {
	report := SyncReport{Categories: make(map[remote.Table]CategoryReport)}
	var errs []error
	for _, category := range remote.Tables {
		cr, err := p.syncCategory(ctx, category)
		if cr.Attempted > 0 {
			report.Categories[category] = cr
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", category, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	if t := report.Totals(); t.Attempted > 0 {
		p.logger.Info("fallback sync finished",
			"session", p.sessionID, "attempted", t.Attempted, "synced", t.Synced, "failed", t.Failed)
	}
	return report, errors.Join(errs...)
}

func (p *Pipeline) syncCategory(ctx context.Context, category remote.Table) (CategoryReport, error) {
	var cr CategoryReport
	key := store.FallbackKey(p.sessionID, string(category))
	entries, err := store.ReadList[Entry](ctx, p.store, key, p.logger)
	if err != nil {
		return cr, err
	}

	results := make(map[string]attempt)
	var waitErr error
	for _, e := range entries {
		if e.Synced {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			waitErr = err
			break
		}
		cr.Attempted++
		if err := p.insert(ctx, category, e.Payload); err != nil {
			cr.Failed++
			results[e.ID] = attempt{err: err.Error()}
			p.metrics.sync(category, resultFailed)
			continue
		}
		cr.Synced++
		results[e.ID] = attempt{synced: true}
		p.metrics.sync(category, resultSynced)
	}
	if len(results) == 0 {
		return cr, waitErr
	}

	// Merge by id so entries queued while we were retrying are kept as-is.
	syncedAt := p.now().UTC()
	_, err = store.UpdateList(ctx, p.store, key, p.logger, func(current []Entry) ([]Entry, error) {
		for i := range current {
			res, ok := results[current[i].ID]
			if !ok || current[i].Synced {
				continue
			}
			current[i].Attempts++
			if res.synced {
				current[i].Synced = true
				at := syncedAt
				current[i].SyncedAt = &at
				current[i].LastError = ""
			} else {
				current[i].LastError = res.err
			}
		}
		return current, nil
	})
	if err != nil {
		return cr, errors.Join(waitErr, err)
	}
	return cr, waitErr
}

// #endregion sync

// #region inspect

// Queue returns a category's entries, synced ones included.
func (p *Pipeline) Queue(ctx context.Context, category remote.Table) ([]Entry, error) {
	return store.ReadList[Entry](ctx, p.store, store.FallbackKey(p.sessionID, string(category)), p.logger)
}

// Pending counts unsynced entries per category; categories with none are omitted.
func (p *Pipeline) Pending(ctx context.Context) (map[remote.Table]int, error) {
	out := make(map[remote.Table]int)
	for _, category := range remote.Tables {
		entries, err := p.Queue(ctx, category)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.Synced {
				out[category]++
			}
		}
	}
	return out, nil
}

// #endregion inspect
