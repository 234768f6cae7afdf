// Package tracker is the scenario state tracker: a session-scoped handle that
// turns participant actions into telemetry events, folds them into the live
// scenario accumulator, appends them to the session's event log and hands the
// equivalent records to the write pipeline.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/danielpatrickdp/studytrack/internal/eventlog"
	"github.com/danielpatrickdp/studytrack/internal/logging"
	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/pipeline"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
)

// #region writer

// Writer is the resilient write path records are propagated through.
// *pipeline.Pipeline implements it.
type Writer interface {
	Write(ctx context.Context, category remote.Table, payload any) (bool, error)
	SyncFallbackData(ctx context.Context) (pipeline.SyncReport, error)
}

// #endregion writer

// #region session

// Session tracks one participant. It holds at most one live scenario; the
// type has no room for a second. A Session is not safe for concurrent use.
type Session struct {
	id     string
	log    *eventlog.Log
	writer Writer
	live   *ScenarioTracking

	derivation metrics.Config
	logger     *log.Logger
	now        func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *Session) { s.logger = logging.OrDiscard(l) } }

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithDerivationConfig sets the metrics configuration used by Complete.
func WithDerivationConfig(cfg metrics.Config) Option {
	return func(s *Session) { s.derivation = cfg }
}

// WithLive resumes a scenario left open by an earlier process, typically one
// rebuilt from the event log. Trackers that are not open are ignored.
func WithLive(t *ScenarioTracking) Option {
	return func(s *Session) {
		switch t.State() {
		case StateInProgress, StateConfirmed:
			s.live = t.clone()
		}
	}
}

// NewSession returns a handle for session id, recording into l and
// propagating through w.
func NewSession(id string, l *eventlog.Log, w Writer, opts ...Option) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if l == nil {
		return nil, fmt.Errorf("session requires an event log")
	}
	if l.SessionID() != id {
		return nil, fmt.Errorf("event log belongs to session %q, not %q", l.SessionID(), id)
	}
	if w == nil {
		return nil, fmt.Errorf("session requires a writer")
	}
	s := &Session{
		id:         id,
		log:        l,
		writer:     w,
		derivation: metrics.DefaultConfig(),
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// #endregion session

// #region lifecycle

// StartScenario opens scenario id. It fails when a scenario is still live or
// id was already closed in this session.
func (s *Session) StartScenario(ctx context.Context, id int) error {
	const op = "start scenario"
	if id <= 0 {
		return s.reject(invalid(op, "scenario id must be positive, got %d", id))
	}
	if s.live.State() == StateClosed {
		return s.reject(invalid(op, "scenario %d is not in history yet; end it again", s.live.ScenarioID))
	}
	if s.live != nil {
		return s.reject(invalid(op, "scenario %d is still live", s.live.ScenarioID))
	}
	history, err := s.History(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, h := range history {
		if h.ScenarioID == id {
			return s.reject(invalid(op, "scenario %d was already closed", id))
		}
	}

	next := &ScenarioTracking{}
	ev := s.event(telemetry.KindScenarioStarted, id)
	if err := next.Apply(ev); err != nil {
		return s.reject(err)
	}
	if err := s.commit(ctx, ev, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordOptionSelection records a pick. It is ignored when nothing is live.
// Changing option counts as a switch, and a switch that also flips alignment
// emits alignment_state_changed after the selection.
func (s *Session) RecordOptionSelection(ctx context.Context, optionID, label string, aligned bool) error {
	if !s.accepting("option selection") {
		return nil
	}
	var prev *Selection
	if n := len(s.live.Selections); n > 0 {
		p := s.live.Selections[n-1]
		prev = &p
	}

	ev := s.event(telemetry.KindOptionSelected, s.live.ScenarioID)
	ev.OptionID = optionID
	ev.OptionLabel = label
	ev.Aligned = telemetry.Bool(aligned)
	if err := s.record(ctx, ev); err != nil {
		return err
	}

	if prev != nil && prev.OptionID != optionID && prev.Aligned != aligned {
		change := s.event(telemetry.KindAlignmentStateChanged, s.live.ScenarioID)
		change.OptionID = optionID
		change.OptionLabel = label
		change.AlignedBefore = telemetry.Bool(prev.Aligned)
		change.Aligned = telemetry.Bool(aligned)
		return s.record(ctx, change)
	}
	return nil
}

// ConfirmOption fixes the scenario's final choice. The flag bundle and top
// two values are snapshotted from the tracker unless c supplies them.
func (s *Session) ConfirmOption(ctx context.Context, c Confirmation) error {
	const op = "confirm option"
	switch s.live.State() {
	case StateNotStarted:
		return s.reject(invalid(op, "no scenario in progress"))
	case StateConfirmed:
		return s.reject(invalid(op, "scenario %d already confirmed", s.live.ScenarioID))
	case StateClosed:
		return s.reject(invalid(op, "scenario %d already closed", s.live.ScenarioID))
	}
	if strings.TrimSpace(c.OptionID) == "" {
		return s.reject(invalid(op, "option id is required"))
	}

	flags := s.live.snapshotFlags()
	if c.Flags != nil {
		flags = *c.Flags
	}
	topTwo := c.TopTwo
	if topTwo == nil {
		topTwo = s.live.defaultTopTwo()
	}

	ev := s.event(telemetry.KindOptionConfirmed, s.live.ScenarioID)
	ev.OptionID = c.OptionID
	ev.OptionLabel = c.Label
	ev.Aligned = telemetry.Bool(c.Aligned)
	ev.Flags = &flags
	ev.TopTwo = topTwo
	ev.Objectives = c.Objectives
	return s.record(ctx, ev)
}

// EndScenario closes the live scenario and appends it to the history. It
// returns the closed tracker, or nil when nothing was live. When the history
// write fails the scenario stays closed in the log and a retry only repeats
// the history write.
func (s *Session) EndScenario(ctx context.Context) (*ScenarioTracking, error) {
	if s.live == nil {
		s.logger.Debug("end scenario with nothing live", "session", s.id)
		return nil, nil
	}
	if s.live.State() != StateClosed {
		next := s.live.clone()
		ev := s.event(telemetry.KindScenarioCompleted, next.ScenarioID)
		if err := next.Apply(ev); err != nil {
			return nil, s.reject(err)
		}
		if err := s.commit(ctx, ev, next); err != nil {
			return nil, fmt.Errorf("end scenario: %w", err)
		}
	}
	closed := s.live
	if err := eventlog.AppendHistory(ctx, s.log, *closed); err != nil {
		return nil, fmt.Errorf("end scenario: %w", err)
	}
	s.live = nil
	return closed.clone(), nil
}

// #endregion lifecycle

// #region counters

// RecordCVRVisit records that the reconsideration view was opened.
func (s *Session) RecordCVRVisit(ctx context.Context) error {
	if !s.accepting("cvr visit") {
		return nil
	}
	return s.record(ctx, s.event(telemetry.KindCVROpened, s.live.ScenarioID))
}

// RecordCVRAnswer records the participant's reconsideration answer.
func (s *Session) RecordCVRAnswer(ctx context.Context, answer bool) error {
	if !s.accepting("cvr answer") {
		return nil
	}
	ev := s.event(telemetry.KindCVRAnswered, s.live.ScenarioID)
	ev.CVRAnswer = telemetry.Bool(answer)
	return s.record(ctx, ev)
}

// RecordAPAReordering records a re-ranking of metrics or values.
func (s *Session) RecordAPAReordering(ctx context.Context, prefType telemetry.PreferenceType, before, after []string) error {
	if !s.accepting("apa reordering") {
		return nil
	}
	ev := s.event(telemetry.KindAPAReordered, s.live.ScenarioID)
	ev.PreferenceType = prefType
	ev.OrderBefore = append([]string(nil), before...)
	ev.OrderAfter = append([]string(nil), after...)
	return s.record(ctx, ev)
}

// RecordAlternativesExplored adds n explored alternatives.
func (s *Session) RecordAlternativesExplored(ctx context.Context, n int) error {
	if n <= 0 || !s.accepting("alternatives explored") {
		return nil
	}
	ev := s.event(telemetry.KindAlternativeAdded, s.live.ScenarioID)
	ev.Count = n
	return s.record(ctx, ev)
}

// RecordAlternativeAdded records one named alternative.
func (s *Session) RecordAlternativeAdded(ctx context.Context, optionID, label string) error {
	if !s.accepting("alternative added") {
		return nil
	}
	ev := s.event(telemetry.KindAlternativeAdded, s.live.ScenarioID)
	ev.OptionID = optionID
	ev.OptionLabel = label
	return s.record(ctx, ev)
}

// #endregion counters

// #region study

// SubmitFeedback records the participant's feedback and then gives queued
// writes a chance to sync.
func (s *Session) SubmitFeedback(ctx context.Context, fb Feedback) error {
	ev := s.event(telemetry.KindFeedbackSubmitted, 0)
	ev.Rating = fb.Rating
	ev.Comment = fb.Comment
	stored, err := s.log.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	s.propagate(ctx, stored)
	s.write(ctx, remote.TableSessionFeedback, feedbackRecord{
		SessionID:   s.id,
		Rating:      fb.Rating,
		Comment:     fb.Comment,
		SubmittedAt: stored.Timestamp,
	})
	s.sync(ctx)
	return nil
}

// Complete stores the simulation inputs, derives the session analytics record
// and persists it. Missing inputs surface as *metrics.InsufficientDataError.
func (s *Session) Complete(ctx context.Context, in Inputs) (metrics.SessionDVs, error) {
	if s.live != nil {
		s.logger.Warn("completing with a scenario still live", "session", s.id, "scenario", s.live.ScenarioID)
	}
	if err := store.WriteJSON(ctx, s.log.Store(), store.InputsKey(s.id), in); err != nil {
		return metrics.SessionDVs{}, fmt.Errorf("complete: store inputs: %w", err)
	}

	events, err := s.log.Events(ctx)
	if err != nil {
		return metrics.SessionDVs{}, fmt.Errorf("complete: %w", err)
	}
	history, err := s.History(ctx)
	if err != nil {
		return metrics.SessionDVs{}, fmt.Errorf("complete: %w", err)
	}

	dvs, err := metrics.Derive(metrics.Input{
		SessionID:              s.id,
		Events:                 events,
		History:                Records(history),
		Outcomes:               in.Outcomes,
		Final:                  in.Final,
		MatchedStableValues:    in.MatchedStableValues,
		MoralValuesReorderList: in.MoralValuesReorderList,
		DerivedAt:              s.now().UTC(),
	}, s.derivation)
	if err != nil {
		var ide *metrics.InsufficientDataError
		if errors.As(err, &ide) {
			s.logger.Info("session metrics not available yet", "session", s.id, "missing", ide.Missing)
		}
		return metrics.SessionDVs{}, err
	}

	if err := store.WriteJSON(ctx, s.log.Store(), store.DVsKey(s.id), dvs); err != nil {
		return metrics.SessionDVs{}, fmt.Errorf("complete: store metrics: %w", err)
	}
	s.write(ctx, remote.TableSessionMetrics, dvs)
	s.sync(ctx)
	return dvs, nil
}

// #endregion study

// #region accessors

// Live returns a copy of the live tracker, or nil.
func (s *Session) Live() *ScenarioTracking {
	return s.live.clone()
}

// History returns the closed scenarios in completion order.
func (s *Session) History(ctx context.Context) ([]ScenarioTracking, error) {
	return eventlog.History[ScenarioTracking](ctx, s.log)
}

// Events returns the session's event log.
func (s *Session) Events(ctx context.Context) ([]telemetry.Event, error) {
	return s.log.Events(ctx)
}

// #endregion accessors

// #region internals

func (s *Session) event(kind telemetry.Kind, scenarioID int) telemetry.Event {
	ev := telemetry.New(kind, s.id, scenarioID, s.now())
	if s.live != nil && !s.live.StartTime.IsZero() {
		ev.ElapsedMs = ev.Timestamp.Sub(s.live.StartTime).Milliseconds()
	}
	return ev
}

// accepting reports whether the live scenario takes counter updates. Calls
// with nothing live, or after confirmation, are dropped and logged.
func (s *Session) accepting(op string) bool {
	switch s.live.State() {
	case StateNotStarted:
		s.logger.Debug("ignored with no scenario live", "session", s.id, "op", op)
		return false
	case StateConfirmed:
		s.logger.Info("ignored after confirmation", "session", s.id, "op", op, "scenario", s.live.ScenarioID)
		return false
	case StateClosed:
		s.logger.Info("ignored while closing", "session", s.id, "op", op, "scenario", s.live.ScenarioID)
		return false
	}
	return true
}

// record folds ev into a copy of the live tracker, appends it to the log and
// only then swaps the copy in.
func (s *Session) record(ctx context.Context, ev telemetry.Event) error {
	next := s.live.clone()
	if err := next.Apply(ev); err != nil {
		return s.reject(err)
	}
	if err := s.commit(ctx, ev, next); err != nil {
		return fmt.Errorf("record %s: %w", ev.Kind, err)
	}
	return nil
}

func (s *Session) commit(ctx context.Context, ev telemetry.Event, next *ScenarioTracking) error {
	stored, err := s.log.Append(ctx, ev)
	if err != nil {
		return err
	}
	s.live = next
	s.propagate(ctx, stored)
	return nil
}

func (s *Session) reject(err error) error {
	s.logger.Warn("rejected", "session", s.id, "err", err)
	return err
}

// propagate hands the records equivalent to ev to the pipeline.
func (s *Session) propagate(ctx context.Context, ev telemetry.Event) {
	s.write(ctx, remote.TableInteractionEvents, ev)
	switch ev.Kind {
	case telemetry.KindCVRAnswered:
		s.write(ctx, remote.TableCVRResponses, newCVRRecord(ev))
	case telemetry.KindAPAReordered:
		s.write(ctx, remote.TableAPAReorderings, newAPARecord(ev))
		s.write(ctx, remote.TableValueEvolution, newValueEvolutionRecord(ev))
	}
}

// write never fails the caller; a pipeline that cannot even queue is logged.
func (s *Session) write(ctx context.Context, category remote.Table, payload any) {
	if _, err := s.writer.Write(ctx, category, payload); err != nil {
		s.logger.Error("record lost from pipeline", "session", s.id, "category", category, "err", err)
	}
}

func (s *Session) sync(ctx context.Context) {
	if _, err := s.writer.SyncFallbackData(ctx); err != nil {
		s.logger.Warn("fallback sync incomplete", "session", s.id, "err", err)
	}
}

// #endregion internals
