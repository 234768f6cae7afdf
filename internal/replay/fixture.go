package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/danielpatrickdp/studytrack/internal/eventlog"
	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a recorded
// event log, the simulation inputs, and what derivation should produce.
type Fixture struct {
	Description string                     `json:"description"`
	SessionID   string                     `json:"session_id"`
	DerivedAt   time.Time                  `json:"derived_at"`
	Config      *FixtureConfig             `json:"config,omitempty"`
	Events      []telemetry.Event          `json:"events"`
	History     []tracker.ScenarioTracking `json:"history,omitempty"`
	Inputs      tracker.Inputs             `json:"inputs"`
	Expected    Expected                   `json:"expected"`
}

// FixtureConfig overrides derivation settings. Zero fields keep the default.
type FixtureConfig struct {
	LivesSavedCap          float64 `json:"lives_saved_cap,omitempty"`
	CasualtiesCap          float64 `json:"casualties_cap,omitempty"`
	DefaultDecisionSeconds float64 `json:"default_decision_seconds,omitempty"`
}

// Expected lists the results a replay is checked against. Nil fields are not
// checked.
type Expected struct {
	HistoryLength            *int     `json:"history_length,omitempty"`
	FinalAlignmentByScenario []bool   `json:"final_alignment_by_scenario,omitempty"`
	ValueConsistencyIndex    *float64 `json:"value_consistency_index,omitempty"`
	PerformanceComposite     *float64 `json:"performance_composite,omitempty"`
	BalanceIndex             *float64 `json:"balance_index,omitempty"`
	SwitchCountTotal         *int     `json:"switch_count_total,omitempty"`
	CVRArrivals              *int     `json:"cvr_arrivals,omitempty"`
	CVRYesCount              *int     `json:"cvr_yes_count,omitempty"`
	CVRNoCount               *int     `json:"cvr_no_count,omitempty"`
	APAReorderings           *int     `json:"apa_reorderings,omitempty"`
	MisalignAfterCVRAPACount *int     `json:"misalign_after_cvr_apa_count,omitempty"`
	RealignAfterCVRAPACount  *int     `json:"realign_after_cvr_apa_count,omitempty"`
	AvgDecisionTime          *float64 `json:"avg_decision_time,omitempty"`
	DecisionTimeSource       string   `json:"decision_time_source,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fixture directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToConfig applies the fixture's overrides to base.
func (fc *FixtureConfig) ToConfig(base metrics.Config) metrics.Config {
	if fc == nil {
		return base
	}
	if fc.LivesSavedCap > 0 {
		base.LivesSavedCap = fc.LivesSavedCap
	}
	if fc.CasualtiesCap > 0 {
		base.CasualtiesCap = fc.CasualtiesCap
	}
	if fc.DefaultDecisionSeconds > 0 {
		base.DefaultDecisionTime = time.Duration(fc.DefaultDecisionSeconds * float64(time.Second))
	}
	return base
}

// #endregion fixture-loader

// #region fixture-export

// FromSession builds a fixture from a stored session. When the session has a
// derived record, its values become the expectations, so replaying the
// fixture checks that the stored record is reproducible.
func FromSession(ctx context.Context, s store.Store, sessionID string, logger *log.Logger) (*Fixture, error) {
	l, err := eventlog.Open(s, sessionID, logger)
	if err != nil {
		return nil, err
	}
	events, err := l.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", sessionID, err)
	}
	history, err := eventlog.History[tracker.ScenarioTracking](ctx, l)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", sessionID, err)
	}

	f := &Fixture{
		Description: fmt.Sprintf("exported session %s", sessionID),
		SessionID:   sessionID,
		Events:      events,
		History:     history,
	}
	if err := store.ReadJSON(ctx, s, store.InputsKey(sessionID), &f.Inputs); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("export %s: %w", sessionID, err)
	}

	var dvs metrics.SessionDVs
	err = store.ReadJSON(ctx, s, store.DVsKey(sessionID), &dvs)
	switch {
	case err == nil:
		f.DerivedAt = dvs.DerivedAt
		f.Expected = ExpectedFrom(dvs, len(history))
	case errors.Is(err, store.ErrNotFound):
		n := len(history)
		f.Expected.HistoryLength = &n
	default:
		return nil, fmt.Errorf("export %s: %w", sessionID, err)
	}
	return f, nil
}

// ExpectedFrom turns a derived record into full expectations.
func ExpectedFrom(dvs metrics.SessionDVs, historyLength int) Expected {
	return Expected{
		HistoryLength:            &historyLength,
		FinalAlignmentByScenario: dvs.FinalAlignmentByScenario,
		ValueConsistencyIndex:    &dvs.ValueConsistencyIndex,
		PerformanceComposite:     &dvs.PerformanceComposite,
		BalanceIndex:             &dvs.BalanceIndex,
		SwitchCountTotal:         &dvs.SwitchCountTotal,
		CVRArrivals:              &dvs.CVRArrivals,
		CVRYesCount:              &dvs.CVRYesCount,
		CVRNoCount:               &dvs.CVRNoCount,
		APAReorderings:           &dvs.APAReorderings,
		MisalignAfterCVRAPACount: &dvs.MisalignAfterCVRAPACount,
		RealignAfterCVRAPACount:  &dvs.RealignAfterCVRAPACount,
		AvgDecisionTime:          &dvs.AvgDecisionTime,
		DecisionTimeSource:       dvs.DecisionTimeSource,
	}
}

// #endregion fixture-export
