// Package replay rebuilds scenario history from a recorded event log with the
// same fold the live tracker uses, and re-derives the session metrics from it.
// It operates entirely in memory.
package replay

import (
	"fmt"
	"math"
	"slices"

	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

// #region types

// Rebuilt is the tracker state recovered from a log.
type Rebuilt struct {
	History []tracker.ScenarioTracking
	// Live is the scenario still open at the end of the log, if any.
	Live *tracker.ScenarioTracking
	// Skipped counts events the fold refused, e.g. events for a scenario
	// that was never started.
	Skipped int
}

// Mismatch is one expectation a replay did not meet.
type Mismatch struct {
	Field    string
	Expected string
	Actual   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", m.Field, m.Expected, m.Actual)
}

// Result is the outcome of replaying one fixture.
type Result struct {
	Rebuilt    Rebuilt
	DVs        metrics.SessionDVs
	Mismatches []Mismatch
}

// Passed reports whether every expectation held.
func (r Result) Passed() bool {
	return len(r.Mismatches) == 0
}

// #endregion types

// #region rebuild

// Rebuild folds events into closed scenario history.
func Rebuild(events []telemetry.Event) []tracker.ScenarioTracking {
	return RebuildSession(events).History
}

// RebuildSession folds events into history and the still-open scenario.
// Events are applied in sequence order.
func RebuildSession(events []telemetry.Event) Rebuilt {
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b telemetry.Event) int { return a.Seq - b.Seq })

	var out Rebuilt
	var live *tracker.ScenarioTracking
	for _, ev := range ordered {
		switch ev.Kind {
		case telemetry.KindFeedbackSubmitted:
			continue
		case telemetry.KindScenarioStarted:
			if live != nil {
				// A start while another scenario is open can only come from
				// a damaged log; the open one is abandoned.
				out.Skipped++
			}
			live = &tracker.ScenarioTracking{}
		}
		if live == nil {
			out.Skipped++
			continue
		}
		if err := live.Apply(ev); err != nil {
			out.Skipped++
			continue
		}
		if ev.Kind == telemetry.KindScenarioCompleted {
			out.History = append(out.History, *live)
			live = nil
		}
	}
	out.Live = live
	return out
}

// #endregion rebuild

// #region run

// Run replays a fixture: rebuild history from its events, derive metrics
// from that history and its inputs, and compare against its expectations.
func Run(f *Fixture, cfg metrics.Config) (Result, error) {
	rebuilt := RebuildSession(f.Events)
	dvs, err := metrics.Derive(metrics.Input{
		SessionID:              f.SessionID,
		Events:                 f.Events,
		History:                tracker.Records(rebuilt.History),
		Outcomes:               f.Inputs.Outcomes,
		Final:                  f.Inputs.Final,
		MatchedStableValues:    f.Inputs.MatchedStableValues,
		MoralValuesReorderList: f.Inputs.MoralValuesReorderList,
		DerivedAt:              f.DerivedAt,
	}, f.Config.ToConfig(cfg))
	if err != nil {
		return Result{Rebuilt: rebuilt}, fmt.Errorf("replay %s: %w", f.SessionID, err)
	}

	res := Result{Rebuilt: rebuilt, DVs: dvs}
	res.Mismatches = compare(f, rebuilt, dvs)
	return res, nil
}

func compare(f *Fixture, rebuilt Rebuilt, dvs metrics.SessionDVs) []Mismatch {
	var out []Mismatch
	e := f.Expected

	checkInt := func(field string, want *int, got int) {
		if want != nil && *want != got {
			out = append(out, Mismatch{field, fmt.Sprint(*want), fmt.Sprint(got)})
		}
	}
	checkFloat := func(field string, want *float64, got float64) {
		if want != nil && math.Abs(*want-got) > 1e-9 {
			out = append(out, Mismatch{field, fmt.Sprint(*want), fmt.Sprint(got)})
		}
	}

	checkInt("history_length", e.HistoryLength, len(rebuilt.History))
	if e.FinalAlignmentByScenario != nil && !slices.Equal(e.FinalAlignmentByScenario, dvs.FinalAlignmentByScenario) {
		out = append(out, Mismatch{"final_alignment_by_scenario",
			fmt.Sprint(e.FinalAlignmentByScenario), fmt.Sprint(dvs.FinalAlignmentByScenario)})
	}
	checkFloat("value_consistency_index", e.ValueConsistencyIndex, dvs.ValueConsistencyIndex)
	checkFloat("performance_composite", e.PerformanceComposite, dvs.PerformanceComposite)
	checkFloat("balance_index", e.BalanceIndex, dvs.BalanceIndex)
	checkInt("switch_count_total", e.SwitchCountTotal, dvs.SwitchCountTotal)
	checkInt("cvr_arrivals", e.CVRArrivals, dvs.CVRArrivals)
	checkInt("cvr_yes_count", e.CVRYesCount, dvs.CVRYesCount)
	checkInt("cvr_no_count", e.CVRNoCount, dvs.CVRNoCount)
	checkInt("apa_reorderings", e.APAReorderings, dvs.APAReorderings)
	checkInt("misalign_after_cvr_apa_count", e.MisalignAfterCVRAPACount, dvs.MisalignAfterCVRAPACount)
	checkInt("realign_after_cvr_apa_count", e.RealignAfterCVRAPACount, dvs.RealignAfterCVRAPACount)
	checkFloat("avg_decision_time", e.AvgDecisionTime, dvs.AvgDecisionTime)
	if e.DecisionTimeSource != "" && e.DecisionTimeSource != dvs.DecisionTimeSource {
		out = append(out, Mismatch{"decision_time_source", e.DecisionTimeSource, dvs.DecisionTimeSource})
	}

	// A stored history must be exactly what the fold reproduces.
	if f.History != nil {
		if len(f.History) != len(rebuilt.History) {
			out = append(out, Mismatch{"stored_history_length", fmt.Sprint(len(f.History)), fmt.Sprint(len(rebuilt.History))})
		} else {
			for i := range f.History {
				want, got := f.History[i], rebuilt.History[i]
				if want.ScenarioID != got.ScenarioID || want.SwitchCount != got.SwitchCount ||
					!want.StartTime.Equal(got.StartTime) || !want.EndTime.Equal(got.EndTime) {
					out = append(out, Mismatch{fmt.Sprintf("stored_history[%d]", i),
						fmt.Sprintf("scenario %d switches %d", want.ScenarioID, want.SwitchCount),
						fmt.Sprintf("scenario %d switches %d", got.ScenarioID, got.SwitchCount)})
				}
			}
		}
	}
	return out
}

// #endregion run
