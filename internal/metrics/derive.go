// Package metrics derives the session analytics record from a session's event
// log, its scenario history and the simulation outcomes. Derive is pure: the
// same input always yields the same SessionDVs.
package metrics

import (
	"math"

	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/values"
)

// #region derive

// Derive computes the SessionDVs for in. It fails with *InsufficientDataError
// when there are no outcomes or no final simulation metrics.
func Derive(in Input, cfg Config) (SessionDVs, error) {
	var missing []string
	if len(in.Outcomes) == 0 {
		missing = append(missing, "scenario outcomes")
	}
	if in.Final == nil {
		missing = append(missing, "final simulation metrics")
	}
	if len(missing) > 0 {
		return SessionDVs{}, &InsufficientDataError{Missing: missing}
	}
	if err := cfg.Validate(); err != nil {
		return SessionDVs{}, err
	}

	tally := countEvents(in.Events)
	history := indexHistory(in.History)

	dvs := SessionDVs{
		SessionID:              in.SessionID,
		CVRArrivals:            tally.cvrOpened,
		CVRYesCount:            tally.cvrYes,
		CVRNoCount:             tally.cvrNo,
		APAReorderings:         tally.apa,
		ValueOrderTrajectories: tally.trajectories,
		DerivedAt:              in.DerivedAt,
	}
	if dvs.ValueOrderTrajectories == nil {
		dvs.ValueOrderTrajectories = []Trajectory{}
	}

	dvs.DecisionTimes, dvs.DecisionTimeSource = decisionTimes(in.History, len(in.Outcomes), cfg)
	dvs.AvgDecisionTime = mean(dvs.DecisionTimes)

	matched := values.NewList(in.MatchedStableValues)
	moral := values.NewList(in.MoralValuesReorderList)
	if moral.Len() == 0 {
		moral = matched
	}

	aligned := 0
	for _, o := range in.Outcomes {
		per := tally.scenario(o.ScenarioID)
		list := moral
		if o.ScenarioID == 1 {
			list = matched
		}
		ok := list.Contains(o.Choice()) && per.cvrYes == 0

		switches := max(0, per.selections-1)
		if h, found := history[o.ScenarioID]; found {
			switches = h.SwitchCount
		}

		decision, source := scenarioTime(history, o.ScenarioID, cfg)
		detail := ScenarioDetail{
			ScenarioID:         o.ScenarioID,
			Choice:             o.Choice(),
			Aligned:            ok,
			Realigned:          per.lastFlags != nil && per.lastFlags.Realigned(),
			Switches:           switches,
			DecisionTime:       decision,
			DecisionTimeSource: source,
			CVRArrivals:        per.cvrOpened,
			CVRYesCount:        per.cvrYes,
			CVRNoCount:         per.cvrNo,
			APAReorderings:     per.apa,
		}
		dvs.Scenarios = append(dvs.Scenarios, detail)
		dvs.FinalAlignmentByScenario = append(dvs.FinalAlignmentByScenario, ok)
		dvs.SwitchCountTotal += switches
		if ok {
			aligned++
		} else {
			dvs.MisalignAfterCVRAPACount++
		}
		if detail.Realigned {
			dvs.RealignAfterCVRAPACount++
		}
	}
	dvs.ValueConsistencyIndex = float64(aligned) / float64(len(in.Outcomes))

	dvs.NormalizedMetrics = Normalize(*in.Final, cfg)
	dvs.PerformanceComposite = round2(mean(dvs.NormalizedMetrics))
	dvs.BalanceIndex = round2(1 - variance(dvs.NormalizedMetrics))

	return dvs, nil
}

// #endregion derive

// #region event-tally

type scenarioTally struct {
	selections int
	cvrOpened  int
	cvrYes     int
	cvrNo      int
	apa        int
	lastFlags  *telemetry.FlagBundle
}

type eventTally struct {
	cvrOpened    int
	cvrYes       int
	cvrNo        int
	apa          int
	trajectories []Trajectory
	perScenario  map[int]*scenarioTally
}

func countEvents(events []telemetry.Event) eventTally {
	t := eventTally{perScenario: make(map[int]*scenarioTally)}
	per := func(id int) *scenarioTally {
		s, ok := t.perScenario[id]
		if !ok {
			s = &scenarioTally{}
			t.perScenario[id] = s
		}
		return s
	}
	for _, ev := range events {
		switch ev.Kind {
		case telemetry.KindOptionSelected:
			per(ev.ScenarioID).selections++
		case telemetry.KindOptionConfirmed:
			if ev.Flags != nil {
				f := *ev.Flags
				per(ev.ScenarioID).lastFlags = &f
			}
		case telemetry.KindCVROpened:
			t.cvrOpened++
			per(ev.ScenarioID).cvrOpened++
		case telemetry.KindCVRAnswered:
			if ev.CVRAnswer == nil {
				continue
			}
			if *ev.CVRAnswer {
				t.cvrYes++
				per(ev.ScenarioID).cvrYes++
			} else {
				t.cvrNo++
				per(ev.ScenarioID).cvrNo++
			}
		case telemetry.KindAPAReordered:
			t.apa++
			per(ev.ScenarioID).apa++
			t.trajectories = append(t.trajectories, Trajectory{
				ScenarioID:     ev.ScenarioID,
				PreferenceType: ev.PreferenceType,
				Order:          append([]string{}, ev.OrderAfter...),
				Timestamp:      ev.Timestamp,
			})
		}
	}
	return t
}

// scenario returns the counts for id; a scenario with no events reads as zero.
func (t eventTally) scenario(id int) scenarioTally {
	if s, ok := t.perScenario[id]; ok {
		return *s
	}
	return scenarioTally{}
}

// #endregion event-tally

// #region timing

func usable(r ScenarioRecord) bool {
	return !r.StartTime.IsZero() && !r.EndTime.IsZero() && !r.EndTime.Before(r.StartTime)
}

// decisionTimes reads elapsed seconds from history. With no usable history
// every outcome gets the configured default.
func decisionTimes(history []ScenarioRecord, outcomes int, cfg Config) ([]float64, string) {
	var times []float64
	for _, r := range history {
		if usable(r) {
			times = append(times, r.EndTime.Sub(r.StartTime).Seconds())
		}
	}
	if len(times) > 0 {
		return times, SourceHistory
	}
	times = make([]float64, outcomes)
	for i := range times {
		times[i] = cfg.DefaultDecisionTime.Seconds()
	}
	return times, SourceDefault
}

// scenarioTime is the elapsed time of scenario id, or the configured default
// when its record is missing or unusable.
func scenarioTime(history map[int]ScenarioRecord, id int, cfg Config) (float64, string) {
	if r, ok := history[id]; ok && usable(r) {
		return r.EndTime.Sub(r.StartTime).Seconds(), SourceHistory
	}
	return cfg.DefaultDecisionTime.Seconds(), SourceDefault
}

// indexHistory keys history by scenario id; a later record for the same id wins.
func indexHistory(history []ScenarioRecord) map[int]ScenarioRecord {
	out := make(map[int]ScenarioRecord, len(history))
	for _, r := range history {
		out[r.ScenarioID] = r
	}
	return out
}

// #endregion timing

// #region helpers

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance is the population variance.
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// #endregion helpers
