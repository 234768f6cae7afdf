package tracker

import (
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/values"
)

// #region apply

// Apply folds one event into the tracker. It is the only way tracker state
// changes, both live and during replay. Events the lifecycle does not accept
// in the current state return *InvalidStateError and leave t unchanged.
func (t *ScenarioTracking) Apply(ev telemetry.Event) error {
	op := string(ev.Kind)
	state := t.State()

	if ev.Kind == telemetry.KindScenarioStarted {
		if state != StateNotStarted {
			return invalid(op, "scenario %d already started", t.ScenarioID)
		}
		*t = ScenarioTracking{
			ScenarioID: ev.ScenarioID,
			StartTime:  ev.Timestamp,
			Selections: []Selection{},
		}
		return nil
	}

	switch state {
	case StateNotStarted:
		return invalid(op, "no scenario in progress")
	case StateClosed:
		return invalid(op, "scenario %d is closed", t.ScenarioID)
	}
	if ev.ScenarioID != t.ScenarioID {
		return invalid(op, "event for scenario %d applied to scenario %d", ev.ScenarioID, t.ScenarioID)
	}
	// Once confirmed only closing is accepted; the flags are already fixed.
	if state == StateConfirmed && ev.Kind != telemetry.KindScenarioCompleted {
		return invalid(op, "scenario %d already confirmed", t.ScenarioID)
	}

	switch ev.Kind {
	case telemetry.KindOptionSelected:
		if n := len(t.Selections); n > 0 && t.Selections[n-1].OptionID != ev.OptionID {
			t.SwitchCount++
		}
		t.Selections = append(t.Selections, Selection{
			OptionID:  ev.OptionID,
			Label:     ev.OptionLabel,
			Timestamp: ev.Timestamp,
			Aligned:   ev.Aligned != nil && *ev.Aligned,
		})

	case telemetry.KindAlignmentStateChanged:
		// Informational; the selection that caused it carries the alignment.

	case telemetry.KindOptionConfirmed:
		t.FinalChoice = &Choice{
			OptionID: ev.OptionID,
			Label:    ev.OptionLabel,
			Aligned:  ev.Aligned != nil && *ev.Aligned,
		}
		t.ConfirmedAt = ev.Timestamp
		flags := t.snapshotFlags()
		if ev.Flags != nil {
			flags = *ev.Flags
		}
		t.Flags = &flags
		t.TopTwo = append([]string(nil), ev.TopTwo...)

	case telemetry.KindCVROpened:
		t.CVRVisited = true
		t.CVRCount++

	case telemetry.KindCVRAnswered:
		if ev.CVRAnswer != nil && *ev.CVRAnswer {
			t.CVRYesCount++
		} else {
			t.CVRNoCount++
		}

	case telemetry.KindAPAReordered:
		t.APAReordered = true
		t.APACount++
		switch ev.PreferenceType {
		case telemetry.PreferenceMetrics:
			t.APAMetricsCount++
		case telemetry.PreferenceValues:
			t.APAValuesCount++
			t.ValueOrder = append([]string(nil), ev.OrderAfter...)
		}

	case telemetry.KindAlternativeAdded:
		if ev.Count > 0 {
			t.AlternativesExplored += ev.Count
		} else {
			t.AlternativesExplored++
		}

	case telemetry.KindScenarioCompleted:
		t.EndTime = ev.Timestamp

	default:
		return invalid(op, "event does not belong to a scenario")
	}
	return nil
}

// defaultTopTwo is the top of the latest value ordering, used when a
// confirmation does not bring its own snapshot.
func (t *ScenarioTracking) defaultTopTwo() []string {
	return values.Top(t.ValueOrder, 2)
}

// #endregion apply
