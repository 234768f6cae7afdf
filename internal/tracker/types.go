package tracker

import (
	"slices"
	"time"

	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
)

// #region state

// State is a scenario's lifecycle position.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateConfirmed  State = "confirmed"
	StateClosed     State = "closed"
)

// #endregion state

// #region selection

// Selection is one option the participant picked, in order.
type Selection struct {
	OptionID  string    `json:"option_id"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	Aligned   bool      `json:"aligned"`
}

// Choice is the confirmed option of a scenario.
type Choice struct {
	OptionID string `json:"option_id"`
	Label    string `json:"label"`
	Aligned  bool   `json:"aligned"`
}

// #endregion selection

// #region scenario-tracking

// ScenarioTracking accumulates one scenario's interactions. It is built
// exclusively by Apply, so a live tracker and one rebuilt from the event log
// are identical.
type ScenarioTracking struct {
	ScenarioID  int       `json:"scenario_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitzero"`
	ConfirmedAt time.Time `json:"confirmed_at,omitzero"`

	Selections  []Selection           `json:"selections"`
	FinalChoice *Choice               `json:"final_choice,omitempty"`
	Flags       *telemetry.FlagBundle `json:"flags,omitempty"`
	TopTwo      []string              `json:"top_two,omitempty"`

	CVRVisited  bool `json:"cvr_visited"`
	CVRCount    int  `json:"cvr_count"`
	CVRYesCount int  `json:"cvr_yes_count"`
	CVRNoCount  int  `json:"cvr_no_count"`

	APAReordered    bool     `json:"apa_reordered"`
	APACount        int      `json:"apa_count"`
	APAMetricsCount int      `json:"apa_metrics_count"`
	APAValuesCount  int      `json:"apa_values_count"`
	ValueOrder      []string `json:"value_order,omitempty"`

	AlternativesExplored int `json:"alternatives_explored"`
	SwitchCount          int `json:"switch_count"`
}

// State reports where the tracker is in its lifecycle.
func (t *ScenarioTracking) State() State {
	switch {
	case t == nil || t.StartTime.IsZero():
		return StateNotStarted
	case !t.EndTime.IsZero():
		return StateClosed
	case t.FinalChoice != nil:
		return StateConfirmed
	default:
		return StateInProgress
	}
}

// Record is the view of a closed tracker the metrics engine reads.
func (t ScenarioTracking) Record() metrics.ScenarioRecord {
	return metrics.ScenarioRecord{
		ScenarioID:  t.ScenarioID,
		StartTime:   t.StartTime,
		EndTime:     t.EndTime,
		SwitchCount: t.SwitchCount,
	}
}

// Records converts a history for the metrics engine.
func Records(history []ScenarioTracking) []metrics.ScenarioRecord {
	out := make([]metrics.ScenarioRecord, len(history))
	for i, h := range history {
		out[i] = h.Record()
	}
	return out
}

// snapshotFlags derives the confirmation flags from the counters so far.
func (t *ScenarioTracking) snapshotFlags() telemetry.FlagBundle {
	return telemetry.FlagBundle{
		HasReorderedValues:    t.APACount > 0,
		CVRYesClicked:         t.CVRYesCount > 0,
		CVRNoClicked:          t.CVRNoCount > 0,
		SimMetricsReordering:  t.APAMetricsCount > 0,
		MoralValuesReordering: t.APAValuesCount > 0,
	}
}

func (t *ScenarioTracking) clone() *ScenarioTracking {
	if t == nil {
		return nil
	}
	c := *t
	c.Selections = slices.Clone(t.Selections)
	c.TopTwo = slices.Clone(t.TopTwo)
	c.ValueOrder = slices.Clone(t.ValueOrder)
	if t.FinalChoice != nil {
		fc := *t.FinalChoice
		c.FinalChoice = &fc
	}
	if t.Flags != nil {
		f := *t.Flags
		c.Flags = &f
	}
	return &c
}

// #endregion scenario-tracking

// #region inputs

// Confirmation is what the participant confirmed. Flags and TopTwo are
// snapshotted from the tracker when left nil.
type Confirmation struct {
	OptionID   string
	Label      string
	Aligned    bool
	Objectives map[string]float64
	Flags      *telemetry.FlagBundle
	TopTwo     []string
}

// Feedback is the participant's end-of-study feedback.
type Feedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Inputs are the simulation results supplied when the study completes.
type Inputs struct {
	Outcomes               []metrics.Outcome          `json:"outcomes"`
	Final                  *metrics.SimulationMetrics `json:"final_metrics"`
	MatchedStableValues    []string                   `json:"matched_stable_values"`
	MoralValuesReorderList []string                   `json:"moral_values_reorder_list"`
}

// #endregion inputs
