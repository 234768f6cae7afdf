// Package telemetry defines the interaction events recorded while a participant
// works through the study scenarios. Events are immutable once appended to a
// session log; every derived number in the system is recomputed from them.
package telemetry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region kinds

// Kind tags an Event.
type Kind string

const (
	KindScenarioStarted       Kind = "scenario_started"
	KindOptionSelected        Kind = "option_selected"
	KindOptionConfirmed       Kind = "option_confirmed"
	KindCVROpened             Kind = "cvr_opened"
	KindCVRAnswered           Kind = "cvr_answered"
	KindAPAReordered          Kind = "apa_reordered"
	KindAlternativeAdded      Kind = "alternative_added"
	KindAlignmentStateChanged Kind = "alignment_state_changed"
	KindScenarioCompleted     Kind = "scenario_completed"
	KindFeedbackSubmitted     Kind = "feedback_submitted"
)

// Kinds lists every known event kind in lifecycle order.
var Kinds = []Kind{
	KindScenarioStarted,
	KindOptionSelected,
	KindOptionConfirmed,
	KindCVROpened,
	KindCVRAnswered,
	KindAPAReordered,
	KindAlternativeAdded,
	KindAlignmentStateChanged,
	KindScenarioCompleted,
	KindFeedbackSubmitted,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// #endregion kinds

// #region preference-type

// PreferenceType says which ranking an APA reorder touched.
type PreferenceType string

const (
	PreferenceMetrics PreferenceType = "metrics"
	PreferenceValues  PreferenceType = "values"
)

// #endregion preference-type

// #region flag-bundle

// FlagBundle is the cumulative scenario state captured when an option is
// confirmed. It is never recomputed afterwards.
type FlagBundle struct {
	HasReorderedValues    bool `json:"has_reordered_values"`
	CVRYesClicked         bool `json:"cvr_yes_clicked"`
	CVRNoClicked          bool `json:"cvr_no_clicked"`
	SimMetricsReordering  bool `json:"sim_metrics_reordering"`
	MoralValuesReordering bool `json:"moral_values_reordering"`
}

// Realigned reports whether either ranking was reordered before confirming.
func (f FlagBundle) Realigned() bool {
	return f.SimMetricsReordering || f.MoralValuesReordering
}

// #endregion flag-bundle

// #region event

// Event is a single append-only fact in a session log.
type Event struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        int       `json:"seq"`
	Kind       Kind      `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	ScenarioID int       `json:"scenario_id"`

	OptionID    string `json:"option_id,omitempty"`
	OptionLabel string `json:"option_label,omitempty"`

	// Alignment of the selected option; AlignedBefore is only set on
	// alignment_state_changed.
	Aligned       *bool `json:"aligned,omitempty"`
	AlignedBefore *bool `json:"aligned_before,omitempty"`

	ElapsedMs int64 `json:"elapsed_ms"`

	CVRAnswer *bool `json:"cvr_answer,omitempty"`

	OrderBefore    []string       `json:"order_before,omitempty"`
	OrderAfter     []string       `json:"order_after,omitempty"`
	PreferenceType PreferenceType `json:"preference_type,omitempty"`

	// option_confirmed only
	Flags      *FlagBundle        `json:"flags,omitempty"`
	TopTwo     []string           `json:"top_two,omitempty"`
	Objectives map[string]float64 `json:"objectives,omitempty"`

	// alternative_added may carry a batch size; feedback_submitted carries text.
	Count   int    `json:"count,omitempty"`
	Comment string `json:"comment,omitempty"`
	Rating  int    `json:"rating,omitempty"`
}

// New returns an event with a fresh ID. Seq is assigned by the log on append.
func New(kind Kind, sessionID string, scenarioID int, at time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Kind:       kind,
		Timestamp:  at.UTC(),
		ScenarioID: scenarioID,
	}
}

// Validate checks the kind and the fields each kind requires.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%s: timestamp is required", e.Kind)
	}
	switch e.Kind {
	case KindOptionSelected, KindOptionConfirmed:
		if e.OptionID == "" {
			return fmt.Errorf("%s: option id is required", e.Kind)
		}
	case KindAlternativeAdded:
		// Either one named alternative or a batch count.
		if e.OptionID == "" && e.Count <= 0 {
			return fmt.Errorf("%s: option id or positive count is required", e.Kind)
		}
	case KindCVRAnswered:
		if e.CVRAnswer == nil {
			return fmt.Errorf("%s: answer is required", e.Kind)
		}
	case KindAPAReordered:
		if e.PreferenceType != PreferenceMetrics && e.PreferenceType != PreferenceValues {
			return fmt.Errorf("%s: preference type %q", e.Kind, e.PreferenceType)
		}
	case KindAlignmentStateChanged:
		if e.Aligned == nil || e.AlignedBefore == nil {
			return fmt.Errorf("%s: alignment before and after are required", e.Kind)
		}
	}
	if e.Kind != KindFeedbackSubmitted && e.ScenarioID <= 0 {
		return fmt.Errorf("%s: scenario id must be positive", e.Kind)
	}
	return nil
}

// #endregion event

// Bool returns a pointer to v, for the optional boolean fields.
func Bool(v bool) *bool {
	return &v
}
