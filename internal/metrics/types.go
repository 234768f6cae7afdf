package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/studytrack/internal/telemetry"
)

// #region config

// Config holds the normalization caps and the decision-time fallback.
type Config struct {
	LivesSavedCap       float64       // lives saved at or above this normalize to 1
	CasualtiesCap       float64       // casualties at or above this normalize to 0
	DefaultDecisionTime time.Duration // used per outcome when no history is usable
}

// DefaultConfig returns the study's standard caps.
func DefaultConfig() Config {
	return Config{
		LivesSavedCap:       20000,
		CasualtiesCap:       1000,
		DefaultDecisionTime: 75 * time.Second,
	}
}

// Validate rejects caps that would divide by zero.
func (c Config) Validate() error {
	if c.LivesSavedCap <= 0 {
		return fmt.Errorf("lives saved cap must be positive, got %v", c.LivesSavedCap)
	}
	if c.CasualtiesCap <= 0 {
		return fmt.Errorf("casualties cap must be positive, got %v", c.CasualtiesCap)
	}
	if c.DefaultDecisionTime < 0 {
		return fmt.Errorf("default decision time must not be negative")
	}
	return nil
}

// #endregion config

// #region inputs

// Outcome is the simulation's record of what was chosen in one scenario.
type Outcome struct {
	ScenarioID int      `json:"scenario_id"`
	OptionID   string   `json:"option_id,omitempty"`
	Label      string   `json:"label"`
	Title      string   `json:"title,omitempty"`
	TopTwo     []string `json:"top_two,omitempty"`
}

// Choice is the label alignment is judged on, falling back to the title.
func (o Outcome) Choice() string {
	if strings.TrimSpace(o.Label) != "" {
		return o.Label
	}
	return o.Title
}

// SimulationMetrics are the seven final outcome measures of the simulation.
// The last five are percentages in [0,100].
type SimulationMetrics struct {
	LivesSaved           float64 `json:"lives_saved"`
	Casualties           float64 `json:"casualties"`
	ResourceEfficiency   float64 `json:"resource_efficiency"`
	Fairness             float64 `json:"fairness"`
	Sustainability       float64 `json:"sustainability"`
	PublicTrust          float64 `json:"public_trust"`
	InfrastructureIntact float64 `json:"infrastructure_intact"`
}

// ScenarioRecord is the part of a closed scenario tracker the engine reads.
type ScenarioRecord struct {
	ScenarioID  int       `json:"scenario_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SwitchCount int       `json:"switch_count"`
}

// Input is everything one derivation reads.
type Input struct {
	SessionID              string
	Events                 []telemetry.Event
	History                []ScenarioRecord
	Outcomes               []Outcome
	Final                  *SimulationMetrics
	MatchedStableValues    []string
	MoralValuesReorderList []string
	// DerivedAt is copied into the result so equal inputs give equal output.
	DerivedAt time.Time
}

// #endregion inputs

// #region outputs

// Where decision times came from.
const (
	SourceHistory = "history"
	SourceDefault = "default"
)

// Trajectory is one APA reorder: the ordering right after it.
type Trajectory struct {
	ScenarioID     int                      `json:"scenario_id"`
	PreferenceType telemetry.PreferenceType `json:"preference_type"`
	Order          []string                 `json:"order"`
	Timestamp      time.Time                `json:"timestamp"`
}

// ScenarioDetail is the per-scenario breakdown of a SessionDVs.
type ScenarioDetail struct {
	ScenarioID         int     `json:"scenario_id"`
	Choice             string  `json:"choice"`
	Aligned            bool    `json:"aligned"`
	Realigned          bool    `json:"realigned"`
	Switches           int     `json:"switches"`
	DecisionTime       float64 `json:"decision_time"`
	DecisionTimeSource string  `json:"decision_time_source"`
	CVRArrivals        int     `json:"cvr_arrivals"`
	CVRYesCount        int     `json:"cvr_yes_count"`
	CVRNoCount         int     `json:"cvr_no_count"`
	APAReorderings     int     `json:"apa_reorderings"`
}

// SessionDVs is the session analytics record. It is always recomputed in
// full from the log and the simulation inputs.
type SessionDVs struct {
	SessionID string `json:"session_id,omitempty"`

	CVRArrivals              int `json:"cvr_arrivals"`
	CVRYesCount              int `json:"cvr_yes_count"`
	CVRNoCount               int `json:"cvr_no_count"`
	APAReorderings           int `json:"apa_reorderings"`
	MisalignAfterCVRAPACount int `json:"misalign_after_cvr_apa_count"`
	RealignAfterCVRAPACount  int `json:"realign_after_cvr_apa_count"`
	SwitchCountTotal         int `json:"switch_count_total"`

	AvgDecisionTime    float64   `json:"avg_decision_time"`
	DecisionTimes      []float64 `json:"decision_times"`
	DecisionTimeSource string    `json:"decision_time_source"`

	ValueConsistencyIndex float64   `json:"value_consistency_index"`
	PerformanceComposite  float64   `json:"performance_composite"`
	BalanceIndex          float64   `json:"balance_index"`
	NormalizedMetrics     []float64 `json:"normalized_metrics"`

	FinalAlignmentByScenario []bool           `json:"final_alignment_by_scenario"`
	ValueOrderTrajectories   []Trajectory     `json:"value_order_trajectories"`
	Scenarios                []ScenarioDetail `json:"scenarios"`

	DerivedAt time.Time `json:"derived_at"`
}

// #endregion outputs

// #region errors

// InsufficientDataError means the simulation inputs needed for the indices
// are not available yet. Callers should treat it as "try again later".
type InsufficientDataError struct {
	Missing []string
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data for session metrics: missing " + strings.Join(e.Missing, ", ")
}

// #endregion errors
