package tracker

import (
	"time"

	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/values"
)

// Rows written to the remote categories other than interaction_events, which
// takes the event itself.

type cvrRecord struct {
	SessionID  string    `json:"session_id"`
	EventID    string    `json:"event_id"`
	ScenarioID int       `json:"scenario_id"`
	Answer     bool      `json:"answer"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	AnsweredAt time.Time `json:"answered_at"`
}

func newCVRRecord(ev telemetry.Event) cvrRecord {
	return cvrRecord{
		SessionID:  ev.SessionID,
		EventID:    ev.ID,
		ScenarioID: ev.ScenarioID,
		Answer:     ev.CVRAnswer != nil && *ev.CVRAnswer,
		ElapsedMs:  ev.ElapsedMs,
		AnsweredAt: ev.Timestamp,
	}
}

type apaRecord struct {
	SessionID      string                   `json:"session_id"`
	EventID        string                   `json:"event_id"`
	ScenarioID     int                      `json:"scenario_id"`
	PreferenceType telemetry.PreferenceType `json:"preference_type"`
	OrderBefore    []string                 `json:"order_before"`
	OrderAfter     []string                 `json:"order_after"`
	ReorderedAt    time.Time                `json:"reordered_at"`
}

func newAPARecord(ev telemetry.Event) apaRecord {
	return apaRecord{
		SessionID:      ev.SessionID,
		EventID:        ev.ID,
		ScenarioID:     ev.ScenarioID,
		PreferenceType: ev.PreferenceType,
		OrderBefore:    ev.OrderBefore,
		OrderAfter:     ev.OrderAfter,
		ReorderedAt:    ev.Timestamp,
	}
}

// valueEvolutionRecord is a snapshot of a ranking after it changed.
type valueEvolutionRecord struct {
	SessionID      string                   `json:"session_id"`
	ScenarioID     int                      `json:"scenario_id"`
	PreferenceType telemetry.PreferenceType `json:"preference_type"`
	Order          []string                 `json:"order"`
	TopTwo         []string                 `json:"top_two"`
	Seq            int                      `json:"seq"`
	RecordedAt     time.Time                `json:"recorded_at"`
}

func newValueEvolutionRecord(ev telemetry.Event) valueEvolutionRecord {
	return valueEvolutionRecord{
		SessionID:      ev.SessionID,
		ScenarioID:     ev.ScenarioID,
		PreferenceType: ev.PreferenceType,
		Order:          ev.OrderAfter,
		TopTwo:         values.Top(ev.OrderAfter, 2),
		Seq:            ev.Seq,
		RecordedAt:     ev.Timestamp,
	}
}

type feedbackRecord struct {
	SessionID   string    `json:"session_id"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment"`
	SubmittedAt time.Time `json:"submitted_at"`
}
