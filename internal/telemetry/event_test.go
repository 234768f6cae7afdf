package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNew_AssignsIDAndUTC(t *testing.T) {
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	ev := New(KindScenarioStarted, "s1", 1, local)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, 0, ev.Seq)

	other := New(KindScenarioStarted, "s1", 1, local)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("page_view").Valid())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		kind    Kind
		wantErr bool
	}{
		{name: "started ok", kind: KindScenarioStarted},
		{name: "unknown kind", kind: Kind("nope"), wantErr: true},
		{name: "selection without option", kind: KindOptionSelected, wantErr: true},
		{name: "selection ok", kind: KindOptionSelected, mutate: func(e *Event) { e.OptionID = "a" }},
		{name: "answer missing", kind: KindCVRAnswered, wantErr: true},
		{name: "answer ok", kind: KindCVRAnswered, mutate: func(e *Event) { e.CVRAnswer = Bool(false) }},
		{name: "apa bad type", kind: KindAPAReordered, mutate: func(e *Event) { e.PreferenceType = "x" }, wantErr: true},
		{name: "apa ok", kind: KindAPAReordered, mutate: func(e *Event) { e.PreferenceType = PreferenceValues }},
		{name: "alignment missing before", kind: KindAlignmentStateChanged, mutate: func(e *Event) { e.Aligned = Bool(true) }, wantErr: true},
		{name: "alternative empty", kind: KindAlternativeAdded, wantErr: true},
		{name: "alternative batch", kind: KindAlternativeAdded, mutate: func(e *Event) { e.Count = 3 }},
		{name: "alternative named", kind: KindAlternativeAdded, mutate: func(e *Event) { e.OptionID = "opt-4" }},
		{name: "zero scenario", kind: KindCVROpened, mutate: func(e *Event) { e.ScenarioID = 0 }, wantErr: true},
		{name: "feedback without scenario", kind: KindFeedbackSubmitted, mutate: func(e *Event) { e.ScenarioID = 0 }},
		{name: "zero timestamp", kind: KindCVROpened, mutate: func(e *Event) { e.Timestamp = time.Time{} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := New(tt.kind, "s1", 1, at)
			if tt.mutate != nil {
				tt.mutate(&ev)
			}
			err := ev.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlagBundleRealigned(t *testing.T) {
	assert.False(t, FlagBundle{HasReorderedValues: true, CVRYesClicked: true}.Realigned())
	assert.True(t, FlagBundle{SimMetricsReordering: true}.Realigned())
	assert.True(t, FlagBundle{MoralValuesReordering: true}.Realigned())
}

func TestEventJSON_OmitsUnsetOptionalFields(t *testing.T) {
	ev := New(KindCVROpened, "s1", 2, at)
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "flags")
	assert.NotContains(t, raw, "cvr_answer")
	assert.Equal(t, "cvr_opened", raw["kind"])
	assert.EqualValues(t, 2, raw["scenario_id"])
}
