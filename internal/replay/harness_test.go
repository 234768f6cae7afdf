package replay

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/danielpatrickdp/studytrack/internal/eventlog"
	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/pipeline"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

var t0 = time.Date(2026, 5, 6, 9, 30, 0, 0, time.UTC)

// helper: event at t0+sec with the given sequence number.
func at(seq int, kind telemetry.Kind, scenario, sec int) telemetry.Event {
	e := telemetry.New(kind, "p-1", scenario, t0.Add(time.Duration(sec)*time.Second))
	e.Seq = seq
	return e
}

func pick(seq, scenario, sec int, option string) telemetry.Event {
	e := at(seq, telemetry.KindOptionSelected, scenario, sec)
	e.OptionID = option
	e.Aligned = telemetry.Bool(true)
	return e
}

// helper: drive a live session through the tracker against an offline
// backend, the way the study would.
func liveSession(t *testing.T) (store.Store, metrics.SessionDVs) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	l, err := eventlog.Open(s, "p-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := pipeline.New(s, "p-1", remote.Offline{})
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	clock := func() time.Time { n += 7; return t0.Add(time.Duration(n) * time.Second) }
	sess, err := tracker.NewSession("p-1", l, p, tracker.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(sess.StartScenario(ctx, 1))
	must(sess.RecordOptionSelection(ctx, "a", "Safety", true))
	must(sess.RecordOptionSelection(ctx, "b", "Speed", false))
	must(sess.RecordOptionSelection(ctx, "a", "Safety", true))
	must(sess.RecordAPAReordering(ctx, telemetry.PreferenceMetrics, []string{"lives", "cost"}, []string{"cost", "lives"}))
	must(sess.ConfirmOption(ctx, tracker.Confirmation{OptionID: "a", Label: "Safety", Aligned: true}))
	_, err = sess.EndScenario(ctx)
	must(err)

	must(sess.StartScenario(ctx, 2))
	must(sess.RecordCVRVisit(ctx))
	must(sess.RecordCVRAnswer(ctx, true))
	must(sess.RecordOptionSelection(ctx, "c", "Fairness", true))
	must(sess.ConfirmOption(ctx, tracker.Confirmation{OptionID: "c", Label: "Fairness", Aligned: true}))
	_, err = sess.EndScenario(ctx)
	must(err)
	must(sess.SubmitFeedback(ctx, tracker.Feedback{Rating: 5}))

	dvs, err := sess.Complete(ctx, tracker.Inputs{
		Outcomes: []metrics.Outcome{{ScenarioID: 1, Label: "Safety"}, {ScenarioID: 2, Label: "Fairness"}},
		Final: &metrics.SimulationMetrics{
			LivesSaved: 12000, Casualties: 300,
			ResourceEfficiency: 70, Fairness: 65, Sustainability: 55, PublicTrust: 80, InfrastructureIntact: 60,
		},
		MatchedStableValues:    []string{"safety"},
		MoralValuesReorderList: []string{"fairness"},
	})
	must(err)
	return s, dvs
}

// #region rebuild-tests

func TestRebuild_MatchesLiveHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := liveSession(t)
	l, _ := eventlog.Open(s, "p-1", nil)

	events, err := l.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := eventlog.History[tracker.ScenarioTracking](ctx, l)
	if err != nil {
		t.Fatal(err)
	}

	rebuilt := Rebuild(events)
	if !reflect.DeepEqual(rebuilt, stored) {
		t.Fatalf("rebuilt history differs from stored:\n%+v\n%+v", rebuilt, stored)
	}
}

func TestRebuild_SortsBySequence(t *testing.T) {
	events := []telemetry.Event{
		at(3, telemetry.KindScenarioCompleted, 1, 30),
		at(1, telemetry.KindScenarioStarted, 1, 0),
		pick(2, 1, 10, "a"),
	}
	history := Rebuild(events)
	if len(history) != 1 || len(history[0].Selections) != 1 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRebuild_SkipsOrphanEvents(t *testing.T) {
	events := []telemetry.Event{
		pick(1, 1, 0, "a"), // before any start
		at(2, telemetry.KindScenarioStarted, 1, 1),
		at(3, telemetry.KindCVROpened, 2, 2), // wrong scenario
		at(4, telemetry.KindScenarioCompleted, 1, 3),
		at(5, telemetry.KindCVROpened, 1, 4), // after close
	}
	got := RebuildSession(events)
	if got.Skipped != 3 {
		t.Fatalf("skipped = %d, want 3", got.Skipped)
	}
	if len(got.History) != 1 || got.History[0].CVRCount != 0 {
		t.Fatalf("unexpected history %+v", got.History)
	}
}

func TestRebuild_AbandonsScenarioOnRestart(t *testing.T) {
	events := []telemetry.Event{
		at(1, telemetry.KindScenarioStarted, 1, 0),
		at(2, telemetry.KindScenarioStarted, 2, 5),
		at(3, telemetry.KindScenarioCompleted, 2, 9),
	}
	got := RebuildSession(events)
	if got.Skipped != 1 || len(got.History) != 1 || got.History[0].ScenarioID != 2 {
		t.Fatalf("unexpected rebuild %+v", got)
	}
}

// #endregion rebuild-tests

// #region run-tests

func TestRun_ReproducesStoredMetrics(t *testing.T) {
	ctx := context.Background()
	s, dvs := liveSession(t)

	f, err := FromSession(ctx, s, "p-1", nil)
	if err != nil {
		t.Fatalf("FromSession: %v", err)
	}
	if !f.DerivedAt.Equal(dvs.DerivedAt) {
		t.Fatalf("derived at = %v, want %v", f.DerivedAt, dvs.DerivedAt)
	}

	res, err := Run(f, metrics.DefaultConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, m := range res.Mismatches {
		t.Errorf("mismatch: %s", m)
	}
	if !reflect.DeepEqual(res.DVs.FinalAlignmentByScenario, []bool{true, false}) {
		t.Fatalf("alignment = %v", res.DVs.FinalAlignmentByScenario)
	}
	if res.DVs.RealignAfterCVRAPACount != 1 {
		t.Fatalf("realign = %d, want 1", res.DVs.RealignAfterCVRAPACount)
	}
}

func TestRun_SavedFixtureRoundTrips(t *testing.T) {
	ctx := context.Background()
	s, _ := liveSession(t)
	f, err := FromSession(ctx, s, "p-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	path := t.TempDir() + "/exported.json"
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	res, err := Run(loaded, metrics.DefaultConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("mismatches after save/load: %v", res.Mismatches)
	}
}

func TestRun_ReportsMismatch(t *testing.T) {
	want := 5
	f := &Fixture{
		SessionID: "p-1",
		Events: []telemetry.Event{
			at(1, telemetry.KindScenarioStarted, 1, 0),
			at(2, telemetry.KindScenarioCompleted, 1, 20),
		},
		Inputs: tracker.Inputs{
			Outcomes: []metrics.Outcome{{ScenarioID: 1, Label: "x"}},
			Final:    &metrics.SimulationMetrics{},
		},
		Expected: Expected{SwitchCountTotal: &want},
	}
	res, err := Run(f, metrics.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Field != "switch_count_total" {
		t.Fatalf("unexpected mismatches %v", res.Mismatches)
	}
}

func TestRun_InsufficientData(t *testing.T) {
	_, err := Run(&Fixture{SessionID: "p-1"}, metrics.DefaultConfig())
	if err == nil {
		t.Fatal("expected error without inputs")
	}
}

func TestFromSession_WithoutDerivedRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	l, _ := eventlog.Open(s, "p-9", nil)
	if _, err := l.Append(ctx, at(0, telemetry.KindScenarioStarted, 1, 0)); err != nil {
		t.Fatal(err)
	}

	f, err := FromSession(ctx, s, "p-9", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Events) != 1 || f.Expected.HistoryLength == nil || *f.Expected.HistoryLength != 0 {
		t.Fatalf("unexpected fixture %+v", f)
	}
	if f.Inputs.Final != nil {
		t.Fatal("expected no inputs")
	}
}

// #endregion run-tests
