package eventlog

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openLog(t *testing.T, s store.Store, id string) *Log {
	t.Helper()
	l, err := Open(s, id, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestOpenValidates(t *testing.T) {
	if _, err := Open(nil, "s1", nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := Open(store.NewMemory(), " ", nil); err == nil {
		t.Fatal("expected error for blank session id")
	}
}

func TestAppendAssignsSequenceAndSession(t *testing.T) {
	ctx := context.Background()
	l := openLog(t, store.NewMemory(), "s1")

	for i := 0; i < 3; i++ {
		ev := telemetry.New(telemetry.KindCVROpened, "ignored", 1, t0.Add(time.Duration(i)*time.Second))
		stored, err := l.Append(ctx, ev)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if stored.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, stored.Seq)
		}
		if stored.SessionID != "s1" {
			t.Fatalf("expected session s1, got %s", stored.SessionID)
		}
	}

	events, err := l.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
	}
}

func TestAppendRejectsInvalidEvent(t *testing.T) {
	ctx := context.Background()
	l := openLog(t, store.NewMemory(), "s1")

	// option_selected without an option id
	if _, err := l.Append(ctx, telemetry.New(telemetry.KindOptionSelected, "s1", 1, t0)); err == nil {
		t.Fatal("expected validation error")
	}

	events, err := l.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty log, got %d events", len(events))
	}
}

func TestSessionsDoNotShareLogs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	a := openLog(t, s, "a")
	b := openLog(t, s, "b")

	if _, err := a.Append(ctx, telemetry.New(telemetry.KindCVROpened, "", 1, t0)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := b.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("session b sees %d events from session a", len(events))
	}
}

func TestCorruptLogReadsEmptyAndKeepsAppending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	if err := s.Set(ctx, store.EventsKey("s1"), []byte("[{broken")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	l := openLog(t, s, "s1")

	events, err := l.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected corrupt log to read empty, got %d events", len(events))
	}

	stored, err := l.Append(ctx, telemetry.New(telemetry.KindCVROpened, "", 1, t0))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if stored.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", stored.Seq)
	}
}

func TestNextSeqNeverGoesBackwards(t *testing.T) {
	cases := []struct {
		events []telemetry.Event
		want   int
	}{
		{nil, 1},
		{[]telemetry.Event{{Seq: 7}}, 8},
		{[]telemetry.Event{{Seq: 0}, {Seq: 0}}, 3},
	}
	for _, c := range cases {
		if got := nextSeq(c.events); got != c.want {
			t.Errorf("nextSeq(%v) = %d, want %d", c.events, got, c.want)
		}
	}
}

type closed struct {
	ScenarioID int `json:"scenario_id"`
}

func TestHistoryRoundTripOnSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	l := openLog(t, s, "s1")

	for _, id := range []int{1, 2} {
		if err := AppendHistory(ctx, l, closed{ScenarioID: id}); err != nil {
			t.Fatalf("AppendHistory(%d): %v", id, err)
		}
	}

	hist, err := History[closed](ctx, l)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if want := []closed{{1}, {2}}; !reflect.DeepEqual(hist, want) {
		t.Fatalf("expected %v, got %v", want, hist)
	}
}
