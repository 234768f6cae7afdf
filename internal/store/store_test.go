package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func tempSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tempBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "test.bolt"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, tempSQLite(t)) })
	t.Run("bolt", func(t *testing.T) { fn(t, tempBolt(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func mustGet(t *testing.T, s Store, key string) string {
	t.Helper()
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%s): %v", key, err)
	}
	return string(got)
}

func TestGetMissing(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSetGetOverwrite(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, v := range []string{"one", "two"} {
			if err := s.Set(ctx, "a", []byte(v)); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		if got := mustGet(t, s, "a"); got != "two" {
			t.Fatalf("expected two, got %s", got)
		}
	})
}

func TestSetRejectsEmptyKey(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		if err := s.Set(context.Background(), " ", []byte("x")); err == nil {
			t.Fatal("expected error for blank key")
		}
	})
}

func TestUpdate(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.Update(ctx, "counter", func(old []byte, found bool) ([]byte, error) {
			if found {
				t.Error("expected missing key on first update")
			}
			return []byte("1"), nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		err = s.Update(ctx, "counter", func(old []byte, found bool) ([]byte, error) {
			if !found {
				t.Error("expected key on second update")
			}
			return append(old, '1'), nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		if got := mustGet(t, s, "counter"); got != "11" {
			t.Fatalf("expected 11, got %s", got)
		}
	})
}

func TestUpdateErrorLeavesValue(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Set(ctx, "k", []byte("keep")); err != nil {
			t.Fatalf("Set: %v", err)
		}

		boom := errors.New("boom")
		err := s.Update(ctx, "k", func([]byte, bool) ([]byte, error) { return nil, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if got := mustGet(t, s, "k"); got != "keep" {
			t.Fatalf("expected keep, got %s", got)
		}
	})
}

func TestListPrefix(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, k := range []string{"session/b/events", "session/a/events", "session/a/history", "other"} {
			if err := s.Set(ctx, k, []byte("[]")); err != nil {
				t.Fatalf("Set(%s): %v", k, err)
			}
		}

		keys, err := s.List(ctx, "session/a/")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if want := []string{"session/a/events", "session/a/history"}; !reflect.DeepEqual(keys, want) {
			t.Fatalf("expected %v, got %v", want, keys)
		}

		ids, err := SessionIDs(ctx, s)
		if err != nil {
			t.Fatalf("SessionIDs: %v", err)
		}
		if want := []string{"a", "b"}; !reflect.DeepEqual(ids, want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if got := mustGet(t, s, "k"); got != "v" {
		t.Fatalf("expected v after reopen, got %s", got)
	}
}

func TestOpenBoltEmptyPath(t *testing.T) {
	if _, err := OpenBolt(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestKeysAreSessionScoped(t *testing.T) {
	cases := map[string]string{
		EventsKey("s1"):                    "session/s1/events",
		HistoryKey("s1"):                   "session/s1/history",
		FallbackKey("s1", "cvr_responses"): "session/s1/fallback/cvr_responses",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
	if EventsKey("s1") == EventsKey("s2") {
		t.Fatal("sessions share an events key")
	}
}
