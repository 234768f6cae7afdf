package store

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

type item struct {
	N int `json:"n"`
}

func TestReadListMissingIsEmpty(t *testing.T) {
	items, err := ReadList[item](context.Background(), NewMemory(), "missing", nil)
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %v", items)
	}
}

func TestAppendListAndRead(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			n, err := AppendList(ctx, s, "list", item{N: i}, nil)
			if err != nil {
				t.Fatalf("AppendList: %v", err)
			}
			if n != i {
				t.Fatalf("expected length %d, got %d", i, n)
			}
		}
		items, err := ReadList[item](ctx, s, "list", nil)
		if err != nil {
			t.Fatalf("ReadList: %v", err)
		}
		if want := []item{{1}, {2}, {3}}; !reflect.DeepEqual(items, want) {
			t.Fatalf("expected %v, got %v", want, items)
		}
	})
}

func TestReadListCorruptIsEmptyAndLogged(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.Set(ctx, "list", []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var buf bytes.Buffer
	items, err := ReadList[item](ctx, s, "list", log.New(&buf))
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected corrupt list to read empty, got %v", items)
	}
	if !strings.Contains(buf.String(), "corrupt list treated as empty") {
		t.Fatalf("expected corruption warning, got %q", buf.String())
	}
}

func TestAppendListOverCorruptValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.Set(ctx, "list", []byte("garbage")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := AppendList(ctx, s, "list", item{N: 7}, nil)
	if err != nil {
		t.Fatalf("AppendList: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected length 1, got %d", n)
	}

	items, err := ReadList[item](ctx, s, "list", nil)
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if want := []item{{7}}; !reflect.DeepEqual(items, want) {
		t.Fatalf("expected %v, got %v", want, items)
	}
}

func TestWriteListNilWritesEmptyArray(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := WriteList[item](ctx, s, "list", nil); err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	if got := mustGet(t, s, "list"); got != "[]" {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestReadWriteJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var got item
	if err := ReadJSON(ctx, s, "one", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := WriteJSON(ctx, s, "one", item{N: 4}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := ReadJSON(ctx, s, "one", &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.N != 4 {
		t.Fatalf("expected 4, got %d", got.N)
	}
}
