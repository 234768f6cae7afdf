package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// #region read-list

// ReadList decodes the JSON array stored under key. A missing key reads as an
// empty list. So does a value that no longer parses: the corruption is logged
// and the caller keeps working with what it can still append.
func ReadList[T any](ctx context.Context, s Store, key string, logger *log.Logger) ([]T, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return decodeList[T](key, data, logger), nil
}

func decodeList[T any](key string, data []byte, logger *log.Logger) []T {
	if len(data) == 0 {
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		if logger != nil {
			logger.Warn("corrupt list treated as empty", "key", key, "err", err)
		}
		return nil
	}
	return items
}

// #endregion read-list

// #region write-list

// WriteList replaces the list stored under key.
func WriteList[T any](ctx context.Context, s Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// AppendList appends item to the list under key in a single read-modify-write.
// It returns the new length of the list.
func AppendList[T any](ctx context.Context, s Store, key string, item T, logger *log.Logger) (int, error) {
	return UpdateList(ctx, s, key, logger, func(items []T) ([]T, error) {
		return append(items, item), nil
	})
}

// UpdateList rewrites the list under key with fn in one transaction and
// returns the resulting length.
func UpdateList[T any](ctx context.Context, s Store, key string, logger *log.Logger, fn func([]T) ([]T, error)) (int, error) {
	var n int
	err := s.Update(ctx, key, func(old []byte, found bool) ([]byte, error) {
		var items []T
		if found {
			items = decodeList[T](key, old, logger)
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []T{}
		}
		n = len(next)
		return json.Marshal(next)
	})
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return n, nil
}

// #endregion write-list

// ReadJSON decodes a single JSON value under key into v. It returns
// ErrNotFound when the key is missing.
func ReadJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// WriteJSON stores v as JSON under key.
func WriteJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
