// Package store provides the durable keyed storage the tracker writes its event
// logs, scenario history and fallback queues into.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when a key has never been set.
var ErrNotFound = errors.New("key not found")

// #region interface

// Store is a durable byte-valued key store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Update runs fn against the current value and stores its result in one
	// transaction. found is false when the key does not exist.
	Update(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error
	// List returns every key with the given prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// #endregion interface

// #region keys

// Key layout. Every key is namespaced by session so two sessions never touch
// the same value.
const sessionPrefix = "session/"

// EventsKey holds the session's event log.
func EventsKey(sessionID string) string { return sessionPrefix + sessionID + "/events" }

// HistoryKey holds the session's closed scenario trackers.
func HistoryKey(sessionID string) string { return sessionPrefix + sessionID + "/history" }

// FallbackKey holds the fallback queue for one write category.
func FallbackKey(sessionID, category string) string {
	return sessionPrefix + sessionID + "/fallback/" + category
}

// InputsKey holds the simulation inputs supplied at study completion.
func InputsKey(sessionID string) string { return sessionPrefix + sessionID + "/inputs" }

// DVsKey holds the derived session analytics record.
func DVsKey(sessionID string) string { return sessionPrefix + sessionID + "/dvs" }

// SessionIDs lists the distinct session ids that have at least one key.
func SessionIDs(ctx context.Context, s Store) ([]string, error) {
	keys, err := s.List(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, sessionPrefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// #endregion keys

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}
