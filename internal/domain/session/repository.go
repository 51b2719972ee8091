// Package session defines the client session state store: a small
// key-value map per session with an explicit lifecycle. State is loaded
// once when the session opens, every change is flushed to the backing
// store, and interested parties subscribe instead of polling.
package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Change describes one write to a session key.
type Change struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	Value     []byte `json:"value,omitempty"`
	Deleted   bool   `json:"deleted"`
}

// Listener receives changes. It must not block.
type Listener func(Change)

// Repository is one session's state.
//
// Lifecycle: Load, then any number of Get/Set/Delete, then Close. Set and
// Delete flush immediately; Flush forces any pending writes out.
type Repository interface {
	SessionID() string
	Load(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys() []string
	Subscribe(l Listener) (unsubscribe func())
	Flush(ctx context.Context) error
	Close() error
}

// Store opens session repositories.
type Store interface {
	Open(ctx context.Context, sessionID string) (Repository, error)
}

// GetJSON decodes a JSON value stored under key.
func GetJSON[T any](ctx context.Context, repo Repository, key string) (T, error) {
	var out T
	raw, err := repo.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("session: decode %q: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes v as JSON under key.
func SetJSON(ctx context.Context, repo Repository, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %q: %w", key, err)
	}
	return repo.Set(ctx, key, raw)
}
