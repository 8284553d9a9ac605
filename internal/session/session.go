// Package session provides the persistent key-value Session Store used to
// look up bearer tokens and keep session data between calls.
//
// Values are arbitrary JSON-compatible data. Backends persist them as JSON.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the Session Store capability.
//
// Put upserts every non-nil value and deletes every key whose value is nil.
// Snapshot returns a fresh copy that callers may modify freely.
type Store interface {
	Snapshot(ctx context.Context) (map[string]any, error)
	Put(ctx context.Context, entries map[string]any) error
	Dispose(ctx context.Context, keys ...string) error
	ClearAll(ctx context.Context) error
}

// Token keys checked by BearerToken, in order.
var TokenKeys = []string{"token", "access_token"}

// BearerToken returns the first non-empty string stored under one of TokenKeys.
func BearerToken(snapshot map[string]any) (string, bool) {
	for _, key := range TokenKeys {
		if s, ok := snapshot[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]json.RawMessage)}
}

func (m *Memory) Snapshot(_ context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.entries))
	for k, raw := range m.entries {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("decode session entry %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Put(_ context.Context, entries map[string]any) error {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, raw := range encoded {
		if raw == nil {
			delete(m.entries, k)
			continue
		}
		m.entries[k] = raw
	}
	return nil
}

func (m *Memory) Dispose(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]json.RawMessage)
	return nil
}

// encodeEntries marshals every value; nil values map to a nil RawMessage,
// which backends treat as a delete.
func encodeEntries(entries map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		if k == "" {
			return nil, fmt.Errorf("session key must not be empty")
		}
		if v == nil {
			out[k] = nil
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode session entry %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

func decodeValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
