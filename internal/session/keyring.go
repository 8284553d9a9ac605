package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const keyringItemPrefix = "session:"

// openKeyring can be replaced in tests.
var openKeyring = func(cfg keyring.Config) (keyring.Keyring, error) {
	return keyring.Open(cfg)
}

// SetOpenKeyring allows replacing the keyring opener for testing.
// Returns a cleanup function that restores the original.
func SetOpenKeyring(fn func(keyring.Config) (keyring.Keyring, error)) func() {
	original := openKeyring
	openKeyring = fn
	return func() { openKeyring = original }
}

// Keyring stores session entries as items in the OS keychain (or the
// encrypted file backend), one item per key.
type Keyring struct {
	ring keyring.Keyring
}

var _ Store = (*Keyring)(nil)

// OpenKeyring opens the keyring described by cfg.
func OpenKeyring(cfg keyring.Config) (*Keyring, error) {
	ring, err := openKeyring(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyring(ring), nil
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) itemKeys() ([]string, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keyring items: %w", err)
	}
	var out []string
	for _, key := range keys {
		if strings.HasPrefix(key, keyringItemPrefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (k *Keyring) Snapshot(_ context.Context) (map[string]any, error) {
	keys, err := k.itemKeys()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		item, err := k.ring.Get(key)
		if err != nil {
			if errors.Is(err, keyring.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get session entry: %w", err)
		}
		v, err := decodeValue(item.Data)
		if err != nil {
			return nil, fmt.Errorf("decode session entry %q: %w", key, err)
		}
		out[strings.TrimPrefix(key, keyringItemPrefix)] = v
	}
	return out, nil
}

func (k *Keyring) Put(ctx context.Context, entries map[string]any) error {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(encoded) {
		raw := encoded[key]
		if raw == nil {
			if err := k.Dispose(ctx, key); err != nil {
				return err
			}
			continue
		}
		if err := k.ring.Set(keyring.Item{
			Key:   keyringItemPrefix + key,
			Data:  raw,
			Label: "apitree session: " + key,
		}); err != nil {
			return fmt.Errorf("failed to save session entry %q: %w", key, err)
		}
	}
	return nil
}

func (k *Keyring) Dispose(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := k.ring.Remove(keyringItemPrefix + key); err != nil {
			if errors.Is(err, keyring.ErrKeyNotFound) {
				continue
			}
			return fmt.Errorf("failed to remove session entry %q: %w", key, err)
		}
	}
	return nil
}

func (k *Keyring) ClearAll(_ context.Context) error {
	keys, err := k.itemKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := k.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove session entry: %w", err)
		}
	}
	return nil
}
