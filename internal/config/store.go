package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/salmonumbrella/apitree/internal/session"
)

// OpenStore opens the session store selected by s.Store. The returned close
// function is never nil.
func OpenStore(ctx context.Context, s Settings) (session.Store, func() error, error) {
	noop := func() error { return nil }

	switch s.Store {
	case "", StoreMemory:
		return session.NewMemory(), noop, nil
	case StoreKeyring:
		store, err := session.OpenKeyring(s.KeyringConfig())
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case StoreRedis:
		store, err := session.OpenRedis(ctx, session.RedisOptions{URL: s.RedisURL, Key: s.RedisKey, TTL: s.RedisTTL})
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case StoreSQLite:
		path := s.sqlitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, noop, fmt.Errorf("failed to create session directory: %w", err)
		}
		store, err := session.OpenSQLite(path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown session store %q (use memory, keyring, redis or sqlite)", s.Store)
	}
}

func (s Settings) sqlitePath() string {
	if p := strings.TrimSpace(s.SQLitePath); p != "" {
		return p
	}
	base := filepath.Dir(s.keyringFileDir())
	return filepath.Join(base, "session.db")
}
