package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/alicebob/miniredis/v2"

	"github.com/salmonumbrella/apitree/internal/session"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix+"_") {
			key := strings.SplitN(kv, "=", 2)[0]
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if s.Store != StoreMemory {
		t.Errorf("Store = %q, want %q", s.Store, StoreMemory)
	}
	if s.Endpoints != "apitree.yaml" {
		t.Errorf("Endpoints = %q, want apitree.yaml", s.Endpoints)
	}
	if s.Output != "text" || s.LogFormat != "text" {
		t.Errorf("Output/LogFormat = %q/%q, want text/text", s.Output, s.LogFormat)
	}
	if s.RedisKey != "apitree:session" {
		t.Errorf("RedisKey = %q", s.RedisKey)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APITREE_BASE_URL", "https://api.example.com/v1")
	t.Setenv("APITREE_TIMEOUT", "5s")
	t.Setenv("APITREE_STORE", "SQLite")
	t.Setenv("APITREE_OUTPUT", "json")
	t.Setenv("APITREE_SQLITE_PATH", "/tmp/x.db")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if s.BaseURL != "https://api.example.com/v1" {
		t.Errorf("BaseURL = %q", s.BaseURL)
	}
	if s.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", s.Timeout)
	}
	if s.Store != StoreSQLite {
		t.Errorf("Store = %q, want sqlite", s.Store)
	}
	if s.Output != "json" {
		t.Errorf("Output = %q, want json", s.Output)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, wantInErr string
	}{
		{"unknown store", "APITREE_STORE", "etcd", "APITREE_STORE"},
		{"bad output", "APITREE_OUTPUT", "yaml", "APITREE_OUTPUT"},
		{"bad base url", "APITREE_BASE_URL", "not a url", "APITREE_BASE_URL"},
		{"bad timeout", "APITREE_TIMEOUT", "soon", "TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantInErr) {
				t.Fatalf("error = %q, want to mention %s", err.Error(), tt.wantInErr)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("APITREE_BASE_URL=https://from-file.example\nAPITREE_STORE=redis\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APITREE_STORE", "sqlite")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("APITREE_BASE_URL") })

	if got := os.Getenv("APITREE_BASE_URL"); got != "https://from-file.example" {
		t.Errorf("APITREE_BASE_URL = %q", got)
	}
	if got := os.Getenv("APITREE_STORE"); got != "sqlite" {
		t.Errorf("existing env must win, APITREE_STORE = %q", got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	chdirForTest(t, t.TempDir())

	if err := LoadEnvFile(""); err != nil {
		t.Fatalf("missing default .env should be ignored, got %v", err)
	}
	if err := LoadEnvFile("nope.env"); err == nil {
		t.Fatal("missing explicit env file should fail")
	}
}

func TestKeyringConfig(t *testing.T) {
	s := Settings{CredentialsDir: t.TempDir()}
	cfg := s.KeyringConfig()
	if cfg.ServiceName != serviceName {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, serviceName)
	}
	if cfg.FileDir != filepath.Join(s.CredentialsDir, "keyring") {
		t.Errorf("FileDir = %q", cfg.FileDir)
	}
	if cfg.FilePasswordFunc == nil {
		t.Error("FilePasswordFunc should be configured in auto backend mode")
	}
}

func TestKeyringConfig_FileBackend(t *testing.T) {
	cfg := Settings{KeyringBackend: "file", CredentialsDir: t.TempDir()}.KeyringConfig()
	if len(cfg.AllowedBackends) != 1 || cfg.AllowedBackends[0] != keyring.FileBackend {
		t.Fatalf("AllowedBackends = %v, want [%s]", cfg.AllowedBackends, keyring.FileBackend)
	}
}

func TestKeyringConfig_SystemBackend(t *testing.T) {
	cfg := Settings{KeyringBackend: "native"}.KeyringConfig()
	if cfg.FileDir != "" || cfg.FilePasswordFunc != nil || len(cfg.AllowedBackends) != 0 {
		t.Fatalf("system backend should not configure file storage: %+v", cfg)
	}
}

func TestShouldForceFileBackend(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		backend  string
		dbusAddr string
		want     bool
	}{
		{"explicit file", "darwin", keyringBackendFile, "ignored", true},
		{"headless linux", "linux", keyringBackendAuto, "", true},
		{"linux desktop", "linux", keyringBackendAuto, "unix:path=/run/user/1000/bus", false},
		{"system never forces", "linux", keyringBackendSystem, "", false},
		{"non-linux auto", "windows", keyringBackendAuto, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldForceFileBackend(tt.goos, tt.backend, tt.dbusAddr); got != tt.want {
				t.Fatalf("shouldForceFileBackend(%q, %q, %q) = %v, want %v", tt.goos, tt.backend, tt.dbusAddr, got, tt.want)
			}
		})
	}
}

func TestKeyringBackendMode(t *testing.T) {
	for value, want := range map[string]string{
		"":       keyringBackendAuto,
		"auto":   keyringBackendAuto,
		"FILE":   keyringBackendFile,
		"os":     keyringBackendSystem,
		"system": keyringBackendSystem,
		"weird":  keyringBackendAuto,
	} {
		if got := keyringBackendMode(value); got != want {
			t.Errorf("keyringBackendMode(%q) = %q, want %q", value, got, want)
		}
	}
}

func TestKeyringFileDir_DefaultsToUserConfigDir(t *testing.T) {
	fake := t.TempDir()
	original := userConfigDir
	userConfigDir = func() (string, error) { return fake, nil }
	t.Cleanup(func() { userConfigDir = original })

	got := Settings{}.keyringFileDir()
	if want := filepath.Join(fake, serviceName, "keyring"); got != want {
		t.Fatalf("keyringFileDir() = %q, want %q", got, want)
	}
	if want := filepath.Join(fake, serviceName, "session.db"); (Settings{}).sqlitePath() != want {
		t.Fatalf("sqlitePath() = %q, want %q", Settings{}.sqlitePath(), want)
	}
}

func TestKeyringFilePassword(t *testing.T) {
	password, err := Settings{KeyringPassword: "pass"}.keyringFilePassword("prompt")
	if err != nil || password != "pass" {
		t.Fatalf("keyringFilePassword() = %q, %v", password, err)
	}

	original := stdinHasTTY
	stdinHasTTY = func() bool { return false }
	t.Cleanup(func() { stdinHasTTY = original })

	_, err = Settings{}.keyringFilePassword("prompt")
	if err == nil || !strings.Contains(err.Error(), "APITREE_KEYRING_PASSWORD") {
		t.Fatalf("expected non-interactive error mentioning APITREE_KEYRING_PASSWORD, got %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cleanup := session.SetOpenKeyring(func(keyring.Config) (keyring.Keyring, error) {
		return keyring.NewArrayKeyring(nil), nil
	})
	t.Cleanup(cleanup)

	tests := []struct {
		name string
		s    Settings
	}{
		{"memory", Settings{Store: StoreMemory}},
		{"default", Settings{}},
		{"keyring", Settings{Store: StoreKeyring, CredentialsDir: t.TempDir()}},
		{"redis", Settings{Store: StoreRedis, RedisURL: "redis://" + mr.Addr()}},
		{"sqlite", Settings{Store: StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "s.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closeFn, err := OpenStore(ctx, tt.s)
			if err != nil {
				t.Fatalf("OpenStore() unexpected error: %v", err)
			}
			t.Cleanup(func() { _ = closeFn() })

			if err := store.Put(ctx, map[string]any{"token": "abc"}); err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			snap, err := store.Snapshot(ctx)
			if err != nil {
				t.Fatalf("Snapshot() error: %v", err)
			}
			if snap["token"] != "abc" {
				t.Fatalf("snapshot = %v", snap)
			}
		})
	}
}

func TestOpenStore_Errors(t *testing.T) {
	ctx := context.Background()
	if _, closeFn, err := OpenStore(ctx, Settings{Store: "etcd"}); err == nil || closeFn == nil {
		t.Fatalf("unknown store: err=%v closeFn nil=%v", err, closeFn == nil)
	}
	if _, _, err := OpenStore(ctx, Settings{Store: StoreRedis, RedisURL: "://bad"}); err == nil {
		t.Fatal("expected redis url error")
	}
}

// chdirForTest changes the working directory to dir and restores it when the
// test finishes (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
