package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "apitree"

var stdinHasTTY = func() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// KeyringConfig returns the keyring configuration for the session store.
func (s Settings) KeyringConfig() keyring.Config {
	cfg := keyring.Config{
		ServiceName: serviceName,
	}

	backend := keyringBackendMode(s.KeyringBackend)
	if backend == keyringBackendSystem {
		return cfg
	}

	// Auto mode still needs the file details, keyring.Open falls through to
	// encrypted file storage when no native backend is available.
	cfg.FileDir = s.keyringFileDir()
	cfg.FilePasswordFunc = s.keyringFilePassword

	if shouldForceFileBackend(runtime.GOOS, backend, os.Getenv("DBUS_SESSION_BUS_ADDRESS")) {
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	}
	return cfg
}

func keyringBackendMode(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case keyringBackendFile:
		return keyringBackendFile
	case keyringBackendSystem, "os", "native":
		return keyringBackendSystem
	default:
		return keyringBackendAuto
	}
}

// Headless Linux has no secret service, so auto mode uses the file backend.
func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	if backend == keyringBackendFile {
		return true
	}
	if backend != keyringBackendAuto {
		return false
	}
	return goos == "linux" && strings.TrimSpace(dbusAddr) == ""
}

func (s Settings) keyringFileDir() string {
	base := strings.TrimSpace(s.CredentialsDir)
	if base == "" {
		if dir, err := userConfigDir(); err == nil && strings.TrimSpace(dir) != "" {
			base = filepath.Join(dir, serviceName)
		}
	}
	if base == "" {
		base = filepath.Join(os.TempDir(), serviceName)
	}
	return filepath.Join(base, "keyring")
}

func (s Settings) keyringFilePassword(prompt string) (string, error) {
	if strings.TrimSpace(s.KeyringPassword) != "" {
		return s.KeyringPassword, nil
	}
	if !stdinHasTTY() {
		return "", fmt.Errorf("set %s_KEYRING_PASSWORD when using file keyring in non-interactive environments", EnvPrefix)
	}
	return keyring.TerminalPrompt(prompt)
}
