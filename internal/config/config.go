// Package config resolves CLI settings from .env files, APITREE_*
// environment variables and flags, and opens the configured session store.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "APITREE"

const (
	StoreMemory  = "memory"
	StoreKeyring = "keyring"
	StoreRedis   = "redis"
	StoreSQLite  = "sqlite"
)

const (
	keyringBackendAuto   = "auto"
	keyringBackendFile   = "file"
	keyringBackendSystem = "system"
)

// Settings holds the resolved CLI configuration.
type Settings struct {
	BaseURL   string        `envconfig:"BASE_URL" validate:"omitempty,url"`
	Endpoints string        `envconfig:"ENDPOINTS" default:"apitree.yaml"`
	Timeout   time.Duration `envconfig:"TIMEOUT" validate:"gte=0"`
	Output    string        `envconfig:"OUTPUT" default:"text" validate:"oneof=text json"`
	LogFormat string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	Store      string        `envconfig:"STORE" default:"memory" validate:"oneof=memory keyring redis sqlite"`
	RedisURL   string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisKey   string        `envconfig:"REDIS_KEY" default:"apitree:session"`
	RedisTTL   time.Duration `envconfig:"REDIS_TTL"`
	SQLitePath string        `envconfig:"SQLITE_PATH"`

	KeyringBackend  string `envconfig:"KEYRING_BACKEND" default:"auto"`
	KeyringPassword string `envconfig:"KEYRING_PASSWORD"`
	CredentialsDir  string `envconfig:"CREDENTIALS_DIR"`
}

var validate = validator.New()

// LoadEnvFile loads variables from a .env file without overriding the
// environment. A missing default file is not an error; a missing explicit
// file is.
func LoadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("parsing config: %w", err)
	}
	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	s.Output = strings.ToLower(strings.TrimSpace(s.Output))
	s.LogFormat = strings.ToLower(strings.TrimSpace(s.LogFormat))
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings after flags have been applied.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s value %q: must satisfy %s", envName(fe.StructField()), fmt.Sprint(fe.Value()), fe.Tag()+optionalParam(fe.Param()))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func optionalParam(p string) string {
	if p == "" {
		return ""
	}
	return " " + p
}

// envName maps a Settings field to its environment variable.
func envName(field string) string {
	names := map[string]string{
		"BaseURL":   "BASE_URL",
		"Timeout":   "TIMEOUT",
		"Output":    "OUTPUT",
		"LogFormat": "LOG_FORMAT",
		"Store":     "STORE",
	}
	if n, ok := names[field]; ok {
		return EnvPrefix + "_" + n
	}
	return field
}

var userConfigDir = os.UserConfigDir
