package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// FeedAuth enables HTTP Basic authentication on the feed routes.
type FeedAuth struct {
	Username string `yaml:"username" validate:"required"`
	// PasswordHash is a bcrypt hash of the feed password.
	PasswordHash string `yaml:"password_hash" validate:"required"`
}

// Settings is the configuration received once at startup. It carries the
// directory location, credentials and auth method, plus feed options.
//
// Only format constraints are validated here. A missing server URL or
// credential surfaces later as a failed refresh cycle.
type Settings struct {
	Source     string `yaml:"source" validate:"oneof=carddav web local"`
	ServerURL  string `yaml:"server_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password,omitempty"`
	AuthMethod string `yaml:"auth_method" validate:"oneof=basic bearer none"`
	Token      string `yaml:"token,omitempty"`
	LocalPath  string `yaml:"local_path,omitempty"`

	// RefreshPeriod is the fixed delay between two refresh runs.
	RefreshPeriod time.Duration `yaml:"refresh_period" validate:"gte=0"`
	// RefreshCron, when set, replaces RefreshPeriod with a cron schedule.
	RefreshCron string `yaml:"refresh_cron,omitempty"`

	Listen   string `yaml:"listen" validate:"hostname_port"`
	FeedPath string `yaml:"feed_path" validate:"startswith=/"`
	Language string `yaml:"language" validate:"oneof=en fr"`

	// Reminder is an ISO-8601 trigger such as "-P1D"; empty disables alarms.
	Reminder string `yaml:"reminder,omitempty"`

	FeedAuth *FeedAuth `yaml:"feed_auth,omitempty" validate:"omitempty"`
}

// DefaultSettings returns an in-memory default configuration.
func DefaultSettings() *Settings {
	return &Settings{
		Source:        DefaultSource,
		AuthMethod:    DefaultAuthMethod,
		RefreshPeriod: DefaultRefreshPeriod,
		Listen:        DefaultListen,
		FeedPath:      DefaultFeedPath,
		Language:      DefaultLanguage,
	}
}

// Normalize fills in zero values so partially-filled files behave like defaults.
func (s *Settings) Normalize() {
	if s.Source == "" {
		s.Source = DefaultSource
	}
	if s.AuthMethod == "" {
		s.AuthMethod = DefaultAuthMethod
	}
	if s.RefreshPeriod <= 0 {
		s.RefreshPeriod = DefaultRefreshPeriod
	}
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.FeedPath == "" {
		s.FeedPath = DefaultFeedPath
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
}

// Validate checks format constraints using struct tags.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("%s: %w", ErrConfigInvalid, err)
	}
	return nil
}

// Load reads settings from a YAML file, applies environment overrides and
// validates the result.
//
// Behavior:
//   - A .env file next to the working directory is loaded if present.
//   - If the settings file does not exist, defaults are written with 0600
//     permissions and returned.
//   - Environment variables (CARDDAV_BIRTHDAYS_*) override file values.
func Load(path string) (*Settings, error) {
	if path == "" {
		return nil, errors.New(ErrConfigPathEmpty)
	}

	if err := godotenv.Load(EnvFileName); err == nil {
		slog.Debug(MsgEnvLoaded, LogKeyComponent, CompConfig, LogKeyFile, EnvFileName)
	}

	s := DefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, s); err != nil {
			return nil, err
		}
		slog.Info(MsgConfigCreated, LogKeyComponent, CompConfig, LogKeyFile, path)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", ErrConfigRead, err)
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("%s: %w", ErrConfigParse, err)
		}
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	slog.Info(MsgConfigLoaded,
		LogKeyComponent, CompConfig,
		LogKeyFile, path,
		LogKeySource, s.Source,
		LogKeyAuth, s.AuthMethod,
		LogKeyPeriod, s.RefreshPeriod,
	)
	return s, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		EnvSource:     &s.Source,
		EnvServerURL:  &s.ServerURL,
		EnvUsername:   &s.Username,
		EnvPassword:   &s.Password,
		EnvAuthMethod: &s.AuthMethod,
		EnvToken:      &s.Token,
		EnvLocalPath:  &s.LocalPath,
		EnvListen:     &s.Listen,
		EnvLanguage:   &s.Language,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvRefreshPeriod); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", ErrEnvPeriod, err)
		}
		s.RefreshPeriod = d
	}
	return nil
}

// ResolvePassword fills an empty password from the OS keyring.
// A lookup failure is not an error: the directory will reject the login.
func (s *Settings) ResolvePassword() {
	if s.Password != "" || s.Username == "" || s.AuthMethod != AuthBasic {
		return
	}
	p, err := keyring.Get(KeyringService, s.Username)
	if err != nil {
		slog.Debug(MsgPassFail,
			LogKeyComponent, CompConfig,
			LogKeyUser, s.Username,
			LogKeyError, err)
		return
	}
	s.Password = p
}

// Save writes the settings atomically via a temp file and rename.
func Save(path string, s *Settings) error {
	if path == "" {
		return errors.New(ErrConfigPathEmpty)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPermUserRWX); err != nil {
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ".carddav-birthdays-*.tmp")
	if err != nil {
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}
	if err := os.Chmod(tmpName, FilePermUserRW); err != nil {
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%s: %w", ErrConfigWrite, err)
	}
	return nil
}
