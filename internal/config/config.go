// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// EnvPrefix prefixes every environment override, e.g. PARLEY_COMPLETION_API_KEY.
const EnvPrefix = "PARLEY"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete parley configuration.
type Config struct {
	Completion CompletionConfig `toml:"completion"`
	Guest      GuestConfig      `toml:"guest"`
	Remote     RemoteConfig     `toml:"remote"`
	Reveal     RevealConfig     `toml:"reveal"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Voice      VoiceConfig      `toml:"voice"`
	Identity   IdentityConfig   `toml:"identity"`
	Log        LogConfig        `toml:"log"`
}

// CompletionConfig configures the chat-completion endpoint.
type CompletionConfig struct {
	// APIKey authenticates against the endpoint. Never printed.
	APIKey       string   `toml:"api_key" split_words:"true"`
	BaseURL      string   `toml:"base_url" split_words:"true"`
	DefaultModel string   `toml:"default_model" split_words:"true"`
	Timeout      Duration `toml:"timeout" split_words:"true"`
	SiteURL      string   `toml:"site_url" split_words:"true"`
	SiteName     string   `toml:"site_name" split_words:"true"`
}

// GuestConfig selects the local key-value store used while signed out.
type GuestConfig struct {
	// Backend is "file", "sqlite" or "memory".
	Backend string `toml:"backend" split_words:"true"`
	// Dir holds one file per key for the file backend.
	Dir string `toml:"dir" split_words:"true"`
	// DBPath is the database file for the sqlite backend.
	DBPath string `toml:"db_path" split_words:"true"`
}

// RemoteConfig selects the per-user document store and its write queue.
type RemoteConfig struct {
	// Backend is "none", "http", "postgres" or "memory".
	Backend string `toml:"backend" split_words:"true"`
	URL     string `toml:"url" split_words:"true"`
	DSN     string `toml:"dsn" split_words:"true"`

	MaxAttempts    int      `toml:"max_attempts" split_words:"true"`
	BaseBackoff    Duration `toml:"base_backoff" split_words:"true"`
	MaxBackoff     Duration `toml:"max_backoff" split_words:"true"`
	AttemptTimeout Duration `toml:"attempt_timeout" split_words:"true"`
	RateLimit      float64  `toml:"rate_limit" split_words:"true"`
	Burst          int      `toml:"burst" split_words:"true"`
	DrainTimeout   Duration `toml:"drain_timeout" split_words:"true"`
}

// RevealConfig configures the typewriter reveal.
type RevealConfig struct {
	Interval Duration `toml:"interval" split_words:"true"`
}

// PipelineConfig configures the message pipeline.
type PipelineConfig struct {
	SaveDelay Duration `toml:"save_delay" split_words:"true"`
}

// VoiceConfig names the external speech programs. Empty disables voice.
type VoiceConfig struct {
	ListenCommand []string `toml:"listen_command" split_words:"true"`
	SpeakCommand  []string `toml:"speak_command" split_words:"true"`
}

// IdentityConfig locates the sign-in file.
type IdentityConfig struct {
	File  string `toml:"file" split_words:"true"`
	Watch bool   `toml:"watch" split_words:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" split_words:"true"`
	// Format is "auto", "console" or "json".
	Format string `toml:"format" split_words:"true"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as "250ms" or "1m30s" in TOML and
// environment variables.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := Dir()
	if err != nil {
		dir = ".parley"
	}
	return &Config{
		Completion: CompletionConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: model.DefaultModelID,
			Timeout:      D(60 * time.Second),
			SiteName:     "parley",
		},
		Guest: GuestConfig{
			Backend: "file",
			Dir:     filepath.Join(dir, "guest"),
			DBPath:  filepath.Join(dir, "guest.db"),
		},
		Remote: RemoteConfig{
			Backend:        "none",
			MaxAttempts:    4,
			BaseBackoff:    D(250 * time.Millisecond),
			MaxBackoff:     D(5 * time.Second),
			AttemptTimeout: D(15 * time.Second),
			RateLimit:      5,
			Burst:          5,
			DrainTimeout:   D(5 * time.Second),
		},
		Reveal:   RevealConfig{Interval: D(30 * time.Millisecond)},
		Pipeline: PipelineConfig{SaveDelay: D(time.Second)},
		Identity: IdentityConfig{
			File:  filepath.Join(dir, "identity.json"),
			Watch: true,
		},
		Log: LogConfig{Level: "warn", Format: "auto"},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the parley configuration directory (~/.parley), or
// $PARLEY_HOME when set.
func Dir() (string, error) {
	if h := os.Getenv(EnvPrefix + "_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// Path returns the path of the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the default config file (missing is fine), applies
// environment overrides and validates.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load for an explicit file.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads path over the defaults without environment overrides or
// validation. It is the starting point for edits that are saved back, so
// that secrets from the environment never land in the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays PARLEY_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	// The conventional variable for the completion key.
	if c.Completion.APIKey == "" {
		c.Completion.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Guest.Dir = expandHome(c.Guest.Dir)
	c.Guest.DBPath = expandHome(c.Guest.DBPath)
	c.Identity.File = expandHome(c.Identity.File)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ensureSecurePermissions tightens the config file to 0600; it may hold an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// Save writes cfg to the default path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg as TOML with owner-only permissions.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# parley configuration file\n")
	buf.WriteString("# Environment variables PARLEY_<SECTION>_<KEY> override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Completion.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("completion.base_url", "invalid URL %q", c.Completion.BaseURL)
	}
	if c.Completion.Timeout.Duration <= 0 {
		add("completion.timeout", "must be positive")
	}
	if strings.TrimSpace(c.Completion.DefaultModel) == "" {
		add("completion.default_model", "must not be empty")
	}

	switch c.Guest.Backend {
	case "file":
		if c.Guest.Dir == "" {
			add("guest.dir", "required for the file backend")
		}
	case "sqlite":
		if c.Guest.DBPath == "" {
			add("guest.db_path", "required for the sqlite backend")
		}
	case "memory":
	default:
		add("guest.backend", "invalid backend %q, must be one of: file, sqlite, memory", c.Guest.Backend)
	}

	switch c.Remote.Backend {
	case "none", "memory":
	case "http":
		if u, err := url.Parse(c.Remote.URL); err != nil || u.Scheme == "" || u.Host == "" {
			add("remote.url", "invalid URL %q", c.Remote.URL)
		}
	case "postgres":
		if c.Remote.DSN == "" {
			add("remote.dsn", "required for the postgres backend")
		}
	default:
		add("remote.backend", "invalid backend %q, must be one of: none, http, postgres, memory", c.Remote.Backend)
	}
	if c.Remote.MaxAttempts < 1 || c.Remote.MaxAttempts > 20 {
		add("remote.max_attempts", "must be between 1 and 20, got %d", c.Remote.MaxAttempts)
	}
	if c.Remote.BaseBackoff.Duration <= 0 || c.Remote.MaxBackoff.Duration < c.Remote.BaseBackoff.Duration {
		add("remote.max_backoff", "backoff must be positive and max_backoff >= base_backoff")
	}
	if c.Remote.AttemptTimeout.Duration <= 0 {
		add("remote.attempt_timeout", "must be positive")
	}
	if c.Remote.RateLimit < 0 {
		add("remote.rate_limit", "must not be negative")
	}

	if c.Reveal.Interval.Duration <= 0 || c.Reveal.Interval.Duration > time.Second {
		add("reveal.interval", "must be between 1ns and 1s, got %s", c.Reveal.Interval)
	}
	if c.Pipeline.SaveDelay.Duration < 0 {
		add("pipeline.save_delay", "must not be negative")
	}
	if c.Identity.File == "" {
		add("identity.file", "must not be empty")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		add("log.level", "invalid level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		add("log.format", "invalid format %q, must be one of: auto, console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns the value at a dotted TOML key such as "remote.backend".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the setting at a dotted TOML key.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(Duration{}) {
		return fmt.Errorf("%s is a section, not a setting", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct || v.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("%s is not a section", strings.Join(parts[:i], "."))
		}
		found := false
		for j := 0; j < v.NumField(); j++ {
			if tomlName(v.Type().Field(j)) == part {
				v = v.Field(j)
				found = true
				break
			}
		}
		if !found {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
	}
	return v, nil
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

func setFieldValue(field reflect.Value, value string) error {
	if d, ok := field.Addr().Interface().(*Duration); ok {
		return d.UnmarshalText([]byte(value))
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		field.Set(reflect.ValueOf(strings.Fields(value)))
	default:
		return fmt.Errorf("unsupported setting type %s", field.Type())
	}
	return nil
}

// Keys lists every dotted setting key.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			key := prefix + tomlName(f)
			if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(Duration{}) {
				walk(f.Type, key+".")
				continue
			}
			keys = append(keys, key)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// DISPLAY
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Voice.ListenCommand = append([]string(nil), c.Voice.ListenCommand...)
	clone.Voice.SpeakCommand = append([]string(nil), c.Voice.SpeakCommand...)
	return &clone
}

// String renders the config as TOML with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Completion.APIKey != "" {
		safe.Completion.APIKey = "[REDACTED]"
	}
	if safe.Remote.DSN != "" {
		safe.Remote.DSN = redactDSN(safe.Remote.DSN)
	}
	var buf bytes.Buffer
	_ = toml.NewEncoder(&buf).Encode(safe)
	return buf.String()
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "[REDACTED]"
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
// Load errors fall back to defaults with a warning.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the process-wide configuration.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
