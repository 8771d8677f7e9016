// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/params"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/registry"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`
	SystemPrompt string `toml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Suffix       string `toml:"suffix,omitempty" json:"suffix,omitempty"`
	// Profile is applied at startup when set.
	Profile string `toml:"profile,omitempty" json:"profile,omitempty"`

	Server   ServerConfig   `toml:"server" json:"server"`
	History  HistoryConfig  `toml:"history" json:"history"`
	Registry RegistryConfig `toml:"registry" json:"registry"`
	Stream   StreamConfig   `toml:"stream" json:"stream"`
	Session  SessionConfig  `toml:"session" json:"session"`
	Log      LogConfig      `toml:"log" json:"log"`

	// Parameters override the built-in option defaults.
	Parameters map[string]any            `toml:"parameters,omitempty" json:"parameters,omitempty"`
	Profiles   map[string]map[string]any `toml:"profiles,omitempty" json:"profiles,omitempty"`
	Commands   []CommandConfig           `toml:"commands,omitempty" json:"commands,omitempty"`

	Providers ProvidersConfig `toml:"providers" json:"providers"`
}

// ServerConfig describes the local model server.
type ServerConfig struct {
	URL                string `toml:"url" json:"url"`
	TimeoutSecs        int    `toml:"timeout_secs" json:"timeout_secs"`
	ConnectTimeoutSecs int    `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	// Disabled removes the local provider, leaving cloud providers only.
	Disabled bool `toml:"disabled" json:"disabled"`
}

// HistoryConfig bounds conversation history.
type HistoryConfig struct {
	MaxPairs int  `toml:"max_pairs" json:"max_pairs"`
	Enabled  bool `toml:"enabled" json:"enabled"`
}

// RegistryConfig controls model list caching.
type RegistryConfig struct {
	TTLSecs           float64 `toml:"ttl_secs" json:"ttl_secs"`
	BackgroundRefresh bool    `toml:"background_refresh" json:"background_refresh"`
	RefreshPerSecond  float64 `toml:"refresh_per_second" json:"refresh_per_second"`
}

// StreamConfig tunes response streaming.
type StreamConfig struct {
	RateIntervalMs          int `toml:"rate_interval_ms" json:"rate_interval_ms"`
	MaxConsecutiveMalformed int `toml:"max_consecutive_malformed" json:"max_consecutive_malformed"`
}

// SessionConfig locates saved sessions.
type SessionConfig struct {
	Dir string `toml:"dir" json:"dir"`
	Max int    `toml:"max" json:"max"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file,omitempty" json:"file,omitempty"`
}

// CommandConfig defines a command. Builtin commands set Builtin; all others
// send Prompt with {{text}} replaced by the caller's input.
type CommandConfig struct {
	ID          string         `toml:"id" json:"id"`
	Key         string         `toml:"key,omitempty" json:"key,omitempty"`
	Description string         `toml:"description,omitempty" json:"description,omitempty"`
	Model       string         `toml:"model,omitempty" json:"model,omitempty"`
	Prompt      string         `toml:"prompt,omitempty" json:"prompt,omitempty"`
	System      string         `toml:"system,omitempty" json:"system,omitempty"`
	Parameters  map[string]any `toml:"parameters,omitempty" json:"parameters,omitempty"`
	Builtin     string         `toml:"builtin,omitempty" json:"builtin,omitempty"`
}

// ProvidersConfig holds the cloud providers.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `toml:"anthropic" json:"anthropic"`
	OpenAI     ProviderConfig `toml:"openai" json:"openai"`
	Gemini     ProviderConfig `toml:"gemini" json:"gemini"`
	OpenRouter ProviderConfig `toml:"openrouter" json:"openrouter"`
}

// ProviderConfig configures one cloud provider. A provider without an API
// key is unavailable.
type ProviderConfig struct {
	APIKey        string   `toml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL       string   `toml:"base_url,omitempty" json:"base_url,omitempty"`
	DefaultModels []string `toml:"default_models,omitempty" json:"default_models,omitempty"`
	MaxTokens     int      `toml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "llama3.2",

		Server: ServerConfig{
			URL:                "http://127.0.0.1:11434",
			TimeoutSecs:        10,
			ConnectTimeoutSecs: 30,
		},
		History: HistoryConfig{
			MaxPairs: model.DefaultMaxPairs,
			Enabled:  true,
		},
		Registry: RegistryConfig{
			TTLSecs:           registry.DefaultTTL.Seconds(),
			BackgroundRefresh: true,
			RefreshPerSecond:  1,
		},
		Stream: StreamConfig{
			RateIntervalMs:          int(engine.DefaultRateInterval / time.Millisecond),
			MaxConsecutiveMalformed: 8,
		},
		Session: SessionConfig{
			Max: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPath returns the path to the TOML config file. RIGCHAT_CONFIG
// overrides it.
func ConfigPath() (string, error) {
	if p := os.Getenv("RIGCHAT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions narrows the file to 0600 since it holds API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if it exists. .env files are loaded
// into the environment first; environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads path with full validation. A missing file yields the
// defaults.
func LoadFromPath(path string) (*Config, error) {
	LoadEnvFiles(envFiles(path)...)

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg. Keys missing from the file keep cfg's
// values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal; some filesystems ignore chmod.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Parse decodes TOML text over the defaults without touching the
// environment.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults without consulting the environment,
// for edits that are written back. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=value files into the environment. Existing
// variables win and missing files are ignored.
func LoadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", p, err)
		}
	}
}

// envFiles returns ./.env and the .env next to the config file.
func envFiles(configPath string) []string {
	files := []string{".env"}
	if dir := filepath.Dir(configPath); dir != "." {
		files = append(files, filepath.Join(dir, ".env"))
	}
	return files
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaults.Server.URL
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")
	if cfg.Server.TimeoutSecs == 0 {
		cfg.Server.TimeoutSecs = defaults.Server.TimeoutSecs
	}
	if cfg.Server.ConnectTimeoutSecs == 0 {
		cfg.Server.ConnectTimeoutSecs = defaults.Server.ConnectTimeoutSecs
	}
	if cfg.History.MaxPairs == 0 {
		cfg.History.MaxPairs = defaults.History.MaxPairs
	}
	if cfg.Registry.TTLSecs == 0 {
		cfg.Registry.TTLSecs = defaults.Registry.TTLSecs
	}
	if cfg.Registry.RefreshPerSecond == 0 {
		cfg.Registry.RefreshPerSecond = defaults.Registry.RefreshPerSecond
	}
	if cfg.Stream.RateIntervalMs == 0 {
		cfg.Stream.RateIntervalMs = defaults.Stream.RateIntervalMs
	}
	if cfg.Stream.MaxConsecutiveMalformed == 0 {
		cfg.Stream.MaxConsecutiveMalformed = defaults.Stream.MaxConsecutiveMalformed
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigchat configuration file\n")
	buf.WriteString("# Generated by rigchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("server.url", "invalid URL '%s', must be http(s)://host[:port]", c.Server.URL)
	}
	if c.Server.TimeoutSecs < 0 {
		add("server.timeout_secs", "must not be negative")
	}
	if c.Server.ConnectTimeoutSecs < 0 {
		add("server.connect_timeout_secs", "must not be negative")
	}

	// History
	if c.History.MaxPairs < 1 {
		add("history.max_pairs", "must be at least 1, got %d", c.History.MaxPairs)
	}

	// Registry
	if c.Registry.TTLSecs < 0 {
		add("registry.ttl_secs", "must not be negative")
	}
	if c.Registry.RefreshPerSecond < 0 {
		add("registry.refresh_per_second", "must not be negative")
	}

	// Stream
	if c.Stream.RateIntervalMs < 10 {
		add("stream.rate_interval_ms", "must be at least 10, got %d", c.Stream.RateIntervalMs)
	}

	// Session
	if c.Session.Max < 0 {
		add("session.max", "must not be negative")
	}

	// Log
	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	// Parameters and profiles
	merger, err := params.NewMerger(c.Parameters, c.ParameterProfiles(), nil)
	if err != nil {
		add("parameters", "%v", err)
	} else if c.Profile != "" {
		if err := merger.ApplyProfile(c.Profile); err != nil {
			add("profile", "%v", err)
		}
	}

	// Commands
	keys := make(map[string]string)
	ids := make(map[string]bool)
	for i, cc := range c.Commands {
		field := fmt.Sprintf("commands[%d]", i)
		cmd := cc.ToCommand()
		if err := cmd.Validate(); err != nil {
			add(field, "%v", err)
			continue
		}
		if ids[cmd.ID] {
			add(field, "duplicate id '%s'", cmd.ID)
		}
		ids[cmd.ID] = true
		if cmd.Key != "" {
			if other, dup := keys[cmd.Key]; dup {
				add(field, "key '%s' already used by '%s'", cmd.Key, other)
			}
			keys[cmd.Key] = cmd.ID
		}
		if merger != nil && len(cmd.Parameters) > 0 {
			if restore, err := merger.ApplyCommandParameters(cmd.Parameters); err != nil {
				add(field+".parameters", "%v", err)
			} else {
				restore()
			}
		}
	}

	// Providers
	for name, p := range c.Providers.byName() {
		if p.MaxTokens < 0 {
			add("providers."+name+".max_tokens", "must not be negative")
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				add("providers."+name+".base_url", "invalid URL '%s'", p.BaseURL)
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGCHAT_MODEL: overrides default_model
//   - RIGCHAT_OLLAMA_URL, then OLLAMA_HOST: overrides server.url
//   - RIGCHAT_MAX_PAIRS: overrides history.max_pairs
//   - RIGCHAT_HISTORY: "0"/"false" disables history
//   - RIGCHAT_PROFILE: overrides profile
//   - RIGCHAT_LOG_LEVEL: overrides log.level
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY (or GOOGLE_API_KEY),
//     OPENROUTER_API_KEY: provider keys, used when the file sets none
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGCHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("RIGCHAT_OLLAMA_URL"); v != "" {
		c.Server.URL = v
	} else if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Server.URL = v
	}
	if v := os.Getenv("RIGCHAT_MAX_PAIRS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.MaxPairs = n
		}
	}
	if v := os.Getenv("RIGCHAT_HISTORY"); v != "" {
		c.History.Enabled = parseBool(v)
	}
	if v := os.Getenv("RIGCHAT_PROFILE"); v != "" {
		c.Profile = v
	}
	if v := os.Getenv("RIGCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	envKey(&c.Providers.Anthropic, "ANTHROPIC_API_KEY")
	envKey(&c.Providers.OpenAI, "OPENAI_API_KEY")
	envKey(&c.Providers.Gemini, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	envKey(&c.Providers.OpenRouter, "OPENROUTER_API_KEY")
}

func envKey(p *ProviderConfig, names ...string) {
	if p.APIKey != "" {
		return
	}
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			p.APIKey = v
			return
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ClientConfig returns the local transport settings.
func (c *Config) ClientConfig() *ollama.ClientConfig {
	return &ollama.ClientConfig{
		BaseURL:                 c.Server.URL,
		Timeout:                 time.Duration(c.Server.TimeoutSecs) * time.Second,
		ConnectTimeout:          time.Duration(c.Server.ConnectTimeoutSecs) * time.Second,
		MaxConsecutiveMalformed: c.Stream.MaxConsecutiveMalformed,
	}
}

// RegistryConfig returns the model cache settings.
func (c *Config) RegistryConfig() registry.Config {
	cfg := registry.DefaultConfig()
	cfg.TTL = time.Duration(c.Registry.TTLSecs * float64(time.Second))
	cfg.BackgroundRefresh = c.Registry.BackgroundRefresh
	cfg.RefreshPerSecond = c.Registry.RefreshPerSecond
	if t := time.Duration(c.Server.TimeoutSecs) * time.Second; t > 0 {
		cfg.FetchTimeout = t
	}
	return cfg
}

// RateInterval returns how often token rates are reported.
func (c *Config) RateInterval() time.Duration {
	return time.Duration(c.Stream.RateIntervalMs) * time.Millisecond
}

// ParameterProfiles returns the configured profiles as parameter sets.
func (c *Config) ParameterProfiles() map[string]params.Set {
	out := make(map[string]params.Set, len(c.Profiles))
	for name, p := range c.Profiles {
		out[name] = params.Set(p)
	}
	return out
}

// EngineCommands converts the configured commands.
func (c *Config) EngineCommands() []engine.Command {
	out := make([]engine.Command, 0, len(c.Commands))
	for _, cc := range c.Commands {
		out = append(out, cc.ToCommand())
	}
	return out
}

// ToCommand converts one command definition.
func (cc CommandConfig) ToCommand() engine.Command {
	cmd := engine.Command{
		ID:             cc.ID,
		Key:            cc.Key,
		Description:    cc.Description,
		Model:          cc.Model,
		PromptTemplate: cc.Prompt,
		SystemPrompt:   cc.System,
		Action:         engine.Action{Kind: engine.ActionSendWithPrompt},
	}
	if len(cc.Parameters) > 0 {
		cmd.Parameters = params.Set(cc.Parameters)
	}
	if cc.Builtin != "" {
		cmd.Action = engine.Action{Kind: engine.ActionBuiltin, Builtin: engine.Builtin(cc.Builtin)}
	}
	return cmd
}

// Cloud returns the provider settings for a cloud provider.
func (p ProviderConfig) Cloud() provider.CloudConfig {
	return provider.CloudConfig{
		APIKey:    p.APIKey,
		Models:    append([]string(nil), p.DefaultModels...),
		MaxTokens: p.MaxTokens,
		BaseURL:   p.BaseURL,
	}
}

func (p ProvidersConfig) byName() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"anthropic":  p.Anthropic,
		"openai":     p.OpenAI,
		"gemini":     p.Gemini,
		"openrouter": p.OpenRouter,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g.
// "server.url"). Only struct fields are addressable.
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the field of struct v whose toml tag name is name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %w", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Parameters = cloneMap(c.Parameters)
	if c.Profiles != nil {
		clone.Profiles = make(map[string]map[string]any, len(c.Profiles))
		for name, p := range c.Profiles {
			clone.Profiles[name] = cloneMap(p)
		}
	}
	if c.Commands != nil {
		clone.Commands = make([]CommandConfig, len(c.Commands))
		for i, cc := range c.Commands {
			cc.Parameters = cloneMap(cc.Parameters)
			clone.Commands[i] = cc
		}
	}
	p := &clone.Providers
	for _, pc := range []*ProviderConfig{&p.Anthropic, &p.OpenAI, &p.Gemini, &p.OpenRouter} {
		pc.DefaultModels = append([]string(nil), pc.DefaultModels...)
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		out[k] = v
	}
	return out
}

// String returns the config as JSON with API keys redacted.
func (c *Config) String() string {
	safe := c.Clone()
	p := &safe.Providers
	for _, pc := range []*ProviderConfig{&p.Anthropic, &p.OpenAI, &p.Gemini, &p.OpenRouter} {
		if pc.APIKey != "" {
			pc.APIKey = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
