package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	KeyBackendFile    = "file"
	KeyBackendKeyring = "keyring"

	ExportTargetLocal = "local"
	ExportTargetS3    = "s3"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Paths         PathsConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	LLM           LLMConfig
	Retry         RetryConfig
	Context       ContextConfig
	Guard         GuardConfig
	Query         QueryConfig
	Export        ExportConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type PathsConfig struct {
	Home         string
	SettingsFile string
	HistoryFile  string
	KeyBackend   string
}

type DatabaseConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

type CacheConfig struct {
	Enabled bool
	Path    string
}

type LLMConfig struct {
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

type ContextConfig struct {
	MaxTurns int
}

type GuardConfig struct {
	DestructiveVerbs []string
}

type QueryConfig struct {
	RowLimit int
	Timeout  time.Duration
}

type ExportConfig struct {
	Target string
	Dir    string
	S3     ObjectStoreConfig
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel    slog.Level
	LogJSON     bool
	MetricsAddr string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SCHEMAFORGE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SCHEMAFORGE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "SCHEMAFORGE_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	cfg.Paths.Home = defaultHome()
	if err := applyString(lookup, "SCHEMAFORGE_HOME", &cfg.Paths.Home); err != nil {
		return Config{}, err
	}
	cfg.Paths.SettingsFile = filepath.Join(cfg.Paths.Home, "config.yaml")
	cfg.Paths.HistoryFile = filepath.Join(cfg.Paths.Home, "history")
	cfg.Cache.Path = filepath.Join(cfg.Paths.Home, "cache.db")
	cfg.Export.Dir = filepath.Join(cfg.Paths.Home, "exports")

	if err := applyString(lookup, "SCHEMAFORGE_SETTINGS_FILE", &cfg.Paths.SettingsFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_HISTORY_FILE", &cfg.Paths.HistoryFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_KEY_BACKEND", &cfg.Paths.KeyBackend); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SCHEMAFORGE_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SCHEMAFORGE_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SCHEMAFORGE_DB_PING_TIMEOUT", &cfg.Database.PingTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SCHEMAFORGE_CACHE_ENABLED", &cfg.Cache.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_CACHE_PATH", &cfg.Cache.Path); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SCHEMAFORGE_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SCHEMAFORGE_LLM_TEMPERATURE", &cfg.LLM.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SCHEMAFORGE_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SCHEMAFORGE_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SCHEMAFORGE_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SCHEMAFORGE_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SCHEMAFORGE_RETRY_JITTER", &cfg.Retry.Jitter); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SCHEMAFORGE_CONTEXT_MAX_TURNS", &cfg.Context.MaxTurns); err != nil {
		return Config{}, err
	}
	if err := applyList(lookup, "SCHEMAFORGE_GUARD_VERBS", &cfg.Guard.DestructiveVerbs); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SCHEMAFORGE_QUERY_ROW_LIMIT", &cfg.Query.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SCHEMAFORGE_QUERY_TIMEOUT", &cfg.Query.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_TARGET", &cfg.Export.Target); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_DIR", &cfg.Export.Dir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_S3_ENDPOINT", &cfg.Export.S3.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_S3_REGION", &cfg.Export.S3.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_S3_BUCKET", &cfg.Export.S3.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_S3_ACCESS_KEY", &cfg.Export.S3.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_S3_SECRET_KEY", &cfg.Export.S3.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SCHEMAFORGE_EXPORT_S3_USE_SSL", &cfg.Export.S3.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_EXPORT_S3_PREFIX", &cfg.Export.S3.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SCHEMAFORGE_EXPORT_S3_AUTO_CREATE_BUCKET", &cfg.Export.S3.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SCHEMAFORGE_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "SCHEMAFORGE_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SCHEMAFORGE_METRICS_ADDR", &cfg.Observability.MetricsAddr); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Paths.Home == "" {
		return fmt.Errorf("home directory is required")
	}
	switch c.Paths.KeyBackend {
	case KeyBackendFile, KeyBackendKeyring:
	default:
		return fmt.Errorf("invalid SCHEMAFORGE_KEY_BACKEND: %q", c.Paths.KeyBackend)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid SCHEMAFORGE_RETRY_MAX_ATTEMPTS: must be >= 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("invalid SCHEMAFORGE_RETRY_JITTER: must be within [0, 1]")
	}
	if c.Context.MaxTurns < 0 {
		return fmt.Errorf("invalid SCHEMAFORGE_CONTEXT_MAX_TURNS: must be >= 0")
	}
	if c.Query.RowLimit < 0 {
		return fmt.Errorf("invalid SCHEMAFORGE_QUERY_ROW_LIMIT: must be >= 0")
	}
	switch c.Export.Target {
	case ExportTargetLocal, ExportTargetS3:
	default:
		return fmt.Errorf("invalid SCHEMAFORGE_EXPORT_TARGET: %q", c.Export.Target)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "schemaforge"},
		Paths: PathsConfig{
			KeyBackend: KeyBackendFile,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		LLM: LLMConfig{
			Timeout:     60 * time.Second,
			Temperature: 0.3,
			MaxTokens:   4096,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      0,
		},
		Context: ContextConfig{
			MaxTurns: 10,
		},
		Guard: GuardConfig{
			DestructiveVerbs: []string{"DROP", "TRUNCATE", "DELETE", "UPDATE", "ALTER"},
		},
		Query: QueryConfig{
			RowLimit: 1000,
			Timeout:  60 * time.Second,
		},
		Export: ExportConfig{
			Target: ExportTargetLocal,
			S3: ObjectStoreConfig{
				Endpoint:         "localhost:9000",
				Region:           "us-east-1",
				Bucket:           "schemaforge-exports",
				AutoCreateBucket: true,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelWarn,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Cache.Enabled = false
		cfg.Retry.BaseDelay = time.Millisecond
		cfg.Retry.MaxDelay = 10 * time.Millisecond
		cfg.Observability.LogLevel = slog.LevelError
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.Export.S3.UseSSL = true
		cfg.Export.S3.AutoCreateBucket = false
	}

	return cfg
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".schema-forge"
	}
	return filepath.Join(home, ".schema-forge")
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
