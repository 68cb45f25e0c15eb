package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/isotrack/pkg/audit"
	"github.com/platinummonkey/isotrack/pkg/identity"
	"github.com/platinummonkey/isotrack/pkg/kvstore"
	"github.com/platinummonkey/isotrack/pkg/observability"
)

// EnvConfigFile names the environment variable holding the YAML config path
const EnvConfigFile = "ISOTRACK_CONFIG"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Audit         AuditConfig         `yaml:"audit"`
	Journal       JournalConfig       `yaml:"journal"`
	Retention     RetentionConfig     `yaml:"retention"`
	Identity      IdentityConfig      `yaml:"identity"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// Addr returns host:port for the API listener
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// HealthAddr returns host:port for the health and metrics listener
func (s ServerConfig) HealthAddr() string {
	return s.Host + ":" + s.HealthPort
}

// StorageConfig selects the key-value backend holding the persisted log
type StorageConfig struct {
	Type          string `yaml:"type"`
	MaxValueBytes int64  `yaml:"max_value_bytes"`
	MemoryQuota   int64  `yaml:"memory_quota_bytes"`
	FileRoot      string `yaml:"file_root"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisKeyPrefix  string `yaml:"redis_key_prefix"`

	SQLitePath string `yaml:"sqlite_path"`

	PostgresURL      string        `yaml:"postgres_url"`
	PostgresTable    string        `yaml:"postgres_table"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// ToKVStore converts the section to the kvstore backend configuration
func (s StorageConfig) ToKVStore() kvstore.Config {
	return kvstore.Config{
		Type:             s.Type,
		MaxValueBytes:    s.MaxValueBytes,
		MemoryQuotaBytes: s.MemoryQuota,
		FileRoot:         s.FileRoot,
		RedisURL:         s.RedisURL,
		RedisPassword:    s.RedisPassword,
		RedisDB:          s.RedisDB,
		RedisMaxRetries:  s.RedisMaxRetries,
		RedisPoolSize:    s.RedisPoolSize,
		RedisKeyPrefix:   s.RedisKeyPrefix,
		SQLitePath:       s.SQLitePath,
		PostgresURL:      s.PostgresURL,
		PostgresTable:    s.PostgresTable,
		PostgresMaxConns: s.PostgresMaxConns,
		PostgresTimeout:  s.PostgresTimeout,
		S3Endpoint:       s.S3Endpoint,
		S3Region:         s.S3Region,
		S3Bucket:         s.S3Bucket,
		S3Prefix:         s.S3Prefix,
		S3AccessKey:      s.S3AccessKey,
		S3SecretKey:      s.S3SecretKey,
		S3UsePathStyle:   s.S3UsePathStyle,
	}
}

// AuditConfig holds the trail settings
type AuditConfig struct {
	MaxLogs    int    `yaml:"max_logs"`
	StorageKey string `yaml:"storage_key"`

	// Entity query cache; size 0 disables it
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// Options returns the audit.Open options this section describes
func (a AuditConfig) Options() []audit.Option {
	return []audit.Option{
		audit.WithMaxLogs(a.MaxLogs),
		audit.WithStorageKey(a.StorageKey),
		audit.WithQueryCache(a.CacheSize, a.CacheTTL),
	}
}

// JournalConfig configures the append-only NDJSON journal
type JournalConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Rotate   bool   `yaml:"rotate"`
	MaxSize  int64  `yaml:"max_size_bytes"`
	MaxFiles int    `yaml:"max_files"`
}

// ToSink converts the section to the journal sink configuration
func (j JournalConfig) ToSink() audit.JournalConfig {
	return audit.JournalConfig{
		BasePath: j.Path,
		Rotate:   j.Rotate,
		MaxSize:  j.MaxSize,
		MaxFiles: j.MaxFiles,
	}
}

// RetentionConfig drives the scheduled cleanup
type RetentionConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Days            int    `yaml:"days"`
	Schedule        string `yaml:"schedule"`
	ArchiveEnabled  bool   `yaml:"archive_enabled"`
	ArchivePath     string `yaml:"archive_path"`
	CompressArchive bool   `yaml:"compress_archive"`
}

// Policy returns the retention policy this section describes
func (r RetentionConfig) Policy() audit.RetentionPolicy {
	return audit.RetentionPolicy{
		RetentionDays:   r.Days,
		ArchiveEnabled:  r.ArchiveEnabled,
		ArchivePath:     r.ArchivePath,
		CompressArchive: r.CompressArchive,
	}
}

// IdentityConfig names the request headers carrying the acting user
type IdentityConfig struct {
	UserHeader string `yaml:"user_header"`
	RoleHeader string `yaml:"role_header"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  observability.LogLevel `yaml:"-"`
	Level     string                 `yaml:"log_level"`
	LogFormat string                 `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel returns the tracing configuration this section describes
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	kv := kvstore.DefaultConfig()
	journal := audit.DefaultJournalConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: StorageConfig{
			Type:             kv.Type,
			MemoryQuota:      kv.MemoryQuotaBytes,
			FileRoot:         kv.FileRoot,
			RedisMaxRetries:  kv.RedisMaxRetries,
			RedisPoolSize:    kv.RedisPoolSize,
			RedisKeyPrefix:   kv.RedisKeyPrefix,
			SQLitePath:       kv.SQLitePath,
			PostgresTable:    kv.PostgresTable,
			PostgresMaxConns: kv.PostgresMaxConns,
			PostgresTimeout:  kv.PostgresTimeout,
			S3Region:         kv.S3Region,
			S3Prefix:         kv.S3Prefix,
		},
		Audit: AuditConfig{
			MaxLogs:    audit.DefaultMaxLogs,
			StorageKey: audit.DefaultStorageKey,
			CacheSize:  128,
			CacheTTL:   time.Minute,
		},
		Journal: JournalConfig{
			Path:     journal.BasePath,
			Rotate:   journal.Rotate,
			MaxSize:  journal.MaxSize,
			MaxFiles: journal.MaxFiles,
		},
		Retention: RetentionConfig{
			Days:            audit.DefaultRetentionDays,
			Schedule:        "0 3 * * *",
			ArchivePath:     "/var/lib/isotrack/archive",
			CompressArchive: true,
		},
		Identity: IdentityConfig{
			UserHeader: identity.DefaultUserHeader,
			RoleHeader: identity.DefaultRoleHeader,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			Level:              "info",
			LogFormat:          observability.FormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "isotrack-audit",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the file named by ISOTRACK_CONFIG (if
// any) and then from environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load builds the configuration in three layers: defaults, the YAML file at
// path (skipped when path is empty) and ISOTRACK_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	s := &c.Server
	s.Host = getEnv("ISOTRACK_HOST", s.Host)
	s.Port = getEnv("ISOTRACK_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("ISOTRACK_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("ISOTRACK_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("ISOTRACK_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("ISOTRACK_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("ISOTRACK_HEALTH_PORT", s.HealthPort)

	st := &c.Storage
	st.Type = getEnv("ISOTRACK_STORAGE_TYPE", st.Type)
	st.MaxValueBytes = getEnvInt64("ISOTRACK_STORAGE_MAX_VALUE_BYTES", st.MaxValueBytes)
	st.MemoryQuota = getEnvInt64("ISOTRACK_MEMORY_QUOTA_BYTES", st.MemoryQuota)
	st.FileRoot = getEnv("ISOTRACK_FILE_ROOT", st.FileRoot)
	st.RedisURL = getEnv("ISOTRACK_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("ISOTRACK_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("ISOTRACK_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("ISOTRACK_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("ISOTRACK_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.RedisKeyPrefix = getEnv("ISOTRACK_REDIS_KEY_PREFIX", st.RedisKeyPrefix)
	st.SQLitePath = getEnv("ISOTRACK_SQLITE_PATH", st.SQLitePath)
	st.PostgresURL = getEnv("ISOTRACK_POSTGRES_URL", st.PostgresURL)
	st.PostgresTable = getEnv("ISOTRACK_POSTGRES_TABLE", st.PostgresTable)
	st.PostgresMaxConns = getEnvInt("ISOTRACK_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresTimeout = getEnvDuration("ISOTRACK_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.S3Endpoint = getEnv("ISOTRACK_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("ISOTRACK_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("ISOTRACK_S3_BUCKET", st.S3Bucket)
	st.S3Prefix = getEnv("ISOTRACK_S3_PREFIX", st.S3Prefix)
	st.S3AccessKey = getEnv("ISOTRACK_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("ISOTRACK_S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("ISOTRACK_S3_USE_PATH_STYLE", st.S3UsePathStyle)

	a := &c.Audit
	a.MaxLogs = getEnvInt("ISOTRACK_AUDIT_MAX_LOGS", a.MaxLogs)
	a.StorageKey = getEnv("ISOTRACK_AUDIT_STORAGE_KEY", a.StorageKey)
	a.CacheSize = getEnvInt("ISOTRACK_AUDIT_CACHE_SIZE", a.CacheSize)
	a.CacheTTL = getEnvDuration("ISOTRACK_AUDIT_CACHE_TTL", a.CacheTTL)

	j := &c.Journal
	j.Enabled = getEnvBool("ISOTRACK_JOURNAL_ENABLED", j.Enabled)
	j.Path = getEnv("ISOTRACK_JOURNAL_PATH", j.Path)
	j.Rotate = getEnvBool("ISOTRACK_JOURNAL_ROTATE", j.Rotate)
	j.MaxSize = getEnvInt64("ISOTRACK_JOURNAL_MAX_SIZE_BYTES", j.MaxSize)
	j.MaxFiles = getEnvInt("ISOTRACK_JOURNAL_MAX_FILES", j.MaxFiles)

	r := &c.Retention
	r.Enabled = getEnvBool("ISOTRACK_RETENTION_ENABLED", r.Enabled)
	r.Days = getEnvInt("ISOTRACK_RETENTION_DAYS", r.Days)
	r.Schedule = getEnv("ISOTRACK_RETENTION_SCHEDULE", r.Schedule)
	r.ArchiveEnabled = getEnvBool("ISOTRACK_ARCHIVE_ENABLED", r.ArchiveEnabled)
	r.ArchivePath = getEnv("ISOTRACK_ARCHIVE_PATH", r.ArchivePath)
	r.CompressArchive = getEnvBool("ISOTRACK_ARCHIVE_COMPRESS", r.CompressArchive)

	c.Identity.UserHeader = getEnv("ISOTRACK_USER_HEADER", c.Identity.UserHeader)
	c.Identity.RoleHeader = getEnv("ISOTRACK_ROLE_HEADER", c.Identity.RoleHeader)

	o := &c.Observability
	o.Level = getEnv("ISOTRACK_LOG_LEVEL", o.Level)
	o.LogFormat = getEnv("ISOTRACK_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("ISOTRACK_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("ISOTRACK_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("ISOTRACK_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("ISOTRACK_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("ISOTRACK_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("ISOTRACK_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("ISOTRACK_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	level, err := observability.ParseLevel(o.Level)
	if err != nil {
		return err
	}
	o.LogLevel = level
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	if err := c.Storage.ToKVStore().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Audit.MaxLogs <= 0 {
		errs = append(errs, fmt.Errorf("audit max_logs must be positive, got %d", c.Audit.MaxLogs))
	}
	if c.Audit.StorageKey == "" {
		errs = append(errs, errors.New("audit storage key is required"))
	}
	if c.Audit.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("audit cache size cannot be negative, got %d", c.Audit.CacheSize))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal path is required when the journal is enabled"))
	}

	if c.Retention.Enabled {
		if c.Retention.Schedule == "" {
			errs = append(errs, errors.New("retention schedule is required when retention is enabled"))
		}
		if c.Retention.Days < 0 {
			errs = append(errs, fmt.Errorf("retention days cannot be negative, got %d", c.Retention.Days))
		}
		if c.Retention.ArchiveEnabled && c.Retention.ArchivePath == "" {
			errs = append(errs, errors.New("archive path is required when archiving is enabled"))
		}
	}

	switch c.Observability.LogFormat {
	case observability.FormatJSON, observability.FormatText:
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
