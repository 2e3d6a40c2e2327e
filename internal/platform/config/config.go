package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from defaults, then an
// optional YAML file named by CONFIG_FILE, then environment overrides.
type Config struct {
	Server    Server          `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Admission AdmissionConfig `yaml:"admission"`
	Upload    UploadConfig    `yaml:"upload"`
	Provider  ProviderConfig  `yaml:"provider"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminToken      string        `yaml:"admin_token"`
}

// RedisConfig configures the shared counter store connection.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AdmissionConfig holds the fixed parameters of the dual-limit admission check.
type AdmissionConfig struct {
	Capacity          int           `yaml:"capacity"`
	RefillPerSecond   float64       `yaml:"refill_per_second"`
	DailyBytesLimit   int64         `yaml:"daily_bytes_limit"`
	QuotaTTL          time.Duration `yaml:"quota_ttl"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
}

// RefillPerMs is the continuous refill rate in tokens per millisecond.
func (a AdmissionConfig) RefillPerMs() float64 {
	return a.RefillPerSecond / 1000
}

// QuotaTTLSeconds is the key expiry passed to the store.
func (a AdmissionConfig) QuotaTTLSeconds() int64 {
	return int64(a.QuotaTTL / time.Second)
}

type UploadConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MaxFiles     int   `yaml:"max_files"`
}

// ProviderConfig selects and configures the remote transcoding provider.
type ProviderConfig struct {
	Kind         string        `yaml:"kind"` // cloudinary or memory
	CloudName    string        `yaml:"cloud_name"`
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	Folder       string        `yaml:"folder"`
	MaxFileBytes int64         `yaml:"max_file_bytes"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	Concurrency  int           `yaml:"concurrency"`
}

type CleanupConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	TTL              time.Duration `yaml:"ttl"`
	Prefix           string        `yaml:"prefix"`
	DryRun           bool          `yaml:"dry_run"`
	BatchSize        int           `yaml:"batch_size"`
	BatchesPerSecond float64       `yaml:"batches_per_second"`
}

// AuditConfig enables the Kafka audit sink when brokers are set.
type AuditConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	BufferSize int      `yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig selects the span exporter. Exporter "none" keeps the global
// no-op tracer.
type TracingConfig struct {
	Exporter     string  `yaml:"exporter"` // none, stdout or otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

const (
	ProviderCloudinary = "cloudinary"
	ProviderMemory     = "memory"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":3000",
			CORSOrigin:      "*",
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Admission: AdmissionConfig{
			Capacity:          5,
			RefillPerSecond:   5,
			DailyBytesLimit:   1610612736,
			QuotaTTL:          25 * time.Hour,
			ProbeTimeout:      5 * time.Second,
			TrustProxyHeaders: true,
		},
		Upload: UploadConfig{
			MaxFileBytes: 100 * 1024 * 1024,
			MaxFiles:     20,
		},
		Provider: ProviderConfig{
			Kind:         ProviderCloudinary,
			Folder:       "love-u-convert",
			MaxFileBytes: 10 * 1024 * 1024,
			BaseURL:      "https://api.cloudinary.com/v1_1",
			Timeout:      60 * time.Second,
			Concurrency:  4,
		},
		Cleanup: CleanupConfig{
			Enabled:          true,
			Interval:         4 * time.Hour,
			TTL:              8 * time.Hour,
			Prefix:           "love-u-convert",
			BatchSize:        100,
			BatchesPerSecond: 10,
		},
		Audit: AuditConfig{
			Topic:      "imgconvert.audit",
			BufferSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "imgconvert",
			SampleRate:   1,
		},
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFromFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadFromEnvironment(&cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML config: %w", err)
	}
	return nil
}

func loadFromEnvironment(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Server.CORSOrigin, "CORS_ORIGIN")
	setString(&cfg.Server.AdminToken, "ADMIN_TOKEN")
	collect(setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"))

	setString(&cfg.Redis.URL, "REDIS_URL")
	collect(setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE"))

	collect(setInt(&cfg.Admission.Capacity, "ADMISSION_CAPACITY"))
	collect(setFloat(&cfg.Admission.RefillPerSecond, "ADMISSION_REFILL_PER_SECOND"))
	collect(setInt64(&cfg.Admission.DailyBytesLimit, "DAILY_BYTES_LIMIT"))
	if v := os.Getenv("ADMISSION_QUOTA_TTL_SECONDS"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			collect(fmt.Errorf("ADMISSION_QUOTA_TTL_SECONDS: %w", err))
		} else {
			cfg.Admission.QuotaTTL = time.Duration(secs) * time.Second
		}
	}
	collect(setDuration(&cfg.Admission.ProbeTimeout, "ADMISSION_PROBE_TIMEOUT"))
	collect(setBool(&cfg.Admission.TrustProxyHeaders, "ADMISSION_TRUST_PROXY_HEADERS"))

	collect(setInt64(&cfg.Upload.MaxFileBytes, "MAX_FILE_SIZE_BYTES"))
	collect(setInt(&cfg.Upload.MaxFiles, "UPLOAD_MAX_FILES"))

	setString(&cfg.Provider.Kind, "PROVIDER")
	setString(&cfg.Provider.CloudName, "CLOUDINARY_CLOUD_NAME")
	setString(&cfg.Provider.APIKey, "CLOUDINARY_API_KEY")
	setString(&cfg.Provider.APISecret, "CLOUDINARY_API_SECRET")
	setString(&cfg.Provider.Folder, "PROVIDER_FOLDER")
	setString(&cfg.Provider.BaseURL, "PROVIDER_BASE_URL")
	collect(setInt64(&cfg.Provider.MaxFileBytes, "PROVIDER_MAX_FILE_BYTES"))
	collect(setDuration(&cfg.Provider.Timeout, "PROVIDER_TIMEOUT"))

	collect(setBool(&cfg.Cleanup.Enabled, "CLEANUP_ENABLED"))
	collect(setDuration(&cfg.Cleanup.Interval, "CLEANUP_INTERVAL"))
	if v := os.Getenv("CLEANUP_TTL_SECONDS"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			collect(fmt.Errorf("CLEANUP_TTL_SECONDS: %w", err))
		} else {
			cfg.Cleanup.TTL = time.Duration(secs) * time.Second
		}
	}
	setString(&cfg.Cleanup.Prefix, "CLEANUP_PREFIX")
	collect(setBool(&cfg.Cleanup.DryRun, "CLEANUP_DRY_RUN"))

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Audit.Brokers = splitList(brokers)
	}
	setString(&cfg.Audit.Topic, "AUDIT_TOPIC")
	collect(setInt(&cfg.Audit.BufferSize, "AUDIT_BUFFER_SIZE"))

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	setString(&cfg.Tracing.Exporter, "TRACING_EXPORTER")
	setString(&cfg.Tracing.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Tracing.ServiceName, "OTEL_SERVICE_NAME")
	collect(setFloat(&cfg.Tracing.SampleRate, "TRACING_SAMPLE_RATE"))

	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Admission.Capacity <= 0 {
		errs = append(errs, errors.New("admission capacity must be positive"))
	}
	if c.Admission.RefillPerSecond <= 0 {
		errs = append(errs, errors.New("admission refill rate must be positive"))
	}
	if c.Admission.DailyBytesLimit <= 0 {
		errs = append(errs, errors.New("daily bytes limit must be positive"))
	}
	if c.Admission.QuotaTTL < time.Second {
		errs = append(errs, errors.New("quota ttl must be at least one second"))
	}
	if c.Admission.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe timeout must be positive"))
	}
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis url is required"))
	}
	if c.Upload.MaxFileBytes <= 0 || c.Upload.MaxFiles <= 0 {
		errs = append(errs, errors.New("upload limits must be positive"))
	}
	switch c.Provider.Kind {
	case ProviderMemory:
	case ProviderCloudinary:
		if c.Provider.CloudName == "" || c.Provider.APIKey == "" || c.Provider.APISecret == "" {
			errs = append(errs, errors.New("cloudinary credentials are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Kind))
	}
	if c.Provider.Concurrency <= 0 {
		errs = append(errs, errors.New("provider concurrency must be positive"))
	}
	if c.Cleanup.Enabled {
		if c.Cleanup.Interval <= 0 || c.Cleanup.TTL <= 0 {
			errs = append(errs, errors.New("cleanup interval and ttl must be positive"))
		}
		if c.Cleanup.BatchSize <= 0 || c.Cleanup.BatchSize > 100 {
			errs = append(errs, errors.New("cleanup batch size must be between 1 and 100"))
		}
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unsupported trace exporter %q", c.Tracing.Exporter))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unsupported log level %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
