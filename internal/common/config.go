package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Database     DatabaseConfig          `toml:"database"`
	Server       ServerConfig            `toml:"server"`
	Queue        QueueConfig             `toml:"queue"`
	Orchestrator OrchestratorConfig      `toml:"orchestrator"`
	Engines      map[string]EngineConfig `toml:"engines"`
	Storage      StorageConfig           `toml:"storage"`
	Normalizer   NormalizerConfig        `toml:"normalizer"`
	Enhance      EnhanceConfig           `toml:"enhance"`
	Events       EventsConfig            `toml:"events"`
	Log          LogConfig               `toml:"log"`
}

// DatabaseConfig holds database-related configuration.
// Driver is "postgres" (pgx) or "sqlite".
type DatabaseConfig struct {
	Driver           string   `toml:"driver"`
	DSN              string   `toml:"dsn"`
	SQLitePath       string   `toml:"sqlite_path"`
	MaxConns         int32    `toml:"max_conns"`
	MinConns         int32    `toml:"min_conns"`
	MaxConnLifetime  Duration `toml:"max_conn_lifetime"`
	MaxConnIdleTime  Duration `toml:"max_conn_idle_time"`
	DialTimeout      Duration `toml:"dial_timeout"`
	StatementTimeout Duration `toml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string `toml:"grpc_addr"`
	// HTTPAddr serves the REST mirror; empty disables it.
	HTTPAddr string `toml:"http_addr"`
}

// QueueConfig holds worker pool and retry configuration
type QueueConfig struct {
	Workers        int      `toml:"workers"`
	MaxAttempts    int      `toml:"max_attempts"`
	BaseDelay      Duration `toml:"base_delay"`
	ProcessTimeout Duration `toml:"process_timeout"`
	MaxBatch       int      `toml:"max_batch"`
	RetainFinished int      `toml:"retain_finished"`
}

// OrchestratorConfig holds the cascade thresholds and default order.
type OrchestratorConfig struct {
	AcceptanceThreshold float64  `toml:"acceptance_threshold"`
	ReviewThreshold     float64  `toml:"review_threshold"`
	DefaultOrder        []string `toml:"default_order"`
}

// EngineConfig holds per-provider settings. Endpoint/APIKey are unused by the local engine.
type EngineConfig struct {
	Enabled       bool     `toml:"enabled"`
	Endpoint      string   `toml:"endpoint"`
	APIKey        string   `toml:"api_key"`
	Timeout       Duration `toml:"timeout"`
	RatePerSecond float64  `toml:"rate_per_second"`
	Burst         int      `toml:"burst"`
	Tables        bool     `toml:"tables"`
	Forms         bool     `toml:"forms"`
	// local engine only
	Backend     string `toml:"backend"` // "cli" | "native"
	Binary      string `toml:"binary"`
	TessdataDir string `toml:"tessdata_dir"`
}

// StorageConfig selects where document bytes are read from.
// Backend is "fs" or "s3".
type StorageConfig struct {
	Backend     string `toml:"backend"`
	Root        string `toml:"root"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
	S3Bucket    string `toml:"s3_bucket"`
	S3UseSSL    bool   `toml:"s3_use_ssl"`
	// Watch enqueues new files under Root (fs backend only).
	Watch         bool     `toml:"watch"`
	WatchPriority string   `toml:"watch_priority"`
	WatchDebounce Duration `toml:"watch_debounce"`
}

// EnhanceConfig tunes the image preprocessor for items that request enhancement.
type EnhanceConfig struct {
	EstimateSkew  bool    `toml:"estimate_skew"`
	MaxDimension  int     `toml:"max_dimension"` // <0 disables downscaling
	SharpenAmount float64 `toml:"sharpen_amount"`
	ClipPercent   float64 `toml:"clip_percent"`
}

// NormalizerConfig points at an optional extra locale repair table (TOML).
type NormalizerConfig struct {
	DefaultLocale string `toml:"default_locale"`
	RepairTable   string `toml:"repair_table"`
}

// EventsConfig enables the Kafka lifecycle-event sink when brokers are set.
type EventsConfig struct {
	KafkaBrokers string `toml:"kafka_brokers"` // comma-separated
	KafkaTopic   string `toml:"kafka_topic"`
}

// LogConfig controls the slog handler built by the binaries.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" | "text"
}

// LoadConfig loads configuration from environment variables, then overlays
// the TOML file named by DOCEXTRACT_CONFIG when set.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("DB_SQLITE_PATH", "./data/docextract.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", 5),
			MaxAttempts:    getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			BaseDelay:      getEnvAsDuration("QUEUE_BASE_DELAY", 5*time.Second),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 5*time.Minute),
			MaxBatch:       getEnvAsInt("QUEUE_MAX_BATCH", 100),
			RetainFinished: getEnvAsInt("QUEUE_RETAIN_FINISHED", 1000),
		},
		Orchestrator: OrchestratorConfig{
			AcceptanceThreshold: getEnvAsFloat("OCR_ACCEPTANCE_THRESHOLD", 0.6),
			ReviewThreshold:     getEnvAsFloat("OCR_REVIEW_THRESHOLD", 0.75),
			DefaultOrder:        getEnvAsList("OCR_ENGINE_ORDER", []string{"vision", "docanalysis", "tesseract"}),
		},
		Engines: map[string]EngineConfig{
			"vision": {
				Enabled:       getEnv("VISION_ENDPOINT", "") != "",
				Endpoint:      getEnv("VISION_ENDPOINT", ""),
				APIKey:        getEnv("VISION_API_KEY", ""),
				Timeout:       getEnvAsDuration("VISION_TIMEOUT", 60*time.Second),
				RatePerSecond: getEnvAsFloat("VISION_RATE", 5),
				Burst:         getEnvAsInt("VISION_BURST", 10),
			},
			"docanalysis": {
				Enabled:       getEnv("DOCANALYSIS_ENDPOINT", "") != "",
				Endpoint:      getEnv("DOCANALYSIS_ENDPOINT", ""),
				APIKey:        getEnv("DOCANALYSIS_API_KEY", ""),
				Timeout:       getEnvAsDuration("DOCANALYSIS_TIMEOUT", 60*time.Second),
				RatePerSecond: getEnvAsFloat("DOCANALYSIS_RATE", 2),
				Burst:         getEnvAsInt("DOCANALYSIS_BURST", 5),
				Tables:        true,
				Forms:         true,
			},
			"tesseract": {
				Enabled:     true,
				Timeout:     getEnvAsDuration("TESSERACT_TIMEOUT", 60*time.Second),
				Backend:     getEnv("TESSERACT_BACKEND", "cli"),
				Binary:      getEnv("TESSERACT_BIN", "tesseract"),
				TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			},
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", "fs"),
			Root:          getEnv("STORAGE_ROOT", "./documents"),
			S3Endpoint:    getEnv("S3_ENDPOINT", ""),
			S3AccessKey:   getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretKey:   getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3Bucket:      getEnv("S3_BUCKET", ""),
			S3UseSSL:      getEnvAsBool("S3_USE_SSL", true),
			Watch:         getEnvAsBool("STORAGE_WATCH", false),
			WatchPriority: getEnv("STORAGE_WATCH_PRIORITY", "NORMAL"),
			WatchDebounce: getEnvAsDuration("STORAGE_WATCH_DEBOUNCE", 500*time.Millisecond),
		},
		Normalizer: NormalizerConfig{
			DefaultLocale: getEnv("NORMALIZER_LOCALE", "en"),
			RepairTable:   getEnv("NORMALIZER_REPAIR_TABLE", ""),
		},
		Enhance: EnhanceConfig{
			EstimateSkew:  getEnvAsBool("ENHANCE_ESTIMATE_SKEW", true),
			MaxDimension:  getEnvAsInt("ENHANCE_MAX_DIMENSION", 4000),
			SharpenAmount: getEnvAsFloat("ENHANCE_SHARPEN_AMOUNT", 0.5),
			ClipPercent:   getEnvAsFloat("ENHANCE_CLIP_PERCENT", 0.005),
		},
		Events: EventsConfig{
			KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
			KafkaTopic:   getEnv("KAFKA_TOPIC_EVENTS", "docextract.events"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if path := os.Getenv("DOCEXTRACT_CONFIG"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// MergeFile overlays a TOML file on top of the current values. Keys absent
// from the file keep their current value; engine tables are merged per engine.
func (c *Config) MergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", "read config file", err)
	}
	return c.MergeTOML(b)
}

// MergeTOML overlays raw TOML bytes. See MergeFile.
func (c *Config) MergeTOML(b []byte) error {
	engines := c.Engines
	c.Engines = nil
	if err := toml.Unmarshal(b, c); err != nil {
		c.Engines = engines
		return NewAppError("CONFIG_ERROR", "parse config file", err)
	}
	overlay := c.Engines
	c.Engines = engines
	if c.Engines == nil {
		c.Engines = make(map[string]EngineConfig, len(overlay))
	}
	// whole-table replace per engine; go-toml cannot merge into map values in place
	for name, ec := range overlay {
		c.Engines[strings.ToLower(name)] = ec
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Duration{duration}
		}
	}
	return Duration{defaultValue}
}

// Duration lets TOML files spell durations as strings ("45s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres driver", ErrInvalidInput)
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return NewAppError("CONFIG_ERROR", "DB_SQLITE_PATH is required for the sqlite driver", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown DB_DRIVER %q", c.Database.Driver), ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Queue.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	if c.Enhance.SharpenAmount < 0 || c.Enhance.ClipPercent < 0 || c.Enhance.ClipPercent >= 0.5 {
		return NewAppError("CONFIG_ERROR", "ENHANCE_SHARPEN_AMOUNT must be >= 0 and ENHANCE_CLIP_PERCENT within [0,0.5)", ErrInvalidInput)
	}
	o := c.Orchestrator
	if o.AcceptanceThreshold < 0 || o.AcceptanceThreshold > 1 || o.ReviewThreshold < 0 || o.ReviewThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "thresholds must be within [0,1]", ErrInvalidInput)
	}
	if len(o.DefaultOrder) == 0 {
		return NewAppError("CONFIG_ERROR", "OCR_ENGINE_ORDER must name at least one engine", ErrInvalidInput)
	}
	for _, name := range o.DefaultOrder {
		if _, ok := c.Engines[strings.ToLower(name)]; !ok {
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("engine %q in order has no configuration", name), ErrInvalidInput)
		}
	}
	if strings.TrimSpace(c.Events.KafkaBrokers) != "" && strings.TrimSpace(c.Events.KafkaTopic) == "" {
		return NewAppError("CONFIG_ERROR", "KAFKA_TOPIC_EVENTS is required when KAFKA_BROKERS is set", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			return NewAppError("CONFIG_ERROR", "STORAGE_ROOT is required for the fs backend", ErrInvalidInput)
		}
	case "s3":
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			return NewAppError("CONFIG_ERROR", "S3_ENDPOINT and S3_BUCKET are required for the s3 backend", ErrInvalidInput)
		}
		if c.Storage.Watch {
			return NewAppError("CONFIG_ERROR", "STORAGE_WATCH is only supported by the fs backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend), ErrInvalidInput)
	}
	return nil
}
