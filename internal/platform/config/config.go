package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendLevelDB  = "leveldb"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full service configuration. Values come from an optional
// YAML file named by LEDGER_CONFIG, then environment variables override.
type Config struct {
	Server    Server          `yaml:"server"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Limits    LimitsConfig    `yaml:"limits"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	ExportKeyHash   string        `yaml:"export_key_hash"` // bcrypt
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LedgerConfig selects where votes and session state are stored.
type LedgerConfig struct {
	Backend          string        `yaml:"backend"`
	DataDir          string        `yaml:"data_dir"`
	TxTimeout        time.Duration `yaml:"tx_timeout"`
	NotificationKeep int           `yaml:"notification_keep"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PostgresConfig struct {
	URL          string `yaml:"url"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LimitsConfig bounds state-changing requests per client address. A zero
// limit disables rate limiting.
type LimitsConfig struct {
	Writes int           `yaml:"writes"`
	Window time.Duration `yaml:"window"`
}

type LogConfig struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`

	// File, when set, also receives logs and is rotated by size.
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// TelemetryConfig points traces at an OTLP/HTTP collector.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			JWTIssuer:       "civic-ledger",
			SessionTTL:      24 * time.Hour,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend:          BackendMemory,
			DataDir:          "data",
			TxTimeout:        5 * time.Second,
			NotificationKeep: 20,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			Table:        "vote_records",
			MaxOpenConns: 10,
		},
		Kafka:     KafkaConfig{Topic: "civic.ledger.votes"},
		Limits:    LimitsConfig{Writes: 30, Window: time.Minute},
		Log:       LogConfig{Format: "json", Level: "info", MaxSizeMB: 100},
		Telemetry: TelemetryConfig{SampleRatio: 1},
	}
}

// Load builds the configuration from LEDGER_CONFIG (if set) and the
// environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(getenv("LEDGER_CONFIG")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) mergeFile(path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Server.Addr, "LEDGER_ADDR")
	setString(&cfg.Server.JWTSigningKey, "JWT_SIGNING_KEY")
	setString(&cfg.Server.ExportKeyHash, "EXPORT_KEY_HASH")
	setString(&cfg.Ledger.Backend, "LEDGER_BACKEND")
	setString(&cfg.Ledger.DataDir, "LEDGER_DATA_DIR")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.File, "LOG_FILE")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Headers, "OTEL_EXPORTER_OTLP_HEADERS")
	if v := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Telemetry.Insecure = insecure
	}

	if v := strings.TrimSpace(getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(getenv("LEDGER_TX_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LEDGER_TX_TIMEOUT: %w", err)
		}
		cfg.Ledger.TxTimeout = d
	}
	if v := strings.TrimSpace(getenv("LEDGER_RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_RATE_LIMIT: %w", err)
		}
		cfg.Limits.Writes = n
	}
	if v := strings.TrimSpace(getenv("REDIS_POOL_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_POOL_SIZE: %w", err)
		}
		cfg.Redis.PoolSize = n
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.Ledger.Backend = strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	brokers := cfg.Kafka.Brokers[:0]
	for _, b := range cfg.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers
}

func (cfg *Config) validate() error {
	switch cfg.Ledger.Backend {
	case BackendMemory, BackendFile, BackendLevelDB:
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return fmt.Errorf("ledger backend redis requires REDIS_URL")
		}
	case BackendPostgres:
		if cfg.Postgres.URL == "" {
			return fmt.Errorf("ledger backend postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	if (cfg.Ledger.Backend == BackendFile || cfg.Ledger.Backend == BackendLevelDB) && cfg.Ledger.DataDir == "" {
		return fmt.Errorf("ledger backend %s requires LEDGER_DATA_DIR", cfg.Ledger.Backend)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0, 1]")
	}
	if cfg.Limits.Writes < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log format must be json or text")
	}
	if cfg.Server.ExportKeyHash != "" && !strings.HasPrefix(cfg.Server.ExportKeyHash, "$2") {
		return fmt.Errorf("export key hash must be a bcrypt hash")
	}
	return nil
}

// KafkaEnabled reports whether appended votes should be published.
func (cfg Config) KafkaEnabled() bool {
	return len(cfg.Kafka.Brokers) > 0
}

// TokensEnabled reports whether bearer session tokens are issued and accepted.
func (cfg Config) TokensEnabled() bool {
	return cfg.Server.JWTSigningKey != ""
}
