package config

import (
	"fmt"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/logger"
)

// Config is the complete configuration of the event sink.
type Config struct {
	// ClickHouse holds the default connection parameters
	ClickHouse ClickHouseConfig `yaml:"clickhouse" json:"clickhouse"`

	// Models maps a logical record kind to its upstream source
	Models map[string]ModelConfig `yaml:"models" json:"models"`

	// PIIModels lists the kinds whose tables hold personal data removed on user retirement
	PIIModels []string `yaml:"pii_models" json:"pii_models"`

	Sinks         SinksConfig         `yaml:"sinks" json:"sinks"`
	Transport     TransportConfig     `yaml:"transport" json:"transport"`
	Repository    RepositoryConfig    `yaml:"repository" json:"repository"`
	Kafka         KafkaConfig         `yaml:"kafka" json:"kafka"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" json:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ModelConfig names the upstream source of a record kind.
// Module is the owning application and Model the table holding the records.
type ModelConfig struct {
	Module string `yaml:"module" json:"module"`
	Model  string `yaml:"model" json:"model"`
}

// Complete reports whether both parts of the mapping are set
func (m ModelConfig) Complete() bool {
	return m.Module != "" && m.Model != ""
}

// SinksConfig controls which sinks run and how bulk dumps behave by default.
type SinksConfig struct {
	// Enabled turns a sink on for event driven dumps, keyed by record kind
	Enabled map[string]bool `yaml:"enabled" json:"enabled"`
	// DetachedBlockTypes are block types that live outside the course tree
	DetachedBlockTypes []string `yaml:"detached_block_types" json:"detached_block_types"`
	// BatchSize is the default number of records sent per insert
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// SleepTime is the default pause between batches
	SleepTime time.Duration `yaml:"sleep_time" json:"sleep_time"`
}

// IsEnabled reports whether the sink for kind is turned on
func (s SinksConfig) IsEnabled(kind string) bool {
	return s.Enabled[kind]
}

// TransportConfig tunes the HTTP requests sent to ClickHouse.
type TransportConfig struct {
	// AllowErrorsNum is sent as input_format_allow_errors_num on inserts
	AllowErrorsNum int `yaml:"allow_errors_num" json:"allow_errors_num"`
	// AllowErrorsRatio is sent as input_format_allow_errors_ratio on inserts
	AllowErrorsRatio float64 `yaml:"allow_errors_ratio" json:"allow_errors_ratio"`
	// Compression of insert bodies: none, gzip, zstd, lz4 or snappy
	Compression string `yaml:"compression" json:"compression"`
	// HTTP2 negotiates HTTP/2 over TLS, for ClickHouse deployments behind an h2 proxy
	HTTP2 bool `yaml:"http2" json:"http2"`
}

// RepositoryConfig selects where upstream records are read from.
type RepositoryConfig struct {
	// Driver is memory, mysql or postgres
	Driver string `yaml:"driver" json:"driver"`
	// DSN is used as is when set; otherwise the MySQL section builds one
	DSN   string      `yaml:"dsn" json:"dsn"`
	MySQL MySQLConfig `yaml:"mysql" json:"mysql"`
	// Modulestore is the MongoDB holding course structures
	Modulestore ModulestoreConfig `yaml:"modulestore" json:"modulestore"`
}

// MySQLConfig describes the LMS database.
type MySQLConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
}

// ModulestoreConfig describes the split modulestore.
type ModulestoreConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	Database string `yaml:"database" json:"database"`
	// Branch is the published branch name used to resolve course versions
	Branch string `yaml:"branch" json:"branch"`
}

// KafkaConfig configures the event consumer of the worker.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	GroupID string   `yaml:"group_id" json:"group_id"`
	// Encoding of message values: json or avro
	Encoding string `yaml:"encoding" json:"encoding"`
}

// RedisConfig configures the per-record dump lock.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
}

// SchedulerConfig configures the periodic incremental course sweep.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Log logger.Config `yaml:"log" json:"log"`
	// MetricsAddr is where the worker serves /metrics and /healthz; empty disables it
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// Tracing exports spans to stdout when set
	Tracing     bool   `yaml:"tracing" json:"tracing"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// NewDefaultConfig returns the configuration used when nothing is overridden.
func NewDefaultConfig() *Config {
	return &Config{
		ClickHouse: ClickHouseConfig{
			URL:         "http://clickhouse:8123",
			Username:    "ch_cms",
			Password:    "",
			Database:    "event_sink",
			TimeoutSecs: 5,
		},
		Models: map[string]ModelConfig{
			"auth_user":        {Module: "auth", Model: "auth_user"},
			"user_profile":     {Module: "student", Model: "auth_userprofile"},
			"course_overviews": {Module: "course_overviews", Model: "course_overviews_courseoverview"},
			"external_id":      {Module: "external_user_ids", Model: "external_user_ids_externalid"},
		},
		PIIModels: []string{"user_profile", "external_id"},
		Sinks: SinksConfig{
			Enabled:            map[string]bool{},
			DetachedBlockTypes: []string{"static_tab", "about", "course_info"},
			BatchSize:          10000,
			SleepTime:          time.Second,
		},
		Transport: TransportConfig{
			AllowErrorsNum:   1,
			AllowErrorsRatio: 0.1,
			Compression:      "none",
		},
		Repository: RepositoryConfig{
			Driver: "mysql",
			MySQL: MySQLConfig{
				Host:     "mysql",
				Port:     3306,
				User:     "openedx",
				Database: "openedx",
			},
			Modulestore: ModulestoreConfig{
				URI:      "mongodb://mongodb:27017",
				Database: "openedx",
				Branch:   "published-branch",
			},
		},
		Kafka: KafkaConfig{
			Brokers:  []string{"kafka:9092"},
			Topic:    "event-sink-clickhouse",
			GroupID:  "event-sink-clickhouse",
			Encoding: "json",
		},
		Redis: RedisConfig{
			Addr:    "redis:6379",
			LockTTL: 10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Interval: time.Hour,
		},
		Observability: ObservabilityConfig{
			Log: logger.Config{
				Level:    "info",
				Encoding: "json",
			},
			ServiceName: "event-sink-clickhouse",
		},
	}
}

// Validate checks the configuration for values that would break a dump.
func (c *Config) Validate() error {
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("clickhouse url is required")
	}
	if c.ClickHouse.TimeoutSecs <= 0 {
		return fmt.Errorf("clickhouse timeout_secs must be positive, got %d", c.ClickHouse.TimeoutSecs)
	}
	if c.Sinks.BatchSize <= 0 {
		return fmt.Errorf("sinks batch_size must be positive, got %d", c.Sinks.BatchSize)
	}
	if c.Sinks.SleepTime < 0 {
		return fmt.Errorf("sinks sleep_time cannot be negative")
	}
	if c.Transport.AllowErrorsRatio < 0 || c.Transport.AllowErrorsRatio > 1 {
		return fmt.Errorf("transport allow_errors_ratio must be within [0, 1]")
	}
	switch c.Transport.Compression {
	case "", "none", "gzip", "zstd", "lz4", "snappy":
	default:
		return fmt.Errorf("unsupported transport compression %q", c.Transport.Compression)
	}
	switch c.Repository.Driver {
	case "memory", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver %q", c.Repository.Driver)
	}
	for _, kind := range c.PIIModels {
		if _, ok := c.Models[kind]; !ok {
			return fmt.Errorf("pii model %q has no model config", kind)
		}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}
	switch c.Kafka.Encoding {
	case "", "json", "avro":
	default:
		return fmt.Errorf("unsupported kafka encoding %q", c.Kafka.Encoding)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	return nil
}

// DetachedBlockTypeSet returns DetachedBlockTypes as a lookup set
func (c *Config) DetachedBlockTypeSet() map[string]bool {
	set := make(map[string]bool, len(c.Sinks.DetachedBlockTypes))
	for _, t := range c.Sinks.DetachedBlockTypes {
		set[t] = true
	}
	return set
}
