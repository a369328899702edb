package main

import (
	"context"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/clickhouse"
	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/lock"
	"github.com/openedx/event-sink-clickhouse/pkg/logger"
	"github.com/openedx/event-sink-clickhouse/pkg/observability"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/memory"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/modulestore"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/sqlstore"
)

// app holds what every command shares once the configuration is loaded.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger

	openRepository func(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, func(), error)
	shutdown       []func(context.Context) error
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("EVENT_SINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &app{v: v, openRepository: openRepository}
}

// loadConfig builds the configuration from defaults, the optional config file
// and EVENT_SINK_* environment variables, in increasing precedence.
func (a *app) loadConfig() error {
	cfg := config.NewDefaultConfig()
	if path := a.v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load config")
		}
	}
	a.applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}

	if err := logger.Init(cfg.Observability.Log); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	a.logger = logger.Get().With(zap.String("component", "event-sink-cli"))

	if cfg.Observability.Tracing {
		shutdown, err := observability.Init(observability.TracingConfig{
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: version,
			SamplingRate:   1,
		})
		if err != nil {
			return err
		}
		a.shutdown = append(a.shutdown, shutdown)
	}
	a.cfg = cfg
	return nil
}

func (a *app) applyEnv(cfg *config.Config) {
	v := a.v
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("clickhouse.url", &cfg.ClickHouse.URL)
	setString("clickhouse.username", &cfg.ClickHouse.Username)
	setString("clickhouse.password", &cfg.ClickHouse.Password)
	setString("clickhouse.database", &cfg.ClickHouse.Database)
	if v.IsSet("clickhouse.timeout_secs") {
		cfg.ClickHouse.TimeoutSecs = v.GetInt("clickhouse.timeout_secs")
	}
	setString("repository.driver", &cfg.Repository.Driver)
	setString("repository.dsn", &cfg.Repository.DSN)
	setString("repository.modulestore.uri", &cfg.Repository.Modulestore.URI)
	setBool("kafka.enabled", &cfg.Kafka.Enabled)
	if v.IsSet("kafka.brokers") {
		cfg.Kafka.Brokers = v.GetStringSlice("kafka.brokers")
	}
	setBool("redis.enabled", &cfg.Redis.Enabled)
	setString("redis.addr", &cfg.Redis.Addr)
	setBool("scheduler.enabled", &cfg.Scheduler.Enabled)
	setString("observability.metrics_addr", &cfg.Observability.MetricsAddr)
	setString("log.level", &cfg.Observability.Log.Level)
}

func (a *app) close(ctx context.Context) {
	for _, fn := range a.shutdown {
		_ = fn(ctx)
	}
	_ = logger.Sync()
}

// transport builds a ClickHouse client for cfg with the CLI overrides applied
func (a *app) transport(overrides *config.Overrides) (*clickhouse.Client, error) {
	return clickhouse.NewClient(a.cfg.ClickHouse.WithOverrides(overrides),
		clickhouse.WithLogger(a.logger),
		clickhouse.WithTransport(a.cfg.Transport))
}

func (a *app) locker(ctx context.Context) (lock.Locker, func(), error) {
	if !a.cfg.Redis.Enabled {
		return lock.NopLocker{}, func() {}, nil
	}
	l, err := lock.Dial(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}

// openRepository connects to the stores named by the repository config.
func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, func(), error) {
	if cfg.Repository.Driver == "memory" {
		return memory.New(), func() {}, nil
	}

	records, err := sqlstore.Open(cfg.Repository, cfg.Models, log)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := modulestore.Open(ctx, cfg.Repository.Modulestore, log)
	if err != nil {
		_ = records.Close()
		return nil, nil, err
	}
	closeAll := func() {
		_ = blocks.Close(context.Background())
		_ = records.Close()
	}
	return repository.Composite{RecordStore: records, BlockSource: blocks}, closeAll, nil
}
