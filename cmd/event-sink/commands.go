package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/internal/worker"
	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/sink"
)

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "event-sink",
		Short:         "Export Open edX data to ClickHouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close(context.Background())
		},
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	_ = a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(a.dumpCoursesCmd(), a.dumpObjectsCmd(), a.workerCmd(), versionCmd())
	return root
}

// connectionFlags are the per-run ClickHouse overrides shared by dump commands.
type connectionFlags struct {
	url, username, password, database string
	timeoutSecs                       int
}

func (c *connectionFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.url, "url", "", "ClickHouse HTTP URL, overriding the configured one")
	fs.StringVar(&c.username, "username", "", "ClickHouse username")
	fs.StringVar(&c.password, "password", "", "ClickHouse password")
	fs.StringVar(&c.database, "database", "", "ClickHouse database")
	fs.IntVar(&c.timeoutSecs, "timeout_secs", 0, "ClickHouse request timeout in seconds")
}

// overrides keeps only the flags given on the command line
func (c *connectionFlags) overrides(fs *pflag.FlagSet) *config.Overrides {
	o := &config.Overrides{}
	if fs.Changed("url") {
		o.URL = config.String(c.url)
	}
	if fs.Changed("username") {
		o.Username = config.String(c.username)
	}
	if fs.Changed("password") {
		o.Password = config.String(c.password)
	}
	if fs.Changed("database") {
		o.Database = config.String(c.database)
	}
	if fs.Changed("timeout_secs") {
		o.TimeoutSecs = config.Int(c.timeoutSecs)
	}
	return o
}

// limitFlag returns the --limit value, rejecting an explicit value below one
func limitFlag(fs *pflag.FlagSet, limit int) (int, error) {
	if fs.Changed("limit") && limit < 1 {
		return 0, sink.ErrInvalidLimit
	}
	return limit, nil
}

func (a *app) dumpCoursesCmd() *cobra.Command {
	var (
		conn    connectionFlags
		courses []string
		skip    []string
		force   bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "dump-courses",
		Short: "Dump course overviews and course structures to ClickHouse",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := limitFlag(cmd.Flags(), limit)
			if err != nil {
				return err
			}
			// one course per insert so every course gets its own dump id
			opts := sink.Options{IDs: courses, SkipIDs: skip, Force: force, Limit: n, BatchSize: 1}
			if err := opts.Validate(); err != nil {
				return err
			}

			result, err := a.dump(cmd.Context(), repository.KindCourseOverviews, conn.overrides(cmd.Flags()), opts)
			if err != nil {
				return err
			}
			a.report(cmd.OutOrStdout(), "courses", result)
			return nil
		},
	}
	conn.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&courses, "courses", nil, "keys of the courses to dump, all courses when empty")
	cmd.Flags().StringSliceVar(&skip, "courses_to_skip", nil, "keys of courses never dumped")
	cmd.Flags().BoolVar(&force, "force", false, "dump every selected course, even when unchanged")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many courses were submitted")
	return cmd
}

func (a *app) dumpObjectsCmd() *cobra.Command {
	var (
		conn      connectionFlags
		object    string
		startPK   string
		ids       []string
		skip      []string
		force     bool
		limit     int
		batchSize int
		sleepTime float64
	)

	cmd := &cobra.Command{
		Use:   "dump-objects",
		Short: "Dump records of one kind to ClickHouse in batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			n, err := limitFlag(fs, limit)
			if err != nil {
				return err
			}
			if object == repository.KindAuthUser {
				return errors.Newf(errors.ErrorTypeValidation, "%s records are only removed on retirement and cannot be dumped", object)
			}

			opts := sink.Options{
				StartPK:   startPK,
				IDs:       ids,
				SkipIDs:   skip,
				Force:     force,
				Limit:     n,
				BatchSize: a.cfg.Sinks.BatchSize,
				SleepTime: a.cfg.Sinks.SleepTime,
			}
			if fs.Changed("batch_size") {
				if batchSize < 1 {
					return errors.Newf(errors.ErrorTypeValidation, "'batch_size' must be greater than 0, got %d", batchSize)
				}
				opts.BatchSize = batchSize
			}
			if fs.Changed("sleep_time") {
				opts.SleepTime = time.Duration(sleepTime * float64(time.Second))
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			result, err := a.dump(cmd.Context(), object, conn.overrides(fs), opts)
			if err != nil {
				return err
			}
			a.report(cmd.OutOrStdout(), object, result)
			return nil
		},
	}
	conn.register(cmd.Flags())
	cmd.Flags().StringVar(&object, "object", "", "kind of record to dump, e.g. user_profile")
	cmd.Flags().StringVar(&startPK, "start_pk", "", "only dump records with a greater primary key")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "primary keys to dump, all records when empty")
	cmd.Flags().StringSliceVar(&skip, "ids_to_skip", nil, "primary keys never dumped")
	cmd.Flags().BoolVar(&force, "force", false, "dump every selected record, even when unchanged")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many records were submitted")
	cmd.Flags().IntVar(&batchSize, "batch_size", 0, "records per insert, the configured batch size when unset")
	cmd.Flags().Float64Var(&sleepTime, "sleep_time", 0, "seconds to sleep between batches, the configured value when unset")
	_ = cmd.MarkFlagRequired("object")
	return cmd
}

func (a *app) dump(ctx context.Context, kind string, overrides *config.Overrides, opts sink.Options) (*sink.Result, error) {
	registry := sink.NewRegistry(a.cfg, a.logger)
	if _, err := registry.Descriptor(kind); err != nil {
		if errors.Is(err, sink.ErrNoModel) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "no sink is registered for %q, expected one of %s",
				kind, strings.Join(registry.Kinds(), ", "))
		}
		return nil, err
	}

	client, err := a.transport(overrides)
	if err != nil {
		return nil, err
	}
	repo, closeRepo, err := a.openRepository(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	defer closeRepo()

	s, err := registry.Sink(kind, client, repo)
	if err != nil {
		return nil, err
	}
	return s.DumpTargetRecords(ctx, opts)
}

func (a *app) report(out io.Writer, noun string, result *sink.Result) {
	for _, skipped := range result.Skipped {
		a.logger.Info("skipped", zap.String("key", skipped.Key), zap.String("reason", skipped.Reason))
	}
	if len(result.Submitted) == 0 {
		fmt.Fprintf(out, "No %s submitted for export to ClickHouse at all!\n", noun)
	} else {
		fmt.Fprintf(out, "%d %s submitted for export to ClickHouse: %s\n",
			len(result.Submitted), noun, strings.Join(result.Submitted, ", "))
	}
	fmt.Fprintf(out, "%d %s skipped.\n", len(result.Skipped), noun)
}

func (a *app) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume events and dump changed records as they happen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := a.transport(nil)
			if err != nil {
				return err
			}
			repo, closeRepo, err := a.openRepository(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer closeRepo()
			locker, closeLocker, err := a.locker(ctx)
			if err != nil {
				return err
			}
			defer closeLocker()

			tasks := worker.NewTasks(a.cfg, repo, client,
				worker.WithLocker(locker),
				worker.WithTasksLogger(a.logger))
			w, err := worker.New(a.cfg, tasks, a.logger)
			if err != nil {
				return err
			}

			a.logger.Info("starting worker",
				zap.Bool("kafka", a.cfg.Kafka.Enabled),
				zap.Bool("scheduler", a.cfg.Scheduler.Enabled),
				zap.String("metrics_addr", a.cfg.Observability.MetricsAddr))
			return w.Run(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "event-sink version %s\n", version)
		},
	}
}
