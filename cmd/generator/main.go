package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/stable-scheduler/internal/config"
	"github.com/example/stable-scheduler/internal/generation"
	httptransport "github.com/example/stable-scheduler/internal/http"
	"github.com/example/stable-scheduler/internal/lease"
	"github.com/example/stable-scheduler/internal/logging"
	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/persistence/memory"
	"github.com/example/stable-scheduler/internal/persistence/sqlstore"
	"github.com/example/stable-scheduler/internal/recurrence"
	"github.com/example/stable-scheduler/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "generator: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	once             bool
	cleanupDef       string
	cleanupSchedule  string
	validateOnly     bool
	shutdownDeadline time.Duration
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("generator", flag.ContinueOnError)
	fs.BoolVar(&opts.once, "once", false, "run generation once and exit")
	fs.StringVar(&opts.cleanupDef, "cleanup-definition", "", "remove the open instances of a deleted definition and exit")
	fs.StringVar(&opts.cleanupSchedule, "cleanup-schedule", "", "remove the open instances of every definition of a schedule and exit")
	fs.BoolVar(&opts.validateOnly, "validate", false, "validate every active definition and exit")
	fs.DurationVar(&opts.shutdownDeadline, "shutdown-timeout", 30*time.Second, "how long to wait for a running generation on shutdown")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.cleanupDef != "" && opts.cleanupSchedule != "" {
		return options{}, errors.New("-cleanup-definition and -cleanup-schedule are mutually exclusive")
	}
	return opts, nil
}

// store is everything the generator needs from a persistence backend.
type store interface {
	persistence.DefinitionRepository
	persistence.ExceptionRepository
	persistence.InstanceRepository
	persistence.HorseRepository
	persistence.LeaseRepository
	Ping(ctx context.Context) error
	Close() error
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	calendar := recurrence.DefaultCalendar()
	if cfg.HolidayFile != "" {
		calendar, err = recurrence.LoadCalendar(cfg.HolidayFile)
		if err != nil {
			return err
		}
		logger.Info("holiday calendar loaded", "path", cfg.HolidayFile, "holidays", calendar.Len())
	}

	switch {
	case opts.cleanupDef != "" || opts.cleanupSchedule != "":
		return runCleanup(ctx, st, cfg, opts, logger)
	case opts.validateOnly:
		return runValidation(ctx, st, logger)
	}

	locker, closeLocker := newLocker(cfg, st, logger)
	defer closeLocker()

	orchestrator := generation.NewOrchestrator(generation.Repositories{
		Definitions: st,
		Exceptions:  st,
		Instances:   st,
		Horses:      st,
	}, locker, generation.Options{
		Location:         cfg.Location,
		Calendar:         calendar,
		BatchSize:        cfg.BatchSize,
		DefaultDaysAhead: cfg.DefaultDaysAhead,
		LeaseTTL:         cfg.LeaseTTL,
		Logger:           logger,
	})

	sched, err := scheduler.New(func(ctx context.Context) error {
		_, err := orchestrator.Run(ctx)
		return err
	}, scheduler.Options{
		Spec:     cfg.CronSchedule,
		Location: cfg.Location,
		Timeout:  cfg.RunTimeout,
		Retries:  cfg.RunRetries,
		Backoff:  cfg.RetryBackoff,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if opts.once {
		return sched.RunOnce(ctx)
	}

	var server *http.Server
	if cfg.StatusAddr != "" {
		router := httptransport.NewRouter(httptransport.RouterConfig{
			Status: httptransport.NewStatusHandler(st, orchestrator, httptransport.StatusOptions{
				NextRun: sched.NextAfter,
				Logger:  logger,
			}),
			Logger: logger,
		})
		server = httptransport.NewServer(cfg.StatusAddr, router)
		go func() {
			logger.Info("status endpoint listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server encountered error", "error", err)
			}
		}()
	}

	sched.Start(ctx)
	logger.Info("generator started",
		"schedule", cfg.CronSchedule,
		"timezone", cfg.Location.String(),
		"store", cfg.StoreDriver,
		"redis_lease", cfg.RedisEnabled(),
	)
	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownDeadline)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown status server", "error", err)
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("wait for running generation: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using the in-memory store, nothing is persisted")
		return memory.New(), nil
	}

	st, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, sqlstore.Options{Location: cfg.Location})
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := runMigrations(ctx, st, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}

func runMigrations(ctx context.Context, st *sqlstore.Store, logger *slog.Logger) error {
	logger.Info("applying schema migrations")
	start := time.Now()
	if err := st.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", "error", err)
		return err
	}
	versions, err := st.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	current := ""
	if len(versions) > 0 {
		current = versions[len(versions)-1]
	}
	logger.Info("schema migrations applied", "version", current, "applied", len(versions), "duration", time.Since(start))
	return nil
}

// newLocker prefers the Redis lease and falls back to the store lease.
func newLocker(cfg config.Config, st persistence.LeaseRepository, logger *slog.Logger) (generation.Locker, func()) {
	if !cfg.RedisEnabled() {
		return lease.NewStoreLocker(st, lease.DefaultName, nil), func() {}
	}
	client := lease.NewRedisClient(lease.RedisOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	return lease.NewRedisLocker(client, lease.DefaultName), func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}
}

func runCleanup(ctx context.Context, st store, cfg config.Config, opts options, logger *slog.Logger) error {
	cleaner := generation.NewInstanceCleanerWithLogger(st, st, cfg.BatchSize, logger)

	var (
		result generation.CleanupResult
		err    error
	)
	if opts.cleanupDef != "" {
		result, err = cleaner.RemoveForDefinition(ctx, opts.cleanupDef)
	} else {
		result, err = cleaner.RemoveForSchedule(ctx, opts.cleanupSchedule)
	}
	if err != nil {
		return err
	}
	logger.Info("cleanup finished", "deleted", result.Deleted, "preserved", result.Preserved, "commits", result.Commits)
	return nil
}

func runValidation(ctx context.Context, st store, logger *slog.Logger) error {
	definitions, err := st.ListActiveDefinitions(ctx)
	if err != nil {
		return err
	}
	invalid := 0
	for _, def := range definitions {
		if err := generation.ValidateDefinition(def); err != nil {
			invalid++
			logger.Warn("invalid definition", "definition_id", def.ID, "error", err, "error_kind", generation.ErrorKind(err))
		}
	}
	logger.Info("validation finished", "definitions", len(definitions), "invalid", invalid)
	if invalid > 0 {
		return fmt.Errorf("%d of %d definitions are invalid", invalid, len(definitions))
	}
	return nil
}
