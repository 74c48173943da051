package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/config"
	"github.com/arwahdevops/dbmigrate/internal/db"
	"github.com/arwahdevops/dbmigrate/internal/logger"
	"github.com/arwahdevops/dbmigrate/internal/metrics"
	"github.com/arwahdevops/dbmigrate/internal/migrate"
	"github.com/arwahdevops/dbmigrate/internal/schema"
	"github.com/arwahdevops/dbmigrate/internal/secrets"
	"github.com/arwahdevops/dbmigrate/internal/server"
)

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitBlocked      = 2
	exitUnexecutable = 3
)

var (
	previousOverride string
	nextOverride     string
	outputOverride   string
	dialectOverride  string
	applyFlag        bool
	forceFlag        bool
	dryRunFlag       bool
)

func main() {
	flag.StringVar(&previousOverride, "previous", "", "Override PREVIOUS_SNAPSHOT (schema the database has now)")
	flag.StringVar(&nextOverride, "next", "", "Override NEXT_SNAPSHOT (schema the database should have)")
	flag.StringVar(&outputOverride, "out", "", "Override SCRIPT_OUTPUT (\"-\" for stdout)")
	flag.StringVar(&dialectOverride, "dialect", "", "Override DST_DIALECT (postgres, mysql, sqlite, sqlserver)")
	flag.BoolVar(&applyFlag, "apply", false, "Apply the migration to the target database")
	flag.BoolVar(&forceFlag, "force", false, "Apply even when destructive warnings are pending")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "Plan, render and check without applying")
	flag.Parse()

	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Fatalf("Failed to parse pre-configuration for logger: %v", err)
	}
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	applyCliOverrides()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Error("Configuration loading error", zap.Error(err))
		os.Exit(exitError)
	}
	logLoadedConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	_ = logger.Log.Sync()
	os.Exit(code)
}

// applyCliOverrides exports explicit flags as environment variables so that
// config.Load validates them together with the rest of the configuration.
func applyCliOverrides() {
	overrides := map[string]string{
		"PREVIOUS_SNAPSHOT": previousOverride,
		"NEXT_SNAPSHOT":     nextOverride,
		"SCRIPT_OUTPUT":     outputOverride,
		"DST_DIALECT":       dialectOverride,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "apply":
			overrides["APPLY"] = fmt.Sprint(applyFlag)
		case "force":
			overrides["FORCE"] = fmt.Sprint(forceFlag)
		case "dry-run":
			overrides["DRY_RUN"] = fmt.Sprint(dryRunFlag)
		}
	})
	for key, value := range overrides {
		if value == "" {
			continue
		}
		logger.Log.Debug("Overriding environment with CLI flag", zap.String("key", key), zap.String("cli_value", value))
		_ = os.Setenv(key, value)
	}
}

func logLoadedConfig(cfg *config.Config) {
	passwordSource := "not set"
	if cfg.DstDB.Password != "" {
		passwordSource = "env var"
	} else if cfg.VaultEnabled && cfg.DstSecretPath != "" {
		passwordSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.String("previous_snapshot", cfg.PreviousSnapshot), zap.String("next_snapshot", cfg.NextSnapshot), zap.String("script_output", cfg.ScriptOutput),
		zap.Bool("apply", cfg.Apply), zap.Bool("force", cfg.Force), zap.Bool("dry_run", cfg.DryRun),
		zap.String("dst_dialect", cfg.DstDB.Dialect), zap.String("dst_host", cfg.DstDB.Host), zap.Int("dst_port", cfg.DstDB.Port), zap.String("dst_user", cfg.DstDB.User), zap.String("dst_password_source", passwordSource), zap.String("dst_dbname", cfg.DstDB.DBName), zap.String("dst_sslmode", cfg.DstDB.SSLMode),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval), zap.Duration("apply_timeout", cfg.ApplyTimeout),
		zap.Int("conn_pool_size", cfg.ConnPoolSize), zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("enable_pprof", cfg.EnablePprof), zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("dst_secret_path", cfg.DstSecretPath),
	)
}

func run(ctx context.Context, cfg *config.Config) int {
	log := logger.Log

	previous := &schema.Snapshot{}
	if cfg.PreviousSnapshot != "" {
		snap, err := schema.LoadFile(cfg.PreviousSnapshot)
		if err != nil {
			log.Error("Failed to load previous snapshot", zap.Error(err))
			return exitError
		}
		previous = snap
	}
	next, err := schema.LoadFile(cfg.NextSnapshot)
	if err != nil {
		log.Error("Failed to load next snapshot", zap.Error(err))
		return exitError
	}

	flavour, err := migrate.FlavourFor(cfg.DstDB.Dialect)
	if err != nil {
		log.Error("Unsupported target dialect", zap.Error(err))
		return exitError
	}

	metricsStore := metrics.NewMetricsStore()

	var conn *db.Connector
	if cfg.NeedsConnection() {
		conn, err = connect(ctx, cfg)
		if err != nil {
			log.Error("Failed to connect to target database", zap.Error(err))
			return exitError
		}
		defer func() { _ = conn.Close() }()
		metricsStore.ObserveDBStats("target", conn.OpenConnections())
	} else {
		log.Info("No target connection configured; destructive checks will be conservative")
	}

	if cfg.MetricsPort > 0 {
		serverCtx, cancelServer := context.WithCancel(ctx)
		defer cancelServer()
		var target server.Pinger
		if conn != nil {
			target = conn
		}
		go server.RunHTTPServer(serverCtx, cfg, metricsStore, target, log)
	}

	var (
		inspector migrate.DatabaseInspector
		applier   *migrate.Applier
	)
	if conn != nil {
		inspector = conn.Inspector()
		applier = migrate.NewApplier(conn.DB, flavour, metricsStore, log)
	}
	migrator := migrate.NewMigrator(flavour, inspector, applier, metricsStore, log)

	runCtx, cancel := context.WithTimeout(ctx, cfg.ApplyTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := migrator.Run(runCtx, previous, next, migrate.RunOptions{
		Apply:  cfg.Apply,
		Force:  cfg.Force,
		DryRun: cfg.DryRun,
	})
	if result != nil {
		if summary := result.Migration.DriftSummary(); summary != "" {
			fmt.Fprint(os.Stderr, summary)
		}
		if err := writeScript(cfg.ScriptOutput, result.Script); err != nil {
			log.Error("Failed to write migration script", zap.Error(err))
			return exitError
		}
	}

	return processResult(result, runErr, time.Since(start))
}

func connect(ctx context.Context, cfg *config.Config) (*db.Connector, error) {
	username, password := cfg.DstDB.User, cfg.DstDB.Password
	if cfg.DstDB.Dialect != "sqlite" {
		vaultMgr, err := secrets.NewVaultManager(cfg, logger.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Vault secret manager: %w", err)
		}
		credsCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		creds, err := secrets.ResolveCredentials(credsCtx, cfg, vaultMgr)
		cancel()
		if err != nil {
			return nil, err
		}
		username, password = creds.Username, creds.Password
	}

	dsn, err := db.BuildDSN(cfg.DstDB, username, password)
	if err != nil {
		return nil, err
	}
	conn, err := db.ConnectWithRetry(ctx, cfg.DstDB, dsn, cfg.MaxRetries, cfg.RetryInterval, logger.Log)
	if err != nil {
		return nil, err
	}
	if err := conn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func writeScript(path, script string) error {
	if path == "" || path == "-" {
		_, err := fmt.Fprint(os.Stdout, script)
		return err
	}
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return fmt.Errorf("failed to write script to '%s': %w", path, err)
	}
	logger.Log.Info("Migration script written", zap.String("path", path))
	return nil
}

func processResult(result *migrate.RunResult, err error, elapsed time.Duration) int {
	log := logger.Log.With(zap.Duration("duration", elapsed))

	var applyErr *migrate.ApplyError
	switch {
	case errors.Is(err, migrate.ErrUnexecutable):
		log.Error("Migration refused: it contains steps that cannot be executed on the current data",
			zap.Int("unexecutable", len(result.Check.Unexecutable)))
		return exitUnexecutable
	case errors.As(err, &applyErr):
		log.Error("Migration failed while applying",
			zap.Int("step", applyErr.StepIndex),
			zap.Int("statement", applyErr.StatementIndex),
			zap.Int("applied_steps", applyErr.AppliedSteps),
			zap.Bool("partially_applied", applyErr.PartiallyApplied),
			zap.String("code", applyErr.Code),
			zap.Error(applyErr.Err))
		return exitError
	case err != nil:
		log.Error("Migration failed", zap.Error(err))
		return exitError
	case result.Blocked:
		log.Warn("Migration has destructive warnings; rerun with -force to apply",
			zap.Int("warnings", len(result.Check.Warnings)))
		return exitBlocked
	case result.Applied:
		log.Info("Migration applied", zap.Int("steps", result.AppliedSteps))
	default:
		log.Info("Migration planned", zap.Int("steps", len(result.Steps)),
			zap.Int("warnings", len(result.Check.Warnings)),
			zap.Int("unexecutable", len(result.Check.Unexecutable)))
	}
	return exitOK
}
