package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"event-board/internal/blob"
	"event-board/internal/config"
	"event-board/internal/db"
	"event-board/internal/events"
	"event-board/internal/logging"
	"event-board/internal/server"
	"event-board/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const (
	shutdownTimeout = 5 * time.Second
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "event-board",
		Short:         "Event listing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		newMigrateCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printVersion(cmd.OutOrStdout())
			},
		},
	)
	return root
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DBHost == "" {
				return errors.New("database is not configured")
			}
			if args[0] == "down" {
				logger.Info("rolling_back_migrations")
				return db.MigrateDown(cfg.DatabaseURL)
			}
			logger.Info("running_migrations")
			return db.RunMigrations(cfg.DatabaseURL)
		},
	}
}

func printVersion(w io.Writer) error {
	v := version
	if v == "" {
		v = "dev"
	}
	_, err := fmt.Fprintf(w, "event-board %s\n", v)
	return err
}

// loadConfig resolves configuration and installs the process logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if version != "" {
		cfg.Version = version
	}
	logger := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.ParseFormat(cfg.Log.Format),
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config_invalid", "err", err)
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:   cfg.Tracing.Exporter,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
		Version:    cfg.Version,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing_shutdown_failed", "err", err)
		}
	}()

	dbConn, err := db.OpenDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db_connect_failed", "host", cfg.DBHost, "err", err)
		return err
	}
	defer func() { _ = dbConn.Close() }()

	logger.Info("running_migrations")
	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Error("migration_failed", "err", err)
		return err
	}
	logger.Info("migrations_complete")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := newBlobStore(ctx, cfg.Blob, reg, logger)
	if err != nil {
		logger.Error("blob_store_failed", "backend", cfg.Blob.Backend, "err", err)
		return err
	}

	gateway := events.NewGateway(dbConn, events.Options{
		UploadsDir: cfg.UploadsDir,
		ErrorLog:   events.NewErrorLog(cfg.LogDir, logger),
		Logger:     logger,
	})

	srv, err := server.New(server.Config{
		Addr:    cfg.Addr(),
		Version: cfg.Version,
		Auth: server.AuthConfig{
			Username:      cfg.Auth.Username,
			Password:      cfg.Auth.Password,
			SessionSecret: cfg.Auth.SessionSecret,
			SessionTTL:    cfg.Auth.SessionTTL,
			CookieSecure:  cfg.Auth.CookieSecure,
		},
		Events:         gateway,
		Blob:           store,
		DB:             dbConn,
		UploadsDir:     cfg.UploadsDir,
		PublicDir:      cfg.PublicDir,
		RequireImage:   cfg.RequireImage,
		RequireBlob:    cfg.RequireBlob,
		LoginRateLimit: cfg.Auth.LoginRateLimit,
		TrustProxy:     cfg.Auth.TrustProxy,
		Logger:         logger,
		Registry:       reg,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting", "addr", cfg.Addr(), "env", cfg.Env, "version", cfg.Version, "blob", cfg.Blob.Backend)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("shutdown_error", "err", err)
			return err
		}
		logger.Info("shutdown_complete")
		return nil
	})
	return g.Wait()
}

// newBlobStore builds the configured image store behind a circuit breaker
// and metrics.
func newBlobStore(ctx context.Context, cfg config.BlobConfig, reg prometheus.Registerer, logger *slog.Logger) (blob.Store, error) {
	var store blob.Store
	switch cfg.Backend {
	case config.BlobNone:
		return blob.Disabled{}, nil
	case config.BlobMinio:
		ms, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		store = ms
	default:
		store = blob.NewHTTPStore(blob.HTTPConfig{
			APIBase: cfg.APIBase,
			Token:   cfg.Token,
		})
	}

	observer, err := blob.NewPrometheusObserver("event_board", reg)
	if err != nil {
		return nil, err
	}
	return blob.Instrumented(blob.WithBreaker(store, breakerFailures, breakerCooldown, logger), observer), nil
}
