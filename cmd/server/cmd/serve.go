package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tudorilade/events-scheduler/internal/api"
	"github.com/tudorilade/events-scheduler/internal/auth"
	"github.com/tudorilade/events-scheduler/internal/config"
	"github.com/tudorilade/events-scheduler/internal/domain/events"
	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
	"github.com/tudorilade/events-scheduler/internal/email"
	"github.com/tudorilade/events-scheduler/internal/jobs"
	"github.com/tudorilade/events-scheduler/internal/metrics"
	"github.com/tudorilade/events-scheduler/internal/ratelimit"
	"github.com/tudorilade/events-scheduler/internal/storage/postgres"
	"github.com/tudorilade/events-scheduler/internal/telemetry"
)

var (
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server and begin accepting API requests.

The server loads configuration from environment variables, connects to
PostgreSQL, starts the River job workers for email delivery and periodic
cleanup, and shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting events scheduler")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing, Version)
	if err != nil {
		logger.Error().Err(err).Msg("tracing init failed")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
	}

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(poolCtx, cfg.Database)
	poolCancel()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init failed: %w", err)
	}

	emailService, err := email.NewService(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("email service init failed: %w", err)
	}

	tokenService := tokens.NewService(repo.Tokens(), logger)
	eventService := events.NewService(repo.Events(), logger)
	counterStore := postgres.NewRateLimitStore(pool)
	limiter := ratelimit.New(counterStore, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window.Std(), cfg.RateLimit.FailOpen, logger)

	workers := jobs.NewWorkers(jobs.WorkerDeps{
		Emails:          emailService,
		Users:           repo.Users(),
		Tokens:          tokenService,
		Counters:        counterStore,
		BaseURL:         cfg.Server.BaseURL,
		VerificationTTL: cfg.Tokens.VerificationTTL.Std(),
		ResetTTL:        cfg.Tokens.PasswordResetTTL.Std(),
		RateLimitWindow: cfg.RateLimit.Window.Std(),
		TokenRetention:  cfg.Tokens.Retention.Std(),
	})

	slogger := config.NewSlogLogger(cfg.Logging)
	riverClient, err := jobs.NewClient(pool, cfg.Jobs, workers, slogger, []rivertype.Hook{metrics.NewRiverMetricsHook()})
	if err != nil {
		return fmt.Errorf("river client init failed: %w", err)
	}

	queue := jobs.NewQueue(riverClient)
	userService := users.NewService(repo.Users(), tokenService, queue,
		cfg.Tokens.VerificationTTL.Std(), cfg.Tokens.PasswordResetTTL.Std(), logger)

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("river background job workers started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		} else {
			logger.Info().Msg("river workers stopped")
		}
	}()

	router := api.NewRouter(cfg, api.Dependencies{
		Pool:        pool,
		RiverClient: riverClient,
		Users:       userService,
		Events:      eventService,
		JWT:         auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry.Std(), "events-scheduler"),
		Limiter:     limiter,
		Version:     Version,
		GitCommit:   GitCommit,
	}, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
