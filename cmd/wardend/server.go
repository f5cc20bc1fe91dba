package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/obyrne/wardend/internal/config"
	"github.com/obyrne/wardend/internal/engine"
	"github.com/obyrne/wardend/internal/hostsfile"
	"github.com/obyrne/wardend/internal/metrics"
	"github.com/obyrne/wardend/internal/procwatch"
	"github.com/obyrne/wardend/internal/schedule"
	"github.com/obyrne/wardend/internal/session"
	"github.com/obyrne/wardend/internal/storage"
	"github.com/obyrne/wardend/internal/storage/bolt"
	redisstore "github.com/obyrne/wardend/internal/storage/redis"
	"github.com/obyrne/wardend/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the wardend enforcement daemon",
	Long:  `Start the enforcement loop, the hosts blocklist service and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting wardend")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := bolt.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("path", cfg.Storage.Path).Msg("Storage initialized")

	// Sessions optionally live in Redis so several instances can share them
	sessionStore := storage.SessionStore(store.Sessions())
	if cfg.Storage.Sessions == "redis" {
		redisSessions, err := redisstore.Open(cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect session storage: %w", err)
		}
		defer func() {
			if err := redisSessions.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close session storage")
			}
		}()
		sessionStore = redisSessions
		logger.Info().Str("address", cfg.Storage.Redis.Address).Msg("Redis session storage initialized")
	}

	evaluator := schedule.NewEvaluator(store.Schedules(), logger)
	tracker := session.NewTracker(sessionStore, evaluator, nil, logger)

	blocklist, err := hostsfile.NewBlocklist(cfg.Hosts.Path, store.Websites(), nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize hosts blocklist: %w", err)
	}
	logger.Info().Str("path", cfg.Hosts.Path).Msg("Hosts blocklist initialized")

	var locker engine.Locker = engine.NopLocker{}
	if cfg.Engine.LockCommand != "" {
		locker = engine.NewCommandLocker(cfg.Engine.LockCommand, logger)
	}

	procs := procwatch.NewSystemLister()
	eng, err := engine.New(engine.Options{
		Store:         store,
		Tracker:       tracker,
		Watcher:       procwatch.NewWatcher(procs, logger),
		Terminator:    procs,
		Evaluator:     evaluator,
		Blocklist:     blocklist,
		Locker:        locker,
		Notifier:      engine.NewLogNotifier(logger),
		TickInterval:  parseDuration(cfg.Engine.TickInterval, engine.DefaultTickInterval),
		ShutdownGrace: parseDuration(cfg.Engine.ShutdownGrace, engine.DefaultShutdownGrace),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize enforcement engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.StartMonitoring(ctx); err != nil {
		return fmt.Errorf("failed to start enforcement loop: %w", err)
	}

	// Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
		logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	}

	// Retention sweep for old closed sessions
	stopRetention := startRetentionSweep(ctx, cfg.Retention, sessionStore, logger)

	logger.Info().Msg("Wardend startup complete")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	stopRetention()

	if err := eng.StopMonitoring(); err != nil {
		logger.Error().Err(err).Msg("Error stopping enforcement loop")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Wardend stopped")
	return nil
}

// startRetentionSweep periodically deletes closed sessions older than the
// configured retention. Returns a stop function.
func startRetentionSweep(ctx context.Context, cfg config.RetentionConfig, sessions storage.SessionStore, logger zerolog.Logger) func() {
	if cfg.SessionDays <= 0 {
		return func() {}
	}
	interval := parseDuration(cfg.SweepInterval, 24*time.Hour)
	retention := time.Duration(cfg.SessionDays) * 24 * time.Hour
	sweepLogger := logger.With().Str("component", "retention").Logger()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				deleted, err := sessions.DeleteInactiveBefore(ctx, cutoff)
				if err != nil {
					sweepLogger.Error().Err(err).Msg("Session retention sweep failed")
					continue
				}
				if deleted > 0 {
					sweepLogger.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("Deleted expired sessions")
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
