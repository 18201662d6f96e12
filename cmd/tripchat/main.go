package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tripchat/internal/cache"
	"tripchat/internal/channel"
	"tripchat/internal/config"
	"tripchat/internal/constants"
	"tripchat/internal/features"
	"tripchat/internal/models"
	"tripchat/internal/retry"
	"tripchat/internal/service"
	"tripchat/internal/tracing"
	"tripchat/pkg/media"
	"tripchat/pkg/transport"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	userID     = flag.String("user", "", "User id for the channel identity (defaults to TRIPCHAT_USER_ID)")
	userType   = flag.String("user-type", "traveler", "User type: traveler or agent")
	roomID     = flag.String("room", "", "Room to activate on startup")
	sendFile   = flag.String("send-file", "", "Media file to upload and send to the activated room")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("TripChat %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting TripChat")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	identity := resolveIdentity()
	if identity.ID == "" {
		return fmt.Errorf("user id is required: pass -user or set TRIPCHAT_USER_ID")
	}

	flags := features.NewFlagManager()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultTracingConfig()
	tracingConfig.ServiceVersion = Version
	tracingConfig.Enabled = flags.IsEnabled(features.FlagDistributedTracing)
	tracingManager := tracing.NewTracingManager(tracingConfig, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the local history cache with exponential backoff retry
	var historyCache *cache.MessageCache
	if cfg.Cache.Path != "" {
		backoff := retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: constants.DefaultCacheRetryBackoffMs * time.Millisecond,
			MaxDelay:     constants.DefaultCacheMaxBackoffMs * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultCacheRetryAttempts,
		})
		err := backoff.Retry(ctx, func() error {
			var openErr error
			historyCache, openErr = cache.New(cfg.Cache.Path)
			return openErr
		})
		if err != nil {
			logger.WithError(err).Warn("History cache unavailable, continuing without it")
			historyCache = nil
		} else {
			defer historyCache.Close()
			go runCacheCleanup(ctx, historyCache, cfg.Cache.RetentionDays, logger)
		}
	}

	client := transport.NewClient(transport.ClientConfig{
		URL:          cfg.Transport.URL,
		WriteTimeout: time.Duration(cfg.Transport.WriteTimeoutSec) * time.Second,
		ConnectRetry: retry.DefaultBackoffConfig(),
	}, logger)

	manager := channel.NewManager(client, identity, logger)

	opts := service.EngineOptions{Flags: flags}
	if historyCache != nil {
		opts.Cache = historyCache
	}
	engine := service.NewEngine(manager, cfg.Chat, logger, opts)

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect channel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Close(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Engine shutdown error")
		}
	}()

	if *sendFile != "" && *roomID == "" {
		return fmt.Errorf("-send-file requires -room")
	}
	if *roomID != "" {
		room, err := engine.ActivateRoom(ctx, service.RoomConfig{RoomID: *roomID})
		if err != nil {
			return fmt.Errorf("failed to activate room: %w", err)
		}
		if *sendFile != "" {
			if err := sendMediaFile(ctx, room, cfg.Media, *sendFile, logger); err != nil {
				return fmt.Errorf("failed to send media file: %w", err)
			}
		}
	}

	server := NewServer(engine, cfg.Server.Port, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("debug server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Debug server shutdown error")
	}
	return nil
}

func resolveIdentity() channel.StaticIdentity {
	id := *userID
	if id == "" {
		id = os.Getenv("TRIPCHAT_USER_ID")
	}
	uType := *userType
	if env := os.Getenv("TRIPCHAT_USER_TYPE"); env != "" {
		uType = env
	}
	return channel.StaticIdentity{ID: id, Type: uType}
}

// sendMediaFile uploads a local file and sends it as a media message to the
// activated room.
func sendMediaFile(ctx context.Context, room *service.RoomController, cfg models.MediaConfig, path string, logger *logrus.Logger) error {
	handler := media.NewHandler(cfg, media.NewHTTPUploader(cfg.UploadURL))
	attachment, err := handler.PrepareAttachment(ctx, path)
	if err != nil {
		return err
	}

	tempID, err := room.Send(ctx, "", []models.MediaAttachment{*attachment})
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"temp_id": tempID,
		"file":    filepath.Base(path),
	}).Info("Media message queued")
	return nil
}

func runCacheCleanup(ctx context.Context, c *cache.MessageCache, retentionDays int, logger *logrus.Logger) {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultCacheRetentionDays
	}
	ticker := time.NewTicker(constants.DefaultCacheCleanupIntervalHours * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.CleanupOlderThan(ctx, time.Duration(retentionDays)*24*time.Hour)
			if err != nil {
				logger.WithError(err).Warn("Cache cleanup failed")
				continue
			}
			if removed > 0 {
				logger.WithField("removed", removed).Info("Cache cleanup completed")
			}
		}
	}
}
