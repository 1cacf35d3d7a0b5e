package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/devicelock/internal/auth"
	"github.com/BradenHooton/devicelock/internal/background"
	"github.com/BradenHooton/devicelock/internal/commands"
	"github.com/BradenHooton/devicelock/internal/config"
	"github.com/BradenHooton/devicelock/internal/database"
	"github.com/BradenHooton/devicelock/internal/events"
	"github.com/BradenHooton/devicelock/internal/handlers"
	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/lock"
	"github.com/BradenHooton/devicelock/internal/metrics"
	middlewareCustom "github.com/BradenHooton/devicelock/internal/middleware"
	"github.com/BradenHooton/devicelock/internal/monitor"
	"github.com/BradenHooton/devicelock/internal/notify"
	"github.com/BradenHooton/devicelock/internal/remote"
	"github.com/BradenHooton/devicelock/internal/repositories"
	"github.com/BradenHooton/devicelock/internal/routes"
	"github.com/BradenHooton/devicelock/internal/session"
	pkghttp "github.com/BradenHooton/devicelock/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Bool("remote_enabled", cfg.Database.Enabled),
		slog.String("evaluator", cfg.Security.SuspicionEvaluator),
	)

	// Local store is the source of truth for lock state
	local, err := localstore.Open(cfg.Local.StorePath, logger)
	if err != nil {
		logger.Error("failed to open local store", slog.Any("error", err))
		os.Exit(1)
	}
	defer local.Close()

	idp := identity.NewProvider(local)
	m := metrics.New()

	// Remote backend is optional; without it the mirror is offline
	var (
		db          *database.DB
		mirror      *remote.Mirror
		commandRepo *repositories.RemoteCommandRepository
		eventRepo   *repositories.SecurityEventRepository
	)
	if cfg.Database.Enabled {
		db, err = database.NewConnection(&cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("failed to migrate database", slog.Any("error", err))
			os.Exit(1)
		}

		commandRepo = repositories.NewRemoteCommandRepository(db)
		eventRepo = repositories.NewSecurityEventRepository(db)
		mirror = remote.NewMirror(
			repositories.NewUserDocRepository(db),
			repositories.NewDeviceRepository(db),
			eventRepo,
			cfg.Security.RemoteTimeout,
			logger,
		)
	} else {
		mirror = remote.NewOffline(logger)
	}
	mirror.SetObserver(m)

	eventLog := events.NewLog(local, mirror, idp, logger)

	// Owner notifications
	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.Email.Enabled {
		ses, err := notify.NewSESSender(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email sender", slog.Any("error", err))
			os.Exit(1)
		}
		sender = ses
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Security.RemoteTimeout, logger)

	// Lock state machine
	lockService := lock.NewService(local, mirror, eventLog, idp, dispatcher, cfg.Security.DeviceName, logger)
	lockService.SetRecorder(m)
	m.WatchState(lockService)

	// Background monitor
	evaluator, err := monitor.NewEvaluator(cfg.Security.SuspicionEvaluator, local)
	if err != nil {
		logger.Error("failed to build suspicion evaluator", slog.Any("error", err))
		os.Exit(1)
	}
	securityMonitor := monitor.New(monitor.Config{
		Lock:       lockService,
		KV:         local,
		Evaluator:  evaluator,
		Events:     eventLog,
		Identity:   idp,
		Notifier:   dispatcher,
		DeviceName: cfg.Security.DeviceName,
		Interval:   cfg.Security.MonitorInterval,
	}, logger)
	securityMonitor.SetRecorder(m)

	sessions := session.NewService(idp, lockService, mirror, dispatcher, eventLog, session.Device{
		Name:     cfg.Security.DeviceName,
		Platform: cfg.Security.DevicePlatform,
	}, logger)

	// Remote commands: scheduled polling plus an optional push channel
	var (
		poller *commands.Poller
		rdb    *redis.Client
	)
	if commandRepo != nil {
		executor := commands.NewExecutor(commandRepo, lockService, eventLog, logger)
		executor.SetRecorder(m)

		poller, err = commands.NewPoller(cfg.Security.CommandPollSchedule, executor, signedInDevice(idp), logger)
		if err != nil {
			logger.Error("failed to create command poller", slog.Any("error", err))
			os.Exit(1)
		}

		if cfg.Redis.Addr != "" {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			rdb, err = commands.NewRedisClient(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			cancel()
			if err != nil {
				// Polling still delivers commands
				logger.Warn("redis unavailable, remote commands will be polled only", slog.Any("error", err))
			} else {
				defer rdb.Close()
				sessions.SetSubscriber(func(ctx context.Context, deviceID string) (io.Closer, error) {
					sub, err := commands.Subscribe(ctx, rdb, deviceID, func(ctx context.Context, commandID string) {
						if err := executor.ExecuteByID(ctx, commandID, deviceID); err != nil {
							logger.ErrorContext(ctx, "failed to execute pushed command",
								slog.String("command_id", commandID),
								slog.Any("error", err),
							)
						}
					}, logger)
					if err != nil {
						return nil, err
					}
					return sub, nil
				})
			}
		}
	}

	// Reconnect a session that survived a restart
	resumeCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Security.RemoteTimeout)
	if err := sessions.Resume(resumeCtx); err != nil {
		logger.Error("failed to resume session", slog.Any("error", err))
	}
	cancel()

	// Retention cleanup; the remote parts only when a backend is configured
	var (
		remoteEvents background.RemoteEvents
		expirer      background.CommandExpirer
	)
	if eventRepo != nil {
		remoteEvents = eventRepo
	}
	if commandRepo != nil {
		expirer = commandRepo
	}
	cleanupManager := background.NewCleanupManager(local, remoteEvents, expirer, cfg.Security.EventRetention, logger, cfg.Security.CleanupInterval)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	deviceHandler := handlers.NewDeviceHandler(lockService, logger)
	securityHandler := handlers.NewSecurityHandler(lockService, securityMonitor, eventLog, logger)
	sessionHandler := handlers.NewSessionHandler(sessions, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, cfg.Server.Env))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, deviceHandler, securityHandler, sessionHandler, tokenManager, idp)

	// Health check: the local store must be readable; the backend is reported
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := lockService.State(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "local_store": "down"})
			return
		}

		remoteStatus := "disabled"
		if db != nil {
			remoteStatus = "up"
			if !db.Online(ctx) {
				remoteStatus = "down"
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "local_store": "up", "database": remoteStatus})
	})
	router.Handle("/metrics", m.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background tasks
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go cleanupManager.Start(bgCtx)
	go securityMonitor.Start(bgCtx)
	if poller != nil {
		poller.Start()
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	bgCancel()
	if poller != nil {
		poller.Stop()
	}
	securityMonitor.Stop()
	cleanupManager.Stop()
	sessions.Close()

	// Drain queued notifications and remote writes before closing stores
	dispatcher.Wait()
	mirror.Close()

	logger.Info("server stopped gracefully")
}

// signedInDevice resolves this device's id while a user is signed in
func signedInDevice(idp *identity.Provider) commands.DeviceResolver {
	return func(ctx context.Context) (string, bool) {
		if idp.CurrentUserID(ctx) == "" {
			return "", false
		}
		deviceID, err := idp.DeviceID(ctx)
		if err != nil {
			return "", false
		}
		return deviceID, true
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
