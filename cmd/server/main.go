package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/optrelay/signal-relay/internal/auth"
	"github.com/optrelay/signal-relay/internal/broker"
	"github.com/optrelay/signal-relay/internal/config"
	"github.com/optrelay/signal-relay/internal/database"
	"github.com/optrelay/signal-relay/internal/dispatch"
	"github.com/optrelay/signal-relay/internal/metrics"
	"github.com/optrelay/signal-relay/internal/monitor"
	"github.com/optrelay/signal-relay/internal/session"
	"github.com/optrelay/signal-relay/internal/source"
	"github.com/optrelay/signal-relay/internal/types"
	"github.com/optrelay/signal-relay/internal/watcher"
	"github.com/optrelay/signal-relay/pkg/middleware"
)

// init configures application logging from the environment.
// In development mode pretty printing with timestamps is enabled; DEBUG=true
// raises the log level.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the signal pipeline: source watchers, dispatcher, contract
// monitor, maintenance sweeps and the operational API, with graceful
// shutdown. Exit codes: 0 clean shutdown, 1 runtime failure, 2 fatal
// misconfiguration.
func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Error().Err(err).Str("config_path", configPath).Msg("Failed to load configuration")
		os.Exit(2)
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	metrics.Register()

	// The broker trading API client is an external collaborator; the mock
	// stands in for it here the same way the simulated exchanges would.
	brokerClient := broker.NewMock(time.Now().UnixNano())

	sessionService := session.NewService(db, brokerClient)
	sessionHandlers := session.NewGinHandlers(sessionService)

	dispatchService := dispatch.NewService(db, sessionService, brokerClient,
		time.Duration(cfg.Dispatch.DedupWindowSecs)*time.Second)
	dispatchHandlers := dispatch.NewGinHandlers(dispatchService)

	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		authService.RegisterAPICredentials(apiKey, os.Getenv("API_SECRET"))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	watcherCfg := watcher.Config{
		PollInterval:   time.Duration(cfg.Watcher.PollIntervalMs) * time.Millisecond,
		ErrorThreshold: cfg.Watcher.ErrorThreshold,
		Backoff:        time.Duration(cfg.Watcher.BackoffMs) * time.Millisecond,
	}

	if cfg.File.Enabled {
		w := watcher.New(source.NewFileSource(cfg.File.Path), dispatchService, types.SourceFile, watcherCfg)
		go w.Run(workerCtx)
	}
	if cfg.Remote.Enabled {
		src := source.NewRemoteSource(cfg.Remote.URL, cfg.Remote.ClearURL,
			time.Duration(cfg.Remote.TimeoutMs)*time.Millisecond)
		w := watcher.New(src, dispatchService, types.SourceRemoteFile, watcherCfg)
		go w.Run(workerCtx)
	}

	contractMonitor := monitor.New(db, sessionService, brokerClient,
		time.Duration(cfg.Monitor.IntervalSecs)*time.Second, cfg.Monitor.MaxRetries)
	go contractMonitor.Start(workerCtx)

	// Maintenance sweeps run on the cron scheduler; each one is idempotent
	// and coordinates with the loops above purely through the database.
	scheduler := cron.New()
	staleAfter := time.Duration(cfg.Sessions.StaleAfterMins) * time.Minute
	mustSchedule(scheduler, "@every 1m", func() {
		if _, err := sessionService.ExpireStale(workerCtx, staleAfter); err != nil {
			zlog.Error().Err(err).Msg("staleness sweep failed")
		}
	})
	mustSchedule(scheduler, "@every 1m", func() {
		if err := sessionService.ResetDaily(workerCtx, time.Now()); err != nil {
			zlog.Error().Err(err).Msg("daily reset sweep failed")
		}
	})
	mustSchedule(scheduler, "@every 30s", func() {
		if err := sessionService.FinalizeStops(workerCtx); err != nil {
			zlog.Error().Err(err).Msg("stop finalizer failed")
		}
	})
	mustSchedule(scheduler, "@every 1m", func() {
		if err := sessionService.Revalidate(workerCtx); err != nil {
			zlog.Error().Err(err).Msg("session revalidation failed")
		}
	})
	signalMaxAge := time.Duration(cfg.Retention.SignalMaxAgeDays) * 24 * time.Hour
	mustSchedule(scheduler, "@every 6h", func() {
		if _, err := dispatchService.PruneSignals(signalMaxAge); err != nil {
			zlog.Error().Err(err).Msg("signal retention sweep failed")
		}
	})
	scheduler.Start()

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.Server.JWTSecret, authHandlers, dispatchHandlers, sessionHandlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down...")

	// Stop starting new work, then give outstanding operations a few seconds
	workerCancel()
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

func mustSchedule(scheduler *cron.Cron, spec string, job func()) {
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		zlog.Fatal().Err(err).Str("spec", spec).Msg("Failed to schedule job")
	}
}

// setupRoutes configures the operational API:
// - Auth routes: public token endpoint
// - Signal routes: JWT-protected api signal source and signal read-back
// - Session routes: JWT-protected session lifecycle control
// - /metrics: prometheus scrape endpoint
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	dispatchHandlers *dispatch.GinHandlers,
	sessionHandlers *session.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		signals := v1.Group("/signals")
		signals.Use(middleware.JWTAuth(jwtSecret))
		{
			signals.POST("", dispatchHandlers.IngestSignalHandler())
			signals.GET("/:signal_id", dispatchHandlers.GetSignalHandler())
		}

		sessions := v1.Group("/sessions")
		sessions.Use(middleware.JWTAuth(jwtSecret))
		{
			sessions.POST("/:user_id/start", sessionHandlers.StartSessionHandler())
			sessions.POST("/:user_id/stop", sessionHandlers.StopSessionHandler())
			sessions.GET("/:user_id", sessionHandlers.GetSessionHandler())
		}
	}
}
