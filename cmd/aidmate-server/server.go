package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/aidmate/dispatch/internal/config"
	"github.com/aidmate/dispatch/internal/domain/assistant"
	"github.com/aidmate/dispatch/internal/domain/dispatch"
	"github.com/aidmate/dispatch/internal/domain/personnel"
	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
	"github.com/aidmate/dispatch/internal/platform/cache"
	"github.com/aidmate/dispatch/internal/platform/db"
	"github.com/aidmate/dispatch/internal/platform/middleware"
	"github.com/aidmate/dispatch/internal/platform/notification"
	"github.com/aidmate/dispatch/internal/platform/websocket"
	"github.com/aidmate/dispatch/migrations"
)

const version = "1.0.0"

type serveOptions struct {
	migrate bool
	// seed overrides the environment default when set.
	seed *bool
}

// shouldSeed reports whether serve creates the default accounts. Outside
// development this needs an explicit --seed.
func (o serveOptions) shouldSeed(cfg *config.Config) bool {
	if o.seed != nil {
		return *o.seed
	}
	return cfg.IsDev()
}

// components are the long-lived dependencies the router is built from.
type components struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	kv         cache.KVStore
	dispatcher *notification.Dispatcher
	hub        *websocket.Hub
	llm        assistant.Generator
}

func runServer(opts serveOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if opts.migrate {
		count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", count).Msg("migrations up to date")
	}
	if opts.shouldSeed(cfg) {
		created, err := seedUsers(ctx, cfg, pool, logger)
		if err != nil {
			return err
		}
		if created {
			logger.Info().Msg("seeded default accounts")
		}
	}

	kv := statsStore(ctx, cfg, logger)

	publisher, closePublisher := pushPublisher(cfg, logger)
	defer closePublisher()
	dispatcher := notification.NewDispatcher(publisher, notification.DispatcherConfig{
		TopicPrefix: cfg.MQTTTopicPrefix,
		Timeout:     cfg.NotifyTimeout,
	}, logger)

	e := newRouter(components{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		kv:         kv,
		dispatcher: dispatcher,
		hub:        websocket.NewHub(logger),
		llm: assistant.NewGeminiClient(assistant.GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			Timeout:    cfg.GeminiTimeout,
			RetryCount: 1,
		}),
	})

	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY is not set; the assistant will answer with errors")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	dispatcher.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

// statsStore returns a Redis-backed store when REDIS_URL is set and
// reachable, and an in-process store otherwise.
func statsStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) cache.KVStore {
	if cfg.RedisURL == "" {
		return cache.NewMemoryKVStore()
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory stats cache")
		return cache.NewMemoryKVStore()
	}
	logger.Info().Msg("connected to redis")
	return cache.NewRedisKVStore(client)
}

// pushPublisher connects to the MQTT broker when one is configured. Without a
// broker, assignment notifications are dropped.
func pushPublisher(cfg *config.Config, logger zerolog.Logger) (notification.Publisher, func()) {
	if !cfg.NotificationsEnabled() {
		logger.Info().Msg("MQTT_BROKER_URL is not set; push notifications disabled")
		return notification.NopPublisher{}, func() {}
	}
	pub, err := notification.NewMQTTPublisher(notification.MQTTConfig{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		QoS:       1,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("mqtt unavailable, push notifications disabled")
		return notification.NopPublisher{}, func() {}
	}
	logger.Info().Str("broker", cfg.MQTTBrokerURL).Msg("connected to mqtt broker")
	return pub, pub.Close
}

func newRouter(c components) *echo.Echo {
	cfg, logger := c.cfg, c.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(c.pool))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		SigningKey: []byte(cfg.JWTSecret),
		Skipper:    auth.AuthSkipper,
	}

	api := e.Group("/api",
		middleware.RateLimit(rateLimitCfg),
		middleware.RequestTimeout(cfg.RequestTimeout),
		auth.JWTMiddleware(jwtCfg),
	)

	people := personnel.NewService(personnel.NewUserRepoPG(c.pool), tokenIssuer(cfg), logger)
	personnel.NewHandler(people).RegisterRoutes(api)

	cases := dispatch.NewService(dispatch.Deps{
		Cases:      dispatch.NewCaseRepoPG(c.pool),
		Paramedics: people,
		Tx:         db.NewTxRunner(c.pool),
		Notifier:   c.dispatcher,
		Events:     c.hub,
		Cache:      c.kv,
		StatsTTL:   cfg.StatsCacheTTL,
		Logger:     logger,
	})
	dispatch.NewHandler(cases).RegisterRoutes(api)

	assistant.NewHandler(assistant.NewService(c.llm, logger)).RegisterRoutes(api)

	// Browsers cannot set headers on a WebSocket upgrade, so the live feed
	// also accepts the token as a query parameter.
	wsCfg := jwtCfg
	wsCfg.AllowQueryToken = true
	live := e.Group("/api", auth.JWTMiddleware(wsCfg))
	websocket.NewHandler(c.hub, cfg.CORSOrigins).RegisterRoutes(live)

	return e
}
