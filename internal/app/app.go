package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/config"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/credential"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/event"
	handler "github.com/Mostafa-SAID7/fullycommunity-sub014/internal/handler/http"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/ratelimit"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository/postgres"
	redisrepo "github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository/redis"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/service"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/token"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/twofactor"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/migrations"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/database"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/health"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/httpclient"
	pkgkafka "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/kafka"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/middleware"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/tracing"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dispatcher     *event.Dispatcher
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "auth",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSample,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		DBName:   cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "auth")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Redis (challenges, rate limiting).
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr()))

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	identityRepo := postgres.NewIdentityRepository(pool)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(pool)
	challengeRepo := redisrepo.NewChallengeRepository(redisClient)
	resetRepo := redisrepo.NewPasswordResetRepository(redisClient)

	jwtManager := token.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessExpiry)
	tokenService := token.NewService(refreshTokenRepo, identityRepo, jwtManager, cfg.JWTRefreshExpiry, logger)

	credStore := credential.NewStore(identityRepo, cfg.LockoutThreshold, cfg.LockoutDuration, logger)

	codeSender := event.NewKafkaCodeSender(producer, logger)
	coordinator := twofactor.NewCoordinator(challengeRepo, identityRepo, codeSender, logger)
	resetManager := credential.NewResetManager(resetRepo, identityRepo, codeSender, logger)

	dispatcher := event.NewDispatcher(event.NewKafkaSink(producer, logger), cfg.EventBufferSize, logger)

	providerClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("identity-providers"),
		logger,
	)
	verifier := credential.NewHTTPVerifier(providerClient, cfg.ExternalProviders, logger)

	userOrch := service.NewOrchestrator(service.UserDomainConfig(),
		credStore, tokenService, coordinator, resetManager, identityRepo, verifier, dispatcher, logger)
	adminOrch := service.NewOrchestrator(service.AdminDomainConfig(),
		credStore, tokenService, coordinator, resetManager, identityRepo, verifier, dispatcher, logger)

	limiter := ratelimit.NewRedisLimiter(redisClient, ratelimit.DefaultBudgets())

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		UserOrchestrator:  userOrch,
		AdminOrchestrator: adminOrch,
		Limiter:           limiter,
		HealthHandler:     healthHandler,
		Logger:            logger,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		TracingEnabled: cfg.TracingEnabled,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		dispatcher:     dispatcher,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in dependency order:
// 1. HTTP server (drain in-flight requests)
// 2. Event dispatcher (flush buffered events from drained requests)
// 3. Tracer (flush pending spans)
// 4. Kafka producer
// 5. Redis client
// 6. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Drain buffered events before the producer goes away.
	a.dispatcher.Close()
	if dropped := a.dispatcher.Dropped(); dropped > 0 {
		a.logger.Warn("events dropped during lifetime", slog.Uint64("count", dropped))
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	a.logger.Info("application stopped")
	return nil
}
