package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	authcleanup "github.com/AlibekovAA/class-schedule/internal/auth/cleanup"
	authhttp "github.com/AlibekovAA/class-schedule/internal/auth/http"
	authrepo "github.com/AlibekovAA/class-schedule/internal/auth/repository"
	authservice "github.com/AlibekovAA/class-schedule/internal/auth/service"
	"github.com/AlibekovAA/class-schedule/internal/auth/token"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	"github.com/AlibekovAA/class-schedule/internal/common/config"
	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	"github.com/AlibekovAA/class-schedule/internal/common/db"
	commonhttp "github.com/AlibekovAA/class-schedule/internal/common/http"
	"github.com/AlibekovAA/class-schedule/internal/common/jwtverify"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/common/resilience"
	"github.com/AlibekovAA/class-schedule/internal/migrations"
	schedulehttp "github.com/AlibekovAA/class-schedule/internal/schedule/http"
	schedulerepo "github.com/AlibekovAA/class-schedule/internal/schedule/repository"
	scheduleservice "github.com/AlibekovAA/class-schedule/internal/schedule/service"
	schedulews "github.com/AlibekovAA/class-schedule/internal/schedule/websocket"
)

// App holds every long-lived component of the API server.
type App struct {
	Log    *logger.Logger
	Config config.ServerConfig
	Pool   *pgxpool.Pool
	Redis  *redis.Client

	RefreshTokens authrepo.RefreshTokenRepository
	RevokedTokens authrepo.RevokedTokenRepository

	AuthService     *authservice.AuthService
	ScheduleService *scheduleservice.ScheduleService
	Guard           *jwtverify.Guard
	Hub             *schedulews.Hub
	Sweeper         *authcleanup.Sweeper
	RateLimiter     *commonhttp.PathRateLimiter
}

func InitializeLogger(serviceName string) (*logger.Logger, error) {
	return logger.New(os.Getenv("LOG_DIR"), serviceName, os.Getenv("LOG_LEVEL"))
}

// NewApp connects the configured stores and builds the services on top of
// them. Call Close when done.
func NewApp(ctx context.Context, log *logger.Logger, cfg config.ServerConfig) (*App, error) {
	app := &App{Log: log, Config: cfg}
	clk := clock.NewRealClock()
	idGenerator := commoncrypto.NewUUIDGenerator()

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
	}, clk, idGenerator)
	if err != nil {
		return nil, err
	}

	var (
		users     authrepo.UserRepository
		schedules schedulerepo.Repository
	)

	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		log.Warnf("using in-memory store; data is lost on restart")
		users = authrepo.NewMemoryUserRepository()
		app.RefreshTokens = authrepo.NewMemoryRefreshTokenRepository(clk, idGenerator)
		app.RevokedTokens = authrepo.NewMemoryRevokedTokenRepository(clk)
		schedules = schedulerepo.NewMemoryRepository()
	default:
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, log, cfg.DatabaseURL, migrations.FS); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		pool, err := db.NewPool(ctx, log, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		app.Pool = pool
		db.StartPoolMetrics(ctx, pool, constants.DBPoolMetricsInterval)

		users = authrepo.NewPgUserRepository(pool)
		app.RefreshTokens = authrepo.NewPgRefreshTokenRepository(pool, clk, idGenerator)
		app.RevokedTokens = authrepo.NewPgRevokedTokenRepository(pool, clk)
		schedules = schedulerepo.NewPgRepository(pool)
	}

	if cfg.DenylistBackend == config.DenylistBackendRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		app.Redis = redis.NewClient(opts)
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.RevokedTokens = authrepo.NewRedisRevokedTokenRepository(app.Redis, clk)
		log.Infof("access token denylist backed by redis")
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  cfg.CircuitBreaker.Threshold,
		Timeout:    cfg.CircuitBreaker.Timeout,
		ResetAfter: cfg.CircuitBreaker.Reset,
		Name:       "auth_store",
		IsFailure:  func(err error) bool { return !authrepo.IsOutcome(err) },
		Clock:      clk,
		Logger:     log,
	})

	app.AuthService = authservice.NewAuthService(authservice.Deps{
		Users:                   users,
		RefreshTokens:           app.RefreshTokens,
		RevokedTokens:           app.RevokedTokens,
		Codec:                   codec,
		Hasher:                  &commoncrypto.BcryptHasher{},
		IDGenerator:             idGenerator,
		Breaker:                 breaker,
		Clock:                   clk,
		MaxRefreshTokensPerUser: cfg.MaxRefreshTokensPerUser,
		MinPasswordLength:       cfg.PasswordMinLength,
		Log:                     log,
	})
	app.Guard = jwtverify.NewGuard(codec, app.RevokedTokens, log)
	app.Hub = schedulews.NewHub(log)
	app.ScheduleService = scheduleservice.NewScheduleService(schedules, app.Hub, log)
	app.Sweeper = authcleanup.NewSweeper(app.RefreshTokens, app.RevokedTokens, cfg.CleanupInterval, log)
	app.RateLimiter = commonhttp.DefaultAuthRateLimiter()

	return app, nil
}

// Handler returns the fully wrapped HTTP handler of the API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", commonhttp.HealthHandler(a.Log, a.healthChecks()))
	mux.Handle("/metrics", promhttp.Handler())

	authhttp.Register(mux, a.AuthService, a.Guard, a.Config.RequestTimeout, a.Log)
	schedulehttp.Register(mux, a.ScheduleService, a.Guard, schedulews.NewHandler(a.Hub, a.Log), a.Config.RequestTimeout, a.Log)

	limited := a.RateLimiter.Middleware("/health", "/metrics")(mux)
	return commonhttp.BuildBaseHandler(a.Log, limited)
}

func (a *App) healthChecks() map[string]commonhttp.HealthCheck {
	checks := map[string]commonhttp.HealthCheck{}
	if a.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error {
			conn, err := a.Pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer conn.Release()
			return conn.Conn().Ping(ctx)
		}
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warnf("failed to close redis client: %v", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
