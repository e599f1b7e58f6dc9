package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uniedit/paygate/internal/infra/httpclient"
	"github.com/uniedit/paygate/internal/module/payment"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"github.com/uniedit/paygate/internal/shared/cache"
	"github.com/uniedit/paygate/internal/shared/config"
	"github.com/uniedit/paygate/internal/shared/database"
	"github.com/uniedit/paygate/internal/utils/metrics"
	"github.com/uniedit/paygate/internal/utils/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// App represents the application.
type App struct {
	config   *config.Config
	db       *gorm.DB
	redis    redis.UniversalClient
	router   *gin.Engine
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	payment *payment.Module
}

// New creates a new application instance. Redis is optional: when it is not
// configured or unreachable, idempotency replay is off and rate limits and
// provider tokens are kept per instance.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{config: cfg, logger: log}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.db = db

	if cfg.Database.AutoMigrate {
		if err := payment.AutoMigrate(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", zap.Error(err))
		} else {
			a.redis = client
		}
	}

	if err := a.assemble(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// assemble builds everything that sits on top of the database and Redis
// connections: metrics, the payment module and the router.
func (a *App) assemble() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.config.Metrics.Namespace, a.registry)

	var tokens provider.TokenStore
	if a.redis != nil {
		tokens = cache.NewTokenStore(a.redis)
	}
	var err error
	a.payment, err = payment.NewModule(&payment.ModuleConfig{
		Config:     a.config,
		DB:         a.db,
		HTTPClient: httpclient.New(a.config.HTTPClient),
		Tokens:     tokens,
		Metrics:    a.metrics,
		Logger:     a.logger.Named("payment"),
	})
	if err != nil {
		return fmt.Errorf("init payment module: %w", err)
	}

	a.router = a.setupRouter()
	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Server.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	if a.config.Metrics.Enabled {
		r.Use(middleware.Metrics(a.metrics))
	}
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(a.config.Server.AllowedOrigins...)))

	r.GET("/health", a.health)
	if a.config.Metrics.Enabled {
		path := a.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})))
	}

	a.payment.RegisterRoutes(r.Group("/api/v1"), r.Group("/webhooks"), a.routeOptions())
	return r
}

func (a *App) routeOptions() payment.RouteOptions {
	validator := middleware.NewHS256Validator(a.config.Auth.JWTSecret, a.config.Auth.Issuer)
	opts := payment.RouteOptions{Auth: middleware.RequireAuth(validator)}

	if a.redis != nil {
		opts.Idempotency = middleware.Idempotency(a.redis, middleware.IdempotencyConfig{
			TTL:      a.config.Redis.IdempotencyTTL,
			Recorder: a.metrics,
			Logger:   a.logger,
		})
	}

	if rl := a.config.RateLimit; rl.Enabled {
		var limiter middleware.Limiter = middleware.NewLocalLimiter(0)
		if a.redis != nil {
			limiter = cache.NewRateLimiter(a.redis)
		}
		opts.RateLimit = middleware.RateLimit(limiter, middleware.RateLimitConfig{
			Limit:  rl.Limit,
			Window: rl.Window,
			Logger: a.logger,
		})
	}
	return opts
}

func (a *App) health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"database": "ok"}

	if err := database.Ping(a.db); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = "unavailable"
	}
	if a.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable"
		} else {
			checks["redis"] = "ok"
		}
	}

	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"checks":   checks,
		"gateways": a.payment.Registry().Configured(),
	})
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Run serves HTTP and runs the background workers until ctx is canceled, then
// shuts the server down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.config.Server.Address,
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		timeout := a.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		a.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	for name, run := range a.payment.Workers() {
		name, run := name, run
		g.Go(func() error {
			a.logger.Info("starting worker", zap.String("worker", name))
			if err := run(ctx); err != nil {
				return fmt.Errorf("%s worker: %w", name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Close releases connections. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.redis != nil {
		if err := cache.Close(a.redis); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}
