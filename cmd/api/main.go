package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"atelier-api/internal/artifacts"
	"atelier-api/internal/credentials"
	"atelier-api/internal/delivery"
	"atelier-api/internal/generation"
	"atelier-api/internal/middleware"
	"atelier-api/internal/pipeline"
	"atelier-api/internal/ratelimit"
	"atelier-api/internal/routers"
	"atelier-api/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	apiKeys := flag.String("api-keys", "", "Upstream API keys, comma separated")
	apiBase := flag.String("api-base", "https://api.openai.com", "Upstream API base URL")
	modelName := flag.String("model-name", "gpt-image-1", "Image model to request")
	maxRetryAttempts := flag.Int("max-retry-attempts", shared.DefaultMaxRetryAttempts, "Max generation attempts per request")
	requestTimeout := flag.Duration("request-timeout", shared.DefaultGenerationTimeout, "Per attempt upstream timeout")

	napAddress := flag.String("nap-server-address", "", "NAP companion host, empty or localhost for local delivery")
	napPort := flag.Int("nap-server-port", 3658, "NAP companion port")
	deliveryFallback := flag.Bool("delivery-fallback-local", true, "Report the local artifact when remote delivery fails")

	artifactRoot := flag.String("artifact-root", "data/images", "Artifact directory")
	artifactRetention := flag.Duration("artifact-retention", shared.DefaultArtifactRetention, "Artifact retention window")

	rateLimitMaxCalls := flag.Int("rate-limit-max-calls", 0, "Admitted calls per group per period, 0 disables")
	rateLimitPeriod := flag.Duration("rate-limit-period", shared.DefaultRateLimitPeriod, "Rate limit window")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for multi host rate limiting, empty for in-process")

	serviceKeys := flag.String("service-api-keys", "", "Keys callers use against this service, comma separated")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	listen := flag.String("listen", ":80", "Listen address")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	pool, err := credentials.NewPool(shared.SplitList(*apiKeys))
	if err != nil {
		panic(fmt.Sprintf("failed initializing credential pool: %s", err))
	}

	// Redis is optional: with it the rate window is shared between hosts,
	// without it each process keeps its own
	limitCfg := ratelimit.Config{MaxCalls: *rateLimitMaxCalls, Period: *rateLimitPeriod}
	var limiter ratelimit.Limiter = ratelimit.NewMemory(limitCfg, log)
	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		limiter = ratelimit.NewRedis(limitCfg, redisClient, log)
		log.Infow("Using redis backed rate limiting", "addr", *redisAddr)
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	store := artifacts.NewStore(*artifactRoot, log)
	pipe := pipeline.New(
		pipeline.Config{
			Model:         *modelName,
			BaseURL:       *apiBase,
			Retry:         generation.DefaultRetryPolicy(*maxRetryAttempts),
			Retention:     *artifactRetention,
			FallbackLocal: *deliveryFallback,
		},
		limiter,
		generation.NewClient(pool, *requestTimeout, log),
		store,
		delivery.NewTransport(shared.DefaultDeliveryTimeout, log),
		log,
	)

	e := echo.New()
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	err = routers.RegisterImageRoutes(base, routers.ImageRouterConfig{
		Pipeline:    pipe,
		NapAddress:  *napAddress,
		NapPort:     *napPort,
		ServiceKeys: shared.SplitList(*serviceKeys),
	}, log)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := e.Start(*listen); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}
	// One last sweep so a clean restart does not inherit expired artifacts
	store.Reap(*artifactRetention)
	_ = log.Sync()
}
