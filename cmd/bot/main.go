package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/content-bot/config"
	"github.com/vnmchuo/content-bot/internal/auth"
	"github.com/vnmchuo/content-bot/internal/billing"
	"github.com/vnmchuo/content-bot/internal/cache"
	"github.com/vnmchuo/content-bot/internal/httpapi"
	"github.com/vnmchuo/content-bot/internal/images"
	"github.com/vnmchuo/content-bot/internal/imagesearch"
	"github.com/vnmchuo/content-bot/internal/imagesearch/pexels"
	"github.com/vnmchuo/content-bot/internal/imagesearch/pixabay"
	"github.com/vnmchuo/content-bot/internal/imagesearch/unsplash"
	"github.com/vnmchuo/content-bot/internal/seeder"
	"github.com/vnmchuo/content-bot/internal/subscription"
	"github.com/vnmchuo/content-bot/internal/telemetry"
	"github.com/vnmchuo/content-bot/internal/tenant"
	"github.com/vnmchuo/content-bot/internal/textgen/perplexity"
	"github.com/vnmchuo/content-bot/internal/worker"
	"github.com/vnmchuo/content-bot/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("content-bot", cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("failed to ping postgres")
	}
	zlog.Info().Msg("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatal().Err(err).Msg("failed to ping redis")
	}
	zlog.Info().Msg("Redis connected")

	// 5. Open local caches
	imageCache, err := cache.Open[[]string](cfg.CacheDir, "images", cfg.ImageCacheTTL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open image cache")
	}
	defer imageCache.Close()

	keywordCache, err := cache.Open[string](cfg.CacheDir, "keyword_data", cfg.KeywordCacheTTL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open keyword cache")
	}
	defer keywordCache.Close()

	// 6. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 7. Init services
	billingSvc := billing.NewService(
		billing.NewPostgresStore(pool),
		billing.Pricing{BasePer1K: cfg.PricePer1KTokensUSD, Overrides: cfg.PricingOverrides},
		cfg.BudgetHardLimitUSD,
		cfg.BudgetWarnLimitUSD,
	)
	subsSvc := subscription.NewService(subscription.NewPostgresStore(pool))
	tenantStore := tenant.NewPostgresStore(pool)
	tenantsSvc := tenant.NewService(tenantStore)

	// 8. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)

	// 9. Init providers and image pipeline
	imageProviders := []imagesearch.Provider{
		unsplash.New(cfg.UnsplashAccessKey, cfg.ProviderTimeout),
		pexels.New(cfg.PexelsAPIKey, cfg.ProviderTimeout),
		pixabay.New(cfg.PixabayAPIKey, cfg.ProviderTimeout),
	}
	fetcher := images.NewFetcher(imageCache, imageProviders...)

	gen := perplexity.New(cfg.PerplexityAPIKey, perplexity.Options{
		Model:       cfg.PerplexityModel,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})

	// 10. Init handler
	tracer := otel.GetTracerProvider().Tracer("content-bot")
	handler := httpapi.NewHandler(gen, fetcher, keywordCache, billingSvc, subsSvc, tenantsSvc, limiter, tracer)

	// 11. Seed dev fixtures if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
		seeder.SeedTestChannel(ctx, tenantStore)
	}

	// 12. Background sweeper
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()

	sweeper := worker.NewSweeper(cfg.SweepInterval, subsSvc)
	sweeper.AddCache("images", imageCache)
	sweeper.AddCache("keyword_data", keywordCache)
	go sweeper.Run(sweepCtx)

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"content-bot"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/posts", handler.HandleCreatePost)
		r.Get("/v1/images", handler.HandleImages)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/budget", handler.HandleBudget)
		r.Post("/v1/subscriptions/activate", handler.HandleActivateSubscription)
		r.Get("/v1/subscriptions/status", handler.HandleSubscriptionStatus)
		r.Post("/v1/channels", handler.HandleAddChannel)
		r.Get("/v1/channels", handler.HandleListChannels)
		r.Post("/v1/admin/users/{id}/role", handler.HandleSetRole)
		r.Post("/v1/admin/users/{id}/status", handler.HandleSetStatus)
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("content-bot starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	zlog.Info().Msg("shutting down gracefully")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("forced shutdown")
	}
	zlog.Info().Msg("server stopped")
}
