// Command server runs the BookShelvz API.
//
// @title                       BookShelvz API
// @version                     1.0
// @description                 Book catalog, reading features, and order placement for the BookShelvz reader apps.
// @BasePath                    /api
// @schemes                     http https
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 "Bearer <access token>"
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/cache"
	"github.com/tbourn/bookshelvz-backend/internal/config"
	httpapi "github.com/tbourn/bookshelvz-backend/internal/http"
	"github.com/tbourn/bookshelvz-backend/internal/http/handlers"
	"github.com/tbourn/bookshelvz-backend/internal/identity"
	"github.com/tbourn/bookshelvz-backend/internal/observability"
	"github.com/tbourn/bookshelvz-backend/internal/ratelimit"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/services"
	"github.com/tbourn/bookshelvz-backend/internal/storage"
	"github.com/tbourn/bookshelvz-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet; the default writes JSON to stderr.
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, cfg.Env, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	limiterStore, cacheStore, closeStores := openStores(cfg.Store)
	limiters := httpapi.NewLimiters(cfg.RateLimit, limiterStore)
	limiters.StartJanitors(ctx, time.Minute)
	// Redis expires entries itself.
	if mem, ok := cacheStore.(*cache.MemoryStore); ok {
		mem.StartJanitor(ctx, time.Minute)
	}

	tokens, err := identity.NewJWTProvider(identity.JWTOptions{
		Secret:     cfg.Supabase.SigningSecret(),
		Issuer:     cfg.Supabase.TokenIssuer(),
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("token provider setup failed")
	}

	bucket, err := storage.NewDirBucket(filepath.Clean(cfg.Storage.Dir))
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Storage.Dir).Msg("storage setup failed")
	}

	users := &services.UserService{DB: db}
	orders := &services.OrderService{
		DB: db,
		Contacts: services.CheckoutContacts{
			WhatsAppNumber: cfg.Orders.WhatsAppNumber,
			TelegramHandle: cfg.Orders.TelegramHandle,
			Email:          cfg.Orders.Email,
		},
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	h := handlers.New(handlers.Services{
		Auth:       services.NewAuthService(db, tokens),
		Books:      &services.BookService{DB: db, Bucket: bucket, MaxPDFBytes: cfg.Storage.MaxPDFBytes},
		Categories: &services.CategoryService{DB: db, Locale: language.English},
		Users:      users,
		Library:    &services.LibraryService{DB: db},
		Reviews:    &services.ReviewService{DB: db},
		Orders:     orders,
		Admin:      &services.AdminService{DB: db},
	}, handlers.Options{
		Ping:           func(ctx context.Context) error { return repo.Ping(ctx, db) },
		MaxUploadBytes: cfg.Storage.MaxPDFBytes + 1<<20,
	})

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		Handlers:    h,
		Tokens:      tokens,
		Profiles:    users,
		Idempotency: orders.HasIdempotencyRecord,
		Limiters:    limiters,
		Cache:       cacheStore,
	})

	go purgeIdempotency(ctx, db, time.Hour)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("version", ver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	closeStores()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
}

// openStores returns the limiter store factory and the response cache for
// the configured backend. Redis shares windows and cached responses across
// instances; memory keeps them per process.
func openStores(cfg config.StoreConfig) (func(string) ratelimit.Store, cache.Store, func()) {
	if cfg.Backend != config.StoreRedis {
		newStore := func(string) ratelimit.Store { return ratelimit.NewMemoryStore() }
		return newStore, cache.NewMemoryStore(cache.WithMaxEntries(10_000)), func() {}
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	newStore := func(string) ratelimit.Store {
		return ratelimit.NewRedisStore(client, "bookshelvz:rl:")
	}
	closer := func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	return newStore, cache.NewRedisStore(client, "bookshelvz:cache:"), closer
}

// purgeIdempotency deletes expired idempotency records every interval.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("idempotency purge")
			}
		}
	}
}
