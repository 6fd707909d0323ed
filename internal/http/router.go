// Package httpapi wires the HTTP transport (Gin) to the handlers and the
// request pipeline: tracing, correlation IDs, redacted logging, error
// rendering, panic recovery, metrics, CORS, security headers, rate limiting,
// response caching, and validation.
//
// Every API request travels
//
//	authenticate → authorize → rate limit → cache lookup → validate → handler
//
// with ErrorResponder rendering whatever error a stage records, and
// mutating routes invalidating the cached families they touch.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/bookshelvz-backend/docs"
	"github.com/tbourn/bookshelvz-backend/internal/cache"
	"github.com/tbourn/bookshelvz-backend/internal/config"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/http/handlers"
	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/identity"
	"github.com/tbourn/bookshelvz-backend/internal/ratelimit"
	"github.com/tbourn/bookshelvz-backend/internal/services"
	"github.com/tbourn/bookshelvz-backend/internal/validate"
)

// Cache families. A family groups the cached responses a mutation can stale.
const (
	familyBooks      = "books"
	familyCategories = "categories"
	familyReviews    = "reviews"
	familyOrders     = "orders"
)

// Limiters are the sliding-window policies applied per route group.
type Limiters struct {
	API     *ratelimit.Limiter
	Auth    *ratelimit.Limiter
	Refresh *ratelimit.Limiter
}

// NewLimiters builds the API, auth, and refresh policies from cfg. newStore
// is called once per policy so in-memory windows are never shared.
func NewLimiters(cfg config.RateLimitConfig, newStore func(policy string) ratelimit.Store, opts ...ratelimit.Option) Limiters {
	mk := func(name string, w config.Window) *ratelimit.Limiter {
		return ratelimit.NewLimiter(newStore(name), ratelimit.Policy{Name: name, Window: w.Window, Max: w.Max}, opts...)
	}
	return Limiters{
		API:     mk("api", cfg.API),
		Auth:    mk("auth", cfg.Auth),
		Refresh: mk("refresh", cfg.Refresh),
	}
}

// StartJanitors sweeps every limiter's store until ctx is done.
func (l Limiters) StartJanitors(ctx context.Context, every time.Duration) {
	for _, lim := range []*ratelimit.Limiter{l.API, l.Auth, l.Refresh} {
		lim.StartJanitor(ctx, every)
	}
}

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Handlers *handlers.Handlers
	Tokens   identity.Provider
	Profiles middleware.ProfileLoader
	// Idempotency reports prior order placements for replay detection.
	Idempotency middleware.IdempotencyLookup
	Limiters    Limiters
	// Cache stores GET responses. Nil, or a disabled cache in config, turns
	// response caching off.
	Cache cache.Store
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. gzip and Metrics: see the final, rendered response
//  5. ErrorResponder: renders errors recorded further down, panics included
//  6. Recovery
//  7. Body size limit and request timeout
//  8. CORS and security headers
//  9. Burst throttle per user/IP
//
// Route groups then add authentication, roles, the window limiters,
// idempotency, caching, and validation.
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Supabase-Key", "Apikey"},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`/pdf$`}),
	))
	r.Use(middleware.Metrics())
	r.Use(middleware.ErrorResponder(middleware.ErrorOptions{Development: cfg.IsDevelopment()}))
	r.Use(middleware.Recovery())
	r.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	if cfg.RateLimit.RPS > 0 {
		r.Use(middleware.NewThrottle(cfg.RateLimit.RPS, cfg.RateLimit.Burst, middleware.KeyByUserOrIP()).Handler())
	}

	r.NoRoute(handlers.RouteNotFound)
	r.NoMethod(handlers.MethodNotAllowed)

	h := d.Handlers
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	store := d.Cache
	if !cfg.Cache.Enabled {
		store = nil
	}
	cached := func(family string) gin.HandlerFunc { return middleware.ResponseCache(store, cfg.Cache.TTL, family) }
	invalidates := func(families ...string) gin.HandlerFunc { return middleware.InvalidateOn(store, families...) }

	v := validate.New()
	id := middleware.ValidateUUIDParam("id")
	bookID := middleware.ValidateUUIDParam("bookId")
	authOpts := middleware.AuthOptions{
		Provider:         d.Tokens,
		Profiles:         d.Profiles,
		RefreshThreshold: cfg.Auth.RefreshThreshold,
		RefreshLimiter:   d.Limiters.Refresh,
	}
	base := cfg.APIBasePath
	api := groupWithPrefix(r, base)

	// Auth: metered per IP, before any identity exists.
	auth := api.Group("/auth")
	{
		byIP := middleware.RateLimit(d.Limiters.Auth, middleware.KeyByIP())
		auth.POST("/register", byIP, middleware.ValidateBody[handlers.RegisterRequest](v), h.Register)
		auth.POST("/login", byIP, middleware.ValidateBody[handlers.LoginRequest](v), h.Login)
		auth.POST("/refresh", middleware.RateLimit(d.Limiters.Refresh, middleware.KeyByIP()),
			middleware.ValidateBody[handlers.RefreshRequest](v), h.Refresh)
	}

	apiLimit := middleware.RateLimit(d.Limiters.API, middleware.KeyByUserOrIP())

	// Public catalog: an optional principal, metered per user or IP.
	pub := api.Group("", middleware.OptionalAuth(authOpts), apiLimit)
	{
		pub.GET("/books", cached(familyBooks), middleware.ValidateQuery[handlers.BookListQuery](v), h.ListBooks)
		pub.GET("/books/:id", id, cached(familyBooks), h.GetBook)
		pub.GET("/books/:id/reviews", id, cached(familyReviews), middleware.ValidateQuery[handlers.PageQuery](v), h.ListReviews)
		pub.GET("/categories", cached(familyCategories), h.ListCategories)
		pub.GET("/categories/:id", cached(familyCategories), middleware.ValidateQuery[handlers.PageQuery](v), h.GetCategory)
	}

	// Signed-in users. Replays are metered like any other request.
	authn := middleware.Authenticate(authOpts)
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{ScopeFor: orderScope(base)}, d.Idempotency)

	user := api.Group("", authn, apiLimit, idem)
	{
		user.GET("/auth/me", h.Me)

		user.GET("/books/:id/pdf", id, h.ReadBookPDF)
		user.POST("/books/:id/reviews", id, middleware.ValidateBody[handlers.CreateReviewRequest](v),
			invalidates(familyReviews, familyBooks), h.CreateReview)
		user.DELETE("/reviews/:id", id, invalidates(familyReviews, familyBooks), h.DeleteReview)

		user.GET("/users/profile", h.GetProfile)
		user.PUT("/users/profile", middleware.ValidateBody[handlers.UpdateProfileRequest](v), h.UpdateProfile)
		user.GET("/users/preferences", h.GetPreferences)
		user.PUT("/users/preferences", middleware.ValidateBody[handlers.PreferencesRequest](v), h.UpdatePreferences)

		user.GET("/bookmarks", middleware.ValidateQuery[handlers.BookmarkListQuery](v), h.ListBookmarks)
		user.POST("/bookmarks", middleware.ValidateBody[handlers.CreateBookmarkRequest](v), h.CreateBookmark)
		user.PUT("/bookmarks/:id", id, middleware.ValidateBody[handlers.UpdateBookmarkRequest](v), h.UpdateBookmark)
		user.DELETE("/bookmarks/:id", id, h.DeleteBookmark)

		user.GET("/reading-progress", middleware.ValidateQuery[handlers.PageQuery](v), h.ListProgress)
		user.GET("/reading-progress/:bookId", bookID, h.GetProgress)
		user.PUT("/reading-progress/:bookId", bookID, middleware.ValidateBody[handlers.SaveProgressRequest](v), h.SaveProgress)

		user.GET("/wishlist", middleware.ValidateQuery[handlers.PageQuery](v), h.ListWishlist)
		user.POST("/wishlist", middleware.ValidateBody[handlers.WishlistRequest](v), h.AddToWishlist)
		user.DELETE("/wishlist/:bookId", bookID, h.RemoveFromWishlist)

		user.GET("/orders", middleware.ValidateQuery[handlers.OrderListQuery](v), h.ListOrders)
		user.GET("/orders/:id", id, h.GetOrder)
		user.POST("/orders", middleware.ValidateBody[handlers.PlaceOrderRequest](v),
			invalidates(familyBooks, familyOrders), h.PlaceOrder)
		user.DELETE("/orders/:id", id, invalidates(familyBooks, familyOrders), h.CancelOrder)
	}

	// Administration. Roles are checked before any quota is spent.
	admin := api.Group("", authn, middleware.RequireRoles(domain.RoleAdmin), apiLimit, idem)
	{
		admin.POST("/books", middleware.ValidateBody[handlers.CreateBookRequest](v),
			invalidates(familyBooks, familyCategories), h.CreateBook)
		admin.PUT("/books/:id", id, middleware.ValidateBody[handlers.UpdateBookRequest](v),
			invalidates(familyBooks, familyCategories), h.UpdateBook)
		admin.DELETE("/books/:id", id, invalidates(familyBooks, familyCategories, familyReviews), h.DeleteBook)
		admin.POST("/books/:id/pdf", id, invalidates(familyBooks), h.UploadBookPDF)

		admin.POST("/categories", middleware.ValidateBody[handlers.CreateCategoryRequest](v),
			invalidates(familyCategories), h.CreateCategory)

		admin.PATCH("/orders/:id", id, middleware.ValidateBody[handlers.UpdateOrderStatusRequest](v),
			invalidates(familyBooks, familyOrders), h.UpdateOrderStatus)

		admin.GET("/admin/stats", h.Stats)
	}
}

// orderScope names the idempotency scope of order placement; every other
// request has none.
func orderScope(base string) func(*gin.Context) string {
	path := joinPath(base, "/orders")
	return func(c *gin.Context) string {
		if c.Request.Method == http.MethodPost && c.FullPath() == path {
			return services.IdempotencyScope
		}
		return ""
	}
}

// corsMiddleware allows every origin when none are configured and otherwise
// echoes allow-listed origins. Credentials stay off in both modes.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", middleware.HeaderNewToken, middleware.HeaderCache,
			handlers.HeaderReplayed, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		return []gin.HandlerFunc{func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		}, cors.New(cc)}
	}
	cc.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(cc)}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
