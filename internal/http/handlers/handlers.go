package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/services"
	"github.com/tbourn/bookshelvz-backend/internal/storage"
)

const defaultMaxUpload = 51 << 20

//
// Service contracts (context-aware)
//

// AuthService defines sign-up, sign-in, and token refresh.
type AuthService interface {
	Register(ctx context.Context, email, password, fullName string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
}

// BookService defines catalog reads, admin writes, and PDF access.
type BookService interface {
	List(ctx context.Context, f repo.BookFilter, page, limit int) ([]domain.Book, int64, error)
	Get(ctx context.Context, id string) (*domain.Book, error)
	Create(ctx context.Context, in services.BookInput) (*domain.Book, error)
	Update(ctx context.Context, id string, p services.BookPatch) (*domain.Book, error)
	Delete(ctx context.Context, id string) error
	UploadPDF(ctx context.Context, id string, r io.Reader, size int64) (*domain.Book, error)
	OpenPDF(ctx context.Context, p *domain.Principal, id string) (*storage.Object, *domain.Book, error)
}

// CategoryService defines category reads and creation.
type CategoryService interface {
	List(ctx context.Context) ([]repo.CategoryWithCount, error)
	Get(ctx context.Context, idOrSlug string, page, limit int) (*services.CategoryPage, error)
	Create(ctx context.Context, name, description string) (*domain.Category, error)
}

// UserService defines profile and preference operations for the caller.
type UserService interface {
	Profile(ctx context.Context, pr *domain.Principal) (*domain.UserProfile, error)
	UpdateProfile(ctx context.Context, pr *domain.Principal, p services.ProfilePatch) (*domain.UserProfile, error)
	Preferences(ctx context.Context, pr *domain.Principal) (map[string]any, error)
	UpdatePreferences(ctx context.Context, pr *domain.Principal, patch map[string]any) (map[string]any, error)
}

// LibraryService defines bookmarks, reading progress, and wishlist operations.
// Every call is scoped to the caller's user id.
type LibraryService interface {
	Bookmarks(ctx context.Context, userID, bookID string, page, limit int) ([]domain.Bookmark, int64, error)
	AddBookmark(ctx context.Context, userID string, in services.BookmarkInput) (*domain.Bookmark, error)
	UpdateBookmark(ctx context.Context, userID, id string, p services.BookmarkPatch) (*domain.Bookmark, error)
	DeleteBookmark(ctx context.Context, userID, id string) error

	Progress(ctx context.Context, userID string, page, limit int) ([]domain.ReadingProgress, int64, error)
	BookProgress(ctx context.Context, userID, bookID string) (*domain.ReadingProgress, error)
	SaveProgress(ctx context.Context, userID, bookID string, currentPage, totalPages int) (*domain.ReadingProgress, error)

	Wishlist(ctx context.Context, userID string, page, limit int) ([]domain.Wishlist, int64, error)
	AddToWishlist(ctx context.Context, userID, bookID string) (*domain.Wishlist, error)
	RemoveFromWishlist(ctx context.Context, userID, bookID string) error
}

// ReviewService defines review listing and moderation.
type ReviewService interface {
	List(ctx context.Context, bookID string, page, limit int) ([]domain.Review, int64, error)
	Create(ctx context.Context, userID, bookID string, rating int, comment string) (*domain.Review, error)
	Delete(ctx context.Context, p *domain.Principal, id string) error
}

// OrderService defines order placement and lifecycle.
type OrderService interface {
	Place(ctx context.Context, userID string, in services.PlaceOrder) (*services.Placement, error)
	Get(ctx context.Context, p *domain.Principal, id string) (*domain.Order, error)
	List(ctx context.Context, p *domain.Principal, status string, page, limit int) ([]domain.Order, int64, error)
	UpdateStatus(ctx context.Context, id, to string) (*domain.Order, error)
	Cancel(ctx context.Context, p *domain.Principal, id string) (*domain.Order, error)
}

// AdminService defines the dashboard aggregate.
type AdminService interface {
	Stats(ctx context.Context) (*repo.Stats, error)
}

//
// Handler wiring
//

// Services bundles the use-case implementations the handlers call.
type Services struct {
	Auth       AuthService
	Books      BookService
	Categories CategoryService
	Users      UserService
	Library    LibraryService
	Reviews    ReviewService
	Orders     OrderService
	Admin      AdminService
}

// Handlers groups every HTTP endpoint. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	auth       AuthService
	books      BookService
	categories CategoryService
	users      UserService
	library    LibraryService
	reviews    ReviewService
	orders     OrderService
	admin      AdminService

	ping      func(context.Context) error
	maxUpload int64
	started   time.Time
	now       func() time.Time
}

// Options tunes the handlers that are not pure service calls.
type Options struct {
	// Ping reports data platform connectivity for /health. Nil means
	// always connected.
	Ping func(context.Context) error
	// MaxUploadBytes caps multipart PDF uploads (file plus form overhead).
	MaxUploadBytes int64
}

// New constructs a Handlers instance bound to the given services.
func New(s Services, opts Options) *Handlers {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handlers{
		auth:       s.Auth,
		books:      s.Books,
		categories: s.Categories,
		users:      s.Users,
		library:    s.Library,
		reviews:    s.Reviews,
		orders:     s.Orders,
		admin:      s.Admin,
		ping:       opts.Ping,
		maxUpload:  maxUpload,
		started:    time.Now(),
		now:        time.Now,
	}
}

// principal returns the authenticated caller. Routes that need one sit behind
// the Authenticate middleware, so a nil result only happens on public routes.
func principal(c *gin.Context) *domain.Principal {
	return middleware.PrincipalFrom(c)
}

// PageQuery is the pagination part of list query strings.
type PageQuery struct {
	Page  int `form:"page,default=1"   validate:"gte=1"         example:"1"`
	Limit int `form:"limit,default=20" validate:"gte=1,lte=100" example:"20"`
}
