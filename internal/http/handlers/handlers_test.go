package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/identity"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/services"
	"github.com/tbourn/bookshelvz-backend/internal/storage"
	"github.com/tbourn/bookshelvz-backend/internal/validate"
)

// fixture is a handler stack over a private in-memory database, with real
// services and a real token provider.
type fixture struct {
	t      *testing.T
	db     *gorm.DB
	r      *gin.Engine
	tokens *identity.JWTProvider
	h      *Handlers
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite("file:handlers_" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T, ping func(context.Context) error) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	tokens, err := identity.NewJWTProvider(identity.JWTOptions{Secret: []byte("handlers-secret"), AccessTTL: time.Hour})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	bucket, err := storage.NewDirBucket(t.TempDir())
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}

	auth := services.NewAuthService(db, tokens)
	auth.Cost = bcrypt.MinCost
	users := &services.UserService{DB: db}
	orders := &services.OrderService{
		DB:       db,
		Contacts: services.CheckoutContacts{WhatsAppNumber: "15550100000", TelegramHandle: "bookshelvz", Email: "orders@example.com"},
	}
	h := New(Services{
		Auth:       auth,
		Books:      &services.BookService{DB: db, Bucket: bucket, MaxPDFBytes: 1 << 20},
		Categories: &services.CategoryService{DB: db},
		Users:      users,
		Library:    &services.LibraryService{DB: db},
		Reviews:    &services.ReviewService{DB: db},
		Orders:     orders,
		Admin:      &services.AdminService{DB: db},
	}, Options{Ping: ping, MaxUploadBytes: 2 << 20})

	v := validate.New()
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID(), middleware.ErrorResponder(middleware.ErrorOptions{}))
	r.NoRoute(RouteNotFound)
	r.NoMethod(MethodNotAllowed)

	authOpts := middleware.AuthOptions{Provider: tokens, Profiles: users}
	admin := middleware.RequireRoles(domain.RoleAdmin)
	id := middleware.ValidateUUIDParam("id")

	r.GET("/health", h.Health)
	r.POST("/auth/register", middleware.ValidateBody[RegisterRequest](v), h.Register)
	r.POST("/auth/login", middleware.ValidateBody[LoginRequest](v), h.Login)
	r.POST("/auth/refresh", middleware.ValidateBody[RefreshRequest](v), h.Refresh)

	pub := r.Group("", middleware.OptionalAuth(authOpts))
	pub.GET("/books", middleware.ValidateQuery[BookListQuery](v), h.ListBooks)
	pub.GET("/books/:id", id, h.GetBook)
	pub.GET("/books/:id/reviews", id, middleware.ValidateQuery[PageQuery](v), h.ListReviews)
	pub.GET("/categories", h.ListCategories)
	pub.GET("/categories/:id", middleware.ValidateQuery[PageQuery](v), h.GetCategory)

	p := r.Group("", middleware.Authenticate(authOpts))
	p.GET("/auth/me", h.Me)
	p.GET("/books/:id/pdf", id, h.ReadBookPDF)
	p.POST("/books/:id/reviews", id, middleware.ValidateBody[CreateReviewRequest](v), h.CreateReview)
	p.DELETE("/reviews/:id", id, h.DeleteReview)
	p.GET("/users/profile", h.GetProfile)
	p.PUT("/users/profile", middleware.ValidateBody[UpdateProfileRequest](v), h.UpdateProfile)
	p.GET("/users/preferences", h.GetPreferences)
	p.PUT("/users/preferences", middleware.ValidateBody[PreferencesRequest](v), h.UpdatePreferences)
	p.GET("/bookmarks", middleware.ValidateQuery[BookmarkListQuery](v), h.ListBookmarks)
	p.POST("/bookmarks", middleware.ValidateBody[CreateBookmarkRequest](v), h.CreateBookmark)
	p.PUT("/bookmarks/:id", id, middleware.ValidateBody[UpdateBookmarkRequest](v), h.UpdateBookmark)
	p.DELETE("/bookmarks/:id", id, h.DeleteBookmark)
	p.GET("/reading-progress", middleware.ValidateQuery[PageQuery](v), h.ListProgress)
	p.GET("/reading-progress/:bookId", middleware.ValidateUUIDParam("bookId"), h.GetProgress)
	p.PUT("/reading-progress/:bookId", middleware.ValidateUUIDParam("bookId"), middleware.ValidateBody[SaveProgressRequest](v), h.SaveProgress)
	p.GET("/wishlist", middleware.ValidateQuery[PageQuery](v), h.ListWishlist)
	p.POST("/wishlist", middleware.ValidateBody[WishlistRequest](v), h.AddToWishlist)
	p.DELETE("/wishlist/:bookId", middleware.ValidateUUIDParam("bookId"), h.RemoveFromWishlist)

	o := p.Group("/orders", middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		ScopeFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost {
				return services.IdempotencyScope
			}
			return ""
		},
	}, orders.HasIdempotencyRecord))
	o.POST("", middleware.ValidateBody[PlaceOrderRequest](v), h.PlaceOrder)
	o.GET("", middleware.ValidateQuery[OrderListQuery](v), h.ListOrders)
	o.GET("/:id", id, h.GetOrder)
	o.DELETE("/:id", id, h.CancelOrder)

	a := p.Group("", admin)
	a.POST("/books", middleware.ValidateBody[CreateBookRequest](v), h.CreateBook)
	a.PUT("/books/:id", id, middleware.ValidateBody[UpdateBookRequest](v), h.UpdateBook)
	a.DELETE("/books/:id", id, h.DeleteBook)
	a.POST("/books/:id/pdf", id, h.UploadBookPDF)
	a.POST("/categories", middleware.ValidateBody[CreateCategoryRequest](v), h.CreateCategory)
	a.PATCH("/orders/:id", id, middleware.ValidateBody[UpdateOrderStatusRequest](v), h.UpdateOrderStatus)
	a.GET("/admin/stats", h.Stats)

	return &fixture{t: t, db: db, r: r, tokens: tokens, h: h}
}

// token mints an access token. Callers without a stored profile keep the
// role from the token.
func (f *fixture) token(id string, role domain.Role) string {
	f.t.Helper()
	pair, err := f.tokens.Issue(context.Background(), identity.Identity{ID: id, Email: id + "@example.com", Role: string(role)})
	if err != nil {
		f.t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (f *fixture) do(method, target, token string, body any, hdr ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func (f *fixture) createBook(title string, price int64, stock int) domain.Book {
	f.t.Helper()
	w := f.do(http.MethodPost, "/books", f.token("root", domain.RoleAdmin), map[string]any{
		"title": title, "author": "Frank Herbert", "price": price, "stock": stock, "page_count": 400,
	})
	if w.Code != http.StatusCreated {
		f.t.Fatalf("create book: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.Book](f.t, w)
}

func TestBooks_CreateListGetUpdateDelete(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.token("root", domain.RoleAdmin)

	w := f.do(http.MethodPost, "/books", admin, map[string]any{"title": "   ", "author": "X"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank title: %d", w.Code)
	}
	er := decode[ErrorResponse](t, w)
	if len(er.Errors) != 1 || er.Errors[0].Field != "title" {
		t.Fatalf("expected title field error, got %+v", er)
	}

	w = f.do(http.MethodPost, "/books", f.token("u1", domain.RoleUser), map[string]any{"title": "Dune", "author": "Frank Herbert"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin create: %d", w.Code)
	}

	w = f.do(http.MethodPost, "/books", admin, map[string]any{"title": "Dune", "author": "Frank Herbert", "price": 1299, "stock": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	dune := decode[domain.Book](t, w)
	if loc := w.Header().Get("Location"); loc != "/books/"+dune.ID {
		t.Fatalf("Location = %q", loc)
	}
	f.createBook("Emma", 500, 0)

	w = f.do(http.MethodGet, "/books?search=dun&limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	lr := decode[ListResponse[domain.Book]](t, w)
	if len(lr.Data) != 1 || lr.Data[0].ID != dune.ID || lr.Pagination.Total != 1 || lr.Pagination.Limit != 5 {
		t.Fatalf("search list: %+v", lr)
	}

	lr = decode[ListResponse[domain.Book]](t, f.do(http.MethodGet, "/books?in_stock=true", "", nil))
	if len(lr.Data) != 1 || lr.Data[0].Title != "Dune" {
		t.Fatalf("in_stock list: %+v", lr.Data)
	}

	w = f.do(http.MethodGet, "/books?min_price=2000&max_price=100", "", nil)
	er = decode[ErrorResponse](t, w)
	if w.Code != http.StatusBadRequest || len(er.Errors) != 1 || er.Errors[0].Field != "max_price" {
		t.Fatalf("inverted price range: %d %+v", w.Code, er)
	}
	if w := f.do(http.MethodGet, "/books?sort=isbn", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad sort: %d", w.Code)
	}

	if w := f.do(http.MethodGet, "/books/not-a-uuid", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/books/"+uuid.NewString(), "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: %d", w.Code)
	}

	w = f.do(http.MethodPut, "/books/"+dune.ID, admin, map[string]any{"price": 1499})
	got := decode[domain.Book](t, w)
	if w.Code != http.StatusOK || got.Price != 1499 || got.Title != "Dune" {
		t.Fatalf("update: %d %+v", w.Code, got)
	}
	if w := f.do(http.MethodPut, "/books/"+dune.ID, admin, map[string]any{"title": " "}); w.Code != http.StatusBadRequest {
		t.Fatalf("blank title update: %d", w.Code)
	}

	if w := f.do(http.MethodDelete, "/books/"+dune.ID, admin, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/books/"+dune.ID, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("deleted book still served: %d", w.Code)
	}
}

func multipartPDF(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "book.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestBooks_PDFUploadAndRead(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.token("root", domain.RoleAdmin)
	b := f.createBook("Dune", 1299, 5)
	pdf := []byte("%PDF-1.7\nchapter one")

	upload := func(field string, data []byte) *httptest.ResponseRecorder {
		body, ct := multipartPDF(t, field, data)
		req := httptest.NewRequest(http.MethodPost, "/books/"+b.ID+"/pdf", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer "+admin)
		w := httptest.NewRecorder()
		f.r.ServeHTTP(w, req)
		return w
	}

	w := upload("attachment", pdf)
	er := decode[ErrorResponse](t, w)
	if w.Code != http.StatusBadRequest || len(er.Errors) != 1 || er.Errors[0].Field != "file" {
		t.Fatalf("missing file: %d %+v", w.Code, er)
	}
	if w := upload("file", []byte("plain text")); w.Code != http.StatusBadRequest {
		t.Fatalf("non-pdf: %d", w.Code)
	}
	if w := upload("file", bytes.Repeat([]byte("x"), 3<<20)); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize: %d", w.Code)
	}

	w = upload("file", pdf)
	if w.Code != http.StatusOK || !decode[domain.Book](t, w).HasPDF {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}

	reader := f.token("u1", domain.RoleUser)
	if w := f.do(http.MethodGet, "/books/"+b.ID+"/pdf", reader, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-buyer read: %d", w.Code)
	}

	w = f.do(http.MethodGet, "/books/"+b.ID+"/pdf", admin, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/pdf" || !bytes.Equal(w.Body.Bytes(), pdf) {
		t.Fatalf("admin read: %d %q %q", w.Code, w.Header().Get("Content-Type"), w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	w = f.do(http.MethodGet, "/books/"+b.ID+"/pdf", admin, nil, "Range", "bytes=0-3")
	if w.Code != http.StatusPartialContent || w.Body.String() != "%PDF" {
		t.Fatalf("range read: %d %q", w.Code, w.Body.String())
	}
}

func TestOrders_PlaceReplayAndLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	b := f.createBook("Dune", 1299, 5)
	buyer := f.token("u1", domain.RoleUser)
	admin := f.token("root", domain.RoleAdmin)

	body := map[string]any{
		"items":          []map[string]any{{"book_id": b.ID, "quantity": 2}},
		"contact_method": "WhatsApp",
	}
	w := f.do(http.MethodPost, "/orders", buyer, body, middleware.HeaderIdempotencyKey, "order-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", w.Code, w.Body.String())
	}
	pl := decode[services.Placement](t, w)
	if pl.Order == nil || pl.Order.Total != 2598 || !strings.HasPrefix(pl.CheckoutURL, "https://wa.me/15550100000") {
		t.Fatalf("placement: %+v", pl)
	}
	if w.Header().Get("Location") != "/orders/"+pl.Order.ID {
		t.Fatalf("Location = %q", w.Header().Get("Location"))
	}

	w = f.do(http.MethodPost, "/orders", buyer, body, middleware.HeaderIdempotencyKey, "order-1")
	if w.Code != http.StatusOK || w.Header().Get(HeaderReplayed) != "true" {
		t.Fatalf("replay: %d replayed=%q", w.Code, w.Header().Get(HeaderReplayed))
	}
	if again := decode[services.Placement](t, w); again.Order.ID != pl.Order.ID {
		t.Fatalf("replay returned a different order: %s vs %s", again.Order.ID, pl.Order.ID)
	}
	if got, _ := repo.GetBook(context.Background(), f.db, b.ID); got.Stock != 3 {
		t.Fatalf("stock after replay = %d, want 3", got.Stock)
	}

	var before int64
	f.db.Model(&domain.Order{}).Count(&before)
	w = f.do(http.MethodPost, "/orders", buyer, map[string]any{
		"items":          []map[string]any{{"book_id": b.ID, "quantity": 1}, {"book_id": uuid.NewString(), "quantity": 1}},
		"contact_method": "email",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown book: %d %s", w.Code, w.Body.String())
	}
	var after int64
	f.db.Model(&domain.Order{}).Count(&after)
	if after != before {
		t.Fatalf("rejected order persisted: %d -> %d", before, after)
	}

	if w := f.do(http.MethodPost, "/orders", buyer, map[string]any{"items": []any{}, "contact_method": "email"}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty items: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/orders", buyer, body, middleware.HeaderIdempotencyKey, "bad key!"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad idempotency key: %d", w.Code)
	}

	other := f.token("u2", domain.RoleUser)
	if w := f.do(http.MethodGet, "/orders/"+pl.Order.ID, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign order visible: %d", w.Code)
	}
	lr := decode[ListResponse[domain.Order]](t, f.do(http.MethodGet, "/orders?status=pending", buyer, nil))
	if lr.Pagination.Total != 1 {
		t.Fatalf("own orders: %+v", lr.Pagination)
	}

	if w := f.do(http.MethodPatch, "/orders/"+pl.Order.ID, buyer, map[string]any{"status": "confirmed"}); w.Code != http.StatusForbidden {
		t.Fatalf("user status change: %d", w.Code)
	}
	w = f.do(http.MethodPatch, "/orders/"+pl.Order.ID, admin, map[string]any{"status": "Confirmed"})
	if w.Code != http.StatusOK || decode[domain.Order](t, w).Status != domain.OrderConfirmed {
		t.Fatalf("confirm: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodDelete, "/orders/"+pl.Order.ID, buyer, nil); w.Code != http.StatusConflict {
		t.Fatalf("owner cancel of confirmed order: %d", w.Code)
	}
	w = f.do(http.MethodDelete, "/orders/"+pl.Order.ID, admin, nil)
	if w.Code != http.StatusOK || decode[domain.Order](t, w).Status != domain.OrderCancelled {
		t.Fatalf("admin cancel: %d %s", w.Code, w.Body.String())
	}
	if got, _ := repo.GetBook(context.Background(), f.db, b.ID); got.Stock != 5 {
		t.Fatalf("stock after cancel = %d, want 5", got.Stock)
	}
}

func TestLibrary_BookmarksProgressWishlist(t *testing.T) {
	f := newFixture(t, nil)
	b := f.createBook("Dune", 1299, 5)
	u := f.token("u1", domain.RoleUser)

	w := f.do(http.MethodPost, "/bookmarks", u, map[string]any{"book_id": b.ID, "page": 42, "title": " Fear "})
	if w.Code != http.StatusCreated {
		t.Fatalf("bookmark: %d %s", w.Code, w.Body.String())
	}
	bm := decode[domain.Bookmark](t, w)
	if bm.Title != "Fear" || bm.UserID != "u1" {
		t.Fatalf("bookmark body: %+v", bm)
	}
	if w := f.do(http.MethodPost, "/bookmarks", u, map[string]any{"book_id": b.ID, "page": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("page 0: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/bookmarks", u, map[string]any{"book_id": uuid.NewString(), "page": 1}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown book: %d", w.Code)
	}

	w = f.do(http.MethodPut, "/bookmarks/"+bm.ID, u, map[string]any{"page": 43})
	if w.Code != http.StatusOK || decode[domain.Bookmark](t, w).Page != 43 {
		t.Fatalf("update bookmark: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodDelete, "/bookmarks/"+bm.ID, f.token("u2", domain.RoleUser), nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign bookmark delete: %d", w.Code)
	}
	lr := decode[ListResponse[domain.Bookmark]](t, f.do(http.MethodGet, "/bookmarks?book_id="+b.ID, u, nil))
	if lr.Pagination.Total != 1 {
		t.Fatalf("bookmarks: %+v", lr)
	}
	if w := f.do(http.MethodDelete, "/bookmarks/"+bm.ID, u, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete bookmark: %d", w.Code)
	}

	if w := f.do(http.MethodGet, "/reading-progress/"+b.ID, u, nil); w.Code != http.StatusNotFound {
		t.Fatalf("progress before save: %d", w.Code)
	}
	w = f.do(http.MethodPut, "/reading-progress/"+b.ID, u, map[string]any{"current_page": 100})
	pr := decode[domain.ReadingProgress](t, w)
	if w.Code != http.StatusOK || pr.TotalPages != 400 || pr.Percentage != 25 {
		t.Fatalf("save progress: %d %+v", w.Code, pr)
	}
	w = f.do(http.MethodPut, "/reading-progress/"+b.ID, u, map[string]any{"current_page": 150, "total_pages": 200})
	if pr := decode[domain.ReadingProgress](t, w); pr.Percentage != 75 {
		t.Fatalf("upsert progress: %+v", pr)
	}
	if lr := decode[ListResponse[domain.ReadingProgress]](t, f.do(http.MethodGet, "/reading-progress", u, nil)); lr.Pagination.Total != 1 {
		t.Fatalf("progress list: %+v", lr.Pagination)
	}

	if w := f.do(http.MethodPost, "/wishlist", u, map[string]any{"book_id": b.ID}); w.Code != http.StatusCreated {
		t.Fatalf("wishlist add: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/wishlist", u, map[string]any{"book_id": b.ID}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate wishlist: %d", w.Code)
	}
	if lr := decode[ListResponse[domain.Wishlist]](t, f.do(http.MethodGet, "/wishlist", u, nil)); lr.Pagination.Total != 1 {
		t.Fatalf("wishlist list: %+v", lr.Pagination)
	}
	if w := f.do(http.MethodDelete, "/wishlist/"+b.ID, u, nil); w.Code != http.StatusNoContent {
		t.Fatalf("wishlist remove: %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/wishlist/"+b.ID, u, nil); w.Code != http.StatusNotFound {
		t.Fatalf("wishlist remove twice: %d", w.Code)
	}
}

func TestReviewsAndCategories(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.token("root", domain.RoleAdmin)
	b := f.createBook("Dune", 1299, 5)
	u1 := f.token("u1", domain.RoleUser)

	w := f.do(http.MethodPost, "/books/"+b.ID+"/reviews", u1, map[string]any{"rating": 6})
	if er := decode[ErrorResponse](t, w); w.Code != http.StatusBadRequest || er.Errors[0].Field != "rating" {
		t.Fatalf("rating 6: %d %+v", w.Code, er)
	}
	w = f.do(http.MethodPost, "/books/"+b.ID+"/reviews", u1, map[string]any{"rating": 4, "comment": "Spice."})
	if w.Code != http.StatusCreated {
		t.Fatalf("review: %d %s", w.Code, w.Body.String())
	}
	rv := decode[domain.Review](t, w)
	if w := f.do(http.MethodPost, "/books/"+b.ID+"/reviews", u1, map[string]any{"rating": 5}); w.Code != http.StatusConflict {
		t.Fatalf("second review: %d", w.Code)
	}
	if got := decode[domain.Book](t, f.do(http.MethodGet, "/books/"+b.ID, "", nil)); got.ReviewCount != 1 || got.AverageRating != 4 {
		t.Fatalf("rating aggregate: %+v", got)
	}
	if lr := decode[ListResponse[domain.Review]](t, f.do(http.MethodGet, "/books/"+b.ID+"/reviews", "", nil)); lr.Pagination.Total != 1 {
		t.Fatalf("reviews list: %+v", lr.Pagination)
	}
	if w := f.do(http.MethodDelete, "/reviews/"+rv.ID, f.token("u2", domain.RoleUser), nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign review delete: %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/reviews/"+rv.ID, admin, nil); w.Code != http.StatusNoContent {
		t.Fatalf("admin review delete: %d", w.Code)
	}

	w = f.do(http.MethodPost, "/categories", admin, map[string]any{"name": "science fiction"})
	if w.Code != http.StatusCreated {
		t.Fatalf("category: %d %s", w.Code, w.Body.String())
	}
	cat := decode[domain.Category](t, w)
	if cat.Slug != "science-fiction" {
		t.Fatalf("slug = %q", cat.Slug)
	}
	if w := f.do(http.MethodPost, "/categories", admin, map[string]any{"name": "Science Fiction"}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate category: %d", w.Code)
	}
	if w := f.do(http.MethodPut, "/books/"+b.ID, admin, map[string]any{"category_ids": []string{cat.ID}}); w.Code != http.StatusOK {
		t.Fatalf("assign category: %d %s", w.Code, w.Body.String())
	}

	all := decode[DataResponse[[]repo.CategoryWithCount]](t, f.do(http.MethodGet, "/categories", "", nil))
	if len(all.Data) != 1 || all.Data[0].BookCount != 1 {
		t.Fatalf("categories: %+v", all.Data)
	}
	w = f.do(http.MethodGet, "/categories/science-fiction", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("category by slug: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodGet, "/categories/horror", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown category: %d", w.Code)
	}
}

func TestAuthAndUsers(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/auth/register", "", map[string]any{"email": "Ada@Example.com", "password": "correct horse", "full_name": "Ada"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	sess := decode[services.Session](t, w)
	if sess.AccessToken == "" || sess.User == nil || sess.User.Email != "ada@example.com" {
		t.Fatalf("session: %+v", sess)
	}
	if w := f.do(http.MethodPost, "/auth/register", "", map[string]any{"email": "ada@example.com", "password": "another pass"}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/auth/register", "", map[string]any{"email": "nope", "password": "short"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid register: %d", w.Code)
	}

	if w := f.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "ada@example.com", "password": "wrong horse"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", w.Code)
	}
	w = f.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "ada@example.com", "password": "correct horse"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d", w.Code)
	}
	sess = decode[services.Session](t, w)

	w = f.do(http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": sess.RefreshToken})
	if w.Code != http.StatusOK || decode[services.Session](t, w).AccessToken == "" {
		t.Fatalf("refresh: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": sess.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token used as refresh: %d", w.Code)
	}

	if w := f.do(http.MethodGet, "/auth/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: %d", w.Code)
	}
	me := decode[MeResponse](t, f.do(http.MethodGet, "/auth/me", sess.AccessToken, nil))
	if me.Email != "ada@example.com" || me.Role != domain.RoleUser {
		t.Fatalf("me: %+v", me)
	}

	w = f.do(http.MethodPut, "/users/profile", sess.AccessToken, map[string]any{"bio": "Mostly dunes.", "full_name": " Ada L "})
	p := decode[domain.UserProfile](t, w)
	if w.Code != http.StatusOK || p.Bio != "Mostly dunes." || p.FullName != "Ada L" {
		t.Fatalf("update profile: %d %+v", w.Code, p)
	}
	if w := f.do(http.MethodPut, "/users/profile", sess.AccessToken, map[string]any{"avatar_url": "not a url"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad avatar: %d", w.Code)
	}

	if w := f.do(http.MethodPut, "/users/preferences", sess.AccessToken, map[string]any{"theme": "neon"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad theme: %d", w.Code)
	}
	f.do(http.MethodPut, "/users/preferences", sess.AccessToken, map[string]any{"theme": "dark"})
	w = f.do(http.MethodPut, "/users/preferences", sess.AccessToken, map[string]any{"font_size": 18})
	prefs := decode[map[string]any](t, w)
	if prefs["theme"] != "dark" || prefs["font_size"] != float64(18) {
		t.Fatalf("merged preferences: %v", prefs)
	}
	if got := decode[map[string]any](t, f.do(http.MethodGet, "/users/preferences", sess.AccessToken, nil)); got["theme"] != "dark" {
		t.Fatalf("stored preferences: %v", got)
	}
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t, nil)
	f.createBook("Dune", 1299, 2)

	if w := f.do(http.MethodGet, "/admin/stats", f.token("u1", domain.RoleUser), nil); w.Code != http.StatusForbidden {
		t.Fatalf("user stats: %d", w.Code)
	}
	w := f.do(http.MethodGet, "/admin/stats", f.token("root", domain.RoleAdmin), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", w.Code, w.Body.String())
	}
	if st := decode[repo.Stats](t, w); st.Books != 1 {
		t.Fatalf("stats body: %+v", st)
	}

	w = f.do(http.MethodGet, "/health", "", nil)
	hr := decode[HealthResponse](t, w)
	if w.Code != http.StatusOK || hr.Status != "ok" || hr.Supabase != "connected" || hr.Memory.Goroutines == 0 {
		t.Fatalf("health: %d %+v", w.Code, hr)
	}

	down := newFixture(t, func(context.Context) error { return gorm.ErrInvalidDB })
	w = down.do(http.MethodGet, "/health", "", nil)
	hr = decode[HealthResponse](t, w)
	if w.Code != http.StatusServiceUnavailable || hr.Status != "degraded" || hr.Supabase != "disconnected" {
		t.Fatalf("degraded health: %d %+v", w.Code, hr)
	}
}
