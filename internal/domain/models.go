// Package domain defines the persistence models for the BookShelvz catalog,
// orders, and reading features. These types are mapped with GORM and mirror
// the relational schema owned by the data platform (books, categories,
// book_categories, orders, order_items, user_profiles, reading_progress,
// bookmarks, reviews, wishlists).
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Book is a catalog entry. Prices are stored in integer cents.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Genre: drives the client-side theme for the reader.
//   - HasPDF: true once a PDF has been uploaded to object storage.
//   - AverageRating / ReviewCount: denormalized from reviews on every review write.
//   - DeletedAt: soft deletion marker so historic order items keep their reference.
type Book struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	Title         string         `json:"title"          gorm:"type:varchar(255);not null;index"`
	Author        string         `json:"author"         gorm:"type:varchar(255);not null;index"`
	Description   string         `json:"description"    gorm:"type:text"`
	ISBN          *string        `json:"isbn,omitempty" gorm:"type:varchar(20);uniqueIndex"`
	Price         int64          `json:"price"          gorm:"not null;default:0;check:price >= 0"`
	Currency      string         `json:"currency"       gorm:"type:varchar(3);not null;default:'USD'"`
	Stock         int            `json:"stock"          gorm:"not null;default:0;check:stock >= 0"`
	Genre         string         `json:"genre"          gorm:"type:varchar(64);index"`
	Language      string         `json:"language"       gorm:"type:varchar(16);default:'en'"`
	CoverURL      string         `json:"cover_url"      gorm:"type:text"`
	PageCount     int            `json:"page_count"`
	PublishedYear *int           `json:"published_year,omitempty"`
	Featured      bool           `json:"featured"       gorm:"not null;default:false;index"`
	HasPDF        bool           `json:"has_pdf"        gorm:"not null;default:false"`
	PDFKey        string         `json:"-"              gorm:"type:varchar(255)"`
	AverageRating float64        `json:"average_rating" gorm:"not null;default:0"`
	ReviewCount   int            `json:"review_count"   gorm:"not null;default:0"`
	Categories    []Category     `json:"categories,omitempty" gorm:"many2many:book_categories;"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Book.
func (Book) TableName() string { return "books" }

// Category groups books by genre or collection.
type Category struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"        gorm:"type:varchar(128);not null;uniqueIndex"`
	Slug        string    `json:"slug"        gorm:"type:varchar(128);not null;uniqueIndex"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Category.
func (Category) TableName() string { return "categories" }

// BookCategory is the join row between books and categories.
type BookCategory struct {
	BookID     string    `gorm:"type:char(36);primaryKey"`
	CategoryID string    `gorm:"type:char(36);primaryKey"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for BookCategory.
func (BookCategory) TableName() string { return "book_categories" }

// Order lifecycle states.
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

// Order is a purchase placed through an external messaging channel. The
// order is created pending and confirmed/delivered by an administrator once
// payment has been arranged with the customer.
type Order struct {
	ID            string      `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        string      `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_user_orders,priority:1"`
	Status        string      `json:"status"         gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','confirmed','delivered','cancelled')"`
	Total         int64       `json:"total"          gorm:"not null;default:0"`
	Currency      string      `json:"currency"       gorm:"type:varchar(3);not null;default:'USD'"`
	ContactMethod string      `json:"contact_method" gorm:"type:varchar(16);not null"`
	Notes         string      `json:"notes"          gorm:"type:text"`
	Items         []OrderItem `json:"items"          gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt     time.Time   `json:"created_at"     gorm:"index:idx_user_orders,priority:2"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem is one line of an order. UnitPrice is captured at purchase time.
type OrderItem struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	OrderID   string    `json:"order_id"   gorm:"type:char(36);not null;index"`
	BookID    string    `json:"book_id"    gorm:"type:char(36);not null;index"`
	Quantity  int       `json:"quantity"   gorm:"not null;check:quantity > 0"`
	UnitPrice int64     `json:"unit_price" gorm:"not null"`
	Book      *Book     `json:"book,omitempty" gorm:"foreignKey:BookID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// UserProfile is the application-side record of an identity. Its ID equals
// the identity provider's subject.
type UserProfile struct {
	ID          string         `json:"id"          gorm:"type:varchar(64);primaryKey"`
	Email       string         `json:"email"       gorm:"type:varchar(255);not null;uniqueIndex"`
	FullName    string         `json:"full_name"   gorm:"type:varchar(255)"`
	AvatarURL   string         `json:"avatar_url"  gorm:"type:text"`
	Bio         string         `json:"bio"         gorm:"type:text"`
	Phone       string         `json:"phone"       gorm:"type:varchar(32)"`
	Role        string         `json:"role"        gorm:"type:varchar(16);not null;default:'user';check:role IN ('user','admin','moderator')"`
	Preferences datatypes.JSON `json:"preferences" gorm:"type:json"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// Credential stores the password hash for email sign-in.
type Credential struct {
	UserID       string    `gorm:"type:varchar(64);primaryKey"`
	Email        string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string { return "credentials" }

// ReadingProgress tracks where a user is in a book. One row per (user, book).
type ReadingProgress struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_progress_user_book,priority:1"`
	BookID      string    `json:"book_id"      gorm:"type:char(36);not null;uniqueIndex:ux_progress_user_book,priority:2"`
	CurrentPage int       `json:"current_page" gorm:"not null;default:1"`
	TotalPages  int       `json:"total_pages"  gorm:"not null;default:0"`
	Percentage  float64   `json:"percentage"   gorm:"not null;default:0"`
	LastReadAt  time.Time `json:"last_read_at"`
	Book        *Book     `json:"book,omitempty" gorm:"foreignKey:BookID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for ReadingProgress.
func (ReadingProgress) TableName() string { return "reading_progress" }

// Bookmark marks a page in a book with an optional note.
type Bookmark struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_bookmarks,priority:1"`
	BookID    string    `json:"book_id"    gorm:"type:char(36);not null;index:idx_user_bookmarks,priority:2"`
	Page      int       `json:"page"       gorm:"not null;check:page > 0"`
	Title     string    `json:"title"      gorm:"type:varchar(255)"`
	Note      string    `json:"note"       gorm:"type:text"`
	Color     string    `json:"color"      gorm:"type:varchar(16)"`
	Book      *Book     `json:"-"          gorm:"foreignKey:BookID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Bookmark.
func (Bookmark) TableName() string { return "bookmarks" }

// Review is a 1–5 star rating with an optional comment. One per (user, book).
type Review struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_review_user_book,priority:1"`
	BookID    string    `json:"book_id"    gorm:"type:char(36);not null;uniqueIndex:ux_review_user_book,priority:2;index"`
	Rating    int       `json:"rating"     gorm:"not null;check:rating BETWEEN 1 AND 5"`
	Comment   string    `json:"comment"    gorm:"type:text"`
	Book      *Book     `json:"-"          gorm:"foreignKey:BookID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Review.
func (Review) TableName() string { return "reviews" }

// Wishlist is a saved-for-later entry. One per (user, book).
type Wishlist struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_wishlist_user_book,priority:1"`
	BookID    string    `json:"book_id"    gorm:"type:char(36);not null;uniqueIndex:ux_wishlist_user_book,priority:2"`
	Book      *Book     `json:"book,omitempty" gorm:"foreignKey:BookID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Wishlist.
func (Wishlist) TableName() string { return "wishlists" }
