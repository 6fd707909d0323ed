package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
)

// ---------- test helpers ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := repo.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func mkBook(t *testing.T, db *gorm.DB, title string, price int64, stock int) *domain.Book {
	t.Helper()
	b := &domain.Book{ID: uuid.NewString(), Title: title, Author: "A", Price: price, Stock: stock, Currency: "USD", PageCount: 200}
	if err := repo.CreateBook(context.Background(), db, b, nil); err != nil {
		t.Fatalf("create book: %v", err)
	}
	return b
}

func user(id string) *domain.Principal {
	return &domain.Principal{ID: id, Email: id + "@example.com", Role: domain.RoleUser}
}

func admin(id string) *domain.Principal {
	return &domain.Principal{ID: id, Email: id + "@example.com", Role: domain.RoleAdmin}
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", status)
	}
	if got := apperr.StatusOf(err); got != status {
		t.Fatalf("status = %d, want %d (err=%v)", got, status, err)
	}
}
