package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestLibrary_Bookmarks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := mkBook(t, db, "Alpha", 100, 1)
	svc := &LibraryService{DB: db}

	_, err := svc.AddBookmark(ctx, "u1", BookmarkInput{BookID: uuid.NewString(), Page: 1})
	wantStatus(t, err, 404)
	_, err = svc.AddBookmark(ctx, "u1", BookmarkInput{BookID: b.ID, Page: 500})
	wantStatus(t, err, 400)

	bm, err := svc.AddBookmark(ctx, "u1", BookmarkInput{BookID: b.ID, Page: 12, Note: "chapter 2"})
	if err != nil {
		t.Fatalf("AddBookmark: %v", err)
	}
	note := "chapter two"
	up, err := svc.UpdateBookmark(ctx, "u1", bm.ID, BookmarkPatch{Note: &note})
	if err != nil || up.Note != note || up.Page != 12 {
		t.Fatalf("UpdateBookmark: %v %+v", err, up)
	}
	_, err = svc.UpdateBookmark(ctx, "u2", bm.ID, BookmarkPatch{Note: &note})
	wantStatus(t, err, 404)

	list, total, err := svc.Bookmarks(ctx, "u1", b.ID, 1, 10)
	if err != nil || total != 1 || len(list) != 1 {
		t.Fatalf("Bookmarks: %v total=%d", err, total)
	}
	wantStatus(t, svc.DeleteBookmark(ctx, "u2", bm.ID), 404)
	if err := svc.DeleteBookmark(ctx, "u1", bm.ID); err != nil {
		t.Fatalf("DeleteBookmark: %v", err)
	}
}

func TestLibrary_Progress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := mkBook(t, db, "Alpha", 100, 1) // 200 pages
	svc := &LibraryService{DB: db}

	p, err := svc.SaveProgress(ctx, "u1", b.ID, 50, 0)
	if err != nil || p.TotalPages != 200 || p.Percentage != 25 {
		t.Fatalf("SaveProgress: %v %+v", err, p)
	}
	p2, err := svc.SaveProgress(ctx, "u1", b.ID, 1, 3)
	if err != nil || p2.ID != p.ID || p2.Percentage != 33.33 {
		t.Fatalf("SaveProgress upsert: %v %+v", err, p2)
	}
	_, err = svc.SaveProgress(ctx, "u1", b.ID, 300, 0)
	wantStatus(t, err, 400)

	got, err := svc.BookProgress(ctx, "u1", b.ID)
	if err != nil || got.CurrentPage != 1 {
		t.Fatalf("BookProgress: %v %+v", err, got)
	}
	_, err = svc.BookProgress(ctx, "u2", b.ID)
	wantStatus(t, err, 404)
	if _, total, _ := svc.Progress(ctx, "u1", 1, 10); total != 1 {
		t.Fatalf("Progress total = %d", total)
	}
}

func TestPercentage(t *testing.T) {
	cases := []struct {
		cur, total int
		want       float64
	}{
		{0, 100, 0}, {10, 0, 0}, {1, 3, 33.33}, {2, 3, 66.67}, {100, 100, 100}, {150, 100, 100},
	}
	for _, c := range cases {
		if got := Percentage(c.cur, c.total); got != c.want {
			t.Fatalf("Percentage(%d,%d) = %v, want %v", c.cur, c.total, got, c.want)
		}
	}
}

func TestLibrary_Wishlist(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := mkBook(t, db, "Alpha", 100, 1)
	svc := &LibraryService{DB: db}

	w, err := svc.AddToWishlist(ctx, "u1", b.ID)
	if err != nil || w.Book == nil {
		t.Fatalf("AddToWishlist: %v", err)
	}
	_, err = svc.AddToWishlist(ctx, "u1", b.ID)
	wantStatus(t, err, 409)
	if !errors.Is(err, ErrAlreadyWishlisted) {
		t.Fatalf("expected ErrAlreadyWishlisted, got %v", err)
	}
	list, total, _ := svc.Wishlist(ctx, "u1", 1, 10)
	if total != 1 || list[0].Book == nil || list[0].Book.Title != "Alpha" {
		t.Fatalf("Wishlist: %d %+v", total, list)
	}
	if err := svc.RemoveFromWishlist(ctx, "u1", b.ID); err != nil {
		t.Fatalf("RemoveFromWishlist: %v", err)
	}
	wantStatus(t, svc.RemoveFromWishlist(ctx, "u1", b.ID), 404)
}
