package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/storage"
)

func newBookSvc(t *testing.T) *BookService {
	t.Helper()
	bucket, err := storage.NewDirBucket(t.TempDir())
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	return &BookService{DB: newTestDB(t), Bucket: bucket, MaxPDFBytes: 1 << 20}
}

func TestBookService_CRUD(t *testing.T) {
	svc := newBookSvc(t)
	ctx := context.Background()
	cats := &CategoryService{DB: svc.DB}
	fic, err := cats.Create(ctx, "fiction", "")
	if err != nil {
		t.Fatalf("category: %v", err)
	}

	isbn := " 978-0441013593 "
	b, err := svc.Create(ctx, BookInput{Title: " Dune ", Author: "Frank Herbert", ISBN: &isbn, Price: 1299, Stock: 3, CategoryIDs: []string{fic.ID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Title != "Dune" || b.Currency != "USD" || b.Language != "en" || *b.ISBN != "978-0441013593" || len(b.Categories) != 1 {
		t.Fatalf("unexpected book: %+v", b)
	}

	_, err = svc.Create(ctx, BookInput{Title: "Dune again", Author: "X", ISBN: &isbn})
	wantStatus(t, err, 409)
	_, err = svc.Create(ctx, BookInput{Title: "Orphan", Author: "X", CategoryIDs: []string{"nope"}})
	wantStatus(t, err, 400)

	price := int64(999)
	up, err := svc.Update(ctx, b.ID, BookPatch{Price: &price})
	if err != nil || up.Price != 999 || up.Title != "Dune" {
		t.Fatalf("Update: %v %+v", err, up)
	}

	items, total, err := svc.List(ctx, repo.BookFilter{Search: "dune"}, 0, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("List: %v total=%d", err, total)
	}

	if err := svc.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = svc.Get(ctx, b.ID)
	wantStatus(t, err, 404)
	wantStatus(t, svc.Delete(ctx, b.ID), 404)
}

func TestBookService_PDFAccess(t *testing.T) {
	svc := newBookSvc(t)
	ctx := context.Background()
	b := mkBook(t, svc.DB, "Readable", 500, 5)
	pdf := []byte("%PDF-1.7\nhello")

	_, err := svc.UploadPDF(ctx, b.ID, bytes.NewReader([]byte("not a pdf")), 9)
	wantStatus(t, err, 400)
	_, err = svc.UploadPDF(ctx, b.ID, bytes.NewReader(pdf), 2<<20)
	wantStatus(t, err, 413)

	// No file yet.
	_, _, err = svc.OpenPDF(ctx, admin("root"), b.ID)
	if !errors.Is(err, ErrNoPDF) {
		t.Fatalf("expected ErrNoPDF, got %v", err)
	}

	got, err := svc.UploadPDF(ctx, b.ID, bytes.NewReader(pdf), int64(len(pdf)))
	if err != nil || !got.HasPDF {
		t.Fatalf("UploadPDF: %v %+v", err, got)
	}

	// Admins read everything.
	obj, _, err := svc.OpenPDF(ctx, admin("root"), b.ID)
	if err != nil {
		t.Fatalf("admin OpenPDF: %v", err)
	}
	data, _ := io.ReadAll(obj)
	_ = obj.Close()
	if !bytes.Equal(data, pdf) {
		t.Fatalf("content mismatch: %q", data)
	}

	// Buyers need a confirmed order.
	_, _, err = svc.OpenPDF(ctx, user("u1"), b.ID)
	if !errors.Is(err, ErrNotPurchased) {
		t.Fatalf("expected ErrNotPurchased, got %v", err)
	}
	wantStatus(t, err, 403)

	orders := &OrderService{DB: svc.DB}
	pl, err := orders.Place(ctx, "u1", PlaceOrder{Items: []OrderLine{{BookID: b.ID, Quantity: 1}}, ContactMethod: ContactEmail})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if _, _, err := svc.OpenPDF(ctx, user("u1"), b.ID); !errors.Is(err, ErrNotPurchased) {
		t.Fatalf("a pending order is not a purchase: %v", err)
	}
	if _, err := orders.UpdateStatus(ctx, pl.Order.ID, domain.OrderConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	obj, _, err = svc.OpenPDF(ctx, user("u1"), b.ID)
	if err != nil {
		t.Fatalf("buyer OpenPDF: %v", err)
	}
	_ = obj.Close()
}
