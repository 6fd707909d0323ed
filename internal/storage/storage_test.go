package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCheckPDF(t *testing.T) {
	r, err := CheckPDF(strings.NewReader("%PDF-1.7 body"), 100)
	if err != nil {
		t.Fatalf("CheckPDF: %v", err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "%PDF-1.7 body" {
		t.Fatalf("header must be replayed, got %q", got)
	}
	if _, err := CheckPDF(strings.NewReader("PK\x03\x04zip"), 100); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	if _, err := CheckPDF(strings.NewReader("%P"), 100); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("short input must be rejected, got %v", err)
	}
	r, _ = CheckPDF(strings.NewReader("%PDF-"+strings.Repeat("x", 20)), 10)
	if _, err := io.ReadAll(r); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	r, _ = CheckPDF(strings.NewReader("%PDF-12345"), 10)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("exactly max bytes must pass: %v", err)
	}
}

func TestDirBucket_PutOpenDelete(t *testing.T) {
	b, err := NewDirBucket(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirBucket: %v", err)
	}
	ctx := context.Background()
	key := PDFKey("b1")

	if ok, _ := b.Exists(ctx, key); ok {
		t.Fatalf("object should not exist yet")
	}
	if _, err := b.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Put(ctx, key, bytes.NewReader([]byte("%PDF-data")), 9, "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj, err := b.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(obj)
	obj.Close()
	if string(data) != "%PDF-data" || obj.Size != 9 {
		t.Fatalf("unexpected object %q size %d", data, obj.Size)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete of missing object must be a no-op: %v", err)
	}
}

func TestDirBucket_RejectsTraversal(t *testing.T) {
	b, _ := NewDirBucket(t.TempDir())
	ctx := context.Background()
	for _, k := range []string{"", "../escape.pdf", "books/../../x", `books\..\x`} {
		if err := b.Put(ctx, k, strings.NewReader("x"), 1, ""); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", k, err)
		}
	}
}

func TestDirBucket_PutHonorsContext(t *testing.T) {
	b, _ := NewDirBucket(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Put(ctx, "books/x.pdf", strings.NewReader("%PDF-"), 5, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ok, _ := b.Exists(context.Background(), "books/x.pdf"); ok {
		t.Fatalf("canceled upload must not leave an object")
	}
}
