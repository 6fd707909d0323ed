package services

import (
	"context"
	"testing"

	"golang.org/x/text/language"

	"github.com/tbourn/bookshelvz-backend/internal/repo"
)

func TestCategory_SlugAndCreate(t *testing.T) {
	svc := &CategoryService{DB: newTestDB(t), Locale: language.English}
	ctx := context.Background()

	cases := map[string]string{
		"Science Fiction & Fantasy": "science-fiction-fantasy",
		"  Self-Help  ":             "self-help",
		"Ökonomie":                  "ökonomie",
		"!!!":                       "",
	}
	for in, want := range cases {
		if got := svc.Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}

	c, err := svc.Create(ctx, "science   fiction", "")
	if err != nil || c.Name != "Science Fiction" || c.Slug != "science-fiction" {
		t.Fatalf("Create: %v %+v", err, c)
	}
	_, err = svc.Create(ctx, "Science Fiction", "")
	wantStatus(t, err, 409)
	_, err = svc.Create(ctx, "???", "")
	wantStatus(t, err, 400)

	b := mkBook(t, svc.DB, "Dune", 100, 1)
	if _, err := repo.UpdateBook(ctx, svc.DB, b.ID, nil, &[]string{c.ID}); err != nil {
		t.Fatalf("link: %v", err)
	}
	page, err := svc.Get(ctx, "science-fiction", 1, 10)
	if err != nil || len(page.Books) != 1 || page.Pagination.Total != 1 {
		t.Fatalf("Get: %v %+v", err, page)
	}
	_, err = svc.Get(ctx, "nope", 1, 10)
	wantStatus(t, err, 404)

	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 || list[0].BookCount != 1 {
		t.Fatalf("List: %v %+v", err, list)
	}
}

func TestAdmin_Stats(t *testing.T) {
	db := newTestDB(t)
	mkBook(t, db, "Alpha", 100, 1)
	st, err := (&AdminService{DB: db}).Stats(context.Background())
	if err != nil || st.Books != 1 || st.LowStock != 1 {
		t.Fatalf("Stats: %v %+v", err, st)
	}
}
