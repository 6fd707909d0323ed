// Package services defines the business logic for the catalog, orders,
// reading features, and authentication.
//
// This file centralizes the service-level sentinel errors. Services return
// *apperr.AppError values so the HTTP layer can render them directly; the
// sentinels below are attached as the cause so callers (and tests) can still
// branch with errors.Is.
package services

import (
	"errors"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

var (
	// ErrInvalidCredentials is returned when sign-in fails for any reason
	// (unknown email or wrong password).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned when registering an email that already has
	// credentials.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUnknownBook is returned when an order references a book that does not
	// exist (or was deleted).
	ErrUnknownBook = errors.New("unknown book")

	// ErrOutOfStock is returned when an order asks for more copies than remain.
	ErrOutOfStock = errors.New("insufficient stock")

	// ErrMixedCurrency is returned when an order mixes books priced in
	// different currencies.
	ErrMixedCurrency = errors.New("mixed currencies")

	// ErrInvalidTransition is returned when an order status change is not
	// allowed from the order's current status.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrNotPurchased is returned when a user without a confirmed or delivered
	// order for a book asks for its PDF.
	ErrNotPurchased = errors.New("book not purchased")

	// ErrNoPDF is returned when a book has no uploaded file.
	ErrNoPDF = errors.New("book has no pdf")

	// ErrDuplicateReview is returned when a user reviews the same book twice.
	ErrDuplicateReview = errors.New("review already exists")

	// ErrAlreadyWishlisted is returned when a book is already on the wishlist.
	ErrAlreadyWishlisted = errors.New("book already in wishlist")

	// ErrNotOwner is returned when a user acts on another user's resource.
	ErrNotOwner = errors.New("not the owner")
)

// dbErr classifies a repository error for resource.
func dbErr(err error, resource string) error {
	return apperr.FromDB(err, resource)
}
