// Package services – OrderService
//
// OrderService implements the purchase flow. Orders are placed against
// current stock inside one transaction: every referenced book must exist,
// stock is decremented conditionally, and the total is computed from the
// prices at purchase time. Payment happens outside the API through a
// messaging channel; the placement result carries a deep link that opens a
// pre-filled message to the shop.
//
// An Idempotency-Key makes placement safe to retry: a second request with the
// same key returns the original order instead of placing a new one.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/utils"
)

// Contact methods accepted on order placement.
const (
	ContactWhatsApp = "whatsapp"
	ContactTelegram = "telegram"
	ContactEmail    = "email"
)

// IdempotencyScope namespaces order placement idempotency keys.
const IdempotencyScope = "orders.place"

// CheckoutContacts are the shop's messaging handles.
type CheckoutContacts struct {
	WhatsAppNumber string
	TelegramHandle string
	Email          string
}

// OrderLine is one requested book and quantity.
type OrderLine struct {
	BookID   string
	Quantity int
}

// PlaceOrder is the input to Place.
type PlaceOrder struct {
	Items          []OrderLine
	ContactMethod  string
	Notes          string
	IdempotencyKey string
}

// Placement is the result of Place.
type Placement struct {
	Order       *domain.Order `json:"order"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	Replayed    bool          `json:"-"`
}

// transitions lists the statuses each status may move to.
var transitions = map[string][]string{
	domain.OrderPending:   {domain.OrderConfirmed, domain.OrderCancelled},
	domain.OrderConfirmed: {domain.OrderDelivered, domain.OrderCancelled},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OrderService implements order use-cases.
type OrderService struct {
	DB             *gorm.DB
	Contacts       CheckoutContacts
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OrderService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// errReplay aborts a placement transaction that lost an idempotency race.
var errReplay = errors.New("idempotent replay")

// Place creates a pending order for userID.
func (s *OrderService) Place(ctx context.Context, userID string, in PlaceOrder) (*Placement, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Place",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("order.lines", len(in.Items)),
			attribute.Bool("idempotent", in.IdempotencyKey != ""),
		),
	)
	defer span.End()

	now := s.now()
	if key := in.IdempotencyKey; key != "" {
		if p, err := s.replay(ctx, userID, key, now); p != nil || err != nil {
			return p, err
		}
	}

	lines, fields := mergeLines(in.Items)
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}

	order := &domain.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        domain.OrderPending,
		ContactMethod: in.ContactMethod,
		Notes:         strings.TrimSpace(in.Notes),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, len(lines))
		for i, l := range lines {
			ids[i] = l.BookID
		}
		books, err := repo.GetBooksByIDs(ctx, tx, ids)
		if err != nil {
			return dbErr(err, "Book")
		}

		var missing []apperr.FieldError
		for _, l := range lines {
			if _, ok := books[l.BookID]; !ok {
				missing = append(missing, apperr.FieldError{
					Field:   fmt.Sprintf("items[%d].book_id", l.index),
					Message: fmt.Sprintf("book %s does not exist", l.BookID),
				})
			}
		}
		if len(missing) > 0 {
			return apperr.Validation(missing).WithCause(ErrUnknownBook)
		}

		for _, l := range lines {
			b := books[l.BookID]
			if order.Currency == "" {
				order.Currency = b.Currency
			} else if b.Currency != order.Currency {
				return apperr.BadRequest("All items must be priced in the same currency").WithCause(ErrMixedCurrency)
			}
			if err := repo.DecrementStock(ctx, tx, l.BookID, l.Quantity); err != nil {
				if errors.Is(err, repo.ErrInsufficientStock) {
					return apperr.Conflict(fmt.Sprintf("Insufficient stock for %q", b.Title)).WithCause(ErrOutOfStock)
				}
				return dbErr(err, "Book")
			}
			order.Items = append(order.Items, domain.OrderItem{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				BookID:    l.BookID,
				Quantity:  l.Quantity,
				UnitPrice: b.Price,
			})
			order.Total += b.Price * int64(l.Quantity)
		}

		if err := repo.CreateOrder(ctx, tx, order); err != nil {
			return dbErr(err, "Order")
		}
		if in.IdempotencyKey != "" {
			_, err := repo.CreateIdempotency(ctx, tx, userID, IdempotencyScope, in.IdempotencyKey, order.ID, 201, now, s.ttl())
			if errors.Is(err, repo.ErrDuplicate) {
				return errReplay
			}
			if err != nil {
				return dbErr(err, "Order")
			}
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		p, rerr := s.replay(ctx, userID, in.IdempotencyKey, now)
		if rerr != nil || p != nil {
			return p, rerr
		}
		return nil, apperr.Conflict("A request with this Idempotency-Key is already in progress")
	}
	if err != nil {
		if apperr.StatusOf(err) >= 500 {
			span.RecordError(err)
			span.SetStatus(codes.Error, "place order failed")
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int64("order.total", order.Total))
	saved, err := repo.GetOrder(ctx, s.DB, order.ID)
	if err != nil {
		return nil, dbErr(err, "Order")
	}
	return &Placement{Order: saved, CheckoutURL: s.CheckoutURL(saved)}, nil
}

// replay returns the order recorded under key, or (nil, nil) when the key is
// unused or expired.
func (s *OrderService) replay(ctx context.Context, userID, key string, now time.Time) (*Placement, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, IdempotencyScope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, "Order")
	}
	o, err := repo.GetOrder(ctx, s.DB, rec.ResourceID)
	if err != nil {
		return nil, dbErr(err, "Order")
	}
	return &Placement{Order: o, CheckoutURL: s.CheckoutURL(o), Replayed: true}, nil
}

// HasIdempotencyRecord reports whether key already maps to a live record for
// userID in scope. It backs the idempotency middleware's replay detection.
func (s *OrderService) HasIdempotencyRecord(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	_, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type mergedLine struct {
	OrderLine
	index int // position of the first occurrence in the request
}

// mergeLines sums quantities of repeated books and keeps request order.
func mergeLines(items []OrderLine) ([]mergedLine, []apperr.FieldError) {
	var fields []apperr.FieldError
	if len(items) == 0 {
		return nil, []apperr.FieldError{{Field: "items", Message: "items must contain at least 1 item"}}
	}
	pos := map[string]int{}
	out := make([]mergedLine, 0, len(items))
	for i, it := range items {
		if it.Quantity < 1 {
			fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "quantity must be at least 1"})
			continue
		}
		if j, ok := pos[it.BookID]; ok {
			out[j].Quantity += it.Quantity
			continue
		}
		pos[it.BookID] = len(out)
		out = append(out, mergedLine{OrderLine: it, index: i})
	}
	return out, fields
}

// Get returns an order visible to p. Other users' orders are reported as
// not found.
func (s *OrderService) Get(ctx context.Context, p *domain.Principal, id string) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		return nil, dbErr(err, "Order")
	}
	if !canSeeOrder(p, o) {
		return nil, apperr.NotFound("Order").WithCause(ErrNotOwner)
	}
	return o, nil
}

// List returns the caller's orders; administrators see every order.
func (s *OrderService) List(ctx context.Context, p *domain.Principal, status string, page, limit int) ([]domain.Order, int64, error) {
	if p == nil {
		return nil, 0, apperr.Authentication("")
	}
	page, limit = utils.ClampPage(page, limit)
	f := repo.OrderFilter{Status: status, Offset: utils.Offset(page, limit), Limit: limit}
	if !p.HasRole(domain.RoleAdmin) {
		f.UserID = p.ID
	}
	out, total, err := repo.ListOrders(ctx, s.DB, f)
	if err != nil {
		return nil, 0, dbErr(err, "Order")
	}
	return out, total, nil
}

// UpdateStatus moves an order along its lifecycle. Cancelling returns the
// items to stock.
func (s *OrderService) UpdateStatus(ctx context.Context, id, to string) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", id),
			attribute.String("order.status", to),
		),
	)
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOrder(ctx, tx, id)
		if err != nil {
			return dbErr(err, "Order")
		}
		if !CanTransition(o.Status, to) {
			return apperr.Conflict(fmt.Sprintf("Cannot change order status from %s to %s", o.Status, to)).WithCause(ErrInvalidTransition)
		}
		if err := repo.TransitionOrder(ctx, tx, id, []string{o.Status}, to); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return apperr.Conflict("Order was modified concurrently").WithCause(ErrInvalidTransition)
			}
			return dbErr(err, "Order")
		}
		if to == domain.OrderCancelled {
			for _, it := range o.Items {
				if err := repo.IncrementStock(ctx, tx, it.BookID, it.Quantity); err != nil {
					return dbErr(err, "Book")
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o, err := repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		return nil, dbErr(err, "Order")
	}
	return o, nil
}

// Cancel cancels an order on behalf of p. Owners may cancel while the order
// is pending; administrators may cancel any order that is not delivered.
func (s *OrderService) Cancel(ctx context.Context, p *domain.Principal, id string) (*domain.Order, error) {
	o, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.HasRole(domain.RoleAdmin) && o.Status != domain.OrderPending {
		return nil, apperr.Conflict("Only pending orders can be cancelled").WithCause(ErrInvalidTransition)
	}
	return s.UpdateStatus(ctx, id, domain.OrderCancelled)
}

func canSeeOrder(p *domain.Principal, o *domain.Order) bool {
	return p != nil && (o.UserID == p.ID || p.HasRole(domain.RoleAdmin))
}

var nonDigitRE = regexp.MustCompile(`\D`)

// CheckoutURL builds the deep link for the order's contact method, or ""
// when the shop has no handle for that channel.
func (s *OrderService) CheckoutURL(o *domain.Order) string {
	msg := checkoutMessage(o)
	switch o.ContactMethod {
	case ContactWhatsApp:
		num := nonDigitRE.ReplaceAllString(s.Contacts.WhatsAppNumber, "")
		if num == "" {
			return ""
		}
		return "https://wa.me/" + num + "?" + url.Values{"text": {msg}}.Encode()
	case ContactTelegram:
		h := strings.TrimPrefix(strings.TrimSpace(s.Contacts.TelegramHandle), "@")
		if h == "" {
			return ""
		}
		return "https://t.me/" + url.PathEscape(h) + "?" + url.Values{"text": {msg}}.Encode()
	case ContactEmail:
		addr := strings.TrimSpace(s.Contacts.Email)
		if addr == "" {
			return ""
		}
		q := "subject=" + mailtoEscape("BookShelvz order "+shortID(o.ID)) + "&body=" + mailtoEscape(msg)
		return "mailto:" + addr + "?" + q
	default:
		return ""
	}
}

func checkoutMessage(o *domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello! I'd like to place order %s:\n", shortID(o.ID))
	for _, it := range o.Items {
		title := it.BookID
		if it.Book != nil {
			title = it.Book.Title
		}
		fmt.Fprintf(&b, "- %s x%d (%s)\n", title, it.Quantity, FormatMoney(it.UnitPrice*int64(it.Quantity), o.Currency))
	}
	fmt.Fprintf(&b, "Total: %s", FormatMoney(o.Total, o.Currency))
	return b.String()
}

// FormatMoney renders integer cents as "12.34 USD".
func FormatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

// mailtoEscape percent-encodes spaces as %20; mail clients do not decode '+'.
func mailtoEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}
