// Order HTTP handlers.
//
// This file exposes the purchase flow:
//   - POST   /orders       (place; honors Idempotency-Key)
//   - GET    /orders       (own orders, admins see all)
//   - GET    /orders/{id}  (owner or admin)
//   - PATCH  /orders/{id}  (admin status transition)
//   - DELETE /orders/{id}  (cancel)
//
// Orders are settled outside the API: the placement response carries a
// checkout_url that opens the shop's messaging channel with the order
// pre-filled.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/services"
)

// HeaderReplayed marks a response served from a previous identical placement.
const HeaderReplayed = "Idempotent-Replayed"

//
// DTOs
//

// OrderItemRequest is one requested book.
type OrderItemRequest struct {
	BookID   string `json:"book_id"  validate:"required,uuid"          example:"0f8b2c1e-5d4a-4c3b-9a2f-1e0d9c8b7a65"`
	Quantity int    `json:"quantity" validate:"required,gte=1,lte=100" example:"1"`
}

// PlaceOrderRequest is the JSON payload for POST /orders.
type PlaceOrderRequest struct {
	Items         []OrderItemRequest `json:"items"          validate:"required,min=1,max=50,dive"`
	ContactMethod string             `json:"contact_method" validate:"required,oneof=whatsapp telegram email" example:"whatsapp"`
	Notes         string             `json:"notes"          validate:"max=1000"                                example:"Gift wrap please"`
}

// Normalize lower-cases the contact method.
func (r *PlaceOrderRequest) Normalize() {
	r.ContactMethod = strings.ToLower(strings.TrimSpace(r.ContactMethod))
}

// OrderListQuery filters GET /orders.
type OrderListQuery struct {
	Page   int    `form:"page,default=1"   validate:"gte=1"                                                 example:"1"`
	Limit  int    `form:"limit,default=20" validate:"gte=1,lte=100"                                         example:"20"`
	Status string `form:"status"           validate:"omitempty,oneof=pending confirmed delivered cancelled" example:"pending"`
}

// UpdateOrderStatusRequest is the JSON payload for PATCH /orders/{id}.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed delivered cancelled" example:"confirmed"`
}

// Normalize lower-cases the status.
func (r *UpdateOrderStatusRequest) Normalize() {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
}

//
// Handlers
//

// PlaceOrder godoc
// @ID          placeOrder
// @Summary     Place an order
// @Description Atomically reserves stock and creates a pending order. Repeating a request with the same Idempotency-Key returns the original order with 200.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                      false  "Client-generated key for safe retries"  example(order-7f3c)
// @Param       body             body    handlers.PlaceOrderRequest  true   "Order"
//
// @Success     201  {object}  services.Placement
// @Success     200  {object}  services.Placement  "Replayed placement"
// @Header      200  {string}  Idempotent-Replayed  "true on replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed or unknown book"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     409  {object}  handlers.ErrorResponse  "Insufficient stock"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Router      /orders [post]
func (h *Handlers) PlaceOrder(c *gin.Context) {
	req := middleware.Body[PlaceOrderRequest](c)
	key, _ := middleware.GetIdempotencyKey(c)

	items := make([]services.OrderLine, len(req.Items))
	for i, it := range req.Items {
		items[i] = services.OrderLine{BookID: it.BookID, Quantity: it.Quantity}
	}
	pl, err := h.orders.Place(c.Request.Context(), principal(c).ID, services.PlaceOrder{
		Items:          items,
		ContactMethod:  req.ContactMethod,
		Notes:          req.Notes,
		IdempotencyKey: key,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if pl.Replayed {
		c.Header(HeaderReplayed, "true")
		ok(c, http.StatusOK, pl)
		return
	}
	c.Header("Location", c.FullPath()+"/"+pl.Order.ID)
	ok(c, http.StatusCreated, pl)
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders
// @Description Returns the caller's orders, newest first. Admins see every order.
// @Tags        Orders
// @Produce     json
// @Security    BearerAuth
//
// @Param       page    query  int     false  "Page number"     minimum(1) default(1)
// @Param       limit   query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       status  query  string  false  "Status filter"   Enums(pending, confirmed, delivered, cancelled)
//
// @Success     200  {object}  handlers.ListResponse[domain.Order]
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	q := middleware.Query[OrderListQuery](c)
	items, total, err := h.orders.List(c.Request.Context(), principal(c), q.Status, q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items, q.Page, q.Limit, total)
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order
// @Tags        Orders
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Order ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// UpdateOrderStatus godoc
// @ID          updateOrderStatus
// @Summary     Change an order's status
// @Description pending → confirmed → delivered; pending or confirmed → cancelled (restocks). Admin only.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                             true  "Order ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateOrderStatusRequest  true  "Target status"
//
// @Success     200  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     403  {object}  handlers.ErrorResponse  "Not an admin"
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed"
// @Router      /orders/{id} [patch]
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	req := middleware.Body[UpdateOrderStatusRequest](c)
	o, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// CancelOrder godoc
// @ID          cancelOrder
// @Summary     Cancel an order
// @Description Owners may cancel pending orders; admins any order not yet delivered. Stock is returned.
// @Tags        Orders
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Order ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Order can no longer be cancelled"
// @Router      /orders/{id} [delete]
func (h *Handlers) CancelOrder(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}
