// Admin and health HTTP handlers.
//
//   - GET /admin/stats  (dashboard aggregate, admin only)
//   - GET /health       (liveness plus data platform connectivity)
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string      `json:"status"    example:"ok"`
	Timestamp time.Time   `json:"timestamp" example:"2025-01-01T12:00:00Z"`
	Uptime    float64     `json:"uptime"    example:"3600.5"`
	Memory    MemoryStats `json:"memory"`
	Supabase  string      `json:"supabase"  example:"connected"`
}

// MemoryStats is a snapshot of the Go runtime heap, in bytes.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	HeapInUse  uint64 `json:"heap_in_use"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// Stats godoc
// @ID          adminStats
// @Summary     Dashboard statistics
// @Description Catalog, user, review and order aggregates including revenue and best sellers. Admin only.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  repo.Stats
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Not an admin"
// @Router      /admin/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// Health godoc
// @ID          health
// @Summary     Health check
// @Description Reports uptime, memory, and data platform connectivity. Answers 503 when the database is unreachable.
// @Tags        Health
// @Produce     json
//
// @Success     200  {object}  handlers.HealthResponse
// @Failure     503  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Uptime:    h.now().Sub(h.started).Seconds(),
		Memory:    memoryStats(),
		Supabase:  "connected",
	}
	status := http.StatusOK
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health: database unreachable")
			resp.Status = "degraded"
			resp.Supabase = "disconnected"
			status = http.StatusServiceUnavailable
		}
	}
	c.Header("Cache-Control", "no-store")
	ok(c, status, resp)
}

func memoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		HeapInUse:  m.HeapInuse,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
