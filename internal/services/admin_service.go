// Package services – AdminService
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/repo"
)

// DefaultLowStock is the stock level at or below which a book is counted as
// running low on the dashboard.
const DefaultLowStock = 5

// AdminService serves the admin dashboard.
type AdminService struct {
	DB       *gorm.DB
	LowStock int
}

// Stats aggregates catalog, user, review, and order figures.
func (s *AdminService) Stats(ctx context.Context) (*repo.Stats, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "Stats")
	defer span.End()

	low := s.LowStock
	if low <= 0 {
		low = DefaultLowStock
	}
	st, err := repo.LoadStats(ctx, s.DB, low)
	if err != nil {
		span.RecordError(err)
		return nil, dbErr(err, "Stats")
	}
	return st, nil
}
