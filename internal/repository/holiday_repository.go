package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// HolidayRepository handles database operations for exchange trading
// holidays
type HolidayRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewHolidayRepository creates a new holiday repository
func NewHolidayRepository(db *sqlx.DB, logger *zap.Logger) *HolidayRepository {
	return &HolidayRepository{
		db:     db,
		logger: logger,
	}
}

// IsHoliday reports whether the given exchange-local date (YYYY-MM-DD) is a
// stored trading holiday.
func (r *HolidayRepository) IsHoliday(ctx context.Context, date string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM holidays
			WHERE holiday_date = $1
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, date)
	if err != nil {
		r.logger.Error("Failed to check holiday", zap.Error(err), zap.String("date", date))
		return false, err
	}

	return exists, nil
}
