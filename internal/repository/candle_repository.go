package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"

	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation as surfaced by the pgx stdlib driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CandleRepository handles database operations for candles
type CandleRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewCandleRepository creates a new candle repository
func NewCandleRepository(db *sqlx.DB, logger *zap.Logger) *CandleRepository {
	return &CandleRepository{
		db:     db,
		logger: logger,
	}
}

// GetCandles retrieves stored candles for an instrument, ordered by
// timestamp ascending
func (r *CandleRepository) GetCandles(ctx context.Context, query model.CandleQuery) ([]model.Candle, error) {
	sqlQuery := `
		SELECT instrument_id, timestamp, open, high, low, close, volume
		FROM candles
		WHERE instrument_id = $1
	`

	args := []interface{}{query.InstrumentID}
	argCount := 2

	if query.StartDate != nil {
		sqlQuery += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *query.StartDate)
		argCount++
	}

	if query.EndDate != nil {
		sqlQuery += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *query.EndDate)
		argCount++
	}

	sqlQuery += " ORDER BY timestamp"

	if query.Limit != nil {
		sqlQuery += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, *query.Limit)
	}

	var candles []model.Candle
	err := r.db.SelectContext(ctx, &candles, sqlQuery, args...)
	if err != nil {
		r.logger.Error("Failed to get candles",
			zap.Error(err),
			zap.Int("instrument_id", query.InstrumentID))
		return nil, err
	}

	return candles, nil
}

// LatestTimestamp returns the most recent stored candle timestamp for an
// instrument, or nil if the instrument has no candles yet.
func (r *CandleRepository) LatestTimestamp(ctx context.Context, instrumentID int) (*time.Time, error) {
	query := `
		SELECT MAX(timestamp)
		FROM candles
		WHERE instrument_id = $1
	`

	var latest sql.NullTime
	err := r.db.GetContext(ctx, &latest, query, instrumentID)
	if err != nil {
		r.logger.Error("Failed to get latest candle timestamp",
			zap.Error(err),
			zap.Int("instrument_id", instrumentID))
		return nil, err
	}

	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// InsertBatch inserts a batch of candles, skipping rows that already exist
// for their (instrument_id, timestamp). Returns the number of rows actually
// inserted, so re-running a sync over the same range is a no-op.
func (r *CandleRepository) InsertBatch(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO candles (instrument_id, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instrument_id, timestamp) DO NOTHING
	`)
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range candles {
		res, err := stmt.ExecContext(
			ctx,
			c.InstrumentID,
			c.Timestamp,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// Skip-duplicate semantics even if the conflict target is
				// bypassed (e.g. a partial index mismatch).
				continue
			}
			r.logger.Error("Failed to insert candle",
				zap.Error(err),
				zap.Int("instrument_id", c.InstrumentID),
				zap.Time("timestamp", c.Timestamp))
			return 0, err
		}
		rows, _ := res.RowsAffected()
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return 0, err
	}

	return inserted, nil
}

// ReleaseConnections proactively returns pooled connections to keep memory
// bounded on long sync runs. Best effort; callers ignore failures.
func (r *CandleRepository) ReleaseConnections() {
	r.db.SetMaxIdleConns(0)
	r.db.SetMaxIdleConns(2)
}
