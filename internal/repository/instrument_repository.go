package repository

import (
	"context"
	"database/sql"

	"github.com/yourorg/market-data-collector/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// InstrumentRepository handles database operations for instruments
type InstrumentRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewInstrumentRepository creates a new instrument repository
func NewInstrumentRepository(db *sqlx.DB, logger *zap.Logger) *InstrumentRepository {
	return &InstrumentRepository{
		db:     db,
		logger: logger,
	}
}

// GetAllInstruments retrieves all instruments
func (r *InstrumentRepository) GetAllInstruments(ctx context.Context) ([]model.Instrument, error) {
	query := `
		SELECT id, symbol, broker_symbol, name, created_at
		FROM instruments
		ORDER BY symbol
	`

	var instruments []model.Instrument
	err := r.db.SelectContext(ctx, &instruments, query)
	if err != nil {
		r.logger.Error("Failed to get instruments", zap.Error(err))
		return nil, err
	}

	return instruments, nil
}

// GetInstrumentByID retrieves a single instrument, or nil if absent
func (r *InstrumentRepository) GetInstrumentByID(ctx context.Context, id int) (*model.Instrument, error) {
	query := `
		SELECT id, symbol, broker_symbol, name, created_at
		FROM instruments
		WHERE id = $1
	`

	var instrument model.Instrument
	err := r.db.GetContext(ctx, &instrument, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get instrument by ID", zap.Error(err), zap.Int("id", id))
		return nil, err
	}

	return &instrument, nil
}

// ExistingSymbols returns the set of symbols already stored.
func (r *InstrumentRepository) ExistingSymbols(ctx context.Context) (map[string]struct{}, error) {
	query := `SELECT symbol FROM instruments`

	var symbols []string
	err := r.db.SelectContext(ctx, &symbols, query)
	if err != nil {
		r.logger.Error("Failed to get existing symbols", zap.Error(err))
		return nil, err
	}

	existing := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		existing[s] = struct{}{}
	}
	return existing, nil
}

// InsertInstruments bulk-inserts new instruments, skipping symbols that
// already exist, and returns the created rows.
func (r *InstrumentRepository) InsertInstruments(ctx context.Context, records []model.InstrumentRecord) ([]model.Instrument, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO instruments (symbol, broker_symbol, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO NOTHING
		RETURNING id, symbol, broker_symbol, name, created_at
	`)
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return nil, err
	}
	defer stmt.Close()

	var created []model.Instrument
	for _, rec := range records {
		var inst model.Instrument
		err := stmt.GetContext(ctx, &inst, rec.Symbol, rec.BrokerSymbol, rec.Name)
		if err != nil {
			if err == sql.ErrNoRows {
				// Conflict: symbol already present, nothing returned.
				continue
			}
			r.logger.Error("Failed to insert instrument",
				zap.Error(err),
				zap.String("symbol", rec.Symbol))
			return nil, err
		}
		created = append(created, inst)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return nil, err
	}

	return created, nil
}
