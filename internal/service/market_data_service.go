package service

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/market-data-collector/internal/guard"
	"github.com/yourorg/market-data-collector/internal/model"

	"go.uber.org/zap"
)

// ErrInstrumentNotFound is returned when the requested instrument does not exist.
var ErrInstrumentNotFound = errors.New("instrument not found")

// ErrInvalidInstrumentID is returned for a missing or non-positive instrument ID.
var ErrInvalidInstrumentID = errors.New("invalid instrument ID")

// CandleReader retrieves stored candles. Implemented by
// repository.CandleRepository.
type CandleReader interface {
	GetCandles(ctx context.Context, query model.CandleQuery) ([]model.Candle, error)
}

// InstrumentReader retrieves stored instruments. Implemented by
// repository.InstrumentRepository.
type InstrumentReader interface {
	GetAllInstruments(ctx context.Context) ([]model.Instrument, error)
	GetInstrumentByID(ctx context.Context, id int) (*model.Instrument, error)
}

// MarketDataService serves stored candle data to algorithmic callers. Every
// read is validated against the caller's declared simulated clock so a
// replaying strategy can never observe data from its future.
type MarketDataService struct {
	candleRepo     CandleReader
	instrumentRepo InstrumentReader
	logger         *zap.Logger
}

// NewMarketDataService creates a new market data service
func NewMarketDataService(
	candleRepo CandleReader,
	instrumentRepo InstrumentReader,
	logger *zap.Logger,
) *MarketDataService {
	return &MarketDataService{
		candleRepo:     candleRepo,
		instrumentRepo: instrumentRepo,
		logger:         logger,
	}
}

// GetCandles retrieves candle data for an instrument, rejecting any query
// that reaches past execCtx's current timestamp.
func (s *MarketDataService) GetCandles(
	ctx context.Context,
	execCtx model.ExecutionContext,
	query *model.CandleQuery,
) ([]model.Candle, error) {
	if query.InstrumentID <= 0 {
		return nil, ErrInvalidInstrumentID
	}

	var requested []time.Time
	if query.StartDate != nil {
		requested = append(requested, *query.StartDate)
	}
	if query.EndDate != nil {
		requested = append(requested, *query.EndDate)
	}
	if err := guard.Validate(execCtx.CurrentTimestamp, requested...); err != nil {
		return nil, err
	}

	// An open-ended query is capped at the simulated clock rather than
	// leaking rows past it.
	if query.EndDate == nil {
		end := execCtx.CurrentTimestamp
		query.EndDate = &end
	}

	instrument, err := s.instrumentRepo.GetInstrumentByID(ctx, query.InstrumentID)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, ErrInstrumentNotFound
	}

	return s.candleRepo.GetCandles(ctx, *query)
}

// GetInstruments lists all stored instruments.
func (s *MarketDataService) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.instrumentRepo.GetAllInstruments(ctx)
}
