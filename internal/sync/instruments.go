package sync

import (
	"context"
	"fmt"

	"github.com/yourorg/market-data-collector/internal/model"

	"go.uber.org/zap"
)

// InstrumentSource fetches the broker's instrument reference data.
// Implemented by client.BrokerClient.
type InstrumentSource interface {
	FetchInstruments(ctx context.Context) ([]model.InstrumentRecord, error)
}

// InstrumentStore is the persistence surface instruments sync needs.
// Implemented by repository.InstrumentRepository.
type InstrumentStore interface {
	ExistingSymbols(ctx context.Context) (map[string]struct{}, error)
	InsertInstruments(ctx context.Context, records []model.InstrumentRecord) ([]model.Instrument, error)
}

// InstrumentSyncer keeps the stored instrument list in step with the
// broker's reference CSV. Instruments are only ever added, never modified.
type InstrumentSyncer struct {
	source InstrumentSource
	store  InstrumentStore
	logger *zap.Logger
}

// NewInstrumentSyncer creates an instrument syncer.
func NewInstrumentSyncer(source InstrumentSource, store InstrumentStore, logger *zap.Logger) *InstrumentSyncer {
	return &InstrumentSyncer{
		source: source,
		store:  store,
		logger: logger,
	}
}

// Sync downloads the reference CSV and inserts instruments not yet stored.
func (s *InstrumentSyncer) Sync(ctx context.Context) (*model.InstrumentSyncResult, error) {
	records, err := s.source.FetchInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instrument reference data: %w", err)
	}
	s.logger.Info("Fetched instrument reference data", zap.Int("records", len(records)))

	existing, err := s.store.ExistingSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing instruments: %w", err)
	}

	var newRecords []model.InstrumentRecord
	for _, rec := range records {
		if _, ok := existing[rec.Symbol]; !ok {
			newRecords = append(newRecords, rec)
		}
	}

	if len(newRecords) == 0 {
		s.logger.Info("No new instruments to add", zap.Int("existing", len(existing)))
		return &model.InstrumentSyncResult{ExistingCount: len(existing)}, nil
	}

	created, err := s.store.InsertInstruments(ctx, newRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to insert new instruments: %w", err)
	}

	s.logger.Info("Instrument sync complete",
		zap.Int("new", len(created)),
		zap.Int("existing", len(existing)))

	return &model.InstrumentSyncResult{
		NewInstruments: created,
		ExistingCount:  len(existing),
	}, nil
}
