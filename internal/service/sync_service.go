package service

import (
	"context"
	"time"

	"github.com/yourorg/market-data-collector/internal/calendar"
	"github.com/yourorg/market-data-collector/internal/model"
	"github.com/yourorg/market-data-collector/internal/sync"

	"go.uber.org/zap"
)

// InstrumentSyncRunner keeps the stored instrument list in step with the
// broker's reference data. Implemented by sync.InstrumentSyncer.
type InstrumentSyncRunner interface {
	Sync(ctx context.Context) (*model.InstrumentSyncResult, error)
}

// CandlePipeline performs gap analysis and the chunked fetch/store loop.
// Implemented by sync.Pipeline.
type CandlePipeline interface {
	DetermineFetchRequests(ctx context.Context, instruments []model.Instrument) []model.FetchRequest
	FetchAndStore(ctx context.Context, requests []model.FetchRequest, sink sync.CandleSink) model.SyncSummary
}

// HolidayChecker reports whether a given exchange-local date is a trading
// holiday. Implemented by repository.HolidayRepository.
type HolidayChecker interface {
	IsHoliday(ctx context.Context, date string) (bool, error)
}

// RunPublisher emits run-summary events. Implemented by events.Publisher.
type RunPublisher interface {
	PublishSyncRun(ctx context.Context, event model.SyncRunEvent)
}

// SyncService orchestrates one full sync run: holiday check, instrument
// reference-data sync, gap analysis, and the candle fetch/store pipeline.
// A run always terminates with a summary; per-unit failures never abort it.
type SyncService struct {
	instrumentSyncer InstrumentSyncRunner
	pipeline         CandlePipeline
	instrumentRepo   InstrumentReader
	holidayRepo      HolidayChecker
	publisher        RunPublisher
	timezone         *time.Location
	logger           *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(
	instrumentSyncer InstrumentSyncRunner,
	pipeline CandlePipeline,
	instrumentRepo InstrumentReader,
	holidayRepo HolidayChecker,
	publisher RunPublisher,
	timezone *time.Location,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		instrumentSyncer: instrumentSyncer,
		pipeline:         pipeline,
		instrumentRepo:   instrumentRepo,
		holidayRepo:      holidayRepo,
		publisher:        publisher,
		timezone:         timezone,
		logger:           logger,
	}
}

// RunResult reports the outcome of one orchestrated sync run.
type RunResult struct {
	Skipped        bool              `json:"skipped"`
	SkipReason     string            `json:"skip_reason,omitempty"`
	Instruments    int               `json:"instruments"`
	NewInstruments int               `json:"new_instruments"`
	Summary        model.SyncSummary `json:"summary"`
}

// Run performs a full sync against the given sink.
func (s *SyncService) Run(ctx context.Context, sink sync.CandleSink) (*RunResult, error) {
	started := time.Now()
	today := calendar.Today(s.timezone)
	s.logger.Info("Starting sync run", zap.String("date", today))

	// Trading holidays have no candles to fetch. A failed check is logged
	// and the run continues; missing a holiday only wastes API calls.
	isHoliday, err := s.holidayRepo.IsHoliday(ctx, today)
	if err != nil {
		s.logger.Warn("Holiday check failed, continuing with sync", zap.Error(err))
	} else if isHoliday {
		s.logger.Info("Skipping sync run on exchange holiday", zap.String("date", today))
		return &RunResult{Skipped: true, SkipReason: "exchange holiday"}, nil
	}

	instResult, err := s.instrumentSyncer.Sync(ctx)
	if err != nil {
		return nil, err
	}

	instruments, err := s.instrumentRepo.GetAllInstruments(ctx)
	if err != nil {
		return nil, err
	}

	requests := s.pipeline.DetermineFetchRequests(ctx, instruments)
	s.logger.Info("Gap analysis complete",
		zap.Int("instruments", len(instruments)),
		zap.Int("requests", len(requests)))

	var summary model.SyncSummary
	if len(requests) > 0 {
		summary = s.pipeline.FetchAndStore(ctx, requests, sink)
	} else {
		summary = model.SyncSummary{Errors: []model.SyncError{}}
	}

	result := &RunResult{
		Instruments:    len(instruments),
		NewInstruments: len(instResult.NewInstruments),
		Summary:        summary,
	}

	s.logger.Info("Sync run complete",
		zap.Int("instruments", result.Instruments),
		zap.Int("newInstruments", result.NewInstruments),
		zap.Int("fetched", summary.Fetched),
		zap.Int("inserted", summary.Inserted),
		zap.Int("errors", len(summary.Errors)),
		zap.Duration("elapsed", time.Since(started)))

	s.publisher.PublishSyncRun(ctx, model.SyncRunEvent{
		RunAt:       started,
		Instruments: result.Instruments,
		Summary:     summary,
	})

	return result, nil
}
