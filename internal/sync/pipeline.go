// Package sync implements the resumable, chunked, rate-limited candle
// synchronization pipeline: gap analysis per instrument, 30-day chunking,
// rate-limited fetching through the retrying broker client, and idempotent
// batched writes to a pluggable sink.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/yourorg/market-data-collector/internal/calendar"
	"github.com/yourorg/market-data-collector/internal/model"

	"go.uber.org/zap"
)

const brokerTimeLayout = "2006-01-02T15:04:05"

// CandleReader looks up the latest stored candle per instrument for gap
// analysis.
type CandleReader interface {
	LatestTimestamp(ctx context.Context, instrumentID int) (*time.Time, error)
}

// Fetcher retrieves historical candles from the broker. Implemented by
// client.CandleFetcher, which owns all retry policy.
type Fetcher interface {
	FetchHistoricalCandles(ctx context.Context, brokerSymbol, startTime, endTime string) ([]model.BrokerCandle, error)
}

// AdmissionGate delays outbound calls until rate-limit capacity exists.
// Implemented by ratelimit.Limiter.
type AdmissionGate interface {
	Acquire(ctx context.Context) error
}

// connReleaser is implemented by sinks backed by a connection pool.
type connReleaser interface {
	ReleaseConnections()
}

// Config holds the pipeline tuning knobs. The defaults are external-API
// limits observed against the live broker, not semantic choices.
type Config struct {
	// EpochStart is the first date ever fetched for an instrument with no
	// stored candles (YYYY-MM-DD).
	EpochStart string
	// ChunkDays caps the span of one broker query, inclusive of both ends.
	ChunkDays int
	// BatchSize caps rows per sink write.
	BatchSize int
	// BatchPause bounds sustained write pressure between batches.
	BatchPause time.Duration
	// ReleaseEvery triggers a best-effort pool release after this many
	// instruments.
	ReleaseEvery int
	// Timezone is the exchange's local timezone for calendar-day
	// arithmetic.
	Timezone *time.Location
}

// Pipeline performs one candle sync run. It processes requests
// sequentially; the only internal parallelism is gap analysis, which
// shares no mutable state.
type Pipeline struct {
	candles CandleReader
	fetcher Fetcher
	limiter AdmissionGate
	cfg     Config
	logger  *zap.Logger
	nowFn   func() time.Time
}

// NewPipeline creates a sync pipeline.
func NewPipeline(candles CandleReader, fetcher Fetcher, limiter AdmissionGate, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Pipeline{
		candles: candles,
		fetcher: fetcher,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// DetermineFetchRequests computes, for each instrument, the date range of
// candles it is missing. Lookups run concurrently; an instrument whose
// lookup fails is logged and excluded without affecting its siblings. The
// result order is unspecified.
func (p *Pipeline) DetermineFetchRequests(ctx context.Context, instruments []model.Instrument) []model.FetchRequest {
	today := calendar.DateOf(p.nowFn(), p.cfg.Timezone)

	p.logger.Info("Determining fetch requests",
		zap.Int("instruments", len(instruments)),
		zap.String("today", today))

	var (
		mu       gosync.Mutex
		wg       gosync.WaitGroup
		requests []model.FetchRequest
	)

	for _, inst := range instruments {
		inst := inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := p.determineForInstrument(ctx, inst, today)
			if err != nil {
				p.logger.Error("Failed to determine fetch request",
					zap.Error(err),
					zap.String("symbol", inst.Symbol))
				return
			}
			if req == nil {
				return
			}
			mu.Lock()
			requests = append(requests, *req)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return requests
}

// determineForInstrument returns the instrument's missing range, or nil if
// it is already up to date.
func (p *Pipeline) determineForInstrument(ctx context.Context, inst model.Instrument, today string) (*model.FetchRequest, error) {
	latest, err := p.candles.LatestTimestamp(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	if latest == nil {
		// Never synced: fetch the full history window. The broker returns
		// data from the actual listing date for newer instruments.
		return &model.FetchRequest{
			Instrument: inst,
			StartDate:  p.cfg.EpochStart,
			EndDate:    today,
		}, nil
	}

	latestDate := calendar.DateOf(*latest, p.cfg.Timezone)
	if latestDate >= today {
		return nil, nil
	}

	start, err := calendar.AddDays(latestDate, 1, p.cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &model.FetchRequest{
		Instrument: inst,
		StartDate:  start,
		EndDate:    today,
	}, nil
}

// SplitIntoChunks partitions an inclusive date range into contiguous,
// non-overlapping chunks of at most cfg.ChunkDays days whose union is
// exactly the original range. The last chunk may be shorter.
func (p *Pipeline) SplitIntoChunks(startDate, endDate string) ([]model.DateChunk, error) {
	if _, err := calendar.DaysBetween(startDate, endDate, p.cfg.Timezone); err != nil {
		return nil, err
	}

	var chunks []model.DateChunk
	current := startDate
	for current <= endDate {
		chunkEnd, err := calendar.AddDays(current, p.cfg.ChunkDays-1, p.cfg.Timezone)
		if err != nil {
			return nil, err
		}
		if chunkEnd > endDate {
			chunkEnd = endDate
		}
		chunks = append(chunks, model.DateChunk{Start: current, End: chunkEnd})

		current, err = calendar.AddDays(chunkEnd, 1, p.cfg.Timezone)
		if err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

// FetchAndStore processes requests sequentially, fetching each chunk
// through the rate limiter and writing batches to the sink. No per-unit
// failure aborts the run; every failure lands in the summary's error list.
func (p *Pipeline) FetchAndStore(ctx context.Context, requests []model.FetchRequest, sink CandleSink) model.SyncSummary {
	summary := model.SyncSummary{Errors: []model.SyncError{}}

	p.logger.Info("Processing fetch requests", zap.Int("requests", len(requests)))

	for i, req := range requests {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, model.SyncError{
				Symbol: req.Instrument.Symbol,
				Error:  fmt.Sprintf("sync cancelled: %v", ctx.Err()),
			})
			return summary
		}

		chunks, err := p.SplitIntoChunks(req.StartDate, req.EndDate)
		if err != nil {
			summary.Errors = append(summary.Errors, model.SyncError{
				Symbol: req.Instrument.Symbol,
				Error:  err.Error(),
			})
			continue
		}

		for _, chunk := range chunks {
			fetched, inserted, err := p.processChunk(ctx, req.Instrument, chunk, sink)
			summary.Fetched += fetched
			summary.Inserted += inserted
			if err != nil {
				p.logger.Error("Chunk failed",
					zap.Error(err),
					zap.String("symbol", req.Instrument.Symbol),
					zap.String("chunkStart", chunk.Start),
					zap.String("chunkEnd", chunk.End))
				summary.Errors = append(summary.Errors, model.SyncError{
					Symbol: req.Instrument.Symbol,
					Error:  fmt.Sprintf("failed to fetch %s to %s: %v", chunk.Start, chunk.End, err),
				})
				continue
			}

			p.logger.Info("Chunk stored",
				zap.String("symbol", req.Instrument.Symbol),
				zap.Int("request", i+1),
				zap.Int("requests", len(requests)),
				zap.Int("fetched", fetched),
				zap.Int("inserted", inserted),
				zap.String("chunkStart", chunk.Start),
				zap.String("chunkEnd", chunk.End))
		}

		// Long runs accumulate idle pool connections; shed them
		// periodically. Best effort only.
		if p.cfg.ReleaseEvery > 0 && (i+1)%p.cfg.ReleaseEvery == 0 {
			if releaser, ok := sink.(connReleaser); ok {
				releaser.ReleaseConnections()
			}
		}
	}

	return summary
}

// processChunk fetches one chunk and writes it in batches. Returns counts
// even on error so partial progress is reflected in the summary.
func (p *Pipeline) processChunk(ctx context.Context, inst model.Instrument, chunk model.DateChunk, sink CandleSink) (int, int, error) {
	startTime, err := calendar.DayStart(chunk.Start, p.cfg.Timezone)
	if err != nil {
		return 0, 0, err
	}
	endTime, err := calendar.DayEnd(chunk.End, p.cfg.Timezone)
	if err != nil {
		return 0, 0, err
	}

	if err := p.limiter.Acquire(ctx); err != nil {
		return 0, 0, fmt.Errorf("rate limiter: %w", err)
	}

	raw, err := p.fetcher.FetchHistoricalCandles(
		ctx,
		inst.BrokerSymbol,
		startTime.Format(brokerTimeLayout),
		endTime.Format(brokerTimeLayout),
	)
	if err != nil {
		return 0, 0, err
	}
	if len(raw) == 0 {
		return 0, 0, nil
	}

	candles := p.transform(inst, raw)

	inserted := 0
	for start := 0; start < len(candles); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(candles) {
			end = len(candles)
		}

		n, err := sink.WriteBatch(ctx, candles[start:end])
		inserted += n
		if err != nil {
			return len(raw), inserted, fmt.Errorf("failed to write batch: %w", err)
		}

		if p.cfg.BatchPause > 0 && end < len(candles) {
			time.Sleep(p.cfg.BatchPause)
		}
	}

	return len(raw), inserted, nil
}

// transform converts broker rows to typed candles, normalizing exchange-
// local timestamps to UTC. Rows with unparseable timestamps are dropped;
// missing prices stay null.
func (p *Pipeline) transform(inst model.Instrument, raw []model.BrokerCandle) []model.Candle {
	candles := make([]model.Candle, 0, len(raw))
	for _, rc := range raw {
		ts, err := time.ParseInLocation(brokerTimeLayout, rc.Timestamp, p.cfg.Timezone)
		if err != nil {
			p.logger.Warn("Skipping candle with invalid timestamp",
				zap.String("symbol", inst.Symbol),
				zap.String("timestamp", rc.Timestamp))
			continue
		}

		candles = append(candles, model.Candle{
			InstrumentID: inst.ID,
			Timestamp:    ts.UTC(),
			Open:         rc.Open,
			High:         rc.High,
			Low:          rc.Low,
			Close:        rc.Close,
			Volume:       rc.Volume,
		})
	}
	return candles
}
