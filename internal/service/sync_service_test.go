package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"
	syncpkg "github.com/yourorg/market-data-collector/internal/sync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockHolidayChecker struct {
	holiday bool
	err     error
	calls   int
}

func (m *mockHolidayChecker) IsHoliday(ctx context.Context, date string) (bool, error) {
	m.calls++
	return m.holiday, m.err
}

type mockSyncRunner struct {
	result *model.InstrumentSyncResult
	err    error
	calls  int
}

func (m *mockSyncRunner) Sync(ctx context.Context) (*model.InstrumentSyncResult, error) {
	m.calls++
	return m.result, m.err
}

type mockInstrumentReader struct {
	instruments []model.Instrument
	byID        *model.Instrument
	err         error
}

func (m *mockInstrumentReader) GetAllInstruments(ctx context.Context) ([]model.Instrument, error) {
	return m.instruments, m.err
}

func (m *mockInstrumentReader) GetInstrumentByID(ctx context.Context, id int) (*model.Instrument, error) {
	return m.byID, m.err
}

type mockPipeline struct {
	requests       []model.FetchRequest
	summary        model.SyncSummary
	fetchAndStores int
}

func (m *mockPipeline) DetermineFetchRequests(ctx context.Context, instruments []model.Instrument) []model.FetchRequest {
	return m.requests
}

func (m *mockPipeline) FetchAndStore(ctx context.Context, requests []model.FetchRequest, sink syncpkg.CandleSink) model.SyncSummary {
	m.fetchAndStores++
	return m.summary
}

type mockRunPublisher struct {
	events []model.SyncRunEvent
}

func (m *mockRunPublisher) PublishSyncRun(ctx context.Context, event model.SyncRunEvent) {
	m.events = append(m.events, event)
}

type discardSink struct{}

func (discardSink) WriteBatch(ctx context.Context, candles []model.Candle) (int, error) {
	return len(candles), nil
}

type syncServiceMocks struct {
	holidays  *mockHolidayChecker
	syncer    *mockSyncRunner
	reader    *mockInstrumentReader
	pipeline  *mockPipeline
	publisher *mockRunPublisher
}

func newTestSyncService(t *testing.T) (*SyncService, *syncServiceMocks) {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	m := &syncServiceMocks{
		holidays: &mockHolidayChecker{},
		syncer:   &mockSyncRunner{result: &model.InstrumentSyncResult{}},
		reader: &mockInstrumentReader{instruments: []model.Instrument{
			{ID: 1, Symbol: "RELIANCE", BrokerSymbol: "NSE-RELIANCE"},
			{ID: 2, Symbol: "TCS", BrokerSymbol: "NSE-TCS"},
		}},
		pipeline:  &mockPipeline{summary: model.SyncSummary{Errors: []model.SyncError{}}},
		publisher: &mockRunPublisher{},
	}

	svc := NewSyncService(m.syncer, m.pipeline, m.reader, m.holidays, m.publisher, loc, zap.NewNop())
	return svc, m
}

func TestSyncService_SkipsOnExchangeHoliday(t *testing.T) {
	svc, m := newTestSyncService(t)
	m.holidays.holiday = true

	result, err := svc.Run(context.Background(), discardSink{})
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, "exchange holiday", result.SkipReason)
	assert.Equal(t, 0, m.syncer.calls, "no instrument sync on a holiday")
	assert.Equal(t, 0, m.pipeline.fetchAndStores)
	assert.Empty(t, m.publisher.events)
}

func TestSyncService_HolidayCheckFailureContinues(t *testing.T) {
	svc, m := newTestSyncService(t)
	m.holidays.err = errors.New("holidays table unreachable")

	result, err := svc.Run(context.Background(), discardSink{})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 1, m.syncer.calls, "a failed holiday check must not abort the run")
	assert.Equal(t, 2, result.Instruments)
}

func TestSyncService_FullRun(t *testing.T) {
	svc, m := newTestSyncService(t)
	m.syncer.result = &model.InstrumentSyncResult{
		NewInstruments: []model.Instrument{{ID: 3, Symbol: "INFY"}},
		ExistingCount:  2,
	}
	m.pipeline.requests = []model.FetchRequest{
		{Instrument: model.Instrument{ID: 1, Symbol: "RELIANCE"}, StartDate: "2024-06-01", EndDate: "2024-06-10"},
	}
	m.pipeline.summary = model.SyncSummary{Fetched: 42, Inserted: 40, Errors: []model.SyncError{}}

	result, err := svc.Run(context.Background(), discardSink{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Instruments)
	assert.Equal(t, 1, result.NewInstruments)
	assert.Equal(t, 42, result.Summary.Fetched)
	assert.Equal(t, 40, result.Summary.Inserted)
	assert.Equal(t, 1, m.pipeline.fetchAndStores)

	require.Len(t, m.publisher.events, 1)
	assert.Equal(t, 2, m.publisher.events[0].Instruments)
	assert.Equal(t, 42, m.publisher.events[0].Summary.Fetched)
	assert.False(t, m.publisher.events[0].RunAt.IsZero())
}

func TestSyncService_NothingToFetch(t *testing.T) {
	svc, m := newTestSyncService(t)
	m.pipeline.requests = nil

	result, err := svc.Run(context.Background(), discardSink{})
	require.NoError(t, err)

	assert.Equal(t, 0, m.pipeline.fetchAndStores, "no fetch pass when every instrument is current")
	assert.Equal(t, 0, result.Summary.Fetched)
	assert.NotNil(t, result.Summary.Errors)
	require.Len(t, m.publisher.events, 1)
}

func TestSyncService_InstrumentSyncFailureAborts(t *testing.T) {
	svc, m := newTestSyncService(t)
	m.syncer.err = errors.New("reference CSV unavailable")

	_, err := svc.Run(context.Background(), discardSink{})
	require.Error(t, err)
	assert.Equal(t, 0, m.pipeline.fetchAndStores)
	assert.Empty(t, m.publisher.events)
}
