package sync

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"
	"github.com/yourorg/market-data-collector/internal/repository"
)

// CandleSink receives the pipeline's candle batches. Both implementations
// honor the same contract: writes are idempotent per (instrument,
// timestamp) for the database sink, append-only for the file sink, and the
// returned count is the number of rows actually written.
type CandleSink interface {
	WriteBatch(ctx context.Context, candles []model.Candle) (int, error)
}

// RepositorySink writes batches to the primary durable store with
// duplicate-skip semantics.
type RepositorySink struct {
	repo *repository.CandleRepository
}

// NewRepositorySink creates a sink over the candle repository.
func NewRepositorySink(repo *repository.CandleRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) WriteBatch(ctx context.Context, candles []model.Candle) (int, error) {
	return s.repo.InsertBatch(ctx, candles)
}

// ReleaseConnections passes the pipeline's periodic pool release through to
// the repository.
func (s *RepositorySink) ReleaseConnections() {
	s.repo.ReleaseConnections()
}

var csvHeader = []string{"instrument_id", "timestamp", "open", "high", "low", "close", "volume"}

// FileSink appends candle rows to a CSV export file. The header is written
// once, when the target file does not yet exist; subsequent batches only
// append rows.
type FileSink struct {
	path string
}

// NewFileSink creates a CSV sink targeting the given path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) WriteBatch(ctx context.Context, candles []model.Candle) (int, error) {
	writeHeader := false
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return 0, fmt.Errorf("failed to write export header: %w", err)
		}
	}

	for _, c := range candles {
		row := []string{
			strconv.Itoa(c.InstrumentID),
			c.Timestamp.UTC().Format(time.RFC3339),
			formatNullableFloat(c.Open),
			formatNullableFloat(c.High),
			formatNullableFloat(c.Low),
			formatNullableFloat(c.Close),
			formatNullableInt(c.Volume),
		}
		if err := w.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write export row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush export file: %w", err)
	}

	return len(candles), nil
}

func formatNullableFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatNullableInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
