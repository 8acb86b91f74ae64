package client

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// TokenProvider supplies and invalidates the broker access token. Implemented
// by token.Manager.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
	InvalidateToken(ctx context.Context) error
}

// RetryConfig bounds the retry policy around broker calls. The constants
// are broker-imposed limits, kept configurable.
type RetryConfig struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig mirrors the limits observed against the live API.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// CandleFetcher wraps the raw broker client with token acquisition and the
// retry policy: a 401 invalidates the token and earns exactly one retry
// with a fresh one, 429 and 5xx retry with capped exponential backoff, and
// any other 4xx surfaces immediately.
type CandleFetcher struct {
	client *BrokerClient
	tokens TokenProvider
	cfg    RetryConfig
	logger *zap.Logger
}

// NewCandleFetcher creates a retrying fetcher over the broker client.
func NewCandleFetcher(client *BrokerClient, tokens TokenProvider, cfg RetryConfig, logger *zap.Logger) *CandleFetcher {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultRetryConfig()
	}
	return &CandleFetcher{
		client: client,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
	}
}

// FetchHistoricalCandles fetches one symbol's candles for one time range,
// retrying per the configured policy.
func (f *CandleFetcher) FetchHistoricalCandles(ctx context.Context, brokerSymbol, startTime, endTime string) ([]model.BrokerCandle, error) {
	var candles []model.BrokerCandle
	authRetried := false

	operation := func() error {
		tok, err := f.tokens.GetToken(ctx)
		if err != nil {
			// Token generation failure is the outer caller's problem, not
			// something a fetch-level retry can fix.
			return backoff.Permanent(err)
		}

		result, err := f.client.GetHistoricalCandles(ctx, tok, brokerSymbol, startTime, endTime)
		if err == nil {
			candles = result
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == KindAuth {
			// Auth failures carry their own once-only bookkeeping on top of
			// the shared retryability classification.
			if authRetried {
				return backoff.Permanent(err)
			}
			authRetried = true
			f.logger.Warn("Broker rejected token, invalidating and retrying once",
				zap.String("symbol", brokerSymbol))
			if invErr := f.tokens.InvalidateToken(ctx); invErr != nil {
				return backoff.Permanent(invErr)
			}
			return err
		}

		if IsRetryable(err) {
			f.logger.Warn("Broker request failed, backing off",
				zap.Error(err),
				zap.String("symbol", brokerSymbol))
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialBackoff
	bo.MaxInterval = f.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, f.cfg.MaxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return candles, nil
}
