package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockTokenProvider hands out sequential tokens and records invalidations.
type mockTokenProvider struct {
	tokens      []string
	next        int
	getCalls    int
	invalidates int
	getErr      error
}

func (m *mockTokenProvider) GetToken(ctx context.Context) (string, error) {
	m.getCalls++
	if m.getErr != nil {
		return "", m.getErr
	}
	tok := m.tokens[m.next]
	if m.next < len(m.tokens)-1 {
		m.next++
	}
	return tok, nil
}

func (m *mockTokenProvider) InvalidateToken(ctx context.Context) error {
	m.invalidates++
	return nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

const successBody = `{"status": "SUCCESS", "payload": {"candles": [["2024-06-10T09:15:00", 100, 101, 99, 100.5, 5000]]}}`

func newFetcherAgainst(t *testing.T, handler http.HandlerFunc, tokens *mockTokenProvider) (*CandleFetcher, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewBrokerClient(Config{BaseURL: server.URL}, zap.NewNop())
	return NewCandleFetcher(c, tokens, fastRetryConfig(), zap.NewNop()), server
}

func TestCandleFetcher_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"tok-1"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(successBody))
	}, tokens)

	candles, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, tokens.invalidates)
}

func TestCandleFetcher_AuthFailureRetriesOnceWithFreshToken(t *testing.T) {
	var seenTokens []string
	tokens := &mockTokenProvider{tokens: []string{"stale", "fresh"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		tok := r.Header.Get("Authorization")
		seenTokens = append(seenTokens, tok)
		if tok == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(successBody))
	}, tokens)

	candles, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.NoError(t, err)
	require.Len(t, candles, 1)

	assert.Equal(t, 1, tokens.invalidates, "401 must invalidate the token")
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seenTokens)
}

func TestCandleFetcher_SecondAuthFailureIsPermanent(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"bad"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}, tokens)

	_, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindAuth, apiErr.Kind)
	assert.Equal(t, 2, attempts, "exactly one auth retry")
	assert.Equal(t, 1, tokens.invalidates)
}

func TestCandleFetcher_ServerErrorsRetryWithBackoff(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"tok"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(successBody))
	}, tokens)

	candles, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 3, attempts)
}

func TestCandleFetcher_TransportFailureRetries(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"tok"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			// Drop the connection mid-request so the client sees a
			// transport error rather than a classified API error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(successBody))
	}, tokens)

	candles, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 3, attempts)
	assert.Zero(t, tokens.invalidates)
}

func TestCandleFetcher_RateLimitRetries(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"tok"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(successBody))
	}, tokens)

	_, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestCandleFetcher_PermanentClientErrorNoRetry(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"tok"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}, tokens)

	_, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindPermanentClient, apiErr.Kind)
	assert.Equal(t, 1, attempts, "4xx must not be retried")
}

func TestCandleFetcher_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	tokens := &mockTokenProvider{tokens: []string{"tok"}}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}, tokens)

	_, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.Error(t, err)
	assert.Equal(t, 5, attempts, "retries stop at the attempt cap")
}

func TestCandleFetcher_TokenFailureIsImmediate(t *testing.T) {
	tokenErr := errors.New("credential exchange failed")
	tokens := &mockTokenProvider{getErr: tokenErr}
	f, _ := newFetcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no broker call should happen without a token")
	}, tokens)

	_, err := f.FetchHistoricalCandles(context.Background(), "NSE-RELIANCE", "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenErr)
	assert.Equal(t, 1, tokens.getCalls)
}
