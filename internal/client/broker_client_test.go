package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(baseURL string) *BrokerClient {
	return NewBrokerClient(Config{
		BaseURL:        baseURL,
		TokenURL:       baseURL + "/token",
		InstrumentsURL: baseURL + "/instruments",
		APIKey:         "test-key",
		APISecret:      "test-secret",
	}, zap.NewNop())
}

func TestExchangeCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"access_token": "token-123"}`))
	}))
	defer server.Close()

	tok, err := newTestClient(server.URL).ExchangeCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-123", tok)
}

func TestExchangeCredentials_MissingCredentials(t *testing.T) {
	c := NewBrokerClient(Config{TokenURL: "http://localhost"}, zap.NewNop())

	_, err := c.ExchangeCredentials(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestExchangeCredentials_RejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ExchangeCredentials(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindAuth, apiErr.Kind)
}

func TestExchangeCredentials_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": ""}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ExchangeCredentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty access token")
}

func TestGetHistoricalCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "1minute", q.Get("candle_interval"))
		assert.Equal(t, "NSE", q.Get("exchange"))
		assert.Equal(t, "CASH", q.Get("segment"))
		assert.Equal(t, "NSE-RELIANCE", q.Get("symbol"))
		assert.Equal(t, "2024-06-10T00:00:00", q.Get("start_time"))
		assert.Equal(t, "2024-06-10T23:59:59", q.Get("end_time"))

		w.Write([]byte(`{
			"status": "SUCCESS",
			"payload": {
				"candles": [
					["2024-06-10T09:15:00", 100.5, 101.0, 99.5, 100.0, 5000],
					["2024-06-10T09:16:00", null, null, null, null, null],
					["2024-06-10T09:17:00"],
					[null, 1, 2, 3, 4, 5]
				]
			}
		}`))
	}))
	defer server.Close()

	candles, err := newTestClient(server.URL).GetHistoricalCandles(
		context.Background(), "token-123", "NSE-RELIANCE",
		"2024-06-10T00:00:00", "2024-06-10T23:59:59")
	require.NoError(t, err)

	// The short tuple and the null-timestamp tuple are skipped.
	require.Len(t, candles, 2)

	assert.Equal(t, "2024-06-10T09:15:00", candles[0].Timestamp)
	require.NotNil(t, candles[0].Open)
	assert.Equal(t, 100.5, *candles[0].Open)
	require.NotNil(t, candles[0].Volume)
	assert.Equal(t, int64(5000), *candles[0].Volume)

	assert.Equal(t, "2024-06-10T09:16:00", candles[1].Timestamp)
	assert.Nil(t, candles[1].Open, "null prices decode as nil")
	assert.Nil(t, candles[1].Volume)
}

func TestGetHistoricalCandles_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "FAILURE", "payload": {"candles": []}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetHistoricalCandles(
		context.Background(), "tok", "NSE-RELIANCE", "a", "b")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransientServer, apiErr.Kind)
}

func TestGetHistoricalCandles_ErrorStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{status: http.StatusUnauthorized, want: KindAuth},
		{status: http.StatusTooManyRequests, want: KindRateLimit},
		{status: http.StatusBadGateway, want: KindTransientServer},
		{status: http.StatusBadRequest, want: KindPermanentClient},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		_, err := newTestClient(server.URL).GetHistoricalCandles(
			context.Background(), "tok", "NSE-RELIANCE", "a", "b")
		server.Close()
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, tt.want, apiErr.Kind, "status %d", tt.status)
	}
}

func TestParseInstrumentCSV(t *testing.T) {
	csvBody := strings.Join([]string{
		"trading_symbol,broker_symbol,name,instrument_type,series",
		"RELIANCE,NSE-RELIANCE,Reliance Industries,EQ,EQ",
		"NIFTYFUT,NSE-NIFTYFUT,Nifty Futures,FUT,XX",
		"TCS,NSE-TCS,Tata Consultancy Services,EQ,EQ",
		"BADROW,NSE-BADROW,,EQ,EQ",
		"INFY,NSE-INFY,Infosys,EQ,BE",
	}, "\n")

	records, err := parseInstrumentCSV(strings.NewReader(csvBody))
	require.NoError(t, err)

	require.Len(t, records, 2, "only complete EQ/EQ rows survive")
	assert.Equal(t, "RELIANCE", records[0].Symbol)
	assert.Equal(t, "NSE-RELIANCE", records[0].BrokerSymbol)
	assert.Equal(t, "Reliance Industries", records[0].Name)
	assert.Equal(t, "TCS", records[1].Symbol)
}

func TestParseInstrumentCSV_MissingColumn(t *testing.T) {
	csvBody := "trading_symbol,name\nRELIANCE,Reliance"

	_, err := parseInstrumentCSV(strings.NewReader(csvBody))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required column")
}

func TestParseInstrumentCSV_NoEquityRows(t *testing.T) {
	csvBody := strings.Join([]string{
		"trading_symbol,broker_symbol,name,instrument_type,series",
		"NIFTYFUT,NSE-NIFTYFUT,Nifty Futures,FUT,XX",
	}, "\n")

	_, err := parseInstrumentCSV(strings.NewReader(csvBody))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no equity rows")
}

func TestFetchInstruments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("trading_symbol,broker_symbol,name,instrument_type,series\nRELIANCE,NSE-RELIANCE,Reliance Industries,EQ,EQ\n"))
	}))
	defer server.Close()

	records, err := newTestClient(server.URL).FetchInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "RELIANCE", records[0].Symbol)
}
