package client

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"

	"go.uber.org/zap"
)

const (
	// DefaultCandleInterval is the resolution requested from the broker.
	DefaultCandleInterval = "1minute"

	defaultExchange = "NSE"
	defaultSegment  = "CASH"
)

// Config holds the broker API endpoints and credentials.
type Config struct {
	BaseURL        string
	TokenURL       string
	InstrumentsURL string
	APIKey         string
	APISecret      string
	Timeout        time.Duration
}

// BrokerClient handles raw communication with the broker API: credential
// exchange, historical candles, and the instrument reference CSV. Each
// method performs exactly one HTTP attempt; retry policy lives in
// CandleFetcher.
type BrokerClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBrokerClient creates a new broker API client.
func NewBrokerClient(cfg Config, logger *zap.Logger) *BrokerClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &BrokerClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ExchangeCredentials trades the configured API key/secret for an access
// token. Missing credentials is fatal and never retried; any other failure
// propagates to the caller's retry policy.
func (c *BrokerClient) ExchangeCredentials(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return "", ErrMissingCredentials
	}

	body, err := json.Marshal(map[string]string{
		"api_key":    c.cfg.APIKey,
		"api_secret": c.cfg.APISecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Credential exchange request failed", zap.Error(err))
		return "", fmt.Errorf("credential exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Error("Credential exchange error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(bodyBytes)))
		return "", classifyStatus(resp.StatusCode, string(bodyBytes))
	}

	var tokenResp model.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("credential exchange returned an empty access token")
	}

	return tokenResp.AccessToken, nil
}

// GetHistoricalCandles retrieves minute candles for one broker symbol over
// one time range, using the given access token. Times are exchange-local
// strings in YYYY-MM-DDTHH:mm:ss format, per the broker contract.
func (c *BrokerClient) GetHistoricalCandles(ctx context.Context, accessToken, brokerSymbol, startTime, endTime string) ([]model.BrokerCandle, error) {
	params := url.Values{}
	params.Add("candle_interval", DefaultCandleInterval)
	params.Add("start_time", startTime)
	params.Add("end_time", endTime)
	params.Add("exchange", defaultExchange)
	params.Add("segment", defaultSegment)
	params.Add("symbol", brokerSymbol)

	reqURL := fmt.Sprintf("%s/historical/candles?%s", c.cfg.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch candles from broker",
			zap.Error(err),
			zap.String("symbol", brokerSymbol))
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Error("Broker API error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("symbol", brokerSymbol),
			zap.String("response", string(bodyBytes)))
		return nil, classifyStatus(resp.StatusCode, string(bodyBytes))
	}

	var candlesResp model.BrokerCandlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&candlesResp); err != nil {
		c.logger.Error("Failed to decode broker candles", zap.Error(err))
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}

	if candlesResp.Status != "SUCCESS" {
		return nil, &APIError{
			Kind:    KindTransientServer,
			Message: fmt.Sprintf("broker returned status %q for %s", candlesResp.Status, brokerSymbol),
		}
	}

	if len(candlesResp.Payload.Candles) == 0 {
		c.logger.Debug("Broker returned no candles",
			zap.String("symbol", brokerSymbol),
			zap.String("start", startTime),
			zap.String("end", endTime))
	}

	// Decode the raw tuples into typed candles
	candles := make([]model.BrokerCandle, 0, len(candlesResp.Payload.Candles))
	for i, raw := range candlesResp.Payload.Candles {
		if len(raw) < 6 {
			c.logger.Warn("Skipping malformed candle tuple",
				zap.Int("index", i),
				zap.String("symbol", brokerSymbol))
			continue
		}

		ts, ok := raw[0].(string)
		if !ok || ts == "" {
			c.logger.Warn("Invalid candle timestamp format",
				zap.Int("index", i),
				zap.Any("timestamp", raw[0]))
			continue
		}

		candles = append(candles, model.BrokerCandle{
			Timestamp: ts,
			Open:      tupleFloat(raw[1]),
			High:      tupleFloat(raw[2]),
			Low:       tupleFloat(raw[3]),
			Close:     tupleFloat(raw[4]),
			Volume:    tupleInt(raw[5]),
		})
	}

	return candles, nil
}

// FetchInstruments downloads and parses the broker's instrument reference
// CSV, keeping only cash-equity rows.
func (c *BrokerClient) FetchInstruments(ctx context.Context) ([]model.InstrumentRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.InstrumentsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch instrument CSV", zap.Error(err))
		return nil, fmt.Errorf("failed to fetch instruments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(bodyBytes))
	}

	return parseInstrumentCSV(resp.Body)
}

// parseInstrumentCSV reads the broker CSV and keeps rows where both
// instrument_type and series are "EQ". Rows missing any required field are
// skipped rather than failing the whole file.
func parseInstrumentCSV(r io.Reader) ([]model.InstrumentRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"trading_symbol", "broker_symbol", "name", "instrument_type", "series"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("instrument CSV missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		idx := cols[name]
		if idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	var instruments []model.InstrumentRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse instrument CSV: %w", err)
		}

		if field(row, "instrument_type") != "EQ" || field(row, "series") != "EQ" {
			continue
		}

		symbol := field(row, "trading_symbol")
		brokerSymbol := field(row, "broker_symbol")
		name := field(row, "name")
		if symbol == "" || brokerSymbol == "" || name == "" {
			continue
		}

		instruments = append(instruments, model.InstrumentRecord{
			Symbol:       symbol,
			BrokerSymbol: brokerSymbol,
			Name:         name,
		})
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("instrument CSV contained no equity rows")
	}

	return instruments, nil
}

// tupleFloat extracts a nullable numeric field from a candle tuple.
func tupleFloat(v interface{}) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// tupleInt extracts a nullable integer field from a candle tuple. JSON
// numbers decode as float64.
func tupleInt(v interface{}) *int64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}
