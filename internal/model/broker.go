package model

import (
	"time"
)

// BrokerCandle represents a single candle row returned by the broker's
// historical-candle endpoint after tuple decoding. The broker reports
// timestamps as exchange-local strings; parsing to UTC happens in the
// pipeline, not here.
type BrokerCandle struct {
	Timestamp string
	Open      *float64
	High      *float64
	Low       *float64
	Close     *float64
	Volume    *int64
}

// BrokerCandlesPayload mirrors the broker's historical-candle response
// payload. Candles arrive as time-ordered tuples of
// [timestamp, open, high, low, close, volume, turnover?].
type BrokerCandlesPayload struct {
	Candles           [][]interface{} `json:"candles"`
	StartTime         string          `json:"start_time"`
	EndTime           string          `json:"end_time"`
	IntervalInMinutes int             `json:"interval_in_minutes"`
}

// BrokerCandlesResponse is the broker's historical-candle response envelope.
type BrokerCandlesResponse struct {
	Status  string               `json:"status"`
	Payload BrokerCandlesPayload `json:"payload"`
}

// TokenResponse is the credential-exchange response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// SyncRunEvent is published to Kafka after a sync run completes.
type SyncRunEvent struct {
	RunAt       time.Time   `json:"run_at"`
	Instruments int         `json:"instruments"`
	Summary     SyncSummary `json:"summary"`
}
