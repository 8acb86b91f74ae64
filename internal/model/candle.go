package model

import (
	"time"
)

// Candle represents one minute-resolution OHLCV bar for an instrument.
// Timestamps are stored UTC-normalized. Price and volume fields are nullable
// because the broker occasionally returns incomplete rows.
type Candle struct {
	InstrumentID int       `json:"instrument_id" db:"instrument_id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	Open         *float64  `json:"open" db:"open"`
	High         *float64  `json:"high" db:"high"`
	Low          *float64  `json:"low" db:"low"`
	Close        *float64  `json:"close" db:"close"`
	Volume       *int64    `json:"volume" db:"volume"`
}

// CandleQuery represents a query for stored candle data
type CandleQuery struct {
	InstrumentID int        `json:"instrument_id" form:"instrument_id" binding:"required"`
	StartDate    *time.Time `json:"start_date" form:"start_date"`
	EndDate      *time.Time `json:"end_date" form:"end_date"`
	Limit        *int       `json:"limit" form:"limit"`
}
