package model

import (
	"time"
)

// Instrument represents a tradable equity instrument listed on the exchange.
// Instruments are created once by the reference-data sync and are immutable
// afterwards.
type Instrument struct {
	ID           int       `json:"id" db:"id"`
	Symbol       string    `json:"symbol" db:"symbol"`
	BrokerSymbol string    `json:"broker_symbol" db:"broker_symbol"`
	Name         string    `json:"name" db:"name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// InstrumentRecord is one parsed row of the broker's instrument CSV.
type InstrumentRecord struct {
	Symbol       string
	BrokerSymbol string
	Name         string
}
