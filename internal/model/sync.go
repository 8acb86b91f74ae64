package model

// FetchRequest describes the date range of candles one instrument is missing.
// Ranges are inclusive calendar dates in the exchange's local timezone,
// formatted YYYY-MM-DD. Requests are produced by gap analysis and consumed
// once by the sync pipeline; they are never persisted.
type FetchRequest struct {
	Instrument Instrument `json:"instrument"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
}

// DateChunk is a sub-range of a fetch request sized to the broker API's
// maximum query window.
type DateChunk struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SyncError records a single failed unit of a sync run. Failures are scoped
// to one instrument or one chunk and never abort sibling work.
type SyncError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// SyncSummary is the aggregate result of a sync run.
type SyncSummary struct {
	Fetched  int         `json:"fetched"`
	Inserted int         `json:"inserted"`
	Errors   []SyncError `json:"errors"`
}

// InstrumentSyncResult reports the outcome of a reference-data sync.
type InstrumentSyncResult struct {
	NewInstruments []Instrument `json:"new_instruments"`
	ExistingCount  int          `json:"existing_count"`
}
