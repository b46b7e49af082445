package models

import "time"

// Tick is one market observation. Time is always UTC once it has passed an
// ingress boundary (stream decoder, provider client, store scan).
type Tick struct {
	Time            time.Time `json:"time"`
	InstrumentToken int64     `json:"instrument_token"`
	LTP             float64   `json:"ltp"`
	Volume          int64     `json:"volume"`
	OpenInterest    int64     `json:"open_interest"`
	BidPrice        *float64  `json:"bid_price,omitempty"`
	AskPrice        *float64  `json:"ask_price,omitempty"`
	BidQty          *int64    `json:"bid_qty,omitempty"`
	AskQty          *int64    `json:"ask_qty,omitempty"`
}

// Bar is one OHLC record as returned by a historical data provider.
type Bar struct {
	Time         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	OpenInterest int64
}

// Candle is one aggregated bucket read back from the candle store.
type Candle struct {
	Bucket          time.Time `json:"bucket"`
	InstrumentToken int64     `json:"instrument_token"`
	Open            float64   `json:"open"`
	High            float64   `json:"high"`
	Low             float64   `json:"low"`
	Close           float64   `json:"close"`
	Volume          int64     `json:"volume"`
	OpenInterest    int64     `json:"open_interest"`
}

// Gap is a missing span of buckets, both ends inclusive.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type BackfillStatus struct {
	InstrumentToken    int64     `json:"instrument_token"`
	LastBackfilledDate time.Time `json:"last_backfilled_date"`
	LastBackfilledFrom time.Time `json:"last_backfilled_from"`
	LastBackfilledTo   time.Time `json:"last_backfilled_to"`
	CandleCount        int       `json:"candle_count"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Instrument struct {
	Token          int64      `json:"instrument_token"`
	ExchangeToken  int64      `json:"exchange_token"`
	Symbol         string     `json:"tradingsymbol"`
	Name           string     `json:"name"`
	Exchange       string     `json:"exchange"`
	Segment        string     `json:"segment"`
	InstrumentType string     `json:"instrument_type"`
	Expiry         *time.Time `json:"expiry,omitempty"`
	Strike         float64    `json:"strike"`
	TickSize       float64    `json:"tick_size"`
	LotSize        int        `json:"lot_size"`
}

// StreamStatus is a point-in-time view of the streaming supervisor.
type StreamStatus struct {
	State           string    `json:"state"`
	Running         bool      `json:"running"`
	Broker          string    `json:"broker"`
	Subscribed      int       `json:"subscribed_instruments"`
	RetryDelay      string    `json:"retry_delay"`
	LastError       string    `json:"last_error,omitempty"`
	StateChangedAt  time.Time `json:"state_changed_at"`
	TicksDispatched int64     `json:"ticks_dispatched"`
}
