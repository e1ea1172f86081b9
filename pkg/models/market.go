package models

import (
	"time"
)

// Ticker is the raw 24h market snapshot returned by the public feed.
type Ticker struct {
	Symbol        string
	LastPrice     float64
	ChangePercent float64
	Volume24h     float64
	Timestamp     time.Time
}

// PricePoint is a single labeled sample in the rolling price history.
type PricePoint struct {
	Label string
	Price float64
}

// MaxHistoryPoints bounds the rolling price history; oldest entries
// are evicted first.
const MaxHistoryPoints = 50

// MarketSnapshot is the market state published by the poller. It is
// replaced wholesale on every successful tick and read-only to every
// other component.
type MarketSnapshot struct {
	Symbol        string
	LastPrice     float64
	ChangePercent float64
	Volume24h     float64
	CapturedAt    time.Time
	History       []PricePoint
}

// AppendHistory returns a copy of the snapshot with the sample added
// and the history truncated to the last MaxHistoryPoints entries.
func (m MarketSnapshot) AppendHistory(p PricePoint) MarketSnapshot {
	history := make([]PricePoint, 0, len(m.History)+1)
	history = append(history, m.History...)
	history = append(history, p)
	if len(history) > MaxHistoryPoints {
		history = history[len(history)-MaxHistoryPoints:]
	}
	m.History = history
	return m
}
