package models

import (
	"time"
)

// Side is the direction of a position. SideNone is a local sentinel
// meaning "no open position" and never appears on the wire.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
)

type Position struct {
	ID               string
	Symbol           string
	Side             Side
	EntryPrice       float64
	CurrentPrice     float64
	Leverage         int
	UnrealizedPnl    float64
	PnlPercent       float64
	Margin           float64
	LiquidationPrice float64
	Simulated        bool
	UpdatedAt        time.Time
}

// PnlPercentOf computes unrealized P&L as a percentage of margin.
// A zero margin yields 0 rather than NaN.
func PnlPercentOf(unrealizedPnl, margin float64) float64 {
	if margin == 0 {
		return 0
	}
	return unrealizedPnl / margin * 100
}

type Balance struct {
	Asset     string
	Free      float64
	Locked    float64
	Equity    float64
	Available float64
}

// SyncStatus reflects the outcome of the most recent account sync.
type SyncStatus string

const (
	SyncStatusConnected SyncStatus = "CONNECTED"
	SyncStatusError     SyncStatus = "ERROR"
)

// AccountSnapshot is the combined account state republished by the
// synchronizer. Replaced wholesale; a failed sync keeps the previous
// snapshot and only degrades Status.
type AccountSnapshot struct {
	SpotBalances    []Balance
	FuturesBalances []Balance
	Positions       []Position
	OpenOrders      []Order
	OrderHistory    []Order
	Transfers       []Transfer
	Status          SyncStatus
	SyncedAt        time.Time
}

// CurrentSide reports the side of the first open position, or SideNone
// when the position list is empty.
func (a AccountSnapshot) CurrentSide() Side {
	if len(a.Positions) == 0 {
		return SideNone
	}
	return a.Positions[0].Side
}
