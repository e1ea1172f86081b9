package models

import (
	"time"

	"github.com/google/uuid"
)

type Order struct {
	OrderID   string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64
	Volume    float64
	DealPrice float64
	Status    OrderStatus
	Leverage  int
	CreatedAt time.Time
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

type Transfer struct {
	ID        string
	Asset     string
	Amount    float64
	Direction TransferDirection
	Status    string
	Timestamp time.Time
}

type TransferDirection string

const (
	TransferDeposit    TransferDirection = "deposit"
	TransferWithdrawal TransferDirection = "withdrawal"
)

const syntheticIDPrefix = "syn-"

// SyntheticOrderID mints a locally generated identifier for records the
// exchange returned without one. The prefix keeps it from ever being
// mistaken for an exchange-issued ID.
func SyntheticOrderID() string {
	return syntheticIDPrefix + uuid.NewString()
}

// IsSyntheticID reports whether id was minted locally.
func IsSyntheticID(id string) bool {
	return len(id) > len(syntheticIDPrefix) && id[:len(syntheticIDPrefix)] == syntheticIDPrefix
}
