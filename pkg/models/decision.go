package models

import (
	"time"
)

// Action is the trade instruction returned by a decision provider.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionClose Action = "CLOSE"
	ActionWait  Action = "WAIT"
)

// TradeDecision is produced once per orchestration cycle and is
// immutable once produced.
type TradeDecision struct {
	Action     Action
	Leverage   int
	Reason     string
	Confidence int
	Provider   string
	DecidedAt  time.Time
}

// HoldDecision normalizes a provider failure into a neutral decision.
// The trading loop must never stall on a provider outage.
func HoldDecision(reason string) TradeDecision {
	return TradeDecision{
		Action:     ActionWait,
		Leverage:   1,
		Reason:     reason,
		Confidence: 0,
		DecidedAt:  time.Now(),
	}
}
