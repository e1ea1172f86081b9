package provider

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a cryptocurrency futures trading assistant. ` +
	`Analyze the market data and respond with a single JSON object with exactly these fields: ` +
	`"action" (one of "LONG", "SHORT", "CLOSE", "WAIT"), ` +
	`"leverage" (integer 1-20), ` +
	`"reason" (short free-text rationale), ` +
	`"confidence" (integer 0-100). ` +
	`Respond with the JSON object only, no other text.`

const promptHistoryPoints = 10

// buildPrompt renders the semantic analysis content every backend is
// handed: symbol, price, 24h stats, the tail of the price history, and
// the current position side.
func buildPrompt(req Request) string {
	var sb strings.Builder
	s := req.Snapshot

	fmt.Fprintf(&sb, "Symbol: %s\n", s.Symbol)
	fmt.Fprintf(&sb, "Last price: %.8g\n", s.LastPrice)
	fmt.Fprintf(&sb, "24h change: %.2f%%\n", s.ChangePercent)
	fmt.Fprintf(&sb, "24h volume: %.8g\n", s.Volume24h)

	history := s.History
	if len(history) > promptHistoryPoints {
		history = history[len(history)-promptHistoryPoints:]
	}
	if len(history) > 0 {
		sb.WriteString("Recent prices (oldest first):\n")
		for _, p := range history {
			fmt.Fprintf(&sb, "  %s: %.8g\n", p.Label, p.Price)
		}
	}

	fmt.Fprintf(&sb, "Current position: %s\n", req.CurrentSide)
	sb.WriteString("Decide the next action.")
	return sb.String()
}
