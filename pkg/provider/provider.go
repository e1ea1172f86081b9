package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jcorwin/helmsman/pkg/models"
	"github.com/sirupsen/logrus"
)

// Settings selects and authenticates one decision backend. Taken from
// the per-cycle configuration snapshot.
type Settings struct {
	Name   string
	APIKey string
	Model  string
}

// Request is the semantic content every backend is handed.
type Request struct {
	Snapshot    models.MarketSnapshot
	CurrentSide models.Side
}

// Backend converts a market snapshot into a raw trade decision. It may
// fail; Analyzer normalizes every failure into a hold.
type Backend interface {
	Name() string
	Decide(ctx context.Context, req Request) (models.TradeDecision, error)
}

// Analyzer is the never-fail front of the decision layer. Any backend
// failure (unreachable host, HTTP error, malformed JSON, missing key)
// is absorbed into a WAIT decision so a provider outage can never
// stall the trading loop.
type Analyzer struct {
	factory *Factory
	logger  *logrus.Logger
}

func NewAnalyzer(factory *Factory, logger *logrus.Logger) *Analyzer {
	return &Analyzer{factory: factory, logger: logger}
}

// Analyze runs the configured backend and returns its decision, or a
// neutral hold when anything goes wrong. It never returns an error.
func (a *Analyzer) Analyze(ctx context.Context, settings Settings, snapshot models.MarketSnapshot, side models.Side) models.TradeDecision {
	backend, err := a.factory.Backend(settings)
	if err != nil {
		a.logger.WithError(err).WithField("provider", settings.Name).Warn("Decision provider unavailable")
		return models.HoldDecision(err.Error())
	}

	decision, err := backend.Decide(ctx, Request{Snapshot: snapshot, CurrentSide: side})
	if err != nil {
		a.logger.WithError(err).WithField("provider", backend.Name()).Warn("Decision provider failed")
		return models.HoldDecision(err.Error())
	}

	decision.Provider = backend.Name()
	decision.DecidedAt = time.Now()
	return decision
}

// decisionSchema documents the exact response shape every backend must
// produce.
type decisionSchema struct {
	Action     string `json:"action"`
	Leverage   int    `json:"leverage"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
}

// parseDecision coerces a backend's text response into a TradeDecision.
// Tolerates markdown code fences around the JSON object.
func parseDecision(text string) (models.TradeDecision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return models.TradeDecision{}, fmt.Errorf("no JSON object in provider response")
	}

	var raw decisionSchema
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return models.TradeDecision{}, fmt.Errorf("malformed provider response: %w", err)
	}

	action := models.Action(strings.ToUpper(strings.TrimSpace(raw.Action)))
	switch action {
	case models.ActionLong, models.ActionShort, models.ActionClose, models.ActionWait:
	default:
		return models.TradeDecision{}, fmt.Errorf("unknown action %q in provider response", raw.Action)
	}

	if raw.Leverage < 1 {
		raw.Leverage = 1
	}
	if raw.Confidence < 0 {
		raw.Confidence = 0
	}
	if raw.Confidence > 100 {
		raw.Confidence = 100
	}

	return models.TradeDecision{
		Action:     action,
		Leverage:   raw.Leverage,
		Reason:     raw.Reason,
		Confidence: raw.Confidence,
	}, nil
}
