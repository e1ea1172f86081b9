package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcorwin/helmsman/internal/config"
	"github.com/jcorwin/helmsman/pkg/mexc"
	"github.com/jcorwin/helmsman/pkg/models"
	"github.com/jcorwin/helmsman/pkg/provider"
	"github.com/sirupsen/logrus"
)

// State of the trading cycle.
type State string

const (
	StateIdle      State = "IDLE"
	StateAnalyzing State = "ANALYZING"
	StateExecuting State = "EXECUTING"
)

// DecisionMaker is the never-fail analysis boundary.
type DecisionMaker interface {
	Analyze(ctx context.Context, settings provider.Settings, snapshot models.MarketSnapshot, side models.Side) models.TradeDecision
}

// TradeExecutor is the slice of the gateway the orchestrator needs.
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, auth mexc.Auth, req mexc.TradeRequest) (*models.Position, error)
}

// MarketSource publishes the latest market snapshot.
type MarketSource interface {
	Snapshot() (models.MarketSnapshot, bool)
}

// AccountSource publishes position state and accepts resync requests.
type AccountSource interface {
	CurrentSide() models.Side
	RequestSync()
}

const (
	cycleTimeout    = 2 * time.Minute
	decisionLogSize = 100
)

// Orchestrator drives the trading cycle state machine. Each tick reads
// the latest published market and account state, asks the decision
// provider for an action, and in live mode routes non-hold decisions
// to the exchange. One cycle must fully resolve before the next
// starts.
type Orchestrator struct {
	decider  DecisionMaker
	executor TradeExecutor
	markets  MarketSource
	accounts AccountSource
	cfg      *config.Store
	logger   *logrus.Logger

	mu        sync.RWMutex
	state     State
	decisions []models.TradeDecision

	inFlight atomic.Bool
	kickCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewOrchestrator(decider DecisionMaker, executor TradeExecutor, markets MarketSource, accounts AccountSource, cfg *config.Store, logger *logrus.Logger) *Orchestrator {
	o := &Orchestrator{
		decider:  decider,
		executor: executor,
		markets:  markets,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
		state:    StateIdle,
		kickCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	// Every published configuration change re-arms the cycle timer, so
	// a shortened interval or a toggled auto-trade flag never waits out
	// a pending tick at the old interval.
	cfg.Subscribe(func(config.Config) { o.Reconfigure() })
	return o
}

func (o *Orchestrator) Start(ctx context.Context) {
	go o.run(ctx)
}

func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Reconfigure tears down the current cycle timer and re-arms it with
// the latest configuration. Invoked through the store subscription on
// every update; the pending tick is discarded, never orphaned.
// Non-blocking, coalesces with a pending kick.
func (o *Orchestrator) Reconfigure() {
	select {
	case o.kickCh <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	for {
		interval := time.Duration(o.cfg.Snapshot().Trading.IntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-o.stopCh:
			timer.Stop()
			return
		case <-o.kickCh:
			timer.Stop()
		case <-timer.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one full cycle: IDLE -> ANALYZING -> (EXECUTING | IDLE) ->
// IDLE. Re-entrant calls while a cycle is unresolved are dropped.
func (o *Orchestrator) Tick(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer o.inFlight.Store(false)
	defer o.setState(StateIdle)

	cfg := o.cfg.Snapshot()
	if !cfg.Trading.AutoTrade {
		return
	}
	snapshot, ok := o.markets.Snapshot()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	o.setState(StateAnalyzing)
	side := o.accounts.CurrentSide()
	decision := o.decider.Analyze(ctx, provider.Settings{
		Name:   cfg.Provider.Name,
		APIKey: cfg.Provider.Key(),
		Model:  cfg.Provider.Model,
	}, snapshot, side)

	o.recordDecision(decision)

	log := o.logger.WithFields(logrus.Fields{
		"action":     decision.Action,
		"confidence": decision.Confidence,
		"provider":   decision.Provider,
	})
	if decision.Action == models.ActionWait {
		log.Info("Holding position")
		return
	}

	o.setState(StateExecuting)
	leverage := decision.Leverage
	if leverage <= 0 {
		leverage = cfg.Trading.Leverage
	}

	position, err := o.executor.ExecuteTrade(ctx, authFrom(cfg.Exchange), mexc.TradeRequest{
		Symbol:      cfg.Trading.Symbol,
		Action:      decision.Action,
		Leverage:    leverage,
		CurrentSide: side,
		MarketPrice: snapshot.LastPrice,
		Live:        cfg.Trading.Live,
	})
	if err != nil {
		// A decision that failed to execute must reach the operator.
		log.WithError(err).Error("Order execution failed")
		return
	}

	log.WithFields(logrus.Fields{
		"symbol":    position.Symbol,
		"price":     position.EntryPrice,
		"simulated": position.Simulated,
	}).Info("Order executed")

	if cfg.Trading.Live {
		o.accounts.RequestSync()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// State returns the current cycle phase.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) recordDecision(d models.TradeDecision) {
	o.mu.Lock()
	o.decisions = append(o.decisions, d)
	if len(o.decisions) > decisionLogSize {
		o.decisions = o.decisions[len(o.decisions)-decisionLogSize:]
	}
	o.mu.Unlock()
}

// Decisions returns the recent decision log, newest last.
func (o *Orchestrator) Decisions() []models.TradeDecision {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.TradeDecision, len(o.decisions))
	copy(out, o.decisions)
	return out
}
