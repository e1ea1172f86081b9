package trader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcorwin/helmsman/internal/config"
	"github.com/jcorwin/helmsman/pkg/mexc"
	"github.com/jcorwin/helmsman/pkg/models"
	"github.com/jcorwin/helmsman/pkg/provider"
)

type fakeDecider struct {
	decision models.TradeDecision
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeDecider) Analyze(ctx context.Context, settings provider.Settings, snapshot models.MarketSnapshot, side models.Side) models.TradeDecision {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.decision
}

type fakeExecutor struct {
	mu       sync.Mutex
	requests []mexc.TradeRequest
	err      error
}

func (f *fakeExecutor) ExecuteTrade(ctx context.Context, auth mexc.Auth, req mexc.TradeRequest) (*models.Position, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	side := models.SideLong
	if req.Action == models.ActionShort {
		side = models.SideShort
	}
	return &models.Position{
		Symbol:     req.Symbol,
		Side:       side,
		EntryPrice: req.MarketPrice,
		Leverage:   req.Leverage,
		Simulated:  !req.Live,
	}, nil
}

func (f *fakeExecutor) calls() []mexc.TradeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mexc.TradeRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeMarket struct {
	snapshot models.MarketSnapshot
	ok       bool
}

func (f *fakeMarket) Snapshot() (models.MarketSnapshot, bool) { return f.snapshot, f.ok }

type fakeAccounts struct {
	side  models.Side
	syncs atomic.Int32
}

func (f *fakeAccounts) CurrentSide() models.Side { return f.side }
func (f *fakeAccounts) RequestSync()             { f.syncs.Add(1) }

func liveStore() *config.Store {
	store := testStore()
	store.Update(func(c config.Config) config.Config {
		c.Trading.Live = true
		return c
	})
	return store
}

func newTestOrchestrator(decider *fakeDecider, executor *fakeExecutor, store *config.Store, side models.Side) (*Orchestrator, *fakeAccounts) {
	market := &fakeMarket{
		snapshot: models.MarketSnapshot{Symbol: "BTCUSDT", LastPrice: 50000, ChangePercent: 2.1},
		ok:       true,
	}
	accounts := &fakeAccounts{side: side}
	return NewOrchestrator(decider, executor, market, accounts, store, testLogger()), accounts
}

func TestOrchestratorLiveLongTriggersOneOrder(t *testing.T) {
	decider := &fakeDecider{decision: models.TradeDecision{Action: models.ActionLong, Leverage: 5, Confidence: 80}}
	executor := &fakeExecutor{}
	orch, accounts := newTestOrchestrator(decider, executor, liveStore(), models.SideNone)

	orch.Tick(context.Background())

	calls := executor.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one order call, got %d", len(calls))
	}
	req := calls[0]
	if req.Action != models.ActionLong || req.Leverage != 5 || !req.Live {
		t.Errorf("trade request wrong: %+v", req)
	}
	if req.MarketPrice != 50000 || req.CurrentSide != models.SideNone {
		t.Errorf("trade request state wrong: %+v", req)
	}
	if accounts.syncs.Load() != 1 {
		t.Errorf("expected one out-of-band resync, got %d", accounts.syncs.Load())
	}
	if orch.State() != StateIdle {
		t.Errorf("state after cycle = %s", orch.State())
	}
}

func TestOrchestratorSimulationSkipsResync(t *testing.T) {
	decider := &fakeDecider{decision: models.TradeDecision{Action: models.ActionLong, Leverage: 5, Confidence: 80}}
	executor := &fakeExecutor{}
	orch, accounts := newTestOrchestrator(decider, executor, testStore(), models.SideNone)

	orch.Tick(context.Background())

	calls := executor.calls()
	if len(calls) != 1 || calls[0].Live {
		t.Fatalf("expected one simulated execution, got %+v", calls)
	}
	if accounts.syncs.Load() != 0 {
		t.Errorf("simulation must not trigger account resync")
	}
}

func TestOrchestratorWaitDoesNotExecute(t *testing.T) {
	decider := &fakeDecider{decision: models.HoldDecision("nothing to do")}
	executor := &fakeExecutor{}
	orch, _ := newTestOrchestrator(decider, executor, liveStore(), models.SideNone)

	orch.Tick(context.Background())

	if len(executor.calls()) != 0 {
		t.Fatalf("WAIT decision reached the executor")
	}
	if got := orch.Decisions(); len(got) != 1 || got[0].Action != models.ActionWait {
		t.Errorf("decision log = %+v", got)
	}
}

func TestOrchestratorEntryConditions(t *testing.T) {
	decider := &fakeDecider{decision: models.TradeDecision{Action: models.ActionLong, Leverage: 5}}
	executor := &fakeExecutor{}

	// Auto-trading disabled.
	store := liveStore()
	store.Update(func(c config.Config) config.Config {
		c.Trading.AutoTrade = false
		return c
	})
	orch, _ := newTestOrchestrator(decider, executor, store, models.SideNone)
	orch.Tick(context.Background())
	if decider.calls.Load() != 0 {
		t.Error("cycle ran with auto-trading disabled")
	}

	// No market snapshot.
	market := &fakeMarket{ok: false}
	orch = NewOrchestrator(decider, executor, market, &fakeAccounts{side: models.SideNone}, liveStore(), testLogger())
	orch.Tick(context.Background())
	if decider.calls.Load() != 0 {
		t.Error("cycle ran without a market snapshot")
	}
}

// Two cycles must never overlap: a tick arriving while the previous
// cycle's execution is outstanding is dropped.
func TestOrchestratorSingleFlight(t *testing.T) {
	decider := &fakeDecider{
		decision: models.TradeDecision{Action: models.ActionLong, Leverage: 5},
		delay:    100 * time.Millisecond,
	}
	executor := &fakeExecutor{}
	orch, _ := newTestOrchestrator(decider, executor, liveStore(), models.SideNone)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orch.Tick(context.Background())
		}()
	}
	wg.Wait()

	if len(executor.calls()) != 1 {
		t.Fatalf("overlapping cycles executed %d orders", len(executor.calls()))
	}
	if decider.calls.Load() != 1 {
		t.Fatalf("overlapping cycles analyzed %d times", decider.calls.Load())
	}
}

// A published configuration change must tear down the pending cycle
// timer so the new interval takes effect immediately, not after the
// old timer fires once more.
func TestOrchestratorConfigUpdateRearmsCycleTimer(t *testing.T) {
	store := liveStore()
	decider := &fakeDecider{decision: models.HoldDecision("idle market")}
	orch, _ := newTestOrchestrator(decider, &fakeExecutor{}, store, models.SideNone)

	store.Update(func(c config.Config) config.Config {
		c.Trading.IntervalMinutes = 1
		return c
	})

	select {
	case <-orch.kickCh:
	default:
		t.Fatal("configuration update did not kick the cycle timer")
	}

	// Back-to-back updates coalesce into one pending kick instead of
	// blocking the updater.
	store.Update(func(c config.Config) config.Config {
		c.Trading.AutoTrade = false
		return c
	})
	store.Update(func(c config.Config) config.Config {
		c.Trading.AutoTrade = true
		return c
	})
	select {
	case <-orch.kickCh:
	default:
		t.Fatal("coalesced updates left no pending kick")
	}
	select {
	case <-orch.kickCh:
		t.Fatal("coalesced updates queued more than one kick")
	default:
	}
}

// The kick path must interrupt a long-armed timer inside the run loop
// itself, then re-arm and keep serving ticks.
func TestOrchestratorRunLoopSurvivesReconfigure(t *testing.T) {
	decider := &fakeDecider{decision: models.HoldDecision("idle market")}
	orch, _ := newTestOrchestrator(decider, &fakeExecutor{}, liveStore(), models.SideNone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		orch.run(ctx)
		close(done)
	}()

	orch.Reconfigure()
	orch.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after Stop")
	}
}

func TestOrchestratorExecutionFailureLoggedNotFatal(t *testing.T) {
	decider := &fakeDecider{decision: models.TradeDecision{Action: models.ActionShort, Leverage: 3}}
	executor := &fakeExecutor{err: errors.New("order rejected")}
	orch, accounts := newTestOrchestrator(decider, executor, liveStore(), models.SideNone)

	orch.Tick(context.Background())

	if orch.State() != StateIdle {
		t.Errorf("state after failed execution = %s", orch.State())
	}
	if accounts.syncs.Load() != 0 {
		t.Errorf("failed execution should not trigger resync")
	}

	// Next cycle proceeds normally.
	executor.err = nil
	orch.Tick(context.Background())
	if len(executor.calls()) != 2 {
		t.Errorf("loop did not recover after execution failure")
	}
}

func TestOrchestratorDecisionLogBounded(t *testing.T) {
	decider := &fakeDecider{decision: models.HoldDecision("idle market")}
	executor := &fakeExecutor{}
	orch, _ := newTestOrchestrator(decider, executor, liveStore(), models.SideNone)

	for i := 0; i < decisionLogSize+25; i++ {
		orch.Tick(context.Background())
	}
	if got := len(orch.Decisions()); got != decisionLogSize {
		t.Errorf("decision log length = %d, want %d", got, decisionLogSize)
	}
}
