package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcorwin/helmsman/internal/config"
	"github.com/jcorwin/helmsman/internal/session"
	"github.com/jcorwin/helmsman/pkg/mexc"
	"github.com/jcorwin/helmsman/pkg/models"
	"github.com/sirupsen/logrus"
)

// AccountGateway is the slice of the gateway the synchronizer needs.
type AccountGateway interface {
	GetSpotBalances(ctx context.Context, auth mexc.Auth) ([]models.Balance, error)
	GetFuturesAssets(ctx context.Context, auth mexc.Auth) ([]models.Balance, error)
	GetOpenPositions(ctx context.Context, auth mexc.Auth, symbol string) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, auth mexc.Auth, symbol string) ([]models.Order, error)
	GetOrderHistory(ctx context.Context, auth mexc.Auth, symbol string) ([]models.Order, error)
	GetDepositHistory(ctx context.Context, auth mexc.Auth) []models.Transfer
}

// AccountSynchronizer republishes a consistent account snapshot on a
// fixed interval while the session gate is open. Sub-calls run
// concurrently; a failed required call degrades status and keeps the
// previous snapshot. There is no synchronous retry; the next tick is
// the retry.
type AccountSynchronizer struct {
	gateway   AccountGateway
	cfg       *config.Store
	gate      *session.Gate
	logger    *logrus.Logger
	mu        sync.RWMutex
	snapshot  *models.AccountSnapshot
	status    models.SyncStatus
	inFlight  atomic.Bool
	refreshCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewAccountSynchronizer(gateway AccountGateway, cfg *config.Store, gate *session.Gate, logger *logrus.Logger) *AccountSynchronizer {
	return &AccountSynchronizer{
		gateway:   gateway,
		cfg:       cfg,
		gate:      gate,
		logger:    logger,
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (s *AccountSynchronizer) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *AccountSynchronizer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RequestSync asks for an out-of-band refresh, used after a live order
// fill. Non-blocking; coalesces with any pending request.
func (s *AccountSynchronizer) RequestSync() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

func (s *AccountSynchronizer) run(ctx context.Context) {
	for {
		interval := time.Duration(s.cfg.Snapshot().Trading.AccountSyncSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.refreshCh:
			timer.Stop()
			s.Tick(ctx)
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full synchronization. Skipped while the gate is closed
// or a previous tick is still in flight.
func (s *AccountSynchronizer) Tick(ctx context.Context) {
	if !s.gate.Authorized() {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	cfg := s.cfg.Snapshot()
	if !cfg.Exchange.HasCredentials() {
		return
	}
	auth := authFrom(cfg.Exchange)
	symbol := cfg.Trading.Symbol

	var (
		wg        sync.WaitGroup
		spot      []models.Balance
		futures   []models.Balance
		positions []models.Position
		open      []models.Order
		history   []models.Order
		transfers []models.Transfer
		errMu     sync.Mutex
		firstErr  error
	)

	record := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	wg.Add(6)
	go func() {
		defer wg.Done()
		var err error
		spot, err = s.gateway.GetSpotBalances(ctx, auth)
		record(err)
	}()
	go func() {
		defer wg.Done()
		var err error
		futures, err = s.gateway.GetFuturesAssets(ctx, auth)
		record(err)
	}()
	go func() {
		defer wg.Done()
		var err error
		positions, err = s.gateway.GetOpenPositions(ctx, auth, symbol)
		record(err)
	}()
	go func() {
		defer wg.Done()
		var err error
		open, err = s.gateway.GetOpenOrders(ctx, auth, symbol)
		record(err)
	}()
	go func() {
		defer wg.Done()
		var err error
		history, err = s.gateway.GetOrderHistory(ctx, auth, symbol)
		record(err)
	}()
	go func() {
		defer wg.Done()
		// Transfers are informational; the gateway already absorbs
		// their failures into an empty result.
		transfers = s.gateway.GetDepositHistory(ctx, auth)
	}()
	wg.Wait()

	if firstErr != nil {
		s.logger.WithError(firstErr).Warn("Account sync failed")
		s.mu.Lock()
		s.status = models.SyncStatusError
		if s.snapshot != nil {
			degraded := *s.snapshot
			degraded.Status = models.SyncStatusError
			s.snapshot = &degraded
		}
		s.mu.Unlock()
		return
	}

	next := models.AccountSnapshot{
		SpotBalances:    spot,
		FuturesBalances: futures,
		Positions:       positions,
		OpenOrders:      open,
		OrderHistory:    history,
		Transfers:       transfers,
		Status:          models.SyncStatusConnected,
		SyncedAt:        time.Now(),
	}

	s.mu.Lock()
	s.snapshot = &next
	s.status = models.SyncStatusConnected
	s.mu.Unlock()
}

// Snapshot returns the latest published account state, if any.
func (s *AccountSynchronizer) Snapshot() (models.AccountSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return models.AccountSnapshot{}, false
	}
	return *s.snapshot, true
}

// Status reflects only the most recent sync outcome.
func (s *AccountSynchronizer) Status() models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return models.SyncStatusError
	}
	return s.status
}

// CurrentSide reports the side of the open position, or SideNone when
// there is no snapshot or the position list is empty.
func (s *AccountSynchronizer) CurrentSide() models.Side {
	snap, ok := s.Snapshot()
	if !ok {
		return models.SideNone
	}
	return snap.CurrentSide()
}
