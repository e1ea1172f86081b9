package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcorwin/helmsman/internal/config"
	"github.com/jcorwin/helmsman/pkg/mexc"
	"github.com/jcorwin/helmsman/pkg/models"
	"github.com/sirupsen/logrus"
)

// TickerSource is the slice of the gateway the market poller needs.
type TickerSource interface {
	GetTicker(ctx context.Context, symbol string, fwd mexc.Forwarding) (*models.Ticker, error)
}

// MarketPoller fetches the latest price snapshot on a fixed interval
// and maintains the bounded rolling history. A failed fetch leaves the
// previous snapshot in place; stale-but-present beats absent.
type MarketPoller struct {
	source   TickerSource
	cfg      *config.Store
	logger   *logrus.Logger
	mu       sync.RWMutex
	snapshot *models.MarketSnapshot
	inFlight atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMarketPoller(source TickerSource, cfg *config.Store, logger *logrus.Logger) *MarketPoller {
	return &MarketPoller{
		source: source,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (p *MarketPoller) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *MarketPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *MarketPoller) run(ctx context.Context) {
	p.Tick(ctx)
	for {
		interval := time.Duration(p.cfg.Snapshot().Trading.MarketPollSeconds) * time.Second
		if interval <= 0 {
			interval = 10 * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one poll. Single-flight: a tick that arrives while the
// previous one's network call is outstanding is skipped.
func (p *MarketPoller) Tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)

	cfg := p.cfg.Snapshot()
	fwd := forwardingFrom(cfg.Exchange)

	ticker, err := p.source.GetTicker(ctx, cfg.Trading.Symbol, fwd)
	if err != nil {
		p.logger.WithError(err).WithField("symbol", cfg.Trading.Symbol).Warn("Market poll failed")
		return
	}

	p.mu.Lock()
	prev := models.MarketSnapshot{Symbol: ticker.Symbol}
	if p.snapshot != nil && p.snapshot.Symbol == ticker.Symbol {
		prev = *p.snapshot
	}
	next := prev
	next.LastPrice = ticker.LastPrice
	next.ChangePercent = ticker.ChangePercent
	next.Volume24h = ticker.Volume24h
	next.CapturedAt = time.Now()
	next = next.AppendHistory(models.PricePoint{
		Label: next.CapturedAt.Format("15:04:05"),
		Price: ticker.LastPrice,
	})
	p.snapshot = &next
	p.mu.Unlock()
}

// Snapshot returns the latest published market state, if any.
func (p *MarketPoller) Snapshot() (models.MarketSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot == nil {
		return models.MarketSnapshot{}, false
	}
	return *p.snapshot, true
}

func forwardingFrom(e config.ExchangeConfig) mexc.Forwarding {
	style := mexc.ForwardQuery
	if e.ForwardStyle == string(mexc.ForwardPath) {
		style = mexc.ForwardPath
	}
	return mexc.Forwarding{Base: e.ForwardURL, Style: style}
}

func authFrom(e config.ExchangeConfig) mexc.Auth {
	return mexc.Auth{
		APIKey:     e.APIKey,
		APISecret:  e.APISecret,
		Forwarding: forwardingFrom(e),
	}
}
