package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/liquidation"
	"github.com/lucidperp/posmon/pkg/margin"
	"github.com/lucidperp/posmon/pkg/onchain"
	"github.com/lucidperp/posmon/pkg/oracle"
	"github.com/lucidperp/posmon/pkg/position"
	"github.com/lucidperp/posmon/pkg/util"
)

// Config carries the Monitor section of params: the three
// task intervals plus the constants the PnL/liquidation cycles need.
type Config struct {
	PricePollInterval     time.Duration
	RefreshInterval       time.Duration
	PnLUpdateInterval     time.Duration
	MaintenanceMarginRate decimal.Decimal
	AlertThresholdPct     decimal.Decimal
}

// PositionUpdate is the event the PnL update task publishes for each
// open position it recomputes: the refreshed record plus its freshly
// computed margin ratio (margin ratio is not a stored Position field —
// it is always derived at publish time from the position's current
// margin, unrealized PnL, size and mark price).
type PositionUpdate struct {
	Position    domain.Position
	MarginRatio decimal.Decimal
}

// Runtime is the Monitor Runtime (component F): it owns the three
// periodic tasks and the broadcast channels subscribers read from.
type Runtime struct {
	cfg     Config
	store   *position.Store
	liq     *liquidation.Index
	oracle  *oracle.Client
	scanner ChainScanner
	clock   util.Clock
	log     *zap.Logger

	Prices    *Broadcaster[domain.PriceTick]
	Positions *Broadcaster[PositionUpdate]
	Alerts    *Broadcaster[domain.Alert]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRuntime wires a Runtime against an already-constructed store,
// liquidation index, oracle client and chain scanner.
func NewRuntime(cfg Config, store *position.Store, liq *liquidation.Index, oc *oracle.Client, scanner ChainScanner, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		cfg:       cfg,
		store:     store,
		liq:       liq,
		oracle:    oc,
		scanner:   scanner,
		clock:     util.RealClock{},
		log:       log,
		Prices:    NewBroadcaster[domain.PriceTick](100, "prices", log),
		Positions: NewBroadcaster[PositionUpdate](1000, "positions", log),
		Alerts:    NewBroadcaster[domain.Alert](1000, "alerts", log),
	}
}

// WithClock overrides the clock the periodic tasks schedule against.
// Intended for tests that need to drive ticks deterministically instead
// of waiting on real wall-clock intervals; production wiring never
// calls this and keeps the default util.RealClock.
func (r *Runtime) WithClock(c util.Clock) *Runtime {
	r.clock = c
	return r
}

// Start launches the three periodic tasks. Returns AlreadyRunning if
// called while a previous Start has not been Stop-ed.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return apperr.New(apperr.AlreadyRunning, "monitor runtime is already running")
	}
	r.running = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(3)
	go r.runTask(runCtx, r.cfg.PricePollInterval, r.pricePollCycle)
	go r.runTask(runCtx, r.cfg.RefreshInterval, r.refreshCycle)
	go r.runTask(runCtx, r.cfg.PnLUpdateInterval, r.pnlCycle)
	return nil
}

// Stop clears the running flag and waits for the in-flight iteration of
// each task to finish. Stop is advisory: a task that is
// mid-iteration completes it before observing the cancellation.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runtime) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// runTask is the common ticker loop every task follows: each tick it
// re-checks the running flag ("all tasks check a shared
// running flag each iteration") before running one iteration. Ticks
// come from r.clock, so a test can substitute a fake clock and drive
// iterations without waiting on real wall-clock intervals.
func (r *Runtime) runTask(ctx context.Context, interval time.Duration, iteration func(context.Context)) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(interval):
			if !r.isRunning() {
				return
			}
			iteration(ctx)
		}
	}
}

// pricePollCycle is one iteration of the price poll task (default
// 1000 ms): fetch every configured symbol's price, publish a
// PriceTick, then run liquidation detection against it. The PriceTick
// is always published before the detection pass it feeds, so any
// resulting alert's cause is already visible to subscribers.
func (r *Runtime) pricePollCycle(ctx context.Context) {
	for _, tick := range r.oracle.FetchAll(ctx) {
		r.Prices.Publish(tick)

		alerts, err := r.liq.Detect(tick.Symbol, tick.Price)
		if err != nil {
			r.log.Warn("liquidation detection skipped for symbol",
				zap.String("symbol", tick.Symbol), zap.Error(err))
			continue
		}
		for _, alert := range alerts {
			r.Alerts.Publish(alert)
		}
	}
}

// refreshCycle is one iteration of the on-chain refresh task (default
// 2000 ms): decode every scanned Position account and upsert it into
// the store, then remove any open position the scan no longer returned.
func (r *Runtime) refreshCycle(ctx context.Context) {
	records, err := r.scanner.ScanPositionAccounts(ctx)
	if err != nil {
		r.log.Warn("on-chain refresh scan failed", zap.Error(err))
		return
	}

	seen := make(map[domain.Address]struct{}, len(records))
	var decodeErrs error
	for _, rec := range records {
		pos, err := onchain.DecodePosition(rec.ID, rec.Owner, rec.Data)
		if err != nil {
			decodeErrs = multierr.Append(decodeErrs, fmt.Errorf("decoding position %s: %w", rec.ID, err))
			continue
		}
		seen[rec.ID] = struct{}{}
		r.store.Upsert(pos)
	}
	if decodeErrs != nil {
		r.log.Warn("on-chain refresh had decode failures", zap.Error(decodeErrs))
	}
	r.store.ReconcileSeen(seen)
}

// pnlCycle is one iteration of the PnL update task (default 2000 ms):
// for each open position with a cached mark price, recompute
// unrealized PnL and margin ratio and publish a PositionUpdate.
// Positions whose symbol has no cached price yet are skipped silently.
func (r *Runtime) pnlCycle(_ context.Context) {
	now := time.Now().UTC()
	var errs error
	for _, p := range r.store.All() {
		if !p.IsOpen() {
			continue
		}
		price, ok := r.oracle.GetCachedPrice(p.Symbol)
		if !ok {
			continue
		}

		p.MarkPrice = price
		p.UnrealizedPnL = margin.UnrealizedPnL(p.Side, p.Size, price, p.EntryPrice)
		ratio, err := margin.MarginRatio(p.Margin, p.UnrealizedPnL, p.Size, price)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("margin ratio for %s: %w", p.ID, err))
			continue
		}
		p.LastUpdate = now

		r.store.Upsert(p)
		r.Positions.Publish(PositionUpdate{Position: *p, MarginRatio: ratio})
	}
	if errs != nil {
		r.log.Warn("pnl update cycle had per-position failures", zap.Error(errs))
	}
}
