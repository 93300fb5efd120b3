package liquidation

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/margin"
)

// residency tracks which alert kinds have already fired for a member
// since it last entered the index, so a Liquidating alert is not
// re-emitted on every tick: at most one alert per category fires per
// residency in the index.
type residency map[domain.AlertKind]bool

// Index is the liquidation index (spec component E): two logical
// ordered sets per monitored symbol (one long, one short, scored by
// liquidation price), plus the price-tick detection algorithm.
type Index struct {
	backend   Backend
	threshold decimal.Decimal // alert_threshold_pct

	// symMu linearizes detection per symbol: concurrent price ticks for
	// the same symbol are ordered by a per-symbol mutex.
	symMu sync.Map // symbol -> *sync.Mutex

	alertedMu sync.Mutex
	alerted   map[string]residency // key(symbol,side)+id -> residency

	log *zap.Logger
}

// New builds an Index over backend, alerting at threshold (e.g. 0.10
// for the spec's default 10%).
func New(backend Backend, threshold decimal.Decimal, log *zap.Logger) *Index {
	return &Index{
		backend:   backend,
		threshold: threshold,
		alerted:   make(map[string]residency),
		log:       log,
	}
}

func key(symbol string, side margin.Side) string {
	return fmt.Sprintf("%s:%s", symbol, side)
}

func residencyKey(symbol string, side margin.Side, id domain.Address) string {
	return key(symbol, side) + ":" + id.String()
}

// Upsert registers or reindexes p. It satisfies position.LiquidationIndexer
// so the position store can call it directly; the store does so when a
// position is newly open or its side or liquidation price changed.
// Since the store does not tell us the position's
// prior (symbol, side), both side keys under p.Symbol are cleared first
// — cheap, since per-symbol sets are small — making this safe to call
// both on first insert and on a side/liquidation-price change.
func (idx *Index) Upsert(p *domain.Position) {
	if err := idx.backend.Remove(key(p.Symbol, margin.Long), p.ID); err != nil && idx.log != nil {
		idx.log.Warn("liquidation index remove failed during upsert", zap.Error(err))
	}
	if err := idx.backend.Remove(key(p.Symbol, margin.Short), p.ID); err != nil && idx.log != nil {
		idx.log.Warn("liquidation index remove failed during upsert", zap.Error(err))
	}
	idx.clearResidency(p.Symbol, margin.Long, p.ID)
	idx.clearResidency(p.Symbol, margin.Short, p.ID)

	if err := idx.backend.Insert(key(p.Symbol, p.Side), p.ID, p.LiquidationPrice); err != nil && idx.log != nil {
		idx.log.Error("liquidation index insert failed",
			zap.String("symbol", p.Symbol), zap.Stringer("side", sideStringer(p.Side)), zap.Error(err))
	}
}

// Remove deregisters p, e.g. when it closes. Satisfies
// position.LiquidationIndexer.
func (idx *Index) Remove(p *domain.Position) {
	_ = idx.backend.Remove(key(p.Symbol, margin.Long), p.ID)
	_ = idx.backend.Remove(key(p.Symbol, margin.Short), p.ID)
	idx.clearResidency(p.Symbol, margin.Long, p.ID)
	idx.clearResidency(p.Symbol, margin.Short, p.ID)
}

func (idx *Index) clearResidency(symbol string, side margin.Side, id domain.Address) {
	idx.alertedMu.Lock()
	delete(idx.alerted, residencyKey(symbol, side, id))
	idx.alertedMu.Unlock()
}

// markAlerted records kind as fired for this member and reports true
// if it had not already fired since the member last entered the index;
// it reports false if it had.
func (idx *Index) markAlerted(symbol string, side margin.Side, id domain.Address, kind domain.AlertKind) bool {
	rk := residencyKey(symbol, side, id)
	idx.alertedMu.Lock()
	defer idx.alertedMu.Unlock()
	r, ok := idx.alerted[rk]
	if !ok {
		r = make(residency)
		idx.alerted[rk] = r
	}
	if r[kind] {
		return false
	}
	r[kind] = true
	return true
}

func (idx *Index) symbolLock(symbol string) *sync.Mutex {
	v, _ := idx.symMu.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Detect runs the liquidation-crossing check for a price tick on
// symbol at price P, returning every newly-crossed Alert, Long side
// before Short side; within a side, Liquidated alerts come first and
// Liquidating alerts second, each group in score-ascending order.
// Liquidated members are
// removed from the index before Detect returns, since the chain is
// the source of truth for the next refresh and removing here prevents
// duplicate alerts.
func (idx *Index) Detect(symbol string, price decimal.Decimal) ([]domain.Alert, error) {
	lock := idx.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	var alerts []domain.Alert
	var firstErr error

	longAlerts, err := idx.detectSide(symbol, margin.Long, price)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	alerts = append(alerts, longAlerts...)

	shortAlerts, err := idx.detectSide(symbol, margin.Short, price)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	alerts = append(alerts, shortAlerts...)

	return alerts, firstErr
}

// detectSide implements one side of the crossing check:
//
//	Long:  Liquidated when score >= P; Liquidating in [P*(1-t), P).
//	Short: Liquidated when score <= P; Liquidating in (P, P*(1+t)].
func (idx *Index) detectSide(symbol string, side margin.Side, price decimal.Decimal) ([]domain.Alert, error) {
	k := key(symbol, side)
	one := decimal.NewFromInt(1)

	var liquidatingLo, liquidatingHi Bound
	const liquidatingExcludesP = true // the P boundary belongs to Liquidated, not Liquidating

	var liquidated []Member
	var err error
	if side == margin.Long {
		liquidated, err = idx.backend.Range(k, At(price), Unbounded()) // [P, +inf)
		band := price.Mul(one.Sub(idx.threshold))
		liquidatingLo, liquidatingHi = At(band), At(price) // [P*(1-t), P)
	} else {
		liquidated, err = idx.backend.Range(k, Unbounded(), At(price)) // (-inf, P]
		band := price.Mul(one.Add(idx.threshold))
		liquidatingLo, liquidatingHi = At(price), At(band) // (P, P*(1+t)]
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "liquidation range query failed for %s", k)
	}

	liquidating, err := idx.backend.Range(k, liquidatingLo, liquidatingHi)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "liquidation range query failed for %s", k)
	}

	liquidatedSet := make(map[domain.Address]bool, len(liquidated))
	var alerts []domain.Alert
	for _, m := range liquidated {
		liquidatedSet[m.ID] = true
		if !idx.markAlerted(symbol, side, m.ID, domain.Liquidated) {
			continue
		}
		alerts = append(alerts, domain.Alert{
			PositionID:       m.ID,
			Symbol:           symbol,
			Side:             side,
			LiquidationPrice: m.Score,
			CurrentPrice:     price,
			Kind:             domain.Liquidated,
		})
	}

	for _, m := range liquidating {
		if liquidatingExcludesP && m.Score.Equal(price) {
			continue // boundary member already counted as Liquidated
		}
		if liquidatedSet[m.ID] {
			continue
		}
		if !idx.markAlerted(symbol, side, m.ID, domain.Liquidating) {
			continue
		}
		alerts = append(alerts, domain.Alert{
			PositionID:       m.ID,
			Symbol:           symbol,
			Side:             side,
			LiquidationPrice: m.Score,
			CurrentPrice:     price,
			Kind:             domain.Liquidating,
		})
	}

	// Remove liquidated members now; the chain is the source of truth
	// for the next refresh.
	for id := range liquidatedSet {
		if err := idx.backend.Remove(k, id); err != nil && idx.log != nil {
			idx.log.Warn("failed to remove liquidated member", zap.String("key", k), zap.Error(err))
		}
	}

	return alerts, nil
}

type sideStringer margin.Side

func (s sideStringer) String() string { return margin.Side(s).String() }
