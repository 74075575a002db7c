// Package risk owns the forced paths: liquidation of underwater
// positions and the gate that activates auto-deleveraging when the
// reserve pool cannot absorb a bankruptcy.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LedgerCore/internal/custody"
	"LedgerCore/internal/fixedpoint"
	"LedgerCore/internal/observability"
	"LedgerCore/internal/state"
)

var (
	ErrPositionNotLiquidatable   = errors.New("risk: position not below maintenance margin")
	ErrADLNotRequired            = errors.New("risk: reserve pool covers the shortfall")
	ErrNoOpposingPositionsForADL = errors.New("risk: no profitable opposing positions to delever")
)

// Recorder mirrors settlement.Recorder for liquidation audit rows.
type Recorder interface {
	Record(rec state.TradeRecord)
}

// Engine executes liquidations and ADL gating against the store.
type Engine struct {
	store   *state.Store
	custody custody.Custody
	reserve custody.Reserve
	rec     Recorder
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() int64
}

func NewEngine(store *state.Store, cust custody.Custody, reserve custody.Reserve, rec Recorder, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		custody: cust,
		reserve: reserve,
		rec:     rec,
		log:     log,
		metrics: metrics,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() int64) {
	e.now = now
}

// SplitLiquidation distributes a liquidated position's equity. Equity is
// margin plus unrealized PnL; non-positive equity is a bankruptcy and
// the whole deficit becomes a shortfall for the reserve. Otherwise the
// venue takes a 1% penalty and the user keeps the remainder.
func SplitLiquidation(marginE6 uint64, pnlE6 int64) (remainderE6, penaltyE6, shortfallE6 uint64, err error) {
	total, err := fixedpoint.AddI64(int64(marginE6), pnlE6)
	if err != nil {
		return 0, 0, 0, err
	}
	if total <= 0 {
		return 0, 0, uint64(-total), nil
	}
	penalty, err := fixedpoint.MulE6(total, fixedpoint.LiquidationPenaltyRateE6)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint64(total - penalty), uint64(penalty), 0, nil
}

// Liquidate closes an underwater position at the mark price. The seized
// margin settles through custody; the penalty funds the reserve and any
// bankruptcy shortfall is drawn back out of it.
func (e *Engine) Liquidate(ctx context.Context, user uuid.UUID, market string, markPriceE6 uint64) error {
	txn := e.store.Begin()
	defer txn.Abort()

	if err := txn.Config().RequireActive(); err != nil {
		return err
	}
	pos, ok := txn.Position(user, market)
	if !ok || pos.IsEmpty() {
		return state.ErrPositionNotFound
	}
	if !pos.ShouldLiquidate(markPriceE6) {
		return ErrPositionNotLiquidatable
	}

	now := e.now()
	pnl, err := pos.UnrealizedPnL(markPriceE6)
	if err != nil {
		return err
	}
	margin := pos.MarginE6
	side := pos.Side
	size := pos.SizeE6
	entry := pos.EntryPriceE6

	remainder, penalty, shortfall, err := SplitLiquidation(margin, pnl)
	if err != nil {
		return err
	}
	pos.Zero(now)

	cfg := txn.Config()
	seq := cfg.NextSequence()
	cfg.TotalLiquidations = fixedpoint.SaturatingAddU64(cfg.TotalLiquidations, 1)
	cfg.UpdatedAt = now
	if err := txn.Stats(user, now).RecordLiquidation(pnl, now); err != nil {
		return err
	}

	if err := e.custody.LiquidatePosition(ctx, user, margin, remainder, penalty); err != nil {
		return err
	}
	if penalty > 0 {
		if err := e.reserve.AddLiquidationIncome(ctx, penalty); err != nil {
			return err
		}
	}
	if shortfall > 0 {
		if err := e.reserve.CoverShortfall(ctx, shortfall); err != nil {
			return err
		}
	}
	txn.Commit()

	if e.rec != nil {
		e.rec.Record(state.TradeRecord{
			Sequence:         seq,
			User:             user,
			Market:           market,
			Type:             state.TradeLiquidation,
			Side:             side,
			SizeE6:           size,
			PriceE6:          markPriceE6,
			RealizedPnLE6:    pnl,
			MarginReleasedE6: remainder,
			Timestamp:        now,
		})
	}
	if e.metrics != nil {
		e.metrics.Liquidations.Inc()
		e.metrics.LiquidationPenaltyE6.Add(float64(penalty))
		e.metrics.LiquidationShortfallE6.Add(float64(shortfall))
		e.metrics.OpenPositions.Dec()
		e.metrics.TradesSettled.WithLabelValues(state.TradeLiquidation.String()).Inc()
	}
	e.log.Warn().
		Uint64("seq", seq).
		Str("user", user.String()).
		Str("market", market).
		Str("side", side.String()).
		Uint64("size_e6", size).
		Uint64("entry_e6", entry).
		Uint64("mark_e6", markPriceE6).
		Uint64("margin_e6", margin).
		Int64("pnl_e6", pnl).
		Uint64("remainder_e6", remainder).
		Uint64("penalty_e6", penalty).
		Uint64("shortfall_e6", shortfall).
		Msg("position liquidated")
	return nil
}
