// Package funding applies periodic funding payments to positions.
// Payments accrue on the position record; collateral is not moved here,
// it settles through custody at the next close.
package funding

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LedgerCore/internal/fixedpoint"
	"LedgerCore/internal/observability"
	"LedgerCore/internal/state"
)

var ErrZeroIndexPrice = errors.New("funding: index price must be positive")

// Recorder mirrors settlement.Recorder for funding audit rows.
type Recorder interface {
	Record(rec state.TradeRecord)
}

// Engine settles funding against the store.
type Engine struct {
	store   *state.Store
	rec     Recorder
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() int64
}

func NewEngine(store *state.Store, rec Recorder, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
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

// Settle applies one funding payment to a position. The payment is the
// position's index-priced value times the rate; a positive rate means
// longs pay and shorts receive. Returns the signed payment from the
// user's perspective (positive = user paid).
func (e *Engine) Settle(user uuid.UUID, market string, rateE6 int64, indexPriceE6 uint64) (int64, error) {
	if indexPriceE6 == 0 {
		return 0, ErrZeroIndexPrice
	}

	txn := e.store.Begin()
	defer txn.Abort()

	if err := txn.Config().RequireActive(); err != nil {
		return 0, err
	}
	pos, ok := txn.Position(user, market)
	if !ok || pos.IsEmpty() {
		return 0, state.ErrPositionNotFound
	}

	value, err := fixedpoint.Notional(pos.SizeE6, indexPriceE6)
	if err != nil {
		return 0, err
	}
	payment, err := fixedpoint.MulE6(int64(value), rateE6)
	if err != nil {
		return 0, err
	}
	if pos.Side == state.SideShort {
		payment = -payment
	}

	now := e.now()
	cumulative, err := fixedpoint.AddI64(pos.CumulativeFundingE6, payment)
	if err != nil {
		return 0, err
	}
	pos.CumulativeFundingE6 = cumulative
	pos.LastFundingAt = now
	// The funding tick carries a fresh index price, so revalue the PnL
	// snapshot that ADL target selection reads.
	if err := pos.RefreshUnrealizedPnL(indexPriceE6, now); err != nil {
		return 0, err
	}

	cfg := txn.Config()
	seq := cfg.NextSequence()
	cfg.UpdatedAt = now
	if err := txn.Stats(user, now).RecordFunding(payment, now); err != nil {
		return 0, err
	}
	side := pos.Side
	size := pos.SizeE6
	txn.Commit()

	if e.rec != nil {
		e.rec.Record(state.TradeRecord{
			Sequence:      seq,
			User:          user,
			Market:        market,
			Type:          state.TradeFunding,
			Side:          side,
			SizeE6:        size,
			PriceE6:       indexPriceE6,
			RealizedPnLE6: -payment,
			Timestamp:     now,
		})
	}
	if e.metrics != nil {
		e.metrics.FundingSettlements.Inc()
		e.metrics.TradesSettled.WithLabelValues(state.TradeFunding.String()).Inc()
	}
	e.log.Info().
		Uint64("seq", seq).
		Str("user", user.String()).
		Str("market", market).
		Str("side", side.String()).
		Int64("rate_e6", rateE6).
		Uint64("index_e6", indexPriceE6).
		Int64("payment_e6", payment).
		Int64("cumulative_e6", cumulative).
		Msg("funding settled")
	return payment, nil
}
