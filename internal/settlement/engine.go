// Package settlement applies trades to the ledger. Every operation runs
// inside a store transaction: state mutations stage against clones,
// collaborator calls are collected as intents and fired just before
// commit, and any failure aborts the whole operation with no partial
// state visible.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LedgerCore/internal/custody"
	"LedgerCore/internal/fixedpoint"
	"LedgerCore/internal/observability"
	"LedgerCore/internal/quorum"
	"LedgerCore/internal/state"
)

var (
	ErrInvalidTradeAmount = errors.New("settlement: trade size must be positive")
	ErrInvalidPrice       = errors.New("settlement: price must be positive")
	ErrLeverageExceedsMax = errors.New("settlement: leverage exceeds maximum")
)

// Recorder receives the audit row for every settled trade. Implemented
// by the persistence worker; a nil Recorder drops records.
type Recorder interface {
	Record(rec state.TradeRecord)
}

// Engine settles trades against the store and the custody/reserve
// collaborators.
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

// intent is a deferred collaborator call. Intents run in order right
// before commit; the first failure aborts the operation.
type intent struct {
	op   string
	call func(ctx context.Context) error
}

func (e *Engine) flush(ctx context.Context, intents []intent) error {
	for _, in := range intents {
		start := time.Now()
		err := in.call(ctx)
		if e.metrics != nil {
			e.metrics.CustodyCallDur.WithLabelValues(in.op).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if e.metrics != nil {
				e.metrics.CustodyCallErrors.WithLabelValues(in.op).Inc()
			}
			return fmt.Errorf("settlement: %s: %w", in.op, err)
		}
	}
	return nil
}

func (e *Engine) emit(records []state.TradeRecord) {
	if e.rec == nil {
		return
	}
	for _, rec := range records {
		e.rec.Record(rec)
	}
}

// OpenPosition opens or increases a position directly, outside a batch.
func (e *Engine) OpenPosition(ctx context.Context, user uuid.UUID, market string, side state.Side, sizeE6, priceE6 uint64, leverage uint8) error {
	return e.settleOne(ctx, "open", func(txn *state.Txn, intents *[]intent) (state.TradeRecord, error) {
		return e.applyOpen(txn, intents, quorum.Trade{
			Type:     state.TradeOpen,
			User:     user,
			Market:   market,
			Side:     side,
			SizeE6:   sizeE6,
			PriceE6:  priceE6,
			Leverage: leverage,
		}, 0)
	})
}

// ClosePosition closes up to sizeE6 of a position at the given mark,
// outside a batch.
func (e *Engine) ClosePosition(ctx context.Context, user uuid.UUID, market string, sizeE6, priceE6 uint64) error {
	return e.settleOne(ctx, "close", func(txn *state.Txn, intents *[]intent) (state.TradeRecord, error) {
		return e.applyClose(txn, intents, quorum.Trade{
			Type:    state.TradeClose,
			User:    user,
			Market:  market,
			SizeE6:  sizeE6,
			PriceE6: priceE6,
		}, 0)
	})
}

func (e *Engine) settleOne(ctx context.Context, op string, apply func(*state.Txn, *[]intent) (state.TradeRecord, error)) error {
	start := time.Now()
	txn := e.store.Begin()
	defer txn.Abort()

	if err := txn.Config().RequireActive(); err != nil {
		e.fail(op)
		return err
	}

	var intents []intent
	rec, err := apply(txn, &intents)
	if err != nil {
		e.fail(op)
		return err
	}
	if err := e.flush(ctx, intents); err != nil {
		e.fail(op)
		return err
	}
	txn.Commit()

	e.emit([]state.TradeRecord{rec})
	if e.metrics != nil {
		e.metrics.TradesSettled.WithLabelValues(rec.Type.String()).Inc()
		e.metrics.SettleDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.GlobalSequence.Set(float64(rec.Sequence))
	}
	return nil
}

func (e *Engine) fail(op string) {
	if e.metrics != nil {
		e.metrics.SettleErrors.WithLabelValues(op).Inc()
	}
}

// ApplyBatch settles an approved batch payload in array order inside one
// transaction. Implements quorum.Executor.
func (e *Engine) ApplyBatch(ctx context.Context, batchID uint64, trades []quorum.Trade) error {
	start := time.Now()
	txn := e.store.Begin()
	defer txn.Abort()

	if err := txn.Config().RequireActive(); err != nil {
		e.fail("batch")
		return err
	}

	var intents []intent
	records := make([]state.TradeRecord, 0, len(trades))
	for i, tr := range trades {
		var rec state.TradeRecord
		var err error
		switch tr.Type {
		case state.TradeOpen:
			rec, err = e.applyOpen(txn, &intents, tr, batchID)
		case state.TradeClose:
			rec, err = e.applyClose(txn, &intents, tr, batchID)
		default:
			err = fmt.Errorf("settlement: batch trade %d: unsupported type %s", i, tr.Type)
		}
		if err != nil {
			e.fail("batch")
			return fmt.Errorf("settlement: batch %d trade %d: %w", batchID, i, err)
		}
		records = append(records, rec)
	}
	if err := e.flush(ctx, intents); err != nil {
		e.fail("batch")
		return err
	}
	txn.Commit()

	e.emit(records)
	if e.metrics != nil {
		for _, rec := range records {
			e.metrics.TradesSettled.WithLabelValues(rec.Type.String()).Inc()
		}
		e.metrics.SettleDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
		if n := len(records); n > 0 {
			e.metrics.GlobalSequence.Set(float64(records[n-1].Sequence))
		}
	}
	return nil
}

// applyOpen stages one open trade: margin and fee are computed from the
// fill, the position is created or increased on the same side, and the
// custody lock plus reserve fee credit are queued as intents.
func (e *Engine) applyOpen(txn *state.Txn, intents *[]intent, tr quorum.Trade, batchID uint64) (state.TradeRecord, error) {
	var rec state.TradeRecord
	if tr.SizeE6 == 0 {
		return rec, ErrInvalidTradeAmount
	}
	if tr.PriceE6 == 0 {
		return rec, ErrInvalidPrice
	}
	if tr.Leverage == 0 {
		return rec, fixedpoint.ErrInvalidLeverage
	}
	if tr.Leverage > fixedpoint.MaxLeverage {
		return rec, ErrLeverageExceedsMax
	}
	if !tr.Side.Valid() {
		return rec, state.ErrInvalidPositionSide
	}

	now := e.now()
	margin, err := fixedpoint.RequiredMargin(tr.SizeE6, tr.PriceE6, tr.Leverage)
	if err != nil {
		return rec, err
	}
	fee, err := fixedpoint.Fee(tr.SizeE6, tr.PriceE6, fixedpoint.TradeFeeRateE6)
	if err != nil {
		return rec, err
	}
	lockTotal, err := fixedpoint.AddU64(margin, fee)
	if err != nil {
		return rec, err
	}
	notional, err := fixedpoint.Notional(tr.SizeE6, tr.PriceE6)
	if err != nil {
		return rec, err
	}

	pos, exists := txn.Position(tr.User, tr.Market)
	newPosition := !exists || pos.IsEmpty()
	if exists {
		if newPosition {
			// Reopening a zeroed record: leverage must be in place
			// before Increase caches the liquidation price.
			pos.Leverage = tr.Leverage
			pos.OpenedAt = now
		}
		if err := pos.Increase(tr.Side, tr.SizeE6, tr.PriceE6, margin, now); err != nil {
			return rec, err
		}
	} else {
		pos, err = state.NewPosition(tr.User, tr.Market, tr.Side, tr.SizeE6, tr.PriceE6, tr.Leverage, margin, now)
		if err != nil {
			return rec, err
		}
		txn.PutPosition(pos)
	}

	cfg := txn.Config()
	seq := cfg.NextSequence()
	cfg.TotalPositionsOpened = fixedpoint.SaturatingAddU64(cfg.TotalPositionsOpened, 1)
	cfg.AddVolume(notional)
	cfg.AddFees(fee)
	cfg.UpdatedAt = now

	stats := txn.Stats(tr.User, now)
	if err := stats.RecordTrade(notional, fee, 0, now); err != nil {
		return rec, err
	}

	user := tr.User
	*intents = append(*intents,
		intent{op: "lock_margin", call: func(ctx context.Context) error {
			return e.custody.LockMargin(ctx, user, lockTotal)
		}},
	)
	if fee > 0 {
		*intents = append(*intents, intent{op: "add_trading_fee", call: func(ctx context.Context) error {
			return e.reserve.AddTradingFee(ctx, fee)
		}})
	}

	if newPosition && e.metrics != nil {
		e.metrics.OpenPositions.Inc()
	}
	if e.metrics != nil {
		e.metrics.TradeVolumeE6.Add(float64(notional))
		e.metrics.TradeFeesE6.Add(float64(fee))
	}
	e.log.Info().
		Uint64("seq", seq).
		Str("user", tr.User.String()).
		Str("market", tr.Market).
		Str("side", tr.Side.String()).
		Uint64("size_e6", tr.SizeE6).
		Uint64("price_e6", tr.PriceE6).
		Uint8("leverage", tr.Leverage).
		Uint64("margin_e6", margin).
		Uint64("fee_e6", fee).
		Msg("position opened")

	return state.TradeRecord{
		Sequence:       seq,
		User:           tr.User,
		Market:         tr.Market,
		Type:           state.TradeOpen,
		Side:           tr.Side,
		SizeE6:         tr.SizeE6,
		PriceE6:        tr.PriceE6,
		FeeE6:          fee,
		MarginLockedE6: margin,
		BatchID:        batchID,
		Timestamp:      now,
	}, nil
}

// applyClose stages one close trade: the position realizes the pro-rata
// PnL at the fill price and custody settles margin, PnL and fee in one
// call.
func (e *Engine) applyClose(txn *state.Txn, intents *[]intent, tr quorum.Trade, batchID uint64) (state.TradeRecord, error) {
	var rec state.TradeRecord
	if tr.SizeE6 == 0 {
		return rec, ErrInvalidTradeAmount
	}
	if tr.PriceE6 == 0 {
		return rec, ErrInvalidPrice
	}

	pos, ok := txn.Position(tr.User, tr.Market)
	if !ok || pos.IsEmpty() {
		return rec, state.ErrPositionNotFound
	}
	side := pos.Side

	now := e.now()
	res, err := pos.Close(tr.SizeE6, tr.PriceE6, now)
	if err != nil {
		return rec, err
	}
	fee, err := fixedpoint.Fee(res.CloseSizeE6, tr.PriceE6, fixedpoint.TradeFeeRateE6)
	if err != nil {
		return rec, err
	}
	notional, err := fixedpoint.Notional(res.CloseSizeE6, tr.PriceE6)
	if err != nil {
		return rec, err
	}

	cfg := txn.Config()
	seq := cfg.NextSequence()
	cfg.TotalPositionsClosed = fixedpoint.SaturatingAddU64(cfg.TotalPositionsClosed, 1)
	cfg.AddVolume(notional)
	cfg.AddFees(fee)
	cfg.UpdatedAt = now

	stats := txn.Stats(tr.User, now)
	if err := stats.RecordTrade(notional, fee, res.RealizedPnLE6, now); err != nil {
		return rec, err
	}

	user := tr.User
	released := res.MarginReleasedE6
	realized := res.RealizedPnLE6
	*intents = append(*intents,
		intent{op: "settle_close", call: func(ctx context.Context) error {
			return e.custody.SettleClose(ctx, user, released, realized, fee)
		}},
	)
	if fee > 0 {
		*intents = append(*intents, intent{op: "add_trading_fee", call: func(ctx context.Context) error {
			return e.reserve.AddTradingFee(ctx, fee)
		}})
	}

	if res.FullClose && e.metrics != nil {
		e.metrics.OpenPositions.Dec()
	}
	if e.metrics != nil {
		e.metrics.TradeVolumeE6.Add(float64(notional))
		e.metrics.TradeFeesE6.Add(float64(fee))
	}
	e.log.Info().
		Uint64("seq", seq).
		Str("user", tr.User.String()).
		Str("market", tr.Market).
		Uint64("close_size_e6", res.CloseSizeE6).
		Uint64("price_e6", tr.PriceE6).
		Int64("realized_pnl_e6", res.RealizedPnLE6).
		Uint64("margin_released_e6", res.MarginReleasedE6).
		Uint64("fee_e6", fee).
		Bool("full_close", res.FullClose).
		Msg("position closed")

	return state.TradeRecord{
		Sequence:         seq,
		User:             tr.User,
		Market:           tr.Market,
		Type:             state.TradeClose,
		Side:             side,
		SizeE6:           res.CloseSizeE6,
		PriceE6:          tr.PriceE6,
		RealizedPnLE6:    res.RealizedPnLE6,
		FeeE6:            fee,
		MarginReleasedE6: res.MarginReleasedE6,
		BatchID:          batchID,
		Timestamp:        now,
	}, nil
}

var _ quorum.Executor = (*Engine)(nil)
