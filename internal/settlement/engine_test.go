package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LedgerCore/internal/custody"
	"LedgerCore/internal/fixedpoint"
	"LedgerCore/internal/quorum"
	"LedgerCore/internal/state"
	"LedgerCore/internal/testutil"
)

const (
	market   = "BTC-PERP"
	priceE6  = uint64(50_000_000_000)
	sizeOne  = uint64(1_000_000)
	testTime = int64(1_700_000_000)
)

type captureRecorder struct {
	records []state.TradeRecord
}

func (c *captureRecorder) Record(rec state.TradeRecord) {
	c.records = append(c.records, rec)
}

type fixture struct {
	engine  *Engine
	store   *state.Store
	custody *custody.MemoryCustody
	reserve *custody.MemoryReserve
	rec     *captureRecorder
	admin   uuid.UUID
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	admin := uuid.New()
	cfg := state.NewLedgerConfig(admin, "custody", "reserve", testTime)
	rs, err := state.NewRelayerSet(admin, []uuid.UUID{uuid.New()}, 1, testTime)
	require.NoError(t, err)

	f := &fixture{
		store:   state.NewStore(cfg, rs),
		custody: custody.NewMemoryCustody(),
		reserve: custody.NewMemoryReserve(0, 0),
		rec:     &captureRecorder{},
		admin:   admin,
		user:    uuid.New(),
	}
	f.engine = NewEngine(f.store, f.custody, f.reserve, f.rec, testutil.NopLogger(), testutil.TestMetrics())
	f.engine.SetClock(func() int64 { return testTime })
	f.custody.Deposit(f.user, 20_000_000_000)
	return f
}

func (f *fixture) open(t *testing.T, side state.Side, size, price uint64, leverage uint8) {
	t.Helper()
	require.NoError(t, f.engine.OpenPosition(context.Background(), f.user, market, side, size, price, leverage))
}

func TestOpenPosition(t *testing.T) {
	f := newFixture(t)
	f.open(t, state.SideLong, sizeOne, priceE6, 10)

	pos, ok := f.store.GetPosition(f.user, market)
	require.True(t, ok)
	assert.Equal(t, state.SideLong, pos.Side)
	assert.Equal(t, sizeOne, pos.SizeE6)
	assert.Equal(t, priceE6, pos.EntryPriceE6)
	assert.Equal(t, uint64(5_000_000_000), pos.MarginE6)
	assert.Equal(t, uint64(46_250_000_000), pos.LiquidationPriceE6)

	// Custody locked margin plus the $50 fee.
	free, locked := f.custody.Balances(f.user)
	assert.Equal(t, int64(14_950_000_000), free)
	assert.Equal(t, int64(5_050_000_000), locked)

	cfg := f.store.GetConfig()
	assert.Equal(t, uint64(1), cfg.GlobalSequence)
	assert.Equal(t, uint64(1), cfg.TotalPositionsOpened)
	assert.Equal(t, uint64(50_000_000_000), cfg.TotalVolumeE6)
	assert.Equal(t, uint64(50_000_000), cfg.TotalFeesE6)

	stats, ok := f.store.GetStats(f.user)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.TotalTrades)
	assert.Equal(t, uint64(50_000_000), stats.TotalFeesE6)

	require.Len(t, f.rec.records, 1)
	assert.Equal(t, state.TradeOpen, f.rec.records[0].Type)
	assert.Equal(t, uint64(1), f.rec.records[0].Sequence)
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.OpenPosition(ctx, f.user, market, state.SideLong, 0, priceE6, 10)
	assert.ErrorIs(t, err, ErrInvalidTradeAmount)

	err = f.engine.OpenPosition(ctx, f.user, market, state.SideLong, sizeOne, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	err = f.engine.OpenPosition(ctx, f.user, market, state.SideLong, sizeOne, priceE6, 0)
	assert.ErrorIs(t, err, fixedpoint.ErrInvalidLeverage)

	err = f.engine.OpenPosition(ctx, f.user, market, state.SideLong, sizeOne, priceE6, 101)
	assert.ErrorIs(t, err, ErrLeverageExceedsMax)
}

func TestOpenWhilePaused(t *testing.T) {
	f := newFixture(t)
	txn := f.store.Begin()
	require.NoError(t, txn.Config().SetPaused(f.admin, true, testTime))
	txn.Commit()

	err := f.engine.OpenPosition(context.Background(), f.user, market, state.SideLong, sizeOne, priceE6, 10)
	assert.ErrorIs(t, err, state.ErrLedgerPaused)
}

func TestOpenOppositeSideRejected(t *testing.T) {
	f := newFixture(t)
	f.open(t, state.SideLong, sizeOne, priceE6, 10)

	err := f.engine.OpenPosition(context.Background(), f.user, market, state.SideShort, sizeOne, priceE6, 10)
	assert.ErrorIs(t, err, state.ErrInvalidPositionSide)
}

func TestOpenIncreaseAveragesEntry(t *testing.T) {
	f := newFixture(t)
	f.open(t, state.SideLong, sizeOne, priceE6, 10)
	f.open(t, state.SideLong, sizeOne, 60_000_000_000, 10)

	pos, _ := f.store.GetPosition(f.user, market)
	assert.Equal(t, uint64(2_000_000), pos.SizeE6)
	assert.Equal(t, uint64(55_000_000_000), pos.EntryPriceE6)
	assert.Equal(t, uint64(11_000_000_000), pos.MarginE6)
}

func TestCloseEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.open(t, state.SideLong, sizeOne, priceE6, 10)

	// Mark rises to $55,000; close the whole position.
	require.NoError(t, f.engine.ClosePosition(context.Background(), f.user, market, sizeOne, 55_000_000_000))

	pos, ok := f.store.GetPosition(f.user, market)
	require.True(t, ok)
	assert.True(t, pos.IsEmpty())

	// Margin back, $5,000 profit in, $55 close fee out.
	free, _ := f.custody.Balances(f.user)
	assert.Equal(t, int64(14_950_000_000)+5_000_000_000+5_000_000_000-55_000_000, free)

	cfg := f.store.GetConfig()
	assert.Equal(t, uint64(2), cfg.GlobalSequence)
	assert.Equal(t, uint64(1), cfg.TotalPositionsClosed)

	stats, _ := f.store.GetStats(f.user)
	assert.Equal(t, int64(5_000_000_000), stats.RealizedPnLE6)

	require.Len(t, f.rec.records, 2)
	assert.Equal(t, state.TradeClose, f.rec.records[1].Type)
	assert.Equal(t, int64(5_000_000_000), f.rec.records[1].RealizedPnLE6)
}

func TestClosePartial(t *testing.T) {
	f := newFixture(t)
	f.open(t, state.SideLong, sizeOne, priceE6, 10)

	require.NoError(t, f.engine.ClosePosition(context.Background(), f.user, market, 500_000, 55_000_000_000))

	pos, _ := f.store.GetPosition(f.user, market)
	assert.Equal(t, uint64(500_000), pos.SizeE6)
	assert.Equal(t, uint64(2_500_000_000), pos.MarginE6)
	assert.Equal(t, priceE6, pos.EntryPriceE6)
}

func TestCloseMissingPosition(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ClosePosition(context.Background(), f.user, market, sizeOne, priceE6)
	assert.ErrorIs(t, err, state.ErrPositionNotFound)
}

func TestCustodyFailureAbortsEverything(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("custody down")
	f.custody.FailNextCall(boom)

	err := f.engine.OpenPosition(context.Background(), f.user, market, state.SideLong, sizeOne, priceE6, 10)
	assert.ErrorIs(t, err, boom)

	// No position, no sequence, no record, balances untouched.
	_, ok := f.store.GetPosition(f.user, market)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), f.store.GetConfig().GlobalSequence)
	assert.Empty(t, f.rec.records)
	free, locked := f.custody.Balances(f.user)
	assert.Equal(t, int64(20_000_000_000), free)
	assert.Equal(t, int64(0), locked)
}

func TestApplyBatchAllOrNothing(t *testing.T) {
	f := newFixture(t)
	good := quorum.Trade{
		Type: state.TradeOpen, User: f.user, Market: market,
		Side: state.SideLong, SizeE6: sizeOne, PriceE6: priceE6, Leverage: 10,
	}
	bad := quorum.Trade{
		Type: state.TradeOpen, User: f.user, Market: market,
		Side: state.SideLong, SizeE6: 0, PriceE6: priceE6, Leverage: 10,
	}

	err := f.engine.ApplyBatch(context.Background(), 7, []quorum.Trade{good, bad})
	require.Error(t, err)

	_, ok := f.store.GetPosition(f.user, market)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), f.store.GetConfig().GlobalSequence)
	assert.Empty(t, f.rec.records)
}

func TestApplyBatchSequencesInOrder(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	f.custody.Deposit(other, 20_000_000_000)

	trades := []quorum.Trade{
		{Type: state.TradeOpen, User: f.user, Market: market, Side: state.SideLong, SizeE6: sizeOne, PriceE6: priceE6, Leverage: 10},
		{Type: state.TradeOpen, User: other, Market: market, Side: state.SideShort, SizeE6: sizeOne, PriceE6: priceE6, Leverage: 5},
	}
	require.NoError(t, f.engine.ApplyBatch(context.Background(), 7, trades))

	require.Len(t, f.rec.records, 2)
	assert.Equal(t, uint64(1), f.rec.records[0].Sequence)
	assert.Equal(t, uint64(2), f.rec.records[1].Sequence)
	assert.Equal(t, uint64(7), f.rec.records[0].BatchID)

	pos, _ := f.store.GetPosition(other, market)
	assert.Equal(t, state.SideShort, pos.Side)
}

func TestReserveCollectsFees(t *testing.T) {
	f := newFixture(t)
	f.open(t, state.SideLong, sizeOne, priceE6, 10)

	status, err := f.reserve.PoolStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), status.BalanceE6)
}
