package risk

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LedgerCore/internal/custody"
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

func newFixture(t *testing.T, reserveBalanceE6 int64) *fixture {
	t.Helper()
	admin := uuid.New()
	cfg := state.NewLedgerConfig(admin, "custody", "reserve", testTime)
	rs, err := state.NewRelayerSet(admin, []uuid.UUID{uuid.New()}, 1, testTime)
	require.NoError(t, err)

	f := &fixture{
		store:   state.NewStore(cfg, rs),
		custody: custody.NewMemoryCustody(),
		reserve: custody.NewMemoryReserve(reserveBalanceE6, 0),
		rec:     &captureRecorder{},
		admin:   admin,
		user:    uuid.New(),
	}
	f.engine = NewEngine(f.store, f.custody, f.reserve, f.rec, testutil.NopLogger(), testutil.TestMetrics())
	f.engine.SetClock(func() int64 { return testTime })
	return f
}

// seedPosition installs a long 1.0 @ $50,000 10x with $5,000 margin.
func (f *fixture) seedPosition(t *testing.T, side state.Side) {
	t.Helper()
	txn := f.store.Begin()
	pos, err := state.NewPosition(f.user, market, side, sizeOne, priceE6, 10, 5_000_000_000, testTime)
	require.NoError(t, err)
	txn.PutPosition(pos)
	txn.Commit()
	f.custody.Deposit(f.user, 5_000_000_000)
	require.NoError(t, f.custody.LockMargin(context.Background(), f.user, 5_000_000_000))
}

func TestSplitLiquidation(t *testing.T) {
	// $1,000 equity left: 1% penalty, user keeps the rest.
	remainder, penalty, shortfall, err := SplitLiquidation(5_000_000_000, -4_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(990_000_000), remainder)
	assert.Equal(t, uint64(10_000_000), penalty)
	assert.Equal(t, uint64(0), shortfall)

	// Bankruptcy: $500 deficit becomes reserve shortfall.
	remainder, penalty, shortfall, err = SplitLiquidation(5_000_000_000, -5_500_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), remainder)
	assert.Equal(t, uint64(0), penalty)
	assert.Equal(t, uint64(500_000_000), shortfall)

	// Exactly zero equity is a bankruptcy with zero shortfall.
	remainder, penalty, shortfall, err = SplitLiquidation(5_000_000_000, -5_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), remainder)
	assert.Equal(t, uint64(0), penalty)
	assert.Equal(t, uint64(0), shortfall)
}

func TestLiquidateNotLiquidatable(t *testing.T) {
	f := newFixture(t, 0)
	f.seedPosition(t, state.SideLong)

	// Above the $46,250 liquidation price.
	err := f.engine.Liquidate(context.Background(), f.user, market, 47_000_000_000)
	assert.ErrorIs(t, err, ErrPositionNotLiquidatable)
}

func TestLiquidateWithRemainder(t *testing.T) {
	f := newFixture(t, 0)
	f.seedPosition(t, state.SideLong)

	// Mark $46,000: pnl -$4,000, equity $1,000.
	require.NoError(t, f.engine.Liquidate(context.Background(), f.user, market, 46_000_000_000))

	pos, _ := f.store.GetPosition(f.user, market)
	assert.True(t, pos.IsEmpty())

	free, locked := f.custody.Balances(f.user)
	assert.Equal(t, int64(990_000_000), free)
	assert.Equal(t, int64(0), locked)
	assert.Equal(t, int64(10_000_000), f.reserve.LiquidationIncome())

	cfg := f.store.GetConfig()
	assert.Equal(t, uint64(1), cfg.TotalLiquidations)
	stats, _ := f.store.GetStats(f.user)
	assert.Equal(t, uint64(1), stats.TotalLiquidations)
	assert.Equal(t, int64(-4_000_000_000), stats.RealizedPnLE6)

	require.Len(t, f.rec.records, 1)
	assert.Equal(t, state.TradeLiquidation, f.rec.records[0].Type)
}

func TestLiquidateAccruesRealizedPnL(t *testing.T) {
	f := newFixture(t, 0)
	f.seedPosition(t, state.SideLong)

	// Mark $45,000: the full $5,000 margin is lost.
	require.NoError(t, f.engine.Liquidate(context.Background(), f.user, market, 45_000_000_000))

	stats, ok := f.store.GetStats(f.user)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.TotalLiquidations)
	assert.Equal(t, int64(-5_000_000_000), stats.RealizedPnLE6)
}

func TestLiquidateBankruptcyCoversShortfall(t *testing.T) {
	f := newFixture(t, 1_000_000_000)
	f.seedPosition(t, state.SideLong)

	// Mark $44,500: pnl -$5,500, equity -$500.
	require.NoError(t, f.engine.Liquidate(context.Background(), f.user, market, 44_500_000_000))

	assert.Equal(t, int64(500_000_000), f.reserve.ShortfallCovered())
	free, _ := f.custody.Balances(f.user)
	assert.Equal(t, int64(0), free)
}

func TestLiquidateMissingPosition(t *testing.T) {
	f := newFixture(t, 0)
	err := f.engine.Liquidate(context.Background(), f.user, market, priceE6)
	assert.ErrorIs(t, err, state.ErrPositionNotFound)
}

func seedMarked(t *testing.T, f *fixture, user uuid.UUID, side state.Side, pnlE6 int64) {
	t.Helper()
	txn := f.store.Begin()
	pos, err := state.NewPosition(user, market, side, sizeOne, priceE6, 10, 5_000_000_000, testTime)
	require.NoError(t, err)
	pos.UnrealizedPnLE6 = pnlE6
	txn.PutPosition(pos)
	txn.Commit()
}

func TestTriggerADLNotRequired(t *testing.T) {
	f := newFixture(t, 1_000_000_000)
	seedMarked(t, f, uuid.New(), state.SideShort, 100_000_000)

	_, err := f.engine.TriggerADL(context.Background(), f.admin, market, 500_000_000, state.SideLong)
	assert.ErrorIs(t, err, ErrADLNotRequired)
}

func TestTriggerADLAdminOnly(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.engine.TriggerADL(context.Background(), uuid.New(), market, 500_000_000, state.SideLong)
	assert.ErrorIs(t, err, state.ErrInvalidAdmin)
}

func TestTriggerADLNoOpposingPositions(t *testing.T) {
	f := newFixture(t, 0)
	// Same side as the bankruptcy and a loser: both filtered out.
	seedMarked(t, f, uuid.New(), state.SideLong, 100_000_000)
	seedMarked(t, f, uuid.New(), state.SideShort, -50_000_000)

	_, err := f.engine.TriggerADL(context.Background(), f.admin, market, 500_000_000, state.SideLong)
	assert.ErrorIs(t, err, ErrNoOpposingPositionsForADL)
}

func TestTriggerADLSelectsProfitableOpposing(t *testing.T) {
	f := newFixture(t, 100_000_000)
	winner := uuid.New()
	seedMarked(t, f, winner, state.SideShort, 300_000_000)
	seedMarked(t, f, uuid.New(), state.SideShort, -10_000_000) // skipped, losing
	seedMarked(t, f, uuid.New(), state.SideLong, 400_000_000)  // skipped, same side

	decision, err := f.engine.TriggerADL(context.Background(), f.admin, market, 600_000_000, state.SideLong)
	require.NoError(t, err)

	assert.Equal(t, int64(500_000_000), decision.RequiredE6)
	require.Len(t, decision.Targets, 1)
	assert.Equal(t, winner, decision.Targets[0].User)
	assert.Equal(t, int64(300_000_000), decision.TargetPnLE6)

	status, err := f.reserve.PoolStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.ADLInProgress)
	assert.Equal(t, uint64(1), f.store.GetConfig().TotalADLEvents)
}
