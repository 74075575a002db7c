package funding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LedgerCore/internal/state"
	"LedgerCore/internal/testutil"
)

const (
	market   = "BTC-PERP"
	testTime = int64(1_700_000_000)
)

func newFixture(t *testing.T) (*Engine, *state.Store, uuid.UUID) {
	t.Helper()
	admin := uuid.New()
	cfg := state.NewLedgerConfig(admin, "custody", "reserve", testTime)
	rs, err := state.NewRelayerSet(admin, []uuid.UUID{uuid.New()}, 1, testTime)
	require.NoError(t, err)
	store := state.NewStore(cfg, rs)

	engine := NewEngine(store, nil, testutil.NopLogger(), testutil.TestMetrics())
	engine.SetClock(func() int64 { return testTime })
	return engine, store, admin
}

func seed(t *testing.T, store *state.Store, side state.Side) uuid.UUID {
	t.Helper()
	user := uuid.New()
	txn := store.Begin()
	pos, err := state.NewPosition(user, market, side, 1_000_000, 50_000_000_000, 10, 5_000_000_000, testTime)
	require.NoError(t, err)
	txn.PutPosition(pos)
	txn.Commit()
	return user
}

func TestLongPaysPositiveRate(t *testing.T) {
	engine, store, _ := newFixture(t)
	user := seed(t, store, state.SideLong)

	// 0.01% of a $50,000 position is $5.
	payment, err := engine.Settle(user, market, 100, 50_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), payment)

	pos, _ := store.GetPosition(user, market)
	assert.Equal(t, int64(5_000_000), pos.CumulativeFundingE6)
	assert.Equal(t, testTime, pos.LastFundingAt)

	stats, ok := store.GetStats(user)
	require.True(t, ok)
	assert.Equal(t, int64(5_000_000), stats.TotalFundingE6)
}

func TestShortReceivesPositiveRate(t *testing.T) {
	engine, store, _ := newFixture(t)
	user := seed(t, store, state.SideShort)

	payment, err := engine.Settle(user, market, 100, 50_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-5_000_000), payment)

	pos, _ := store.GetPosition(user, market)
	assert.Equal(t, int64(-5_000_000), pos.CumulativeFundingE6)
}

func TestNegativeRateInverts(t *testing.T) {
	engine, store, _ := newFixture(t)
	long := seed(t, store, state.SideLong)
	short := seed(t, store, state.SideShort)

	lp, err := engine.Settle(long, market, -100, 50_000_000_000)
	require.NoError(t, err)
	sp, err := engine.Settle(short, market, -100, 50_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-5_000_000), lp)
	assert.Equal(t, int64(5_000_000), sp)
}

func TestFundingAccumulates(t *testing.T) {
	engine, store, _ := newFixture(t)
	user := seed(t, store, state.SideLong)

	_, err := engine.Settle(user, market, 100, 50_000_000_000)
	require.NoError(t, err)
	_, err = engine.Settle(user, market, 200, 50_000_000_000)
	require.NoError(t, err)

	pos, _ := store.GetPosition(user, market)
	assert.Equal(t, int64(15_000_000), pos.CumulativeFundingE6)
}

func TestFundingRefreshesUnrealizedPnL(t *testing.T) {
	engine, store, _ := newFixture(t)
	long := seed(t, store, state.SideLong)
	short := seed(t, store, state.SideShort)

	// Index $51,000 against a $50,000 entry.
	_, err := engine.Settle(long, market, 100, 51_000_000_000)
	require.NoError(t, err)
	_, err = engine.Settle(short, market, 100, 51_000_000_000)
	require.NoError(t, err)

	pos, _ := store.GetPosition(long, market)
	assert.Equal(t, int64(1_000_000_000), pos.UnrealizedPnLE6)
	pos, _ = store.GetPosition(short, market)
	assert.Equal(t, int64(-1_000_000_000), pos.UnrealizedPnLE6)
}

func TestFundingMissingPosition(t *testing.T) {
	engine, _, _ := newFixture(t)
	_, err := engine.Settle(uuid.New(), market, 100, 50_000_000_000)
	assert.ErrorIs(t, err, state.ErrPositionNotFound)
}

func TestFundingWhilePaused(t *testing.T) {
	engine, store, admin := newFixture(t)
	user := seed(t, store, state.SideLong)

	txn := store.Begin()
	require.NoError(t, txn.Config().SetPaused(admin, true, testTime))
	txn.Commit()

	_, err := engine.Settle(user, market, 100, 50_000_000_000)
	assert.ErrorIs(t, err, state.ErrLedgerPaused)
}

func TestFundingZeroIndex(t *testing.T) {
	engine, store, _ := newFixture(t)
	user := seed(t, store, state.SideLong)
	_, err := engine.Settle(user, market, 100, 0)
	assert.ErrorIs(t, err, ErrZeroIndexPrice)
}
