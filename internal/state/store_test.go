package state

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, uuid.UUID) {
	t.Helper()
	admin := uuid.New()
	cfg := NewLedgerConfig(admin, "custody", "reserve", testTime)
	rs, err := NewRelayerSet(admin, []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}, 2, testTime)
	require.NoError(t, err)
	return NewStore(cfg, rs), admin
}

func TestTxnCommitAppliesStagedWrites(t *testing.T) {
	store, _ := newTestStore(t)
	user := uuid.New()

	txn := store.Begin()
	p, err := NewPosition(user, "BTC-PERP", SideLong, sizeOne, priceE6, 10, 5_000_000_000, testTime)
	require.NoError(t, err)
	txn.PutPosition(p)
	txn.Config().NextSequence()
	txn.Commit()

	got, ok := store.GetPosition(user, "BTC-PERP")
	require.True(t, ok)
	assert.Equal(t, sizeOne, got.SizeE6)
	assert.Equal(t, uint64(1), store.GetConfig().GlobalSequence)
}

func TestTxnAbortDiscardsStagedWrites(t *testing.T) {
	store, _ := newTestStore(t)
	user := uuid.New()

	txn := store.Begin()
	p, err := NewPosition(user, "BTC-PERP", SideLong, sizeOne, priceE6, 10, 5_000_000_000, testTime)
	require.NoError(t, err)
	txn.PutPosition(p)
	txn.Config().NextSequence()
	txn.Abort()

	_, ok := store.GetPosition(user, "BTC-PERP")
	assert.False(t, ok)
	assert.Equal(t, uint64(0), store.GetConfig().GlobalSequence)
}

func TestTxnMutationIsInvisibleUntilCommit(t *testing.T) {
	store, _ := newTestStore(t)
	user := uuid.New()

	txn := store.Begin()
	p, err := NewPosition(user, "BTC-PERP", SideLong, sizeOne, priceE6, 10, 5_000_000_000, testTime)
	require.NoError(t, err)
	txn.PutPosition(p)
	txn.Commit()

	txn = store.Begin()
	staged, ok := txn.Position(user, "BTC-PERP")
	require.True(t, ok)
	staged.Zero(testTime + 1)
	// Base record still intact before commit.
	base, _ := store.positions[PositionKey{User: user, Market: "BTC-PERP"}]
	assert.Equal(t, sizeOne, base.SizeE6)
	txn.Commit()

	got, _ := store.GetPosition(user, "BTC-PERP")
	assert.True(t, got.IsEmpty())
}

func TestStatsAutoCreated(t *testing.T) {
	store, _ := newTestStore(t)
	user := uuid.New()

	txn := store.Begin()
	st := txn.Stats(user, testTime)
	require.NoError(t, st.RecordTrade(50_000_000_000, 50_000_000, 0, testTime))
	txn.Commit()

	got, ok := store.GetStats(user)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.TotalTrades)
	assert.Equal(t, uint64(50_000_000_000), got.TotalVolumeE6)
	assert.Equal(t, testTime, got.FirstTradeAt)
}

func TestRelayerSetAdminOps(t *testing.T) {
	admin := uuid.New()
	r1, r2 := uuid.New(), uuid.New()
	rs, err := NewRelayerSet(admin, []uuid.UUID{r1, r2}, 2, testTime)
	require.NoError(t, err)

	outsider := uuid.New()
	assert.ErrorIs(t, rs.Add(outsider, uuid.New(), testTime), ErrInvalidAdmin)
	assert.ErrorIs(t, rs.Add(admin, r1, testTime), ErrRelayerExists)

	// Threshold must stay satisfiable.
	assert.ErrorIs(t, rs.Remove(admin, r2, testTime), ErrInvalidThreshold)
	require.NoError(t, rs.SetRequiredSignatures(admin, 1, testTime))
	require.NoError(t, rs.Remove(admin, r2, testTime))
	assert.False(t, rs.IsAuthorized(r2))
	assert.True(t, rs.IsAuthorized(r1))

	assert.ErrorIs(t, rs.SetRequiredSignatures(admin, 0, testTime), ErrInvalidThreshold)
	assert.ErrorIs(t, rs.SetRequiredSignatures(admin, 2, testTime), ErrInvalidThreshold)
}

func TestRelayerSetCapacity(t *testing.T) {
	admin := uuid.New()
	relayers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	rs, err := NewRelayerSet(admin, relayers, 3, testTime)
	require.NoError(t, err)
	assert.ErrorIs(t, rs.Add(admin, uuid.New(), testTime), ErrTooManyRelayers)
}

func TestConfigAdminOps(t *testing.T) {
	admin := uuid.New()
	cfg := NewLedgerConfig(admin, "custody", "reserve", testTime)

	outsider := uuid.New()
	assert.ErrorIs(t, cfg.SetPaused(outsider, true, testTime), ErrInvalidAdmin)

	require.NoError(t, cfg.SetPaused(admin, true, testTime))
	assert.ErrorIs(t, cfg.RequireActive(), ErrLedgerPaused)
	require.NoError(t, cfg.SetPaused(admin, false, testTime))
	require.NoError(t, cfg.RequireActive())

	next := uuid.New()
	require.NoError(t, cfg.UpdateAdmin(admin, next, testTime))
	assert.ErrorIs(t, cfg.SetPaused(admin, true, testTime), ErrInvalidAdmin)
	require.NoError(t, cfg.UpdateCustodyService(next, "custody-2", testTime))
	assert.Equal(t, "custody-2", cfg.CustodyService)
}
