package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredMargin(t *testing.T) {
	// 1.0 unit at $50,000 with 10x leverage locks $5,000.
	margin, err := RequiredMargin(1_000_000, 50_000_000_000, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), margin)

	// 1x leverage locks the full notional.
	margin, err = RequiredMargin(1_000_000, 50_000_000_000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000_000), margin)

	// 100x is the cap.
	margin, err = RequiredMargin(1_000_000, 50_000_000_000, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), margin)
}

func TestRequiredMarginInvalidLeverage(t *testing.T) {
	_, err := RequiredMargin(1_000_000, 50_000_000_000, 0)
	assert.ErrorIs(t, err, ErrInvalidLeverage)

	_, err = RequiredMargin(1_000_000, 50_000_000_000, 101)
	assert.ErrorIs(t, err, ErrInvalidLeverage)
}

func TestFee(t *testing.T) {
	// 0.1% of $50,000 notional is $50.
	fee, err := Fee(1_000_000, 50_000_000_000, TradeFeeRateE6)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), fee)

	// Zero rate, zero fee.
	fee, err = Fee(1_000_000, 50_000_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fee)
}

func TestMulE6(t *testing.T) {
	// 2.0 * 3.0 = 6.0
	v, err := MulE6(2_000_000, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(6_000_000), v)

	// Sign handling: -2.0 * 3.0 = -6.0
	v, err = MulE6(-2_000_000, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-6_000_000), v)

	// Truncation toward zero, both signs.
	v, err = MulE6(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	v, err = MulE6(-1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestMulE6Overflow(t *testing.T) {
	_, err := MulE6(math.MaxInt64, math.MaxInt64)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDivE6(t *testing.T) {
	// 6.0 / 3.0 = 2.0
	v, err := DivE6(6_000_000, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), v)

	// Partial-close ratio: 0.5 / 2.0 = 0.25
	v, err = DivE6(500_000, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), v)

	_, err = DivE6(1_000_000, 0)
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestCheckedI64(t *testing.T) {
	_, err := AddI64(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = SubI64(math.MinInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	v, err := AddI64(-5, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)

	_, err = MulI64(math.MaxInt64, 2)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestCheckedU64(t *testing.T) {
	_, err := AddU64(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = SubU64(1, 2)
	assert.ErrorIs(t, err, ErrOverflow)

	assert.Equal(t, uint64(math.MaxUint64), SaturatingAddU64(math.MaxUint64, 10))
	assert.Equal(t, uint64(7), SaturatingAddU64(3, 4))
}

func TestWeightedEntryPrice(t *testing.T) {
	// Fresh position takes the fill price.
	p, err := WeightedEntryPrice(0, 0, 1_000_000, 50_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000_000), p)

	// 1.0 @ 50,000 plus 1.0 @ 60,000 averages to 55,000.
	p, err = WeightedEntryPrice(1_000_000, 50_000_000_000, 1_000_000, 60_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(55_000_000_000), p)

	// 3.0 @ 50,000 plus 1.0 @ 60,000 averages to 52,500.
	p, err = WeightedEntryPrice(3_000_000, 50_000_000_000, 1_000_000, 60_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(52_500_000_000), p)
}
