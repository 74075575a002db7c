package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

// All ledger quantities are fixed-point integers scaled by 1e6.
// Intermediate products are carried in 128-bit via big.Int so that
// size * price style expressions cannot silently wrap.
const (
	ScaleE6 = 1_000_000

	// MaxLeverage is the venue-wide leverage cap.
	MaxLeverage = 100

	// MaintenanceMarginRateE6 is 2.5% expressed in e6.
	MaintenanceMarginRateE6 = 25_000

	// LiquidationPenaltyRateE6 is the 1% penalty taken from remaining
	// equity when a position is liquidated.
	LiquidationPenaltyRateE6 = 10_000

	// TradeFeeRateE6 is the 0.1% taker fee applied to settled notional.
	TradeFeeRateE6 = 1_000
)

var (
	ErrOverflow        = errors.New("fixedpoint: arithmetic overflow")
	ErrDivideByZero    = errors.New("fixedpoint: division by zero")
	ErrInvalidLeverage = errors.New("fixedpoint: leverage must be between 1 and 100")
)

var wideScale = big.NewInt(ScaleE6)

// widePool holds big.Ints reused for 128-bit intermediates.
var widePool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return widePool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetInt64(0)
	widePool.Put(v)
}

// AddI64 returns a+b, or ErrOverflow if the sum wraps.
func AddI64(a, b int64) (int64, error) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, ErrOverflow
	}
	return c, nil
}

// SubI64 returns a-b, or ErrOverflow if the difference wraps.
func SubI64(a, b int64) (int64, error) {
	c := a - b
	if (b > 0 && c > a) || (b < 0 && c < a) {
		return 0, ErrOverflow
	}
	return c, nil
}

// MulI64 returns a*b with a 128-bit intermediate check.
func MulI64(a, b int64) (int64, error) {
	p := getWide()
	defer putWide(p)
	p.Mul(big.NewInt(a), big.NewInt(b))
	if !p.IsInt64() {
		return 0, ErrOverflow
	}
	return p.Int64(), nil
}

// AddU64 returns a+b, or ErrOverflow if the sum wraps.
func AddU64(a, b uint64) (uint64, error) {
	c := a + b
	if c < a {
		return 0, ErrOverflow
	}
	return c, nil
}

// SubU64 returns a-b, or ErrOverflow if b exceeds a.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// SaturatingAddU64 returns a+b clamped at the uint64 maximum. Used for
// lifetime counters where wrapping would corrupt aggregates but a clamp
// is acceptable.
func SaturatingAddU64(a, b uint64) uint64 {
	c := a + b
	if c < a {
		return ^uint64(0)
	}
	return c
}

// MulE6 computes a*b/1e6 with a 128-bit intermediate, truncating toward
// zero. Both operands are e6-scaled, so the result stays e6-scaled.
func MulE6(a, b int64) (int64, error) {
	p := getWide()
	defer putWide(p)
	p.Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(p, wideScale)
	if !p.IsInt64() {
		return 0, ErrOverflow
	}
	return p.Int64(), nil
}

// DivE6 computes a*1e6/b with a 128-bit intermediate, truncating toward
// zero. Dividing two e6 quantities yields an e6 ratio.
func DivE6(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	p := getWide()
	defer putWide(p)
	p.Mul(big.NewInt(a), wideScale)
	p.Quo(p, big.NewInt(b))
	if !p.IsInt64() {
		return 0, ErrOverflow
	}
	return p.Int64(), nil
}

// RequiredMargin computes size * price / leverage / 1e6.
// size and price are e6-scaled, so the result is the e6-scaled collateral
// that must be locked to carry the position.
func RequiredMargin(sizeE6, priceE6 uint64, leverage uint8) (uint64, error) {
	if leverage == 0 || leverage > MaxLeverage {
		return 0, ErrInvalidLeverage
	}
	p := getWide()
	defer putWide(p)
	p.Mul(new(big.Int).SetUint64(sizeE6), new(big.Int).SetUint64(priceE6))
	p.Quo(p, big.NewInt(int64(leverage)))
	p.Quo(p, wideScale)
	if !p.IsUint64() {
		return 0, ErrOverflow
	}
	return p.Uint64(), nil
}

// Fee computes size * price * rate / 1e12. rate is an e6 fraction
// (1_000 = 0.1%), and the double 1e6 divisor cancels the scales of the
// notional product and the rate.
func Fee(sizeE6, priceE6, rateE6 uint64) (uint64, error) {
	p := getWide()
	defer putWide(p)
	p.Mul(new(big.Int).SetUint64(sizeE6), new(big.Int).SetUint64(priceE6))
	p.Mul(p, new(big.Int).SetUint64(rateE6))
	p.Quo(p, wideScale)
	p.Quo(p, wideScale)
	if !p.IsUint64() {
		return 0, ErrOverflow
	}
	return p.Uint64(), nil
}

// Notional computes size * price / 1e6 for unsigned quantities.
func Notional(sizeE6, priceE6 uint64) (uint64, error) {
	p := getWide()
	defer putWide(p)
	p.Mul(new(big.Int).SetUint64(sizeE6), new(big.Int).SetUint64(priceE6))
	p.Quo(p, wideScale)
	if !p.IsUint64() {
		return 0, ErrOverflow
	}
	return p.Uint64(), nil
}

// WeightedEntryPrice folds a fill into an existing position and returns
// the new size-weighted average entry price, truncating toward zero.
func WeightedEntryPrice(oldSizeE6, oldEntryE6, addSizeE6, addPriceE6 uint64) (uint64, error) {
	if oldSizeE6 == 0 {
		return addPriceE6, nil
	}
	newSize, err := AddU64(oldSizeE6, addSizeE6)
	if err != nil {
		return 0, err
	}
	oldNotional := getWide()
	defer putWide(oldNotional)
	addNotional := getWide()
	defer putWide(addNotional)
	oldNotional.Mul(new(big.Int).SetUint64(oldSizeE6), new(big.Int).SetUint64(oldEntryE6))
	addNotional.Mul(new(big.Int).SetUint64(addSizeE6), new(big.Int).SetUint64(addPriceE6))
	oldNotional.Add(oldNotional, addNotional)
	oldNotional.Quo(oldNotional, new(big.Int).SetUint64(newSize))
	if !oldNotional.IsUint64() {
		return 0, ErrOverflow
	}
	return oldNotional.Uint64(), nil
}
