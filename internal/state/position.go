package state

import (
	"github.com/google/uuid"

	"LedgerCore/internal/fixedpoint"
)

// PositionKey addresses the single position a user may hold per market.
type PositionKey struct {
	User   uuid.UUID
	Market string
}

// Position is the per-(user, market) ledger record. LiquidationPriceE6 is
// cached on every mutation; UnrealizedPnLE6 is a snapshot refreshed by
// mark-price updates, not a live quote.
type Position struct {
	User   uuid.UUID
	Market string

	Side         Side
	SizeE6       uint64
	EntryPriceE6 uint64
	MarginE6     uint64
	Leverage     uint8

	LiquidationPriceE6 uint64
	UnrealizedPnLE6    int64

	CumulativeFundingE6 int64
	LastFundingAt       int64

	OpenedAt  int64
	UpdatedAt int64

	SchemaVersion uint16
}

// NewPosition opens a fresh position record. Caller validates size, price
// and leverage; this only assembles the record and caches the liquidation
// price.
func NewPosition(user uuid.UUID, market string, side Side, sizeE6, priceE6 uint64, leverage uint8, marginE6 uint64, now int64) (*Position, error) {
	p := &Position{
		User:          user,
		Market:        market,
		Side:          side,
		SizeE6:        sizeE6,
		EntryPriceE6:  priceE6,
		MarginE6:      marginE6,
		Leverage:      leverage,
		OpenedAt:      now,
		UpdatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
	liq, err := p.computeLiquidationPrice()
	if err != nil {
		return nil, err
	}
	p.LiquidationPriceE6 = liq
	return p, nil
}

// Key returns the map key for this position.
func (p *Position) Key() PositionKey {
	return PositionKey{User: p.User, Market: p.Market}
}

// IsEmpty reports whether the position carries no exposure. An empty
// position keeps its record but all economic fields are zero.
func (p *Position) IsEmpty() bool {
	return p.SizeE6 == 0
}

// computeLiquidationPrice derives the mark price at which remaining
// margin equals the maintenance requirement:
//
//	long:  entry * (1 - 1/leverage + mmr)
//	short: entry * (1 + 1/leverage - mmr)
func (p *Position) computeLiquidationPrice() (uint64, error) {
	if p.SizeE6 == 0 || p.Leverage == 0 {
		return 0, nil
	}
	inverseLeverage := int64(fixedpoint.ScaleE6) / int64(p.Leverage)
	var factor int64
	if p.Side == SideLong {
		factor = fixedpoint.ScaleE6 - inverseLeverage + fixedpoint.MaintenanceMarginRateE6
	} else {
		factor = fixedpoint.ScaleE6 + inverseLeverage - fixedpoint.MaintenanceMarginRateE6
	}
	if factor < 0 {
		return 0, nil
	}
	liq, err := fixedpoint.MulE6(int64(p.EntryPriceE6), factor)
	if err != nil {
		return 0, err
	}
	if liq < 0 {
		return 0, nil
	}
	return uint64(liq), nil
}

// UnrealizedPnL values the whole position at the given mark price.
// Long profits when mark > entry, short when mark < entry.
func (p *Position) UnrealizedPnL(markPriceE6 uint64) (int64, error) {
	if p.IsEmpty() {
		return 0, nil
	}
	diff, err := fixedpoint.SubI64(int64(markPriceE6), int64(p.EntryPriceE6))
	if err != nil {
		return 0, err
	}
	if p.Side == SideShort {
		diff = -diff
	}
	return fixedpoint.MulE6(diff, int64(p.SizeE6))
}

// RefreshUnrealizedPnL revalues the snapshot at a new mark price.
func (p *Position) RefreshUnrealizedPnL(markPriceE6 uint64, now int64) error {
	pnl, err := p.UnrealizedPnL(markPriceE6)
	if err != nil {
		return err
	}
	p.UnrealizedPnLE6 = pnl
	p.UpdatedAt = now
	return nil
}

// ShouldLiquidate reports whether mark has crossed the cached liquidation
// price on the losing side.
func (p *Position) ShouldLiquidate(markPriceE6 uint64) bool {
	if p.IsEmpty() {
		return false
	}
	if p.Side == SideLong {
		return markPriceE6 <= p.LiquidationPriceE6
	}
	return markPriceE6 >= p.LiquidationPriceE6
}

// Increase folds an additional same-side fill into the position: entry
// becomes the size-weighted average, margin is topped up by the caller,
// and the liquidation price is recomputed from the new entry.
func (p *Position) Increase(side Side, addSizeE6, addPriceE6, addMarginE6 uint64, now int64) error {
	if addSizeE6 == 0 {
		return ErrInvalidPositionSize
	}
	if !p.IsEmpty() && p.Side != side {
		return ErrInvalidPositionSide
	}
	entry, err := fixedpoint.WeightedEntryPrice(p.SizeE6, p.EntryPriceE6, addSizeE6, addPriceE6)
	if err != nil {
		return err
	}
	size, err := fixedpoint.AddU64(p.SizeE6, addSizeE6)
	if err != nil {
		return err
	}
	margin, err := fixedpoint.AddU64(p.MarginE6, addMarginE6)
	if err != nil {
		return err
	}
	p.Side = side
	p.SizeE6 = size
	p.EntryPriceE6 = entry
	p.MarginE6 = margin
	p.UpdatedAt = now
	liq, err := p.computeLiquidationPrice()
	if err != nil {
		return err
	}
	p.LiquidationPriceE6 = liq
	return nil
}

// CloseResult reports what a Close realized.
type CloseResult struct {
	CloseSizeE6      uint64
	RealizedPnLE6    int64
	MarginReleasedE6 uint64
	FullClose        bool
}

// Close reduces the position by up to requestedE6 at the given mark.
// Realized PnL and released margin are the pro-rata share of the closed
// fraction. A full close zeroes the record; a partial close keeps entry
// and leverage and recomputes the cached liquidation price.
func (p *Position) Close(requestedE6, markPriceE6 uint64, now int64) (CloseResult, error) {
	var res CloseResult
	if p.IsEmpty() {
		return res, ErrPositionNotFound
	}
	if requestedE6 == 0 {
		return res, ErrInvalidPositionSize
	}
	closeSize := requestedE6
	if closeSize > p.SizeE6 {
		closeSize = p.SizeE6
	}

	ratio, err := fixedpoint.DivE6(int64(closeSize), int64(p.SizeE6))
	if err != nil {
		return res, err
	}
	pnl, err := p.UnrealizedPnL(markPriceE6)
	if err != nil {
		return res, err
	}
	realized, err := fixedpoint.MulE6(pnl, ratio)
	if err != nil {
		return res, err
	}
	released, err := fixedpoint.MulE6(int64(p.MarginE6), ratio)
	if err != nil {
		return res, err
	}

	res = CloseResult{
		CloseSizeE6:      closeSize,
		RealizedPnLE6:    realized,
		MarginReleasedE6: uint64(released),
		FullClose:        closeSize == p.SizeE6,
	}

	if res.FullClose {
		p.Zero(now)
		return res, nil
	}

	p.SizeE6 -= closeSize
	p.MarginE6 -= uint64(released)
	p.UpdatedAt = now
	liq, err := p.computeLiquidationPrice()
	if err != nil {
		return res, err
	}
	p.LiquidationPriceE6 = liq
	return res, nil
}

// Zero clears all economic fields. The record survives so funding history
// and timestamps remain addressable.
func (p *Position) Zero(now int64) {
	p.Side = SideLong
	p.SizeE6 = 0
	p.EntryPriceE6 = 0
	p.MarginE6 = 0
	p.Leverage = 0
	p.LiquidationPriceE6 = 0
	p.UnrealizedPnLE6 = 0
	p.UpdatedAt = now
}

// Clone returns a copy for transaction staging.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
