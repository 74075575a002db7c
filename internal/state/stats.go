package state

import (
	"github.com/google/uuid"

	"LedgerCore/internal/fixedpoint"
)

// UserStats aggregates a user's lifetime activity. Created on first
// trade; volume saturates rather than wrapping.
type UserStats struct {
	User uuid.UUID

	TotalTrades       uint64
	TotalVolumeE6     uint64
	RealizedPnLE6     int64
	TotalFeesE6       uint64
	TotalFundingE6    int64
	TotalLiquidations uint64

	FirstTradeAt int64
	LastTradeAt  int64

	SchemaVersion uint16
}

// NewUserStats creates the record at the user's first trade.
func NewUserStats(user uuid.UUID, now int64) *UserStats {
	return &UserStats{
		User:          user,
		FirstTradeAt:  now,
		LastTradeAt:   now,
		SchemaVersion: SchemaVersion,
	}
}

// RecordTrade accumulates one settled trade.
func (s *UserStats) RecordTrade(notionalE6, feeE6 uint64, realizedE6 int64, now int64) error {
	s.TotalTrades = fixedpoint.SaturatingAddU64(s.TotalTrades, 1)
	s.TotalVolumeE6 = fixedpoint.SaturatingAddU64(s.TotalVolumeE6, notionalE6)
	s.TotalFeesE6 = fixedpoint.SaturatingAddU64(s.TotalFeesE6, feeE6)
	pnl, err := fixedpoint.AddI64(s.RealizedPnLE6, realizedE6)
	if err != nil {
		return err
	}
	s.RealizedPnLE6 = pnl
	s.LastTradeAt = now
	return nil
}

// RecordFunding accumulates a funding payment (positive = user paid).
func (s *UserStats) RecordFunding(paymentE6 int64, now int64) error {
	total, err := fixedpoint.AddI64(s.TotalFundingE6, paymentE6)
	if err != nil {
		return err
	}
	s.TotalFundingE6 = total
	s.LastTradeAt = now
	return nil
}

// RecordLiquidation accrues a forced close: the realized loss (or gain)
// counts toward lifetime PnL just like a voluntary close.
func (s *UserStats) RecordLiquidation(realizedE6 int64, now int64) error {
	pnl, err := fixedpoint.AddI64(s.RealizedPnLE6, realizedE6)
	if err != nil {
		return err
	}
	s.RealizedPnLE6 = pnl
	s.TotalLiquidations = fixedpoint.SaturatingAddU64(s.TotalLiquidations, 1)
	s.LastTradeAt = now
	return nil
}

// Clone returns a copy for transaction staging.
func (s *UserStats) Clone() *UserStats {
	cp := *s
	return &cp
}
