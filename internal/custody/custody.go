// Package custody defines the two external collaborators the ledger
// settles against: the custody service that holds user collateral, and
// the reserve pool that absorbs penalties and shortfalls. The ledger
// never moves funds itself; it instructs these services and treats any
// refusal as fatal for the operation in flight.
package custody

import (
	"context"
	"crypto/sha256"

	"github.com/google/uuid"
)

// credentialDomain separates ledger caller credentials from any other
// SHA-256 use of the program identity.
const credentialDomain = "LEDGERCORE_CALLER_V1"

// Credential identifies the ledger to its collaborators. Derived
// deterministically from the program identity so both sides can compute
// and compare it.
type Credential struct {
	Service string
	Key     [32]byte
}

// DeriveCredential computes the caller credential for a program identity.
func DeriveCredential(programID string) Credential {
	h := sha256.New()
	h.Write([]byte(credentialDomain))
	h.Write([]byte(programID))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return Credential{Service: programID, Key: key}
}

// Custody is the collateral-holding collaborator. Amounts are e6-scaled.
type Custody interface {
	// LockMargin moves amount from the user's free balance into the
	// locked margin pool.
	LockMargin(ctx context.Context, user uuid.UUID, amountE6 uint64) error

	// ReleaseMargin returns locked margin to the user's free balance.
	ReleaseMargin(ctx context.Context, user uuid.UUID, amountE6 uint64) error

	// SettleClose releases margin, applies realized PnL (which may be
	// negative), and deducts the fee, in one settlement.
	SettleClose(ctx context.Context, user uuid.UUID, marginReleasedE6 uint64, realizedPnLE6 int64, feeE6 uint64) error

	// LiquidatePosition seizes the position's margin and pays the user
	// their remainder after the penalty.
	LiquidatePosition(ctx context.Context, user uuid.UUID, marginE6, userRemainderE6, penaltyE6 uint64) error
}

// PoolStatus is the reserve pool snapshot used for ADL gating.
type PoolStatus struct {
	BalanceE6      int64 `json:"balance_e6"`
	ADLThresholdE6 int64 `json:"adl_threshold_e6"`
	ADLInProgress  bool  `json:"adl_in_progress"`
}

// Reserve is the venue reserve pool collaborator.
type Reserve interface {
	// AddLiquidationIncome credits a liquidation penalty to the pool.
	AddLiquidationIncome(ctx context.Context, amountE6 uint64) error

	// AddADLProfit credits profit clawed back through ADL.
	AddADLProfit(ctx context.Context, amountE6 uint64) error

	// AddTradingFee credits a trading fee to the pool.
	AddTradingFee(ctx context.Context, amountE6 uint64) error

	// CoverShortfall draws down the pool to absorb a bankruptcy loss.
	CoverShortfall(ctx context.Context, amountE6 uint64) error

	// SetADLInProgress flags that auto-deleveraging has been triggered.
	SetADLInProgress(ctx context.Context, inProgress bool) error

	// PoolStatus reports the pool balance and ADL state.
	PoolStatus(ctx context.Context) (PoolStatus, error)
}
