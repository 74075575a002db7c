package custody

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrInsufficientBalance = errors.New("custody: insufficient free balance")

// MemoryCustody is an in-process custody service: per-user free and
// locked balances guarded by one mutex. Used in tests and single-process
// deployments.
type MemoryCustody struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*memoryAccount

	// FailNext, when set, makes the next call return the given error.
	// Lets tests exercise abort paths.
	failNext error
}

type memoryAccount struct {
	freeE6   int64
	lockedE6 int64
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{accounts: make(map[uuid.UUID]*memoryAccount)}
}

// Deposit credits a user's free balance. Test setup helper.
func (m *MemoryCustody) Deposit(user uuid.UUID, amountE6 int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(user).freeE6 += amountE6
}

// Balances returns (free, locked) for a user.
func (m *MemoryCustody) Balances(user uuid.UUID) (int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.account(user)
	return acct.freeE6, acct.lockedE6
}

// FailNextCall makes the next custody call return err.
func (m *MemoryCustody) FailNextCall(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MemoryCustody) account(user uuid.UUID) *memoryAccount {
	acct, ok := m.accounts[user]
	if !ok {
		acct = &memoryAccount{}
		m.accounts[user] = acct
	}
	return acct
}

func (m *MemoryCustody) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MemoryCustody) LockMargin(_ context.Context, user uuid.UUID, amountE6 uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	acct := m.account(user)
	if acct.freeE6 < int64(amountE6) {
		return ErrInsufficientBalance
	}
	acct.freeE6 -= int64(amountE6)
	acct.lockedE6 += int64(amountE6)
	return nil
}

func (m *MemoryCustody) ReleaseMargin(_ context.Context, user uuid.UUID, amountE6 uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	acct := m.account(user)
	acct.lockedE6 -= int64(amountE6)
	acct.freeE6 += int64(amountE6)
	return nil
}

func (m *MemoryCustody) SettleClose(_ context.Context, user uuid.UUID, marginReleasedE6 uint64, realizedPnLE6 int64, feeE6 uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	acct := m.account(user)
	acct.lockedE6 -= int64(marginReleasedE6)
	acct.freeE6 += int64(marginReleasedE6) + realizedPnLE6 - int64(feeE6)
	return nil
}

func (m *MemoryCustody) LiquidatePosition(_ context.Context, user uuid.UUID, marginE6, userRemainderE6, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	acct := m.account(user)
	acct.lockedE6 -= int64(marginE6)
	acct.freeE6 += int64(userRemainderE6)
	return nil
}

var _ Custody = (*MemoryCustody)(nil)

// MemoryReserve is an in-process reserve pool.
type MemoryReserve struct {
	mu sync.Mutex

	balanceE6      int64
	adlThresholdE6 int64
	adlInProgress  bool

	liquidationIncomeE6 int64
	adlProfitE6         int64
	tradingFeesE6       int64
	shortfallCoveredE6  int64

	failNext error
}

func NewMemoryReserve(balanceE6, adlThresholdE6 int64) *MemoryReserve {
	return &MemoryReserve{balanceE6: balanceE6, adlThresholdE6: adlThresholdE6}
}

// FailNextCall makes the next reserve call return err.
func (r *MemoryReserve) FailNextCall(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// ShortfallCovered reports the total drawn through CoverShortfall.
func (r *MemoryReserve) ShortfallCovered() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortfallCoveredE6
}

// LiquidationIncome reports the total credited penalties.
func (r *MemoryReserve) LiquidationIncome() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liquidationIncomeE6
}

func (r *MemoryReserve) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *MemoryReserve) AddLiquidationIncome(_ context.Context, amountE6 uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	r.balanceE6 += int64(amountE6)
	r.liquidationIncomeE6 += int64(amountE6)
	return nil
}

func (r *MemoryReserve) AddADLProfit(_ context.Context, amountE6 uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	r.balanceE6 += int64(amountE6)
	r.adlProfitE6 += int64(amountE6)
	return nil
}

func (r *MemoryReserve) AddTradingFee(_ context.Context, amountE6 uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	r.balanceE6 += int64(amountE6)
	r.tradingFeesE6 += int64(amountE6)
	return nil
}

func (r *MemoryReserve) CoverShortfall(_ context.Context, amountE6 uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	r.balanceE6 -= int64(amountE6)
	r.shortfallCoveredE6 += int64(amountE6)
	return nil
}

func (r *MemoryReserve) SetADLInProgress(_ context.Context, inProgress bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	r.adlInProgress = inProgress
	return nil
}

func (r *MemoryReserve) PoolStatus(_ context.Context) (PoolStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return PoolStatus{}, err
	}
	return PoolStatus{
		BalanceE6:      r.balanceE6,
		ADLThresholdE6: r.adlThresholdE6,
		ADLInProgress:  r.adlInProgress,
	}, nil
}

var _ Reserve = (*MemoryReserve)(nil)
