package risk

import (
	"context"

	"github.com/google/uuid"

	"LedgerCore/internal/fixedpoint"
	"LedgerCore/internal/state"
)

// ADLDecision reports why auto-deleveraging was activated and which
// positions are in scope. The forced closes themselves arrive later as
// ADL trades through the batch pipeline.
type ADLDecision struct {
	Market        string
	BankruptSide  state.Side
	ShortfallE6   uint64
	PoolBalanceE6 int64
	RequiredE6    int64
	Targets       []state.PositionKey
	TargetPnLE6   int64
}

// TriggerADL decides whether a bankruptcy shortfall forces
// auto-deleveraging. Admin only, venue unpaused. If the reserve pool can
// absorb the shortfall nothing happens; otherwise profitable positions
// opposing the bankrupt side are selected and the reserve is flagged.
// Candidates that fail the filter are skipped, not an error; having no
// valid target at all is.
func (e *Engine) TriggerADL(ctx context.Context, admin uuid.UUID, market string, shortfallE6 uint64, bankruptSide state.Side) (*ADLDecision, error) {
	txn := e.store.Begin()
	defer txn.Abort()

	cfg := txn.Config()
	if err := cfg.RequireAdmin(admin); err != nil {
		return nil, err
	}
	if err := cfg.RequireActive(); err != nil {
		return nil, err
	}

	status, err := e.reserve.PoolStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status.BalanceE6 >= int64(shortfallE6) {
		return nil, ErrADLNotRequired
	}
	required := int64(shortfallE6) - status.BalanceE6

	decision := &ADLDecision{
		Market:        market,
		BankruptSide:  bankruptSide,
		ShortfallE6:   shortfallE6,
		PoolBalanceE6: status.BalanceE6,
		RequiredE6:    required,
	}
	opposing := bankruptSide.Opposite()
	for _, pos := range txn.MarketPositions(market) {
		if pos.IsEmpty() || pos.Side != opposing || pos.UnrealizedPnLE6 <= 0 {
			continue
		}
		decision.Targets = append(decision.Targets, pos.Key())
		decision.TargetPnLE6 += pos.UnrealizedPnLE6
	}
	if len(decision.Targets) == 0 {
		return nil, ErrNoOpposingPositionsForADL
	}

	if err := e.reserve.SetADLInProgress(ctx, true); err != nil {
		return nil, err
	}

	now := e.now()
	cfg.TotalADLEvents = fixedpoint.SaturatingAddU64(cfg.TotalADLEvents, 1)
	cfg.UpdatedAt = now
	txn.Commit()

	if e.metrics != nil {
		e.metrics.ADLTriggers.Inc()
	}
	e.log.Warn().
		Str("market", market).
		Str("bankrupt_side", bankruptSide.String()).
		Uint64("shortfall_e6", shortfallE6).
		Int64("pool_balance_e6", status.BalanceE6).
		Int64("required_e6", required).
		Int("targets", len(decision.Targets)).
		Int64("target_pnl_e6", decision.TargetPnLE6).
		Msg("auto-deleveraging triggered")
	return decision, nil
}
