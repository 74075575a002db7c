package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LedgerCore/internal/fixedpoint"
	"LedgerCore/internal/funding"
	"LedgerCore/internal/persistence"
	"LedgerCore/internal/quorum"
	"LedgerCore/internal/risk"
	"LedgerCore/internal/settlement"
	"LedgerCore/internal/state"
)

// Inbound subjects. Each maps to exactly one ledger operation.
const (
	SubjectBatchSubmit  = "ledger.batch.submit"
	SubjectBatchConfirm = "ledger.batch.confirm"
	SubjectBatchExecute = "ledger.batch.execute"
	SubjectTradeOpen    = "ledger.trade.open"
	SubjectTradeClose   = "ledger.trade.close"
	SubjectLiquidate    = "ledger.risk.liquidate"
	SubjectADL          = "ledger.risk.adl"
	SubjectFunding      = "ledger.funding.settle"
	AdminSubjectPrefix  = "ledger.admin."
)

// ErrRejected wraps validation failures so the subscriber can tell a
// poison message (ack and drop) from a transient failure (redeliver).
var ErrRejected = errors.New("ingestion: message rejected")

func reject(err error) error {
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// Dispatcher routes inbound messages to ledger operations.
type Dispatcher struct {
	manager *quorum.Manager
	settle  *settlement.Engine
	risk    *risk.Engine
	funding *funding.Engine
	store   *state.Store
	worker  *persistence.Worker
	log     zerolog.Logger
	now     func() time.Time
}

func NewDispatcher(
	manager *quorum.Manager,
	settle *settlement.Engine,
	riskEngine *risk.Engine,
	fundingEngine *funding.Engine,
	store *state.Store,
	worker *persistence.Worker,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		manager: manager,
		settle:  settle,
		risk:    riskEngine,
		funding: fundingEngine,
		store:   store,
		worker:  worker,
		log:     log,
		now:     time.Now,
	}
}

// Dispatch handles one message. Validation and protocol errors come back
// wrapped in ErrRejected; anything else is treated as transient by the
// subscriber.
func (d *Dispatcher) Dispatch(ctx context.Context, subject string, data []byte) error {
	switch {
	case subject == SubjectBatchSubmit:
		return d.handleBatchSubmit(data)
	case subject == SubjectBatchConfirm:
		return d.handleBatchConfirm(data)
	case subject == SubjectBatchExecute:
		return d.handleBatchExecute(ctx, data)
	case subject == SubjectTradeOpen:
		return d.handleTradeOpen(ctx, data)
	case subject == SubjectTradeClose:
		return d.handleTradeClose(ctx, data)
	case subject == SubjectLiquidate:
		return d.handleLiquidate(ctx, data)
	case subject == SubjectADL:
		return d.handleADL(ctx, data)
	case subject == SubjectFunding:
		return d.handleFunding(data)
	case len(subject) > len(AdminSubjectPrefix) && subject[:len(AdminSubjectPrefix)] == AdminSubjectPrefix:
		return d.handleAdmin(subject[len(AdminSubjectPrefix):], data)
	default:
		return reject(fmt.Errorf("unknown subject %s", subject))
	}
}

func (d *Dispatcher) audit(batchID uint64, action string, relayer uuid.UUID, signatures int) {
	if d.worker == nil {
		return
	}
	d.worker.RecordBatchEvent(persistence.BatchAuditRow{
		BatchID:    batchID,
		Action:     action,
		Relayer:    relayer,
		Signatures: signatures,
		Timestamp:  d.now(),
	})
}

func (d *Dispatcher) handleBatchSubmit(data []byte) error {
	var msg batchSubmitJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	hash, err := msg.hash()
	if err != nil {
		return reject(err)
	}
	if err := d.manager.Submit(msg.Relayer, msg.BatchID, hash); err != nil {
		return reject(err)
	}
	d.audit(msg.BatchID, "submitted", msg.Relayer, 1)
	return nil
}

func (d *Dispatcher) handleBatchConfirm(data []byte) error {
	var msg batchSubmitJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	hash, err := msg.hash()
	if err != nil {
		return reject(err)
	}
	if err := d.manager.Confirm(msg.Relayer, msg.BatchID, hash); err != nil {
		return reject(err)
	}
	batch, _ := d.manager.Batch(msg.BatchID)
	d.audit(msg.BatchID, "confirmed", msg.Relayer, batch.SignatureCount())
	return nil
}

func (d *Dispatcher) handleBatchExecute(ctx context.Context, data []byte) error {
	var msg batchExecuteJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	trades := make([]quorum.Trade, 0, len(msg.Trades))
	for _, tj := range msg.Trades {
		tr, err := tj.toTrade()
		if err != nil {
			return reject(err)
		}
		trades = append(trades, tr)
	}
	accounts := make([]quorum.AccountRef, 0, len(msg.Accounts))
	for _, a := range msg.Accounts {
		accounts = append(accounts, quorum.AccountRef(a))
	}
	if err := d.manager.Execute(ctx, msg.Relayer, msg.BatchID, trades, accounts); err != nil {
		// Collaborator outages should redeliver; protocol failures are final.
		if isProtocolError(err) {
			return reject(err)
		}
		return err
	}
	batch, _ := d.manager.Batch(msg.BatchID)
	d.audit(msg.BatchID, "executed", msg.Relayer, batch.SignatureCount())
	return nil
}

func isProtocolError(err error) bool {
	return errors.Is(err, quorum.ErrUnauthorizedRelayer) ||
		errors.Is(err, quorum.ErrBatchNotFound) ||
		errors.Is(err, quorum.ErrBatchAlreadyExists) ||
		errors.Is(err, quorum.ErrTradeBatchExpired) ||
		errors.Is(err, quorum.ErrTradeBatchAlreadyExecuted) ||
		errors.Is(err, quorum.ErrInvalidDataHash) ||
		errors.Is(err, quorum.ErrRelayerAlreadySigned) ||
		errors.Is(err, quorum.ErrInsufficientSignatures) ||
		errors.Is(err, quorum.ErrInsufficientAccounts)
}

// isTradeError reports whether a settlement failure is deterministic:
// the same message would fail the same way on every redelivery, so the
// subscriber should drop it. Collaborator and transport failures stay
// transient.
func isTradeError(err error) bool {
	return errors.Is(err, settlement.ErrInvalidTradeAmount) ||
		errors.Is(err, settlement.ErrInvalidPrice) ||
		errors.Is(err, settlement.ErrLeverageExceedsMax) ||
		errors.Is(err, fixedpoint.ErrInvalidLeverage) ||
		errors.Is(err, fixedpoint.ErrOverflow) ||
		errors.Is(err, state.ErrLedgerPaused) ||
		errors.Is(err, state.ErrInvalidPositionSide) ||
		errors.Is(err, state.ErrInvalidPositionSize) ||
		errors.Is(err, state.ErrPositionNotFound)
}

func (d *Dispatcher) handleTradeOpen(ctx context.Context, data []byte) error {
	var msg tradeOpenJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	side, err := state.ParseSide(msg.Side)
	if err != nil {
		return reject(err)
	}
	if err := d.settle.OpenPosition(ctx, msg.User, msg.Market, side, msg.SizeE6, msg.PriceE6, msg.Leverage); err != nil {
		if isTradeError(err) {
			return reject(err)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) handleTradeClose(ctx context.Context, data []byte) error {
	var msg tradeCloseJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	if err := d.settle.ClosePosition(ctx, msg.User, msg.Market, msg.SizeE6, msg.PriceE6); err != nil {
		if isTradeError(err) {
			return reject(err)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) handleLiquidate(ctx context.Context, data []byte) error {
	var msg liquidateJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	err := d.risk.Liquidate(ctx, msg.User, msg.Market, msg.MarkPriceE6)
	if errors.Is(err, risk.ErrPositionNotLiquidatable) || errors.Is(err, state.ErrPositionNotFound) {
		return reject(err)
	}
	return err
}

func (d *Dispatcher) handleADL(ctx context.Context, data []byte) error {
	var msg adlJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	side, err := state.ParseSide(msg.BankruptSide)
	if err != nil {
		return reject(err)
	}
	_, err = d.risk.TriggerADL(ctx, msg.Admin, msg.Market, msg.ShortfallE6, side)
	if errors.Is(err, risk.ErrADLNotRequired) ||
		errors.Is(err, risk.ErrNoOpposingPositionsForADL) ||
		errors.Is(err, state.ErrInvalidAdmin) {
		return reject(err)
	}
	return err
}

func (d *Dispatcher) handleFunding(data []byte) error {
	var msg fundingJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	_, err := d.funding.Settle(msg.User, msg.Market, msg.RateE6, msg.IndexPriceE6)
	if errors.Is(err, state.ErrPositionNotFound) || errors.Is(err, funding.ErrZeroIndexPrice) {
		return reject(err)
	}
	return err
}

// handleAdmin applies admin operations. Authorization happens inside the
// state methods against the stored admin identity.
func (d *Dispatcher) handleAdmin(op string, data []byte) error {
	var msg adminJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return reject(err)
	}
	now := d.now().Unix()

	txn := d.store.Begin()
	defer txn.Abort()

	var err error
	switch op {
	case "add_relayer":
		err = txn.Relayers().Add(msg.Caller, msg.Relayer, now)
	case "remove_relayer":
		err = txn.Relayers().Remove(msg.Caller, msg.Relayer, now)
	case "set_required_signatures":
		err = txn.Relayers().SetRequiredSignatures(msg.Caller, msg.Required, now)
	case "set_paused":
		err = txn.Config().SetPaused(msg.Caller, msg.Paused, now)
	case "update_admin":
		err = txn.Config().UpdateAdmin(msg.Caller, msg.Admin, now)
	case "update_custody_service":
		err = txn.Config().UpdateCustodyService(msg.Caller, msg.Service, now)
	case "update_reserve_service":
		err = txn.Config().UpdateReserveService(msg.Caller, msg.Service, now)
	default:
		return reject(fmt.Errorf("unknown admin operation %s", op))
	}
	if err != nil {
		return reject(err)
	}
	txn.Commit()

	d.log.Info().Str("op", op).Str("caller", msg.Caller.String()).Msg("admin operation applied")
	return nil
}
