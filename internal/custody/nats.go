package custody

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Request/reply subjects for the custody and reserve collaborators.
// Versioned so an incompatible argument change gets a new subject
// instead of a silent break.
const (
	subjectLockMargin        = "custody.v1.lock_margin"
	subjectReleaseMargin     = "custody.v1.release_margin"
	subjectSettleClose       = "custody.v1.settle_close"
	subjectLiquidate         = "custody.v1.liquidate_position"
	subjectLiquidationIncome = "reserve.v1.add_liquidation_income"
	subjectADLProfit         = "reserve.v1.add_adl_profit"
	subjectTradingFee        = "reserve.v1.add_trading_fee"
	subjectCoverShortfall    = "reserve.v1.cover_shortfall"
	subjectSetADL            = "reserve.v1.set_adl_in_progress"
	subjectPoolStatus        = "reserve.v1.pool_status"
)

// DefaultCallTimeout bounds each collaborator round trip when the caller
// context carries no deadline.
const DefaultCallTimeout = 5 * time.Second

type rpcRequest struct {
	Caller    string          `json:"caller"`
	CallerKey string          `json:"caller_key"`
	Args      json.RawMessage `json:"args"`
}

type rpcReply struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// client is the shared request/reply plumbing for both collaborators.
type client struct {
	conn    *nats.Conn
	cred    Credential
	timeout time.Duration
}

func (c *client) call(ctx context.Context, subject string, args interface{}, result interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("custody: marshal %s args: %w", subject, err)
	}
	payload, err := json.Marshal(rpcRequest{
		Caller:    c.cred.Service,
		CallerKey: hex.EncodeToString(c.cred.Key[:]),
		Args:      raw,
	})
	if err != nil {
		return fmt.Errorf("custody: marshal %s request: %w", subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("custody: %s request: %w", subject, err)
	}

	var reply rpcReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("custody: decode %s reply: %w", subject, err)
	}
	if !reply.OK {
		return fmt.Errorf("custody: %s refused: %s", subject, reply.Error)
	}
	if result != nil && len(reply.Result) > 0 {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("custody: decode %s result: %w", subject, err)
		}
	}
	return nil
}

// NATSCustody talks to the custody service over NATS request/reply.
type NATSCustody struct {
	client
}

func NewNATSCustody(conn *nats.Conn, cred Credential) *NATSCustody {
	return &NATSCustody{client{conn: conn, cred: cred, timeout: DefaultCallTimeout}}
}

type marginArgs struct {
	User     uuid.UUID `json:"user"`
	AmountE6 uint64    `json:"amount_e6"`
}

func (c *NATSCustody) LockMargin(ctx context.Context, user uuid.UUID, amountE6 uint64) error {
	return c.call(ctx, subjectLockMargin, marginArgs{User: user, AmountE6: amountE6}, nil)
}

func (c *NATSCustody) ReleaseMargin(ctx context.Context, user uuid.UUID, amountE6 uint64) error {
	return c.call(ctx, subjectReleaseMargin, marginArgs{User: user, AmountE6: amountE6}, nil)
}

type settleCloseArgs struct {
	User             uuid.UUID `json:"user"`
	MarginReleasedE6 uint64    `json:"margin_released_e6"`
	RealizedPnLE6    int64     `json:"realized_pnl_e6"`
	FeeE6            uint64    `json:"fee_e6"`
}

func (c *NATSCustody) SettleClose(ctx context.Context, user uuid.UUID, marginReleasedE6 uint64, realizedPnLE6 int64, feeE6 uint64) error {
	return c.call(ctx, subjectSettleClose, settleCloseArgs{
		User:             user,
		MarginReleasedE6: marginReleasedE6,
		RealizedPnLE6:    realizedPnLE6,
		FeeE6:            feeE6,
	}, nil)
}

type liquidateArgs struct {
	User            uuid.UUID `json:"user"`
	MarginE6        uint64    `json:"margin_e6"`
	UserRemainderE6 uint64    `json:"user_remainder_e6"`
	PenaltyE6       uint64    `json:"penalty_e6"`
}

func (c *NATSCustody) LiquidatePosition(ctx context.Context, user uuid.UUID, marginE6, userRemainderE6, penaltyE6 uint64) error {
	return c.call(ctx, subjectLiquidate, liquidateArgs{
		User:            user,
		MarginE6:        marginE6,
		UserRemainderE6: userRemainderE6,
		PenaltyE6:       penaltyE6,
	}, nil)
}

// NATSReserve talks to the reserve pool over NATS request/reply.
type NATSReserve struct {
	client
}

func NewNATSReserve(conn *nats.Conn, cred Credential) *NATSReserve {
	return &NATSReserve{client{conn: conn, cred: cred, timeout: DefaultCallTimeout}}
}

type amountArgs struct {
	AmountE6 uint64 `json:"amount_e6"`
}

func (r *NATSReserve) AddLiquidationIncome(ctx context.Context, amountE6 uint64) error {
	return r.call(ctx, subjectLiquidationIncome, amountArgs{AmountE6: amountE6}, nil)
}

func (r *NATSReserve) AddADLProfit(ctx context.Context, amountE6 uint64) error {
	return r.call(ctx, subjectADLProfit, amountArgs{AmountE6: amountE6}, nil)
}

func (r *NATSReserve) AddTradingFee(ctx context.Context, amountE6 uint64) error {
	return r.call(ctx, subjectTradingFee, amountArgs{AmountE6: amountE6}, nil)
}

func (r *NATSReserve) CoverShortfall(ctx context.Context, amountE6 uint64) error {
	return r.call(ctx, subjectCoverShortfall, amountArgs{AmountE6: amountE6}, nil)
}

type setADLArgs struct {
	InProgress bool `json:"in_progress"`
}

func (r *NATSReserve) SetADLInProgress(ctx context.Context, inProgress bool) error {
	return r.call(ctx, subjectSetADL, setADLArgs{InProgress: inProgress}, nil)
}

func (r *NATSReserve) PoolStatus(ctx context.Context) (PoolStatus, error) {
	var status PoolStatus
	if err := r.call(ctx, subjectPoolStatus, struct{}{}, &status); err != nil {
		return PoolStatus{}, err
	}
	return status, nil
}

var _ Custody = (*NATSCustody)(nil)
var _ Reserve = (*NATSReserve)(nil)
