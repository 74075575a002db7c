package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LedgerCore/internal/state"
)

// OutboundPublisher republishes settled trade records for downstream
// consumers (risk dashboards, PnL services). Subjects follow the
// pattern: ledger.events.{trade_type}.{market}
type OutboundPublisher struct {
	js    jetstream.JetStream
	input <-chan state.TradeRecord
	log   zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan state.TradeRecord, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, input: input, log: log}
}

type outboundEvent struct {
	Sequence         uint64 `json:"sequence"`
	User             string `json:"user"`
	Market           string `json:"market"`
	Type             string `json:"type"`
	Side             string `json:"side"`
	SizeE6           uint64 `json:"size_e6"`
	PriceE6          uint64 `json:"price_e6"`
	RealizedPnLE6    int64  `json:"realized_pnl_e6"`
	FeeE6            uint64 `json:"fee_e6"`
	MarginLockedE6   uint64 `json:"margin_locked_e6"`
	MarginReleasedE6 uint64 `json:"margin_released_e6"`
	BatchID          uint64 `json:"batch_id"`
	Timestamp        int64  `json:"timestamp"`
}

// Run publishes records until ctx is cancelled. Publish failures are
// non-fatal; downstream consumers can replay from the trade record
// table.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, rec); err != nil {
				p.log.Warn().Err(err).Uint64("seq", rec.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *OutboundPublisher) publish(ctx context.Context, rec state.TradeRecord) error {
	data, err := json.Marshal(outboundEvent{
		Sequence:         rec.Sequence,
		User:             rec.User.String(),
		Market:           rec.Market,
		Type:             rec.Type.String(),
		Side:             rec.Side.String(),
		SizeE6:           rec.SizeE6,
		PriceE6:          rec.PriceE6,
		RealizedPnLE6:    rec.RealizedPnLE6,
		FeeE6:            rec.FeeE6,
		MarginLockedE6:   rec.MarginLockedE6,
		MarginReleasedE6: rec.MarginReleasedE6,
		BatchID:          rec.BatchID,
		Timestamp:        rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("ledger.events.%s.%s", rec.Type.String(), rec.Market)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEDGER_EVENTS",
		Subjects:  []string{"ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
