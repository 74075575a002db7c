package ingestion

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"LedgerCore/internal/quorum"
	"LedgerCore/internal/state"
)

// JSON wire formats for inbound NATS messages. Field names use
// snake_case to match upstream producers.

type tradeJSON struct {
	Type     uint8     `json:"type"`
	User     uuid.UUID `json:"user"`
	Market   string    `json:"market"`
	Side     uint8     `json:"side"`
	SizeE6   uint64    `json:"size_e6"`
	PriceE6  uint64    `json:"price_e6"`
	Leverage uint8     `json:"leverage"`
}

func (t tradeJSON) toTrade() (quorum.Trade, error) {
	side, err := state.ParseSide(t.Side)
	if err != nil {
		return quorum.Trade{}, err
	}
	return quorum.Trade{
		Type:     state.TradeType(t.Type),
		User:     t.User,
		Market:   t.Market,
		Side:     side,
		SizeE6:   t.SizeE6,
		PriceE6:  t.PriceE6,
		Leverage: t.Leverage,
	}, nil
}

type batchSubmitJSON struct {
	Relayer uuid.UUID `json:"relayer"`
	BatchID uint64    `json:"batch_id"`
	Hash    string    `json:"hash"` // hex, 32 bytes
}

func (m batchSubmitJSON) hash() ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(m.Hash)
	if err != nil {
		return out, fmt.Errorf("ingestion: decode hash: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("ingestion: hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

type batchExecuteJSON struct {
	Relayer  uuid.UUID   `json:"relayer"`
	BatchID  uint64      `json:"batch_id"`
	Trades   []tradeJSON `json:"trades"`
	Accounts []string    `json:"accounts"`
}

type tradeOpenJSON struct {
	User     uuid.UUID `json:"user"`
	Market   string    `json:"market"`
	Side     uint8     `json:"side"`
	SizeE6   uint64    `json:"size_e6"`
	PriceE6  uint64    `json:"price_e6"`
	Leverage uint8     `json:"leverage"`
}

type tradeCloseJSON struct {
	User    uuid.UUID `json:"user"`
	Market  string    `json:"market"`
	SizeE6  uint64    `json:"size_e6"`
	PriceE6 uint64    `json:"price_e6"`
}

type liquidateJSON struct {
	User        uuid.UUID `json:"user"`
	Market      string    `json:"market"`
	MarkPriceE6 uint64    `json:"mark_price_e6"`
}

type adlJSON struct {
	Admin        uuid.UUID `json:"admin"`
	Market       string    `json:"market"`
	ShortfallE6  uint64    `json:"shortfall_e6"`
	BankruptSide uint8     `json:"bankrupt_side"`
}

type fundingJSON struct {
	User         uuid.UUID `json:"user"`
	Market       string    `json:"market"`
	RateE6       int64     `json:"rate_e6"`
	IndexPriceE6 uint64    `json:"index_price_e6"`
}

type adminJSON struct {
	Caller   uuid.UUID `json:"caller"`
	Relayer  uuid.UUID `json:"relayer,omitempty"`
	Admin    uuid.UUID `json:"admin,omitempty"`
	Required uint8     `json:"required,omitempty"`
	Paused   bool      `json:"paused,omitempty"`
	Service  string    `json:"service,omitempty"`
}
