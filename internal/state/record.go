package state

import "github.com/google/uuid"

// TradeType tags the settlement path that produced a TradeRecord.
// Values match the wire encoding used in batch payloads.
type TradeType uint8

const (
	TradeOpen        TradeType = 0
	TradeClose       TradeType = 1
	TradeLiquidation TradeType = 2
	TradeADL         TradeType = 3
	TradeFunding     TradeType = 4
)

func (t TradeType) String() string {
	switch t {
	case TradeOpen:
		return "open"
	case TradeClose:
		return "close"
	case TradeLiquidation:
		return "liquidation"
	case TradeADL:
		return "adl"
	case TradeFunding:
		return "funding"
	default:
		return "unknown"
	}
}

// TradeRecord is the audit row appended for every settled trade.
type TradeRecord struct {
	Sequence uint64
	User     uuid.UUID
	Market   string
	Type     TradeType
	Side     Side

	SizeE6  uint64
	PriceE6 uint64

	RealizedPnLE6    int64
	FeeE6            uint64
	MarginLockedE6   uint64
	MarginReleasedE6 uint64

	BatchID   uint64
	Timestamp int64
}
