package quorum

import (
	"encoding/binary"

	"github.com/google/uuid"

	"LedgerCore/internal/state"
)

// Trade is one instruction inside a batch payload.
type Trade struct {
	Type     state.TradeType `json:"type"`
	User     uuid.UUID       `json:"user"`
	Market   string          `json:"market"`
	Side     state.Side      `json:"side"`
	SizeE6   uint64          `json:"size_e6"`
	PriceE6  uint64          `json:"price_e6"`
	Leverage uint8           `json:"leverage"`
}

// AccountRef names a record a trade touches. The execute envelope must
// carry three per trade (position, collateral account, user stats) so the
// relayer proves it resolved the full working set.
type AccountRef string

// AccountsPerTrade is the fixed account footprint of one trade.
const AccountsPerTrade = 3

// EncodeTrades serializes a batch payload deterministically with
// fixed-width little-endian fields. This is the byte string the batch
// hash commits to, so the layout is frozen under batchHashDomain.
func EncodeTrades(trades []Trade) []byte {
	size := 0
	for _, tr := range trades {
		size += 1 + 16 + 2 + len(tr.Market) + 1 + 8 + 8 + 1
	}
	buf := make([]byte, 0, size)
	for _, tr := range trades {
		buf = append(buf, byte(tr.Type))
		buf = append(buf, tr.User[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tr.Market)))
		buf = append(buf, tr.Market...)
		buf = append(buf, byte(tr.Side))
		buf = binary.LittleEndian.AppendUint64(buf, tr.SizeE6)
		buf = binary.LittleEndian.AppendUint64(buf, tr.PriceE6)
		buf = append(buf, tr.Leverage)
	}
	return buf
}
