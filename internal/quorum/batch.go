package quorum

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BatchExpiry is how long a submitted batch stays confirmable and
// executable.
const BatchExpiry = 60 * time.Second

var (
	ErrUnauthorizedRelayer       = errors.New("quorum: relayer not authorized")
	ErrBatchAlreadyExists        = errors.New("quorum: batch id already submitted")
	ErrBatchNotFound             = errors.New("quorum: batch not found")
	ErrTradeBatchExpired         = errors.New("quorum: batch expired")
	ErrTradeBatchAlreadyExecuted = errors.New("quorum: batch already executed")
	ErrInvalidDataHash           = errors.New("quorum: payload hash mismatch")
	ErrRelayerAlreadySigned      = errors.New("quorum: relayer already signed")
	ErrInsufficientSignatures    = errors.New("quorum: quorum not reached")
	ErrInsufficientAccounts      = errors.New("quorum: execute envelope missing account references")
)

// RelayerSignature records one relayer's approval of a batch hash.
type RelayerSignature struct {
	Relayer  uuid.UUID
	SignedAt int64
}

// TradeBatch is the pending commitment for one batch id. Signatures only
// accumulate; Executed only ever flips from false to true.
type TradeBatch struct {
	ID         uuid.UUID
	BatchID    uint64
	DataHash   [32]byte
	Signatures []RelayerSignature
	Executed   bool
	Creator    uuid.UUID
	CreatedAt  int64
	ExpiresAt  int64
}

// NewTradeBatch opens a batch with the submitter's signature already
// recorded.
func NewTradeBatch(batchID uint64, hash [32]byte, creator uuid.UUID, now time.Time) *TradeBatch {
	return &TradeBatch{
		ID:         uuid.New(),
		BatchID:    batchID,
		DataHash:   hash,
		Signatures: []RelayerSignature{{Relayer: creator, SignedAt: now.Unix()}},
		Creator:    creator,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(BatchExpiry).Unix(),
	}
}

// IsExpired reports whether the batch can no longer be confirmed or
// executed.
func (b *TradeBatch) IsExpired(now time.Time) bool {
	return now.Unix() >= b.ExpiresAt
}

// HasSigned reports whether the relayer already signed this batch.
func (b *TradeBatch) HasSigned(relayer uuid.UUID) bool {
	for _, sig := range b.Signatures {
		if sig.Relayer == relayer {
			return true
		}
	}
	return false
}

// AddSignature appends a relayer approval, rejecting duplicates.
func (b *TradeBatch) AddSignature(relayer uuid.UUID, now time.Time) error {
	if b.HasSigned(relayer) {
		return ErrRelayerAlreadySigned
	}
	b.Signatures = append(b.Signatures, RelayerSignature{Relayer: relayer, SignedAt: now.Unix()})
	return nil
}

// SignatureCount returns the number of distinct approvals.
func (b *TradeBatch) SignatureCount() int {
	return len(b.Signatures)
}
