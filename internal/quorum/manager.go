package quorum

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LedgerCore/internal/observability"
	"LedgerCore/internal/state"
)

// RelayerSource provides the current relayer membership. Satisfied by
// *state.Store.
type RelayerSource interface {
	GetRelayers() state.RelayerSet
}

// Executor applies an approved batch payload. The settlement engine
// implements this; any error means nothing was applied and the batch
// stays executable.
type Executor interface {
	ApplyBatch(ctx context.Context, batchID uint64, trades []Trade) error
}

// Manager runs the submit/confirm/execute protocol. One mutex guards the
// batch table for the full length of each operation, so a batch can
// never be executed twice concurrently.
type Manager struct {
	mu        sync.Mutex
	relayers  RelayerSource
	exec      Executor
	programID string
	batches   map[uint64]*TradeBatch
	now       func() time.Time
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewManager(relayers RelayerSource, exec Executor, programID string, log zerolog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		relayers:  relayers,
		exec:      exec,
		programID: programID,
		batches:   make(map[uint64]*TradeBatch),
		now:       time.Now,
		log:       log,
		metrics:   metrics,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Batch returns a copy of the batch record, if present.
func (m *Manager) Batch(batchID uint64) (TradeBatch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return TradeBatch{}, false
	}
	cp := *b
	cp.Signatures = append([]RelayerSignature(nil), b.Signatures...)
	return cp, true
}

// Submit opens a new batch committed to hash. The submitter's signature
// counts toward quorum. A batch id can only ever be submitted once;
// replays are rejected even after execution or expiry.
func (m *Manager) Submit(relayer uuid.UUID, batchID uint64, hash [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.relayers.GetRelayers()
	if !rs.IsAuthorized(relayer) {
		m.reject("submit", "unauthorized")
		return ErrUnauthorizedRelayer
	}
	if _, exists := m.batches[batchID]; exists {
		m.reject("submit", "duplicate_batch")
		return ErrBatchAlreadyExists
	}

	batch := NewTradeBatch(batchID, hash, relayer, m.now())
	m.batches[batchID] = batch

	if m.metrics != nil {
		m.metrics.BatchesSubmitted.Inc()
		m.metrics.SignaturesCollected.Inc()
	}
	m.log.Info().
		Uint64("batch_id", batchID).
		Str("relayer", relayer.String()).
		Str("hash", hex.EncodeToString(hash[:8])).
		Int64("expires_at", batch.ExpiresAt).
		Msg("batch submitted")
	return nil
}

// Confirm adds a relayer signature to a pending batch. The relayer must
// present the same hash the batch was submitted with; a mismatch means
// the relayers disagree about the payload and the signature is refused.
func (m *Manager) Confirm(relayer uuid.UUID, batchID uint64, hash [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.relayers.GetRelayers()
	if !rs.IsAuthorized(relayer) {
		m.reject("confirm", "unauthorized")
		return ErrUnauthorizedRelayer
	}
	batch, ok := m.batches[batchID]
	if !ok {
		m.reject("confirm", "not_found")
		return ErrBatchNotFound
	}
	if batch.Executed {
		m.reject("confirm", "already_executed")
		return ErrTradeBatchAlreadyExecuted
	}
	if batch.IsExpired(m.now()) {
		m.reject("confirm", "expired")
		return ErrTradeBatchExpired
	}
	if !EqualHash(batch.DataHash, hash) {
		m.reject("confirm", "hash_mismatch")
		return ErrInvalidDataHash
	}
	if err := batch.AddSignature(relayer, m.now()); err != nil {
		m.reject("confirm", "duplicate_signature")
		return err
	}

	if m.metrics != nil {
		m.metrics.SignaturesCollected.Inc()
	}
	m.log.Info().
		Uint64("batch_id", batchID).
		Str("relayer", relayer.String()).
		Int("signatures", batch.SignatureCount()).
		Uint8("required", rs.RequiredSignatures).
		Msg("batch confirmed")
	return nil
}

// Execute applies an approved batch. The caller supplies the actual
// trade payload and the account references it resolved; the payload is
// re-hashed and checked against the committed hash, so a quorum formed
// over one payload can never execute a different one. Trades apply
// all-or-nothing: if any trade fails, no state changes and the batch
// remains executable.
func (m *Manager) Execute(ctx context.Context, relayer uuid.UUID, batchID uint64, trades []Trade, accounts []AccountRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.relayers.GetRelayers()
	if !rs.IsAuthorized(relayer) {
		m.reject("execute", "unauthorized")
		return ErrUnauthorizedRelayer
	}
	batch, ok := m.batches[batchID]
	if !ok {
		m.reject("execute", "not_found")
		return ErrBatchNotFound
	}
	if batch.Executed {
		m.reject("execute", "already_executed")
		return ErrTradeBatchAlreadyExecuted
	}
	if batch.IsExpired(m.now()) {
		m.reject("execute", "expired")
		return ErrTradeBatchExpired
	}
	if !EqualHash(batch.DataHash, ComputeBatchHash(m.programID, batchID, EncodeTrades(trades))) {
		m.reject("execute", "hash_mismatch")
		return ErrInvalidDataHash
	}
	if !rs.HasQuorum(batch.SignatureCount()) {
		m.reject("execute", "insufficient_signatures")
		return ErrInsufficientSignatures
	}
	if len(accounts) < AccountsPerTrade*len(trades) {
		m.reject("execute", "insufficient_accounts")
		return ErrInsufficientAccounts
	}

	start := m.now()
	if err := m.exec.ApplyBatch(ctx, batchID, trades); err != nil {
		m.reject("execute", "apply_failed")
		m.log.Error().
			Err(err).
			Uint64("batch_id", batchID).
			Int("trades", len(trades)).
			Msg("batch execution failed, state unchanged")
		return err
	}
	batch.Executed = true

	if m.metrics != nil {
		m.metrics.BatchesExecuted.Inc()
		m.metrics.BatchExecuteDur.Observe(m.now().Sub(start).Seconds())
	}
	m.log.Info().
		Uint64("batch_id", batchID).
		Str("relayer", relayer.String()).
		Int("trades", len(trades)).
		Int("signatures", batch.SignatureCount()).
		Msg("batch executed")
	return nil
}

func (m *Manager) reject(op, reason string) {
	if m.metrics != nil {
		m.metrics.BatchesRejected.WithLabelValues(op, reason).Inc()
	}
}
