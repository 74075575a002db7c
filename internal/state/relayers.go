package state

import "github.com/google/uuid"

// MaxRelayers caps the relayer set. Five covers a 3-of-5 quorum with
// two spares, and keeps signature verification cheap.
const MaxRelayers = 5

// RelayerSet is the singleton registry of batch relayers and the quorum
// threshold. Order is preserved so removals keep deterministic layout.
type RelayerSet struct {
	Admin              uuid.UUID
	Relayers           []uuid.UUID
	RequiredSignatures uint8
	UpdatedAt          int64
}

// NewRelayerSet starts with the given relayers and threshold. The initial
// membership bypasses admin checks; subsequent changes go through the
// admin-gated methods.
func NewRelayerSet(admin uuid.UUID, relayers []uuid.UUID, required uint8, now int64) (*RelayerSet, error) {
	if len(relayers) > MaxRelayers {
		return nil, ErrTooManyRelayers
	}
	if required == 0 || int(required) > len(relayers) {
		return nil, ErrInvalidThreshold
	}
	rs := &RelayerSet{
		Admin:              admin,
		Relayers:           append([]uuid.UUID(nil), relayers...),
		RequiredSignatures: required,
		UpdatedAt:          now,
	}
	return rs, nil
}

// IsAuthorized reports whether id is a registered relayer.
func (r *RelayerSet) IsAuthorized(id uuid.UUID) bool {
	for _, rel := range r.Relayers {
		if rel == id {
			return true
		}
	}
	return false
}

// HasQuorum reports whether count signatures meet the threshold.
func (r *RelayerSet) HasQuorum(count int) bool {
	return count >= int(r.RequiredSignatures)
}

// Add registers a new relayer. Admin only.
func (r *RelayerSet) Add(caller, relayer uuid.UUID, now int64) error {
	if caller != r.Admin {
		return ErrInvalidAdmin
	}
	if r.IsAuthorized(relayer) {
		return ErrRelayerExists
	}
	if len(r.Relayers) >= MaxRelayers {
		return ErrTooManyRelayers
	}
	r.Relayers = append(r.Relayers, relayer)
	r.UpdatedAt = now
	return nil
}

// Remove drops a relayer. The threshold must remain satisfiable by the
// remaining membership, so removal can require lowering it first.
func (r *RelayerSet) Remove(caller, relayer uuid.UUID, now int64) error {
	if caller != r.Admin {
		return ErrInvalidAdmin
	}
	idx := -1
	for i, rel := range r.Relayers {
		if rel == relayer {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownRelayer
	}
	if len(r.Relayers)-1 < int(r.RequiredSignatures) {
		return ErrInvalidThreshold
	}
	r.Relayers = append(r.Relayers[:idx], r.Relayers[idx+1:]...)
	r.UpdatedAt = now
	return nil
}

// SetRequiredSignatures changes the quorum threshold. Admin only.
func (r *RelayerSet) SetRequiredSignatures(caller uuid.UUID, required uint8, now int64) error {
	if caller != r.Admin {
		return ErrInvalidAdmin
	}
	if required == 0 || int(required) > len(r.Relayers) {
		return ErrInvalidThreshold
	}
	r.RequiredSignatures = required
	r.UpdatedAt = now
	return nil
}

// Clone returns a deep copy for transaction staging.
func (r *RelayerSet) Clone() *RelayerSet {
	cp := *r
	cp.Relayers = append([]uuid.UUID(nil), r.Relayers...)
	return &cp
}
