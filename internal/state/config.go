package state

import (
	"github.com/google/uuid"

	"LedgerCore/internal/fixedpoint"
)

// SchemaVersion tags persisted records so future layout changes can be
// migrated explicitly instead of guessed from padding.
const SchemaVersion uint16 = 1

// LedgerConfig is the venue-wide singleton: admin identity, the custody
// and reserve collaborator identities, the global trade sequence, the
// pause switch, and lifetime aggregates.
type LedgerConfig struct {
	Admin          uuid.UUID
	CustodyService string
	ReserveService string

	GlobalSequence uint64

	TotalPositionsOpened uint64
	TotalPositionsClosed uint64
	TotalVolumeE6        uint64
	TotalFeesE6          uint64
	TotalLiquidations    uint64
	TotalADLEvents       uint64

	Paused bool

	SchemaVersion uint16
	CreatedAt     int64
	UpdatedAt     int64
}

// NewLedgerConfig initializes the singleton with the admin also acting as
// its own custody/reserve authority until those are configured.
func NewLedgerConfig(admin uuid.UUID, custodyService, reserveService string, now int64) *LedgerConfig {
	return &LedgerConfig{
		Admin:          admin,
		CustodyService: custodyService,
		ReserveService: reserveService,
		SchemaVersion:  SchemaVersion,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NextSequence advances and returns the global trade sequence. Saturates
// instead of wrapping; a venue that settles 2^64 trades has other problems.
func (c *LedgerConfig) NextSequence() uint64 {
	c.GlobalSequence = fixedpoint.SaturatingAddU64(c.GlobalSequence, 1)
	return c.GlobalSequence
}

// AddVolume accumulates settled notional, saturating.
func (c *LedgerConfig) AddVolume(notionalE6 uint64) {
	c.TotalVolumeE6 = fixedpoint.SaturatingAddU64(c.TotalVolumeE6, notionalE6)
}

// AddFees accumulates collected fees, saturating.
func (c *LedgerConfig) AddFees(feeE6 uint64) {
	c.TotalFeesE6 = fixedpoint.SaturatingAddU64(c.TotalFeesE6, feeE6)
}

// RequireAdmin verifies the caller against the configured admin.
func (c *LedgerConfig) RequireAdmin(caller uuid.UUID) error {
	if caller != c.Admin {
		return ErrInvalidAdmin
	}
	return nil
}

// RequireActive fails when the ledger is paused.
func (c *LedgerConfig) RequireActive() error {
	if c.Paused {
		return ErrLedgerPaused
	}
	return nil
}

// UpdateAdmin transfers admin authority. Only the current admin may call.
func (c *LedgerConfig) UpdateAdmin(caller, next uuid.UUID, now int64) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	c.Admin = next
	c.UpdatedAt = now
	return nil
}

// SetPaused flips the venue pause switch.
func (c *LedgerConfig) SetPaused(caller uuid.UUID, paused bool, now int64) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	c.Paused = paused
	c.UpdatedAt = now
	return nil
}

// UpdateCustodyService points the ledger at a new custody collaborator.
func (c *LedgerConfig) UpdateCustodyService(caller uuid.UUID, service string, now int64) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	c.CustodyService = service
	c.UpdatedAt = now
	return nil
}

// UpdateReserveService points the ledger at a new reserve collaborator.
func (c *LedgerConfig) UpdateReserveService(caller uuid.UUID, service string, now int64) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	c.ReserveService = service
	c.UpdatedAt = now
	return nil
}

// Clone returns a copy for transaction staging.
func (c *LedgerConfig) Clone() *LedgerConfig {
	cp := *c
	return &cp
}
