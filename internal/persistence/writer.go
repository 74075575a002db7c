package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"LedgerCore/internal/state"
)

// Writer persists trade records and batch audit rows using multi-row
// INSERT. Writes are idempotent on their primary keys so a retried flush
// never duplicates rows.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// BatchAuditRow is one protocol event in ledger.batch_audit.
type BatchAuditRow struct {
	BatchID    uint64
	Action     string // submitted, confirmed, executed
	Relayer    uuid.UUID
	Signatures int
	Timestamp  time.Time
}

// WriteTradeRecords writes a batch of trade records to
// ledger.trade_records.
func (w *Writer) WriteTradeRecords(ctx context.Context, records []state.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.trade_records
		(sequence, user_id, market, trade_type, side, size_e6, price_e6,
		 realized_pnl_e6, fee_e6, margin_locked_e6, margin_released_e6, batch_id, settled_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*13)

	for i, r := range records {
		base := i * 13
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13,
		))
		args = append(args,
			int64(r.Sequence), r.User, r.Market, int16(r.Type), int16(r.Side),
			int64(r.SizeE6), int64(r.PriceE6),
			r.RealizedPnLE6, int64(r.FeeE6), int64(r.MarginLockedE6),
			int64(r.MarginReleasedE6), int64(r.BatchID), time.Unix(r.Timestamp, 0).UTC(),
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// WriteBatchAudit writes a batch of protocol audit rows to
// ledger.batch_audit.
func (w *Writer) WriteBatchAudit(ctx context.Context, rows []BatchAuditRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.batch_audit
		(batch_id, action, relayer, signatures, occurred_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, int64(r.BatchID), r.Action, r.Relayer, r.Signatures, r.Timestamp.UTC())
	}

	query += strings.Join(values, ", ")

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
