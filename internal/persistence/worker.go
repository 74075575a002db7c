package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"LedgerCore/internal/observability"
	"LedgerCore/internal/state"
)

// Worker drains the record channels and batch-writes to Postgres. The
// settlement engines push records with blocking sends, so if the worker
// falls behind, settlement stalls rather than losing audit rows.
type Worker struct {
	writer       *Writer
	trades       chan state.TradeRecord
	audits       chan BatchAuditRow
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(writer *Writer, batchSize int, flushTimeout time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       writer,
		trades:       make(chan state.TradeRecord, batchSize*4),
		audits:       make(chan BatchAuditRow, batchSize*4),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Record queues a trade record for persistence. Blocks when the worker
// is saturated. Implements the settlement Recorder.
func (w *Worker) Record(rec state.TradeRecord) {
	w.trades <- rec
}

// RecordBatchEvent queues a batch protocol audit row.
func (w *Worker) RecordBatchEvent(row BatchAuditRow) {
	w.audits <- row
}

// Run batches incoming rows and flushes on size or timeout. Blocks until
// ctx is cancelled; a final flush drains whatever is pending.
func (w *Worker) Run(ctx context.Context) error {
	tradeBatch := make([]state.TradeRecord, 0, w.batchSize)
	auditBatch := make([]BatchAuditRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(flushCtx context.Context) {
		if len(tradeBatch) == 0 && len(auditBatch) == 0 {
			return
		}
		w.flushWithRetry(flushCtx, tradeBatch, auditBatch)
		tradeBatch = tradeBatch[:0]
		auditBatch = auditBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case rec := <-w.trades:
			tradeBatch = append(tradeBatch, rec)
			if len(tradeBatch) >= w.batchSize {
				flush(ctx)
				timer.Reset(w.flushTimeout)
			}

		case row := <-w.audits:
			auditBatch = append(auditBatch, row)
			if len(auditBatch) >= w.batchSize {
				flush(ctx)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. Rows are never
// dropped; on shutdown one final attempt runs with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, trades []state.TradeRecord, audits []BatchAuditRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("trades", len(trades)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), trades, audits); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, trades, audits); err == nil {
			return
		} else {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("retry").Inc()
			}
			w.log.Error().Err(err).Msg("persistence flush failed")
		}
	}
}

func (w *Worker) flush(ctx context.Context, trades []state.TradeRecord, audits []BatchAuditRow) error {
	start := time.Now()

	if err := w.writer.WriteTradeRecords(ctx, trades); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_trades").Inc()
		}
		return err
	}
	if err := w.writer.WriteBatchAudit(ctx, audits); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_audit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(trades)))
		w.metrics.PersistRecordsWritten.Add(float64(len(trades)))
	}
	return nil
}
