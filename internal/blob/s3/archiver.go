package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Archiver moves aged copy-trade and op-log rows into JSONL objects in cold
// storage, then deletes them from the primary store. Each batch is uploaded
// before its rows are deleted; a crash in between leaves duplicate history
// in the archive, never a gap.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.CopyTradeStore
	oplog  domain.OpLogStore
	logger *slog.Logger

	// batchSize bounds memory per upload.
	batchSize int
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 5 << 20

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, trades domain.CopyTradeStore, oplog domain.OpLogStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		trades:    trades,
		oplog:     oplog,
		logger:    logger.With(slog.String("component", "archiver")),
		batchSize: 5000,
	}
}

// ArchiveCopyTrades archives every copy trade executed before the cutoff and
// removes the archived rows. Returns the number of rows archived.
func (a *Archiver) ArchiveCopyTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		rows, err := a.trades.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list copy trades: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: encode copy trades: %w", err)
		}

		last := rows[len(rows)-1].ExecutedAt
		path := archivePath("copy_trades", last)
		if err := a.upload(ctx, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: upload copy trades: %w", err)
		}

		// Delete only what this batch covered. Rows sharing the final
		// timestamp land in the same batch because ListBefore orders on it.
		deleted, err := a.trades.DeleteBefore(ctx, last.Add(time.Microsecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived copy trades: %w", err)
		}
		total += int64(len(rows))

		a.logger.Info("copy trades archived",
			slog.String("path", path),
			slog.Int("archived", len(rows)),
			slog.Int64("deleted", deleted),
		)
		if len(rows) < a.batchSize {
			return total, nil
		}
	}
}

// ArchiveOpLog archives op-log entries created before the cutoff and removes
// the archived rows. Returns the number of rows archived.
func (a *Archiver) ArchiveOpLog(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		rows, err := a.oplog.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list op log: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: encode op log: %w", err)
		}

		last := rows[len(rows)-1].CreatedAt
		path := archivePath("op_log", last)
		if err := a.upload(ctx, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: upload op log: %w", err)
		}

		deleted, err := a.oplog.DeleteBefore(ctx, last.Add(time.Microsecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived op log: %w", err)
		}
		total += int64(len(rows))

		a.logger.Info("op log archived",
			slog.String("path", path),
			slog.Int("archived", len(rows)),
			slog.Int64("deleted", deleted),
		)
		if len(rows) < a.batchSize {
			return total, nil
		}
	}
}

// Run archives both tables on the given interval until ctx is cancelled.
// retention is how much history stays in the primary store.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := a.ArchiveCopyTrades(ctx, cutoff); err != nil {
				a.logger.Error("copy trade archive pass failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchiveOpLog(ctx, cutoff); err != nil {
				a.logger.Error("op log archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// upload picks the single-shot or multipart path by payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath names an archive object after the newest row it contains:
//
//	archive/copy_trades/2026-08-31/120000.000123.jsonl
//
// The per-batch name keeps a pass from overwriting an earlier batch whose
// rows are already gone from the primary store.
func archivePath(kind string, last time.Time) string {
	last = last.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, last.Format("2006-01-02"), last.Format("150405.000000"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
