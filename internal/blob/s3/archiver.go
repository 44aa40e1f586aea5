package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// ObjectWriter is the upload surface the archiver needs. Satisfied by
// *Writer; tests substitute an in-memory implementation.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// archiveBatchSize bounds the rows loaded and uploaded per part.
const archiveBatchSize = 5000

// ArchiverConfig holds the archival policy.
type ArchiverConfig struct {
	// Retention is how long idempotency keys stay in Postgres. It must cover
	// the deepest plausible replay window, otherwise a replayed event would
	// double-apply to the ledger.
	Retention time.Duration
	// Interval is the pause between archival sweeps.
	Interval time.Duration
}

// Archiver periodically moves processed-event idempotency keys older than the
// retention window out of Postgres into object storage as JSONL. Ledger rows
// are never archived or deleted; only the replay-protection keys age out.
type Archiver struct {
	writer    ObjectWriter
	events    domain.ProcessedEventStore
	cfg       ArchiverConfig
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// NewArchiver creates an Archiver. Run starts the sweep loop.
func NewArchiver(writer ObjectWriter, events domain.ProcessedEventStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		events:    events,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "archiver")),
		batchSize: archiveBatchSize,
		now:       time.Now,
	}
}

// Run sweeps once immediately, then on every interval tick until ctx is
// cancelled. Sweep failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		archived, err := a.Sweep(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
		case archived > 0:
			a.logger.InfoContext(ctx, "archive sweep complete", slog.Int64("archived", archived))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep uploads every idempotency key older than the retention cutoff and
// deletes the uploaded rows. Each part is uploaded and verified before its
// rows are deleted, so a failure mid-sweep loses no keys; rows sharing the
// boundary timestamp of a full part may reappear in the next part, archive
// consumers de-duplicate by (chain_id, tx_id, event_index).
func (a *Archiver) Sweep(ctx context.Context) (int64, error) {
	start := a.now().UTC()
	cutoff := start.Add(-a.cfg.Retention)

	var total int64
	for part := 1; ; part++ {
		rows, err := a.events.ListBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list processed events: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		key := archiveKey(start, part)
		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal part %d: %w", part, err)
		}
		if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload %s: %w", key, err)
		}
		ok, err := a.writer.Exists(ctx, key)
		if err != nil {
			return total, fmt.Errorf("s3blob: verify %s: %w", key, err)
		}
		if !ok {
			return total, fmt.Errorf("s3blob: uploaded part %s is missing", key)
		}

		// A partial page means everything before the cutoff was read; delete
		// up to the cutoff. A full page deletes only up to its last row so
		// unlisted rows survive for the next part.
		boundary := cutoff
		if len(rows) == a.batchSize {
			boundary = rows[len(rows)-1].AppliedAt
		}
		deleted, err := a.events.DeleteBefore(ctx, boundary)
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived rows: %w", err)
		}
		if deleted == 0 && len(rows) == a.batchSize {
			// Every row in the page shares the boundary timestamp; deleting
			// strictly before it removed nothing and relisting would loop.
			return total, fmt.Errorf("s3blob: part %s made no progress", key)
		}
		total += deleted

		if len(rows) < a.batchSize {
			return total, nil
		}
	}
}

// archiveRecord is the JSONL shape of one archived idempotency key.
type archiveRecord struct {
	ChainID    string    `json:"chain_id"`
	TxID       string    `json:"tx_id"`
	EventIndex uint64    `json:"event_index"`
	AppliedAt  time.Time `json:"applied_at"`
}

// archiveKey partitions archive objects by sweep start time.
//
//	archive/processed_events/20260831T020000/part-0001.jsonl
func archiveKey(sweepStart time.Time, part int) string {
	return fmt.Sprintf("archive/processed_events/%s/part-%04d.jsonl",
		sweepStart.Format("20060102T150405"), part)
}

// marshalJSONL serializes the rows as newline-delimited JSON, one compact
// object per line.
func marshalJSONL(rows []domain.ProcessedEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, row := range rows {
		rec := archiveRecord{
			ChainID:    row.ChainID,
			TxID:       row.TxID,
			EventIndex: row.EventIndex,
			AppliedAt:  row.AppliedAt.UTC(),
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
