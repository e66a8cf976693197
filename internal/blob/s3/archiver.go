package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeclash/marginbot/internal/domain"
)

const (
	// archiveBatch bounds one export so a long-neglected ledger is drained
	// incrementally rather than in one giant query.
	archiveBatch = 5000

	defaultRetention = 90 * 24 * time.Hour
	defaultInterval  = 24 * time.Hour
)

// ArchiverConfig holds the ledger archiver's tunables.
type ArchiverConfig struct {
	// Retention is how long closures stay in the primary store before being
	// exported and pruned.
	Retention time.Duration

	// Interval between archive passes.
	Interval time.Duration
}

// Archiver periodically exports closure-ledger rows older than the retention
// window to the object store as JSONL and prunes them from the primary store.
// Pruning happens only after a successful upload, so a failed export leaves
// the rows where they are for the next pass.
type Archiver struct {
	cfg    ArchiverConfig
	writer *Writer
	ledger domain.LedgerStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig, writer *Writer, ledger domain.LedgerStore, logger *slog.Logger) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		ledger: ledger,
		logger: logger.With(slog.String("component", "ledger_archiver")),
	}
}

// Run archives on the configured interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("ledger archiver started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Duration("retention", a.cfg.Retention),
	)
	defer a.logger.Info("ledger archiver stopped")

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archive pass complete",
					slog.Int64("closures", n),
				)
			}
		}
	}
}

// ArchiveOnce exports and prunes every closure older than the retention
// window, in batches. It returns the total number of closures archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)

	var total int64
	for {
		closures, err := a.ledger.ListClosuresBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return total, fmt.Errorf("s3blob: list closures: %w", err)
		}
		if len(closures) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(closures)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal closures: %w", err)
		}

		path := exportPath(closures[0].ClosedAt, time.Now().UTC())
		if err := a.upload(ctx, path, buf); err != nil {
			return total, err
		}

		// Prune exactly what was exported: everything up to and including
		// the last closure in this batch.
		boundary := closures[len(closures)-1].ClosedAt.Add(time.Nanosecond)
		if boundary.After(cutoff) {
			boundary = cutoff
		}
		pruned, err := a.ledger.PruneBefore(ctx, boundary)
		if err != nil {
			return total, fmt.Errorf("s3blob: prune closures: %w", err)
		}

		total += int64(len(closures))
		a.logger.DebugContext(ctx, "archived closure batch",
			slog.String("path", path),
			slog.Int("exported", len(closures)),
			slog.Int64("pruned", pruned),
		)

		if len(closures) < archiveBatch {
			return total, nil
		}
	}
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > minPartSize {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return fmt.Errorf("s3blob: upload export: %w", err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload export: %w", err)
	}
	return nil
}

// exportPath partitions exports by the month of the oldest closure and keys
// each file by export time so repeated passes never overwrite one another.
//
//	ledger/2026-07/20260827T031500Z.jsonl
func exportPath(oldest, exportedAt time.Time) string {
	return fmt.Sprintf("ledger/%s/%s.jsonl",
		oldest.Format("2006-01"),
		exportedAt.Format("20060102T150405Z"),
	)
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
