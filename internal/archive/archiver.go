package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fxsim/brokercore/internal/domain"
)

// Uploader is the narrow blob interface the archiver needs.
type Uploader interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Archiver periodically moves closed positions older than the retention
// window out of the primary store into object storage. The upload happens
// before the delete, so a failed upload never loses rows; at worst the same
// rows are archived twice.
type Archiver struct {
	store     domain.PositionStore
	uploader  Uploader
	audit     domain.AuditStore // optional
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// Options tunes the archival schedule.
type Options struct {
	// Retention is how long closed positions stay in the primary store.
	Retention time.Duration
	// Interval is how often the archiver runs a pass.
	Interval time.Duration
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(store domain.PositionStore, uploader Uploader, audit domain.AuditStore, opts Options, logger *slog.Logger) *Archiver {
	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		store:     store,
		uploader:  uploader,
		audit:     audit,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run executes archive passes on the configured interval until the context is
// cancelled. Pass failures are logged and retried on the next interval.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started",
		slog.Duration("retention", a.retention),
		slog.Duration("interval", a.interval),
	)
	defer a.logger.Info("archiver stopped")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.Archive(ctx, time.Now().UTC().Add(-a.retention))
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archive pass complete",
					slog.Int64("positions", count),
				)
			}
		}
	}
}

// Archive uploads every closed position whose close time is before cutoff as
// one JSONL object, then deletes the uploaded rows from the primary store. It
// returns the number of archived positions.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	positions, err := a.store.ListClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: query closed positions: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("archive: marshal positions: %w", err)
	}

	key := archiveKey(cutoff)
	if err := a.uploader.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archive: upload %s: %w", key, err)
	}

	deleted, err := a.store.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: delete archived positions: %w", err)
	}

	count := int64(len(positions))
	if len(deleted) != len(positions) {
		a.logger.WarnContext(ctx, "archived and deleted counts differ",
			slog.Int("archived", len(positions)),
			slog.Int("deleted", len(deleted)),
		)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "positions_archived", map[string]any{
			"key":    key,
			"count":  count,
			"cutoff": cutoff.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return count, nil
}

// archiveKey builds the object key for an archive file, partitioned by the
// cutoff date:
//
//	archive/positions/2026-08-30T12-00-00.jsonl
func archiveKey(cutoff time.Time) string {
	return fmt.Sprintf("archive/positions/%s.jsonl", cutoff.Format("2006-01-02T15-04-05"))
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
