package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ObjectWriter stores one object. Implemented by the S3 client in
// pkg/storage/postgres.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// ArchiveResult summarizes one archive run
type ArchiveResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	Objects  []string  `json:"objects"`
	Pruned   int64     `json:"pruned"`
}

// Archiver moves audit events past the retention period out of the
// database. Expired events are uploaded as NDJSON batches and only deleted
// once every batch has been written.
type Archiver struct {
	store     Store
	objects   ObjectWriter
	policy    RetentionPolicy
	batchSize int
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewArchiver creates an archiver. objects may be nil when the policy
// disables archiving; expired events are then pruned without a copy.
func NewArchiver(store Store, objects ObjectWriter, policy RetentionPolicy, logger *observability.Logger) *Archiver {
	return &Archiver{
		store:     store,
		objects:   objects,
		policy:    policy,
		batchSize: 5000,
		logger:    logger,
		now:       time.Now,
	}
}

// SetMetrics enables audit metrics
func (a *Archiver) SetMetrics(metrics *observability.Metrics) {
	a.metrics = metrics
}

// Run archives and prunes every event older than the retention cutoff
func (a *Archiver) Run(ctx context.Context) (*ArchiveResult, error) {
	cutoff := a.policy.Cutoff(a.now().UTC())
	result := &ArchiveResult{Cutoff: cutoff}

	if a.policy.ArchiveEnabled {
		if a.objects == nil {
			return nil, fmt.Errorf("archiving is enabled but no object store is configured")
		}
		if err := a.archive(ctx, cutoff, result); err != nil {
			a.record("archive", err)
			return nil, err
		}
		a.record("archive", nil)
	}

	pruned, err := a.store.DeleteBefore(ctx, cutoff)
	a.record("prune", err)
	if err != nil {
		return nil, err
	}
	result.Pruned = pruned

	a.logger.WithFields(map[string]interface{}{
		"cutoff":   cutoff.Format(time.RFC3339),
		"archived": result.Archived,
		"objects":  len(result.Objects),
		"pruned":   pruned,
	}).Info("audit retention run complete")

	return result, nil
}

func (a *Archiver) archive(ctx context.Context, cutoff time.Time, result *ArchiveResult) error {
	for offset := 0; ; offset += a.batchSize {
		events, err := a.store.Search(ctx, SearchFilter{
			EndTime:   &cutoff,
			Limit:     a.batchSize,
			Offset:    offset,
			Ascending: true,
		})
		if err != nil {
			return fmt.Errorf("failed to read expired audit events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		key := a.objectKey(cutoff, len(result.Objects))
		if err := a.upload(ctx, key, events); err != nil {
			return err
		}
		result.Archived += len(events)
		result.Objects = append(result.Objects, key)

		if len(events) < a.batchSize {
			return nil
		}
	}
}

func (a *Archiver) upload(ctx context.Context, key string, events []*AuditEvent) error {
	data, err := Export(events, ExportFormatNDJSON)
	if err != nil {
		return err
	}

	contentType := "application/x-ndjson"
	if a.policy.CompressArchive {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
		data = buf.Bytes()
		contentType = "application/gzip"
	}

	if err := a.objects.PutObject(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return fmt.Errorf("failed to upload audit archive %s: %w", key, err)
	}
	return nil
}

// objectKey lays archives out by cutoff date, e.g.
// audit/2026/01/31/audit-20260131T000000Z-0000.ndjson.gz
func (a *Archiver) objectKey(cutoff time.Time, part int) string {
	name := fmt.Sprintf("audit-%s-%04d.ndjson", cutoff.Format("20060102T150405Z"), part)
	if a.policy.CompressArchive {
		name += ".gz"
	}
	return path.Join(a.policy.ArchivePrefix, cutoff.Format("2006/01/02"), name)
}

func (a *Archiver) record(eventType string, err error) {
	if a.metrics != nil {
		a.metrics.RecordAuditEvent(eventType, err)
	}
}
