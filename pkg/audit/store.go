package audit

import (
	"context"
	"time"
)

// Store provides methods for querying and pruning persisted audit logs
type Store interface {
	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// DeleteBefore removes events older than cutoff
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Store = (*DBLogger)(nil)
