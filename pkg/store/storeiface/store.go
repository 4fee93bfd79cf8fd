package storeiface

import (
	"context"
	"time"
)

// ReportStore queues push ids for collection and keeps the latest report
// snapshot per push.
type ReportStore interface {
	// Queue (FIFO). Pop returns "" when nothing arrived within block.
	Enqueue(ctx context.Context, pushIDs ...string) error
	Requeue(ctx context.Context, pushIDs ...string) error
	Pop(ctx context.Context, block time.Duration) (string, error)

	// Snapshots. payload is stored as-is.
	SaveDetail(ctx context.Context, pushID string, payload []byte, ttl time.Duration) error
	GetDetail(ctx context.Context, pushID string) ([]byte, bool, error)
	SaveSeries(ctx context.Context, pushID, precision string, payload []byte, ttl time.Duration) error
	GetSeries(ctx context.Context, pushID, precision string) ([]byte, bool, error)
}
