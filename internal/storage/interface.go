// Package storage holds the best-effort side channels the CSMS mirrors
// registry state into, so an external reader (another pod, an ops
// dashboard) can discover which pod owns a charge point's connection
// without going through the HTTP control API.
package storage

import (
	"context"
	"time"
)

// ConnectionStorage records which pod currently owns a charge point's
// WebSocket connection. Implementations must be safe to call from the
// registry's own goroutine and are expected to degrade gracefully:
// the registry treats every method as best effort and never blocks
// the OCPP or HTTP path on its outcome.
type ConnectionStorage interface {
	// SetConnection registers podID as the current owner of
	// chargePointID, expiring after ttl so a crashed pod's entries
	// self-clean.
	SetConnection(ctx context.Context, chargePointID string, podID string, ttl time.Duration) error

	// GetConnection returns the pod ID currently owning chargePointID,
	// or redis.Nil if no owner is recorded.
	GetConnection(ctx context.Context, chargePointID string) (string, error)

	// DeleteConnection removes chargePointID's ownership record, e.g.
	// when its connection closes normally.
	DeleteConnection(ctx context.Context, chargePointID string) error

	// Close releases the underlying storage connection.
	Close() error
}
