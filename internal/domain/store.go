package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore is the durable mirror of the position book. Open positions
// are written on open and on close (status transitions only); live P&L is
// never persisted per tick.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Close transitions an open position to closed, stamping the close
	// fields. It must affect at most one row and return ErrNotFound when no
	// open position with that id exists, so concurrent closes resolve to
	// exactly one winner even across processes.
	Close(ctx context.Context, id string, detail CloseDetail) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListOpenByUser(ctx context.Context, userID, account string) ([]Position, error)
	ListClosedByUser(ctx context.Context, userID, account string, opts ListOpts) ([]Position, error)
	// ListClosedBefore returns closed positions whose close time is before
	// cutoff, for archival.
	ListClosedBefore(ctx context.Context, cutoff time.Time) ([]Position, error)
	// DeleteClosedBefore prunes closed positions whose close time is before
	// cutoff and returns the removed rows. Archive first, then delete.
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) ([]Position, error)
}

// OrderStore persists accepted orders as a write-once audit trail.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID, account string, opts ListOpts) ([]Order, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of core state transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
