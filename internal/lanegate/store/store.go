package store

import (
	"context"
	"time"

	"github.com/lanegate/server/internal/lanegate/types"
)

// AccessLogStore persists access decisions as an append-only audit log.
type AccessLogStore interface {
	InsertAccessLog(ctx context.Context, ev types.AccessLogEvent) error
}

// BarrierEventStore persists relay transitions as an append-only audit log.
type BarrierEventStore interface {
	InsertBarrierEvent(ctx context.Context, ev types.BarrierEvent) error
}

// EventStore is the sink drained by the async log writer.
type EventStore interface {
	AccessLogStore
	BarrierEventStore
}

// RetentionStore deletes audit rows older than a cutoff.  Returns the
// number of rows deleted.
type RetentionStore interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MembershipStore answers whether a tag belongs to a registered vehicle.
// It is read-only from the engine's point of view.
type MembershipStore interface {
	LookupTag(ctx context.Context, tagID string) (types.LookupResult, error)
}

// ReaderRecord is a reader endpoint as registered by site administration.
type ReaderRecord struct {
	ReaderID int
	LaneID   int
	LaneName string
	Address  string
	Type     string // "entry" | "exit"
}

type ReaderStore interface {
	ListReaders(ctx context.Context) ([]ReaderRecord, error)
}
