package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/lanegate/server/internal/db"
	"github.com/lanegate/server/internal/lanegate/types"
)

// EventStore persists access logs and barrier events.  All writes go
// through the single db worker; event_id makes inserts idempotent.
type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

func (s *EventStore) InsertAccessLog(ctx context.Context, ev types.AccessLogEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Result != types.AccessGranted && ev.Result != types.AccessDenied {
		return fmt.Errorf("InsertAccessLog: invalid result %q", ev.Result)
	}

	reason := nullString(ev.Reason)
	owner := nullString(ev.Owner)
	vehicle := nullString(ev.Vehicle)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO access_logs(
  event_id, tag_id, reader_id, lane_id, device_id,
  access_result, reason, owner_name, vehicle_number, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			ev.EventID, ev.TagID, ev.ReaderID, ev.LaneID, ev.DeviceID,
			string(ev.Result), reason, owner, vehicle, ev.Timestamp.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("InsertAccessLog insert: %w", err)
		}
		return nil
	})
}

func (s *EventStore) InsertBarrierEvent(ctx context.Context, ev types.BarrierEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var laneID, readerID any
	if ev.LaneID != 0 {
		laneID = ev.LaneID
	}
	if ev.ReaderID != 0 {
		readerID = ev.ReaderID
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO barrier_events(
  event_id, relay_number, action, user_name, lane_id, reader_id, source, occurred_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			ev.EventID, ev.RelayNumber, string(ev.Action), nullString(ev.User),
			laneID, readerID, string(ev.Source), ev.Timestamp.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("InsertBarrierEvent insert: %w", err)
		}
		return nil
	})
}

// PruneOlderThan deletes access_logs and barrier_events rows recorded
// before cutoff.  Uses the *_time indexes for range scans.
func (s *EventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM access_logs WHERE decided_at_ms < ?;`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan access_logs: %w", err)
		}
		n, _ := res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM barrier_events WHERE occurred_at_ms < ?;`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan barrier_events: %w", err)
		}
		m, _ := res.RowsAffected()

		deleted = n + m
		return nil
	})
	return deleted, err
}

func nullString(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
