package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// ReaderAddrs overrides the addresses of the two dev readers.
	ReaderAddrs [2]string
}

type devMember struct {
	name, tag, vehicle, contact string
}

var devMembers = []devMember{
	{"Karthik Kumar", "1234567890ABCDEF12345678", "KA03KD1578", "9876543210"},
	{"Karuna Sharma", "2345678901BCDEF123456789", "KA01AB1234", "8765432109"},
	{"Karan Singh", "3456789012CDEF1234567890", "KA02CD5678", "7654321098"},
}

// SeedDev creates a one-site, two-lane topology with an entry reader on
// lane 1, an exit reader on lane 2, and a few known tags.  Idempotent.
func SeedDev(ctx context.Context, conn *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	addrs := opt.ReaderAddrs
	if addrs[0] == "" {
		addrs[0] = "sim://reader-1"
	}
	if addrs[1] == "" {
		addrs[1] = "sim://reader-2"
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO locations(location_id, name, address, site_id, created_at_ms)
VALUES (1, 'Main Gate', 'Dev', 'site-dev', ?);`, now); err != nil {
		return fmt.Errorf("seed locations: %w", err)
	}

	for laneID, name := range map[int]string{1: "Lane 1 (entry)", 2: "Lane 2 (exit)"} {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO lanes(lane_id, location_id, lane_name, created_at_ms)
VALUES (?, 1, ?, ?);`, laneID, name, now); err != nil {
			return fmt.Errorf("seed lane %d: %w", laneID, err)
		}
	}

	readers := []struct {
		id, lane int
		kind     string
		addr     string
	}{
		{1, 1, "entry", addrs[0]},
		{2, 2, "exit", addrs[1]},
	}
	for _, r := range readers {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO readers(reader_id, lane_id, reader_type, reader_addr, created_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(reader_id) DO UPDATE SET
  reader_addr = excluded.reader_addr;`, r.id, r.lane, r.kind, r.addr, now); err != nil {
			return fmt.Errorf("seed reader %d: %w", r.id, err)
		}
	}

	for _, m := range devMembers {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO kyc_users(name, fastag_id, vehicle_number, contact_number, created_at_ms)
VALUES (?, ?, ?, ?, ?);`, m.name, m.tag, m.vehicle, m.contact, now); err != nil {
			return fmt.Errorf("seed kyc user %s: %w", m.tag, err)
		}
	}

	return tx.Commit()
}
