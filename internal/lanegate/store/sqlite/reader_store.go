package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lanegate/server/internal/lanegate/store"
)

type ReaderStore struct {
	db *sql.DB
}

func NewReaderStore(db *sql.DB) *ReaderStore {
	return &ReaderStore{db: db}
}

// ListReaders returns every registered reader with its lane, ordered by id.
func (s *ReaderStore) ListReaders(ctx context.Context) ([]store.ReaderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.reader_id, r.lane_id, l.lane_name, r.reader_addr, r.reader_type
FROM readers r
JOIN lanes l ON l.lane_id = r.lane_id
ORDER BY r.reader_id;
`)
	if err != nil {
		return nil, fmt.Errorf("ListReaders query: %w", err)
	}
	defer rows.Close()

	var out []store.ReaderRecord
	for rows.Next() {
		var rec store.ReaderRecord
		if err := rows.Scan(&rec.ReaderID, &rec.LaneID, &rec.LaneName, &rec.Address, &rec.Type); err != nil {
			return nil, fmt.Errorf("ListReaders scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListReaders rows: %w", err)
	}
	return out, nil
}
