package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lanegate/server/internal/lanegate/types"
)

// MembershipStore reads the KYC table maintained by the dashboard.
// Reads bypass the write worker; WAL lets them run alongside it.
type MembershipStore struct {
	db *sql.DB
}

func NewMembershipStore(db *sql.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

func (s *MembershipStore) LookupTag(ctx context.Context, tagID string) (types.LookupResult, error) {
	tagID = strings.TrimSpace(tagID)
	if tagID == "" {
		return types.LookupResult{}, nil
	}

	var mem types.Member
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, name, vehicle_number
FROM kyc_users
WHERE fastag_id = ?;
`, tagID).Scan(&mem.UserID, &mem.Owner, &mem.VehicleNumber)

	if errors.Is(err, sql.ErrNoRows) {
		return types.LookupResult{}, nil
	}
	if err != nil {
		return types.LookupResult{}, fmt.Errorf("LookupTag query: %w", err)
	}
	return types.LookupResult{Found: true, Member: mem}, nil
}
