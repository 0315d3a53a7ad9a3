package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lanegate/server/internal/lanegate/store"
	"github.com/lanegate/server/internal/lanegate/types"
)

// Membership answers whether a tag is registered.  The backing store is
// treated as read-only and possibly slow; every lookup is bounded.
type Membership struct {
	store   store.MembershipStore
	timeout time.Duration
}

func NewMembership(st store.MembershipStore, timeout time.Duration) *Membership {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Membership{store: st, timeout: timeout}
}

// Lookup returns Found=false for unknown or blank tags.  Any store error,
// including a timeout, wraps ErrLookup.
func (m *Membership) Lookup(ctx context.Context, tagID string) (types.LookupResult, error) {
	tagID = strings.TrimSpace(tagID)
	if tagID == "" {
		return types.LookupResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.store.LookupTag(ctx, tagID)
	if err != nil {
		return types.LookupResult{}, fmt.Errorf("%w: tag %s: %w", ErrLookup, tagID, err)
	}
	return res, nil
}
