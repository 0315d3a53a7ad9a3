package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/lanegate/server/internal/lanegate/types"
)

type MembershipStore struct {
	mu      sync.RWMutex
	members map[string]types.Member
}

// NewMembershipStore seeds the store with tag -> member entries.
func NewMembershipStore(members map[string]types.Member) *MembershipStore {
	m := make(map[string]types.Member, len(members))
	for tag, mem := range members {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			m[tag] = mem
		}
	}
	return &MembershipStore{members: m}
}

func (s *MembershipStore) LookupTag(_ context.Context, tagID string) (types.LookupResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.members[tagID]
	if !ok {
		return types.LookupResult{}, nil
	}
	return types.LookupResult{Found: true, Member: mem}, nil
}

func (s *MembershipStore) Put(tagID string, mem types.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[tagID] = mem
}
