package approval

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

const (
	// DefaultMaxProposals bounds the in-memory store. Each insert past
	// capacity evicts exactly one resident.
	DefaultMaxProposals = 1000

	// DefaultTokenTTL is how long a minted approval token stays usable.
	DefaultTokenTTL = 5 * time.Minute
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrTokenNotFound    = errors.New("approval token not found")
	ErrTokenExpired     = errors.New("approval token expired")
	ErrTokenConsumed    = errors.New("approval token already consumed")
)

// Store holds order proposals and their approval tokens in memory, bounded
// by maxProposals. One exclusive mutex guards both maps; nothing inside a
// critical section performs I/O, so lock hold times stay in microseconds.
type Store struct {
	mu        sync.Mutex
	proposals map[string]contracts.OrderProposal
	tokens    map[string]contracts.ApprovalToken

	maxProposals int
	tokenTTL     time.Duration
	clock        func() time.Time
}

// NewStore creates a proposal store with default capacity and token TTL.
func NewStore() *Store {
	return &Store{
		proposals:    make(map[string]contracts.OrderProposal),
		tokens:       make(map[string]contracts.ApprovalToken),
		maxProposals: DefaultMaxProposals,
		tokenTTL:     DefaultTokenTTL,
		clock:        time.Now,
	}
}

// WithMaxProposals overrides the store capacity.
func (s *Store) WithMaxProposals(n int) *Store {
	if n > 0 {
		s.maxProposals = n
	}
	return s
}

// WithTokenTTL overrides the token lifetime.
func (s *Store) WithTokenTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// TokenTTL returns the configured token lifetime.
func (s *Store) TokenTTL() time.Duration {
	return s.tokenTTL
}

// Put inserts a proposal. When the store is at capacity and the ID is new,
// exactly one resident is evicted first: the terminal proposal with the
// oldest updated_at, or, when nothing is terminal, the proposal with the
// oldest created_at.
func (s *Store) Put(p contracts.OrderProposal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[p.ProposalID]; !exists && len(s.proposals) >= s.maxProposals {
		s.evictOne()
	}
	s.proposals[p.ProposalID] = p
}

// evictOne removes a single proposal and its token. Caller holds the lock.
func (s *Store) evictOne() {
	victimID := ""
	var victimAt time.Time

	for id, p := range s.proposals {
		if !p.State.Terminal() {
			continue
		}
		if victimID == "" || p.UpdatedAt.Before(victimAt) {
			victimID, victimAt = id, p.UpdatedAt
		}
	}
	if victimID == "" {
		for id, p := range s.proposals {
			if victimID == "" || p.CreatedAt.Before(victimAt) {
				victimID, victimAt = id, p.CreatedAt
			}
		}
	}
	if victimID == "" {
		return
	}
	if p := s.proposals[victimID]; p.ApprovalTokenID != "" {
		delete(s.tokens, p.ApprovalTokenID)
	}
	delete(s.proposals, victimID)
}

// Get returns the proposal with the given ID.
func (s *Store) Get(proposalID string) (contracts.OrderProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return contracts.OrderProposal{}, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	return p, nil
}

// Update replaces an existing proposal. Unlike Put it fails when the record
// is absent, so a lifecycle transition can never resurrect an evicted
// proposal.
func (s *Store) Update(p contracts.OrderProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[p.ProposalID]; !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, p.ProposalID)
	}
	s.proposals[p.ProposalID] = p
	return nil
}

// ListPending returns proposals awaiting a decision (states
// APPROVAL_REQUESTED and RISK_APPROVED), most recent first, capped at limit.
// A non-positive limit returns all pending proposals.
func (s *Store) ListPending(limit int) []contracts.OrderProposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]contracts.OrderProposal, 0)
	for _, p := range s.proposals {
		if p.State == contracts.StateApprovalRequested || p.State == contracts.StateRiskApproved {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

// ListByState returns the proposals currently in any of the given states,
// oldest first. Reconciliation uses this to assemble the gateway's view of
// open and filled orders.
func (s *Store) ListByState(states ...contracts.OrderState) []contracts.OrderProposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]contracts.OrderProposal, 0)
	for _, p := range s.proposals {
		for _, state := range states {
			if p.State == state {
				matched = append(matched, p)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched
}

// Grant installs the granted proposal and its freshly minted token under
// one lock acquisition. No reader can ever observe the token without the
// granted proposal, and eviction always reaches the token through the
// proposal's ApprovalTokenID. Fails like Update when the proposal is no
// longer resident, installing neither record.
func (s *Store) Grant(p contracts.OrderProposal, t contracts.ApprovalToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[p.ProposalID]; !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, p.ProposalID)
	}
	s.proposals[p.ProposalID] = p
	s.tokens[t.TokenID] = t
	return nil
}

// PutToken installs a freshly minted token.
func (s *Store) PutToken(t contracts.ApprovalToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.TokenID] = t
}

// GetToken returns the token with the given ID.
func (s *Store) GetToken(tokenID string) (contracts.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return contracts.ApprovalToken{}, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	return t, nil
}

// ConsumeToken marks the token used. Check and write happen under a single
// lock acquisition: of N concurrent callers exactly one wins, the rest get
// ErrTokenConsumed.
func (s *Store) ConsumeToken(tokenID string, now time.Time) (contracts.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return contracts.ApprovalToken{}, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if t.UsedAt != nil {
		return contracts.ApprovalToken{}, fmt.Errorf("%w: %s", ErrTokenConsumed, tokenID)
	}
	if !now.Before(t.ExpiresAt) {
		return contracts.ApprovalToken{}, fmt.Errorf("%w: %s", ErrTokenExpired, tokenID)
	}

	consumed := t.WithUsedAt(now)
	s.tokens[tokenID] = consumed
	return consumed, nil
}

// Counts returns resident proposal and token counts, for diagnostics.
func (s *Store) Counts() (proposals, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.proposals), len(s.tokens)
}
