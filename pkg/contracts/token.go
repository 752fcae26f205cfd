package contracts

import "time"

// ApprovalToken authorizes exactly one broker submission of the intent it was
// minted against. Tokens are immutable; consumption is a test-and-set
// performed by the store, which installs the copy returned by WithUsedAt.
type ApprovalToken struct {
	TokenID    string `json:"token_id"`
	ProposalID string `json:"proposal_id"`

	// IntentHash snapshots the proposal's intent hash at mint time.
	IntentHash string `json:"intent_hash"`

	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// IsValid reports whether the token is unused and unexpired at now.
func (t ApprovalToken) IsValid(now time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// WithUsedAt returns a consumed copy. The store's consume operation is the
// only caller; it takes its lock, checks IsValid, and swaps the record.
func (t ApprovalToken) WithUsedAt(now time.Time) ApprovalToken {
	used := now
	t.UsedAt = &used
	return t
}
