package domain

import "fmt"

// TeamID identifies the working group formed when a grant goes live. It is
// comparable and used as an authorization key; it never changes once formed.
// Org always equals the bounty's foundation. Sudo, when set, overrides the
// team's share groups.
type TeamID struct {
	Org             OrgID     `json:"org"`
	Sudo            AccountID `json:"sudo,omitempty"`
	FlatShareID     ShareID   `json:"flat_share_id"`
	WeightedShareID ShareID   `json:"weighted_share_id"`
}

func (t TeamID) IsSudo(acc AccountID) bool { return t.Sudo != "" && t.Sudo == acc }

func (t TeamID) String() string {
	return fmt.Sprintf("org=%d flat=%d weighted=%d", t.Org, t.FlatShareID, t.WeightedShareID)
}

// ShareAllocation is one member's share in the terms of agreement.
type ShareAllocation struct {
	Account AccountID `json:"account"`
	Shares  uint64    `json:"shares"`
}

// TermsOfAgreement must be accepted by every team member before the grant
// goes live.
type TermsOfAgreement struct {
	Supervisor AccountID         `json:"supervisor,omitempty"`
	Shares     []ShareAllocation `json:"shares"`
}

func (t TermsOfAgreement) Validate() error {
	if len(t.Shares) == 0 {
		return fmt.Errorf("terms of agreement require at least one share allocation")
	}
	seen := make(map[AccountID]struct{}, len(t.Shares))
	for _, s := range t.Shares {
		if s.Account == "" {
			return fmt.Errorf("share allocation with empty account")
		}
		if s.Shares == 0 {
			return fmt.Errorf("share allocation for %s must be positive", s.Account)
		}
		if _, dup := seen[s.Account]; dup {
			return fmt.Errorf("duplicate share allocation for %s", s.Account)
		}
		seen[s.Account] = struct{}{}
	}
	return nil
}
