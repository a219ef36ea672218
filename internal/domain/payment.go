package domain

// BountyPaymentTracker reconciles what a bounty owes its teams (Due) against
// what has been released (Received). Received never exceeds Due.
type BountyPaymentTracker struct {
	BountyID BountyID `json:"bounty_id"`
	Received Amount   `json:"received"`
	Due      Amount   `json:"due"`
}

// AddDue grows the amount owed when a grant goes live.
func (t BountyPaymentTracker) AddDue(amount Amount) (BountyPaymentTracker, error) {
	if t.Due+amount < t.Due {
		return t, consistencyf("due overflow on bounty %d", t.BountyID)
	}
	t.Due += amount
	return t, nil
}

// Update records a release. Exceeding Due is a ledger consistency error, not
// a value to clamp.
func (t BountyPaymentTracker) Update(receivedDelta Amount) (BountyPaymentTracker, error) {
	next := t.Received + receivedDelta
	if next < t.Received || next > t.Due {
		return t, consistencyf("bounty %d payment tracker: received %d + %d exceeds due %d",
			t.BountyID, t.Received, receivedDelta, t.Due)
	}
	t.Received = next
	return t, nil
}

// Outstanding is what remains owed.
func (t BountyPaymentTracker) Outstanding() Amount { return t.Due - t.Received }
