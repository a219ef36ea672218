package domain

// Event is one row of the append-only event log.
type Event struct {
	ID            int64         `json:"id"`
	TS            string        `json:"ts"`
	Type          string        `json:"type"`
	EntityKind    string        `json:"entity_kind"`
	BountyID      BountyID      `json:"bounty_id,omitempty"`
	ApplicationID ApplicationID `json:"application_id,omitempty"`
	MilestoneID   MilestoneID   `json:"milestone_id,omitempty"`
	ActorID       AccountID     `json:"actor_id"`
	Payload       string        `json:"payload,omitempty"`
}

type ReleaseStatus string

const (
	ReleasePending  ReleaseStatus = "pending"
	ReleaseReleased ReleaseStatus = "released"
)

// Release is the outbox row written in the same transaction that enables a
// milestone transfer. At most one exists per (application, milestone).
type Release struct {
	BountyID      BountyID      `json:"bounty_id"`
	ApplicationID ApplicationID `json:"application_id"`
	MilestoneID   MilestoneID   `json:"milestone_id"`
	Amount        Amount        `json:"amount"`
	Recipient     AccountID     `json:"recipient"`
	ReservationID ReservationID `json:"reservation_id"`
	Status        ReleaseStatus `json:"status"`
	Receipt       string        `json:"receipt,omitempty"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
}
