package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type (
	BountyID      uint64
	ApplicationID uint64
	// MilestoneID is the 1-based position of a milestone within its application.
	MilestoneID   uint64
	OrgID         uint32
	ShareID       uint32
	AccountID     string
	Hash          string
	Amount        uint64
	ReservationID string
)

// VoteKind tags the external mechanism behind a VoteID.
type VoteKind string

const (
	VoteKindPetition  VoteKind = "petition"
	VoteKindThreshold VoteKind = "threshold"
)

// VoteID references a vote or petition tracked by the Voting collaborator.
// Only the identifier and its terminal outcome are consumed here.
type VoteID struct {
	Kind VoteKind `json:"kind" enum:"petition,threshold"`
	ID   uint32   `json:"id"`
}

func Petition(id uint32) VoteID { return VoteID{Kind: VoteKindPetition, ID: id} }
func ThresholdVote(id uint32) VoteID { return VoteID{Kind: VoteKindThreshold, ID: id} }

func (v VoteID) IsZero() bool { return v.Kind == "" }

func (v VoteID) String() string {
	if v.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%d", v.Kind, v.ID)
}

// ParseVoteID parses the "kind:id" form produced by String.
func ParseVoteID(s string) (VoteID, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return VoteID{}, fmt.Errorf("invalid vote id %q: want kind:id", s)
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return VoteID{}, fmt.Errorf("invalid vote id %q: %w", s, err)
	}
	switch VoteKind(kind) {
	case VoteKindPetition:
		return Petition(uint32(n)), nil
	case VoteKindThreshold:
		return ThresholdVote(uint32(n)), nil
	default:
		return VoteID{}, fmt.Errorf("invalid vote kind %q", kind)
	}
}
