package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ReviewBoard describes who may approve an application or milestone and how.
// Boards only parameterize votes opened by the Voting collaborator; they never
// tally.
type ReviewBoard interface {
	// IsSudo is true iff an administrator is set and equals acc.
	IsSudo(acc AccountID) bool
	Org() OrgID
	// Group is the share group whose members sit on the board.
	Group() ShareID
	VoteParams(topic Hash) VoteParams
	Validate() error
}

// BoardKind names a ReviewBoard implementation in its persisted form.
type BoardKind string

const (
	BoardFlatPetition      BoardKind = "flat_petition"
	BoardWeightedThreshold BoardKind = "weighted_threshold"
)

// VoteType is the weighting scheme of a weighted-threshold vote.
type VoteType string

const (
	VoteOneAccountOneVote VoteType = "one_account_one_vote"
	VoteShareWeighted     VoteType = "share_weighted"
)

// ThresholdKind selects how a Threshold's values are read.
type ThresholdKind string

const (
	// ThresholdPercentage values are fractions in (0, 1] of the group's total weight.
	ThresholdPercentage ThresholdKind = "percentage"
	// ThresholdSignal values are absolute weight counts.
	ThresholdSignal ThresholdKind = "signal"
)

// Threshold is the generic approval/rejection requirement of a weighted vote.
type Threshold struct {
	Kind     ThresholdKind    `json:"kind" yaml:"kind"`
	Approval decimal.Decimal  `json:"approval" yaml:"approval"`
	Reject   *decimal.Decimal `json:"reject,omitempty" yaml:"reject,omitempty"`
}

func (t Threshold) Validate() error {
	check := func(name string, v decimal.Decimal) error {
		if !v.IsPositive() {
			return fmt.Errorf("threshold %s must be positive", name)
		}
		if t.Kind == ThresholdPercentage && v.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("percentage threshold %s must be at most 1", name)
		}
		if t.Kind == ThresholdSignal && !v.IsInteger() {
			return fmt.Errorf("signal threshold %s must be a whole number", name)
		}
		return nil
	}
	switch t.Kind {
	case ThresholdPercentage, ThresholdSignal:
	default:
		return fmt.Errorf("invalid threshold kind %q", t.Kind)
	}
	if err := check("approval", t.Approval); err != nil {
		return err
	}
	if t.Reject != nil {
		return check("reject", *t.Reject)
	}
	return nil
}

// VoteParams is what the Voting collaborator needs to open a vote on behalf
// of a board.
type VoteParams struct {
	Kind  VoteKind `json:"kind"`
	Org   OrgID    `json:"org"`
	Group ShareID  `json:"group"`
	Topic Hash     `json:"topic,omitempty"`

	// petition parameters
	ApprovalSignatures  uint32  `json:"approval_signatures,omitempty"`
	RejectionSignatures *uint32 `json:"rejection_signatures,omitempty"`

	// threshold parameters
	VoteType  VoteType   `json:"vote_type,omitempty"`
	Threshold *Threshold `json:"threshold,omitempty"`
}

// FlatPetitionBoard counts signatures of a flat membership group against two
// independent thresholds.
type FlatPetitionBoard struct {
	Sudo               AccountID `json:"sudo,omitempty" yaml:"sudo,omitempty"`
	OrgID              OrgID     `json:"org" yaml:"org"`
	FlatShareID        ShareID   `json:"flat_share_id" yaml:"flat_share_id"`
	ApprovalThreshold  uint32    `json:"approval_threshold" yaml:"approval_threshold"`
	RejectionThreshold *uint32   `json:"rejection_threshold,omitempty" yaml:"rejection_threshold,omitempty"`
	Topic              Hash      `json:"topic,omitempty" yaml:"topic,omitempty"`
}

func (b FlatPetitionBoard) IsSudo(acc AccountID) bool { return b.Sudo != "" && b.Sudo == acc }
func (b FlatPetitionBoard) Org() OrgID                { return b.OrgID }
func (b FlatPetitionBoard) Group() ShareID            { return b.FlatShareID }

func (b FlatPetitionBoard) VoteParams(topic Hash) VoteParams {
	if b.Topic != "" {
		topic = b.Topic
	}
	return VoteParams{
		Kind:                VoteKindPetition,
		Org:                 b.OrgID,
		Group:               b.FlatShareID,
		Topic:               topic,
		ApprovalSignatures:  b.ApprovalThreshold,
		RejectionSignatures: b.RejectionThreshold,
	}
}

func (b FlatPetitionBoard) Validate() error {
	if b.ApprovalThreshold == 0 {
		return errors.New("flat petition board requires approval_threshold > 0")
	}
	if b.RejectionThreshold != nil && *b.RejectionThreshold == 0 {
		return errors.New("flat petition board rejection_threshold must be > 0 when set")
	}
	return nil
}

// WeightedThresholdBoard measures approval against a weighted share group.
type WeightedThresholdBoard struct {
	Sudo            AccountID `json:"sudo,omitempty" yaml:"sudo,omitempty"`
	OrgID           OrgID     `json:"org" yaml:"org"`
	WeightedShareID ShareID   `json:"weighted_share_id" yaml:"weighted_share_id"`
	VoteType        VoteType  `json:"vote_type" yaml:"vote_type"`
	Threshold       Threshold `json:"threshold" yaml:"threshold"`
}

func (b WeightedThresholdBoard) IsSudo(acc AccountID) bool { return b.Sudo != "" && b.Sudo == acc }
func (b WeightedThresholdBoard) Org() OrgID                { return b.OrgID }
func (b WeightedThresholdBoard) Group() ShareID            { return b.WeightedShareID }

func (b WeightedThresholdBoard) VoteParams(topic Hash) VoteParams {
	th := b.Threshold
	return VoteParams{
		Kind:      VoteKindThreshold,
		Org:       b.OrgID,
		Group:     b.WeightedShareID,
		Topic:     topic,
		VoteType:  b.VoteType,
		Threshold: &th,
	}
}

func (b WeightedThresholdBoard) Validate() error {
	switch b.VoteType {
	case VoteOneAccountOneVote, VoteShareWeighted:
	default:
		return fmt.Errorf("invalid vote type %q", b.VoteType)
	}
	return b.Threshold.Validate()
}

// BoardSpec is the persisted, tagged form of a ReviewBoard.
type BoardSpec struct {
	Kind     BoardKind               `json:"kind" yaml:"kind" enum:"flat_petition,weighted_threshold"`
	Flat     *FlatPetitionBoard      `json:"flat,omitempty" yaml:"flat,omitempty"`
	Weighted *WeightedThresholdBoard `json:"weighted,omitempty" yaml:"weighted,omitempty"`
}

// Board builds the ReviewBoard described by s.
func (s BoardSpec) Board() (ReviewBoard, error) {
	var b ReviewBoard
	switch s.Kind {
	case BoardFlatPetition:
		if s.Flat == nil {
			return nil, errors.New("flat_petition board missing flat parameters")
		}
		b = *s.Flat
	case BoardWeightedThreshold:
		if s.Weighted == nil {
			return nil, errors.New("weighted_threshold board missing weighted parameters")
		}
		b = *s.Weighted
	default:
		return nil, fmt.Errorf("invalid board kind %q", s.Kind)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// SpecOf is the inverse of BoardSpec.Board.
func SpecOf(b ReviewBoard) BoardSpec {
	switch v := b.(type) {
	case FlatPetitionBoard:
		return BoardSpec{Kind: BoardFlatPetition, Flat: &v}
	case *FlatPetitionBoard:
		return BoardSpec{Kind: BoardFlatPetition, Flat: v}
	case WeightedThresholdBoard:
		return BoardSpec{Kind: BoardWeightedThreshold, Weighted: &v}
	case *WeightedThresholdBoard:
		return BoardSpec{Kind: BoardWeightedThreshold, Weighted: v}
	default:
		return BoardSpec{}
	}
}

func marshalBoard(b ReviewBoard) (json.RawMessage, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(SpecOf(b))
}

func unmarshalBoard(raw json.RawMessage) (ReviewBoard, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var spec BoardSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	return spec.Board()
}
