package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ApplicationPhase names an ApplicationState variant.
type ApplicationPhase string

const (
	PhaseSubmitted           ApplicationPhase = "submitted_awaiting_response"
	PhaseUnderReview         ApplicationPhase = "under_review_by_acceptance_committee"
	PhaseAwaitingTeamConsent ApplicationPhase = "approved_by_foundation_awaiting_team_consent"
	PhaseLive                ApplicationPhase = "approved_and_live"
	PhaseClosed              ApplicationPhase = "closed"
)

// Rank orders phases along the forward path. Closed ranks last since it is
// reachable from every non-terminal phase.
func (p ApplicationPhase) Rank() int {
	switch p {
	case PhaseSubmitted:
		return 0
	case PhaseUnderReview:
		return 1
	case PhaseAwaitingTeamConsent:
		return 2
	case PhaseLive:
		return 3
	case PhaseClosed:
		return 4
	default:
		return -1
	}
}

// ApplicationState is the lifecycle of a grant application. Variants carry
// the data their transitions depend on.
type ApplicationState interface {
	Phase() ApplicationPhase
	isApplicationState()
}

type ApplicationSubmitted struct{}

type ApplicationUnderReview struct {
	Vote VoteID
}

type ApplicationAwaitingTeamConsent struct {
	Share ShareID
	Vote  VoteID
}

type ApplicationLive struct {
	Team TeamID
}

type ApplicationClosed struct{}

func (ApplicationSubmitted) Phase() ApplicationPhase           { return PhaseSubmitted }
func (ApplicationUnderReview) Phase() ApplicationPhase         { return PhaseUnderReview }
func (ApplicationAwaitingTeamConsent) Phase() ApplicationPhase { return PhaseAwaitingTeamConsent }
func (ApplicationLive) Phase() ApplicationPhase                { return PhaseLive }
func (ApplicationClosed) Phase() ApplicationPhase              { return PhaseClosed }

func (ApplicationSubmitted) isApplicationState()           {}
func (ApplicationUnderReview) isApplicationState()         {}
func (ApplicationAwaitingTeamConsent) isApplicationState() {}
func (ApplicationLive) isApplicationState()                {}
func (ApplicationClosed) isApplicationState()              {}

// GrantApplication is one funding request against a bounty. Transitions are
// pure: they return a new value and leave the receiver untouched.
type GrantApplication struct {
	ID          ApplicationID
	BountyID    BountyID
	Submitter   AccountID
	Description Hash
	TotalAmount Amount
	Terms       TermsOfAgreement
	State       ApplicationState
	CreatedAt   string
	UpdatedAt   string
}

// NewGrantApplication files an application in ApplicationSubmitted. Checking
// amount against the bounty's remaining capacity is the caller's job.
func NewGrantApplication(bounty BountyID, submitter AccountID, description Hash, amount Amount, terms TermsOfAgreement) (GrantApplication, error) {
	if amount == 0 {
		return GrantApplication{}, errors.New("application amount must be positive")
	}
	if err := terms.Validate(); err != nil {
		return GrantApplication{}, err
	}
	return GrantApplication{
		BountyID:    bounty,
		Submitter:   submitter,
		Description: description,
		TotalAmount: amount,
		Terms:       terms,
		State:       ApplicationSubmitted{},
	}, nil
}

func (a GrantApplication) phase() ApplicationPhase {
	if a.State == nil {
		return PhaseSubmitted
	}
	return a.State.Phase()
}

func (a GrantApplication) invalid(op string, allowed ...ApplicationPhase) error {
	names := make([]string, len(allowed))
	for i, p := range allowed {
		names[i] = string(p)
	}
	return InvalidTransitionError{
		Entity:    fmt.Sprintf("application %d", a.ID),
		Operation: op,
		From:      string(a.phase()),
		Allowed:   names,
	}
}

// Live reports whether the application can still be approved.
func (a GrantApplication) Live() bool {
	switch a.State.(type) {
	case ApplicationSubmitted, ApplicationUnderReview, nil:
		return true
	default:
		return false
	}
}

// MatchesRegisteredTeam authorizes milestone work for exactly the team that
// was approved.
func (a GrantApplication) MatchesRegisteredTeam(team TeamID) bool {
	live, ok := a.State.(ApplicationLive)
	return ok && live.Team == team
}

// Terminal is true for ApplicationLive and ApplicationClosed.
func (a GrantApplication) Terminal() bool {
	switch a.State.(type) {
	case ApplicationLive, ApplicationClosed:
		return true
	default:
		return false
	}
}

func (a GrantApplication) StartReview(vote VoteID) (GrantApplication, error) {
	if vote.IsZero() {
		return a, errors.New("start review requires a vote id")
	}
	if !a.Live() {
		return a, a.invalid("start_review", PhaseSubmitted)
	}
	if _, ok := a.State.(ApplicationUnderReview); ok {
		return a, a.invalid("start_review", PhaseSubmitted)
	}
	a.State = ApplicationUnderReview{Vote: vote}
	return a, nil
}

func (a GrantApplication) ApproveTeamConsent(share ShareID, vote VoteID) (GrantApplication, error) {
	if vote.IsZero() {
		return a, errors.New("team consent requires a vote id")
	}
	if _, ok := a.State.(ApplicationUnderReview); !ok {
		return a, a.invalid("approve_pending_team_consent", PhaseUnderReview)
	}
	a.State = ApplicationAwaitingTeamConsent{Share: share, Vote: vote}
	return a, nil
}

// ApproveGrant forms the team. The team must belong to the bounty's foundation.
func (a GrantApplication) ApproveGrant(bounty BountyInformation, team TeamID) (GrantApplication, error) {
	if _, ok := a.State.(ApplicationAwaitingTeamConsent); !ok {
		return a, a.invalid("approve_grant", PhaseAwaitingTeamConsent)
	}
	if a.BountyID != bounty.ID {
		return a, consistencyf("application %d belongs to bounty %d, not %d", a.ID, a.BountyID, bounty.ID)
	}
	if team.Org != bounty.Foundation() {
		return a, consistencyf("team org %d does not match bounty %d foundation %d", team.Org, bounty.ID, bounty.Foundation())
	}
	a.State = ApplicationLive{Team: team}
	return a, nil
}

// Close is idempotent on a closed application so concurrent or duplicate
// close attempts all succeed.
func (a GrantApplication) Close() (GrantApplication, error) {
	switch a.State.(type) {
	case ApplicationClosed:
		return a, nil
	case ApplicationLive:
		return a, a.invalid("close", PhaseSubmitted, PhaseUnderReview, PhaseAwaitingTeamConsent)
	}
	a.State = ApplicationClosed{}
	return a, nil
}

// PendingVote is the vote the application currently waits on, if any.
func (a GrantApplication) PendingVote() (VoteID, bool) {
	switch s := a.State.(type) {
	case ApplicationUnderReview:
		return s.Vote, true
	case ApplicationAwaitingTeamConsent:
		return s.Vote, true
	default:
		return VoteID{}, false
	}
}

// Team returns the live team, if formed.
func (a GrantApplication) Team() (TeamID, bool) {
	live, ok := a.State.(ApplicationLive)
	return live.Team, ok
}

// StateRecord is the flat persisted form of an ApplicationState.
type StateRecord struct {
	Phase ApplicationPhase `json:"phase"`
	Vote  *VoteID          `json:"vote,omitempty"`
	Share *ShareID         `json:"share,omitempty"`
	Team  *TeamID          `json:"team,omitempty"`
}

func RecordOf(s ApplicationState) StateRecord {
	switch v := s.(type) {
	case ApplicationUnderReview:
		return StateRecord{Phase: PhaseUnderReview, Vote: &v.Vote}
	case ApplicationAwaitingTeamConsent:
		return StateRecord{Phase: PhaseAwaitingTeamConsent, Vote: &v.Vote, Share: &v.Share}
	case ApplicationLive:
		return StateRecord{Phase: PhaseLive, Team: &v.Team}
	case ApplicationClosed:
		return StateRecord{Phase: PhaseClosed}
	default:
		return StateRecord{Phase: PhaseSubmitted}
	}
}

func (r StateRecord) State() (ApplicationState, error) {
	switch r.Phase {
	case PhaseSubmitted, "":
		return ApplicationSubmitted{}, nil
	case PhaseUnderReview:
		if r.Vote == nil {
			return nil, errors.New("under review state missing vote")
		}
		return ApplicationUnderReview{Vote: *r.Vote}, nil
	case PhaseAwaitingTeamConsent:
		if r.Vote == nil || r.Share == nil {
			return nil, errors.New("team consent state missing vote or share")
		}
		return ApplicationAwaitingTeamConsent{Share: *r.Share, Vote: *r.Vote}, nil
	case PhaseLive:
		if r.Team == nil {
			return nil, errors.New("live state missing team")
		}
		return ApplicationLive{Team: *r.Team}, nil
	case PhaseClosed:
		return ApplicationClosed{}, nil
	default:
		return nil, fmt.Errorf("unknown application phase %q", r.Phase)
	}
}

type applicationJSON struct {
	ID          ApplicationID    `json:"id"`
	BountyID    BountyID         `json:"bounty_id"`
	Submitter   AccountID        `json:"submitter"`
	Description Hash             `json:"description"`
	TotalAmount Amount           `json:"total_amount"`
	Terms       TermsOfAgreement `json:"terms"`
	State       StateRecord      `json:"state"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

func (a GrantApplication) MarshalJSON() ([]byte, error) {
	return json.Marshal(applicationJSON{
		ID:          a.ID,
		BountyID:    a.BountyID,
		Submitter:   a.Submitter,
		Description: a.Description,
		TotalAmount: a.TotalAmount,
		Terms:       a.Terms,
		State:       RecordOf(a.State),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	})
}

func (a *GrantApplication) UnmarshalJSON(data []byte) error {
	var raw applicationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := raw.State.State()
	if err != nil {
		return err
	}
	*a = GrantApplication{
		ID:          raw.ID,
		BountyID:    raw.BountyID,
		Submitter:   raw.Submitter,
		Description: raw.Description,
		TotalAmount: raw.TotalAmount,
		Terms:       raw.Terms,
		State:       st,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
	}
	return nil
}
