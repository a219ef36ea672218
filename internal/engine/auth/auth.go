package auth

import (
	"context"
	"fmt"

	"bountyline/internal/collab"
	"bountyline/internal/domain"
)

// Service answers who may act for a review board or a team. Membership comes
// from the Organization collaborator and decisions from vote outcomes.
type Service struct {
	Org    collab.Organization
	Voting collab.Voting
}

func unauthorized(actor domain.AccountID, action string) error {
	return domain.UnauthorizedError{Account: actor, Action: action}
}

// BoardMember passes for the board's sudo or any member of its share group.
func (s Service) BoardMember(ctx context.Context, board domain.ReviewBoard, actor domain.AccountID, action string) error {
	if actor == "" {
		return unauthorized(actor, action)
	}
	if board.IsSudo(actor) {
		return nil
	}
	ok, err := collab.IsMember(ctx, s.Org, board.Org(), board.Group(), actor)
	if err != nil {
		return fmt.Errorf("board membership: %w", err)
	}
	if !ok {
		return unauthorized(actor, action)
	}
	return nil
}

// Decision passes for the board's sudo, or when vote has concluded with want.
// A pending or contrary outcome leaves the decision to the sudo.
func (s Service) Decision(ctx context.Context, board domain.ReviewBoard, vote domain.VoteID, want collab.Outcome, actor domain.AccountID, action string) error {
	if board != nil && board.IsSudo(actor) {
		return nil
	}
	if vote.IsZero() {
		return unauthorized(actor, action)
	}
	got, err := s.Voting.Outcome(ctx, vote)
	if err != nil {
		return fmt.Errorf("vote %s outcome: %w", vote, err)
	}
	if got != want {
		return unauthorized(actor, fmt.Sprintf("%s while vote %s is %s", action, vote, got))
	}
	return nil
}

// TeamMember passes for the team's sudo or a member of either of its share
// groups.
func (s Service) TeamMember(ctx context.Context, team domain.TeamID, actor domain.AccountID, action string) error {
	if actor == "" {
		return unauthorized(actor, action)
	}
	if team.IsSudo(actor) {
		return nil
	}
	for _, share := range []domain.ShareID{team.FlatShareID, team.WeightedShareID} {
		ok, err := collab.IsMember(ctx, s.Org, team.Org, share, actor)
		if err != nil {
			return fmt.Errorf("team membership: %w", err)
		}
		if ok {
			return nil
		}
	}
	return unauthorized(actor, action)
}
