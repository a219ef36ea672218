package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bountyline/internal/collab"
	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/keylock"
	"bountyline/internal/repo"
)

// placeholderVote stands in for a vote id when checking a transition before
// the real vote is opened.
var placeholderVote = domain.Petition(1)

func appKey(b domain.BountyID, a domain.ApplicationID) string {
	return keylock.ApplicationKey(uint64(b), uint64(a))
}

func bountyKey(b domain.BountyID) string { return keylock.BountyKey(uint64(b)) }

// capacity is what the bounty can still promise to new grants: claimed
// funding less what approved grants have yet to draw.
func (e Engine) capacity(ctx context.Context, tx *sql.Tx, b domain.BountyInformation) (domain.Amount, error) {
	committed, err := e.Repo.CommittedAmount(ctx, tx, b.ID)
	if err != nil {
		return 0, err
	}
	tracker, err := e.Repo.GetPaymentTrackerTx(ctx, tx, b.ID)
	if err != nil {
		return 0, err
	}
	outstanding := committed - tracker.Received
	if committed < tracker.Received || outstanding > b.ClaimedFunding {
		return 0, nil
	}
	return b.ClaimedFunding - outstanding, nil
}

func (e Engine) checkCapacity(ctx context.Context, tx *sql.Tx, b domain.BountyInformation, amount domain.Amount) error {
	free, err := e.capacity(ctx, tx, b)
	if err != nil {
		return err
	}
	if amount > free {
		return domain.ConsistencyError{Reason: fmt.Sprintf("amount %d exceeds bounty %d remaining capacity %d", amount, b.ID, free)}
	}
	return nil
}

// transitioned persists an application transition with its event.
func (e Engine) transitioned(ctx context.Context, tx *sql.Tx, next domain.GrantApplication, from domain.ApplicationPhase, evtType string, actor domain.AccountID, payload events.EventPayload) error {
	next.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateApplicationState(ctx, tx, next); err != nil {
		return err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = string(from)
	payload["to"] = string(next.State.Phase())
	return e.Events.Append(ctx, tx, evtType, events.Ref{Bounty: next.BountyID, Application: next.ID}, actor, payload)
}

func (e Engine) committedApp(a domain.GrantApplication, from domain.ApplicationPhase) {
	to := a.State.Phase()
	e.Metrics.Transition("application", string(to))
	e.log().Info("application transition", "bounty_id", a.BountyID, "application_id", a.ID, "from", string(from), "to", string(to))
}

// SubmitApplicationOptions are parameters for applying to a bounty.
type SubmitApplicationOptions struct {
	Actor       domain.AccountID
	Bounty      domain.BountyID
	Description domain.Hash
	TotalAmount domain.Amount
	Terms       domain.TermsOfAgreement
}

func (e Engine) SubmitApplication(ctx context.Context, opts SubmitApplicationOptions) (domain.GrantApplication, error) {
	if opts.Actor == "" {
		return domain.GrantApplication{}, domain.UnauthorizedError{Action: "submit an application"}
	}
	app, err := domain.NewGrantApplication(opts.Bounty, opts.Actor, opts.Description, opts.TotalAmount, opts.Terms)
	if err != nil {
		return app, err
	}
	unlock := e.Locks.Lock(bountyKey(opts.Bounty))
	defer unlock()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		b, err := e.Repo.GetBountyTx(ctx, tx, opts.Bounty)
		if err != nil {
			return err
		}
		if err := e.checkCapacity(ctx, tx, b, app.TotalAmount); err != nil {
			return err
		}
		now := e.stamp()
		app.CreatedAt, app.UpdatedAt = now, now
		id, err := e.Repo.InsertApplication(ctx, tx, app)
		if err != nil {
			return fmt.Errorf("insert application: %w", err)
		}
		app.ID = id
		return e.Events.Append(ctx, tx, "application.submitted", events.Ref{Bounty: app.BountyID, Application: id}, opts.Actor, events.EventPayload{
			"total_amount": app.TotalAmount, "description": app.Description,
		})
	})
	if err != nil {
		return domain.GrantApplication{}, e.reject("application", "submit", err)
	}
	e.Metrics.Transition("application", string(domain.PhaseSubmitted))
	e.log().Info("application submitted", "bounty_id", app.BountyID, "application_id", app.ID, "amount", app.TotalAmount)
	return app, nil
}

// StartApplicationReview opens the acceptance committee's vote and moves the
// application under review. Only committee members may start a review.
func (e Engine) StartApplicationReview(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, id domain.ApplicationID) (domain.GrantApplication, error) {
	const op = "start_review"
	unlock := e.Locks.Lock(appKey(bounty, id))
	defer unlock()

	b, err := e.Repo.GetBounty(ctx, bounty)
	if err != nil {
		return domain.GrantApplication{}, err
	}
	app, err := e.Repo.GetApplication(ctx, bounty, id)
	if err != nil {
		return app, err
	}
	if _, err := app.StartReview(placeholderVote); err != nil {
		return app, e.reject("application", op, err)
	}
	board := b.AcceptanceCommittee()
	if err := e.Auth.BoardMember(ctx, board, actor, "start review of application "+fmt.Sprint(id)); err != nil {
		return app, e.reject("application", op, err)
	}
	vote, err := e.openVote(ctx, board, app.Description)
	if err != nil {
		return app, err
	}
	var next domain.GrantApplication
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetApplicationTx(ctx, tx, bounty, id)
		if err != nil {
			return err
		}
		if next, err = cur.StartReview(vote); err != nil {
			return err
		}
		return e.transitioned(ctx, tx, next, cur.State.Phase(), "application.review_started", actor, events.EventPayload{"vote": vote.String()})
	})
	if err != nil {
		return app, e.reject("application", op, err)
	}
	e.committedApp(next, app.State.Phase())
	return next, nil
}

func (e Engine) openVote(ctx context.Context, board domain.ReviewBoard, topic domain.Hash) (domain.VoteID, error) {
	return e.openVoteParams(ctx, board.VoteParams(topic))
}

func (e Engine) openVoteParams(ctx context.Context, params domain.VoteParams) (domain.VoteID, error) {
	vote, err := e.Voting.OpenVote(ctx, params)
	if err != nil {
		return domain.VoteID{}, fmt.Errorf("open vote: %w", err)
	}
	if vote.IsZero() {
		return domain.VoteID{}, domain.EventNotFoundError{Event: "vote opened"}
	}
	return vote, nil
}

// memberRegistrar is implemented by organizations that accept new share
// group members.
type memberRegistrar interface {
	AddMember(ctx context.Context, org domain.OrgID, share domain.ShareID, m collab.Member) error
}

// checkTeamGroup accepts share as a new team's group only when it is not a
// committee's group and holds nobody but the terms' share holders.
func (e Engine) checkTeamGroup(ctx context.Context, b domain.BountyInformation, share domain.ShareID, terms domain.TermsOfAgreement) error {
	for _, board := range []domain.ReviewBoard{b.AcceptanceCommittee(), b.SupervisionCommittee()} {
		if board != nil && board.Org() == b.Foundation() && board.Group() == share {
			return domain.ConsistencyError{Reason: fmt.Sprintf("share group %d belongs to a review committee", share)}
		}
	}
	members, err := e.Org.Members(ctx, b.Foundation(), share)
	if err != nil {
		return fmt.Errorf("share group %d members: %w", share, err)
	}
	want := make(map[domain.AccountID]uint64, len(terms.Shares))
	for _, s := range terms.Shares {
		want[s.Account] = s.Shares
	}
	for _, m := range members {
		if w, ok := want[m.Account]; !ok || w != m.Weight {
			return domain.ConsistencyError{Reason: fmt.Sprintf("share group %d already has members", share)}
		}
	}
	return nil
}

// ApproveApplication records the foundation's approval. The actor must sit on
// the acceptance committee and its vote must have passed (or the committee
// sudo acts), the bounty must still have capacity, and a team consent
// petition is opened over share, a fresh group holding the terms' share
// holders.
func (e Engine) ApproveApplication(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, id domain.ApplicationID, share domain.ShareID) (domain.GrantApplication, error) {
	const op = "approve_pending_team_consent"
	if share == 0 {
		return domain.GrantApplication{}, errors.New("team share group is required")
	}
	unlock := e.Locks.LockAll(appKey(bounty, id), bountyKey(bounty))
	defer unlock()

	b, err := e.Repo.GetBounty(ctx, bounty)
	if err != nil {
		return domain.GrantApplication{}, err
	}
	app, err := e.Repo.GetApplication(ctx, bounty, id)
	if err != nil {
		return app, err
	}
	if _, err := app.ApproveTeamConsent(share, placeholderVote); err != nil {
		return app, e.reject("application", op, err)
	}
	board := b.AcceptanceCommittee()
	action := "approve application " + fmt.Sprint(id)
	if err := e.Auth.BoardMember(ctx, board, actor, action); err != nil {
		return app, e.reject("application", op, err)
	}
	review, _ := app.PendingVote()
	if err := e.Auth.Decision(ctx, board, review, collab.OutcomeApproved, actor, action); err != nil {
		return app, e.reject("application", op, err)
	}
	if err := e.checkTeamGroup(ctx, b, share, app.Terms); err != nil {
		return app, e.reject("application", op, err)
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		return e.checkCapacity(ctx, tx, b, app.TotalAmount)
	})
	if err != nil {
		return app, e.reject("application", op, err)
	}
	if reg, ok := e.Org.(memberRegistrar); ok {
		for _, s := range app.Terms.Shares {
			if err := reg.AddMember(ctx, b.Foundation(), share, collab.Member{Account: s.Account, Weight: s.Shares}); err != nil {
				return app, fmt.Errorf("register team member %s: %w", s.Account, err)
			}
		}
	}
	vote, err := e.openVoteParams(ctx, domain.VoteParams{
		Kind:               domain.VoteKindPetition,
		Org:                b.Foundation(),
		Group:              share,
		Topic:              app.Description,
		ApprovalSignatures: uint32(len(app.Terms.Shares)),
	})
	if err != nil {
		return app, err
	}
	var next domain.GrantApplication
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetApplicationTx(ctx, tx, bounty, id)
		if err != nil {
			return err
		}
		fresh, err := e.Repo.GetBountyTx(ctx, tx, bounty)
		if err != nil {
			return err
		}
		if err := e.checkCapacity(ctx, tx, fresh, cur.TotalAmount); err != nil {
			return err
		}
		if next, err = cur.ApproveTeamConsent(share, vote); err != nil {
			return err
		}
		return e.transitioned(ctx, tx, next, cur.State.Phase(), "application.team_consent", actor, events.EventPayload{
			"share": share, "vote": vote.String(),
		})
	})
	if err != nil {
		return app, e.reject("application", op, err)
	}
	e.committedApp(next, app.State.Phase())
	return next, nil
}

// ApproveGrant forms the team once every member consented. team may be zero,
// in which case it is derived from the bounty foundation, the terms'
// supervisor and the consent share group.
func (e Engine) ApproveGrant(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, id domain.ApplicationID, team domain.TeamID) (domain.GrantApplication, error) {
	const op = "approve_grant"
	unlock := e.Locks.LockAll(appKey(bounty, id), bountyKey(bounty))
	defer unlock()

	b, err := e.Repo.GetBounty(ctx, bounty)
	if err != nil {
		return domain.GrantApplication{}, err
	}
	app, err := e.Repo.GetApplication(ctx, bounty, id)
	if err != nil {
		return app, err
	}
	consent, ok := app.State.(domain.ApplicationAwaitingTeamConsent)
	if !ok {
		_, err := app.ApproveGrant(b, team)
		return app, e.reject("application", op, err)
	}
	if team == (domain.TeamID{}) {
		team = domain.TeamID{Org: b.Foundation(), Sudo: app.Terms.Supervisor, FlatShareID: consent.Share, WeightedShareID: consent.Share}
	}
	if actor != app.Terms.Supervisor || actor == "" {
		if err := e.Auth.Decision(ctx, b.AcceptanceCommittee(), consent.Vote, collab.OutcomeApproved, actor, "form the team of application "+fmt.Sprint(id)); err != nil {
			return app, e.reject("application", op, err)
		}
	}
	var next domain.GrantApplication
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetApplicationTx(ctx, tx, bounty, id)
		if err != nil {
			return err
		}
		fresh, err := e.Repo.GetBountyTx(ctx, tx, bounty)
		if err != nil {
			return err
		}
		if next, err = cur.ApproveGrant(fresh, team); err != nil {
			return err
		}
		now := e.stamp()
		if err := e.Repo.InsertTeam(ctx, tx, bounty, id, team, now); err != nil {
			return fmt.Errorf("register team: %w", err)
		}
		tracker, err := e.Repo.GetPaymentTrackerTx(ctx, tx, bounty)
		if err != nil {
			return err
		}
		if tracker, err = tracker.AddDue(next.TotalAmount); err != nil {
			return err
		}
		if err := e.Repo.UpdatePaymentTracker(ctx, tx, tracker); err != nil {
			return err
		}
		return e.transitioned(ctx, tx, next, cur.State.Phase(), "application.live", actor, events.EventPayload{
			"team_org": team.Org, "flat_share_id": team.FlatShareID, "weighted_share_id": team.WeightedShareID, "due": tracker.Due,
		})
	})
	if err != nil {
		return app, e.reject("application", op, err)
	}
	e.committedApp(next, app.State.Phase())
	return next, nil
}

// CloseApplication closes a non-terminal application. Closing a closed
// application succeeds without writing. Allowed for the acceptance sudo, the
// submitter (withdrawal or declined consent), or anyone once the pending vote
// was rejected.
func (e Engine) CloseApplication(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, id domain.ApplicationID) (domain.GrantApplication, error) {
	return e.closeApplication(ctx, actor, bounty, id, nil, "")
}

func (e Engine) closeApplication(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, id domain.ApplicationID, swept *sweptVote, reason string) (domain.GrantApplication, error) {
	const op = "close"
	unlock := e.Locks.Lock(appKey(bounty, id))
	defer unlock()

	b, err := e.Repo.GetBounty(ctx, bounty)
	if err != nil {
		return domain.GrantApplication{}, err
	}
	app, err := e.Repo.GetApplication(ctx, bounty, id)
	if err != nil {
		return app, err
	}
	if _, closed := app.State.(domain.ApplicationClosed); closed {
		return app, nil
	}
	if _, err := app.Close(); err != nil {
		return app, e.reject("application", op, err)
	}
	vote, _ := app.PendingVote()
	if swept != nil {
		if err := e.recheck(ctx, *swept, vote); err != nil {
			return app, err
		}
	} else if actor == "" || actor != app.Submitter {
		if err := e.Auth.Decision(ctx, b.AcceptanceCommittee(), vote, collab.OutcomeRejected, actor, "close application "+fmt.Sprint(id)); err != nil {
			return app, e.reject("application", op, err)
		}
	}
	var next domain.GrantApplication
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetApplicationTx(ctx, tx, bounty, id)
		if err != nil {
			return err
		}
		if next, err = cur.Close(); err != nil {
			return err
		}
		if _, was := cur.State.(domain.ApplicationClosed); was {
			return nil
		}
		payload := events.EventPayload{}
		if reason != "" {
			payload["reason"] = reason
		}
		return e.transitioned(ctx, tx, next, cur.State.Phase(), "application.closed", actor, payload)
	})
	if err != nil {
		return app, e.reject("application", op, err)
	}
	e.committedApp(next, app.State.Phase())
	return next, nil
}

func (e Engine) GetApplication(ctx context.Context, bounty domain.BountyID, id domain.ApplicationID) (domain.GrantApplication, error) {
	return e.Repo.GetApplication(ctx, bounty, id)
}

func (e Engine) ListApplications(ctx context.Context, bounty domain.BountyID, phases ...domain.ApplicationPhase) ([]domain.GrantApplication, error) {
	return e.Repo.ListApplications(ctx, repo.ApplicationFilters{Bounty: bounty, Phases: phases})
}

func (e Engine) Team(ctx context.Context, id domain.ApplicationID) (domain.TeamID, error) {
	return e.Repo.GetTeam(ctx, id)
}
