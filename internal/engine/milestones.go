package engine

import (
	"context"
	"database/sql"
	"fmt"

	"bountyline/internal/collab"
	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/keylock"
	"bountyline/internal/repo"
)

func milestoneKey(a domain.ApplicationID, m domain.MilestoneID) string {
	return keylock.MilestoneKey(uint64(a), uint64(m))
}

// liveTeamApp loads a live application and checks that actor works for team.
func (e Engine) liveTeamApp(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, id domain.ApplicationID, team domain.TeamID, action string) (domain.GrantApplication, error) {
	app, err := e.Repo.GetApplication(ctx, bounty, id)
	if err != nil {
		return app, err
	}
	if team == (domain.TeamID{}) {
		team, _ = app.Team()
	}
	if !app.MatchesRegisteredTeam(team) {
		return app, domain.UnauthorizedError{Account: actor, Action: fmt.Sprintf("%s for application %d as team %s", action, id, team)}
	}
	if err := e.Auth.TeamMember(ctx, team, actor, action); err != nil {
		return app, err
	}
	return app, nil
}

// remaining is what an application can still claim through milestones.
func (e Engine) remaining(ctx context.Context, tx *sql.Tx, app domain.GrantApplication) (domain.Amount, error) {
	released, err := e.Repo.ReleasedTotal(ctx, tx, app.ID)
	if err != nil {
		return 0, err
	}
	if released > app.TotalAmount {
		return 0, domain.ConsistencyError{Reason: fmt.Sprintf("application %d released %d above its total %d", app.ID, released, app.TotalAmount)}
	}
	return app.TotalAmount - released, nil
}

func (e Engine) milestoneTransitioned(ctx context.Context, tx *sql.Tx, next domain.MilestoneSubmission, from domain.MilestonePhase, evtType string, actor domain.AccountID, payload events.EventPayload) error {
	next.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateMilestone(ctx, tx, next); err != nil {
		return err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = string(from)
	payload["to"] = string(next.Phase())
	return e.Events.Append(ctx, tx, evtType, events.Ref{Bounty: next.BountyID, Application: next.ApplicationID, Milestone: next.ID}, actor, payload)
}

func (e Engine) committedMilestone(m domain.MilestoneSubmission, from domain.MilestonePhase) {
	e.Metrics.Transition("milestone", string(m.Phase()))
	e.log().Info("milestone transition", "bounty_id", m.BountyID, "application_id", m.ApplicationID,
		"milestone_id", m.ID, "from", string(from), "to", string(m.Phase()))
}

// SubmitMilestoneOptions are parameters for filing milestone work. Team may
// be zero to use the application's registered team.
type SubmitMilestoneOptions struct {
	Actor       domain.AccountID
	Bounty      domain.BountyID
	Application domain.ApplicationID
	Team        domain.TeamID
	Submission  domain.Hash
	Amount      domain.Amount
}

func (e Engine) SubmitMilestone(ctx context.Context, opts SubmitMilestoneOptions) (domain.MilestoneSubmission, error) {
	const op = "submit"
	m, err := domain.NewMilestoneSubmission(opts.Bounty, opts.Application, opts.Submission, opts.Amount)
	if err != nil {
		return m, err
	}
	unlock := e.Locks.Lock(appKey(opts.Bounty, opts.Application))
	defer unlock()
	if _, err := e.liveTeamApp(ctx, opts.Actor, opts.Bounty, opts.Application, opts.Team, "submit a milestone"); err != nil {
		return m, e.reject("milestone", op, err)
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		app, err := e.Repo.GetApplicationTx(ctx, tx, opts.Bounty, opts.Application)
		if err != nil {
			return err
		}
		left, err := e.remaining(ctx, tx, app)
		if err != nil {
			return err
		}
		if m.Amount > left {
			return domain.ConsistencyError{Reason: fmt.Sprintf("milestone amount %d exceeds application %d remaining %d", m.Amount, app.ID, left)}
		}
		if m.ID, err = e.Repo.NextMilestoneID(ctx, tx, app.ID); err != nil {
			return err
		}
		now := e.stamp()
		m.CreatedAt, m.UpdatedAt = now, now
		if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
		return e.Events.Append(ctx, tx, "milestone.submitted", events.Ref{Bounty: m.BountyID, Application: m.ApplicationID, Milestone: m.ID}, opts.Actor, events.EventPayload{
			"amount": m.Amount, "submission": m.Submission,
		})
	})
	if err != nil {
		return m, e.reject("milestone", op, err)
	}
	e.committedMilestone(m, domain.PhaseFiled)
	return m, nil
}

// ResubmitMilestoneOptions replace a milestone whose changes were requested.
type ResubmitMilestoneOptions struct {
	Actor       domain.AccountID
	Bounty      domain.BountyID
	Application domain.ApplicationID
	Milestone   domain.MilestoneID
	Team        domain.TeamID
	Submission  domain.Hash
	Amount      domain.Amount
}

func (e Engine) ResubmitMilestone(ctx context.Context, opts ResubmitMilestoneOptions) (domain.MilestoneSubmission, error) {
	const op = "resubmit"
	unlock := e.Locks.LockAll(appKey(opts.Bounty, opts.Application), milestoneKey(opts.Application, opts.Milestone))
	defer unlock()
	if _, err := e.liveTeamApp(ctx, opts.Actor, opts.Bounty, opts.Application, opts.Team, "resubmit a milestone"); err != nil {
		return domain.MilestoneSubmission{}, e.reject("milestone", op, err)
	}
	var next domain.MilestoneSubmission
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		old, err := e.Repo.GetMilestoneTx(ctx, tx, opts.Application, opts.Milestone)
		if err != nil {
			return err
		}
		if old.BountyID != opts.Bounty {
			return fmt.Errorf("milestone %d/%d in bounty %d: %w", opts.Application, opts.Milestone, opts.Bounty, domain.ErrNotFound)
		}
		if next, err = old.Resubmit(opts.Submission, opts.Amount); err != nil {
			return err
		}
		app, err := e.Repo.GetApplicationTx(ctx, tx, opts.Bounty, opts.Application)
		if err != nil {
			return err
		}
		left, err := e.remaining(ctx, tx, app)
		if err != nil {
			return err
		}
		if next.Amount > left {
			return domain.ConsistencyError{Reason: fmt.Sprintf("milestone amount %d exceeds application %d remaining %d", next.Amount, app.ID, left)}
		}
		if next.ID, err = e.Repo.NextMilestoneID(ctx, tx, opts.Application); err != nil {
			return err
		}
		now := e.stamp()
		next.CreatedAt, next.UpdatedAt = now, now
		old.Superseded = true
		old.UpdatedAt = now
		if err := e.Repo.UpdateMilestone(ctx, tx, old); err != nil {
			return err
		}
		if err := e.Repo.InsertMilestone(ctx, tx, next); err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
		return e.Events.Append(ctx, tx, "milestone.resubmitted", events.Ref{Bounty: next.BountyID, Application: next.ApplicationID, Milestone: next.ID}, opts.Actor, events.EventPayload{
			"supersedes": old.ID, "amount": next.Amount, "submission": next.Submission,
		})
	})
	if err != nil {
		return next, e.reject("milestone", op, err)
	}
	e.committedMilestone(next, domain.PhaseChangesRequested)
	return next, nil
}

// milestoneContext loads the pieces every milestone review step needs.
func (e Engine) milestoneContext(ctx context.Context, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID) (domain.BountyInformation, domain.MilestoneSubmission, error) {
	b, err := e.Repo.GetBounty(ctx, bounty)
	if err != nil {
		return b, domain.MilestoneSubmission{}, err
	}
	m, err := e.Repo.GetMilestone(ctx, app, id)
	if err != nil {
		return b, m, err
	}
	if m.BountyID != bounty {
		return b, m, fmt.Errorf("milestone %d/%d in bounty %d: %w", app, id, bounty, domain.ErrNotFound)
	}
	return b, m, nil
}

// StartMilestoneReview opens the supervision committee's vote on a milestone.
func (e Engine) StartMilestoneReview(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID) (domain.MilestoneSubmission, error) {
	const op = "start_milestone_review"
	unlock := e.Locks.Lock(milestoneKey(app, id))
	defer unlock()

	b, m, err := e.milestoneContext(ctx, bounty, app, id)
	if err != nil {
		return m, err
	}
	if _, err := m.StartReview(placeholderVote); err != nil {
		return m, e.reject("milestone", op, err)
	}
	board := b.SupervisionCommittee()
	if err := e.Auth.BoardMember(ctx, board, actor, fmt.Sprintf("start review of milestone %d/%d", app, id)); err != nil {
		return m, e.reject("milestone", op, err)
	}
	vote, err := e.openVote(ctx, board, m.Submission)
	if err != nil {
		return m, err
	}
	var next domain.MilestoneSubmission
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetMilestoneTx(ctx, tx, app, id)
		if err != nil {
			return err
		}
		if next, err = cur.StartReview(vote); err != nil {
			return err
		}
		return e.milestoneTransitioned(ctx, tx, next, cur.Phase(), "milestone.review_started", actor, events.EventPayload{"vote": vote.String()})
	})
	if err != nil {
		return m, e.reject("milestone", op, err)
	}
	e.committedMilestone(next, m.Phase())
	return next, nil
}

// RequestMilestoneChanges records a rejected review. The review vote must
// have been rejected unless the supervision sudo acts.
func (e Engine) RequestMilestoneChanges(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID) (domain.MilestoneSubmission, error) {
	return e.requestChanges(ctx, actor, bounty, app, id, nil, "")
}

func (e Engine) requestChanges(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID, swept *sweptVote, reason string) (domain.MilestoneSubmission, error) {
	const op = "request_changes"
	unlock := e.Locks.Lock(milestoneKey(app, id))
	defer unlock()

	b, m, err := e.milestoneContext(ctx, bounty, app, id)
	if err != nil {
		return m, err
	}
	if _, err := m.RequestChanges(placeholderVote); err != nil {
		return m, e.reject("milestone", op, err)
	}
	vote, _ := m.ReviewVote()
	if swept != nil {
		if err := e.recheck(ctx, *swept, vote); err != nil {
			return m, err
		}
	} else if err := e.Auth.Decision(ctx, b.SupervisionCommittee(), vote, collab.OutcomeRejected, actor, fmt.Sprintf("request changes on milestone %d/%d", app, id)); err != nil {
		return m, e.reject("milestone", op, err)
	}
	var next domain.MilestoneSubmission
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetMilestoneTx(ctx, tx, app, id)
		if err != nil {
			return err
		}
		if next, err = cur.RequestChanges(vote); err != nil {
			return err
		}
		payload := events.EventPayload{"vote": vote.String()}
		if reason != "" {
			payload["reason"] = reason
		}
		return e.milestoneTransitioned(ctx, tx, next, cur.Phase(), "milestone.changes_requested", actor, payload)
	})
	if err != nil {
		return m, e.reject("milestone", op, err)
	}
	e.committedMilestone(next, m.Phase())
	return next, nil
}

// MilestoneApproval is the result of ApproveMilestone. Release reflects the
// treasury call made right after commit; a pending release is retried by
// ProcessReleases.
type MilestoneApproval struct {
	Milestone domain.MilestoneSubmission `json:"milestone"`
	Release   domain.Release             `json:"release"`
}

// ApproveMilestone enables the transfer of a milestone's amount. In one
// transaction it moves the milestone to its terminal status, updates the
// payment tracker and bounty funds, and enqueues the release.
func (e Engine) ApproveMilestone(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID) (MilestoneApproval, error) {
	res, err := e.enableTransfer(ctx, actor, bounty, app, id)
	if err != nil {
		return res, err
	}
	if res.Release, err = e.release(ctx, res.Release); err != nil {
		e.log().Warn("release deferred", "bounty_id", bounty, "application_id", app, "milestone_id", id, "error", err)
	}
	return res, nil
}

func (e Engine) enableTransfer(ctx context.Context, actor domain.AccountID, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID) (MilestoneApproval, error) {
	const op = "approve_transfer"
	unlock := e.Locks.LockAll(appKey(bounty, app), milestoneKey(app, id), bountyKey(bounty))
	defer unlock()

	b, m, err := e.milestoneContext(ctx, bounty, app, id)
	if err != nil {
		return MilestoneApproval{Milestone: m}, err
	}
	if _, err := m.ApproveTransfer(); err != nil {
		return MilestoneApproval{Milestone: m}, e.reject("milestone", op, err)
	}
	vote, _ := m.ReviewVote()
	if err := e.Auth.Decision(ctx, b.SupervisionCommittee(), vote, collab.OutcomeApproved, actor, fmt.Sprintf("approve milestone %d/%d", app, id)); err != nil {
		return MilestoneApproval{Milestone: m}, e.reject("milestone", op, err)
	}
	var (
		next domain.MilestoneSubmission
		rel  domain.Release
	)
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetMilestoneTx(ctx, tx, app, id)
		if err != nil {
			return err
		}
		grant, err := e.Repo.GetApplicationTx(ctx, tx, bounty, app)
		if err != nil {
			return err
		}
		team, live := grant.Team()
		if !live {
			return domain.ConsistencyError{Reason: fmt.Sprintf("application %d is %s, not live", app, grant.State.Phase())}
		}
		left, err := e.remaining(ctx, tx, grant)
		if err != nil {
			return err
		}
		if cur.Amount > left {
			return domain.ConsistencyError{Reason: fmt.Sprintf("milestone amount %d exceeds application %d remaining %d", cur.Amount, app, left)}
		}
		if next, err = cur.ApproveTransfer(); err != nil {
			return err
		}
		tracker, err := e.Repo.GetPaymentTrackerTx(ctx, tx, bounty)
		if err != nil {
			return err
		}
		if tracker, err = tracker.Update(next.Amount); err != nil {
			return err
		}
		fresh, err := e.Repo.GetBountyTx(ctx, tx, bounty)
		if err != nil {
			return err
		}
		if fresh, err = fresh.Spend(next.Amount); err != nil {
			return err
		}
		now := e.stamp()
		if err := e.Repo.UpdatePaymentTracker(ctx, tx, tracker); err != nil {
			return err
		}
		if err := e.Repo.UpdateBountyFunds(ctx, tx, fresh, now); err != nil {
			return err
		}
		rel = domain.Release{
			BountyID:      bounty,
			ApplicationID: app,
			MilestoneID:   id,
			Amount:        next.Amount,
			Recipient:     recipient(grant, team),
			ReservationID: fresh.ReservationID,
			Status:        domain.ReleasePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertRelease(ctx, tx, rel); err != nil {
			return fmt.Errorf("enqueue release: %w", err)
		}
		return e.milestoneTransitioned(ctx, tx, next, cur.Phase(), "milestone.transfer_enabled", actor, events.EventPayload{
			"amount": next.Amount, "recipient": rel.Recipient, "received": tracker.Received, "due": tracker.Due,
		})
	})
	if err != nil {
		return MilestoneApproval{Milestone: m}, e.reject("milestone", op, err)
	}
	e.committedMilestone(next, m.Phase())
	return MilestoneApproval{Milestone: next, Release: rel}, nil
}

// recipient is the team's administrator when set, else the submitter.
func recipient(app domain.GrantApplication, team domain.TeamID) domain.AccountID {
	if team.Sudo != "" {
		return team.Sudo
	}
	return app.Submitter
}

func (e Engine) GetMilestone(ctx context.Context, bounty domain.BountyID, app domain.ApplicationID, id domain.MilestoneID) (domain.MilestoneSubmission, error) {
	_, m, err := e.milestoneContext(ctx, bounty, app, id)
	return m, err
}

// ListMilestones returns the milestones of an application in sequence order,
// superseded records included.
func (e Engine) ListMilestones(ctx context.Context, bounty domain.BountyID, app domain.ApplicationID) ([]domain.MilestoneSubmission, error) {
	if _, err := e.Repo.GetApplication(ctx, bounty, app); err != nil {
		return nil, err
	}
	return e.Repo.ListMilestones(ctx, repo.MilestoneFilters{Application: app, IncludeSuperseded: true})
}
