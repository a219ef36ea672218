package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bountyline/internal/archive"
	"bountyline/internal/collab"
	"bountyline/internal/domain"
	"bountyline/internal/repo"
)

// SweepItem is one entity touched (or skipped) by a sweep.
type SweepItem struct {
	Bounty      domain.BountyID      `json:"bounty_id"`
	Application domain.ApplicationID `json:"application_id"`
	Milestone   domain.MilestoneID   `json:"milestone_id,omitempty"`
	From        string               `json:"from"`
	To          string               `json:"to,omitempty"`
	Note        string               `json:"note,omitempty"`
}

// SweepReport lists what a sweep advanced, what waits on a human decision,
// and what failed.
type SweepReport struct {
	Advanced []SweepItem `json:"advanced"`
	Waiting  []SweepItem `json:"waiting,omitempty"`
	Failed   []SweepItem `json:"failed,omitempty"`
}

func (r *SweepReport) fail(item SweepItem, err error) {
	item.Note = err.Error()
	r.Failed = append(r.Failed, item)
}

func appItem(a domain.GrantApplication) SweepItem {
	return SweepItem{Bounty: a.BountyID, Application: a.ID, From: string(a.State.Phase())}
}

func milestoneItem(m domain.MilestoneSubmission) SweepItem {
	return SweepItem{Bounty: m.BountyID, Application: m.ApplicationID, Milestone: m.ID, From: string(m.Phase())}
}

// SyncVotes advances every application and milestone whose vote has
// concluded. An approved acceptance vote only waits, since picking the team
// share group is the committee's call.
func (e Engine) SyncVotes(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	apps, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{Phases: []domain.ApplicationPhase{domain.PhaseUnderReview, domain.PhaseAwaitingTeamConsent}})
	if err != nil {
		return report, err
	}
	for _, a := range apps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item := appItem(a)
		vote, _ := a.PendingVote()
		outcome, err := e.Voting.Outcome(ctx, vote)
		if err != nil {
			report.fail(item, err)
			continue
		}
		var next domain.GrantApplication
		switch {
		case outcome == collab.OutcomeRejected:
			next, err = e.closeApplication(ctx, SystemActor, a.BountyID, a.ID, &sweptVote{vote: vote, outcome: outcome}, "vote "+vote.String()+" rejected")
		case outcome == collab.OutcomeApproved && a.State.Phase() == domain.PhaseAwaitingTeamConsent:
			next, err = e.ApproveGrant(ctx, SystemActor, a.BountyID, a.ID, domain.TeamID{})
		case outcome == collab.OutcomeApproved:
			item.Note = "acceptance vote approved; awaiting team share group"
			report.Waiting = append(report.Waiting, item)
			continue
		default:
			continue
		}
		if errors.Is(err, errVoteMoved) {
			continue
		}
		if err != nil {
			report.fail(item, err)
			continue
		}
		item.To = string(next.State.Phase())
		report.Advanced = append(report.Advanced, item)
	}

	ms, err := e.Repo.ListMilestones(ctx, repo.MilestoneFilters{Phases: []domain.MilestonePhase{domain.PhaseReviewStarted}})
	if err != nil {
		return report, err
	}
	for _, m := range ms {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item := milestoneItem(m)
		vote, _ := m.ReviewVote()
		outcome, err := e.Voting.Outcome(ctx, vote)
		if err != nil {
			report.fail(item, err)
			continue
		}
		switch outcome {
		case collab.OutcomeApproved:
			var res MilestoneApproval
			res, err = e.ApproveMilestone(ctx, SystemActor, m.BountyID, m.ApplicationID, m.ID)
			item.To = string(res.Milestone.Phase())
		case collab.OutcomeRejected:
			var next domain.MilestoneSubmission
			next, err = e.requestChanges(ctx, SystemActor, m.BountyID, m.ApplicationID, m.ID, &sweptVote{vote: vote, outcome: outcome}, "vote "+vote.String()+" rejected")
			item.To = string(next.Phase())
		default:
			continue
		}
		if errors.Is(err, errVoteMoved) {
			continue
		}
		if err != nil {
			item.To = ""
			report.fail(item, err)
			continue
		}
		report.Advanced = append(report.Advanced, item)
	}
	return report, nil
}

func (e Engine) cutoff(window time.Duration) string {
	return e.now().Add(-window).UTC().Format(time.RFC3339)
}

// ExpireStale closes applications and rejects milestone reviews whose vote
// is still pending past the configured windows. A zero window disables that
// check.
func (e Engine) ExpireStale(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if e.Config == nil {
		return report, fmt.Errorf("config not loaded")
	}
	expiry := e.Config.Governance.Expiry
	windows := []struct {
		phase  domain.ApplicationPhase
		window time.Duration
	}{
		{domain.PhaseUnderReview, expiry.ApplicationReview.Std()},
		{domain.PhaseAwaitingTeamConsent, expiry.TeamConsent.Std()},
	}
	for _, w := range windows {
		if w.window <= 0 {
			continue
		}
		apps, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{Phases: []domain.ApplicationPhase{w.phase}, UpdatedBefore: e.cutoff(w.window)})
		if err != nil {
			return report, err
		}
		for _, a := range apps {
			item := appItem(a)
			swept, ok := e.stillPending(ctx, a.PendingVote, &report, item)
			if !ok {
				continue
			}
			next, err := e.closeApplication(ctx, SystemActor, a.BountyID, a.ID, &swept, "expired after "+w.window.String())
			if errors.Is(err, errVoteMoved) {
				continue
			}
			if err != nil {
				report.fail(item, err)
				continue
			}
			item.To = string(next.State.Phase())
			report.Advanced = append(report.Advanced, item)
		}
	}

	if window := expiry.MilestoneReview.Std(); window > 0 {
		ms, err := e.Repo.ListMilestones(ctx, repo.MilestoneFilters{Phases: []domain.MilestonePhase{domain.PhaseReviewStarted}, UpdatedBefore: e.cutoff(window)})
		if err != nil {
			return report, err
		}
		for _, m := range ms {
			item := milestoneItem(m)
			swept, ok := e.stillPending(ctx, m.ReviewVote, &report, item)
			if !ok {
				continue
			}
			next, err := e.requestChanges(ctx, SystemActor, m.BountyID, m.ApplicationID, m.ID, &swept, "expired after "+window.String())
			if errors.Is(err, errVoteMoved) {
				continue
			}
			if err != nil {
				report.fail(item, err)
				continue
			}
			item.To = string(next.Phase())
			report.Advanced = append(report.Advanced, item)
		}
	}
	return report, nil
}

// stillPending leaves concluded votes to SyncVotes.
func (e Engine) stillPending(ctx context.Context, vote func() (domain.VoteID, bool), report *SweepReport, item SweepItem) (sweptVote, bool) {
	id, ok := vote()
	if !ok {
		return sweptVote{}, false
	}
	outcome, err := e.Voting.Outcome(ctx, id)
	if err != nil {
		report.fail(item, err)
		return sweptVote{}, false
	}
	return sweptVote{vote: id, outcome: outcome}, outcome == collab.OutcomePending
}

// errVoteMoved means the vote a sweep acted on changed before the entity
// lock was taken. The entity is left for the next pass.
var errVoteMoved = errors.New("vote changed since the sweep read it")

// sweptVote is the vote and outcome a sweep observed before locking.
type sweptVote struct {
	vote    domain.VoteID
	outcome collab.Outcome
}

// recheck runs under the entity lock and confirms that current is still the
// vote the sweep read, with the same outcome.
func (e Engine) recheck(ctx context.Context, swept sweptVote, current domain.VoteID) error {
	if current != swept.vote {
		return fmt.Errorf("%w: %s is now %s", errVoteMoved, swept.vote, current)
	}
	outcome, err := e.Voting.Outcome(ctx, current)
	if err != nil {
		return fmt.Errorf("vote %s outcome: %w", current, err)
	}
	if outcome != swept.outcome {
		return fmt.Errorf("%w: %s is now %s", errVoteMoved, current, outcome)
	}
	return nil
}

// ArchiveClosed moves closed applications last updated before olderThan,
// with their milestones and events, into store. Each application is written
// to the archive before it is deleted from the database.
func (e Engine) ArchiveClosed(ctx context.Context, store *archive.Store, olderThan time.Duration) ([]archive.Record, error) {
	apps, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{Phases: []domain.ApplicationPhase{domain.PhaseClosed}, UpdatedBefore: e.cutoff(olderThan)})
	if err != nil {
		return nil, err
	}
	var res []archive.Record
	for _, a := range apps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := e.archiveOne(ctx, store, a)
		if err != nil {
			return res, fmt.Errorf("archive application %d/%d: %w", a.BountyID, a.ID, err)
		}
		res = append(res, rec)
	}
	if len(res) > 0 {
		e.log().Info("applications archived", "count", len(res))
	}
	return res, nil
}

func (e Engine) archiveOne(ctx context.Context, store *archive.Store, a domain.GrantApplication) (archive.Record, error) {
	unlock := e.Locks.Lock(appKey(a.BountyID, a.ID))
	defer unlock()

	rec := archive.Record{Application: a, ArchivedAt: e.stamp()}
	var err error
	if rec.Milestones, err = e.Repo.ListMilestones(ctx, repo.MilestoneFilters{Application: a.ID, IncludeSuperseded: true}); err != nil {
		return rec, err
	}
	if rec.Events, err = e.Repo.LatestEvents(ctx, repo.EventFilters{Bounty: a.BountyID, Application: a.ID}); err != nil {
		return rec, err
	}
	if err := store.Put(ctx, rec); err != nil {
		return rec, err
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetApplicationTx(ctx, tx, a.BountyID, a.ID)
		if err != nil {
			return err
		}
		if _, closed := cur.State.(domain.ApplicationClosed); !closed {
			return domain.ConsistencyError{Reason: fmt.Sprintf("application %d is %s, not closed", a.ID, cur.State.Phase())}
		}
		return e.Repo.DeleteApplication(ctx, tx, a.BountyID, a.ID)
	})
	return rec, err
}
