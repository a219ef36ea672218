package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bountyline/internal/domain"
	"bountyline/internal/events"
)

// release performs the treasury transfer for a pending outbox row and marks
// it released. A completed row is returned unchanged. If the process dies
// between the treasury call and the commit, the row stays pending and the
// next attempt transfers again; treasuries that key on the reservation and
// recipient can dedupe that.
func (e Engine) release(ctx context.Context, rel domain.Release) (domain.Release, error) {
	unlock := e.Locks.LockAll(milestoneKey(rel.ApplicationID, rel.MilestoneID), bountyKey(rel.BountyID))
	defer unlock()

	cur, err := e.Repo.GetRelease(ctx, rel.ApplicationID, rel.MilestoneID)
	if err != nil {
		return rel, err
	}
	if cur.Status == domain.ReleaseReleased {
		return cur, nil
	}
	receipt, err := e.Treasury.Release(ctx, cur.ReservationID, cur.Amount, cur.Recipient)
	if err == nil && receipt.ID == "" {
		err = domain.EventNotFoundError{Event: "treasury release receipt"}
	}
	if err != nil {
		e.Metrics.ReleaseFailed()
		if ferr := e.Repo.RecordReleaseFailure(ctx, cur.ApplicationID, cur.MilestoneID, err.Error(), e.stamp()); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return cur, fmt.Errorf("release milestone %d/%d: %w", cur.ApplicationID, cur.MilestoneID, err)
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.MarkReleased(ctx, tx, cur.ApplicationID, cur.MilestoneID, receipt.ID, e.stamp())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ConsistencyError{Reason: fmt.Sprintf("release %d/%d completed twice", cur.ApplicationID, cur.MilestoneID)}
		}
		return e.Events.Append(ctx, tx, "release.completed", events.Ref{Bounty: cur.BountyID, Application: cur.ApplicationID, Milestone: cur.MilestoneID}, SystemActor, events.EventPayload{
			"amount": cur.Amount, "recipient": cur.Recipient, "receipt": receipt.ID,
		})
	})
	if err != nil {
		e.log().Error("release transferred but not recorded", "application_id", cur.ApplicationID,
			"milestone_id", cur.MilestoneID, "receipt", receipt.ID, "error", err)
		return cur, err
	}
	e.Metrics.Released(uint64(cur.Amount))
	e.log().Info("release completed", "bounty_id", cur.BountyID, "application_id", cur.ApplicationID,
		"milestone_id", cur.MilestoneID, "amount", cur.Amount, "recipient", cur.Recipient)
	return e.Repo.GetRelease(ctx, cur.ApplicationID, cur.MilestoneID)
}

// ReleaseReport summarizes one pass over the release outbox.
type ReleaseReport struct {
	Released []domain.Release `json:"released"`
	Failed   []ReleaseFailure `json:"failed,omitempty"`
}

type ReleaseFailure struct {
	Release domain.Release `json:"release"`
	Error   string         `json:"error"`
}

// ProcessReleases retries every pending release, optionally for one bounty.
// A failing release does not stop the others.
func (e Engine) ProcessReleases(ctx context.Context, bounty domain.BountyID) (ReleaseReport, error) {
	var report ReleaseReport
	pending, err := e.Repo.ListReleases(ctx, domain.ReleasePending, bounty)
	if err != nil {
		return report, err
	}
	for _, rel := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		done, err := e.release(ctx, rel)
		if err != nil {
			report.Failed = append(report.Failed, ReleaseFailure{Release: done, Error: err.Error()})
			continue
		}
		report.Released = append(report.Released, done)
	}
	return report, nil
}

func (e Engine) GetRelease(ctx context.Context, app domain.ApplicationID, milestone domain.MilestoneID) (domain.Release, error) {
	return e.Repo.GetRelease(ctx, app, milestone)
}

func (e Engine) ListReleases(ctx context.Context, status domain.ReleaseStatus, bounty domain.BountyID) ([]domain.Release, error) {
	return e.Repo.ListReleases(ctx, status, bounty)
}
