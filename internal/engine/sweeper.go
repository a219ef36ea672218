package engine

import (
	"context"
	"errors"
	"time"

	"bountyline/internal/archive"
)

const defaultSweepInterval = time.Minute

// SweepResult collects one full pass of the background sweeper.
type SweepResult struct {
	Votes    SweepReport      `json:"votes"`
	Expired  SweepReport      `json:"expired"`
	Releases ReleaseReport    `json:"releases"`
	Archived []archive.Record `json:"archived,omitempty"`
}

// Sweep syncs concluded votes, expires stale reviews, retries pending
// releases and, when store is set, archives old closed applications.
func (e Engine) Sweep(ctx context.Context, store *archive.Store) (SweepResult, error) {
	var (
		res  SweepResult
		errs []error
		err  error
	)
	if res.Votes, err = e.SyncVotes(ctx); err != nil {
		errs = append(errs, err)
	}
	if res.Expired, err = e.ExpireStale(ctx); err != nil {
		errs = append(errs, err)
	}
	if res.Releases, err = e.ProcessReleases(ctx, 0); err != nil {
		errs = append(errs, err)
	}
	if store != nil && e.Config != nil && e.Config.Governance.Archive.ClosedAfter > 0 {
		if res.Archived, err = e.ArchiveClosed(ctx, store, e.Config.Governance.Archive.ClosedAfter.Std()); err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// Sweeper runs Sweep on a ticker until its context ends.
type Sweeper struct {
	Engine   Engine
	Archive  *archive.Store
	Interval time.Duration
}

func (s Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	if c := s.Engine.Config; c != nil && c.Governance.SweepInterval > 0 {
		return c.Governance.SweepInterval.Std()
	}
	return defaultSweepInterval
}

func (s Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		s.once(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s Sweeper) once(ctx context.Context) {
	res, err := s.Engine.Sweep(ctx, s.Archive)
	if err != nil && ctx.Err() == nil {
		s.Engine.log().Error("sweep failed", "error", err)
	}
	if n := len(res.Votes.Advanced) + len(res.Expired.Advanced) + len(res.Releases.Released) + len(res.Archived); n > 0 {
		s.Engine.log().Info("sweep", "votes", len(res.Votes.Advanced), "expired", len(res.Expired.Advanced),
			"released", len(res.Releases.Released), "archived", len(res.Archived))
	}
	for _, f := range res.Releases.Failed {
		s.Engine.log().Warn("release pending", "application_id", f.Release.ApplicationID, "milestone_id", f.Release.MilestoneID, "error", f.Error)
	}
}
