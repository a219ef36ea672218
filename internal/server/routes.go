package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"bountyline/internal/archive"
	"bountyline/internal/collab"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
)

type BountyPath struct {
	BountyID uint64 `path:"bounty_id"`
}

type ApplicationPath struct {
	BountyID      uint64 `path:"bounty_id"`
	ApplicationID uint64 `path:"application_id"`
}

type MilestonePath struct {
	BountyID      uint64 `path:"bounty_id"`
	ApplicationID uint64 `path:"application_id"`
	MilestoneID   uint64 `path:"milestone_id"`
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func resolveBoard(e engine.Engine, spec *domain.BoardSpec, preset string) (domain.ReviewBoard, error) {
	if preset != "" {
		if e.Config == nil {
			return nil, fmt.Errorf("board preset %s: config not loaded", preset)
		}
		return e.Config.Preset(preset)
	}
	if spec == nil {
		return nil, nil
	}
	return spec.Board()
}

func registerBounties(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "post-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties",
		Summary:     "Post a bounty",
		Errors:      append(transitionErrors, http.StatusBadGateway),
	}, func(ctx context.Context, input *struct {
		Body PostBountyRequest `json:"body"`
	}) (*body[BountyResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		acceptance, err := resolveBoard(e, input.Body.Acceptance, input.Body.AcceptancePreset)
		if err != nil {
			return nil, handleError(err)
		}
		if acceptance == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "acceptance or acceptance_preset is required", nil)
		}
		supervision, err := resolveBoard(e, input.Body.Supervision, input.Body.SupervisionPreset)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.PostBounty(ctx, engine.PostBountyOptions{
			Actor:                   actor,
			Description:             domain.Hash(input.Body.Description),
			FoundationID:            domain.OrgID(input.Body.FoundationID),
			TreasuryAccount:         domain.AccountID(input.Body.TreasuryAccount),
			Reserve:                 domain.Amount(input.Body.Reserve),
			ClaimedFundingAvailable: domain.Amount(input.Body.ClaimedFundingAvailable),
			Acceptance:              acceptance,
			Supervision:             supervision,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(bountyResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bounties",
		Method:      http.MethodGet,
		Path:        "/bounties",
		Summary:     "List bounties",
	}, func(ctx context.Context, input *struct {
		FoundationID uint32 `query:"foundation_id"`
	}) (*body[[]BountyResponse], error) {
		items, err := e.ListBounties(ctx, domain.OrgID(input.FoundationID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapBounties(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bounty",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}",
		Summary:     "Get a bounty",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *BountyPath) (*body[BountyResponse], error) {
		b, err := e.GetBounty(ctx, domain.BountyID(input.BountyID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(bountyResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-bounty-funds",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/sync-funds",
		Summary:     "Refresh reserved funds from the treasury",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *BountyPath) (*body[BountyResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.SyncBountyFunds(ctx, actor, domain.BountyID(input.BountyID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(bountyResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment-tracker",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/payments",
		Summary:     "Get a bounty's payment tracker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *BountyPath) (*body[TrackerResponse], error) {
		t, err := e.PaymentTracker(ctx, domain.BountyID(input.BountyID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(trackerResponse(t)), nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-application",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications",
		Summary:     "Apply for a bounty",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		BountyPath
		Body SubmitApplicationRequest `json:"body"`
	}) (*body[ApplicationResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := e.SubmitApplication(ctx, engine.SubmitApplicationOptions{
			Actor:       actor,
			Bounty:      domain.BountyID(input.BountyID),
			Description: domain.Hash(input.Body.Description),
			TotalAmount: domain.Amount(input.Body.TotalAmount),
			Terms:       input.Body.Terms,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(applicationResponse(app)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/applications",
		Summary:     "List applications of a bounty",
	}, func(ctx context.Context, input *struct {
		BountyPath
		Phase string `query:"phase" doc:"comma-separated application phases"`
	}) (*body[[]ApplicationResponse], error) {
		var phases []domain.ApplicationPhase
		for _, p := range strings.Split(input.Phase, ",") {
			if p = strings.TrimSpace(p); p != "" {
				phases = append(phases, domain.ApplicationPhase(p))
			}
		}
		items, err := e.ListApplications(ctx, domain.BountyID(input.BountyID), phases...)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapApplications(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/applications/{application_id}",
		Summary:     "Get an application",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ApplicationPath) (*body[ApplicationResponse], error) {
		app, err := e.GetApplication(ctx, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(applicationResponse(app)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application-team",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/team",
		Summary:     "Get the team formed for a live application",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ApplicationPath) (*body[domain.TeamID], error) {
		if _, err := e.GetApplication(ctx, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID)); err != nil {
			return nil, handleError(err)
		}
		team, err := e.Team(ctx, domain.ApplicationID(input.ApplicationID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(team), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-application-review",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/review",
		Summary:     "Open the acceptance committee vote",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *ApplicationPath) (*body[ApplicationResponse], error) {
		return applicationAction(ctx, func(actor domain.AccountID) (domain.GrantApplication, error) {
			return e.StartApplicationReview(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID))
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-application",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/approve",
		Summary:     "Approve an application and request team consent",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ApplicationPath
		Body ApproveApplicationRequest `json:"body"`
	}) (*body[ApplicationResponse], error) {
		return applicationAction(ctx, func(actor domain.AccountID) (domain.GrantApplication, error) {
			return e.ApproveApplication(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID), domain.ShareID(input.Body.Share))
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-grant",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/grant",
		Summary:     "Form the team and make the grant live",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ApplicationPath
		Body ApproveGrantRequest `json:"body,omitempty" required:"false"`
	}) (*body[ApplicationResponse], error) {
		var team domain.TeamID
		if input.Body.Team != nil {
			team = *input.Body.Team
		}
		return applicationAction(ctx, func(actor domain.AccountID) (domain.GrantApplication, error) {
			return e.ApproveGrant(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID), team)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-application",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/close",
		Summary:     "Close an application",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *ApplicationPath) (*body[ApplicationResponse], error) {
		return applicationAction(ctx, func(actor domain.AccountID) (domain.GrantApplication, error) {
			return e.CloseApplication(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID))
		})
	})
}

func applicationAction(ctx context.Context, fn func(actor domain.AccountID) (domain.GrantApplication, error)) (*body[ApplicationResponse], error) {
	actor, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	app, err := fn(actor)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(applicationResponse(app)), nil
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-milestone",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones",
		Summary:     "Submit milestone work",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ApplicationPath
		Body SubmitMilestoneRequest `json:"body"`
	}) (*body[MilestoneResponse], error) {
		return milestoneAction(ctx, func(actor domain.AccountID) (domain.MilestoneSubmission, error) {
			return e.SubmitMilestone(ctx, engine.SubmitMilestoneOptions{
				Actor:       actor,
				Bounty:      domain.BountyID(input.BountyID),
				Application: domain.ApplicationID(input.ApplicationID),
				Team:        teamOrZero(input.Body.Team),
				Submission:  domain.Hash(input.Body.Submission),
				Amount:      domain.Amount(input.Body.Amount),
			})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones",
		Summary:     "List milestones of an application, superseded ones included",
	}, func(ctx context.Context, input *ApplicationPath) (*body[[]MilestoneResponse], error) {
		items, err := e.ListMilestones(ctx, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapMilestones(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-milestone",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones/{milestone_id}",
		Summary:     "Get a milestone",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*body[MilestoneResponse], error) {
		m, err := e.GetMilestone(ctx, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID), domain.MilestoneID(input.MilestoneID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(milestoneResponse(m)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-milestone-review",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones/{milestone_id}/review",
		Summary:     "Open the supervision committee vote",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *MilestonePath) (*body[MilestoneResponse], error) {
		return milestoneAction(ctx, func(actor domain.AccountID) (domain.MilestoneSubmission, error) {
			return e.StartMilestoneReview(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID), domain.MilestoneID(input.MilestoneID))
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-milestone-changes",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones/{milestone_id}/changes",
		Summary:     "Request changes to a milestone",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *MilestonePath) (*body[MilestoneResponse], error) {
		return milestoneAction(ctx, func(actor domain.AccountID) (domain.MilestoneSubmission, error) {
			return e.RequestMilestoneChanges(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID), domain.MilestoneID(input.MilestoneID))
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-milestone",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones/{milestone_id}/resubmit",
		Summary:     "Replace a milestone whose changes were requested",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		MilestonePath
		Body SubmitMilestoneRequest `json:"body"`
	}) (*body[MilestoneResponse], error) {
		return milestoneAction(ctx, func(actor domain.AccountID) (domain.MilestoneSubmission, error) {
			return e.ResubmitMilestone(ctx, engine.ResubmitMilestoneOptions{
				Actor:       actor,
				Bounty:      domain.BountyID(input.BountyID),
				Application: domain.ApplicationID(input.ApplicationID),
				Milestone:   domain.MilestoneID(input.MilestoneID),
				Team:        teamOrZero(input.Body.Team),
				Submission:  domain.Hash(input.Body.Submission),
				Amount:      domain.Amount(input.Body.Amount),
			})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-milestone",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/applications/{application_id}/milestones/{milestone_id}/approve",
		Summary:     "Enable the transfer of a milestone's amount",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *MilestonePath) (*body[MilestoneApprovalResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApproveMilestone(ctx, actor, domain.BountyID(input.BountyID), domain.ApplicationID(input.ApplicationID), domain.MilestoneID(input.MilestoneID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MilestoneApprovalResponse{Milestone: milestoneResponse(res.Milestone), Release: res.Release}), nil
	})
}

func milestoneAction(ctx context.Context, fn func(actor domain.AccountID) (domain.MilestoneSubmission, error)) (*body[MilestoneResponse], error) {
	actor, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	m, err := fn(actor)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(milestoneResponse(m)), nil
}

func teamOrZero(t *domain.TeamID) domain.TeamID {
	if t == nil {
		return domain.TeamID{}
	}
	return *t
}

func registerReleases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-releases",
		Method:      http.MethodGet,
		Path:        "/releases",
		Summary:     "List outbox releases",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" doc:"pending or released; empty lists both"`
		BountyID uint64 `query:"bounty_id"`
	}) (*body[[]domain.Release], error) {
		items, err := e.ListReleases(ctx, domain.ReleaseStatus(input.Status), domain.BountyID(input.BountyID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-releases",
		Method:      http.MethodPost,
		Path:        "/releases/process",
		Summary:     "Retry pending releases",
	}, func(ctx context.Context, input *struct {
		BountyID uint64 `query:"bounty_id"`
	}) (*body[engine.ReleaseReport], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		report, err := e.ProcessReleases(ctx, domain.BountyID(input.BountyID))
		if err != nil {
			return nil, handleError(err)
		}
		report.Released = nonNilSlice(report.Released)
		return reply(report), nil
	})
}

func registerSweep(api huma.API, e engine.Engine, store *archive.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Sync votes, expire stale reviews, retry releases and archive",
	}, func(ctx context.Context, _ *struct{}) (*body[SweepResponse], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.Sweep(ctx, store)
		if err != nil {
			e.Log.Warn("sweep incomplete", "error", err)
		}
		return reply(res), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type          string `query:"type"`
		BountyID      uint64 `query:"bounty_id"`
		ApplicationID uint64 `query:"application_id"`
		MilestoneID   uint64 `query:"milestone_id"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*body[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			Type:        input.Type,
			Bounty:      domain.BountyID(input.BountyID),
			Application: domain.ApplicationID(input.ApplicationID),
			Milestone:   domain.MilestoneID(input.MilestoneID),
			Cursor:      cursorID,
			Limit:       limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

// Local collaborator surfaces. Each route answers 501 when the engine runs
// against a collaborator that does not support it.

type voteStore interface {
	Get(ctx context.Context, vote domain.VoteID) (collab.VoteRecord, error)
	Resolve(ctx context.Context, vote domain.VoteID, outcome collab.Outcome) error
}

type memberStore interface {
	AddMember(ctx context.Context, org domain.OrgID, share domain.ShareID, m collab.Member) error
}

type accountStore interface {
	Deposit(ctx context.Context, account domain.AccountID, amount domain.Amount) error
	AccountBalance(ctx context.Context, account domain.AccountID) (domain.Amount, error)
}

func unsupported(what string) huma.StatusError {
	return newAPIError(http.StatusNotImplemented, "not_implemented", what+" is not supported by the configured collaborator", nil)
}

func parseVote(raw string) (domain.VoteID, huma.StatusError) {
	id, err := domain.ParseVoteID(raw)
	if err != nil {
		return id, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return id, nil
}

func voteResponse(rec collab.VoteRecord) VoteResponse {
	return VoteResponse{ID: rec.ID, Params: rec.Params, Outcome: rec.Outcome, CreatedAt: rec.CreatedAt, ResolvedAt: rec.ResolvedAt}
}

func registerCollaborators(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-vote",
		Method:      http.MethodGet,
		Path:        "/votes/{vote_id}",
		Summary:     "Get a vote and its outcome",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		VoteID string `path:"vote_id" example:"petition:1"`
	}) (*body[VoteResponse], error) {
		votes, ok := e.Voting.(voteStore)
		if !ok {
			return nil, unsupported("vote lookup")
		}
		id, verr := parseVote(input.VoteID)
		if verr != nil {
			return nil, verr
		}
		rec, err := votes.Get(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(voteResponse(rec)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-vote",
		Method:      http.MethodPost,
		Path:        "/votes/{vote_id}/resolve",
		Summary:     "Record the outcome of a local vote",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		VoteID string `path:"vote_id" example:"petition:1"`
		Body   struct {
			Outcome collab.Outcome `json:"outcome" enum:"approved,rejected"`
		} `json:"body"`
	}) (*body[VoteResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		votes, ok := e.Voting.(voteStore)
		if !ok {
			return nil, unsupported("vote resolution")
		}
		id, verr := parseVote(input.VoteID)
		if verr != nil {
			return nil, verr
		}
		if err := votes.Resolve(ctx, id, input.Body.Outcome); err != nil {
			return nil, handleError(err)
		}
		e.Log.Info("vote resolved", "vote", id.String(), "outcome", input.Body.Outcome, "actor_id", actor)
		rec, err := votes.Get(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(voteResponse(rec)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/orgs/{org}/shares/{share}/members",
		Summary:     "List members of a share group",
	}, func(ctx context.Context, input *struct {
		Org   uint32 `path:"org"`
		Share uint32 `path:"share"`
	}) (*body[[]collab.Member], error) {
		members, err := e.Org.Members(ctx, domain.OrgID(input.Org), domain.ShareID(input.Share))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(members)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-member",
		Method:      http.MethodPost,
		Path:        "/orgs/{org}/shares/{share}/members",
		Summary:     "Add or reweight a share group member",
		Errors:      []int{http.StatusBadRequest, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		Org   uint32        `path:"org"`
		Share uint32        `path:"share"`
		Body  collab.Member `json:"body"`
	}) (*body[collab.Member], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		org, ok := e.Org.(memberStore)
		if !ok {
			return nil, unsupported("membership changes")
		}
		if err := org.AddMember(ctx, domain.OrgID(input.Org), domain.ShareID(input.Share), input.Body); err != nil {
			return nil, handleError(err)
		}
		return reply(input.Body), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reservation-balance",
		Method:      http.MethodGet,
		Path:        "/treasury/reservations/{reservation_id}",
		Summary:     "Get the remaining balance of a reservation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReservationID string `path:"reservation_id"`
	}) (*body[map[string]uint64], error) {
		bal, err := e.Treasury.Balance(ctx, domain.ReservationID(input.ReservationID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(map[string]uint64{"balance": uint64(bal)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-account-balance",
		Method:      http.MethodGet,
		Path:        "/treasury/accounts/{account}",
		Summary:     "Get a treasury account balance",
		Errors:      []int{http.StatusNotFound, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		Account string `path:"account"`
	}) (*body[map[string]uint64], error) {
		accounts, ok := e.Treasury.(accountStore)
		if !ok {
			return nil, unsupported("account balances")
		}
		bal, err := accounts.AccountBalance(ctx, domain.AccountID(input.Account))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(map[string]uint64{"balance": uint64(bal)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deposit",
		Method:      http.MethodPost,
		Path:        "/treasury/accounts/{account}/deposit",
		Summary:     "Credit a treasury account",
		Errors:      []int{http.StatusBadRequest, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		Account string `path:"account"`
		Body    struct {
			Amount uint64 `json:"amount" minimum:"1"`
		} `json:"body"`
	}) (*body[map[string]uint64], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		accounts, ok := e.Treasury.(accountStore)
		if !ok {
			return nil, unsupported("deposits")
		}
		account := domain.AccountID(input.Account)
		if err := accounts.Deposit(ctx, account, domain.Amount(input.Body.Amount)); err != nil {
			return nil, handleError(err)
		}
		bal, err := accounts.AccountBalance(ctx, account)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(map[string]uint64{"balance": uint64(bal)}), nil
	})
}
