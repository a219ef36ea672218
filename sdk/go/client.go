package bountylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bountyline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. Servers
	// accept it only when started with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// BoardSpec describes a review board: either a flat petition or a weighted
// threshold vote.
type BoardSpec struct {
	Kind     string         `json:"kind"`
	Flat     map[string]any `json:"flat,omitempty"`
	Weighted map[string]any `json:"weighted,omitempty"`
}

type Bounty struct {
	ID                      uint64     `json:"id"`
	Description             string     `json:"description"`
	FoundationID            uint32     `json:"foundation_id"`
	TreasuryAccount         string     `json:"treasury_account"`
	ReservationID           string     `json:"reservation_id"`
	FundingReserved         uint64     `json:"funding_reserved"`
	ClaimedFundingAvailable uint64     `json:"claimed_funding_available"`
	CollateralRatio         string     `json:"collateral_ratio"`
	Acceptance              BoardSpec  `json:"acceptance"`
	Supervision             *BoardSpec `json:"supervision,omitempty"`
}

// PostBounty is the request for Client.PostBounty. Boards are given inline or
// by preset name.
type PostBounty struct {
	Description             string     `json:"description"`
	FoundationID            uint32     `json:"foundation_id"`
	TreasuryAccount         string     `json:"treasury_account,omitempty"`
	Reserve                 uint64     `json:"reserve"`
	ClaimedFundingAvailable uint64     `json:"claimed_funding_available"`
	Acceptance              *BoardSpec `json:"acceptance,omitempty"`
	AcceptancePreset        string     `json:"acceptance_preset,omitempty"`
	Supervision             *BoardSpec `json:"supervision,omitempty"`
	SupervisionPreset       string     `json:"supervision_preset,omitempty"`
}

type PaymentTracker struct {
	BountyID    uint64 `json:"bounty_id"`
	Received    uint64 `json:"received"`
	Due         uint64 `json:"due"`
	Outstanding uint64 `json:"outstanding"`
}

type ShareAllocation struct {
	Account string `json:"account"`
	Shares  uint64 `json:"shares"`
}

type Terms struct {
	Supervisor string            `json:"supervisor,omitempty"`
	Shares     []ShareAllocation `json:"shares"`
}

type Team struct {
	Org             uint32 `json:"org"`
	Sudo            string `json:"sudo,omitempty"`
	FlatShareID     uint32 `json:"flat_share_id"`
	WeightedShareID uint32 `json:"weighted_share_id"`
}

type VoteID struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
}

func (v VoteID) String() string { return fmt.Sprintf("%s:%d", v.Kind, v.ID) }

// State is an application phase plus the data the phase carries.
type State struct {
	Phase string  `json:"phase"`
	Vote  *VoteID `json:"vote,omitempty"`
	Share *uint32 `json:"share,omitempty"`
	Team  *Team   `json:"team,omitempty"`
}

type Application struct {
	ID          uint64 `json:"id"`
	BountyID    uint64 `json:"bounty_id"`
	Submitter   string `json:"submitter"`
	Description string `json:"description"`
	TotalAmount uint64 `json:"total_amount"`
	Terms       Terms  `json:"terms"`
	State       State  `json:"state"`
	Team        *Team  `json:"team,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type Review struct {
	Phase string  `json:"phase"`
	Vote  *VoteID `json:"vote,omitempty"`
}

type Milestone struct {
	ApplicationID uint64  `json:"application_id"`
	ID            uint64  `json:"id"`
	BountyID      uint64  `json:"bounty_id"`
	Submission    string  `json:"submission"`
	Amount        uint64  `json:"amount"`
	Review        Review  `json:"review"`
	Supersedes    *uint64 `json:"supersedes,omitempty"`
	Superseded    bool    `json:"superseded"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type Release struct {
	BountyID      uint64 `json:"bounty_id"`
	ApplicationID uint64 `json:"application_id"`
	MilestoneID   uint64 `json:"milestone_id"`
	Amount        uint64 `json:"amount"`
	Recipient     string `json:"recipient"`
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	Receipt       string `json:"receipt,omitempty"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
}

type MilestoneApproval struct {
	Milestone Milestone `json:"milestone"`
	Release   Release   `json:"release"`
}

// Vote is a locally stored vote.
type Vote struct {
	ID         VoteID         `json:"id"`
	Params     map[string]any `json:"params"`
	Outcome    string         `json:"outcome"`
	CreatedAt  string         `json:"created_at"`
	ResolvedAt string         `json:"resolved_at,omitempty"`
}

type Member struct {
	Account string `json:"account"`
	Weight  uint64 `json:"weight"`
}

// Event represents a log entry.
type Event struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts"`
	Type          string          `json:"type"`
	EntityKind    string          `json:"entity_kind"`
	BountyID      uint64          `json:"bounty_id,omitempty"`
	ApplicationID uint64          `json:"application_id,omitempty"`
	MilestoneID   uint64          `json:"milestone_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	Payload       json.RawMessage `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery filters Client.EventsPage. Zero values are ignored.
type EventQuery struct {
	Type        string
	Bounty      uint64
	Application uint64
	Milestone   uint64
	Limit       int
	Cursor      string
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PostBounty creates a bounty.
func (c *Client) PostBounty(ctx context.Context, req PostBounty) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, "v0/bounties", req, &resp)
	return resp, err
}

func (c *Client) ListBounties(ctx context.Context, foundation uint32) ([]Bounty, error) {
	endpoint := "v0/bounties"
	if foundation != 0 {
		endpoint = fmt.Sprintf("%s?foundation_id=%d", endpoint, foundation)
	}
	var resp []Bounty
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetBounty(ctx context.Context, id uint64) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodGet, bountyPath(id), nil, &resp)
	return resp, err
}

// SyncFunds refreshes the bounty's reserved amount from its treasury
// reservation.
func (c *Client) SyncFunds(ctx context.Context, id uint64) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, bountyPath(id)+"/sync-funds", nil, &resp)
	return resp, err
}

func (c *Client) Payments(ctx context.Context, id uint64) (PaymentTracker, error) {
	var resp PaymentTracker
	err := c.do(ctx, http.MethodGet, bountyPath(id)+"/payments", nil, &resp)
	return resp, err
}

// SubmitApplication applies for a bounty.
func (c *Client) SubmitApplication(ctx context.Context, bounty uint64, description string, total uint64, terms Terms) (Application, error) {
	body := map[string]any{
		"description":  description,
		"total_amount": total,
		"terms":        terms,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, bountyPath(bounty)+"/applications", body, &resp)
	return resp, err
}

// ListApplications lists applications, optionally only those in phases.
func (c *Client) ListApplications(ctx context.Context, bounty uint64, phases ...string) ([]Application, error) {
	endpoint := bountyPath(bounty) + "/applications"
	if len(phases) > 0 {
		endpoint += "?phase=" + url.QueryEscape(strings.Join(phases, ","))
	}
	var resp []Application
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetApplication(ctx context.Context, bounty, app uint64) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, appPath(bounty, app), nil, &resp)
	return resp, err
}

func (c *Client) Team(ctx context.Context, bounty, app uint64) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodGet, appPath(bounty, app)+"/team", nil, &resp)
	return resp, err
}

// StartReview opens the acceptance committee vote.
func (c *Client) StartReview(ctx context.Context, bounty, app uint64) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(bounty, app)+"/review", nil, &resp)
	return resp, err
}

// ApproveApplication moves an accepted application to team consent under
// share.
func (c *Client) ApproveApplication(ctx context.Context, bounty, app uint64, share uint32) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(bounty, app)+"/approve", map[string]any{"share": share}, &resp)
	return resp, err
}

// ApproveGrant makes the grant live. A nil team lets the server derive it
// from the consent share.
func (c *Client) ApproveGrant(ctx context.Context, bounty, app uint64, team *Team) (Application, error) {
	body := map[string]any{}
	if team != nil {
		body["team"] = team
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(bounty, app)+"/grant", body, &resp)
	return resp, err
}

func (c *Client) CloseApplication(ctx context.Context, bounty, app uint64) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(bounty, app)+"/close", nil, &resp)
	return resp, err
}

// SubmitMilestone files milestone work for a live application.
func (c *Client) SubmitMilestone(ctx context.Context, bounty, app uint64, submission string, amount uint64) (Milestone, error) {
	body := map[string]any{"submission": submission, "amount": amount}
	var resp Milestone
	err := c.do(ctx, http.MethodPost, appPath(bounty, app)+"/milestones", body, &resp)
	return resp, err
}

func (c *Client) ListMilestones(ctx context.Context, bounty, app uint64) ([]Milestone, error) {
	var resp []Milestone
	err := c.do(ctx, http.MethodGet, appPath(bounty, app)+"/milestones", nil, &resp)
	return resp, err
}

func (c *Client) GetMilestone(ctx context.Context, bounty, app, id uint64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodGet, milestonePath(bounty, app, id), nil, &resp)
	return resp, err
}

func (c *Client) StartMilestoneReview(ctx context.Context, bounty, app, id uint64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(bounty, app, id)+"/review", nil, &resp)
	return resp, err
}

func (c *Client) RequestChanges(ctx context.Context, bounty, app, id uint64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(bounty, app, id)+"/changes", nil, &resp)
	return resp, err
}

// ResubmitMilestone files the replacement for a milestone whose changes were
// requested.
func (c *Client) ResubmitMilestone(ctx context.Context, bounty, app, id uint64, submission string, amount uint64) (Milestone, error) {
	body := map[string]any{"submission": submission, "amount": amount}
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(bounty, app, id)+"/resubmit", body, &resp)
	return resp, err
}

// ApproveMilestone enables the transfer and releases the milestone amount.
func (c *Client) ApproveMilestone(ctx context.Context, bounty, app, id uint64) (MilestoneApproval, error) {
	var resp MilestoneApproval
	err := c.do(ctx, http.MethodPost, milestonePath(bounty, app, id)+"/approve", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, EventQuery{Limit: limit})
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	setID := func(name string, v uint64) {
		if v != 0 {
			params.Set(name, fmt.Sprint(v))
		}
	}
	setID("bounty_id", q.Bounty)
	setID("application_id", q.Application)
	setID("milestone_id", q.Milestone)
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "v0/events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetVote(ctx context.Context, id VoteID) (Vote, error) {
	var resp Vote
	err := c.do(ctx, http.MethodGet, "v0/votes/"+url.PathEscape(id.String()), nil, &resp)
	return resp, err
}

// ResolveVote records outcome ("approved" or "rejected") on a local vote.
func (c *Client) ResolveVote(ctx context.Context, id VoteID, outcome string) (Vote, error) {
	var resp Vote
	endpoint := "v0/votes/" + url.PathEscape(id.String()) + "/resolve"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"outcome": outcome}, &resp)
	return resp, err
}

func (c *Client) AddMember(ctx context.Context, org, share uint32, m Member) (Member, error) {
	var resp Member
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/orgs/%d/shares/%d/members", org, share), m, &resp)
	return resp, err
}

func (c *Client) Members(ctx context.Context, org, share uint32) ([]Member, error) {
	var resp []Member
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/orgs/%d/shares/%d/members", org, share), nil, &resp)
	return resp, err
}

// Deposit credits a treasury account and returns its new balance.
func (c *Client) Deposit(ctx context.Context, account string, amount uint64) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	endpoint := "v0/treasury/accounts/" + url.PathEscape(account) + "/deposit"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"amount": amount}, &resp)
	return resp.Balance, err
}

func (c *Client) AccountBalance(ctx context.Context, account string) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "v0/treasury/accounts/"+url.PathEscape(account), nil, &resp)
	return resp.Balance, err
}

func (c *Client) ReservationBalance(ctx context.Context, reservation string) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "v0/treasury/reservations/"+url.PathEscape(reservation), nil, &resp)
	return resp.Balance, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func bountyPath(id uint64) string { return fmt.Sprintf("v0/bounties/%d", id) }

func appPath(bounty, app uint64) string {
	return fmt.Sprintf("%s/applications/%d", bountyPath(bounty), app)
}

func milestonePath(bounty, app, id uint64) string {
	return fmt.Sprintf("%s/milestones/%d", appPath(bounty, app), id)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
