package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/metrics"
	"bountyline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("bountyline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Metrics = metrics.New()
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string { return map[string]string{"X-Actor-Id": actor} }

// call performs a request and decodes the response, failing unless the
// status matches.
func call(t *testing.T, srv *testServer, method, path, actor string, body any, want int, out any) []byte {
	t.Helper()
	var headers map[string]string
	if actor != "" {
		headers = as(actor)
	}
	res, data := doJSON(t, srv.Client(), method, srv.URL+path, body, headers)
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d %s", method, path, want, res.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
	return data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func councilBoard() map[string]any {
	return map[string]any{
		"kind": "flat_petition",
		"flat": map[string]any{"sudo": "root", "org": 1, "flat_share_id": 1, "approval_threshold": 2},
	}
}

// seed funds the treasury, seats the council and posts a bounty.
func seed(t *testing.T, srv *testServer) BountyResponse {
	t.Helper()
	call(t, srv, http.MethodPost, "/v0/treasury/accounts/treasury/deposit", "treasury", map[string]any{"amount": 10000}, http.StatusOK, nil)
	for _, acc := range []string{"carol", "dave"} {
		call(t, srv, http.MethodPost, "/v0/orgs/1/shares/1/members", "root", map[string]any{"account": acc, "weight": 1}, http.StatusOK, nil)
	}
	var b BountyResponse
	call(t, srv, http.MethodPost, "/v0/bounties", "treasury", map[string]any{
		"description":               "bafy-bounty",
		"foundation_id":             1,
		"reserve":                   500,
		"claimed_funding_available": 1000,
		"acceptance":                councilBoard(),
	}, http.StatusOK, &b)
	return b
}

func resolveVote(t *testing.T, srv *testServer, vote string, outcome string) {
	t.Helper()
	call(t, srv, http.MethodPost, "/v0/votes/"+vote+"/resolve", "root", map[string]any{"outcome": outcome}, http.StatusOK, nil)
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id on response")
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/bounties", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}
}

func TestGrantLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	b := seed(t, srv)
	if b.CollateralRatio != "0.5000" {
		t.Fatalf("expected ratio 0.5000, got %s", b.CollateralRatio)
	}
	base := fmt.Sprintf("/v0/bounties/%d/applications", b.ID)

	var app ApplicationResponse
	call(t, srv, http.MethodPost, base, "alice", map[string]any{
		"description":  "bafy-app",
		"total_amount": 400,
		"terms": map[string]any{
			"supervisor": "alice",
			"shares":     []map[string]any{{"account": "alice", "shares": 10}, {"account": "bob", "shares": 5}},
		},
	}, http.StatusOK, &app)
	appPath := fmt.Sprintf("%s/%d", base, app.ID)

	data := call(t, srv, http.MethodPost, appPath+"/review", "mallory", nil, http.StatusForbidden, nil)
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}
	call(t, srv, http.MethodPost, appPath+"/review", "carol", nil, http.StatusOK, &app)
	if app.State.Vote == nil {
		t.Fatalf("expected a review vote: %+v", app.State)
	}
	resolveVote(t, srv, app.State.Vote.String(), "approved")

	call(t, srv, http.MethodPost, appPath+"/approve", "carol", map[string]any{"share": 7}, http.StatusOK, &app)
	call(t, srv, http.MethodPost, appPath+"/grant", "alice", map[string]any{}, http.StatusOK, &app)
	if app.Team == nil || app.Team.FlatShareID != 7 {
		t.Fatalf("expected team on share 7, got %+v", app.Team)
	}

	var m MilestoneResponse
	call(t, srv, http.MethodPost, appPath+"/milestones", "bob", map[string]any{"submission": "bafy-work", "amount": 150}, http.StatusOK, &m)
	msPath := fmt.Sprintf("%s/milestones/%d", appPath, m.ID)
	call(t, srv, http.MethodPost, msPath+"/review", "carol", nil, http.StatusOK, &m)
	if m.Review.Vote == nil {
		t.Fatalf("expected a milestone vote: %+v", m.Review)
	}
	resolveVote(t, srv, m.Review.Vote.String(), "approved")

	var approval MilestoneApprovalResponse
	call(t, srv, http.MethodPost, msPath+"/approve", "carol", nil, http.StatusOK, &approval)
	if approval.Release.Status != "released" || approval.Release.Recipient != "alice" {
		t.Fatalf("unexpected release %+v", approval.Release)
	}

	var tracker TrackerResponse
	call(t, srv, http.MethodGet, fmt.Sprintf("/v0/bounties/%d/payments", b.ID), "alice", nil, http.StatusOK, &tracker)
	if tracker.Due != 400 || tracker.Received != 150 || tracker.Outstanding != 250 {
		t.Fatalf("unexpected tracker %+v", tracker)
	}
	var balance map[string]uint64
	call(t, srv, http.MethodGet, "/v0/treasury/accounts/alice", "alice", nil, http.StatusOK, &balance)
	if balance["balance"] != 150 {
		t.Fatalf("expected alice to hold 150, got %v", balance)
	}

	data = call(t, srv, http.MethodPost, appPath+"/close", "root", nil, http.StatusConflict, nil)
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}

	var page paginatedEvents
	call(t, srv, http.MethodGet, fmt.Sprintf("/v0/events?bounty_id=%d&limit=3", b.ID), "alice", nil, http.StatusOK, &page)
	if len(page.Items) != 3 || page.NextCursor == "" {
		t.Fatalf("expected a first page of 3 with a cursor, got %d items cursor %q", len(page.Items), page.NextCursor)
	}
	if page.Items[0].Type != "release.completed" {
		t.Fatalf("expected newest event release.completed, got %s", page.Items[0].Type)
	}
	var next paginatedEvents
	call(t, srv, http.MethodGet, fmt.Sprintf("/v0/events?bounty_id=%d&limit=3&cursor=%s", b.ID, page.NextCursor), "alice", nil, http.StatusOK, &next)
	if len(next.Items) == 0 || next.Items[0].ID >= page.Items[2].ID {
		t.Fatalf("cursor did not advance: %+v", next.Items)
	}
}

func TestPostBountyErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)

	data := call(t, srv, http.MethodPost, "/v0/bounties", "treasury", map[string]any{
		"description":               "bafy-thin",
		"foundation_id":             1,
		"reserve":                   100,
		"claimed_funding_available": 1000,
		"acceptance_preset":         "council",
	}, http.StatusUnprocessableEntity, nil)
	if code := errorCode(t, data); code != "insufficient_collateralization" {
		t.Fatalf("expected insufficient_collateralization, got %s", code)
	}

	data = call(t, srv, http.MethodPost, "/v0/bounties", "treasury", map[string]any{
		"description":               "bafy-missing",
		"foundation_id":             1,
		"reserve":                   500,
		"claimed_funding_available": 1000,
		"acceptance_preset":         "nope",
	}, http.StatusNotFound, nil)
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}

	call(t, srv, http.MethodGet, "/v0/bounties/999", "treasury", nil, http.StatusNotFound, nil)
	call(t, srv, http.MethodGet, "/v0/votes/ballot:1", "treasury", nil, http.StatusBadRequest, nil)
}

func TestDevLoginToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var login DevLoginResponse
	call(t, srv, http.MethodPost, "/v0/auth/dev/login", "", map[string]any{"actor_id": "treasury"}, http.StatusOK, &login)
	if login.Token == "" {
		t.Fatalf("expected token")
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/bounties", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer request status %d: %s", res.StatusCode, string(data))
	}

	forged, err := SignToken("other-secret", "treasury", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/bounties", nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign signature, got %d %s", res.StatusCode, string(data))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `bountyline_transitions_total{entity="bounty",to="posted"} 1`) {
		t.Fatalf("expected bounty transition counter in:\n%s", string(data))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	if sec := doc.Paths["/v0/health"]["get"].Security; len(sec) != 0 {
		t.Fatalf("health should be public, got %v", sec)
	}
	if sec := doc.Paths["/v0/bounties"]["post"].Security; len(sec) != 1 {
		t.Fatalf("post bounty should require bearer auth, got %v", sec)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/openapi.json") {
		t.Fatalf("docs status %d: %s", res.StatusCode, string(data))
	}
}
