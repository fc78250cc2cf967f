package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/engine"
	"quoteflow/internal/migrate"
)

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
	cfg := config.Default("quoteflow")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
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

func doJSON(t *testing.T, client *http.Client, method, url string, body any, actorID string) (*http.Response, []byte) {
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
	if actorID != "" {
		req.Header.Set("X-Actor-Id", actorID)
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestHealthWithoutAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", code)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Submit as the client actor.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"category":    "web",
		"title":       "Landing page",
		"description": "Marketing site for a bakery",
		"budget":      "400 EUR",
		"deadline":    "14 days",
		"contact":     "@bakery",
	}, "client-1")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if created.Status != "new" {
		t.Fatalf("expected new status, got %q", created.Status)
	}
	if created.VisibleBudget != "~280 EUR" {
		t.Fatalf("visible budget: %q", created.VisibleBudget)
	}
	id := created.ID

	// A developer claims it.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+id+"/claims", map[string]any{
		"handle": "@ana",
	}, "dev-a")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}

	// Non-admin cannot assign the lead.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+id+"/lead", map[string]any{
		"dev_id": "dev-a",
	}, "dev-a")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", code)
	}

	// The owner assigns the lead at 100%.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+id+"/lead", map[string]any{
		"dev_id": "dev-a",
	}, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign lead status %d: %s", res.StatusCode, string(data))
	}
	var assigned RequestResponse
	if err := json.Unmarshal(data, &assigned); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if assigned.Status != "in_progress" || assigned.Assignments["dev-a"].Pct != 100 {
		t.Fatalf("unexpected assignment state: %+v", assigned)
	}

	// The lead marks it pending.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+id+"/status", map[string]any{
		"status": "completed_pending",
	}, "dev-a")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}

	// Owner runs the payout wizard with the suggested amount.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payouts", map[string]any{
		"request_id": id,
	}, "owner")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start payout status %d: %s", res.StatusCode, string(data))
	}
	var session PayoutSessionResponse
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if len(session.Steps) != 1 || session.Steps[0].Suggested != 400 {
		t.Fatalf("unexpected session: %+v", session)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payouts/confirm", map[string]any{}, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm payout status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if !session.Done {
		t.Fatalf("expected finished session: %+v", session)
	}

	// Request is closed and the commission is on the books.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+id, nil, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get request status %d: %s", res.StatusCode, string(data))
	}
	var closed RequestResponse
	if err := json.Unmarshal(data, &closed); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if closed.Status != "completed_confirmed" {
		t.Fatalf("expected confirmed, got %q", closed.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/admin/funds", nil, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin funds status %d: %s", res.StatusCode, string(data))
	}
	var funds FundsResponse
	if err := json.Unmarshal(data, &funds); err != nil {
		t.Fatalf("unmarshal funds: %v", err)
	}
	if funds.Totals["EUR"].Amount != 40 || funds.Totals["EUR"].Count != 1 {
		t.Fatalf("unexpected commission totals: %+v", funds.Totals)
	}

	// Commission-only export via the payee filter.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/exports/earnings.csv?payee=ADMIN", nil, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("earnings export status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "ADMIN") || !strings.Contains(string(data), "commission") {
		t.Fatalf("commission export missing row: %s", string(data))
	}
	if strings.Contains(string(data), "dev-a") {
		t.Fatalf("payee filter leaked developer rows: %s", string(data))
	}
}

func TestTrueBudgetHiddenFromNonAdmins(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"category":    "web",
		"title":       "Portfolio",
		"description": "d",
		"budget":      "400 EUR",
		"deadline":    "7 days",
		"contact":     "c",
	}, "client-1")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	// A developer sees only the reduced figure.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+created.ID, nil, "dev-a")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var devView RequestResponse
	if err := json.Unmarshal(data, &devView); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if devView.Budget != nil || devView.BudgetRaw != "" {
		t.Fatalf("true budget leaked to developer: %+v %q", devView.Budget, devView.BudgetRaw)
	}
	if devView.VisibleBudget != "~280 EUR" {
		t.Fatalf("visible budget: %q", devView.VisibleBudget)
	}

	// The owner sees the true amount.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+created.ID, nil, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var ownerView RequestResponse
	if err := json.Unmarshal(data, &ownerView); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if ownerView.Budget == nil || ownerView.Budget.Amount != 400 || ownerView.BudgetRaw != "400 EUR" {
		t.Fatalf("owner should see the true budget: %+v %q", ownerView.Budget, ownerView.BudgetRaw)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Unknown request id.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/DEADBEEF", nil, "owner")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found code, got %q", code)
	}

	// Unparsable budget.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"category":    "web",
		"title":       "Broken",
		"description": "d",
		"budget":      "call me",
		"deadline":    "tomorrow maybe",
		"contact":     "c",
	}, "client-2")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %q", code)
	}

	// Confirm with no live session.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payouts/confirm", map[string]any{}, "owner")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "no_session" {
		t.Fatalf("expected no_session code, got %q", code)
	}
}

func TestRequestsCSVExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"category":    "bots",
		"title":       "Order bot",
		"description": "d",
		"budget":      "200 EUR",
		"deadline":    "5 days",
		"contact":     "c",
	}, "client-3")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/exports/requests.csv", nil, "owner")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(string(data), "Order bot") {
		t.Fatalf("export missing row: %s", string(data))
	}

	// Export is admin-only.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/exports/requests.csv", nil, "client-3")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}
