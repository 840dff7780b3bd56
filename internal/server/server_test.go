package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"

	"taskgate/internal/config"
	"taskgate/internal/db"
	"taskgate/internal/engine"
	"taskgate/internal/migrate"
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
	cfg := config.Default("taskgate")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.InitProject(ctx, cfg.Project.ID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	if _, err := e.CreateEmployee(ctx, engine.EmployeeCreateOptions{ID: "boss", Name: "Boss", Role: "manager", ActorID: "tester"}); err != nil {
		t.Fatalf("seed manager: %v", err)
	}
	if _, err := e.CreateEmployee(ctx, engine.EmployeeCreateOptions{ID: "dev", Name: "Dev", Role: "employee", ActorID: "tester"}); err != nil {
		t.Fatalf("seed employee: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
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

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func decodeErrorEnvelope(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error
}

func createItem(t *testing.T, srv *testServer, title string) WorkItemResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/taskgate/items", map[string]any{
		"employee_id": "dev",
		"title":       title,
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", res.StatusCode, string(data))
	}
	var item WorkItemResponse
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	return item
}

func moveItem(t *testing.T, srv *testServer, itemID, status, actor string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/items/"+itemID+"/status", map[string]any{
		"status": status,
	}, asActor(actor))
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	item := createItem(t, srv, "Ship feature")
	if item.Status != "todo" {
		t.Fatalf("expected todo, got %s", item.Status)
	}
	if item.AssigneeID != "dev" {
		t.Fatalf("expected assignee dev, got %s", item.AssigneeID)
	}

	for _, step := range []struct {
		status string
		actor  string
	}{
		{"in_progress", "dev"},
		{"review", "dev"},
		{"done", "boss"},
	} {
		res, data := moveItem(t, srv, item.ID, step.status, step.actor)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("move to %s status %d: %s", step.status, res.StatusCode, string(data))
		}
		var moved WorkItemResponse
		if err := json.Unmarshal(data, &moved); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if moved.Status != step.status {
			t.Fatalf("expected %s, got %s", step.status, moved.Status)
		}
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	item := createItem(t, srv, "Skip review")
	res, data := moveItem(t, srv, item.ID, "done", "boss")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	envelope := decodeErrorEnvelope(t, data)
	if envelope.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", envelope.Code)
	}
	if envelope.Details["from"] != "todo" || envelope.Details["to"] != "done" {
		t.Fatalf("expected from/to details, got %v", envelope.Details)
	}
}

func TestDoneForbiddenForNonManager(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	item := createItem(t, srv, "Manager only")
	if res, data := moveItem(t, srv, item.ID, "in_progress", "dev"); res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}
	if res, data := moveItem(t, srv, item.ID, "review", "dev"); res.StatusCode != http.StatusOK {
		t.Fatalf("review: %d %s", res.StatusCode, string(data))
	}
	res, data := moveItem(t, srv, item.ID, "done", "dev")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if envelope := decodeErrorEnvelope(t, data); envelope.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %s", envelope.Code)
	}
}

func TestCapacityExceededEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		createItem(t, srv, "Item "+string(rune('a'+i)))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/taskgate/items", map[string]any{
		"employee_id": "dev",
		"title":       "One too many",
	}, asActor("boss"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	envelope := decodeErrorEnvelope(t, data)
	if envelope.Code != "capacity_exceeded" {
		t.Fatalf("expected capacity_exceeded, got %s", envelope.Code)
	}
	if envelope.Details["limit"] != float64(10) {
		t.Fatalf("expected limit 10 in details, got %v", envelope.Details)
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	createItem(t, srv, "Tracked")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/employees/dev/score", nil, asActor("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("score status %d: %s", res.StatusCode, string(data))
	}
	var score ScoreResponse
	if err := json.Unmarshal(data, &score); err != nil {
		t.Fatalf("unmarshal score: %v", err)
	}
	if score.Performance != 100 {
		t.Fatalf("expected performance 100, got %f", score.Performance)
	}
	if score.ActiveItems != 1 {
		t.Fatalf("expected 1 active item, got %d", score.ActiveItems)
	}
	if score.Workload != 10 {
		t.Fatalf("expected workload 10, got %f", score.Workload)
	}
	if !score.CanAssign || !score.Eligible {
		t.Fatalf("expected assignable and eligible, got %+v", score)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if envelope := decodeErrorEnvelope(t, data); envelope.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", envelope.Code)
	}
}

func TestHealthExemptFromAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnknownItemNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := moveItem(t, srv, "ghost", "in_progress", "dev")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if envelope := decodeErrorEnvelope(t, data); envelope.Code != "not_found" {
		t.Fatalf("expected not_found code, got %s", envelope.Code)
	}
}

func TestEventsListed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	item := createItem(t, srv, "Audited")
	if res, data := moveItem(t, srv, item.ID, "in_progress", "dev"); res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=work_item.transitioned", nil, asActor("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected 1 transition event, got %d", len(evts))
	}
	if evts[0].ActorID != "dev" {
		t.Fatalf("expected actor dev, got %s", evts[0].ActorID)
	}
}

func TestListWorkItemsPaginated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		createItem(t, srv, "Paged "+string(rune('a'+i)))
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/taskgate/items?limit=2", nil, asActor("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedWorkItems
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/taskgate/items?limit=2&cursor="+page.NextCursor, nil, asActor("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, string(data))
	}
	var second paginatedWorkItems
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(second.Items) != 1 {
		t.Fatalf("expected 1 item on second page, got %d", len(second.Items))
	}
	if second.NextCursor != "" {
		t.Fatalf("expected no cursor on last page, got %s", second.NextCursor)
	}

	// Every item appears exactly once across the pages.
	seen := map[string]bool{}
	for _, it := range append(page.Items, second.Items...) {
		if seen[it.ID] {
			t.Fatalf("item %s returned on both pages", it.ID)
		}
		seen[it.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct items across pages, got %d", len(seen))
	}
}
