package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("testline")
	cfg.Generation.DelayMS = 0
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %T: %v\n%s", v, err, data)
	}
	return v
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", map[string]any{"name": "Shop"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, data)
	}
	p := decode[domain.Project](t, data)
	if len(p.TestSuites) != 1 {
		t.Fatalf("no default suite: %s", data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects/"+p.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project status %d", resp.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "not_found" {
		t.Fatalf("unexpected error envelope: %s", data)
	}

	resp, _ = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/v1/projects/"+p.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
}

func TestDependencyCycleOverAPI(t *testing.T) {
	ts := newTestServer(t)

	_, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", map[string]any{"name": "Shop"})
	p := decode[domain.Project](t, data)
	suiteID := p.TestSuites[0].ID

	_, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/suites/"+suiteID+"/cases", map[string]any{"name": "a"})
	a := decode[domain.TestCase](t, data)
	_, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/suites/"+suiteID+"/cases", map[string]any{"name": "b"})
	b := decode[domain.TestCase](t, data)

	resp, _ := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/cases/"+b.ID+"/dependencies", map[string]any{"depends_on_id": a.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add dep status %d", resp.StatusCode)
	}
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/cases/"+a.ID+"/dependencies", map[string]any{"depends_on_id": b.ID})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cycle status %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/cases/"+b.ID+"/dependencies/tree", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tree status %d", resp.StatusCode)
	}
	tree := decode[domain.DependencyNode](t, data)
	if len(tree.Children) != 1 || tree.Children[0].ID != a.ID {
		t.Fatalf("unexpected tree: %s", data)
	}
}

func TestGenerateAndRunOverAPI(t *testing.T) {
	ts := newTestServer(t)

	_, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", map[string]any{"name": "Shop"})
	p := decode[domain.Project](t, data)
	suiteID := p.TestSuites[0].ID

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/suites/"+suiteID+"/generate", map[string]any{
		"requirement": "Verify login works",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", resp.StatusCode, data)
	}
	tc := decode[domain.TestCase](t, data)
	if len(tc.Steps) != 6 {
		t.Fatalf("generated %d steps", len(tc.Steps))
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/cases/"+tc.ID+"/run", map[string]any{"browser": "edge"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run status %d: %s", resp.StatusCode, data)
	}
	rep := decode[domain.RunReport](t, data)
	if rep.Status != "passed" || rep.Browser != "edge" {
		t.Fatalf("unexpected report: %s", data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/reports/"+rep.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get report status %d", resp.StatusCode)
	}
	stored := decode[domain.RunReport](t, data)
	if len(stored.Logs) == 0 {
		t.Fatalf("no logs stored")
	}

	resp, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/suites/missing/generate", map[string]any{"requirement": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("generate into missing suite status %d", resp.StatusCode)
	}
}

func TestSharedDataOverAPI(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts.client, http.MethodPut, ts.URL+"/v1/shared-data", map[string]any{
		"key":   "productPrice",
		"value": 99.99,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status %d: %s", resp.StatusCode, data)
	}
	first := decode[SharedDataResponse](t, data)

	_, data = doJSON(t, ts.client, http.MethodPut, ts.URL+"/v1/shared-data", map[string]any{
		"key":   "productPrice",
		"value": 149.99,
	})
	second := decode[SharedDataResponse](t, data)
	if second.ID != first.ID {
		t.Fatalf("upsert changed id: %s -> %s", first.ID, second.ID)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/shared-data", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	items := decode[[]SharedDataResponse](t, data)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}
