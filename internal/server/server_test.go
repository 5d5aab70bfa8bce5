package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/runguard-ai/runguard/internal/auth"
	"github.com/runguard-ai/runguard/internal/engine"
	"github.com/runguard-ai/runguard/internal/telemetry"
	"go.uber.org/zap"
)

const testKey = "rgk_server_test_key_123456"

// testServer spins up the HTTP gateway with static auth and an in-memory
// telemetry sink.
func testServer(t *testing.T) (*httptest.Server, *telemetry.MemorySink) {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.SecretKey = []byte("server-test-secret")
	cfg.SideEffectTools = map[string]bool{"refund": true}

	sink := telemetry.NewMemorySink()
	deps := &Dependencies{
		Auth:   auth.NewStaticAuthenticator(testKey, "default"),
		Sink:   sink,
		Base:   cfg,
		Logger: zap.NewNop(),
	}

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	return srv, sink
}

// doJSON issues an authenticated JSON request and decodes the response.
func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func createRun(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var created CreateRunResp
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/runs", CreateRunReq{}, &created); code != http.StatusCreated {
		t.Fatalf("create run: status %d", code)
	}
	if created.RunID == "" {
		t.Fatal("create run: empty run_id")
	}
	return created.RunID
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestServer_RejectsMissingAuth(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", bytes.NewBufferString("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestServer_RejectsWrongKey(t *testing.T) {
	srv, _ := testServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/runs", bytes.NewBufferString("{}"))
	req.Header.Set("Authorization", "Bearer rgk_wrong_key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong key, got %d", resp.StatusCode)
	}
}

func TestServer_ToolFlow_AllowRecordCache(t *testing.T) {
	srv, _ := testServer(t)
	runID := createRun(t, srv)
	base := fmt.Sprintf("%s/v1/runs/%s", srv.URL, runID)

	check := ToolCheckReq{Tool: "search_kb", Args: map[string]any{"query": "refund policy"}}

	var d DecisionResp
	if code := doJSON(t, http.MethodPost, base+"/tool", check, &d); code != http.StatusOK {
		t.Fatalf("tool check: status %d", code)
	}
	if d.Action != "allow" {
		t.Fatalf("first check action = %q, want allow", d.Action)
	}

	record := RecordResultReq{OK: true, Payload: json.RawMessage(`{"hits": 3}`)}
	if code := doJSON(t, http.MethodPost, base+"/result", record, nil); code != http.StatusOK {
		t.Fatalf("record result: status %d", code)
	}

	// Same call again: served from cache with the recorded payload.
	if code := doJSON(t, http.MethodPost, base+"/tool", check, &d); code != http.StatusOK {
		t.Fatalf("second check: status %d", code)
	}
	if d.Action != "cache" {
		t.Fatalf("second check action = %q, want cache", d.Action)
	}
	var payload map[string]int
	if err := json.Unmarshal(d.CachedPayload, &payload); err != nil || payload["hits"] != 3 {
		t.Errorf("cached payload = %s", d.CachedPayload)
	}
}

func TestServer_SideEffectIdempotency(t *testing.T) {
	srv, sink := testServer(t)
	runID := createRun(t, srv)
	base := fmt.Sprintf("%s/v1/runs/%s", srv.URL, runID)

	check := ToolCheckReq{
		Tool:     "refund",
		Args:     map[string]any{"order_id": "o1", "amount": 10},
		TicketID: "t1",
	}

	var d DecisionResp
	doJSON(t, http.MethodPost, base+"/tool", check, &d)
	if d.Action != "allow" {
		t.Fatalf("first refund action = %q", d.Action)
	}
	if d.IdempotencyKey == "" {
		t.Error("side-effecting ALLOW should carry an idempotency key")
	}

	doJSON(t, http.MethodPost, base+"/result", RecordResultReq{OK: true, Payload: json.RawMessage(`{"status":"refunded"}`)}, nil)

	doJSON(t, http.MethodPost, base+"/tool", check, &d)
	if d.Action != "block" {
		t.Fatalf("repeat refund action = %q, want block", d.Action)
	}

	if len(sink.Find(telemetry.EventIdempotentReplay)) != 1 {
		t.Error("expected one idempotent replay event")
	}
}

func TestServer_OutputCheckPassthrough(t *testing.T) {
	srv, _ := testServer(t)
	runID := createRun(t, srv)

	var d DecisionResp
	code := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/runs/%s/output", srv.URL, runID),
		OutputCheckReq{Text: "Looking into the order now."}, &d)
	if code != http.StatusOK {
		t.Fatalf("output check: status %d", code)
	}
	if d.Action != "allow" {
		t.Errorf("fresh output action = %q, want allow", d.Action)
	}
}

func TestServer_DeleteRunReturnsStats(t *testing.T) {
	srv, _ := testServer(t)
	runID := createRun(t, srv)
	base := fmt.Sprintf("%s/v1/runs/%s", srv.URL, runID)

	check := ToolCheckReq{Tool: "search_kb", Args: map[string]any{"query": "q"}}
	var d DecisionResp
	doJSON(t, http.MethodPost, base+"/tool", check, &d)
	doJSON(t, http.MethodPost, base+"/result", RecordResultReq{OK: true, Payload: json.RawMessage(`{}`)}, nil)

	var stats RunStatsResp
	if code := doJSON(t, http.MethodDelete, base, nil, &stats); code != http.StatusOK {
		t.Fatalf("delete run: status %d", code)
	}
	if stats.RunID != runID {
		t.Errorf("stats run_id = %q", stats.RunID)
	}
	if stats.CostSpent <= 0 {
		t.Error("stats should carry the charged cost")
	}

	// Run is gone afterwards.
	if code := doJSON(t, http.MethodPost, base+"/tool", check, &d); code != http.StatusNotFound {
		t.Errorf("check after delete: status %d, want 404", code)
	}
}

func TestServer_UnknownRun(t *testing.T) {
	srv, _ := testServer(t)

	var d DecisionResp
	code := doJSON(t, http.MethodPost, srv.URL+"/v1/runs/nonexistent/tool",
		ToolCheckReq{Tool: "search_kb"}, &d)
	if code != http.StatusNotFound {
		t.Errorf("unknown run: status %d, want 404", code)
	}
}

func TestServer_DuplicateRunID(t *testing.T) {
	srv, _ := testServer(t)

	req := CreateRunReq{RunID: "run-dup"}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/runs", req, nil); code != http.StatusCreated {
		t.Fatalf("first create: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/runs", req, nil); code != http.StatusConflict {
		t.Errorf("duplicate create: status %d, want 409", code)
	}
}

func TestServer_FleetEndpointsWithoutPostgres(t *testing.T) {
	srv, _ := testServer(t)

	code := doJSON(t, http.MethodPost, srv.URL+"/api/runguard/fleets",
		CreateFleetReq{Name: "support"}, nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("create fleet without store: status %d, want 503", code)
	}
}

func TestServer_EventsWithoutClickHouse(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/runguard/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("events without reader: status %d, want 503", resp.StatusCode)
	}
}
