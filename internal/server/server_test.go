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
	"time"

	"refurbline/internal/checklist"
	"refurbline/internal/config"
	"refurbline/internal/db"
	"refurbline/internal/domain"
	"refurbline/internal/engine"
	"refurbline/internal/migrate"
)

const testSecret = "bench-secret"

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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.SpareParts = []config.PartSeed{{Code: "RAM-001", CurrentStock: 1}}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := e.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true}})
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

func as(actor string, roles ...string) map[string]string {
	return map[string]string{"X-Actor-Id": actor, "X-Actor-Roles": strings.Join(roles, ",")}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func registerLaptop(t *testing.T, srv *testServer, barcode string) domain.Device {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/devices", map[string]any{
		"barcode": barcode, "category": "LAPTOP", "brand": "Dell", "model": "Latitude7490",
	}, as("ivy", "intake"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, data)
	}
	var d domain.Device
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal device: %v", err)
	}
	return d
}

func inspect(t *testing.T, srv *testServer, deviceID string, failIndex int, spares string) engine.RoutingResult {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/devices/"+deviceID+"/inspection/start", nil, as("ian", "inspector"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start inspection %d: %s", res.StatusCode, data)
	}
	items, _ := checklist.For(domain.CategoryLaptop)
	var results []map[string]any
	for _, it := range items {
		status := "PASS"
		if it.Index == failIndex {
			status = "FAIL"
		}
		results = append(results, map[string]any{"index": it.Index, "status": status})
	}
	body := map[string]any{"results": results}
	if spares != "" {
		body["spares_required"] = spares
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/devices/"+deviceID+"/inspection", body, as("ian", "inspector"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inspection %d: %s", res.StatusCode, data)
	}
	var out engine.RoutingResult
	_ = json.Unmarshal(data, &out)
	return out
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/devices", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestRepairFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	d := registerLaptop(t, srv, "HTTP-1")
	routed := inspect(t, srv, d.ID, 8, "")
	if routed.NextStatus != domain.StatusReadyForRepair {
		t.Fatalf("expected READY_FOR_REPAIR, got %s", routed.NextStatus)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/claim", nil, as("lee", "l2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/claim", nil, as("lou", "l2"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "not_claimable" {
		t.Fatalf("expected not_claimable conflict, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/tracks/battery/dispatch", map[string]any{
		"instructions": "replace cell pack",
	}, as("lee", "l2"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("dispatch %d: %s", res.StatusCode, data)
	}
	var work IDResponse
	_ = json.Unmarshal(data, &work)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/send-to-qc", nil, as("lee", "l2"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "Battery repair not completed") {
		t.Fatalf("missing list not reported: %s", data)
	}

	for _, step := range []string{"start", "complete"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/work-jobs/"+work.ID+"/"+step, nil, as("tam", "technician"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s work job %d: %s", step, res.StatusCode, data)
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/tracks/battery/collect", nil, as("lee", "l2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("collect %d: %s", res.StatusCode, data)
	}
	var ready engine.Readiness
	_ = json.Unmarshal(data, &ready)
	if !ready.ReadyForQC {
		t.Fatalf("expected ready for QC, got %+v", ready)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/send-to-qc", nil, as("lee", "l2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send to qc %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices/"+d.ID+"/qc", map[string]any{
		"passed": true, "grade": "A",
	}, as("quinn", "qc"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("qc %d: %s", res.StatusCode, data)
	}
}

func TestSparesShortfallIsUnprocessable(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/spare-parts/validate", map[string]any{"spares": "RAM-001:2"}, as("sam", "stores"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate %d: %s", res.StatusCode, data)
	}
	var v engine.SparesValidation
	_ = json.Unmarshal(data, &v)
	if v.Valid || len(v.Errors) != 1 {
		t.Fatalf("unexpected validation %+v", v)
	}

	d := registerLaptop(t, srv, "HTTP-2")
	routed := inspect(t, srv, d.ID, 0, "RAM-001:2")
	if routed.RepairJobID == nil {
		t.Fatalf("expected repair job")
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/repair-jobs/"+*routed.RepairJobID+"/spares/issue", map[string]any{"spares": "RAM-001:2"}, as("sam", "stores"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "spares_unavailable" {
		t.Fatalf("expected spares_unavailable, got %d %s", res.StatusCode, data)
	}
}

func TestForbiddenCarriesPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/devices", map[string]any{
		"barcode": "NOPE", "category": "SERVER",
	}, as("ian", "inspector"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected forbidden, got %d %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "device.intake") {
		t.Fatalf("permission missing from details: %s", data)
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "quinn", "roles": []string{"qc"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me %d: %s", res.StatusCode, data)
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "quinn" || who.Source != "jwt" || len(who.Permissions) != 1 || who.Permissions[0] != "qc.submit" {
		t.Fatalf("unexpected principal %+v", who)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{
		"actor_id": "bench-scanner", "name": "scanner", "roles": []string{"intake"},
	}, as("root", "admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key %d: %s", res.StatusCode, data)
	}
	var key CreatedAPIKeyResponse
	_ = json.Unmarshal(data, &key)
	if !strings.HasPrefix(key.Key, "rfl_") {
		t.Fatalf("unexpected key %q", key.Key)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices", map[string]any{
		"barcode": "SCAN-1", "category": "MONITOR",
	}, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register with api key %d: %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/api-keys/"+key.ID, nil, as("root", "admin"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key still accepted: %d", res.StatusCode)
	}
}

func TestVerificationReportExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intake := as("ivy", "intake")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/purchase-orders", map[string]any{
		"number": "PO-77",
		"items":  []map[string]any{{"category": "LAPTOP", "brand": "Dell", "model": "Latitude7490", "quantity": 1}},
	}, intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("po %d: %s", res.StatusCode, data)
	}
	var po domain.PurchaseOrder
	_ = json.Unmarshal(data, &po)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/batches", map[string]any{"code": "IN-77", "purchase_order_id": po.ID}, intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("batch %d: %s", res.StatusCode, data)
	}
	var b domain.InwardBatch
	_ = json.Unmarshal(data, &b)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/batches/"+b.ID+"/report.xlsx", nil, intake)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict before verification, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/devices", map[string]any{
		"barcode": "PO77-1", "category": "LAPTOP", "brand": "Dell", "model": "Latitude7490", "batch_id": b.ID,
	}, intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/batches/"+b.ID+"/verify", nil, intake)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/batches/"+b.ID+"/verify", nil, intake)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "batch_locked" {
		t.Fatalf("expected batch_locked, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/batches/"+b.ID+"/report.xlsx", nil, intake)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export %d: %s", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected content type %s", ct)
	}
	if len(data) < 4 || string(data[:2]) != "PK" {
		t.Fatalf("expected zip payload")
	}
}
