package api_test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/stuckorders/stuckorders/pkg/export"
	"github.com/stuckorders/stuckorders/server/internal/alerts"
	"github.com/stuckorders/stuckorders/server/internal/api"
	"github.com/stuckorders/stuckorders/server/internal/config"
	"github.com/stuckorders/stuckorders/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

var evalTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

const baseHeader = "order_id,account_id,order_type_name,order_status_name,order_created_timestamp,travel_start_ts,travel_end_ts"

const baseCSV = baseHeader + `
A1,42,flight,issued,2024-01-01,2024-01-10,2024-01-15
A2,42,flight,issued,2024-02-01,2024-02-10,2024-02-20
B1,7,hotel,pending,2024-01-03,2024-01-15,2024-01-20
C1,9,train,issued,2024-02-10,2024-02-20,2024-02-25
`

// extendedCSV has the account history columns: account 42 last ordered 51
// days before evalTime (churned at 30), 7 and 9 are active.
const extendedCSV = baseHeader + `,account_first_order_created_timestamp,account_last_order_created_timestamp,account_total_orders_during_analysis_period
A1,42,flight,issued,2024-01-01,2024-01-10,2024-01-15,2023-01-01,2024-01-10,5
A2,42,flight,issued,2024-02-01,2024-02-10,2024-02-20,2023-01-01,2024-01-10,5
B1,7,hotel,pending,2024-01-03,2024-01-15,2024-01-20,2023-01-01,2024-02-25,5
C1,9,train,issued,2024-02-10,2024-02-20,2024-02-25,2023-01-01,2024-02-27,5
`

type fakeNotifier struct {
	mu      sync.Mutex
	changed []string
	closed  []string
}

func (f *fakeNotifier) SessionChanged(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, id)
}

func (f *fakeNotifier) SessionClosed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

type fixture struct {
	h        *api.Handler
	st       *store.Store
	notifier *fakeNotifier
}

func newFixture(t *testing.T, rules ...config.AlertRule) *fixture {
	t.Helper()
	st := store.New(30 * time.Minute)
	n := &fakeNotifier{}
	h := api.New(st, alerts.New(config.AlertsConfig{Rules: rules}), api.Options{
		MaxUploadBytes: 1 << 20,
		Now:            func() time.Time { return evalTime },
	})
	h.SetNotifier(n)
	return &fixture{h: h, st: st, notifier: n}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
}

func (f *fixture) upload(t *testing.T, csv string) api.DatasetResponse {
	t.Helper()
	rr := do(t, f.h, http.MethodPost, "/api/v1/datasets?name=orders.csv", csv)
	wantStatus(t, rr, http.StatusCreated)
	var d api.DatasetResponse
	decode(t, rr, &d)
	return d
}

func (f *fixture) newSession(t *testing.T, body string) api.SessionResponse {
	t.Helper()
	rr := do(t, f.h, http.MethodPost, "/api/v1/sessions", body)
	wantStatus(t, rr, http.StatusCreated)
	var s api.SessionResponse
	decode(t, rr, &s)
	return s
}

// analysisBody is the subset of the analysis payload the tests inspect.
type analysisBody struct {
	Session api.SessionResponse `json:"session"`
	Result  struct {
		FilteredOrders int `json:"filtered_orders"`
		FilteredUsers  int `json:"filtered_users"`
		Churn          *struct {
			Threshold int `json:"threshold"`
		} `json:"churn"`
		Hints []struct {
			Key string `json:"key"`
		} `json:"hints"`
	} `json:"result"`
	Metrics map[string]float64 `json:"metrics"`
}

func (f *fixture) analysis(t *testing.T, id string) analysisBody {
	t.Helper()
	rr := do(t, f.h, http.MethodGet, "/api/v1/sessions/"+id+"/analysis", "")
	wantStatus(t, rr, http.StatusOK)
	var a analysisBody
	decode(t, rr, &a)
	return a
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

// --- /api/v1/health ---------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.upload(t, baseCSV)

	rr := do(t, f.h, http.MethodGet, "/api/v1/health", "")
	wantStatus(t, rr, http.StatusOK)
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.Datasets != 1 || resp.Sessions != 0 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/health"},
		{http.MethodDelete, "/api/v1/datasets"},
		{http.MethodPut, "/api/v1/sessions"},
		{http.MethodPost, "/api/v1/sessions/x/analysis"},
		{http.MethodPost, "/api/v1/alerts"},
		{http.MethodPost, "/metrics"},
	} {
		rr := do(t, f.h, tc.method, tc.path, "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tc.method, tc.path, rr.Code)
		}
	}
}

// --- /api/v1/datasets -------------------------------------------------------

func TestUpload_Extended(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, extendedCSV)

	if d.ID == "" || d.Name != "orders.csv" || d.Records != 4 {
		t.Errorf("dataset: got %+v", d)
	}
	if !d.Schema.HasStatus || !d.Schema.HasExtended {
		t.Errorf("schema: got %+v", d.Schema)
	}
	if strings.Join(d.Verticals, ",") != "flight,hotel,train" {
		t.Errorf("verticals: got %v", d.Verticals)
	}
	if strings.Join(d.Statuses, ",") != "issued,pending" {
		t.Errorf("statuses: got %v", d.Statuses)
	}

	rr := do(t, f.h, http.MethodGet, "/api/v1/datasets/"+d.ID, "")
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, f.h, http.MethodGet, "/api/v1/datasets", "")
	wantStatus(t, rr, http.StatusOK)
	var list []api.DatasetResponse
	decode(t, rr, &list)
	if len(list) != 1 || list[0].ID != d.ID {
		t.Errorf("list: got %+v", list)
	}
}

func TestUpload_Delimiter(t *testing.T) {
	f := newFixture(t)
	csv := strings.ReplaceAll(baseCSV, ",", ";")
	rr := do(t, f.h, http.MethodPost, "/api/v1/datasets?delimiter=;", csv)
	wantStatus(t, rr, http.StatusCreated)

	rr = do(t, f.h, http.MethodPost, "/api/v1/datasets?delimiter=;;", csv)
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestUpload_Rejected(t *testing.T) {
	f := newFixture(t)

	// Missing required column.
	rr := do(t, f.h, http.MethodPost, "/api/v1/datasets", "order_id,account_id\nA1,42\n")
	wantStatus(t, rr, http.StatusBadRequest)
	if !strings.Contains(rr.Body.String(), "travel_end_ts") {
		t.Errorf("missing column not named: %s", rr.Body.String())
	}

	// Unparseable timestamp: the response names the cell.
	bad := strings.Replace(baseCSV, "2024-02-25\n", "not-a-date\n", 1)
	rr = do(t, f.h, http.MethodPost, "/api/v1/datasets", bad)
	wantStatus(t, rr, http.StatusBadRequest)
	var e struct {
		Error  string `json:"error"`
		Row    int    `json:"row"`
		Column string `json:"column"`
		Value  string `json:"value"`
	}
	decode(t, rr, &e)
	if e.Row != 4 || e.Column != "travel_end_ts" || e.Value != "not-a-date" {
		t.Errorf("cell error: got %+v", e)
	}

	if ds, _ := f.st.Counts(); ds != 0 {
		t.Errorf("rejected uploads stored: %d datasets", ds)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	st := store.New(time.Minute)
	h := api.New(st, alerts.New(config.AlertsConfig{}), api.Options{MaxUploadBytes: 64})
	rr := do(t, h, http.MethodPost, "/api/v1/datasets", extendedCSV)
	wantStatus(t, rr, http.StatusRequestEntityTooLarge)
}

func TestDataset_NotFound(t *testing.T) {
	f := newFixture(t)
	rr := do(t, f.h, http.MethodGet, "/api/v1/datasets/unknown", "")
	wantStatus(t, rr, http.StatusNotFound)
}

// --- /api/v1/sessions -------------------------------------------------------

func TestCreateSession_Invalid(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, baseCSV)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown dataset", `{"dataset_id":"nope"}`, http.StatusNotFound},
		{"bad json", `{`, http.StatusBadRequest},
		{"threshold too low", `{"dataset_id":"` + d.ID + `","churn_threshold":3}`, http.StatusBadRequest},
		{"threshold too high", `{"dataset_id":"` + d.ID + `","churn_threshold":91}`, http.StatusBadRequest},
		{"inverted range", `{"dataset_id":"` + d.ID + `","predicate":{"verticals":["flight"],"days_stuck_min":10,"days_stuck_max":5}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, f.h, http.MethodPost, "/api/v1/sessions", tt.body)
			wantStatus(t, rr, tt.want)
		})
	}
}

func TestSession_Lifecycle(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, extendedCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)

	if s.ChurnThreshold != 30 || s.Predicate != nil || s.Version != 1 {
		t.Errorf("new session: got %+v", s)
	}

	a := f.analysis(t, s.ID)
	if a.Result.FilteredOrders != 4 || a.Result.FilteredUsers != 3 {
		t.Errorf("default analysis: got %+v", a.Result)
	}
	if a.Result.Churn == nil || a.Result.Churn.Threshold != 30 {
		t.Fatalf("churn: got %+v", a.Result.Churn)
	}
	if !almostEqual(a.Metrics["churn_rate"], 100.0/3) {
		t.Errorf("churn_rate: got %v, want 33.33", a.Metrics["churn_rate"])
	}

	rr := do(t, f.h, http.MethodPut, "/api/v1/sessions/"+s.ID,
		`{"predicate":{"verticals":["flight"],"statuses":["issued"],"days_stuck_min":0,"days_stuck_max":100},"churn_threshold":60}`)
	wantStatus(t, rr, http.StatusOK)
	var updated api.SessionResponse
	decode(t, rr, &updated)
	if updated.Version != 2 || updated.ChurnThreshold != 60 {
		t.Errorf("updated: got %+v", updated)
	}
	if len(f.notifier.changed) != 1 || f.notifier.changed[0] != s.ID {
		t.Errorf("notifier changed: got %v", f.notifier.changed)
	}

	a = f.analysis(t, s.ID)
	if a.Result.FilteredOrders != 2 || a.Result.FilteredUsers != 1 {
		t.Errorf("filtered analysis: got %+v", a.Result)
	}
	// At 60 days nobody has churned.
	if a.Metrics["churn_rate"] != 0 {
		t.Errorf("churn_rate at 60: got %v, want 0", a.Metrics["churn_rate"])
	}

	rr = do(t, f.h, http.MethodDelete, "/api/v1/sessions/"+s.ID, "")
	wantStatus(t, rr, http.StatusNoContent)
	if len(f.notifier.closed) != 1 {
		t.Errorf("notifier closed: got %v", f.notifier.closed)
	}
	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID, "")
	wantStatus(t, rr, http.StatusNotFound)
	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/analysis", "")
	wantStatus(t, rr, http.StatusNotFound)
}

func TestSessions_Independent(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, extendedCSV)
	a := f.newSession(t, `{"dataset_id":"`+d.ID+`","churn_threshold":7}`)
	b := f.newSession(t, `{"dataset_id":"`+d.ID+`","predicate":{"verticals":["hotel"],"statuses":["pending"],"days_stuck_max":365}}`)

	ra := f.analysis(t, a.ID)
	rb := f.analysis(t, b.ID)
	if ra.Result.FilteredOrders != 4 || rb.Result.FilteredOrders != 1 {
		t.Errorf("filtered: a=%d b=%d", ra.Result.FilteredOrders, rb.Result.FilteredOrders)
	}
	if ra.Result.Churn.Threshold != 7 || rb.Result.Churn.Threshold != 30 {
		t.Errorf("thresholds: a=%d b=%d", ra.Result.Churn.Threshold, rb.Result.Churn.Threshold)
	}
}

func TestAnalysis_BaseSchema(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, baseCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)

	a := f.analysis(t, s.ID)
	if a.Result.Churn != nil {
		t.Error("churn report for a table without account history")
	}
	if _, ok := a.Metrics["churn_rate"]; ok {
		t.Error("churn_rate present without churn stage")
	}
	found := false
	for _, h := range a.Result.Hints {
		found = found || h.Key == "no_account_history"
	}
	if !found {
		t.Errorf("hints: no no_account_history in %+v", a.Result.Hints)
	}
}

// --- /api/v1/sessions/{id}/orders -------------------------------------------

func TestOrders(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, baseCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)

	rr := do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/orders", "")
	wantStatus(t, rr, http.StatusOK)
	var resp struct {
		Total  int `json:"total"`
		Orders []struct {
			OrderID   string `json:"order_id"`
			DaysStuck int    `json:"days_stuck"`
		} `json:"orders"`
	}
	decode(t, rr, &resp)
	if resp.Total != 4 || resp.Orders[0].OrderID != "A1" || resp.Orders[0].DaysStuck != 46 {
		t.Errorf("orders: got %+v", resp)
	}

	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/orders?search=A&sort=travel_end_ts&limit=1", "")
	wantStatus(t, rr, http.StatusOK)
	decode(t, rr, &resp)
	if resp.Total != 2 || len(resp.Orders) != 1 || resp.Orders[0].OrderID != "A2" {
		t.Errorf("search+sort+limit: got %+v", resp)
	}

	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/orders?sort=account_id", "")
	wantStatus(t, rr, http.StatusBadRequest)
	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/orders?limit=-1", "")
	wantStatus(t, rr, http.StatusBadRequest)
}

// --- /api/v1/sessions/{id}/export/{table} -----------------------------------

func TestExport(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, extendedCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)

	rr := do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/export/"+export.TableProfiles+"?delimiter=tab", "")
	wantStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type: got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "user_correlation_analysis_20240301_000000.csv") {
		t.Errorf("Content-Disposition: got %q", cd)
	}
	tbl, err := export.Read(bytes.NewReader(rr.Body.Bytes()), '\t')
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(tbl.Rows) != 3 {
		t.Errorf("profile rows: got %d, want 3", len(tbl.Rows))
	}
}

func TestExport_Errors(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, baseCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)

	rr := do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/export/"+export.TableVerticalChurn, "")
	wantStatus(t, rr, http.StatusUnprocessableEntity)

	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/export/orders", "")
	wantStatus(t, rr, http.StatusNotFound)

	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/missing/export/"+export.TableCohorts, "")
	wantStatus(t, rr, http.StatusNotFound)

	rr = do(t, f.h, http.MethodGet, "/api/v1/sessions/"+s.ID+"/export/"+export.TableCohorts, "")
	wantStatus(t, rr, http.StatusOK)
}

// --- /api/v1/alerts and /metrics --------------------------------------------

func TestAlerts_FireOnAnalysis(t *testing.T) {
	f := newFixture(t, config.AlertRule{Name: "high-churn", Condition: "churn_rate > 30", Severity: "critical"})
	d := f.upload(t, extendedCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)
	f.analysis(t, s.ID)

	rr := do(t, f.h, http.MethodGet, "/api/v1/alerts", "")
	wantStatus(t, rr, http.StatusOK)
	var list []alerts.Alert
	decode(t, rr, &list)
	if len(list) != 1 || list[0].RuleName != "high-churn" || list[0].SessionID != s.ID {
		t.Fatalf("alerts: got %+v", list)
	}

	// Raising the threshold clears the condition on the next analysis.
	do(t, f.h, http.MethodPut, "/api/v1/sessions/"+s.ID, `{"churn_threshold":60}`)
	f.analysis(t, s.ID)
	rr = do(t, f.h, http.MethodGet, "/api/v1/health", "")
	var health api.HealthResponse
	decode(t, rr, &health)
	if health.AlertsFiring != 0 {
		t.Errorf("alerts firing after resolve: %d", health.AlertsFiring)
	}
}

func TestMetricsExposition(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, extendedCSV)
	s := f.newSession(t, `{"dataset_id":"`+d.ID+`"}`)
	f.analysis(t, s.ID)

	rr := do(t, f.h, http.MethodGet, "/metrics", "")
	wantStatus(t, rr, http.StatusOK)

	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	if v := fams["stuckorders_datasets"].GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Errorf("stuckorders_datasets: got %v, want 1", v)
	}
	if v := fams["stuckorders_dataset_records"].GetMetric()[0].GetGauge().GetValue(); v != 4 {
		t.Errorf("stuckorders_dataset_records: got %v, want 4", v)
	}

	sm, ok := fams["stuckorders_session_metric"]
	if !ok {
		t.Fatal("stuckorders_session_metric missing")
	}
	found := false
	for _, m := range sm.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["session_id"] == s.ID && labels["metric"] == "filtered_orders" {
			found = true
			if m.GetGauge().GetValue() != 4 {
				t.Errorf("filtered_orders: got %v, want 4", m.GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Error("filtered_orders sample missing")
	}

	// Deleted sessions drop out of the exposition.
	do(t, f.h, http.MethodDelete, "/api/v1/sessions/"+s.ID, "")
	rr = do(t, f.h, http.MethodGet, "/metrics", "")
	if strings.Contains(rr.Body.String(), s.ID) {
		t.Error("deleted session still exposed")
	}
}
