package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/stuckorders/stuckorders/pkg/analysis"
	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/compute"
	"github.com/stuckorders/stuckorders/pkg/export"
	"github.com/stuckorders/stuckorders/pkg/ingest"
	"github.com/stuckorders/stuckorders/server/internal/alerts"
	"github.com/stuckorders/stuckorders/server/internal/store"
)

// Notifier is told about session changes so live clients can be refreshed.
type Notifier interface {
	SessionChanged(id string)
	SessionClosed(id string)
}

// Options configure a Handler.
type Options struct {
	// MaxUploadBytes caps dataset uploads. Zero means unlimited.
	MaxUploadBytes int64

	// DefaultChurnThreshold applies to sessions that do not set one.
	DefaultChurnThreshold int

	// Now overrides the evaluation clock. Nil means time.Now.
	Now func() time.Time
}

// Handler is the HTTP handler for /api/v1/* and /metrics.
type Handler struct {
	store  *store.Store
	alerts *alerts.Engine
	opts   Options
	mux    *http.ServeMux

	notifier Notifier

	mu      sync.Mutex
	metrics map[string]map[string]float64 // latest analysis metrics per session
}

// New creates a Handler and registers all routes.
func New(st *store.Store, eng *alerts.Engine, opts Options) *Handler {
	if opts.DefaultChurnThreshold == 0 {
		opts.DefaultChurnThreshold = churn.DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{
		store:   st,
		alerts:  eng,
		opts:    opts,
		mux:     http.NewServeMux(),
		metrics: make(map[string]map[string]float64),
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/datasets", h.datasets)
	h.mux.HandleFunc("/api/v1/datasets/{id}", h.getDataset)
	h.mux.HandleFunc("/api/v1/sessions", h.createSession)
	h.mux.HandleFunc("/api/v1/sessions/{id}", h.session)
	h.mux.HandleFunc("/api/v1/sessions/{id}/analysis", h.sessionAnalysis)
	h.mux.HandleFunc("/api/v1/sessions/{id}/orders", h.orders)
	h.mux.HandleFunc("/api/v1/sessions/{id}/export/{table}", h.exportTable)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/metrics", h.exposition)

	return h
}

// SetNotifier registers n for session changes. Call it before serving.
func (h *Handler) SetNotifier(n Notifier) { h.notifier = n }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Analyze recomputes the analysis of session id at the current instant and
// evaluates alert rules against it.
func (h *Handler) Analyze(id string) (*SessionAnalysis, error) {
	sess, err := h.store.Session(id)
	if err != nil {
		return nil, err
	}
	ds, err := h.store.Dataset(sess.DatasetID)
	if err != nil {
		return nil, err
	}
	res, err := analysis.Run(ds.Table, analysis.Params{
		Now:            h.opts.Now().UTC(),
		Predicate:      sess.Params.Predicate,
		ChurnThreshold: sess.Params.ChurnThreshold,
	})
	if err != nil {
		return nil, err
	}

	m := res.Metrics()
	h.alerts.Evaluate(sess.ID, m)
	h.mu.Lock()
	h.metrics[sess.ID] = m
	h.mu.Unlock()

	return &SessionAnalysis{Session: toSessionResponse(sess), Result: res, Metrics: m}, nil
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ds, ss := h.store.Counts()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Datasets:     ds,
		Sessions:     ss,
		AlertsFiring: h.alerts.Firing(),
	})
}

// datasets handles GET (list) and POST (upload) on /api/v1/datasets.
func (h *Handler) datasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := h.store.Datasets()
		out := make([]DatasetResponse, 0, len(list))
		for _, d := range list {
			out = append(out, toDatasetResponse(d))
		}
		jsonResp(w, http.StatusOK, out)
	case http.MethodPost:
		h.upload(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// upload ingests the request body as a delimited table.
// Query parameters: name, delimiter.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	delim, err := parseDelimiter(r.URL.Query().Get("delimiter"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}

	var body io.Reader = r.Body
	if h.opts.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}

	table, err := ingest.Read(body, ingest.ReadOptions{Delimiter: delim})
	if err != nil {
		var tooBig *http.MaxBytesError
		var cell *ingest.Error
		switch {
		case errors.As(err, &tooBig):
			jsonErr(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
		case errors.As(err, &cell):
			jsonResp(w, http.StatusBadRequest, errorResponse{
				Error:  err.Error(),
				Row:    cell.Row,
				Column: cell.Column,
				Value:  cell.Value,
			})
		default:
			jsonErr(w, http.StatusBadRequest, err.Error())
		}
		slog.Info("api: dataset rejected", "name", name, "err", err)
		return
	}

	d := h.store.AddDataset(name, table)
	slog.Info("api: dataset added",
		"id", d.ID, "name", name, "records", len(table.Records),
		"has_status", table.Schema.HasStatus, "has_extended", table.Schema.HasExtended)
	jsonResp(w, http.StatusCreated, toDatasetResponse(d))
}

// getDataset returns GET /api/v1/datasets/{id}.
func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	d, err := h.store.Dataset(r.PathValue("id"))
	if err != nil {
		storeErr(w, err, "dataset")
		return
	}
	jsonResp(w, http.StatusOK, toDatasetResponse(d))
}

// createSession handles POST /api/v1/sessions.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	params, err := h.params(req.Predicate, req.ChurnThreshold)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.store.CreateSession(req.DatasetID, params)
	if err != nil {
		storeErr(w, err, "dataset")
		return
	}
	slog.Info("api: session created", "id", sess.ID, "dataset", sess.DatasetID)
	jsonResp(w, http.StatusCreated, toSessionResponse(sess))
}

// session handles GET, PUT and DELETE on /api/v1/sessions/{id}.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		sess, err := h.store.Session(id)
		if err != nil {
			storeErr(w, err, "session")
			return
		}
		jsonResp(w, http.StatusOK, toSessionResponse(sess))

	case http.MethodPut:
		var req UpdateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		params, err := h.params(req.Predicate, req.ChurnThreshold)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		sess, err := h.store.UpdateSession(id, params)
		if err != nil {
			storeErr(w, err, "session")
			return
		}
		if n := h.notifier; n != nil {
			n.SessionChanged(id)
		}
		jsonResp(w, http.StatusOK, toSessionResponse(sess))

	case http.MethodDelete:
		if err := h.store.DeleteSession(id); err != nil {
			storeErr(w, err, "session")
			return
		}
		h.Forget(id)
		if n := h.notifier; n != nil {
			n.SessionClosed(id)
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Forget drops the cached metrics and alerts of a removed session.
func (h *Handler) Forget(id string) {
	h.mu.Lock()
	delete(h.metrics, id)
	h.mu.Unlock()
	h.alerts.Forget(id)
}

// sessionAnalysis returns GET /api/v1/sessions/{id}/analysis.
func (h *Handler) sessionAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sa, err := h.Analyze(r.PathValue("id"))
	if err != nil {
		analysisErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, sa)
}

// orders returns GET /api/v1/sessions/{id}/orders: the filtered rows,
// searched by order ID and sorted descending.
// Query parameters: search, sort, limit.
func (h *Handler) orders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	key, err := analysis.ParseSortKey(q.Get("sort"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	sa, err := h.Analyze(r.PathValue("id"))
	if err != nil {
		analysisErr(w, err)
		return
	}
	rows := analysis.DetailView(sa.Result.Filtered, analysis.DetailQuery{Search: q.Get("search"), SortBy: key})
	resp := OrdersResponse{Total: len(rows), Orders: rows}
	if limit > 0 && len(rows) > limit {
		resp.Orders = rows[:limit]
	}
	jsonResp(w, http.StatusOK, resp)
}

// exportTable returns GET /api/v1/sessions/{id}/export/{table} as delimited text.
// Query parameters: delimiter.
func (h *Handler) exportTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	delim, err := parseDelimiter(r.URL.Query().Get("delimiter"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("table")
	known := false
	for _, n := range export.Names {
		known = known || n == name
	}
	if !known {
		jsonErr(w, http.StatusNotFound, fmt.Sprintf("unknown table %q", name))
		return
	}

	sa, err := h.Analyze(r.PathValue("id"))
	if err != nil {
		analysisErr(w, err)
		return
	}
	t, err := export.Build(sa.Result, name)
	if err != nil {
		analysisErr(w, err)
		return
	}

	filename := filepath.Base(export.TimestampedFilename("", name, h.opts.Now()))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, t, delim); err != nil {
		slog.Warn("api: export write failed", "table", name, "err", err)
	}
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// --- helpers ----------------------------------------------------------------

// params validates client-supplied session parameters.
func (h *Handler) params(pred *compute.Predicate, threshold int) (store.Params, error) {
	if threshold == 0 {
		threshold = h.opts.DefaultChurnThreshold
	}
	if threshold < churn.MinThreshold || threshold > churn.MaxThreshold {
		return store.Params{}, fmt.Errorf("churn_threshold %d is out of range [%d, %d]",
			threshold, churn.MinThreshold, churn.MaxThreshold)
	}
	if pred != nil && pred.DaysStuckMin > pred.DaysStuckMax {
		return store.Params{}, fmt.Errorf("predicate: days_stuck_min %d exceeds days_stuck_max %d",
			pred.DaysStuckMin, pred.DaysStuckMax)
	}
	return store.Params{Predicate: pred, ChurnThreshold: threshold}, nil
}

// parseDelimiter accepts a single character or "tab". Empty means ','.
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == '"' || r == '\n' || r == '\r' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}

func storeErr(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, what+" not found")
		return
	}
	jsonErr(w, http.StatusInternalServerError, err.Error())
}

func analysisErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "session not found")
	case errors.Is(err, analysis.ErrNoExtendedSchema):
		jsonErr(w, http.StatusUnprocessableEntity,
			"dataset has no account history columns; churn tables are unavailable")
	case errors.Is(err, churn.ErrThresholdOutOfRange):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: analysis failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toDatasetResponse(d store.Dataset) DatasetResponse {
	rows := compute.DeriveAll(d.Table, d.CreatedAt)
	resp := DatasetResponse{
		ID:        d.ID,
		Name:      d.Name,
		CreatedAt: d.CreatedAt,
		Records:   len(d.Table.Records),
		Schema:    d.Table.Schema,
		Verticals: compute.Verticals(rows),
	}
	if d.Table.Schema.HasStatus {
		resp.Statuses = compute.Statuses(rows)
	}
	return resp
}

func toSessionResponse(s store.Session) SessionResponse {
	return SessionResponse{
		ID:             s.ID,
		DatasetID:      s.DatasetID,
		Predicate:      s.Params.Predicate,
		ChurnThreshold: s.Params.ChurnThreshold,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		LastAccess:     s.LastAccess,
	}
}
