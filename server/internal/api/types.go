package api

import (
	"time"

	"github.com/stuckorders/stuckorders/pkg/analysis"
	"github.com/stuckorders/stuckorders/pkg/compute"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Datasets     int    `json:"datasets"`
	Sessions     int    `json:"sessions"`
	AlertsFiring int    `json:"alerts_firing"`
}

// DatasetResponse describes one uploaded dataset.
type DatasetResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Records   int          `json:"records"`
	Schema    types.Schema `json:"schema"`

	// Verticals and Statuses are the observed values, for building filters.
	Verticals []string `json:"verticals"`
	Statuses  []string `json:"statuses,omitempty"`
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	DatasetID      string             `json:"dataset_id"`
	Predicate      *compute.Predicate `json:"predicate,omitempty"`
	ChurnThreshold int                `json:"churn_threshold,omitempty"`
}

// UpdateSessionRequest is the body of PUT /api/v1/sessions/{id}. A nil
// predicate resets the filter to every observed value; a zero threshold
// resets it to the server default.
type UpdateSessionRequest struct {
	Predicate      *compute.Predicate `json:"predicate"`
	ChurnThreshold int                `json:"churn_threshold"`
}

// SessionResponse describes one analysis session.
type SessionResponse struct {
	ID             string             `json:"id"`
	DatasetID      string             `json:"dataset_id"`
	Predicate      *compute.Predicate `json:"predicate"`
	ChurnThreshold int                `json:"churn_threshold"`
	Version        int                `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	LastAccess     time.Time          `json:"last_access"`
}

// SessionAnalysis is the payload for GET /api/v1/sessions/{id}/analysis and
// for WebSocket pushes.
type SessionAnalysis struct {
	Session SessionResponse    `json:"session"`
	Result  *analysis.Result   `json:"result"`
	Metrics map[string]float64 `json:"metrics"`
}

// OrdersResponse is the payload for GET /api/v1/sessions/{id}/orders.
type OrdersResponse struct {
	Total  int                   `json:"total"`
	Orders []types.DerivedRecord `json:"orders"`
}

// errorResponse is a generic JSON error body. Ingestion errors also name the
// offending cell.
type errorResponse struct {
	Error  string `json:"error"`
	Row    int    `json:"row,omitempty"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}
