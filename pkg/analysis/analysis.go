package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/cohort"
	"github.com/stuckorders/stuckorders/pkg/compute"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// ErrNoExtendedSchema is returned when a churn result is requested from a
// table without the account-lifetime columns.
var ErrNoExtendedSchema = errors.New("analysis: extended schema not available")

// Params are the runtime parameters of one analysis.
type Params struct {
	// Now is the evaluation instant. Zero means time.Now().UTC().
	Now time.Time

	// Predicate filters the derived table. Nil selects every observed value.
	Predicate *compute.Predicate

	// ChurnThreshold in days. Zero means churn.DefaultThreshold.
	ChurnThreshold int
}

// Result holds every table and figure computed by one Run.
type Result struct {
	EvaluatedAt    time.Time         `json:"evaluated_at"`
	Schema         types.Schema      `json:"schema"`
	Predicate      compute.Predicate `json:"predicate"` // effective predicate
	ChurnThreshold int               `json:"churn_threshold"`

	// Overview covers the whole table, before filtering.
	Overview Overview `json:"overview"`

	// Filtered is the derived table after filtering, in input order.
	Filtered []types.DerivedRecord `json:"-"`

	FilteredOrders int                      `json:"filtered_orders"`
	FilteredUsers  int                      `json:"filtered_users"`
	Verticals      []VerticalStats          `json:"verticals"`
	StatusCounts   []StatusCount            `json:"status_counts,omitempty"` // nil without status column
	TopUsers       []UserCount              `json:"top_users"`
	CreatedDaily   []TimelinePoint          `json:"created_daily"`
	TravelEndDaily []TimelinePoint          `json:"travel_end_daily"`
	Cohorts        []types.MonthlyCohortRow `json:"cohorts"`
	CohortSummary  *cohort.Summary          `json:"cohort_summary"` // nil when there is no data
	Churn          *churn.Report            `json:"churn,omitempty"`
	Insights       Insights                 `json:"insights"`
	Hints          []Hint                   `json:"hints"`
}

// ChurnReport returns the churn report, or ErrNoExtendedSchema when the
// table has no account-lifetime columns.
func (r *Result) ChurnReport() (*churn.Report, error) {
	if r.Churn == nil {
		return nil, ErrNoExtendedSchema
	}
	return r.Churn, nil
}

// Run analyses t under p. It fails only on invalid parameters.
func Run(t *types.Table, p Params) (*Result, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	threshold := p.ChurnThreshold
	if threshold == 0 {
		threshold = churn.DefaultThreshold
	}
	if threshold < churn.MinThreshold || threshold > churn.MaxThreshold {
		return nil, fmt.Errorf("analysis: %w: %d", churn.ErrThresholdOutOfRange, threshold)
	}

	derived := compute.DeriveAll(t, now)

	var pred compute.Predicate
	if p.Predicate != nil {
		pred = p.Predicate.Clone()
	} else {
		pred = compute.DefaultPredicate(derived, t.Schema)
	}
	filtered := compute.Filter(derived, pred, t.Schema)

	res := &Result{
		EvaluatedAt:    now,
		Schema:         t.Schema,
		Predicate:      pred,
		ChurnThreshold: threshold,
		Overview:       overview(derived),
		Filtered:       filtered,
		FilteredOrders: len(filtered),
		FilteredUsers:  distinctAccounts(filtered),
		Verticals:      verticalStats(filtered),
		TopUsers:       topUsers(filtered, TopUsersLimit),
		CreatedDaily:   dailyTimeline(filtered, func(r *types.DerivedRecord) time.Time { return r.OrderCreated }),
		TravelEndDaily: dailyTimeline(filtered, func(r *types.DerivedRecord) time.Time { return r.TravelEnd }),
		Cohorts:        cohort.Aggregate(filtered),
	}
	if t.Schema.HasStatus {
		res.StatusCounts = statusCounts(filtered)
	}
	if s, err := cohort.Summarize(res.Cohorts); err == nil {
		res.CohortSummary = &s
	}
	if t.Schema.HasExtended {
		rep, err := churn.Analyze(filtered, threshold)
		if err != nil {
			return nil, fmt.Errorf("analysis: churn: %w", err)
		}
		res.Churn = rep
	}
	res.Insights = insights(filtered)
	res.Hints = hints(res)
	return res, nil
}

// ObservedPredicate returns the predicate selecting every value observed in
// t as of now. Callers overlay partial user filters on it.
func ObservedPredicate(t *types.Table, now time.Time) compute.Predicate {
	return compute.DefaultPredicate(compute.DeriveAll(t, now), t.Schema)
}
