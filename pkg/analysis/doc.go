// Package analysis runs the full stuck-orders pipeline.
//
// Run is a pure function of the ingested table, the filter predicate, the
// churn threshold and the evaluation instant:
//
//	table -> derive -> filter -> {breakdowns, cohorts, churn} -> Result
//
// Nothing is cached between runs; callers re-run on every parameter change.
// The table is shared read-only, every derived slice in a Result belongs to
// that Result alone.
//
// The churn stage only runs when the table carries the extended schema;
// otherwise Result.Churn is nil and Result.ChurnReport returns
// ErrNoExtendedSchema. An empty filtered set is reported as "no data"
// (nil cohort summary and insights) rather than as an error.
//
// Result.Metrics flattens the headline numbers into a map used by alert
// rules and the metrics endpoint. Undefined values are left out of the map.
package analysis
