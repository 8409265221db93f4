// Package types defines the shared Go types used by the analyzer CLI, the
// server and every pipeline stage. These are the canonical in-memory
// representations of the stuck-order table and the tables derived from it.
//
// Ingested data:
//   - OrderRecord: one row of the input table, timestamps normalised to UTC
//   - Schema: capability flags computed once by the schema adapter
//   - Table: the immutable ingested table (Schema + Records)
//
// Derived data:
//   - DerivedRecord: OrderRecord plus days_stuck, order_to_travel_days and
//     (extended schema only) days_since_last_order
//   - MonthlyCohortRow: one month of the new/cumulative/existing users series
//   - UserChurnProfile: one affected account with its churn classification
//
// Values that are mathematically undefined (first-month growth, correlation
// over a degenerate population) are *float64 and nil, never 0.
package types
