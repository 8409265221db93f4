// Package churn links stuck-order exposure to accounts that stopped ordering.
//
// It needs the extended (account-lifetime) schema; callers gate it on
// types.Schema.HasExtended. Analyze builds one UserChurnProfile per account
// of the filtered table and reduces the profiles to:
//
//   - the churned/active overview and the stuck-timing split
//   - the churn table per affected vertical (an account counts once in every
//     vertical it touched)
//   - time-to-churn statistics over accounts whose first stuck order came
//     before or during their active period
//   - the Pearson correlation between stuck-order count and churn
//   - the churn table per stuck-order bucket, the churned-vs-active segment
//     comparison and the count of possibly delayed finishes
//
// Rates are percentages in [0, 100] and are 0 for an empty denominator.
// Statistics that are undefined for the population (correlation, time to
// churn) are nil rather than 0.
package churn
