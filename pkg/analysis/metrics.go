package analysis

// Metrics flattens the result into named values. A value that is undefined
// for this result (no data, no churn stage, undefined statistic) is absent
// rather than zero.
func (r *Result) Metrics() map[string]float64 {
	m := map[string]float64{
		"orders_total":    float64(r.Overview.Orders),
		"users_total":     float64(r.Overview.Users),
		"verticals_total": float64(r.Overview.Verticals),
		"filtered_orders": float64(r.FilteredOrders),
		"filtered_users":  float64(r.FilteredUsers),
		"cohort_months":   float64(len(r.Cohorts)),
		"churn_threshold": float64(r.ChurnThreshold),
	}
	if r.Overview.Orders > 0 {
		m["avg_days_stuck"] = r.Overview.AvgDaysStuck
	}
	if in := r.Insights; in.LongStuck != nil {
		m["long_stuck_orders"] = float64(in.LongStuck.Orders)
		m["long_stuck_pct"] = in.LongStuck.Pct
		m["max_days_stuck"] = float64(in.LongestStuck.DaysStuck)
		m["top_vertical_pct"] = in.TopVertical.Pct
	}
	if s := r.CohortSummary; s != nil {
		m["peak_new_users"] = float64(s.PeakNewUsers)
		m["avg_new_users_per_month"] = s.AvgNewUsersPerMonth
		if s.Trend != nil {
			m["cohort_trend"] = *s.Trend
		}
	}
	if n := len(r.Cohorts); n > 0 && r.Cohorts[n-1].MoMGrowth != nil {
		m["latest_mom_growth"] = *r.Cohorts[n-1].MoMGrowth
	}
	if c := r.Churn; c != nil {
		m["affected_users"] = float64(c.Overview.TotalUsers)
		m["churned_users"] = float64(c.Overview.ChurnedUsers)
		m["active_users"] = float64(c.Overview.ActiveUsers)
		m["churn_rate"] = c.Overview.ChurnRate
		m["delayed_finish_users"] = float64(c.DelayedFinishUsers)
		if c.Correlation.Coefficient != nil {
			m["churn_correlation"] = *c.Correlation.Coefficient
		}
		if c.TimeToChurn != nil {
			m["time_to_churn_median_days"] = c.TimeToChurn.MedianDays
			m["stopped_within_week_pct"] = c.TimeToChurn.WithinWindowPct
		}
	}
	return m
}
