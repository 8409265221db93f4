// Package cohort rolls the filtered stuck-order table up into the monthly
// user-impact series.
//
// An account belongs to the cohort of the calendar month (UTC) holding its
// earliest travel_end_ts. Aggregate outer-joins the per-cohort new-user
// counts with the per-month record counts, so a month with stuck orders but
// no newly affected account still appears (and vice versa).
//
// Summarize answers the dashboard questions over a series: peak month,
// averages, acceleration counts and the recent trend. An empty series is the
// "no data" condition and returns ErrNoData.
package cohort
