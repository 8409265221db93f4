package analysis

import (
	"fmt"
	"sort"

	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// LongStuckDays is the days_stuck above which an order counts as long stuck.
const LongStuckDays = 30

// Insights are the headline facts about the filtered table. Each is nil when
// the filtered table is empty.
type Insights struct {
	TopVertical  *VerticalShare `json:"top_vertical"`
	LongestStuck *StuckOrder    `json:"longest_stuck"`
	LongStuck    *Share         `json:"long_stuck"` // days_stuck > LongStuckDays
}

// VerticalShare is a vertical's share of the filtered orders.
type VerticalShare struct {
	Vertical string  `json:"vertical"`
	Orders   int     `json:"orders"`
	Pct      float64 `json:"pct"`
}

// StuckOrder identifies a single order.
type StuckOrder struct {
	OrderID   string `json:"order_id"`
	Vertical  string `json:"vertical"`
	DaysStuck int    `json:"days_stuck"`
}

// Share is a count and its percentage of the filtered orders.
type Share struct {
	Orders int     `json:"orders"`
	Pct    float64 `json:"pct"`
}

func insights(rows []types.DerivedRecord) Insights {
	if len(rows) == 0 {
		return Insights{}
	}

	// verticalStats is already ordered by order count.
	top := verticalStats(rows)[0]
	in := Insights{
		TopVertical: &VerticalShare{
			Vertical: top.Vertical,
			Orders:   top.Orders,
			Pct:      churn.Rate(top.Orders, len(rows)),
		},
	}

	longest := 0
	long := 0
	for i, r := range rows {
		if r.DaysStuck > rows[longest].DaysStuck {
			longest = i
		}
		if r.DaysStuck > LongStuckDays {
			long++
		}
	}
	in.LongestStuck = &StuckOrder{
		OrderID:   rows[longest].OrderID,
		Vertical:  rows[longest].OrderType,
		DaysStuck: rows[longest].DaysStuck,
	}
	in.LongStuck = &Share{Orders: long, Pct: churn.Rate(long, len(rows))}
	return in
}

// Hint is one human-readable finding about an analysis.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number associated with the hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// hints derives the findings for res, critical first.
func hints(res *Result) []Hint {
	out := []Hint{}

	if !res.Schema.HasStatus {
		out = append(out, Hint{
			Key:    "no_status_column",
			Level:  "info",
			Title:  "No status column",
			Detail: "The table has no order_status_name column, so status filtering and the status breakdown are skipped.",
		})
	}
	if !res.Schema.HasExtended {
		out = append(out, Hint{
			Key:   "no_account_history",
			Level: "info",
			Title: "Churn analysis skipped",
			Detail: "The account-lifetime columns (first order, last order, total orders) are missing, " +
				"so users cannot be classified as churned or active.",
		})
	}

	if res.FilteredOrders == 0 {
		out = append(out, Hint{
			Key:    "no_data",
			Level:  "info",
			Title:  "No data",
			Detail: "No order matches the current filters. Widen the vertical, status or days-stuck selection.",
		})
		return sortHints(out)
	}

	if ls := res.Insights.LongStuck; ls != nil && ls.Orders > 0 {
		v := ls.Pct
		level := "info"
		switch {
		case v >= 50:
			level = "critical"
		case v >= 10:
			level = "warning"
		}
		out = append(out, Hint{
			Key:   "long_stuck",
			Level: level,
			Title: fmt.Sprintf("%.1f%% stuck over %d days", v, LongStuckDays),
			Detail: fmt.Sprintf("%d of %d filtered orders ended their travel more than %d days ago and still have not finished.",
				ls.Orders, res.FilteredOrders, LongStuckDays),
			Value: &v,
		})
	}

	if s := res.CohortSummary; s != nil && s.Trend != nil {
		v := *s.Trend
		h := Hint{Key: "cohort_trend", Level: "ok", Value: &v}
		if v > 0 {
			h.Level = "warning"
			h.Title = fmt.Sprintf("New users up %.1f%%", v)
			h.Detail = fmt.Sprintf("The last six months averaged %.1f%% more newly affected users than the months before. The problem is spreading.", v)
		} else {
			h.Title = fmt.Sprintf("New users %.1f%%", v)
			h.Detail = "The last six months did not add more newly affected users than the months before."
		}
		out = append(out, h)
	}

	if rep := res.Churn; rep != nil {
		out = append(out, churnHints(rep)...)
	}
	return sortHints(out)
}

func churnHints(rep *churn.Report) []Hint {
	var out []Hint
	if rep.Overview.TotalUsers == 0 {
		return out
	}

	v := rep.Overview.ChurnRate
	level := "ok"
	switch {
	case v >= 50:
		level = "critical"
	case v >= 25:
		level = "warning"
	}
	out = append(out, Hint{
		Key:   "churn_rate",
		Level: level,
		Title: fmt.Sprintf("%.1f%% churned", v),
		Detail: fmt.Sprintf("%d of %d affected users have not ordered for at least %d days.",
			rep.Overview.ChurnedUsers, rep.Overview.TotalUsers, rep.Threshold),
		Value: &v,
	})

	if rep.Correlation.Coefficient == nil {
		out = append(out, Hint{
			Key:    "correlation_undefined",
			Level:  "info",
			Title:  "Correlation undefined",
			Detail: "There are too few users, or no variation in stuck-order counts or churn, to compute a correlation.",
		})
	} else {
		c := *rep.Correlation.Coefficient
		out = append(out, Hint{
			Key:    "correlation",
			Level:  "info",
			Title:  fmt.Sprintf("%s correlation", rep.Correlation.Strength),
			Detail: fmt.Sprintf("Stuck-order count and churn correlate at %.3f. Correlation does not establish that stuck orders caused the churn.", c),
			Value:  &c,
		})
	}

	if n := rep.DelayedFinishUsers; n > 0 {
		f := float64(n)
		out = append(out, Hint{
			Key:   "delayed_finish",
			Level: "info",
			Title: fmt.Sprintf("%d recently active", n),
			Detail: fmt.Sprintf("%d users ordered within the last %d days. Finish events can lag by up to a week, "+
				"so some of their orders may still complete.", n, churn.QuickWindowDays),
			Value: &f,
		})
	}
	return out
}

func sortHints(h []Hint) []Hint {
	sort.SliceStable(h, func(i, j int) bool { return levelRank[h[i].Level] < levelRank[h[j].Level] })
	return h
}
