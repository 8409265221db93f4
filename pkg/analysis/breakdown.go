package analysis

import (
	"sort"
	"time"

	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// TopUsersLimit is the number of accounts listed in Result.TopUsers.
const TopUsersLimit = 20

// Overview summarises the unfiltered table.
type Overview struct {
	Orders       int     `json:"orders"`
	Users        int     `json:"users"`
	Verticals    int     `json:"verticals"`
	AvgDaysStuck float64 `json:"avg_days_stuck"`
	MinDaysStuck int     `json:"min_days_stuck"`
	MaxDaysStuck int     `json:"max_days_stuck"`
}

// VerticalStats is one row of the per-vertical statistics table.
type VerticalStats struct {
	Vertical        string  `json:"vertical"`
	Orders          int     `json:"orders"`
	Users           int     `json:"users"`
	MeanDaysStuck   float64 `json:"mean_days_stuck"`
	MedianDaysStuck float64 `json:"median_days_stuck"`
	MinDaysStuck    int     `json:"min_days_stuck"`
	MaxDaysStuck    int     `json:"max_days_stuck"`
}

// StatusCount is the number of orders of one vertical in one status.
type StatusCount struct {
	Vertical string `json:"vertical"`
	Status   string `json:"status"`
	Orders   int    `json:"orders"`
}

// UserCount is the number of stuck orders of one account.
type UserCount struct {
	AccountID string `json:"account_id"`
	Orders    int    `json:"orders"`
}

// TimelinePoint is the number of orders of one vertical on one UTC day.
type TimelinePoint struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Vertical string `json:"vertical"`
	Orders   int    `json:"orders"`
}

func overview(rows []types.DerivedRecord) Overview {
	o := Overview{Orders: len(rows)}
	users := make(map[string]bool)
	verticals := make(map[string]bool)
	sum := 0
	for i, r := range rows {
		users[r.AccountID] = true
		verticals[r.OrderType] = true
		sum += r.DaysStuck
		if i == 0 || r.DaysStuck < o.MinDaysStuck {
			o.MinDaysStuck = r.DaysStuck
		}
		if i == 0 || r.DaysStuck > o.MaxDaysStuck {
			o.MaxDaysStuck = r.DaysStuck
		}
	}
	o.Users = len(users)
	o.Verticals = len(verticals)
	if len(rows) > 0 {
		o.AvgDaysStuck = float64(sum) / float64(len(rows))
	}
	return o
}

func distinctAccounts(rows []types.DerivedRecord) int {
	seen := make(map[string]bool)
	for _, r := range rows {
		seen[r.AccountID] = true
	}
	return len(seen)
}

// verticalStats orders rows by order count descending, then vertical name.
func verticalStats(rows []types.DerivedRecord) []VerticalStats {
	days := make(map[string][]float64)
	users := make(map[string]map[string]bool)
	for _, r := range rows {
		days[r.OrderType] = append(days[r.OrderType], float64(r.DaysStuck))
		if users[r.OrderType] == nil {
			users[r.OrderType] = make(map[string]bool)
		}
		users[r.OrderType][r.AccountID] = true
	}

	out := make([]VerticalStats, 0, len(days))
	for v, d := range days {
		s := VerticalStats{
			Vertical:        v,
			Orders:          len(d),
			Users:           len(users[v]),
			MeanDaysStuck:   churn.Mean(d),
			MedianDaysStuck: churn.Median(d),
			MinDaysStuck:    int(d[0]),
			MaxDaysStuck:    int(d[0]),
		}
		for _, x := range d[1:] {
			s.MinDaysStuck = min(s.MinDaysStuck, int(x))
			s.MaxDaysStuck = max(s.MaxDaysStuck, int(x))
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Orders != out[j].Orders {
			return out[i].Orders > out[j].Orders
		}
		return out[i].Vertical < out[j].Vertical
	})
	return out
}

func statusCounts(rows []types.DerivedRecord) []StatusCount {
	type key struct{ vertical, status string }
	counts := make(map[key]int)
	for _, r := range rows {
		counts[key{r.OrderType, r.OrderStatus}]++
	}
	out := make([]StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, StatusCount{Vertical: k.vertical, Status: k.status, Orders: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vertical != out[j].Vertical {
			return out[i].Vertical < out[j].Vertical
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// topUsers returns the limit accounts with the most stuck orders, ties
// broken by account ID.
func topUsers(rows []types.DerivedRecord, limit int) []UserCount {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.AccountID]++
	}
	out := make([]UserCount, 0, len(counts))
	for acc, n := range counts {
		out = append(out, UserCount{AccountID: acc, Orders: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Orders != out[j].Orders {
			return out[i].Orders > out[j].Orders
		}
		return out[i].AccountID < out[j].AccountID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dailyTimeline(rows []types.DerivedRecord, ts func(*types.DerivedRecord) time.Time) []TimelinePoint {
	type key struct{ date, vertical string }
	counts := make(map[key]int)
	for i := range rows {
		day := ts(&rows[i]).UTC().Format(time.DateOnly)
		counts[key{day, rows[i].OrderType}]++
	}
	out := make([]TimelinePoint, 0, len(counts))
	for k, n := range counts {
		out = append(out, TimelinePoint{Date: k.date, Vertical: k.vertical, Orders: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Vertical < out[j].Vertical
	})
	return out
}
