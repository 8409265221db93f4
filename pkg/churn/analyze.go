package churn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// Threshold bounds and default, in days since the last order.
const (
	MinThreshold     = 7
	MaxThreshold     = 90
	DefaultThreshold = 30
)

// QuickWindowDays is the fixed window used both for "stopped soon after the
// first stuck order" and for "last order recent enough that finish events may
// still be in flight".
const QuickWindowDays = 7

// ErrThresholdOutOfRange is returned for a churn threshold outside
// [MinThreshold, MaxThreshold].
var ErrThresholdOutOfRange = errors.New("churn: threshold out of range")

// Overview counts churned and active accounts.
type Overview struct {
	TotalUsers   int     `json:"total_users"`
	ChurnedUsers int     `json:"churned_users"`
	ActiveUsers  int     `json:"active_users"`
	ChurnRate    float64 `json:"churn_rate"`
}

// TimingCounts splits accounts by StuckTiming.
type TimingCounts struct {
	AfterLastOrder int `json:"after_last_order"`
	BeforeOrDuring int `json:"before_or_during"`
}

// VerticalChurn is one row of the per-vertical churn table.
type VerticalChurn struct {
	Vertical     string  `json:"vertical"`
	TotalUsers   int     `json:"total_users"`
	ChurnedUsers int     `json:"churned_users"`
	ActiveUsers  int     `json:"active_users"`
	ChurnRate    float64 `json:"churn_rate"`
}

// CategoryChurn is one row of the per-bucket churn table.
type CategoryChurn struct {
	Category     types.StuckOrderCategory `json:"category"`
	TotalUsers   int                      `json:"total_users"`
	ChurnedUsers int                      `json:"churned_users"`
	ChurnRate    float64                  `json:"churn_rate"`
}

// TimeToChurn describes days_first_stuck_to_last_order over accounts whose
// first stuck order came before or during their active period.
type TimeToChurn struct {
	Users           int     `json:"users"`
	MedianDays      float64 `json:"median_days"`
	MeanDays        float64 `json:"mean_days"`
	WithinWindow    int     `json:"within_window"`     // value <= QuickWindowDays
	WithinWindowPct float64 `json:"within_window_pct"` // of Users
}

// Correlation between stuck-order count and the churned indicator.
type Correlation struct {
	Coefficient *float64 `json:"coefficient"` // nil when undefined
	Strength    Strength `json:"strength"`
}

// Segment summarises the accounts of one UserStatus.
type Segment struct {
	Status                 types.UserStatus `json:"status"`
	Users                  int              `json:"users"`
	MeanStuckOrders        float64          `json:"mean_stuck_orders"`
	MedianStuckOrders      float64          `json:"median_stuck_orders"`
	MeanTotalOrders        float64          `json:"mean_total_orders"`
	MedianTotalOrders      float64          `json:"median_total_orders"`
	MeanDaysSinceLastOrder float64          `json:"mean_days_since_last_order"`
}

// Report is the full churn/correlation analysis of a filtered table.
type Report struct {
	Threshold   int                      `json:"threshold"`
	Profiles    []types.UserChurnProfile `json:"profiles"`
	Overview    Overview                 `json:"overview"`
	Timing      TimingCounts             `json:"timing"`
	Verticals   []VerticalChurn          `json:"verticals"`
	TimeToChurn *TimeToChurn             `json:"time_to_churn"` // nil without before/during accounts
	Correlation Correlation              `json:"correlation"`
	StuckCounts []CategoryChurn          `json:"stuck_counts"`
	Segments    []Segment                `json:"segments"` // only statuses that occur

	// DelayedFinishUsers counts accounts whose last order is at most
	// QuickWindowDays old; their stuck orders may still finish.
	DelayedFinishUsers int `json:"delayed_finish_users"`
}

// Analyze runs the churn analysis over rows, which must carry the extended
// schema fields. An empty rows slice yields an empty report.
func Analyze(rows []types.DerivedRecord, threshold int) (*Report, error) {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return nil, fmt.Errorf("churn: %w: %d not in [%d, %d]",
			ErrThresholdOutOfRange, threshold, MinThreshold, MaxThreshold)
	}

	profiles := Profiles(rows, threshold)
	rep := &Report{
		Threshold:   threshold,
		Profiles:    profiles,
		Verticals:   verticalChurn(rows, profiles),
		StuckCounts: stuckCountChurn(profiles),
		Segments:    segments(profiles),
	}
	if rep.Profiles == nil {
		rep.Profiles = []types.UserChurnProfile{}
	}

	var counts, churned, toLast []float64
	for i := range profiles {
		p := &profiles[i]
		rep.Overview.TotalUsers++
		isChurned := 0.0
		if p.UserStatus == types.StatusChurned {
			rep.Overview.ChurnedUsers++
			isChurned = 1
		}
		if p.StuckTiming == types.TimingAfterLastOrder {
			rep.Timing.AfterLastOrder++
		} else {
			rep.Timing.BeforeOrDuring++
			toLast = append(toLast, float64(p.DaysFirstStuckToLastOrder))
		}
		if p.DaysSinceLastOrder <= QuickWindowDays {
			rep.DelayedFinishUsers++
		}
		counts = append(counts, float64(p.StuckOrdersCount))
		churned = append(churned, isChurned)
	}
	rep.Overview.ActiveUsers = rep.Overview.TotalUsers - rep.Overview.ChurnedUsers
	rep.Overview.ChurnRate = Rate(rep.Overview.ChurnedUsers, rep.Overview.TotalUsers)

	rep.TimeToChurn = timeToChurn(toLast)

	r := Pearson(counts, churned)
	rep.Correlation = Correlation{Coefficient: r, Strength: StrengthOf(r)}
	return rep, nil
}

// verticalChurn builds one row per vertical present in rows, sorted by churn
// rate descending, then vertical name.
func verticalChurn(rows []types.DerivedRecord, profiles []types.UserChurnProfile) []VerticalChurn {
	seen := make(map[string]bool)
	out := []VerticalChurn{}
	for _, r := range rows {
		if seen[r.OrderType] {
			continue
		}
		seen[r.OrderType] = true

		vc := VerticalChurn{Vertical: r.OrderType}
		for i := range profiles {
			if !profiles[i].HasVertical(r.OrderType) {
				continue
			}
			vc.TotalUsers++
			if profiles[i].UserStatus == types.StatusChurned {
				vc.ChurnedUsers++
			}
		}
		vc.ActiveUsers = vc.TotalUsers - vc.ChurnedUsers
		vc.ChurnRate = Rate(vc.ChurnedUsers, vc.TotalUsers)
		out = append(out, vc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChurnRate != out[j].ChurnRate {
			return out[i].ChurnRate > out[j].ChurnRate
		}
		return out[i].Vertical < out[j].Vertical
	})
	return out
}

// stuckCountChurn always returns all four buckets in ascending order.
func stuckCountChurn(profiles []types.UserChurnProfile) []CategoryChurn {
	out := make([]CategoryChurn, len(types.Categories))
	pos := make(map[types.StuckOrderCategory]int, len(types.Categories))
	for i, c := range types.Categories {
		out[i].Category = c
		pos[c] = i
	}
	for i := range profiles {
		row := &out[pos[profiles[i].StuckOrderCategory]]
		row.TotalUsers++
		if profiles[i].UserStatus == types.StatusChurned {
			row.ChurnedUsers++
		}
	}
	for i := range out {
		out[i].ChurnRate = Rate(out[i].ChurnedUsers, out[i].TotalUsers)
	}
	return out
}

func timeToChurn(days []float64) *TimeToChurn {
	if len(days) == 0 {
		return nil
	}
	t := &TimeToChurn{
		Users:      len(days),
		MedianDays: Median(days),
		MeanDays:   Mean(days),
	}
	for _, d := range days {
		if d <= QuickWindowDays {
			t.WithinWindow++
		}
	}
	t.WithinWindowPct = Rate(t.WithinWindow, t.Users)
	return t
}

func segments(profiles []types.UserChurnProfile) []Segment {
	out := []Segment{}
	for _, status := range []types.UserStatus{types.StatusActive, types.StatusChurned} {
		var stuck, total, since []float64
		for i := range profiles {
			p := &profiles[i]
			if p.UserStatus != status {
				continue
			}
			stuck = append(stuck, float64(p.StuckOrdersCount))
			total = append(total, float64(p.TotalOrders))
			since = append(since, float64(p.DaysSinceLastOrder))
		}
		if len(stuck) == 0 {
			continue
		}
		out = append(out, Segment{
			Status:                 status,
			Users:                  len(stuck),
			MeanStuckOrders:        Mean(stuck),
			MedianStuckOrders:      Median(stuck),
			MeanTotalOrders:        Mean(total),
			MedianTotalOrders:      Median(total),
			MeanDaysSinceLastOrder: Mean(since),
		})
	}
	return out
}
