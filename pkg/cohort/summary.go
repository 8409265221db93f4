package cohort

import (
	"errors"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// ErrNoData is returned when a summary is requested over an empty series.
var ErrNoData = errors.New("cohort: no data")

// trendWindow is the number of trailing months compared against the rest.
const trendWindow = 6

// recentWindow is the number of trailing months averaged in RecentAvgNewUsers.
const recentWindow = 3

// Summary condenses a cohort series.
type Summary struct {
	PeakMonth           string  `json:"peak_month"`
	PeakNewUsers        int     `json:"peak_new_users"`
	AvgNewUsersPerMonth float64 `json:"avg_new_users_per_month"`
	RecentAvgNewUsers   float64 `json:"recent_avg_new_users"` // last 3 months
	MonthsTracked       int     `json:"months_tracked"`

	// MonthsAccelerating counts months with MoM growth > 0 and
	// MonthsDecelerating months with growth <= 0. Months with undefined
	// growth count as neither.
	MonthsAccelerating int `json:"months_accelerating"`
	MonthsDecelerating int `json:"months_decelerating"`

	// Trend is the percent change of the mean new users over the last six
	// months against the mean of the months before them (the first month
	// alone when there are exactly six). Nil with fewer than six months; 0
	// when the earlier mean is 0.
	Trend *float64 `json:"trend"`
}

// Summarize computes the Summary of series. The first month with the highest
// new-user count is the peak.
func Summarize(series []types.MonthlyCohortRow) (Summary, error) {
	if len(series) == 0 {
		return Summary{}, ErrNoData
	}

	s := Summary{MonthsTracked: len(series)}
	total := 0
	for i, row := range series {
		total += row.NewUsersImpacted
		if i == 0 || row.NewUsersImpacted > s.PeakNewUsers {
			s.PeakMonth = row.YearMonth
			s.PeakNewUsers = row.NewUsersImpacted
		}
		if row.MoMGrowth != nil {
			if *row.MoMGrowth > 0 {
				s.MonthsAccelerating++
			} else {
				s.MonthsDecelerating++
			}
		}
	}
	s.AvgNewUsersPerMonth = float64(total) / float64(len(series))
	s.RecentAvgNewUsers = meanNewUsers(series[max(0, len(series)-recentWindow):])

	if len(series) >= trendWindow {
		recent := meanNewUsers(series[len(series)-trendWindow:])
		earlier := meanNewUsers(series[:max(1, len(series)-trendWindow)])
		trend := 0.0
		if earlier > 0 {
			trend = (recent - earlier) / earlier * 100
		}
		s.Trend = &trend
	}
	return s, nil
}

func meanNewUsers(rows []types.MonthlyCohortRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	sum := 0
	for _, r := range rows {
		sum += r.NewUsersImpacted
	}
	return float64(sum) / float64(len(rows))
}
