package churn

import (
	"sort"

	"github.com/stuckorders/stuckorders/pkg/compute"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// Category maps a stuck-order count to its bucket: (0,1], (1,2], (2,5],
// (5,inf). Counts below 1 have no bucket.
func Category(count int) (types.StuckOrderCategory, bool) {
	switch {
	case count <= 0:
		return "", false
	case count == 1:
		return types.CategoryOne, true
	case count == 2:
		return types.CategoryTwo, true
	case count <= 5:
		return types.CategoryThreeToFive, true
	default:
		return types.CategoryMoreThanFive, true
	}
}

// Profiles builds one profile per distinct account in rows, sorted by
// account ID. Account-lifetime fields come from the account's first row.
func Profiles(rows []types.DerivedRecord, threshold int) []types.UserChurnProfile {
	index := make(map[string]int)
	var profiles []types.UserChurnProfile
	for _, r := range rows {
		i, ok := index[r.AccountID]
		if !ok {
			index[r.AccountID] = len(profiles)
			profiles = append(profiles, types.UserChurnProfile{
				AccountID:              r.AccountID,
				FirstOrderTS:           r.AccountFirstOrder,
				LastOrderTS:            r.AccountLastOrder,
				TotalOrders:            r.AccountTotalOrders,
				FirstStuckExperienceTS: r.TravelEnd,
				DaysSinceLastOrder:     r.DaysSinceLastOrder,
			})
			i = len(profiles) - 1
		}
		p := &profiles[i]
		p.StuckOrdersCount++
		if r.TravelEnd.Before(p.FirstStuckExperienceTS) {
			p.FirstStuckExperienceTS = r.TravelEnd
		}
		if !p.HasVertical(r.OrderType) {
			p.AffectedVerticals = append(p.AffectedVerticals, r.OrderType)
		}
	}

	for i := range profiles {
		classify(&profiles[i], threshold)
	}
	sort.Slice(profiles, func(a, b int) bool {
		return profiles[a].AccountID < profiles[b].AccountID
	})
	return profiles
}

func classify(p *types.UserChurnProfile, threshold int) {
	p.DaysFirstStuckToLastOrder = compute.DaysBetween(p.FirstStuckExperienceTS, p.LastOrderTS)

	p.UserStatus = types.StatusActive
	if p.DaysSinceLastOrder >= threshold {
		p.UserStatus = types.StatusChurned
	}

	p.StuckTiming = types.TimingBeforeOrDuring
	if p.DaysFirstStuckToLastOrder < 0 {
		p.StuckTiming = types.TimingAfterLastOrder
	}

	// Every profile has at least one stuck order.
	p.StuckOrderCategory, _ = Category(p.StuckOrdersCount)
}
