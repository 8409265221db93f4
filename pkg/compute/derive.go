package compute

import (
	"time"

	"github.com/stuckorders/stuckorders/pkg/types"
)

const day = 24 * time.Hour

// DaysBetween returns the whole days from `from` to `to`, rounded toward
// negative infinity.
func DaysBetween(from, to time.Time) int {
	d := to.Sub(from)
	days := d / day
	if d%day < 0 {
		days--
	}
	return int(days)
}

// Derive computes the derived fields of rec as of now.
// DaysSinceLastOrder is only set when schema.HasExtended is true.
func Derive(rec types.OrderRecord, schema types.Schema, now time.Time) types.DerivedRecord {
	out := types.DerivedRecord{
		OrderRecord:       rec,
		DaysStuck:         DaysBetween(rec.TravelEnd, now),
		OrderToTravelDays: DaysBetween(rec.OrderCreated, rec.TravelStart),
	}
	if schema.HasExtended {
		out.DaysSinceLastOrder = DaysBetween(rec.AccountLastOrder, now)
	}
	return out
}

// DeriveAll derives every record of t as of now. t is not modified.
func DeriveAll(t *types.Table, now time.Time) []types.DerivedRecord {
	out := make([]types.DerivedRecord, len(t.Records))
	for i, rec := range t.Records {
		out[i] = Derive(rec, t.Schema, now)
	}
	return out
}
