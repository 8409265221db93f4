package types

import "time"

// Input column names.
const (
	ColOrderID      = "order_id"
	ColAccountID    = "account_id"
	ColOrderType    = "order_type_name"
	ColOrderStatus  = "order_status_name"
	ColOrderCreated = "order_created_timestamp"
	ColTravelStart  = "travel_start_ts"
	ColTravelEnd    = "travel_end_ts"

	ColAccountFirstOrder  = "account_first_order_created_timestamp"
	ColAccountLastOrder   = "account_last_order_created_timestamp"
	ColAccountTotalOrders = "account_total_orders_during_analysis_period"
)

// Derived column names.
const (
	ColDaysStuck          = "days_stuck"
	ColOrderToTravelDays  = "order_to_travel_days"
	ColDaysSinceLastOrder = "days_since_last_order"
)

// RequiredColumns must all be present in an input table.
var RequiredColumns = []string{
	ColOrderCreated,
	ColOrderID,
	ColAccountID,
	ColOrderType,
	ColTravelStart,
	ColTravelEnd,
}

// ExtendedColumns is the account-lifetime group. It is present or absent as a unit.
var ExtendedColumns = []string{
	ColAccountFirstOrder,
	ColAccountLastOrder,
	ColAccountTotalOrders,
}

// BaseTimestampColumns are parsed for every table.
var BaseTimestampColumns = []string{ColOrderCreated, ColTravelStart, ColTravelEnd}

// ExtendedTimestampColumns are parsed only when Schema.HasExtended is set.
var ExtendedTimestampColumns = []string{ColAccountFirstOrder, ColAccountLastOrder}

// Schema describes which optional columns an input table carries.
type Schema struct {
	// HasStatus is set when order_status_name is present. Status filtering and
	// the status breakdown are skipped otherwise.
	HasStatus bool `json:"has_status"`

	// HasExtended is set when the whole account-lifetime group is present.
	// The churn/correlation stage runs only when it is set.
	HasExtended bool `json:"has_extended"`

	// TimestampColumns lists the columns parsed as timestamps, in table order.
	TimestampColumns []string `json:"timestamp_columns"`
}

// OrderRecord is one stuck order as read from the input table.
// All timestamps are in UTC.
type OrderRecord struct {
	OrderID      string    `json:"order_id"`
	AccountID    string    `json:"account_id"`
	OrderType    string    `json:"order_type_name"`             // vertical
	OrderStatus  string    `json:"order_status_name,omitempty"` // empty when Schema.HasStatus is false
	OrderCreated time.Time `json:"order_created_timestamp"`
	TravelStart  time.Time `json:"travel_start_ts"`
	TravelEnd    time.Time `json:"travel_end_ts"`

	// Extended schema fields. Zero when Schema.HasExtended is false.
	AccountFirstOrder  time.Time `json:"account_first_order_created_timestamp,omitempty"`
	AccountLastOrder   time.Time `json:"account_last_order_created_timestamp,omitempty"`
	AccountTotalOrders int       `json:"account_total_orders_during_analysis_period,omitempty"`
}

// Table is an ingested input table. It is shared read-only between analyses;
// no stage may modify Records in place.
type Table struct {
	Schema  Schema
	Records []OrderRecord
}

// DerivedRecord is an OrderRecord with its per-record metrics.
type DerivedRecord struct {
	OrderRecord

	// DaysStuck is the whole days from TravelEnd to the evaluation instant.
	// Negative when the travel has not ended yet.
	DaysStuck int `json:"days_stuck"`

	// OrderToTravelDays is the whole days from OrderCreated to TravelStart.
	// May be negative.
	OrderToTravelDays int `json:"order_to_travel_days"`

	// DaysSinceLastOrder is the whole days from AccountLastOrder to the
	// evaluation instant. Only meaningful when Schema.HasExtended is set.
	DaysSinceLastOrder int `json:"days_since_last_order,omitempty"`
}

// MonthlyCohortRow is one calendar month of the user impact series.
type MonthlyCohortRow struct {
	YearMonth         string   `json:"year_month"` // YYYY-MM
	NewUsersImpacted  int      `json:"new_users_impacted"`
	CumulativeUsers   int      `json:"cumulative_users"`
	ExistingUsers     int      `json:"existing_users"`
	TotalStuckOrders  int      `json:"total_stuck_orders"`
	RepeatOrders      int      `json:"repeat_orders"`       // TotalStuckOrders - NewUsersImpacted
	AvgOrdersPerUser  float64  `json:"avg_orders_per_user"` // TotalStuckOrders / NewUsersImpacted, 0 without new users
	NewUserPercentage float64  `json:"new_user_percentage"`
	MoMGrowth         *float64 `json:"mom_growth"` // nil for the first month or after a zero month
}

// UserStatus classifies an affected account against the churn threshold.
type UserStatus string

const (
	StatusActive  UserStatus = "Active"
	StatusChurned UserStatus = "Churned"
)

// StuckTiming places an account's first stuck order relative to its last order.
type StuckTiming string

const (
	TimingAfterLastOrder StuckTiming = "After Last Order"
	TimingBeforeOrDuring StuckTiming = "Before/During Active Period"
)

// StuckOrderCategory buckets an account by its number of stuck orders.
type StuckOrderCategory string

const (
	CategoryOne          StuckOrderCategory = "1 stuck order"
	CategoryTwo          StuckOrderCategory = "2 stuck orders"
	CategoryThreeToFive  StuckOrderCategory = "3-5 stuck orders"
	CategoryMoreThanFive StuckOrderCategory = "5+ stuck orders"
)

// Categories lists every StuckOrderCategory in ascending order.
var Categories = []StuckOrderCategory{
	CategoryOne,
	CategoryTwo,
	CategoryThreeToFive,
	CategoryMoreThanFive,
}

// UserChurnProfile is one distinct account of the filtered table.
type UserChurnProfile struct {
	AccountID              string    `json:"account_id"`
	StuckOrdersCount       int       `json:"stuck_orders_count"`
	FirstOrderTS           time.Time `json:"first_order_ts"`
	LastOrderTS            time.Time `json:"last_order_ts"`
	TotalOrders            int       `json:"total_orders"`
	FirstStuckExperienceTS time.Time `json:"first_stuck_experience_ts"`
	DaysSinceLastOrder     int       `json:"days_since_last_order"`

	// AffectedVerticals holds the distinct verticals in order of first appearance.
	AffectedVerticals []string `json:"affected_verticals"`

	DaysFirstStuckToLastOrder int                `json:"days_first_stuck_to_last_order"`
	UserStatus                UserStatus         `json:"user_status"`
	StuckTiming               StuckTiming        `json:"stuck_timing"`
	StuckOrderCategory        StuckOrderCategory `json:"stuck_order_category"`
}

// HasVertical reports whether v is one of the profile's affected verticals.
func (p *UserChurnProfile) HasVertical(v string) bool {
	for _, av := range p.AffectedVerticals {
		if av == v {
			return true
		}
	}
	return false
}
