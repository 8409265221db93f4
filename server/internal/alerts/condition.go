package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a parsed "<metric> <op> <value>" rule expression, e.g.
//
//	churn_rate > 40
//	long_stuck_pct >= 25
//	avg_days_stuck > 14
//	cohort_trend < -10
//	churn_correlation >= 0.7
type Condition struct {
	Metric    string
	Op        string
	Threshold float64
}

// ParseCondition parses expr.
func ParseCondition(expr string) (Condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("alerts: condition %q: want \"<metric> <op> <value>\"", expr)
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return Condition{}, fmt.Errorf("alerts: condition %q: unknown operator %q", expr, parts[1])
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Condition{}, fmt.Errorf("alerts: condition %q: %w", expr, err)
	}
	return Condition{Metric: parts[0], Op: parts[1], Threshold: v}, nil
}

// Eval reports whether c holds for metrics, and the metric value.
// A metric absent from the map is undefined and never satisfies a condition.
func (c Condition) Eval(metrics map[string]float64) (bool, float64) {
	v, ok := metrics[c.Metric]
	if !ok {
		return false, 0
	}
	return compareFloat(v, c.Op, c.Threshold), v
}

func (c Condition) String() string {
	return c.Metric + " " + c.Op + " " + strconv.FormatFloat(c.Threshold, 'f', -1, 64)
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
