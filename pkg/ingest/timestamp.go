package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrUnparseableTimestamp is returned when a value matches no recognised
// date or date-time form.
var ErrUnparseableTimestamp = errors.New("unparseable timestamp")

// offsetLayouts cover ISO forms with compact or hour-only offsets that
// dateparse does not always accept.
var offsetLayouts = []string{
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999 -07:00",
}

// ParseTimestamp parses s in any recognised form and returns it in UTC.
// Values without an offset are read as UTC. Slash dates are month first.
func ParseTimestamp(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, ErrUnparseableTimestamp
	}
	// Exported tables render UTC values with a zone name suffix.
	v, _ = strings.CutSuffix(v, " UTC")

	t, err := dateparse.ParseIn(v, time.UTC)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range offsetLayouts {
		if t, lerr := time.Parse(layout, v); lerr == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %v", ErrUnparseableTimestamp, err)
}
