package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("missing required column")

// DetectSchema inspects the header of an input table.
//
// It fails when any required column is absent. Optional columns never cause
// an error: a missing status column or extended group only clears the
// corresponding capability flag.
func DetectSchema(columns []string) (types.Schema, error) {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.TrimSpace(c)] = true
	}

	var missing []string
	for _, c := range types.RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return types.Schema{}, fmt.Errorf("ingest: %w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	schema := types.Schema{HasStatus: present[types.ColOrderStatus]}

	var extPresent, extMissing []string
	for _, c := range types.ExtendedColumns {
		if present[c] {
			extPresent = append(extPresent, c)
		} else {
			extMissing = append(extMissing, c)
		}
	}
	switch {
	case len(extMissing) == 0:
		schema.HasExtended = true
	case len(extPresent) > 0:
		slog.Warn("ingest: partial extended schema, churn analysis disabled",
			"present", extPresent, "missing", extMissing)
	}

	schema.TimestampColumns = append(schema.TimestampColumns, types.BaseTimestampColumns...)
	if schema.HasExtended {
		schema.TimestampColumns = append(schema.TimestampColumns, types.ExtendedTimestampColumns...)
	}
	return schema, nil
}
