// Package patterns mines pattern clusters for a time-bounded query by
// running a stats query and an optional per-pattern time-series query.
package patterns

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/ppl"
)

// StatsQuery counts events per pattern and takes one sample log each.
func StatsQuery(timeBounded, patternField, patternRegex string) string {
	return fmt.Sprintf("%s %s | stats count(), take(%s, 1) by %s",
		strings.TrimSpace(timeBounded),
		ppl.PatternsClause(patternField, patternRegex, ""),
		patternField,
		model.PatternsField,
	)
}

// TimeSeriesQuery buckets per-pattern counts by span(timestampField, 1<unit>).
// An empty unit falls back to minutes.
func TimeSeriesQuery(timeBounded, patternField, patternRegex, timestampField, unit string) string {
	if unit == "" {
		unit = model.DefaultSpanUnit
	}
	return fmt.Sprintf("%s %s | stats count() by span(%s, 1%s) as timestamp, %s",
		strings.TrimSpace(timeBounded),
		ppl.PatternsClause(patternField, patternRegex, ""),
		timestampField,
		unit,
		model.PatternsField,
	)
}
