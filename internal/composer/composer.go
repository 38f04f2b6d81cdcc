// Package composer turns a raw query, a time range and optional pattern
// filter state into the executable query string sent to the engine.
package composer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/ppl"
	"github.com/tinytelemetry/sightline/internal/timerange"
)

var (
	// ErrEmptyQuery means there is nothing to compose.
	ErrEmptyQuery = errors.New("composer: empty query")
	// ErrNoIndex means the query has no source/index assignment.
	ErrNoIndex = errors.New("composer: cannot determine index")
	// ErrTimeRange means a time bound could not be resolved.
	ErrTimeRange = errors.New("composer: invalid time range")
)

// Params are the inputs of one composition.
type Params struct {
	RawQuery        string
	Start           string
	End             string
	TimeField       string
	Live            bool
	BaseQuery       string
	WhereClause     string
	PatternField    string
	PatternRegex    string
	FilteredPattern string
	// Now anchors relative expressions; zero means time.Now().
	Now time.Time
}

// Compose returns the executable query, or "" when the query is empty or
// malformed. Callers must not execute an empty result.
func Compose(p Params) string {
	q, _ := ComposeChecked(p)
	return q
}

// ComposeChecked is Compose with the failure reason.
func ComposeChecked(p Params) (string, error) {
	if strings.TrimSpace(p.RawQuery) == "" {
		return "", ErrEmptyQuery
	}

	query := p.RawQuery
	if p.BaseQuery != "" && !strings.Contains(query, p.BaseQuery) {
		query = ppl.ComposeBaseAndUser(p.BaseQuery, query)
	}

	index, remainder, ok := ppl.SplitSource(query)
	if !ok {
		return "", ErrNoIndex
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	bounds, err := timerange.ResolveRange(model.TimeRange{Start: p.Start, End: p.End}, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeRange, err)
	}

	var b strings.Builder
	b.WriteString("source=")
	b.WriteString(index)
	b.WriteString(" | where ")
	writeTimeFilter(&b, p.TimeField, bounds)
	if where := strings.TrimSpace(p.WhereClause); where != "" {
		b.WriteString(" AND ")
		b.WriteString(where)
	}
	b.WriteString(remainder)

	if p.Live {
		b.WriteString(" | sort - ")
		b.WriteString(p.TimeField)
	}

	if p.PatternField != "" && p.FilteredPattern != "" {
		b.WriteString(" ")
		b.WriteString(ppl.PatternsClause(p.PatternField, p.PatternRegex, p.FilteredPattern))
	}

	return b.String(), nil
}

// TimeBounded composes only the source and time filter stages plus the user
// remainder, with no live sort or pattern filter. The pattern miner builds
// its derived queries on top of this.
func TimeBounded(p Params) string {
	p.Live = false
	p.FilteredPattern = ""
	return Compose(p)
}

func writeTimeFilter(b *strings.Builder, field string, bounds timerange.Bounds) {
	fmt.Fprintf(b, "%s >= '%s' and %s <= '%s'",
		field, timerange.Format(bounds.Start),
		field, timerange.Format(bounds.End))
}
