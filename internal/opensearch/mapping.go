package opensearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tinytelemetry/sightline/internal/model"
)

// Preferred timestamp fields, in order.
var preferredTimestamps = []string{"@timestamp", "timestamp"}

type indexMapping struct {
	Mappings struct {
		Properties map[string]fieldMapping `json:"properties"`
	} `json:"mappings"`
}

type fieldMapping struct {
	Type       string                  `json:"type"`
	Properties map[string]fieldMapping `json:"properties"`
}

// DefaultTimestamp infers the timestamp field of the indices matching index.
// Indices that disagree set HasSchemaConflict; the first index's choice wins.
func (c *Client) DefaultTimestamp(ctx context.Context, index string) (*model.TimestampInfo, error) {
	index = strings.Trim(index, "`")
	if index == "" {
		return nil, fmt.Errorf("opensearch: empty index")
	}
	var mappings map[string]indexMapping
	path := "/" + url.PathEscape(index) + "/_mapping"
	if err := c.do(ctx, "mapping", http.MethodGet, path, nil, nil, &mappings); err != nil {
		return nil, err
	}
	return chooseTimestamp(mappings), nil
}

func chooseTimestamp(mappings map[string]indexMapping) *model.TimestampInfo {
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	info := &model.TimestampInfo{}
	choices := make(map[string][]string)
	var order []string
	for _, name := range names {
		dates := dateFields("", mappings[name].Mappings.Properties)
		field := pickTimestamp(dates)
		if _, seen := choices[field]; !seen {
			order = append(order, field)
		}
		choices[field] = append(choices[field], name)
	}
	if len(order) == 0 {
		return info
	}
	info.DefaultTimestamp = order[0]
	if len(order) > 1 {
		info.HasSchemaConflict = true
		parts := make([]string, 0, len(order))
		for _, field := range order {
			label := field
			if label == "" {
				label = "no timestamp"
			}
			parts = append(parts, fmt.Sprintf("%s (%s)", label, strings.Join(choices[field], ", ")))
		}
		info.Message = "indices disagree on the timestamp field: " + strings.Join(parts, "; ")
	}
	return info
}

// dateFields returns the date-typed fields, flattened with dotted names and sorted.
func dateFields(prefix string, props map[string]fieldMapping) []string {
	var out []string
	for name, f := range props {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		switch {
		case f.Type == "date" || f.Type == "date_nanos":
			out = append(out, full)
		case len(f.Properties) > 0:
			out = append(out, dateFields(full, f.Properties)...)
		}
	}
	sort.Strings(out)
	return out
}

func pickTimestamp(dates []string) string {
	for _, want := range preferredTimestamps {
		for _, d := range dates {
			if d == want {
				return d
			}
		}
	}
	if len(dates) > 0 {
		return dates[0]
	}
	return ""
}
