// Package timerange resolves absolute and relative ("now-15m", "now/d")
// time expressions into the fixed timestamp format embedded in queries.
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

// ErrInvalidExpression is returned for expressions that cannot be parsed.
var ErrInvalidExpression = errors.New("timerange: invalid expression")

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	model.QueryDateFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Resolve converts expr into an absolute UTC time relative to now. With
// roundUp, a trailing "/unit" rounds to the last millisecond of that unit
// instead of its start.
func Resolve(expr string, now time.Time, roundUp bool) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}

	var anchor time.Time
	var ops string
	switch {
	case strings.HasPrefix(expr, "now"):
		anchor = now
		ops = expr[len("now"):]
	default:
		base, rest, _ := strings.Cut(expr, "||")
		t, err := parseAbsolute(base)
		if err != nil {
			return time.Time{}, err
		}
		anchor = t
		ops = rest
	}

	t, err := applyOps(anchor.UTC(), ops, roundUp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
	}
	return t, nil
}

// Format renders t in the query timestamp layout.
func Format(t time.Time) string {
	return t.UTC().Format(model.QueryDateFormat)
}

func parseAbsolute(s string) (time.Time, error) {
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
}

func applyOps(t time.Time, ops string, roundUp bool) (time.Time, error) {
	for len(ops) > 0 {
		op := ops[0]
		ops = ops[1:]
		switch op {
		case '+', '-':
			n, rest := leadingInt(ops)
			if rest == ops {
				n = 1
			}
			if rest == "" {
				return t, errors.New("missing unit")
			}
			unit := rest[0]
			ops = rest[1:]
			if op == '-' {
				n = -n
			}
			var err error
			if t, err = addUnits(t, n, unit); err != nil {
				return t, err
			}
		case '/':
			if ops == "" {
				return t, errors.New("missing rounding unit")
			}
			unit := ops[0]
			ops = ops[1:]
			start, err := startOf(t, unit)
			if err != nil {
				return t, err
			}
			t = start
			if roundUp {
				next, err := addUnits(start, 1, unit)
				if err != nil {
					return t, err
				}
				t = next.Add(-time.Millisecond)
			}
		default:
			return t, fmt.Errorf("unexpected %q", op)
		}
	}
	return t, nil
}

func leadingInt(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s
	}
	return n, s[i:]
}

func addUnits(t time.Time, n int, unit byte) (time.Time, error) {
	switch unit {
	case 's':
		return t.Add(time.Duration(n) * time.Second), nil
	case 'm':
		return t.Add(time.Duration(n) * time.Minute), nil
	case 'h', 'H':
		return t.Add(time.Duration(n) * time.Hour), nil
	case 'd':
		return t.AddDate(0, 0, n), nil
	case 'w':
		return t.AddDate(0, 0, 7*n), nil
	case 'M':
		return t.AddDate(0, n, 0), nil
	case 'y':
		return t.AddDate(n, 0, 0), nil
	}
	return t, fmt.Errorf("unknown unit %q", unit)
}

// startOf truncates t to the start of unit. Weeks start on Monday.
func startOf(t time.Time, unit byte) (time.Time, error) {
	y, mo, d := t.Date()
	loc := t.Location()
	switch unit {
	case 's':
		return t.Truncate(time.Second), nil
	case 'm':
		return t.Truncate(time.Minute), nil
	case 'h', 'H':
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, loc), nil
	case 'd':
		return time.Date(y, mo, d, 0, 0, 0, 0, loc), nil
	case 'w':
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, mo, d-offset, 0, 0, 0, 0, loc), nil
	case 'M':
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc), nil
	case 'y':
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), nil
	}
	return t, fmt.Errorf("unknown unit %q", unit)
}
