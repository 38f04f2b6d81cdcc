package timerange

import (
	"fmt"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

// Bounds is a resolved time window.
type Bounds struct {
	Start time.Time
	End   time.Time
}

// ResolveRange resolves both ends of r; the end is rounded up.
func ResolveRange(r model.TimeRange, now time.Time) (Bounds, error) {
	start, err := Resolve(r.Start, now, false)
	if err != nil {
		return Bounds{}, err
	}
	end, err := Resolve(r.End, now, true)
	if err != nil {
		return Bounds{}, err
	}
	if end.Before(start) {
		return Bounds{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidExpression, Format(start), Format(end))
	}
	return Bounds{Start: start, End: end}, nil
}
