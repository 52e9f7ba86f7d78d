package recurrence

import (
	"fmt"

	"cadence/internal/core"
)

// Occurrences returns the dates in [windowStart, windowEnd] on which the rule
// fires, ascending and without duplicates. The rule's own start and optional
// end bound the result as well. The rule's timezone is not consulted: every
// comparison is between calendar dates.
func Occurrences(s core.Schedule, windowStart, windowEnd core.Date) ([]core.Date, error) {
	if s.Interval < 1 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidInterval, s.Interval)
	}
	c, err := CadenceFor(s.Frequency)
	if err != nil {
		return nil, err
	}

	lo, hi, ok := EffectiveRange(s, windowStart, windowEnd)
	if !ok {
		return nil, nil
	}

	var out []core.Date
	for k := c.FirstIndex(s.StartDate, lo, s.Interval); ; k++ {
		d := c.At(s.StartDate, s.Interval, k)
		if d.After(hi) {
			break
		}
		if d.Before(lo) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// EffectiveRange clamps the rule's bounds against the window. ok is false
// when nothing of the rule's life overlaps the window.
func EffectiveRange(s core.Schedule, windowStart, windowEnd core.Date) (lo, hi core.Date, ok bool) {
	lo = core.MaxDate(s.StartDate, windowStart)
	hi = windowEnd
	if !s.EndDate.IsEmpty() {
		hi = core.MinDate(s.EndDate, windowEnd)
	}
	return lo, hi, !lo.After(hi)
}
