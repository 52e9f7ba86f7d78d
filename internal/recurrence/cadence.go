// Package recurrence expands recurrence rules into calendar occurrences.
//
// Each frequency (daily, weekly, monthly, yearly) has its own Cadence that
// knows how to find the k-th occurrence of a rule and the first index whose
// occurrence is not before a given date. Occurrences are always derived from
// the rule's start date by index, never by stepping from a previous
// occurrence, so month-end clamping does not drift.
package recurrence

import (
	"fmt"

	"cadence/internal/core"
)

// Cadence is the strategy interface for one frequency.
type Cadence interface {
	// At returns the k-th occurrence (k >= 0) of a rule starting on start.
	At(start core.Date, interval, k int) core.Date
	// FirstIndex returns the smallest k whose occurrence is on or after from.
	// from must not be before start.
	FirstIndex(start, from core.Date, interval int) int
}

// dayStep covers the cadences that are a fixed number of days apart.
type dayStep struct {
	days int
}

func (c dayStep) At(start core.Date, interval, k int) core.Date {
	return start.AddDays(k * interval * c.days)
}

func (c dayStep) FirstIndex(start, from core.Date, interval int) int {
	return ceilDiv(from.DaysSince(start), interval*c.days)
}

// MonthlyCadence fires on the start date's day of month, clamped to the last
// day of shorter months.
type MonthlyCadence struct{}

func (MonthlyCadence) At(start core.Date, interval, k int) core.Date {
	return addMonthsClamped(start, k*interval)
}

func (c MonthlyCadence) FirstIndex(start, from core.Date, interval int) int {
	elapsed := (from.Year()-start.Year())*12 + from.Month() - start.Month()
	k := ceilDiv(elapsed, interval)
	// the occurrence in from's month may be clamped or fall on an earlier day
	for c.At(start, interval, k).Before(from) {
		k++
	}
	return k
}

// YearlyCadence fires on the start date's month and day. A Feb 29 start
// falls on Feb 28 in non-leap years.
type YearlyCadence struct{}

func (YearlyCadence) At(start core.Date, interval, k int) core.Date {
	return addMonthsClamped(start, 12*k*interval)
}

func (c YearlyCadence) FirstIndex(start, from core.Date, interval int) int {
	k := ceilDiv(from.Year()-start.Year(), interval)
	for c.At(start, interval, k).Before(from) {
		k++
	}
	return k
}

var (
	DailyCadence  Cadence = dayStep{days: 1}
	WeeklyCadence Cadence = dayStep{days: 7}
)

// cadences maps frequencies to their strategy.
var cadences = map[core.Frequency]Cadence{
	core.Daily:   DailyCadence,
	core.Weekly:  WeeklyCadence,
	core.Monthly: MonthlyCadence{},
	core.Yearly:  YearlyCadence{},
}

// CadenceFor returns the strategy of a frequency.
func CadenceFor(frequency core.Frequency) (Cadence, error) {
	c, ok := cadences[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, frequency)
	}
	return c, nil
}

// addMonthsClamped moves d by n months keeping its day of month, or the last
// day of the target month when that month is shorter.
func addMonthsClamped(d core.Date, n int) core.Date {
	total := d.Year()*12 + (d.Month() - 1) + n
	year, month := total/12, total%12+1
	day := d.Day()
	if last := core.DaysIn(year, month); day > last {
		day = last
	}
	return core.NewDate(year, month, day)
}

// ceilDiv is ceil(a/b) for a >= 0, b > 0.
func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
