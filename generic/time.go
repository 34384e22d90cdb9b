package generic

import (
	"math"
	"time"
)

// =============================================================================
// DATE - Civil day (rent is due on days, not instants)
// =============================================================================

// Date is a calendar day in UTC. All schedule and settlement arithmetic runs
// on Dates so that daylight-saving shifts never turn 28 days into 27.
type Date struct {
	Time time.Time
}

const DateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to the UTC day it falls on.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, NewError("invalid date").
			WithHintf("date %q must use the YYYY-MM-DD format", s).
			Mark(ErrValidation)
	}
	return DateOf(t), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// AddMonthsClamped moves n calendar months, pinning the day to the end of a
// shorter target month (Jan 31 + 1 month = Feb 28/29, never Mar 2/3).
func (d Date) AddMonthsClamped(n int) Date {
	return MonthDay(d.Year(), d.Month()+time.Month(n), d.Day())
}

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }

func (d Date) String() string { return d.Time.Format(DateLayout) }

// =============================================================================
// DATE UTILITIES
// =============================================================================

// MonthDay returns the given day of (year, month), clamped to the month's
// last day. Month overflow is normalised (month 13 = January next year).
func MonthDay(year int, month time.Month, day int) Date {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := EndOfMonth(first.Year(), first.Month()).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewDate(first.Year(), first.Month(), day)
}

func EndOfMonth(year int, month time.Month) Date {
	return Date{Time: time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

// DaysBetween returns whole days from -> to (negative when to is earlier).
func DaysBetween(from, to Date) int {
	return int(math.Round(to.Time.Sub(from.Time).Hours() / 24))
}

// CeilDays returns the number of started days between two instants,
// ceil((to - from) / 24h). Zero or negative spans return 0.
func CeilDays(from, to time.Time) int {
	span := to.Sub(from)
	if span <= 0 {
		return 0
	}
	return int(math.Ceil(span.Hours() / 24))
}
