package generic

// =============================================================================
// PERIOD - A span of days
// =============================================================================

// Period is the half-open day range [Start, End). A rent period due on
// 2025-12-10 with a 28-day cycle is [2025-12-10, 2026-01-07): the lodger has
// paid through the 6th and the next period starts on the 7th.
//
// Examples:
//   - 4-weekly rent period: due date + 28 days
//   - Reminder look-ahead window: today + 30 days
type Period struct {
	Start Date
	End   Date
}

func PeriodOf(start Date, days int) Period {
	return Period{Start: start, End: start.AddDays(days)}
}

// Contains returns true if d is within [Start, End).
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.Before(p.End)
}

// Days returns the number of days in the period.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End)
}

// Overlaps returns true if the two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// NextPeriod returns the period of equal length following this one.
func (p Period) NextPeriod() Period {
	return PeriodOf(p.End, p.Days())
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}
