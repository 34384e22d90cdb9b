/*
schedule.go - Rent obligation schedule

PURPOSE:
  Turns tenancy terms into an ordered list of rent obligations and appends
  the missing tail when the tenancy's end date moves forward.

PAYMENT TYPES:
  cycle:    obligation n is due at start + (n-1) * cycleDays
  calendar: obligation 1 is due on the start date, obligation n >= 2 on the
            payment day of month start+(n-1), clamped to short months.
            Dates are derived from the anchor month, so a 31st that was
            clamped to Feb 28 returns to the 31st in March.

ADVANCE RENT:
  Obligation 1 is two periods' rent: the current period plus one period in
  advance. The advance is rent for a future period, not a deposit, and is
  netted off in the final settlement.

STOP RULE:
  Generation stops at whichever comes first:
  - the next due date is on or after the end date
  - HorizonPeriods obligations are due on or after asOf

IDEMPOTENCE:
  Extend continues from the highest existing payment number and never
  re-creates an existing number. Calling it again with the same end date on
  the same day yields nothing.

SEE ALSO:
  - cycle.go: CycleDays
  - engine.go: ActivateTenancy, ExtendSchedule
*/
package tenancy

import (
	"time"

	"github.com/samber/lo"
	"github.com/warp/lodger-engine/generic"
)

type ScheduleGenerator struct {
	HorizonPeriods int
}

func NewScheduleGenerator(horizon int) ScheduleGenerator {
	if horizon <= 0 {
		horizon = DefaultConfig().HorizonPeriods
	}
	return ScheduleGenerator{HorizonPeriods: horizon}
}

// Generate produces the initial schedule for a tenancy with no obligations.
// An end date on or before the start date yields an empty schedule.
func (g ScheduleGenerator) Generate(terms Terms, asOf generic.Date) ([]Obligation, error) {
	return g.Extend(terms, nil, terms.EndDate, asOf)
}

// Extend returns only the obligations missing between the existing schedule
// and end (nil end means open-ended, bounded by the horizon). Once a
// settlement entry exists the schedule is closed and nothing is added.
func (g ScheduleGenerator) Extend(terms Terms, existing []Obligation, end *generic.Date, asOf generic.Date) ([]Obligation, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	if lo.ContainsBy(existing, func(o Obligation) bool { return o.Kind == KindSettlement }) {
		return nil, nil
	}

	last := 0
	ahead := 0
	for _, o := range existing {
		if o.PaymentNumber > last {
			last = o.PaymentNumber
		}
		if !o.DueDate.Before(asOf) {
			ahead++
		}
	}

	var out []Obligation
	for n := last + 1; ahead < g.HorizonPeriods; n++ {
		due := DueDate(terms, n)
		if end != nil && !due.Before(*end) {
			break
		}
		out = append(out, Obligation{
			ID:            generic.NewID("obl"),
			TenancyID:     terms.TenancyID,
			PaymentNumber: n,
			Kind:          KindRent,
			DueDate:       due,
			RentDue:       AmountDue(terms, n),
			RentPaid:      terms.Rent.Zero(),
			Status:        ObligationPending,
		})
		if !due.Before(asOf) {
			ahead++
		}
	}
	return out, nil
}

// DueDate returns the due date of payment number n (1-based).
func DueDate(terms Terms, n int) generic.Date {
	if n <= 1 {
		return terms.StartDate
	}
	if terms.PaymentType == PaymentTypeCalendar {
		start := terms.StartDate
		return generic.MonthDay(start.Year(), start.Month()+time.Month(n-1), terms.PaymentDay)
	}
	return terms.StartDate.AddDays((n - 1) * CycleDays(terms.Frequency))
}

// AmountDue returns the scheduled rent for payment number n: the first
// payment carries one period in advance.
func AmountDue(terms Terms, n int) generic.Money {
	if n == 1 {
		return terms.Rent.MulInt(2)
	}
	return terms.Rent
}

// CoveredPeriod is the rent period an obligation pays for.
func CoveredPeriod(terms Terms, o Obligation) generic.Period {
	return generic.PeriodOf(o.DueDate, CycleDays(terms.Frequency))
}
