/*
settlement.go - Pro-rata settlement at termination

PURPOSE:
  When a termination date is decided (notice, immediate breach, breach
  escalation) the lodger's account is closed with one final obligation:
  either a top-up for days not yet covered by rent, or a refund of unused
  days. Both net against the advance rent collected with payment 1.

ALGORITHM:
  lastCovered = last rent due date + cycleDays
  dailyRate   = rent / cycleDays

  termination > lastCovered (gap):
    days   = ceil(termination - lastCovered)
    final  = dailyRate * days - advance        (> 0 lodger owes, <= 0 refund)

  termination <= lastCovered (unused days):
    days   = ceil(lastCovered - termination)
    final  = -(dailyRate * days + advance)     (refund)

  Rounded to pence once, on the emitted amount. The note spells out both
  operands and the day count so the figure can be audited by hand.

PRUNE:
  Pending obligations due after the termination date can never become due
  and are removed before the last covered date is located.

SEE ALSO:
  - engine.go: applySettlement runs prune + calculate + insert atomically
*/
package tenancy

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/warp/lodger-engine/generic"
)

type SettlementCase string

const (
	SettlementTopUp      SettlementCase = "top_up"
	SettlementUnusedDays SettlementCase = "unused_days"
)

type SettlementInput struct {
	TerminationAt time.Time
	LastDueDate   generic.Date
	CycleDays     int
	Rent          generic.Money
	AdvanceCredit generic.Money
}

type Settlement struct {
	Case            SettlementCase
	TerminationAt   time.Time
	TerminationDate generic.Date
	LastDueDate     generic.Date
	LastCoveredDate generic.Date
	CycleDays       int
	Rent            generic.Money
	DailyRate       generic.Money // unrounded
	Days            int
	// ProRataAmount is dailyRate * days, unrounded: the top-up for a gap or
	// the value of unused days.
	ProRataAmount generic.Money
	AdvanceCredit generic.Money
	// FinalAmount is signed and rounded: positive lodger owes, negative refund.
	FinalAmount generic.Money
	Note        string
}

func (s Settlement) LodgerOwes() bool { return s.FinalAmount.IsPositive() }

// RefundDue is the amount the landlord owes, zero when the lodger owes.
func (s Settlement) RefundDue() generic.Money {
	if s.FinalAmount.IsPositive() {
		return s.FinalAmount.Zero()
	}
	return s.FinalAmount.Neg()
}

// CalculateSettlement is pure: it neither reads nor writes the schedule.
func CalculateSettlement(in SettlementInput) Settlement {
	cycle := in.CycleDays
	if cycle <= 0 {
		cycle = DefaultCycleDays
	}
	lastCovered := in.LastDueDate.AddDays(cycle)
	daily := in.Rent.DivInt(cycle)

	s := Settlement{
		TerminationAt:   in.TerminationAt,
		TerminationDate: generic.DateOf(in.TerminationAt),
		LastDueDate:     in.LastDueDate,
		LastCoveredDate: lastCovered,
		CycleDays:       cycle,
		Rent:            in.Rent,
		DailyRate:       daily,
		AdvanceCredit:   in.AdvanceCredit,
	}

	if in.TerminationAt.After(lastCovered.Time) {
		s.Case = SettlementTopUp
		s.Days = generic.CeilDays(lastCovered.Time, in.TerminationAt)
		s.ProRataAmount = daily.MulInt(s.Days)
		s.FinalAmount = s.ProRataAmount.Sub(in.AdvanceCredit).Round2()
	} else {
		s.Case = SettlementUnusedDays
		s.Days = generic.CeilDays(in.TerminationAt, lastCovered.Time)
		s.ProRataAmount = daily.MulInt(s.Days)
		s.FinalAmount = s.ProRataAmount.Add(in.AdvanceCredit).Neg().Round2()
	}
	s.Note = settlementNote(s)
	return s
}

func settlementNote(s Settlement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Final settlement for termination on %s. ", s.TerminationDate)
	fmt.Fprintf(&b, "Rent covered through %s (last payment due %s + %d days). ",
		s.LastCoveredDate, s.LastDueDate, s.CycleDays)
	dailyRate := fmt.Sprintf("%s%s (%s / %d days)",
		s.Rent.Currency.Symbol(), s.DailyRate.Value.String(), s.Rent.Round2(), s.CycleDays)

	switch s.Case {
	case SettlementTopUp:
		fmt.Fprintf(&b, "%d days not covered x daily rate %s = %s. ", s.Days, dailyRate, s.ProRataAmount.Round2())
		fmt.Fprintf(&b, "Less advance rent held %s. ", s.AdvanceCredit.Round2())
	default:
		fmt.Fprintf(&b, "%d unused days x daily rate %s = %s. ", s.Days, dailyRate, s.ProRataAmount.Round2())
		fmt.Fprintf(&b, "Plus advance rent held %s. ", s.AdvanceCredit.Round2())
	}

	if s.LodgerOwes() {
		fmt.Fprintf(&b, "Net: %s payable by lodger.", s.FinalAmount)
	} else {
		fmt.Fprintf(&b, "Net: refund of %s due to lodger.", s.RefundDue())
	}
	return b.String()
}

// Obligation builds the single settlement entry for the schedule.
func (s Settlement) Obligation(tenancyID string, paymentNumber int, now time.Time) Obligation {
	return Obligation{
		ID:            generic.NewID("obl"),
		TenancyID:     tenancyID,
		PaymentNumber: paymentNumber,
		Kind:          KindSettlement,
		DueDate:       s.TerminationDate,
		RentDue:       s.FinalAmount,
		RentPaid:      s.FinalAmount.Zero(),
		Status:        ObligationPending,
		Notes:         s.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// =============================================================================
// PRUNE
// =============================================================================

// PrunePending splits obligations into those that survive a termination on
// date and the pending ones due after it.
func PrunePending(obligations []Obligation, date generic.Date) (keep, prune []Obligation) {
	for _, o := range obligations {
		if o.Status == ObligationPending && o.DueDate.After(date) {
			prune = append(prune, o)
			continue
		}
		keep = append(keep, o)
	}
	return keep, prune
}

// LastRentObligation returns the rent obligation with the highest payment number.
func LastRentObligation(obligations []Obligation) (Obligation, bool) {
	rents := lo.Filter(obligations, func(o Obligation, _ int) bool { return o.Kind == KindRent })
	if len(rents) == 0 {
		return Obligation{}, false
	}
	return lo.MaxBy(rents, func(a, b Obligation) bool { return a.PaymentNumber > b.PaymentNumber }), true
}

// NextPaymentNumber is one past the highest payment number in use.
func NextPaymentNumber(obligations []Obligation) int {
	next := 1
	for _, o := range obligations {
		if o.PaymentNumber >= next {
			next = o.PaymentNumber + 1
		}
	}
	return next
}
