/*
ledger.go - Two-phase payment workflow and running balance

PURPOSE:
  Records what the lodger says they paid (submit) separately from what the
  landlord confirms was received (confirm). Only confirm moves money.

WORKFLOW:
  ┌─────────┐  submit   ┌───────────┐  confirm  ┌──────┐
  │ pending │ ────────▶ │ submitted │ ────────▶ │ paid │  balance >= 0
  └─────────┘           └───────────┘     │     └──────┘
       │                                  │     ┌─────────┐
       └──────────── confirm ─────────────┴───▶ │ partial │  0 < paid < due
                                                └─────────┘

  - Submit is repeatable; the latest submission overwrites the previous one.
  - Confirm does not require a prior submit and re-confirming overwrites.
  - Overdue is never stored: pending/submitted past their due date read as
    overdue (EffectiveStatus).

CREDIT CARRIED FORWARD:
  Stored RentDue is never rewritten. The statement walks obligations in
  payment-number order; a positive running balance from confirmed
  obligations offsets the next unconfirmed obligation at read time.

REFUNDS:
  A settlement entry with negative RentDue is money the landlord owes. The
  landlord confirms it with the positive amount returned, which is recorded
  as negative RentPaid so Balance() stays RentPaid - RentDue.

SEE ALSO:
  - engine.go: SubmitPayment, ConfirmPayment, Statement
*/
package tenancy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lodger-engine/generic"
)

// =============================================================================
// SUBMIT / CONFIRM
// =============================================================================

type SubmitInput struct {
	Amount    generic.Money
	Date      generic.Date // defaults to today
	Method    string
	Reference string
	Notes     string
}

type ConfirmInput struct {
	// Amount overrides the submitted amount. Required when nothing was submitted.
	Amount    *generic.Money
	Date      *generic.Date
	Method    *string
	Reference *string
	Notes     *string
}

// Submit records the lodger's claimed payment. RentPaid is untouched.
func Submit(o Obligation, in SubmitInput, now time.Time) (Obligation, error) {
	if o.Status == ObligationPaid || o.Status == ObligationWaived {
		return o, &generic.TransitionError{
			Entity: "obligation", ID: o.ID, From: string(o.Status), To: string(ObligationSubmitted),
		}
	}
	if o.IsRefund() {
		return o, generic.NewError("refunds are confirmed by the landlord").
			WithHintf("obligation %d is a refund of %s owed to the lodger", o.PaymentNumber, o.RentDue.Abs().Round2()).
			Mark(generic.ErrInvalidState)
	}
	if !in.Amount.IsPositive() {
		return o, generic.NewError("submitted amount must be positive").
			WithHintf("amount %s is not a positive amount", in.Amount).
			WithDetails(map[string]any{"amount": in.Amount.Value.String()}).
			Mark(generic.ErrValidation)
	}

	date := in.Date
	if date.IsZero() {
		date = generic.DateOf(now)
	}
	o.Submitted = &Submission{
		Amount:      in.Amount,
		Date:        date,
		Reference:   in.Reference,
		Method:      in.Method,
		Notes:       in.Notes,
		SubmittedAt: now,
	}
	o.Status = ObligationSubmitted
	o.UpdatedAt = now
	return o, nil
}

// Confirm records the landlord's receipt and recomputes status from the balance.
func Confirm(o Obligation, in ConfirmInput, now time.Time) (Obligation, error) {
	if o.Status == ObligationWaived {
		return o, &generic.TransitionError{
			Entity: "obligation", ID: o.ID, From: string(o.Status), To: string(ObligationPaid),
		}
	}

	var amount generic.Money
	switch {
	case in.Amount != nil:
		amount = *in.Amount
	case o.Submitted != nil:
		amount = o.Submitted.Amount
	default:
		return o, generic.NewError("no amount to confirm").
			WithHintf("obligation %d has no submitted payment; an amount is required", o.PaymentNumber).
			Mark(generic.ErrValidation)
	}
	if amount.IsNegative() {
		return o, generic.NewError("confirmed amount cannot be negative").
			WithHintf("amount %s is negative", amount).
			WithDetails(map[string]any{"amount": amount.Value.String()}).
			Mark(generic.ErrValidation)
	}
	if o.IsRefund() && amount.GreaterThan(o.RentDue.Neg()) {
		return o, generic.NewError("refund exceeds the amount owed to the lodger").
			WithHintf("refund %s is more than the %s settlement", amount, o.RentDue.Neg()).
			WithDetails(map[string]any{"amount": amount.Value.String(), "max": o.RentDue.Neg().Value.String()}).
			Mark(generic.ErrValidation)
	}

	c := Confirmation{ConfirmedAt: now, Date: generic.DateOf(now)}
	if o.Submitted != nil {
		c.Date = o.Submitted.Date
		c.Method = o.Submitted.Method
		c.Reference = o.Submitted.Reference
	}
	if in.Date != nil {
		c.Date = *in.Date
	}
	if in.Method != nil {
		c.Method = *in.Method
	}
	if in.Reference != nil {
		c.Reference = *in.Reference
	}
	if in.Notes != nil {
		c.Notes = *in.Notes
	}

	if o.IsRefund() {
		o.RentPaid = amount.Neg()
	} else {
		o.RentPaid = amount
	}
	o.Confirmed = &c

	// A refund is settled when RentPaid reaches the negative RentDue, so the
	// remaining amount is measured in the direction the money flows.
	remaining := o.RentDue.Sub(o.RentPaid)
	if o.IsRefund() {
		remaining = remaining.Neg()
	}
	switch {
	case !remaining.IsPositive():
		o.Status = ObligationPaid
	case !o.RentPaid.IsZero():
		o.Status = ObligationPartial
	default:
		o.Status = ObligationPending
	}
	o.UpdatedAt = now
	return o, nil
}

// Waive releases the lodger from an unconfirmed obligation.
func Waive(o Obligation, notes string, now time.Time) (Obligation, error) {
	if o.IsConfirmed() || o.Status == ObligationWaived {
		return o, &generic.TransitionError{
			Entity: "obligation", ID: o.ID, From: string(o.Status), To: string(ObligationWaived),
		}
	}
	o.Status = ObligationWaived
	if notes != "" {
		o.Notes = notes
	}
	o.UpdatedAt = now
	return o, nil
}

// EffectiveStatus reclassifies pending/submitted obligations past their due
// date as overdue. Derived on read, never stored.
func EffectiveStatus(o Obligation, today generic.Date) ObligationStatus {
	if (o.Status == ObligationPending || o.Status == ObligationSubmitted) && o.DueDate.Before(today) {
		return ObligationOverdue
	}
	return o.Status
}

// =============================================================================
// STATEMENT - Read-time credit application
// =============================================================================

type StatementLine struct {
	Obligation
	EffectiveStatus ObligationStatus
	// CreditApplied is prior credit offsetting this obligation (unconfirmed only).
	CreditApplied generic.Money
	// AmountOutstanding is what is still owed on this line after credit.
	AmountOutstanding generic.Money
	// CarriedBalance is the running credit (+) or debt (-) after this line.
	CarriedBalance generic.Money
}

type Statement struct {
	TenancyID string
	AsOf      generic.Date
	Lines     []StatementLine

	TotalDue  generic.Money // rent due on or before AsOf, excluding waived
	TotalPaid generic.Money // confirmed receipts
	// Outstanding is what the lodger owes as of AsOf; negative means credit.
	Outstanding generic.Money
}

func (s Statement) Credit() generic.Money {
	if s.Outstanding.IsNegative() {
		return s.Outstanding.Neg()
	}
	return s.Outstanding.Zero()
}

// BuildStatement walks obligations in payment-number order. Outstanding is
// the sum of unconfirmed rent due by asOf minus the cumulative balance of
// confirmed obligations; amounts are rounded only on the way out.
func BuildStatement(tenancyID string, obligations []Obligation, asOf generic.Date, currency generic.Currency) Statement {
	zero := generic.NewMoney(decimal.Zero, currency)
	st := Statement{
		TenancyID:   tenancyID,
		AsOf:        asOf,
		TotalDue:    zero,
		TotalPaid:   zero,
		Outstanding: zero,
	}

	carried := zero
	confirmedBalance := zero
	unconfirmedDue := zero
	for _, o := range sortedByNumber(obligations) {
		line := StatementLine{
			Obligation:        o,
			EffectiveStatus:   EffectiveStatus(o, asOf),
			CreditApplied:     zero,
			AmountOutstanding: zero,
		}

		switch {
		case o.Status == ObligationWaived:
		case o.IsConfirmed():
			carried = carried.Add(o.Balance())
			st.TotalPaid = st.TotalPaid.Add(o.RentPaid)
			if o.DueDate.After(asOf) {
				// Not yet due: only the money already received counts.
				confirmedBalance = confirmedBalance.Add(o.RentPaid)
			} else {
				confirmedBalance = confirmedBalance.Add(o.Balance())
				st.TotalDue = st.TotalDue.Add(o.RentDue)
			}
			if o.Balance().IsNegative() {
				line.AmountOutstanding = o.Balance().Neg()
			}
		default:
			due := o.RentDue
			if carried.IsPositive() && due.IsPositive() {
				line.CreditApplied = carried.Min(due)
				carried = carried.Sub(line.CreditApplied)
			}
			line.AmountOutstanding = due.Sub(line.CreditApplied)
			if !o.DueDate.After(asOf) {
				st.TotalDue = st.TotalDue.Add(due)
				unconfirmedDue = unconfirmedDue.Add(due)
			}
		}

		line.CreditApplied = line.CreditApplied.Round2()
		line.AmountOutstanding = line.AmountOutstanding.Round2()
		line.CarriedBalance = carried.Round2()
		st.Lines = append(st.Lines, line)
	}

	st.TotalDue = st.TotalDue.Round2()
	st.TotalPaid = st.TotalPaid.Round2()
	st.Outstanding = unconfirmedDue.Sub(confirmedBalance).Round2()
	return st
}

func sortedByNumber(obligations []Obligation) []Obligation {
	out := make([]Obligation, len(obligations))
	copy(out, obligations)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaymentNumber < out[j].PaymentNumber })
	return out
}
