/*
Package tenancy implements the payment cycle and tenancy lifecycle engine
for UK lodger (room-letting) agreements.

PURPOSE:
  Generates rent obligations from a tenancy's terms, tracks the two-step
  submit/confirm payment workflow with credit carried forward, computes
  pro-rata settlements when a tenancy ends early, and runs the notice,
  breach and extension state machines that drive the tenancy's status.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tenancy: Agreement between a landlord and a lodger
  - Obligation: One scheduled rent period (or the final settlement)
  - Notice: Termination notice, breach notice or extension offer
  - Reminder: End-of-tenancy reminder raised by the daily sweep

COMPONENTS:
  cycle.go       CycleDays(frequency)
  schedule.go    ScheduleGenerator (generate + idempotent extend)
  ledger.go      Submit / Confirm / Statement
  settlement.go  Pro-rata settlement and prune
  notice.go      NoticeMachine transition tables
  engine.go      Engine: atomic public operations over a TxStore
  reminders.go   ReminderSweeper

SEE ALSO:
  - generic/: Money, Date, errors
  - store/sqlite, store/memory: Store implementations
*/
package tenancy

import (
	"time"

	"github.com/warp/lodger-engine/generic"
)

// =============================================================================
// TENANCY
// =============================================================================

type Frequency string

const (
	FrequencyWeekly     Frequency = "weekly"
	FrequencyBiWeekly   Frequency = "bi-weekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyFourWeekly Frequency = "4-weekly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly, FrequencyFourWeekly:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentTypeCycle    PaymentType = "cycle"    // fixed-length cycle from the start date
	PaymentTypeCalendar PaymentType = "calendar" // fixed day of every month
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusActive      Status = "active"
	StatusNoticeGiven Status = "notice_given"
	StatusTerminated  Status = "terminated"
	StatusExtended    Status = "extended"
)

// IsLive reports whether rent is still being scheduled for the tenancy.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusExtended || s == StatusNoticeGiven
}

type Tenancy struct {
	ID         string
	LandlordID string
	LodgerID   string
	Room       string

	StartDate generic.Date
	EndDate   *generic.Date

	// MonthlyRent is the rent for one payment period, whatever its length.
	MonthlyRent generic.Money
	// AdvanceRent is the extra period collected with the first payment.
	// Captured at activation and consumed by the final settlement.
	AdvanceRent generic.Money

	Frequency   Frequency
	PaymentType PaymentType
	PaymentDay  int // calendar mode only, 1-31

	Status          Status
	TerminationDate *generic.Date

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terms returns the inputs the schedule generator works from.
func (t Tenancy) Terms() Terms {
	return Terms{
		TenancyID:   t.ID,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		Rent:        t.MonthlyRent,
		Frequency:   t.Frequency,
		PaymentType: t.PaymentType,
		PaymentDay:  t.PaymentDay,
	}
}

// EndsOn returns the date the tenancy is due to end: the decided termination
// date when notice has been given, otherwise the agreed end date.
func (t Tenancy) EndsOn() *generic.Date {
	if t.TerminationDate != nil {
		return t.TerminationDate
	}
	return t.EndDate
}

// OtherParty returns the landlord for the lodger and vice versa.
func (t Tenancy) OtherParty(userID string) (string, bool) {
	switch userID {
	case t.LandlordID:
		return t.LodgerID, true
	case t.LodgerID:
		return t.LandlordID, true
	}
	return "", false
}

// Terms are the schedule-relevant parts of a tenancy.
type Terms struct {
	TenancyID   string
	StartDate   generic.Date
	EndDate     *generic.Date
	Rent        generic.Money
	Frequency   Frequency
	PaymentType PaymentType
	PaymentDay  int
}

// Validate checks the terms are schedulable.
func (t Terms) Validate() error {
	if t.StartDate.IsZero() {
		return generic.NewError("start date is required").Mark(generic.ErrValidation)
	}
	if !t.Rent.IsPositive() {
		return generic.NewError("rent must be positive").
			WithHintf("rent %s is not a positive amount", t.Rent).
			Mark(generic.ErrValidation)
	}
	if !t.Frequency.Valid() {
		return generic.NewError("unknown payment frequency").
			WithHintf("payment frequency %q must be weekly, bi-weekly, monthly or 4-weekly", t.Frequency).
			Mark(generic.ErrValidation)
	}
	switch t.PaymentType {
	case PaymentTypeCycle:
	case PaymentTypeCalendar:
		if t.PaymentDay < 1 || t.PaymentDay > 31 {
			return generic.NewError("invalid payment day").
				WithHintf("payment day %d must be between 1 and 31", t.PaymentDay).
				WithDetails(map[string]any{"payment_day": t.PaymentDay, "min": 1, "max": 31}).
				Mark(generic.ErrValidation)
		}
	default:
		return generic.NewError("unknown payment type").
			WithHintf("payment type %q must be cycle or calendar", t.PaymentType).
			Mark(generic.ErrValidation)
	}
	return nil
}

// =============================================================================
// OBLIGATION
// =============================================================================

type ObligationStatus string

const (
	ObligationPending   ObligationStatus = "pending"
	ObligationSubmitted ObligationStatus = "submitted"
	ObligationPaid      ObligationStatus = "paid"
	ObligationPartial   ObligationStatus = "partial"
	ObligationOverdue   ObligationStatus = "overdue"
	ObligationWaived    ObligationStatus = "waived"
)

type ObligationKind string

const (
	KindRent       ObligationKind = "rent"
	KindSettlement ObligationKind = "settlement"
)

// Submission is what the lodger says they paid. It never moves money.
type Submission struct {
	Amount      generic.Money
	Date        generic.Date
	Reference   string
	Method      string
	Notes       string
	SubmittedAt time.Time
}

// Confirmation is what the landlord confirms was received.
type Confirmation struct {
	Date        generic.Date
	Method      string
	Reference   string
	Notes       string
	ConfirmedAt time.Time
}

// Obligation is one scheduled payment. RentDue is signed for settlement
// entries: negative means the landlord owes the lodger a refund.
type Obligation struct {
	ID            string
	TenancyID     string
	PaymentNumber int
	Kind          ObligationKind
	DueDate       generic.Date
	RentDue       generic.Money
	RentPaid      generic.Money
	Status        ObligationStatus

	Submitted *Submission
	Confirmed *Confirmation

	// Notes holds the settlement arithmetic for settlement entries.
	Notes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is RentPaid - RentDue. Positive is credit, negative is still owed.
func (o Obligation) Balance() generic.Money {
	return o.RentPaid.Sub(o.RentDue)
}

func (o Obligation) IsConfirmed() bool { return o.Confirmed != nil }

// IsRefund reports a settlement entry where money flows back to the lodger.
func (o Obligation) IsRefund() bool {
	return o.Kind == KindSettlement && o.RentDue.IsNegative()
}

// =============================================================================
// NOTICE
// =============================================================================

type NoticeType string

const (
	NoticeTermination    NoticeType = "termination"
	NoticeBreach         NoticeType = "breach"
	NoticeExtensionOffer NoticeType = "extension_offer"
)

type NoticeStatus string

const (
	NoticeActive    NoticeStatus = "active"
	NoticeCompleted NoticeStatus = "completed"
)

type BreachStage string

const (
	BreachRemedyPeriod      BreachStage = "remedy_period"
	BreachTerminationPeriod BreachStage = "termination_period"
	BreachRemedied          BreachStage = "remedied"
)

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionAccepted ExtensionStatus = "accepted"
	ExtensionRejected ExtensionStatus = "rejected"
)

type Notice struct {
	ID        string
	TenancyID string
	Type      NoticeType
	GivenBy   string
	GivenTo   string

	NoticeDate    time.Time
	EffectiveDate *generic.Date
	Reason        string
	Status        NoticeStatus

	// Breach notices
	BreachType          string
	BreachStage         BreachStage
	RemedyDeadline      *time.Time
	TerminationDeadline *time.Time

	// Extension offers
	ExtensionMonths int
	ProposedRent    *generic.Money
	// CurrentRent is the rent in force when the offer was made.
	CurrentRent     *generic.Money
	NewEndDate      *generic.Date
	ExtensionStatus ExtensionStatus
	RespondedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActiveBreach reports a breach notice that has not been remedied or completed.
func (n Notice) IsActiveBreach() bool {
	return n.Type == NoticeBreach && n.Status == NoticeActive
}

func (n Notice) IsPendingOffer() bool {
	return n.Type == NoticeExtensionOffer && n.ExtensionStatus == ExtensionPending
}

// =============================================================================
// REMINDER
// =============================================================================

type ReminderKind string

const (
	ReminderEndApproaching         ReminderKind = "end_approaching"
	ReminderTerminationApproaching ReminderKind = "termination_approaching"
)

type Reminder struct {
	ID         string
	TenancyID  string
	Kind       ReminderKind
	TargetDate generic.Date
	RaisedAt   time.Time
}
