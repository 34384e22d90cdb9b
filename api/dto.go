/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the tenancy model from the external contract: money leaves as pence-rounded
  strings, dates as YYYY-MM-DD, instants as RFC 3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Tenancy:
    TenancyDTO, ActivateResponse, ExtendScheduleRequest

  Obligations:
    ObligationDTO, SubmitPaymentRequest, ConfirmPaymentRequest, WaiveRequest

  Statement:
    StatementDTO, StatementLineDTO, BalanceDTO

  Notices:
    NoticeDTO, GiveNoticeRequest, BreachRequest, ExtensionOfferRequest,
    ExtensionResponseRequest, NoticeOutcomeDTO, SettlementDTO

  Admin:
    SweepResponse, TerminationsResponse, TopUpResponse

VALIDATION:
  Request types carry validator/v10 tags checked by decode() before the
  engine sees them. Business rules (rent cap, transitions) stay in tenancy.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/agreement.go: AgreementJSON, the create-tenancy body
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// TENANCY
// =============================================================================

type TenancyDTO struct {
	ID              string    `json:"id"`
	LandlordID      string    `json:"landlord_id"`
	LodgerID        string    `json:"lodger_id"`
	Room            string    `json:"room,omitempty"`
	StartDate       string    `json:"start_date"`
	EndDate         string    `json:"end_date,omitempty"`
	Rent            string    `json:"rent"`
	AdvanceRent     string    `json:"advance_rent"`
	Currency        string    `json:"currency"`
	Frequency       string    `json:"payment_frequency"`
	PaymentType     string    `json:"payment_type"`
	PaymentDay      int       `json:"payment_day,omitempty"`
	Status          string    `json:"status"`
	TerminationDate string    `json:"termination_date,omitempty"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ActivateResponse struct {
	Tenancy     TenancyDTO      `json:"tenancy"`
	Obligations []ObligationDTO `json:"obligations"`
}

type ExtendScheduleRequest struct {
	// EndDate caps the extension; empty means the tenancy's own end.
	EndDate string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type ScheduleResponse struct {
	TenancyID string          `json:"tenancy_id,omitempty"`
	Added     []ObligationDTO `json:"added"`
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

type SubmissionDTO struct {
	Amount      string    `json:"amount"`
	Date        string    `json:"date"`
	Method      string    `json:"method,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ConfirmationDTO struct {
	Date        string    `json:"date"`
	Method      string    `json:"method,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type ObligationDTO struct {
	ID            string           `json:"id"`
	TenancyID     string           `json:"tenancy_id"`
	PaymentNumber int              `json:"payment_number"`
	Kind          string           `json:"kind"`
	DueDate       string           `json:"due_date"`
	RentDue       string           `json:"rent_due"`
	RentPaid      string           `json:"rent_paid"`
	Balance       string           `json:"balance"`
	Status        string           `json:"status"`
	Submitted     *SubmissionDTO   `json:"submitted,omitempty"`
	Confirmed     *ConfirmationDTO `json:"confirmed,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

type SubmitPaymentRequest struct {
	Amount    string `json:"amount" validate:"required,numeric"`
	Date      string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Method    string `json:"method,omitempty" validate:"max=64"`
	Reference string `json:"reference,omitempty" validate:"max=128"`
	Notes     string `json:"notes,omitempty" validate:"max=1000"`
}

// ConfirmPaymentRequest fields are all optional; omitted fields fall back
// to the lodger's submission.
type ConfirmPaymentRequest struct {
	Amount    *string `json:"amount,omitempty" validate:"omitempty,numeric"`
	Date      *string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Method    *string `json:"method,omitempty" validate:"omitempty,max=64"`
	Reference *string `json:"reference,omitempty" validate:"omitempty,max=128"`
	Notes     *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type WaiveRequest struct {
	Notes string `json:"notes" validate:"required,max=1000"`
}

// =============================================================================
// STATEMENT
// =============================================================================

type StatementLineDTO struct {
	ObligationDTO
	EffectiveStatus   string `json:"effective_status"`
	CreditApplied     string `json:"credit_applied"`
	AmountOutstanding string `json:"amount_outstanding"`
	CarriedBalance    string `json:"carried_balance"`
}

type StatementDTO struct {
	TenancyID   string             `json:"tenancy_id"`
	AsOf        string             `json:"as_of"`
	TotalDue    string             `json:"total_due"`
	TotalPaid   string             `json:"total_paid"`
	Outstanding string             `json:"outstanding"`
	Credit      string             `json:"credit"`
	Lines       []StatementLineDTO `json:"lines"`
}

type BalanceDTO struct {
	TenancyID   string `json:"tenancy_id"`
	Outstanding string `json:"outstanding"`
	Display     string `json:"display"`
}

// =============================================================================
// NOTICES
// =============================================================================

type NoticeDTO struct {
	ID                  string     `json:"id"`
	TenancyID           string     `json:"tenancy_id"`
	Type                string     `json:"type"`
	GivenBy             string     `json:"given_by"`
	GivenTo             string     `json:"given_to"`
	NoticeDate          time.Time  `json:"notice_date"`
	EffectiveDate       string     `json:"effective_date,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	Status              string     `json:"status"`
	BreachType          string     `json:"breach_type,omitempty"`
	BreachStage         string     `json:"breach_stage,omitempty"`
	RemedyDeadline      *time.Time `json:"remedy_deadline,omitempty"`
	TerminationDeadline *time.Time `json:"termination_deadline,omitempty"`
	ExtensionMonths     int        `json:"extension_months,omitempty"`
	ProposedRent        string     `json:"proposed_rent,omitempty"`
	CurrentRent         string     `json:"current_rent,omitempty"`
	NewEndDate          string     `json:"new_end_date,omitempty"`
	ExtensionStatus     string     `json:"extension_status,omitempty"`
	RespondedAt         *time.Time `json:"responded_at,omitempty"`
}

type GiveNoticeRequest struct {
	GivenBy          string `json:"given_by" validate:"required"`
	NoticePeriodDays int    `json:"notice_period_days" validate:"min=0,max=365"`
	Reason           string `json:"reason,omitempty" validate:"max=1000"`
}

type BreachRequest struct {
	GivenBy     string `json:"given_by" validate:"required"`
	BreachType  string `json:"breach_type" validate:"required,max=64"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	Immediate   bool   `json:"immediate"`
}

type ExtensionOfferRequest struct {
	GivenBy string  `json:"given_by" validate:"required"`
	Months  int     `json:"months" validate:"required,min=1,max=60"`
	NewRent *string `json:"new_rent,omitempty" validate:"omitempty,numeric"`
	Notes   string  `json:"notes,omitempty" validate:"max=1000"`
}

type ExtensionResponseRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

type SettlementDTO struct {
	Case            string        `json:"case"`
	TerminationAt   time.Time     `json:"termination_at"`
	LastDueDate     string        `json:"last_due_date"`
	LastCoveredDate string        `json:"last_covered_date"`
	CycleDays       int           `json:"cycle_days"`
	DailyRate       string        `json:"daily_rate"`
	Days            int           `json:"days"`
	ProRataAmount   string        `json:"pro_rata_amount"`
	AdvanceCredit   string        `json:"advance_credit"`
	FinalAmount     string        `json:"final_amount"`
	Note            string        `json:"note"`
	Obligation      ObligationDTO `json:"obligation"`
	PrunedPayments  []int         `json:"pruned_payments"`
	Superseded      string        `json:"superseded,omitempty"`
}

type NoticeOutcomeDTO struct {
	Tenancy    TenancyDTO     `json:"tenancy"`
	Notice     NoticeDTO      `json:"notice"`
	Settlement *SettlementDTO `json:"settlement,omitempty"`
}

type ExtensionOutcomeDTO struct {
	Tenancy TenancyDTO      `json:"tenancy"`
	Notice  NoticeDTO       `json:"notice"`
	Added   []ObligationDTO `json:"added"`
}

// =============================================================================
// ADMIN
// =============================================================================

type AsOfRequest struct {
	AsOf string `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type ReminderDTO struct {
	ID         string    `json:"id"`
	TenancyID  string    `json:"tenancy_id"`
	Kind       string    `json:"kind"`
	TargetDate string    `json:"target_date"`
	RaisedAt   time.Time `json:"raised_at"`
}

type SweepResponse struct {
	AsOf         string        `json:"as_of"`
	Scanned      int           `json:"scanned"`
	Deduplicated int           `json:"deduplicated"`
	Raised       []ReminderDTO `json:"raised"`
}

type TerminationsResponse struct {
	AsOf       string   `json:"as_of"`
	Terminated []string `json:"terminated"`
}

type TopUpResponse struct {
	Added int `json:"added"`
}

// ErrorResponse carries the error kind, the hints attached along the chain
// and any structured details (transition, rent cap, deadline fields).
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind"`
	Hints   []string       `json:"hints,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(m generic.Money) string {
	return m.Round2().Value.StringFixed(2)
}

func optDate(d *generic.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func toTenancyDTO(t tenancy.Tenancy) TenancyDTO {
	return TenancyDTO{
		ID:              t.ID,
		LandlordID:      t.LandlordID,
		LodgerID:        t.LodgerID,
		Room:            t.Room,
		StartDate:       t.StartDate.String(),
		EndDate:         optDate(t.EndDate),
		Rent:            money(t.MonthlyRent),
		AdvanceRent:     money(t.AdvanceRent),
		Currency:        string(t.MonthlyRent.Currency),
		Frequency:       string(t.Frequency),
		PaymentType:     string(t.PaymentType),
		PaymentDay:      t.PaymentDay,
		Status:          string(t.Status),
		TerminationDate: optDate(t.TerminationDate),
		Version:         t.Version,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func toObligationDTO(o tenancy.Obligation) ObligationDTO {
	dto := ObligationDTO{
		ID:            o.ID,
		TenancyID:     o.TenancyID,
		PaymentNumber: o.PaymentNumber,
		Kind:          string(o.Kind),
		DueDate:       o.DueDate.String(),
		RentDue:       money(o.RentDue),
		RentPaid:      money(o.RentPaid),
		Balance:       money(o.Balance()),
		Status:        string(o.Status),
		Notes:         o.Notes,
	}
	if s := o.Submitted; s != nil {
		dto.Submitted = &SubmissionDTO{
			Amount:      money(s.Amount),
			Date:        s.Date.String(),
			Method:      s.Method,
			Reference:   s.Reference,
			Notes:       s.Notes,
			SubmittedAt: s.SubmittedAt,
		}
	}
	if c := o.Confirmed; c != nil {
		dto.Confirmed = &ConfirmationDTO{
			Date:        c.Date.String(),
			Method:      c.Method,
			Reference:   c.Reference,
			Notes:       c.Notes,
			ConfirmedAt: c.ConfirmedAt,
		}
	}
	return dto
}

func toObligationDTOs(obligations []tenancy.Obligation) []ObligationDTO {
	return lo.Map(obligations, func(o tenancy.Obligation, _ int) ObligationDTO {
		return toObligationDTO(o)
	})
}

func toStatementDTO(s tenancy.Statement) StatementDTO {
	return StatementDTO{
		TenancyID:   s.TenancyID,
		AsOf:        s.AsOf.String(),
		TotalDue:    money(s.TotalDue),
		TotalPaid:   money(s.TotalPaid),
		Outstanding: money(s.Outstanding),
		Credit:      money(s.Credit()),
		Lines: lo.Map(s.Lines, func(l tenancy.StatementLine, _ int) StatementLineDTO {
			return StatementLineDTO{
				ObligationDTO:     toObligationDTO(l.Obligation),
				EffectiveStatus:   string(l.EffectiveStatus),
				CreditApplied:     money(l.CreditApplied),
				AmountOutstanding: money(l.AmountOutstanding),
				CarriedBalance:    money(l.CarriedBalance),
			}
		}),
	}
}

func toNoticeDTO(n tenancy.Notice) NoticeDTO {
	dto := NoticeDTO{
		ID:                  n.ID,
		TenancyID:           n.TenancyID,
		Type:                string(n.Type),
		GivenBy:             n.GivenBy,
		GivenTo:             n.GivenTo,
		NoticeDate:          n.NoticeDate,
		EffectiveDate:       optDate(n.EffectiveDate),
		Reason:              n.Reason,
		Status:              string(n.Status),
		BreachType:          n.BreachType,
		BreachStage:         string(n.BreachStage),
		RemedyDeadline:      n.RemedyDeadline,
		TerminationDeadline: n.TerminationDeadline,
		ExtensionMonths:     n.ExtensionMonths,
		NewEndDate:          optDate(n.NewEndDate),
		ExtensionStatus:     string(n.ExtensionStatus),
		RespondedAt:         n.RespondedAt,
	}
	if n.ProposedRent != nil {
		dto.ProposedRent = money(*n.ProposedRent)
	}
	if n.CurrentRent != nil {
		dto.CurrentRent = money(*n.CurrentRent)
	}
	return dto
}

func toNoticeDTOs(notices []tenancy.Notice) []NoticeDTO {
	return lo.Map(notices, func(n tenancy.Notice, _ int) NoticeDTO { return toNoticeDTO(n) })
}

func toSettlementDTO(r *tenancy.SettlementResult) *SettlementDTO {
	if r == nil {
		return nil
	}
	s := r.Settlement
	dto := &SettlementDTO{
		Case:            string(s.Case),
		TerminationAt:   s.TerminationAt,
		LastDueDate:     s.LastDueDate.String(),
		LastCoveredDate: s.LastCoveredDate.String(),
		CycleDays:       s.CycleDays,
		DailyRate:       money(s.DailyRate),
		Days:            s.Days,
		ProRataAmount:   money(s.ProRataAmount),
		AdvanceCredit:   money(s.AdvanceCredit),
		FinalAmount:     money(s.FinalAmount),
		Note:            s.Note,
		Obligation:      toObligationDTO(r.Obligation),
		PrunedPayments:  lo.Map(r.Pruned, func(o tenancy.Obligation, _ int) int { return o.PaymentNumber }),
	}
	if r.Superseded != nil {
		dto.Superseded = r.Superseded.ID
	}
	return dto
}

func toNoticeOutcomeDTO(out tenancy.NoticeOutcome) NoticeOutcomeDTO {
	return NoticeOutcomeDTO{
		Tenancy:    toTenancyDTO(out.Tenancy),
		Notice:     toNoticeDTO(out.Notice),
		Settlement: toSettlementDTO(out.Settlement),
	}
}

func toReminderDTO(r tenancy.Reminder) ReminderDTO {
	return ReminderDTO{
		ID:         r.ID,
		TenancyID:  r.TenancyID,
		Kind:       string(r.Kind),
		TargetDate: r.TargetDate.String(),
		RaisedAt:   r.RaisedAt,
	}
}
