/*
notice.go - Notice, breach and extension state machines

PURPOSE:
  One explicit transition table per notice type plus one for the tenancy
  itself. Every mutation goes through a table check first, so the notice's
  stage and the tenancy's status cannot drift apart.

TENANCY:
  draft ──▶ active ──▶ notice_given ──▶ terminated
              │  ▲          ▲
              │  └─ extended┘ (extended ──▶ extended on a further offer)
              └────────────────────────▶ terminated (immediate)

TERMINATION NOTICE (given by landlord or lodger):
  period 0  ─▶ tenancy terminated today, notice completed
  period N  ─▶ tenancy notice_given, ends notice date + N, notice active

BREACH NOTICE:
  remedy_period ──mark remedied──▶ remedied            (notice completed)
        │
        └──escalate (now >= remedy deadline)──▶ termination_period
                                                (tenancy notice_given)

EXTENSION OFFER:
  pending ──accept──▶ accepted (tenancy extended, new end date and rent)
     └─────reject──▶ rejected

  Rent may rise by at most RentCapPercent; offers above it are refused with
  the maximum permissible rent, never clamped. One pending offer at a time.

PURITY:
  NoticeMachine methods take values and return new values. Settlement,
  pruning and persistence are applied by the Engine in the same transaction.

SEE ALSO:
  - engine.go: Orchestrates these transitions atomically
  - settlement.go: Invoked when a termination date is decided
*/
package tenancy

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/lodger-engine/generic"
)

// =============================================================================
// TRANSITION TABLES
// =============================================================================

var tenancyTransitions = map[Status][]Status{
	StatusDraft:       {StatusActive},
	StatusActive:      {StatusNoticeGiven, StatusTerminated, StatusExtended},
	StatusExtended:    {StatusNoticeGiven, StatusTerminated, StatusExtended},
	StatusNoticeGiven: {StatusTerminated},
	StatusTerminated:  {},
}

var breachTransitions = map[BreachStage][]BreachStage{
	BreachRemedyPeriod:      {BreachRemedied, BreachTerminationPeriod},
	BreachTerminationPeriod: {},
	BreachRemedied:          {},
}

var extensionTransitions = map[ExtensionStatus][]ExtensionStatus{
	ExtensionPending:  {ExtensionAccepted, ExtensionRejected},
	ExtensionAccepted: {},
	ExtensionRejected: {},
}

func validateTransition[S ~string](table map[S][]S, entity, id string, from, to S) error {
	if lo.Contains(table[from], to) {
		return nil
	}
	return &generic.TransitionError{Entity: entity, ID: id, From: string(from), To: string(to)}
}

// CanTransition reports whether the tenancy may move to status to.
func CanTransition(t Tenancy, to Status) error {
	return validateTransition(tenancyTransitions, "tenancy", t.ID, t.Status, to)
}

func moveTenancy(t Tenancy, to Status, now time.Time) (Tenancy, error) {
	if err := CanTransition(t, to); err != nil {
		return t, err
	}
	t.Status = to
	t.UpdatedAt = now
	return t, nil
}

// =============================================================================
// NOTICE MACHINE
// =============================================================================

type NoticeMachine struct {
	RemedyDays      int
	TerminationDays int
	RentCapPercent  decimal.Decimal
}

func NewNoticeMachine(cfg Config) NoticeMachine {
	cfg = cfg.withDefaults()
	return NoticeMachine{
		RemedyDays:      cfg.RemedyDays,
		TerminationDays: cfg.TerminationDays,
		RentCapPercent:  cfg.RentCapPercent,
	}
}

// Termination carries a decided termination: the updated tenancy, the notice
// and the instant settlement is computed against.
type Termination struct {
	Tenancy       Tenancy
	Notice        Notice
	TerminationAt time.Time
}

// -----------------------------------------------------------------------------
// Termination notice
// -----------------------------------------------------------------------------

type GiveNoticeInput struct {
	GivenBy          string
	NoticePeriodDays int
	Reason           string
}

func (m NoticeMachine) GiveNotice(t Tenancy, in GiveNoticeInput, now time.Time) (Termination, error) {
	if in.NoticePeriodDays < 0 {
		return Termination{}, generic.NewError("notice period cannot be negative").
			WithHintf("notice period of %d days is not allowed", in.NoticePeriodDays).
			WithDetails(map[string]any{"notice_period_days": in.NoticePeriodDays, "min": 0}).
			Mark(generic.ErrValidation)
	}
	givenTo, ok := t.OtherParty(in.GivenBy)
	if !ok {
		return Termination{}, generic.NewError("notice must be given by the landlord or the lodger").
			WithHintf("user %s is not a party to tenancy %s", in.GivenBy, t.ID).
			Mark(generic.ErrValidation)
	}

	noticeDate := generic.DateOf(now)
	effective := noticeDate.AddDays(in.NoticePeriodDays)
	target := StatusNoticeGiven
	status := NoticeActive
	if in.NoticePeriodDays == 0 {
		target = StatusTerminated
		status = NoticeCompleted
	}

	updated, err := moveTenancy(t, target, now)
	if err != nil {
		return Termination{}, err
	}
	updated.TerminationDate = &effective

	n := Notice{
		ID:            generic.NewID("ntc"),
		TenancyID:     t.ID,
		Type:          NoticeTermination,
		GivenBy:       in.GivenBy,
		GivenTo:       givenTo,
		NoticeDate:    now,
		EffectiveDate: &effective,
		Reason:        in.Reason,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return Termination{Tenancy: updated, Notice: n, TerminationAt: effective.Time}, nil
}

// -----------------------------------------------------------------------------
// Breach notice
// -----------------------------------------------------------------------------

type BreachInput struct {
	GivenBy     string // defaults to the landlord
	BreachType  string
	Description string
	// Immediate terminates at once for a serious breach, skipping the
	// remedy period.
	Immediate bool
}

// IssueBreach opens a breach notice. Immediate breaches also return a
// termination; otherwise the returned Termination has a zero TerminationAt.
func (m NoticeMachine) IssueBreach(t Tenancy, existing []Notice, in BreachInput, now time.Time) (Termination, error) {
	if !t.Status.IsLive() {
		return Termination{}, generic.NewError("tenancy is not live").
			WithHintf("a breach notice cannot be issued on a %s tenancy", t.Status).
			WithDetails(map[string]any{"current_state": string(t.Status)}).
			Mark(generic.ErrInvalidState)
	}
	if t.Status == StatusNoticeGiven && !in.Immediate {
		return Termination{}, generic.NewError("tenancy is already on notice").
			WithHintf("tenancy %s is already ending; only an immediate breach can end it sooner", t.ID).
			WithDetails(map[string]any{"current_state": string(t.Status)}).
			Mark(generic.ErrInvalidState)
	}
	if active, found := lo.Find(existing, func(n Notice) bool { return n.IsActiveBreach() }); found {
		return Termination{}, generic.NewError("an active breach notice already exists").
			WithHintf("breach notice %s is still in %s", active.ID, active.BreachStage).
			WithDetails(map[string]any{"notice_id": active.ID, "breach_stage": string(active.BreachStage)}).
			Mark(generic.ErrInvalidState)
	}

	givenBy := in.GivenBy
	if givenBy == "" {
		givenBy = t.LandlordID
	}
	givenTo, ok := t.OtherParty(givenBy)
	if !ok {
		return Termination{}, generic.NewError("breach notice must be given by a party to the tenancy").
			WithHintf("user %s is not a party to tenancy %s", givenBy, t.ID).
			Mark(generic.ErrValidation)
	}

	n := Notice{
		ID:         generic.NewID("ntc"),
		TenancyID:  t.ID,
		Type:       NoticeBreach,
		GivenBy:    givenBy,
		GivenTo:    givenTo,
		NoticeDate: now,
		Reason:     in.Description,
		Status:     NoticeActive,
		BreachType: in.BreachType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if in.Immediate {
		updated, err := moveTenancy(t, StatusTerminated, now)
		if err != nil {
			return Termination{}, err
		}
		today := generic.DateOf(now)
		updated.TerminationDate = &today
		n.BreachStage = BreachTerminationPeriod
		n.TerminationDeadline = &now
		n.EffectiveDate = &today
		n.Status = NoticeCompleted
		return Termination{Tenancy: updated, Notice: n, TerminationAt: now}, nil
	}

	deadline := now.AddDate(0, 0, m.RemedyDays)
	n.BreachStage = BreachRemedyPeriod
	n.RemedyDeadline = &deadline
	return Termination{Tenancy: t, Notice: n}, nil
}

// MarkRemedied closes a breach in its remedy period. The tenancy is untouched.
func (m NoticeMachine) MarkRemedied(n Notice, now time.Time) (Notice, error) {
	if err := requireType(n, NoticeBreach); err != nil {
		return n, err
	}
	if err := validateTransition(breachTransitions, "breach_notice", n.ID, n.BreachStage, BreachRemedied); err != nil {
		return n, err
	}
	n.BreachStage = BreachRemedied
	n.Status = NoticeCompleted
	n.UpdatedAt = now
	return n, nil
}

// Escalate moves a breach past its remedy deadline into the termination
// period and puts the tenancy on notice.
func (m NoticeMachine) Escalate(t Tenancy, n Notice, now time.Time) (Termination, error) {
	if err := requireType(n, NoticeBreach); err != nil {
		return Termination{}, err
	}
	if err := validateTransition(breachTransitions, "breach_notice", n.ID, n.BreachStage, BreachTerminationPeriod); err != nil {
		return Termination{}, err
	}
	if n.RemedyDeadline == nil || now.Before(*n.RemedyDeadline) {
		deadline := now
		if n.RemedyDeadline != nil {
			deadline = *n.RemedyDeadline
		}
		return Termination{}, &generic.DeadlineError{Operation: "breach escalation", Deadline: deadline, Now: now}
	}

	updated, err := moveTenancy(t, StatusNoticeGiven, now)
	if err != nil {
		return Termination{}, err
	}
	deadline := now.AddDate(0, 0, m.TerminationDays)
	terminationDate := generic.DateOf(deadline)
	updated.TerminationDate = &terminationDate

	n.BreachStage = BreachTerminationPeriod
	n.TerminationDeadline = &deadline
	n.EffectiveDate = &terminationDate
	n.UpdatedAt = now
	return Termination{Tenancy: updated, Notice: n, TerminationAt: deadline}, nil
}

// -----------------------------------------------------------------------------
// Extension offer
// -----------------------------------------------------------------------------

type ExtensionInput struct {
	GivenBy string // defaults to the landlord
	Months  int
	// NewRent is the proposed period rent; nil keeps the current rent.
	NewRent *generic.Money
	Notes   string
}

// MaxRent is the highest rent an extension may propose against baseline.
func (m NoticeMachine) MaxRent(baseline generic.Money) generic.Money {
	factor := decimal.NewFromInt(1).Add(m.RentCapPercent.Div(decimal.NewFromInt(100)))
	return baseline.Mul(factor).Round2()
}

// RentBaseline is the rent the annual cap is measured from: the rent before
// the earliest extension accepted in the year up to now, or the current rent
// when there was none.
func RentBaseline(t Tenancy, existing []Notice, now time.Time) generic.Money {
	yearAgo := now.AddDate(-1, 0, 0)
	accepted := lo.Filter(existing, func(n Notice, _ int) bool {
		return n.Type == NoticeExtensionOffer && n.ExtensionStatus == ExtensionAccepted &&
			n.CurrentRent != nil && n.RespondedAt != nil && n.RespondedAt.After(yearAgo)
	})
	if len(accepted) == 0 {
		return t.MonthlyRent
	}
	earliest := lo.MinBy(accepted, func(a, b Notice) bool { return a.RespondedAt.Before(*b.RespondedAt) })
	return *earliest.CurrentRent
}

func (m NoticeMachine) OfferExtension(t Tenancy, existing []Notice, in ExtensionInput, now time.Time) (Notice, error) {
	if t.Status != StatusActive && t.Status != StatusExtended {
		return Notice{}, generic.NewError("tenancy cannot be extended").
			WithHintf("an extension cannot be offered on a %s tenancy", t.Status).
			WithDetails(map[string]any{"current_state": string(t.Status)}).
			Mark(generic.ErrInvalidState)
	}
	if pending, found := lo.Find(existing, func(n Notice) bool { return n.IsPendingOffer() }); found {
		return Notice{}, generic.NewError("an extension offer is already pending").
			WithHintf("extension offer %s is awaiting the lodger's response", pending.ID).
			WithDetails(map[string]any{"notice_id": pending.ID}).
			Mark(generic.ErrInvalidState)
	}
	if in.Months <= 0 {
		return Notice{}, generic.NewError("extension must be at least one month").
			WithHintf("extension of %d months is not allowed", in.Months).
			WithDetails(map[string]any{"extension_months": in.Months, "min": 1}).
			Mark(generic.ErrValidation)
	}

	rent := t.MonthlyRent
	if in.NewRent != nil {
		if !in.NewRent.IsPositive() {
			return Notice{}, generic.NewError("proposed rent must be positive").
				WithHintf("proposed rent %s is not a positive amount", *in.NewRent).
				Mark(generic.ErrValidation)
		}
		if max := m.MaxRent(RentBaseline(t, existing, now)); in.NewRent.GreaterThan(max) {
			return Notice{}, &generic.RentCapError{Current: t.MonthlyRent, Proposed: *in.NewRent, Max: max}
		}
		rent = *in.NewRent
	}

	givenBy := in.GivenBy
	if givenBy == "" {
		givenBy = t.LandlordID
	}
	givenTo, ok := t.OtherParty(givenBy)
	if !ok {
		return Notice{}, generic.NewError("extension must be offered by a party to the tenancy").
			WithHintf("user %s is not a party to tenancy %s", givenBy, t.ID).
			Mark(generic.ErrValidation)
	}

	current := t.MonthlyRent
	base := generic.DateOf(now)
	if t.EndDate != nil && t.EndDate.After(base) {
		base = *t.EndDate
	}
	newEnd := base.AddMonthsClamped(in.Months)

	return Notice{
		ID:              generic.NewID("ntc"),
		TenancyID:       t.ID,
		Type:            NoticeExtensionOffer,
		GivenBy:         givenBy,
		GivenTo:         givenTo,
		NoticeDate:      now,
		EffectiveDate:   &newEnd,
		Reason:          in.Notes,
		Status:          NoticeActive,
		ExtensionMonths: in.Months,
		ProposedRent:    &rent,
		CurrentRent:     &current,
		NewEndDate:      &newEnd,
		ExtensionStatus: ExtensionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// RespondToExtension applies the lodger's answer. On acceptance the returned
// tenancy carries the new end date and rent; the caller extends the schedule.
func (m NoticeMachine) RespondToExtension(t Tenancy, n Notice, accept bool, now time.Time) (Tenancy, Notice, error) {
	if err := requireType(n, NoticeExtensionOffer); err != nil {
		return t, n, err
	}
	to := ExtensionRejected
	if accept {
		to = ExtensionAccepted
	}
	if err := validateTransition(extensionTransitions, "extension_offer", n.ID, n.ExtensionStatus, to); err != nil {
		return t, n, err
	}

	if accept {
		updated, err := moveTenancy(t, StatusExtended, now)
		if err != nil {
			return t, n, err
		}
		updated.EndDate = n.NewEndDate
		if n.ProposedRent != nil {
			updated.MonthlyRent = *n.ProposedRent
		}
		t = updated
	}

	n.ExtensionStatus = to
	n.Status = NoticeCompleted
	n.RespondedAt = &now
	n.UpdatedAt = now
	return t, n, nil
}

// -----------------------------------------------------------------------------
// Completion
// -----------------------------------------------------------------------------

// CompleteTermination terminates a tenancy on notice whose termination date
// is on or before asOf and completes its open termination/breach notices.
func (m NoticeMachine) CompleteTermination(t Tenancy, notices []Notice, asOf generic.Date, now time.Time) (Tenancy, []Notice, error) {
	if t.TerminationDate == nil || asOf.Before(*t.TerminationDate) {
		return t, nil, generic.NewError("termination date has not been reached").
			WithHintf("tenancy %s is not due to terminate yet", t.ID).
			Mark(generic.ErrInvalidState)
	}
	updated, err := moveTenancy(t, StatusTerminated, now)
	if err != nil {
		return t, nil, err
	}
	var changed []Notice
	for _, n := range notices {
		if n.Status != NoticeActive || n.Type == NoticeExtensionOffer {
			continue
		}
		n.Status = NoticeCompleted
		n.UpdatedAt = now
		changed = append(changed, n)
	}
	return updated, changed, nil
}

func requireType(n Notice, want NoticeType) error {
	if n.Type == want {
		return nil
	}
	return generic.NewError(fmt.Sprintf("notice is not a %s notice", want)).
		WithHintf("notice %s is a %s notice", n.ID, n.Type).
		WithDetails(map[string]any{"notice_type": string(n.Type)}).
		Mark(generic.ErrInvalidState)
}
