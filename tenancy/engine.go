/*
engine.go - Atomic public operations over one tenancy

PURPOSE:
  The Engine is what the API and the CLI call. Each public operation:
    1. takes the tenancy's keyed lock (one writer per tenancy)
    2. opens one store transaction
    3. re-reads what it needs inside the transaction
    4. runs the pure component (ledger, notice machine, settlement)
    5. writes every resulting mutation through the transaction view
  Any error in 3-5 rolls the whole operation back. Tenancy writes carry an
  optimistic version, so a writer in another process surfaces as
  generic.ErrConcurrencyConflict rather than a lost update.

OPERATIONS:
  Lifecycle:  CreateTenancy, ActivateTenancy
  Schedule:   GenerateSchedule (preview), ExtendSchedule, TopUpSchedules
  Payments:   SubmitPayment, ConfirmPayment, WaiveObligation
  Notices:    GiveNotice, IssueBreachNotice, MarkRemedied, EscalateBreach,
              OfferExtension, RespondToExtension, CompleteDueTerminations
  Reads:      Tenancy, Tenancies, Obligation, Obligations, Notice, Notices,
              Statement, GetOutstandingBalance

SETTLEMENT:
  Every path that decides a termination date (notice, immediate breach,
  escalation) goes through applySettlement inside the same transaction:
    prune pending obligations after the date
    locate the last remaining rent obligation
    calculate and insert the settlement entry at the next payment number

SEE ALSO:
  - store.go: Store / TxStore contract
  - notice.go, ledger.go, settlement.go, schedule.go: the pure components
*/
package tenancy

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/logger"
)

type Engine struct {
	store    TxStore
	clock    generic.Clock
	log      *logger.Logger
	cfg      Config
	locks    *generic.KeyedMutex
	schedule ScheduleGenerator
	notices  NoticeMachine
}

func NewEngine(store TxStore, clock generic.Clock, log *logger.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = generic.RealClock()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		store:    store,
		clock:    clock,
		log:      log.Named("engine"),
		cfg:      cfg,
		locks:    generic.NewKeyedMutex(),
		schedule: NewScheduleGenerator(cfg.HorizonPeriods),
		notices:  NewNoticeMachine(cfg),
	}
}

func (e *Engine) Config() Config               { return e.cfg }
func (e *Engine) Clock() generic.Clock         { return e.clock }
func (e *Engine) NoticeMachine() NoticeMachine { return e.notices }

// =============================================================================
// RESULTS
// =============================================================================

// SettlementResult is everything applySettlement changed.
type SettlementResult struct {
	Settlement Settlement
	Obligation Obligation
	Pruned     []Obligation
	// Superseded is an earlier unpaid settlement replaced by this one.
	Superseded *Obligation
}

type NoticeOutcome struct {
	Tenancy    Tenancy
	Notice     Notice
	Settlement *SettlementResult
}

type ExtensionOutcome struct {
	Tenancy Tenancy
	Notice  Notice
	Added   []Obligation
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type CreateTenancyInput struct {
	LandlordID  string
	LodgerID    string
	Room        string
	StartDate   generic.Date
	EndDate     *generic.Date
	Rent        generic.Money
	Frequency   Frequency
	PaymentType PaymentType
	PaymentDay  int
}

// CreateTenancy stores a draft tenancy. No obligations exist until activation.
func (e *Engine) CreateTenancy(ctx context.Context, in CreateTenancyInput) (Tenancy, error) {
	if in.LandlordID == "" || in.LodgerID == "" {
		return Tenancy{}, generic.NewError("landlord and lodger are required").Mark(generic.ErrValidation)
	}
	if in.LandlordID == in.LodgerID {
		return Tenancy{}, generic.NewError("landlord and lodger must be different users").
			WithHintf("user %s cannot let a room to themselves", in.LandlordID).
			Mark(generic.ErrValidation)
	}
	if in.PaymentType == "" {
		in.PaymentType = PaymentTypeCycle
	}

	now := e.clock.Now()
	t := Tenancy{
		ID:          generic.NewID("ten"),
		LandlordID:  in.LandlordID,
		LodgerID:    in.LodgerID,
		Room:        in.Room,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		MonthlyRent: in.Rent,
		AdvanceRent: in.Rent.Zero(),
		Frequency:   in.Frequency,
		PaymentType: in.PaymentType,
		PaymentDay:  in.PaymentDay,
		Status:      StatusDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Terms().Validate(); err != nil {
		return Tenancy{}, err
	}
	if err := e.store.CreateTenancy(ctx, t); err != nil {
		return Tenancy{}, err
	}
	e.log.Infow("tenancy created", "tenancy_id", t.ID, "rent", t.MonthlyRent.String(), "frequency", t.Frequency)
	return t, nil
}

// ActivateTenancy moves a draft to active, captures the advance rent and
// populates the schedule.
func (e *Engine) ActivateTenancy(ctx context.Context, tenancyID string) (Tenancy, []Obligation, error) {
	var (
		out   Tenancy
		added []Obligation
	)
	err := e.withTenancy(ctx, tenancyID, func(tx Store) error {
		t, err := tx.GetTenancy(ctx, tenancyID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		t, err = moveTenancy(t, StatusActive, now)
		if err != nil {
			return err
		}
		t.AdvanceRent = t.MonthlyRent

		added, err = e.schedule.Generate(t.Terms(), generic.DateOf(now))
		if err != nil {
			return err
		}
		stamp(added, now)
		if err := tx.InsertObligations(ctx, added); err != nil {
			return err
		}
		if err := tx.UpdateTenancy(ctx, &t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return Tenancy{}, nil, err
	}
	if len(added) == 0 {
		e.log.Infow("tenancy activated with empty schedule", "tenancy_id", tenancyID)
	} else {
		e.log.Infow("tenancy activated", "tenancy_id", tenancyID, "obligations", len(added))
	}
	return out, added, nil
}

// =============================================================================
// SCHEDULE
// =============================================================================

// GenerateSchedule previews the schedule for terms as of today. Nothing is stored.
func (e *Engine) GenerateSchedule(terms Terms) ([]Obligation, error) {
	return e.schedule.Generate(terms, generic.Today(e.clock))
}

// ExtendSchedule appends the missing tail of the schedule up to newEnd (the
// tenancy's own end when nil). Returns only the new obligations; calling it
// again with the same end adds nothing.
func (e *Engine) ExtendSchedule(ctx context.Context, tenancyID string, newEnd *generic.Date) ([]Obligation, error) {
	var added []Obligation
	err := e.withTenancy(ctx, tenancyID, func(tx Store) error {
		t, err := tx.GetTenancy(ctx, tenancyID)
		if err != nil {
			return err
		}
		if !t.Status.IsLive() {
			return generic.NewError("schedule can only be extended on a live tenancy").
				WithHintf("tenancy %s is %s", t.ID, t.Status).
				WithDetails(map[string]any{"current_state": string(t.Status)}).
				Mark(generic.ErrInvalidState)
		}
		end := t.EndsOn()
		if newEnd != nil {
			if end != nil && newEnd.After(*end) {
				return generic.NewError("schedule cannot run past the tenancy end date").
					WithHintf("tenancy %s ends on %s; accept an extension offer to move it", t.ID, *end).
					WithDetails(map[string]any{"end_date": end.String(), "requested_end": newEnd.String()}).
					Mark(generic.ErrValidation)
			}
			end = newEnd
		}
		added, err = e.extendLocked(ctx, tx, t, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// TopUpSchedules keeps every live tenancy HorizonPeriods ahead of today.
// A failing tenancy is logged and skipped. Returns the number of obligations
// added.
func (e *Engine) TopUpSchedules(ctx context.Context) (int, error) {
	live, err := e.store.ListTenancies(ctx, StatusActive, StatusExtended)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, t := range live {
		added, err := e.ExtendSchedule(ctx, t.ID, nil)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			e.log.Warnw("schedule top-up failed", "tenancy_id", t.ID, "error", err)
			continue
		}
		total += len(added)
	}
	return total, nil
}

func (e *Engine) extendLocked(ctx context.Context, tx Store, t Tenancy, end *generic.Date) ([]Obligation, error) {
	existing, err := tx.ListObligations(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	added, err := e.schedule.Extend(t.Terms(), existing, end, generic.DateOf(now))
	if err != nil {
		return nil, err
	}
	if len(added) == 0 {
		return nil, nil
	}
	stamp(added, now)
	if err := tx.InsertObligations(ctx, added); err != nil {
		return nil, err
	}
	e.log.Infow("schedule extended", "tenancy_id", t.ID,
		"from", added[0].PaymentNumber, "to", added[len(added)-1].PaymentNumber)
	return added, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (e *Engine) SubmitPayment(ctx context.Context, obligationID string, in SubmitInput) (Obligation, error) {
	return e.mutateObligation(ctx, obligationID, func(o Obligation, now time.Time) (Obligation, error) {
		return Submit(o, in, now)
	})
}

func (e *Engine) ConfirmPayment(ctx context.Context, obligationID string, in ConfirmInput) (Obligation, error) {
	o, err := e.mutateObligation(ctx, obligationID, func(o Obligation, now time.Time) (Obligation, error) {
		return Confirm(o, in, now)
	})
	if err == nil {
		e.log.Infow("payment confirmed", "tenancy_id", o.TenancyID, "payment_number", o.PaymentNumber,
			"rent_paid", o.RentPaid.String(), "balance", o.Balance().String(), "status", o.Status)
	}
	return o, err
}

func (e *Engine) WaiveObligation(ctx context.Context, obligationID, notes string) (Obligation, error) {
	return e.mutateObligation(ctx, obligationID, func(o Obligation, now time.Time) (Obligation, error) {
		return Waive(o, notes, now)
	})
}

func (e *Engine) mutateObligation(ctx context.Context, obligationID string, fn func(Obligation, time.Time) (Obligation, error)) (Obligation, error) {
	current, err := e.store.GetObligation(ctx, obligationID)
	if err != nil {
		return Obligation{}, err
	}
	var out Obligation
	err = e.withTenancy(ctx, current.TenancyID, func(tx Store) error {
		o, err := tx.GetObligation(ctx, obligationID)
		if err != nil {
			return err
		}
		o, err = fn(o, e.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateObligation(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// =============================================================================
// NOTICES
// =============================================================================

// GiveNotice records a termination notice, decides the termination date and
// settles the account against it.
func (e *Engine) GiveNotice(ctx context.Context, tenancyID string, in GiveNoticeInput) (NoticeOutcome, error) {
	var out NoticeOutcome
	err := e.withTenancy(ctx, tenancyID, func(tx Store) error {
		t, err := tx.GetTenancy(ctx, tenancyID)
		if err != nil {
			return err
		}
		term, err := e.notices.GiveNotice(t, in, e.clock.Now())
		if err != nil {
			return err
		}
		out, err = e.commitTermination(ctx, tx, term, true)
		return err
	})
	if err != nil {
		return NoticeOutcome{}, err
	}
	e.logTermination("notice given", out)
	return out, nil
}

// IssueBreachNotice opens a breach. An immediate breach terminates and settles
// at once; otherwise the lodger has the remedy period.
func (e *Engine) IssueBreachNotice(ctx context.Context, tenancyID string, in BreachInput) (NoticeOutcome, error) {
	var out NoticeOutcome
	err := e.withTenancy(ctx, tenancyID, func(tx Store) error {
		t, err := tx.GetTenancy(ctx, tenancyID)
		if err != nil {
			return err
		}
		existing, err := tx.ListNotices(ctx, tenancyID)
		if err != nil {
			return err
		}
		term, err := e.notices.IssueBreach(t, existing, in, e.clock.Now())
		if err != nil {
			return err
		}
		if !in.Immediate {
			if err := tx.CreateNotice(ctx, term.Notice); err != nil {
				return err
			}
			out = NoticeOutcome{Tenancy: t, Notice: term.Notice}
			return nil
		}
		out, err = e.commitTermination(ctx, tx, term, true)
		return err
	})
	if err != nil {
		return NoticeOutcome{}, err
	}
	if in.Immediate {
		e.logTermination("immediate breach termination", out)
	} else {
		e.log.Infow("breach notice issued", "tenancy_id", tenancyID, "notice_id", out.Notice.ID,
			"remedy_deadline", out.Notice.RemedyDeadline)
	}
	return out, nil
}

func (e *Engine) MarkRemedied(ctx context.Context, noticeID string) (Notice, error) {
	var out Notice
	err := e.withNotice(ctx, noticeID, func(tx Store, n Notice) error {
		n, err := e.notices.MarkRemedied(n, e.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateNotice(ctx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return Notice{}, err
	}
	e.log.Infow("breach remedied", "tenancy_id", out.TenancyID, "notice_id", out.ID)
	return out, nil
}

// EscalateBreach moves a breach past its remedy deadline into the termination
// period and settles against the termination deadline.
func (e *Engine) EscalateBreach(ctx context.Context, noticeID string) (NoticeOutcome, error) {
	var out NoticeOutcome
	err := e.withNotice(ctx, noticeID, func(tx Store, n Notice) error {
		t, err := tx.GetTenancy(ctx, n.TenancyID)
		if err != nil {
			return err
		}
		term, err := e.notices.Escalate(t, n, e.clock.Now())
		if err != nil {
			return err
		}
		out, err = e.commitTermination(ctx, tx, term, false)
		return err
	})
	if err != nil {
		return NoticeOutcome{}, err
	}
	e.logTermination("breach escalated", out)
	return out, nil
}

func (e *Engine) OfferExtension(ctx context.Context, tenancyID string, in ExtensionInput) (Notice, error) {
	var out Notice
	err := e.withTenancy(ctx, tenancyID, func(tx Store) error {
		t, err := tx.GetTenancy(ctx, tenancyID)
		if err != nil {
			return err
		}
		existing, err := tx.ListNotices(ctx, tenancyID)
		if err != nil {
			return err
		}
		n, err := e.notices.OfferExtension(t, existing, in, e.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.CreateNotice(ctx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return Notice{}, err
	}
	e.log.Infow("extension offered", "tenancy_id", tenancyID, "notice_id", out.ID,
		"months", out.ExtensionMonths, "new_end", out.NewEndDate)
	return out, nil
}

// RespondToExtension records the lodger's answer. Acceptance extends the
// tenancy and its schedule in the same transaction.
func (e *Engine) RespondToExtension(ctx context.Context, noticeID string, accept bool) (ExtensionOutcome, error) {
	var out ExtensionOutcome
	err := e.withNotice(ctx, noticeID, func(tx Store, n Notice) error {
		t, err := tx.GetTenancy(ctx, n.TenancyID)
		if err != nil {
			return err
		}
		t, n, err = e.notices.RespondToExtension(t, n, accept, e.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateNotice(ctx, n); err != nil {
			return err
		}
		if accept {
			if err := tx.UpdateTenancy(ctx, &t); err != nil {
				return err
			}
			if out.Added, err = e.extendLocked(ctx, tx, t, t.EndsOn()); err != nil {
				return err
			}
		}
		out.Tenancy = t
		out.Notice = n
		return nil
	})
	if err != nil {
		return ExtensionOutcome{}, err
	}
	e.log.Infow("extension answered", "tenancy_id", out.Tenancy.ID, "notice_id", noticeID,
		"status", out.Notice.ExtensionStatus, "obligations_added", len(out.Added))
	return out, nil
}

// CompleteDueTerminations terminates every tenancy on notice whose
// termination date is on or before asOf. Returns the terminated IDs.
func (e *Engine) CompleteDueTerminations(ctx context.Context, asOf generic.Date) ([]string, error) {
	onNotice, err := e.store.ListTenancies(ctx, StatusNoticeGiven)
	if err != nil {
		return nil, err
	}
	due := lo.Filter(onNotice, func(t Tenancy, _ int) bool {
		return t.TerminationDate != nil && !t.TerminationDate.After(asOf)
	})

	var done []string
	for _, candidate := range due {
		err := e.withTenancy(ctx, candidate.ID, func(tx Store) error {
			t, err := tx.GetTenancy(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if t.Status != StatusNoticeGiven {
				return nil
			}
			notices, err := tx.ListNotices(ctx, t.ID)
			if err != nil {
				return err
			}
			t, changed, err := e.notices.CompleteTermination(t, notices, asOf, e.clock.Now())
			if err != nil {
				return err
			}
			for _, n := range changed {
				if err := tx.UpdateNotice(ctx, n); err != nil {
					return err
				}
			}
			if err := tx.UpdateTenancy(ctx, &t); err != nil {
				return err
			}
			done = append(done, t.ID)
			return nil
		})
		if err != nil {
			return done, err
		}
	}
	if len(done) > 0 {
		e.log.Infow("terminations completed", "count", len(done), "as_of", asOf.String())
	}
	return done, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// commitTermination writes a decided termination: settlement, tenancy and
// notice. createNotice is false when the notice already exists.
func (e *Engine) commitTermination(ctx context.Context, tx Store, term Termination, createNotice bool) (NoticeOutcome, error) {
	t := term.Tenancy
	result, err := e.applySettlement(ctx, tx, t, term.TerminationAt)
	if err != nil {
		return NoticeOutcome{}, err
	}
	if err := tx.UpdateTenancy(ctx, &t); err != nil {
		return NoticeOutcome{}, err
	}
	if createNotice {
		err = tx.CreateNotice(ctx, term.Notice)
	} else {
		err = tx.UpdateNotice(ctx, term.Notice)
	}
	if err != nil {
		return NoticeOutcome{}, err
	}
	return NoticeOutcome{Tenancy: t, Notice: term.Notice, Settlement: result}, nil
}

func (e *Engine) applySettlement(ctx context.Context, tx Store, t Tenancy, at time.Time) (*SettlementResult, error) {
	obligations, err := tx.ListObligations(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	keep, prune := PrunePending(obligations, generic.DateOf(at))

	result := &SettlementResult{}
	if prior, found := lo.Find(keep, func(o Obligation) bool { return o.Kind == KindSettlement }); found {
		if prior.Status != ObligationPending {
			return nil, generic.NewError("tenancy has already been settled").
				WithHintf("settlement %d is %s and cannot be replaced", prior.PaymentNumber, prior.Status).
				WithDetails(map[string]any{"obligation_id": prior.ID, "status": string(prior.Status)}).
				Mark(generic.ErrInvalidState)
		}
		keep = lo.Reject(keep, func(o Obligation, _ int) bool { return o.ID == prior.ID })
		prune = append(prune, prior)
		result.Superseded = &prior
	}

	last, ok := LastRentObligation(keep)
	if !ok {
		return nil, generic.NewError("no rent obligations to settle against").
			WithHintf("tenancy %s has no scheduled rent", t.ID).
			Mark(generic.ErrInvalidState)
	}

	s := CalculateSettlement(SettlementInput{
		TerminationAt: at,
		LastDueDate:   last.DueDate,
		CycleDays:     CycleDays(t.Frequency),
		Rent:          t.MonthlyRent,
		AdvanceCredit: t.AdvanceRent,
	})

	if len(prune) > 0 {
		ids := lo.Map(prune, func(o Obligation, _ int) string { return o.ID })
		if err := tx.DeleteObligations(ctx, ids); err != nil {
			return nil, err
		}
	}
	ob := s.Obligation(t.ID, NextPaymentNumber(keep), e.clock.Now())
	if err := tx.InsertObligations(ctx, []Obligation{ob}); err != nil {
		return nil, err
	}

	result.Settlement = s
	result.Obligation = ob
	result.Pruned = prune
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) Tenancy(ctx context.Context, id string) (Tenancy, error) {
	return e.store.GetTenancy(ctx, id)
}

func (e *Engine) Tenancies(ctx context.Context, statuses ...Status) ([]Tenancy, error) {
	return e.store.ListTenancies(ctx, statuses...)
}

func (e *Engine) Obligation(ctx context.Context, id string) (Obligation, error) {
	return e.store.GetObligation(ctx, id)
}

func (e *Engine) Obligations(ctx context.Context, tenancyID string) ([]Obligation, error) {
	if _, err := e.store.GetTenancy(ctx, tenancyID); err != nil {
		return nil, err
	}
	return e.store.ListObligations(ctx, tenancyID)
}

func (e *Engine) Notice(ctx context.Context, id string) (Notice, error) {
	return e.store.GetNotice(ctx, id)
}

func (e *Engine) Notices(ctx context.Context, tenancyID string) ([]Notice, error) {
	if _, err := e.store.GetTenancy(ctx, tenancyID); err != nil {
		return nil, err
	}
	return e.store.ListNotices(ctx, tenancyID)
}

// Statement builds the ledger view as of asOf (today when nil).
func (e *Engine) Statement(ctx context.Context, tenancyID string, asOf *generic.Date) (Statement, error) {
	t, err := e.store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return Statement{}, err
	}
	obligations, err := e.store.ListObligations(ctx, tenancyID)
	if err != nil {
		return Statement{}, err
	}
	day := generic.Today(e.clock)
	if asOf != nil {
		day = *asOf
	}
	return BuildStatement(tenancyID, obligations, day, t.MonthlyRent.Currency), nil
}

// GetOutstandingBalance is what the lodger owes today after credit carried
// forward. Negative means the lodger is in credit.
func (e *Engine) GetOutstandingBalance(ctx context.Context, tenancyID string) (generic.Money, error) {
	st, err := e.Statement(ctx, tenancyID, nil)
	if err != nil {
		return generic.Money{}, err
	}
	return st.Outstanding, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) withTenancy(ctx context.Context, tenancyID string, fn func(tx Store) error) error {
	unlock := e.locks.Lock(tenancyID)
	defer unlock()
	return e.store.WithTx(ctx, fn)
}

func (e *Engine) withNotice(ctx context.Context, noticeID string, fn func(tx Store, n Notice) error) error {
	current, err := e.store.GetNotice(ctx, noticeID)
	if err != nil {
		return err
	}
	return e.withTenancy(ctx, current.TenancyID, func(tx Store) error {
		n, err := tx.GetNotice(ctx, noticeID)
		if err != nil {
			return err
		}
		return fn(tx, n)
	})
}

func (e *Engine) logTermination(event string, out NoticeOutcome) {
	fields := []interface{}{
		"tenancy_id", out.Tenancy.ID,
		"notice_id", out.Notice.ID,
		"status", out.Tenancy.Status,
	}
	if out.Tenancy.TerminationDate != nil {
		fields = append(fields, "termination_date", out.Tenancy.TerminationDate.String())
	}
	if s := out.Settlement; s != nil {
		fields = append(fields,
			"settlement", s.Settlement.FinalAmount.String(),
			"settlement_case", s.Settlement.Case,
			"pruned", len(s.Pruned))
	}
	e.log.Infow(event, fields...)
}

func stamp(obligations []Obligation, now time.Time) {
	for i := range obligations {
		obligations[i].CreatedAt = now
		obligations[i].UpdatedAt = now
	}
}
