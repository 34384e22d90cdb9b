package tenancy_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/store/memory"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type engineFixture struct {
	engine *tenancy.Engine
	store  *memory.Memory
	clock  *generic.FixedClock
}

func newEngineFixture(t *testing.T, now time.Time) *engineFixture {
	t.Helper()
	store := memory.New()
	clock := generic.NewFixedClock(now)
	return &engineFixture{
		engine: tenancy.NewEngine(store, clock, nil, tenancy.DefaultConfig()),
		store:  store,
		clock:  clock,
	}
}

// startTenancy creates and activates a 4-weekly £850 tenancy from 2025-10-15.
func (f *engineFixture) startTenancy(t *testing.T, end *generic.Date) (tenancy.Tenancy, []tenancy.Obligation) {
	t.Helper()
	ctx := context.Background()
	created, err := f.engine.CreateTenancy(ctx, tenancy.CreateTenancyInput{
		LandlordID: "landlord-1",
		LodgerID:   "lodger-1",
		Room:       "back bedroom",
		StartDate:  date("2025-10-15"),
		EndDate:    end,
		Rent:       generic.GBP(850),
		Frequency:  tenancy.FrequencyFourWeekly,
	})
	require.NoError(t, err)
	active, obligations, err := f.engine.ActivateTenancy(ctx, created.ID)
	require.NoError(t, err)
	return active, obligations
}

func (f *engineFixture) obligations(t *testing.T, tenancyID string) []tenancy.Obligation {
	t.Helper()
	out, err := f.engine.Obligations(context.Background(), tenancyID)
	require.NoError(t, err)
	return out
}

func settlements(obligations []tenancy.Obligation) []tenancy.Obligation {
	var out []tenancy.Obligation
	for _, o := range obligations {
		if o.Kind == tenancy.KindSettlement {
			out = append(out, o)
		}
	}
	return out
}

var activationTime = time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestEngine_CreateAndActivate(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ctx := context.Background()

	// GIVEN: A draft tenancy
	created, err := f.engine.CreateTenancy(ctx, tenancy.CreateTenancyInput{
		LandlordID: "landlord-1", LodgerID: "lodger-1",
		StartDate: date("2025-10-15"), Rent: generic.GBP(850), Frequency: tenancy.FrequencyFourWeekly,
	})
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusDraft, created.Status)
	assert.Equal(t, tenancy.PaymentTypeCycle, created.PaymentType)
	assert.Empty(t, f.obligations(t, created.ID), "no schedule before activation")

	// WHEN: Activating it
	active, added, err := f.engine.ActivateTenancy(ctx, created.ID)
	require.NoError(t, err)

	// THEN: The schedule exists and the advance rent is captured
	assert.Equal(t, tenancy.StatusActive, active.Status)
	assert.Equal(t, 2, active.Version)
	assert.True(t, active.AdvanceRent.Equal(generic.GBP(850)))
	assert.Len(t, added, 12)
	assert.Len(t, f.obligations(t, created.ID), 12)

	// WHEN: Activating again
	_, _, err = f.engine.ActivateTenancy(ctx, created.ID)

	// THEN: The tenancy is no longer a draft
	var te *generic.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestEngine_CreateRejectsSamePerson(t *testing.T) {
	f := newEngineFixture(t, activationTime)

	_, err := f.engine.CreateTenancy(context.Background(), tenancy.CreateTenancyInput{
		LandlordID: "user-1", LodgerID: "user-1",
		StartDate: date("2025-10-15"), Rent: generic.GBP(850), Frequency: tenancy.FrequencyWeekly,
	})

	assert.True(t, generic.IsValidation(err))
}

func TestEngine_NotFound(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ctx := context.Background()

	_, err := f.engine.Tenancy(ctx, "ten_missing")
	assert.True(t, generic.IsNotFound(err))

	_, err = f.engine.SubmitPayment(ctx, "obl_missing", tenancy.SubmitInput{Amount: generic.GBP(10)})
	assert.True(t, generic.IsNotFound(err))

	_, err = f.engine.EscalateBreach(ctx, "ntc_missing")
	assert.True(t, generic.IsNotFound(err))

	_, err = f.engine.Statement(ctx, "ten_missing", nil)
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// SCHEDULE
// =============================================================================

func TestEngine_TopUpSchedules(t *testing.T) {
	// GIVEN: An open-ended tenancy activated on 2025-10-15
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)

	// WHEN: The daily top-up runs on 2025-12-10
	f.clock.Set(time.Date(2025, 12, 10, 6, 0, 0, 0, time.UTC))
	added, err := f.engine.TopUpSchedules(context.Background())
	require.NoError(t, err)

	// THEN: Two payments keep the horizon twelve ahead
	assert.Equal(t, 2, added)
	assert.Len(t, f.obligations(t, ten.ID), 14)

	// WHEN: It runs again the same day
	added, err = f.engine.TopUpSchedules(context.Background())

	// THEN: Nothing more is added
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestEngine_ExtendSchedule(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, datePtr("2026-04-15"))
	ctx := context.Background()

	added, err := f.engine.ExtendSchedule(ctx, ten.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, added, "schedule already reaches the end date")

	_, err = f.engine.ExtendSchedule(ctx, ten.ID, datePtr("2026-06-01"))
	assert.True(t, generic.IsValidation(err), "cannot schedule past the end date")
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestEngine_PaymentWorkflow(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, obligations := f.startTenancy(t, nil)
	ctx := context.Background()
	first := obligations[0]

	// GIVEN: The lodger submits the first payment
	submitted, err := f.engine.SubmitPayment(ctx, first.ID, tenancy.SubmitInput{Amount: generic.GBP(1700)})
	require.NoError(t, err)
	assert.Equal(t, tenancy.ObligationSubmitted, submitted.Status)

	balance, err := f.engine.GetOutstandingBalance(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, "1700.00", balance.Value.StringFixed(2), "a submission is not a receipt")

	// WHEN: The landlord confirms it
	paid, err := f.engine.ConfirmPayment(ctx, first.ID, tenancy.ConfirmInput{})
	require.NoError(t, err)

	// THEN: Nothing is owed
	assert.Equal(t, tenancy.ObligationPaid, paid.Status)
	balance, err = f.engine.GetOutstandingBalance(ctx, ten.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	stored, err := f.engine.Obligation(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.RentPaid.Equal(generic.GBP(1700)))
}

// =============================================================================
// NOTICE AND SETTLEMENT
// =============================================================================

func TestEngine_NoticeWithinScheduleSettlesRefund(t *testing.T) {
	// GIVEN: A tenancy to 2026-01-01 with all three payments confirmed
	f := newEngineFixture(t, activationTime)
	ten, obligations := f.startTenancy(t, datePtr("2026-01-01"))
	require.Len(t, obligations, 3)
	ctx := context.Background()
	for _, o := range obligations {
		_, err := f.engine.ConfirmPayment(ctx, o.ID, tenancy.ConfirmInput{Amount: &o.RentDue})
		require.NoError(t, err)
	}

	// WHEN: The lodger gives 28 days' notice on 2025-12-15
	f.clock.Set(noticeNow)
	out, err := f.engine.GiveNotice(ctx, ten.ID, tenancy.GiveNoticeInput{GivenBy: "lodger-1", NoticePeriodDays: 28})
	require.NoError(t, err)

	// THEN: A refund settlement of £698.21 is due on 2026-01-12
	assert.Equal(t, tenancy.StatusNoticeGiven, out.Tenancy.Status)
	require.NotNil(t, out.Settlement)
	s := out.Settlement.Obligation
	assert.Equal(t, 4, s.PaymentNumber)
	assert.Equal(t, "2026-01-12", s.DueDate.String())
	assert.Equal(t, "-698.21", s.RentDue.Value.StringFixed(2))
	assert.Empty(t, out.Settlement.Pruned)

	stored := f.obligations(t, ten.ID)
	assert.Len(t, stored, 4)

	st, err := f.engine.Statement(ctx, ten.ID, datePtr("2026-01-12"))
	require.NoError(t, err)
	assert.Equal(t, "698.21", st.Credit().Value.StringFixed(2))

	notices, err := f.engine.Notices(ctx, ten.ID)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, tenancy.NoticeTermination, notices[0].Type)
}

func TestEngine_NoticePrunesFutureObligations(t *testing.T) {
	// GIVEN: An open-ended tenancy with twelve scheduled payments
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)

	// WHEN: The lodger gives 28 days' notice on 2025-12-15
	f.clock.Set(noticeNow)
	out, err := f.engine.GiveNotice(context.Background(), ten.ID, tenancy.GiveNoticeInput{
		GivenBy: "lodger-1", NoticePeriodDays: 28,
	})
	require.NoError(t, err)

	// THEN: Payments #5-#12 are dropped and #4 (due 2026-01-07) is kept
	assert.Len(t, out.Settlement.Pruned, 8)
	stored := f.obligations(t, ten.ID)
	require.Len(t, stored, 5)
	assert.Equal(t, "2026-01-07", stored[3].DueDate.String())

	// AND: 23 paid-for days after termination come back with the advance
	s := out.Settlement
	assert.Equal(t, tenancy.SettlementUnusedDays, s.Settlement.Case)
	assert.Equal(t, 23, s.Settlement.Days)
	assert.Equal(t, 5, s.Obligation.PaymentNumber)
	assert.Equal(t, "-1548.21", s.Obligation.RentDue.Value.StringFixed(2))

	// AND: The settlement is the last thing scheduled
	added, err := f.engine.ExtendSchedule(context.Background(), ten.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestEngine_FailedSettlementRollsBack(t *testing.T) {
	// GIVEN: A tenancy whose store fails to insert obligations inside transactions
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	broken := tenancy.NewEngine(failingInserts{f.store}, f.clock, nil, tenancy.DefaultConfig())
	f.clock.Set(noticeNow)

	// WHEN: Notice is given and the settlement insert fails after pruning
	_, err := broken.GiveNotice(context.Background(), ten.ID, tenancy.GiveNoticeInput{
		GivenBy: "lodger-1", NoticePeriodDays: 28,
	})
	require.Error(t, err)

	// THEN: Nothing changed: no pruning, no notice, still active
	assert.Len(t, f.obligations(t, ten.ID), 12)
	current, err := f.engine.Tenancy(context.Background(), ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusActive, current.Status)
	assert.Nil(t, current.TerminationDate)
	notices, err := f.engine.Notices(context.Background(), ten.ID)
	require.NoError(t, err)
	assert.Empty(t, notices)
}

func TestEngine_ImmediateBreachReplacesPendingSettlement(t *testing.T) {
	// GIVEN: A tenancy already on notice with a pending settlement
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	f.clock.Set(noticeNow)
	ctx := context.Background()
	_, err := f.engine.GiveNotice(ctx, ten.ID, tenancy.GiveNoticeInput{GivenBy: "lodger-1", NoticePeriodDays: 28})
	require.NoError(t, err)

	// WHEN: The landlord terminates immediately for a serious breach
	out, err := f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "violence", Immediate: true})
	require.NoError(t, err)

	// THEN: The tenancy ends today with exactly one settlement
	assert.Equal(t, tenancy.StatusTerminated, out.Tenancy.Status)
	assert.Equal(t, "2025-12-15", out.Tenancy.TerminationDate.String())
	found := settlements(f.obligations(t, ten.ID))
	require.Len(t, found, 1)
	assert.Equal(t, out.Settlement.Obligation.ID, found[0].ID)
	assert.Equal(t, 4, found[0].PaymentNumber)
}

func TestEngine_ConfirmedSettlementIsFinal(t *testing.T) {
	// GIVEN: A tenancy on notice whose refund has been paid out
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	f.clock.Set(noticeNow)
	ctx := context.Background()
	notice, err := f.engine.GiveNotice(ctx, ten.ID, tenancy.GiveNoticeInput{GivenBy: "lodger-1", NoticePeriodDays: 28})
	require.NoError(t, err)
	refund := notice.Settlement.Obligation
	_, err = f.engine.ConfirmPayment(ctx, refund.ID, tenancy.ConfirmInput{Amount: money(1548.21)})
	require.NoError(t, err)

	// WHEN: An immediate breach tries to settle again
	_, err = f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "violence", Immediate: true})

	// THEN: It is refused and nothing moves
	assert.True(t, generic.IsInvalidState(err))
	current, err := f.engine.Tenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusNoticeGiven, current.Status)
	assert.Len(t, f.obligations(t, ten.ID), 5)
}

func TestEngine_CompleteDueTerminationsIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	f.clock.Set(noticeNow)
	ctx := context.Background()
	_, err := f.engine.GiveNotice(ctx, ten.ID, tenancy.GiveNoticeInput{GivenBy: "landlord-1", NoticePeriodDays: 28})
	require.NoError(t, err)

	done, err := f.engine.CompleteDueTerminations(ctx, date("2026-01-11"))
	require.NoError(t, err)
	assert.Empty(t, done)

	done, err = f.engine.CompleteDueTerminations(ctx, date("2026-01-12"))
	require.NoError(t, err)
	assert.Equal(t, []string{ten.ID}, done)

	done, err = f.engine.CompleteDueTerminations(ctx, date("2026-01-13"))
	require.NoError(t, err)
	assert.Empty(t, done)

	current, err := f.engine.Tenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusTerminated, current.Status)
	notices, err := f.engine.Notices(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.NoticeCompleted, notices[0].Status)
}

// =============================================================================
// BREACH
// =============================================================================

func TestEngine_BreachEscalationSettles(t *testing.T) {
	// GIVEN: A breach notice issued on 2025-12-15
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	f.clock.Set(noticeNow)
	ctx := context.Background()
	breach, err := f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "non_payment"})
	require.NoError(t, err)
	assert.Nil(t, breach.Settlement)

	// WHEN: Escalating a day early
	f.clock.Advance(6 * 24 * time.Hour)
	_, err = f.engine.EscalateBreach(ctx, breach.Notice.ID)

	// THEN: The remedy period still runs
	var dl *generic.DeadlineError
	require.ErrorAs(t, err, &dl)

	// WHEN: Escalating once the deadline passes
	f.clock.Advance(24 * time.Hour)
	out, err := f.engine.EscalateBreach(ctx, breach.Notice.ID)
	require.NoError(t, err)

	// THEN: The tenancy is on notice to 2025-12-29 and settled against it
	assert.Equal(t, tenancy.StatusNoticeGiven, out.Tenancy.Status)
	assert.Equal(t, "2025-12-29", out.Tenancy.TerminationDate.String())
	require.NotNil(t, out.Settlement)
	assert.Len(t, out.Settlement.Pruned, 9)
	assert.Equal(t, 4, out.Settlement.Obligation.PaymentNumber)

	stored, err := f.engine.Notice(ctx, breach.Notice.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.BreachTerminationPeriod, stored.BreachStage)
}

func TestEngine_BreachOnTenancyOnNotice(t *testing.T) {
	// GIVEN: A tenancy on 28 days' notice
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	f.clock.Set(noticeNow)
	ctx := context.Background()
	_, err := f.engine.GiveNotice(ctx, ten.ID, tenancy.GiveNoticeInput{GivenBy: "lodger-1", NoticePeriodDays: 28})
	require.NoError(t, err)

	// WHEN: The landlord issues a breach with a remedy period
	_, err = f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "non_payment"})

	// THEN: It is refused and no breach notice is stored
	assert.True(t, generic.IsInvalidState(err))
	notices, err := f.engine.Notices(ctx, ten.ID)
	require.NoError(t, err)
	assert.Len(t, notices, 1)
	assert.Equal(t, tenancy.NoticeTermination, notices[0].Type)
}

func TestEngine_ConcurrentEscalationHappensOnce(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	f.clock.Set(noticeNow)
	ctx := context.Background()
	breach, err := f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "noise"})
	require.NoError(t, err)
	f.clock.Advance(8 * 24 * time.Hour)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.EscalateBreach(ctx, breach.Notice.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, settlements(f.obligations(t, ten.ID)), 1)
}

func TestEngine_RemediedBreach(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, nil)
	ctx := context.Background()
	breach, err := f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "noise"})
	require.NoError(t, err)

	n, err := f.engine.MarkRemedied(ctx, breach.Notice.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.BreachRemedied, n.BreachStage)

	// A new breach may be issued once the first is remedied.
	_, err = f.engine.IssueBreachNotice(ctx, ten.ID, tenancy.BreachInput{BreachType: "damage"})
	assert.NoError(t, err)

	current, err := f.engine.Tenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusActive, current.Status)
}

// =============================================================================
// EXTENSION
// =============================================================================

func TestEngine_AcceptedExtensionExtendsSchedule(t *testing.T) {
	// GIVEN: A tenancy to 2026-04-15 with seven payments
	f := newEngineFixture(t, activationTime)
	ten, obligations := f.startTenancy(t, datePtr("2026-04-15"))
	require.Len(t, obligations, 7)
	ctx := context.Background()

	// WHEN: The landlord offers six more months at the cap on 2026-03-01
	f.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	offer, err := f.engine.OfferExtension(ctx, ten.ID, tenancy.ExtensionInput{Months: 6, NewRent: money(892.50)})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", offer.NewEndDate.String())

	// AND: The lodger accepts
	out, err := f.engine.RespondToExtension(ctx, offer.ID, true)
	require.NoError(t, err)

	// THEN: The tenancy runs to 2026-10-15 at the new rent
	assert.Equal(t, tenancy.StatusExtended, out.Tenancy.Status)
	assert.Equal(t, "2026-10-15", out.Tenancy.EndDate.String())
	assert.Equal(t, []string{
		"2026-04-29", "2026-05-27", "2026-06-24", "2026-07-22", "2026-08-19", "2026-09-16", "2026-10-14",
	}, dueDates(out.Added))
	for _, o := range out.Added {
		assert.Equal(t, "892.50", o.RentDue.Value.StringFixed(2))
	}
	assert.Equal(t, 8, out.Added[0].PaymentNumber)
	assert.Len(t, f.obligations(t, ten.ID), 14)
}

func TestEngine_ExtensionAboveCapStoresNothing(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, datePtr("2026-04-15"))
	ctx := context.Background()

	_, err := f.engine.OfferExtension(ctx, ten.ID, tenancy.ExtensionInput{Months: 6, NewRent: money(893.35)})

	var rc *generic.RentCapError
	require.ErrorAs(t, err, &rc)
	assert.Equal(t, "892.50", rc.Max.Value.StringFixed(2))
	notices, err := f.engine.Notices(ctx, ten.ID)
	require.NoError(t, err)
	assert.Empty(t, notices)
}

func TestEngine_RejectedExtensionLeavesTenancy(t *testing.T) {
	f := newEngineFixture(t, activationTime)
	ten, _ := f.startTenancy(t, datePtr("2026-04-15"))
	ctx := context.Background()
	offer, err := f.engine.OfferExtension(ctx, ten.ID, tenancy.ExtensionInput{Months: 3})
	require.NoError(t, err)

	out, err := f.engine.RespondToExtension(ctx, offer.ID, false)
	require.NoError(t, err)

	assert.Equal(t, tenancy.ExtensionRejected, out.Notice.ExtensionStatus)
	assert.Empty(t, out.Added)
	current, err := f.engine.Tenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusActive, current.Status)
	assert.Equal(t, "2026-04-15", current.EndDate.String())
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// failingInserts wraps the memory store so obligation inserts made inside a
// transaction fail.
type failingInserts struct {
	*memory.Memory
}

func (f failingInserts) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx tenancy.Store) error {
		return fn(failingTx{Store: tx})
	})
}

type failingTx struct {
	tenancy.Store
}

func (failingTx) InsertObligations(context.Context, []tenancy.Obligation) error {
	return errors.New("disk full")
}
