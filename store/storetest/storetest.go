// Package storetest holds the behaviour every tenancy.TxStore must share.
// Each store package runs Run against its own constructor.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

var now = time.Date(2025, 10, 15, 9, 30, 0, 0, time.UTC)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) tenancy.TxStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s tenancy.TxStore)
	}{
		{"TenancyRoundTrip", testTenancyRoundTrip},
		{"TenancyVersionConflict", testTenancyVersionConflict},
		{"ListTenanciesByStatus", testListTenanciesByStatus},
		{"NotFound", testNotFound},
		{"ObligationRoundTrip", testObligationRoundTrip},
		{"DuplicatePaymentNumber", testDuplicatePaymentNumber},
		{"DeleteOnlyPending", testDeleteOnlyPending},
		{"NoticeRoundTrip", testNoticeRoundTrip},
		{"TransactionRollback", testTransactionRollback},
		{"LastReminder", testLastReminder},
		{"Reset", testReset},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func date(s string) generic.Date { return generic.MustParseDate(s) }

func newTenancy(id string, status tenancy.Status, start string) tenancy.Tenancy {
	end := date("2026-10-15")
	return tenancy.Tenancy{
		ID:          id,
		LandlordID:  "landlord-1",
		LodgerID:    "lodger-1",
		Room:        "attic",
		StartDate:   date(start),
		EndDate:     &end,
		MonthlyRent: generic.GBP(850),
		AdvanceRent: generic.GBP(850),
		Frequency:   tenancy.FrequencyFourWeekly,
		PaymentType: tenancy.PaymentTypeCycle,
		Status:      status,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newObligation(tenancyID string, n int, due string) tenancy.Obligation {
	return tenancy.Obligation{
		ID:            generic.NewID("obl"),
		TenancyID:     tenancyID,
		PaymentNumber: n,
		Kind:          tenancy.KindRent,
		DueDate:       date(due),
		RentDue:       generic.GBP(850),
		RentPaid:      generic.GBP(0),
		Status:        tenancy.ObligationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func seed(t *testing.T, s tenancy.Store, ten tenancy.Tenancy) tenancy.Tenancy {
	t.Helper()
	require.NoError(t, s.CreateTenancy(context.Background(), ten))
	return ten
}

// =============================================================================
// TENANCIES
// =============================================================================

func testTenancyRoundTrip(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))

	got, err := s.GetTenancy(ctx, ten.ID)
	require.NoError(t, err)

	assert.Equal(t, ten.LandlordID, got.LandlordID)
	assert.Equal(t, "2025-10-15", got.StartDate.String())
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2026-10-15", got.EndDate.String())
	assert.Nil(t, got.TerminationDate)
	assert.True(t, got.MonthlyRent.Equal(generic.GBP(850)))
	assert.Equal(t, generic.CurrencyGBP, got.MonthlyRent.Currency)
	assert.Equal(t, tenancy.FrequencyFourWeekly, got.Frequency)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Equal(t, 1, got.Version)
}

func testTenancyVersionConflict(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))

	// GIVEN: Two writers holding version 1
	first, second := ten, ten

	// WHEN: The first writes
	first.Status = tenancy.StatusNoticeGiven
	require.NoError(t, s.UpdateTenancy(ctx, &first))
	assert.Equal(t, 2, first.Version)

	// THEN: The second is rejected and the first write stands
	second.Room = "box room"
	err := s.UpdateTenancy(ctx, &second)
	assert.True(t, generic.IsRetryable(err), "expected a concurrency conflict, got %v", err)
	assert.Equal(t, 1, second.Version)

	got, err := s.GetTenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusNoticeGiven, got.Status)
	assert.Equal(t, "attic", got.Room)
	assert.Equal(t, 2, got.Version)
}

func testListTenanciesByStatus(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	seed(t, s, newTenancy("ten_b", tenancy.StatusActive, "2025-11-01"))
	seed(t, s, newTenancy("ten_a", tenancy.StatusActive, "2025-10-01"))
	seed(t, s, newTenancy("ten_c", tenancy.StatusTerminated, "2025-09-01"))
	seed(t, s, newTenancy("ten_d", tenancy.StatusExtended, "2025-12-01"))

	live, err := s.ListTenancies(ctx, tenancy.StatusActive, tenancy.StatusExtended)
	require.NoError(t, err)
	assert.Equal(t, []string{"ten_a", "ten_b", "ten_d"}, ids(live))

	all, err := s.ListTenancies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func ids(tenancies []tenancy.Tenancy) []string {
	out := make([]string, len(tenancies))
	for i, t := range tenancies {
		out[i] = t.ID
	}
	return out
}

func testNotFound(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()

	_, err := s.GetTenancy(ctx, "ten_missing")
	assert.True(t, generic.IsNotFound(err))

	_, err = s.GetObligation(ctx, "obl_missing")
	assert.True(t, generic.IsNotFound(err))

	_, err = s.GetNotice(ctx, "ntc_missing")
	assert.True(t, generic.IsNotFound(err))

	missing := newTenancy("ten_missing", tenancy.StatusActive, "2025-10-15")
	assert.True(t, generic.IsNotFound(s.UpdateTenancy(ctx, &missing)))
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func testObligationRoundTrip(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))
	second := newObligation(ten.ID, 2, "2025-11-12")
	first := newObligation(ten.ID, 1, "2025-10-15")
	first.RentDue = generic.GBP(1700)
	require.NoError(t, s.InsertObligations(ctx, []tenancy.Obligation{second, first}))

	// WHEN: The first payment is submitted and confirmed
	m := generic.GBP(1700)
	paid, err := tenancy.Submit(first, tenancy.SubmitInput{Amount: m, Reference: "OCT", Method: "bank_transfer"}, now)
	require.NoError(t, err)
	paid, err = tenancy.Confirm(paid, tenancy.ConfirmInput{}, now)
	require.NoError(t, err)
	require.NoError(t, s.UpdateObligation(ctx, paid))

	// THEN: The round trip keeps both records and the ordering
	list, err := s.ListObligations(ctx, ten.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].PaymentNumber)
	assert.Equal(t, 2, list[1].PaymentNumber)

	got := list[0]
	assert.Equal(t, tenancy.ObligationPaid, got.Status)
	assert.True(t, got.RentPaid.Equal(generic.GBP(1700)))
	require.NotNil(t, got.Submitted)
	assert.Equal(t, "OCT", got.Submitted.Reference)
	require.NotNil(t, got.Confirmed)
	assert.Equal(t, "bank_transfer", got.Confirmed.Method)
	assert.Nil(t, list[1].Submitted)
	assert.Nil(t, list[1].Confirmed)
}

func testDuplicatePaymentNumber(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))
	require.NoError(t, s.InsertObligations(ctx, []tenancy.Obligation{newObligation(ten.ID, 1, "2025-10-15")}))

	err := s.InsertObligations(ctx, []tenancy.Obligation{newObligation(ten.ID, 1, "2025-10-15")})

	assert.True(t, generic.IsInvalidState(err))
}

func testDeleteOnlyPending(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))
	pending := newObligation(ten.ID, 1, "2025-10-15")
	waived := newObligation(ten.ID, 2, "2025-11-12")
	waived.Status = tenancy.ObligationWaived
	require.NoError(t, s.InsertObligations(ctx, []tenancy.Obligation{pending, waived}))

	assert.True(t, generic.IsInvalidState(s.DeleteObligations(ctx, []string{waived.ID})))
	require.NoError(t, s.DeleteObligations(ctx, []string{pending.ID}))

	list, err := s.ListObligations(ctx, ten.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, waived.ID, list[0].ID)
}

// =============================================================================
// NOTICES
// =============================================================================

func testNoticeRoundTrip(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))

	offer, err := tenancy.NewNoticeMachine(tenancy.DefaultConfig()).
		OfferExtension(ten, nil, tenancy.ExtensionInput{Months: 6, NewRent: ptr(generic.GBP(892.50))}, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateNotice(ctx, offer))

	later := now.Add(time.Hour)
	offer.ExtensionStatus = tenancy.ExtensionAccepted
	offer.Status = tenancy.NoticeCompleted
	offer.RespondedAt = &later
	require.NoError(t, s.UpdateNotice(ctx, offer))

	got, err := s.GetNotice(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.NoticeExtensionOffer, got.Type)
	assert.Equal(t, tenancy.ExtensionAccepted, got.ExtensionStatus)
	assert.Equal(t, 6, got.ExtensionMonths)
	require.NotNil(t, got.ProposedRent)
	assert.Equal(t, "892.50", got.ProposedRent.Value.StringFixed(2))
	require.NotNil(t, got.CurrentRent)
	assert.Equal(t, "850.00", got.CurrentRent.Value.StringFixed(2))
	require.NotNil(t, got.NewEndDate)
	assert.Equal(t, "2027-04-15", got.NewEndDate.String())
	require.NotNil(t, got.RespondedAt)
	assert.True(t, got.RespondedAt.Equal(later))
	assert.Nil(t, got.RemedyDeadline)

	list, err := s.ListNotices(ctx, ten.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testTransactionRollback(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))
	keep := newObligation(ten.ID, 1, "2025-10-15")
	require.NoError(t, s.InsertObligations(ctx, []tenancy.Obligation{keep}))

	// WHEN: A transaction writes through every table and then fails
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx tenancy.Store) error {
		got, err := tx.GetTenancy(ctx, ten.ID)
		if err != nil {
			return err
		}
		got.Status = tenancy.StatusTerminated
		if err := tx.UpdateTenancy(ctx, &got); err != nil {
			return err
		}
		if err := tx.DeleteObligations(ctx, []string{keep.ID}); err != nil {
			return err
		}
		if err := tx.InsertObligations(ctx, []tenancy.Obligation{newObligation(ten.ID, 2, "2025-11-12")}); err != nil {
			return err
		}
		// Writes are visible inside the transaction.
		list, err := tx.ListObligations(ctx, ten.ID)
		if err != nil {
			return err
		}
		if len(list) != 1 || list[0].PaymentNumber != 2 {
			return errors.Newf("transaction view out of date: %d obligations", len(list))
		}
		return boom
	})

	// THEN: Nothing was written
	assert.True(t, errors.Is(err, boom), "expected the callback error, got %v", err)
	got, err := s.GetTenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.StatusActive, got.Status)
	assert.Equal(t, 1, got.Version)
	list, err := s.ListObligations(ctx, ten.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)

	// AND: A successful transaction commits
	require.NoError(t, s.WithTx(ctx, func(tx tenancy.Store) error {
		return tx.InsertObligations(ctx, []tenancy.Obligation{newObligation(ten.ID, 2, "2025-11-12")})
	}))
	list, err = s.ListObligations(ctx, ten.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// =============================================================================
// REMINDERS
// =============================================================================

func testLastReminder(t *testing.T, s tenancy.TxStore) {
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))

	_, found, err := s.LastReminder(ctx, ten.ID, tenancy.ReminderEndApproaching)
	require.NoError(t, err)
	assert.False(t, found)

	for i, raised := range []time.Time{now, now.AddDate(0, 0, 40), now.AddDate(0, 0, 5)} {
		require.NoError(t, s.CreateReminder(ctx, tenancy.Reminder{
			ID:         generic.NewID("rem"),
			TenancyID:  ten.ID,
			Kind:       tenancy.ReminderEndApproaching,
			TargetDate: date("2026-10-15").AddDays(i),
			RaisedAt:   raised,
		}))
	}

	last, found, err := s.LastReminder(ctx, ten.ID, tenancy.ReminderEndApproaching)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, last.RaisedAt.Equal(now.AddDate(0, 0, 40)))
	assert.Equal(t, "2026-10-16", last.TargetDate.String())

	_, found, err = s.LastReminder(ctx, ten.ID, tenancy.ReminderTerminationApproaching)
	require.NoError(t, err)
	assert.False(t, found, "kinds are tracked separately")
}

func testReset(t *testing.T, s tenancy.TxStore) {
	resetter, ok := s.(interface{ Reset(context.Context) error })
	if !ok {
		t.Skip("store does not support Reset")
	}
	ctx := context.Background()
	ten := seed(t, s, newTenancy("ten_1", tenancy.StatusActive, "2025-10-15"))
	require.NoError(t, s.InsertObligations(ctx, []tenancy.Obligation{newObligation(ten.ID, 1, "2025-10-15")}))

	require.NoError(t, resetter.Reset(ctx))

	all, err := s.ListTenancies(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = s.GetTenancy(ctx, ten.ID)
	assert.True(t, generic.IsNotFound(err))
}
