package tenancy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(s string) generic.Date { return generic.MustParseDate(s) }

func datePtr(s string) *generic.Date {
	d := date(s)
	return &d
}

func fourWeeklyTerms(start string, end *generic.Date) tenancy.Terms {
	return tenancy.Terms{
		TenancyID:   "ten_test",
		StartDate:   date(start),
		EndDate:     end,
		Rent:        generic.GBP(850),
		Frequency:   tenancy.FrequencyFourWeekly,
		PaymentType: tenancy.PaymentTypeCycle,
	}
}

func dueDates(obligations []tenancy.Obligation) []string {
	out := make([]string, len(obligations))
	for i, o := range obligations {
		out[i] = o.DueDate.String()
	}
	return out
}

// =============================================================================
// GENERATION
// =============================================================================

func TestSchedule_FourWeeklyScenario(t *testing.T) {
	// GIVEN: A tenancy from 2025-10-15 at £850 every 4 weeks
	gen := tenancy.NewScheduleGenerator(12)
	terms := fourWeeklyTerms("2025-10-15", nil)

	// WHEN: Generating on the start date
	obligations, err := gen.Generate(terms, date("2025-10-15"))
	require.NoError(t, err)

	// THEN: Twelve obligations, the first doubled for rent in advance
	require.Len(t, obligations, 12)
	first, second := obligations[0], obligations[1]

	assert.Equal(t, 1, first.PaymentNumber)
	assert.Equal(t, "2025-10-15", first.DueDate.String())
	assert.True(t, first.RentDue.Equal(generic.GBP(1700)), "got %s", first.RentDue)

	assert.Equal(t, 2, second.PaymentNumber)
	assert.Equal(t, "2025-11-12", second.DueDate.String())
	assert.True(t, second.RentDue.Equal(generic.GBP(850)), "got %s", second.RentDue)

	for _, o := range obligations {
		assert.Equal(t, "ten_test", o.TenancyID)
		assert.Equal(t, tenancy.KindRent, o.Kind)
		assert.Equal(t, tenancy.ObligationPending, o.Status)
		assert.True(t, o.RentPaid.IsZero())
	}
}

func TestSchedule_DueDatesStrictlyIncrease(t *testing.T) {
	frequencies := []tenancy.Frequency{
		tenancy.FrequencyWeekly,
		tenancy.FrequencyBiWeekly,
		tenancy.FrequencyFourWeekly,
		tenancy.FrequencyMonthly,
	}
	for _, f := range frequencies {
		t.Run(string(f), func(t *testing.T) {
			terms := fourWeeklyTerms("2025-10-15", nil)
			terms.Frequency = f

			obligations, err := tenancy.NewScheduleGenerator(12).Generate(terms, date("2025-10-15"))
			require.NoError(t, err)

			for i := 1; i < len(obligations); i++ {
				assert.True(t, obligations[i].DueDate.After(obligations[i-1].DueDate),
					"payment %d not after payment %d", i+1, i)
				assert.Equal(t, obligations[i-1].PaymentNumber+1, obligations[i].PaymentNumber)
			}
		})
	}
}

func TestSchedule_CalendarModeClampsShortMonths(t *testing.T) {
	// GIVEN: Rent on the 31st from 2026-01-31
	terms := tenancy.Terms{
		StartDate:   date("2026-01-31"),
		Rent:        generic.GBP(725),
		Frequency:   tenancy.FrequencyMonthly,
		PaymentType: tenancy.PaymentTypeCalendar,
		PaymentDay:  31,
	}

	// WHEN: Generating five payments
	obligations, err := tenancy.NewScheduleGenerator(5).Generate(terms, date("2026-01-31"))
	require.NoError(t, err)

	// THEN: Short months use their last day; long months return to the 31st
	assert.Equal(t, []string{"2026-01-31", "2026-02-28", "2026-03-31", "2026-04-30", "2026-05-31"},
		dueDates(obligations))
}

func TestSchedule_CalendarModeFirstPaymentOnStartDate(t *testing.T) {
	terms := tenancy.Terms{
		StartDate:   date("2026-01-15"),
		Rent:        generic.GBP(700),
		Frequency:   tenancy.FrequencyMonthly,
		PaymentType: tenancy.PaymentTypeCalendar,
		PaymentDay:  1,
	}

	obligations, err := tenancy.NewScheduleGenerator(3).Generate(terms, date("2026-01-15"))
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-01-15", "2026-02-01", "2026-03-01"}, dueDates(obligations))
}

func TestSchedule_EndDateBoundsSchedule(t *testing.T) {
	// GIVEN: A tenancy ending 2026-01-01
	terms := fourWeeklyTerms("2025-10-15", datePtr("2026-01-01"))

	// WHEN: Generating
	obligations, err := tenancy.NewScheduleGenerator(12).Generate(terms, date("2025-10-15"))
	require.NoError(t, err)

	// THEN: Only payments due before the end are scheduled
	assert.Equal(t, []string{"2025-10-15", "2025-11-12", "2025-12-10"}, dueDates(obligations))
}

func TestSchedule_EndOnOrBeforeStartIsEmpty(t *testing.T) {
	for _, end := range []string{"2025-10-15", "2025-09-01"} {
		t.Run(end, func(t *testing.T) {
			terms := fourWeeklyTerms("2025-10-15", datePtr(end))

			obligations, err := tenancy.NewScheduleGenerator(12).Generate(terms, date("2025-10-15"))

			require.NoError(t, err)
			assert.Empty(t, obligations)
		})
	}
}

func TestSchedule_HorizonCountsFromAsOf(t *testing.T) {
	// GIVEN: A tenancy that started a year before generation
	terms := fourWeeklyTerms("2025-10-15", nil)
	asOf := date("2026-10-15")

	// WHEN: Generating
	obligations, err := tenancy.NewScheduleGenerator(12).Generate(terms, asOf)
	require.NoError(t, err)

	// THEN: Past payments are backfilled and twelve remain ahead
	ahead := 0
	for _, o := range obligations {
		if !o.DueDate.Before(asOf) {
			ahead++
		}
	}
	assert.Equal(t, 12, ahead)
	assert.Len(t, obligations, 26)
}

func TestSchedule_InvalidTerms(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*tenancy.Terms)
	}{
		{"zero rent", func(t *tenancy.Terms) { t.Rent = generic.GBP(0) }},
		{"unknown frequency", func(t *tenancy.Terms) { t.Frequency = "daily" }},
		{"calendar day out of range", func(t *tenancy.Terms) {
			t.PaymentType = tenancy.PaymentTypeCalendar
			t.PaymentDay = 32
		}},
		{"unknown payment type", func(t *tenancy.Terms) { t.PaymentType = "quarterly" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			terms := fourWeeklyTerms("2025-10-15", nil)
			tc.mutate(&terms)

			_, err := tenancy.NewScheduleGenerator(12).Generate(terms, date("2025-10-15"))

			require.Error(t, err)
			assert.True(t, generic.IsValidation(err))
		})
	}
}

// =============================================================================
// EXTENSION
// =============================================================================

func TestSchedule_ExtendIsIdempotent(t *testing.T) {
	// GIVEN: A freshly generated schedule
	gen := tenancy.NewScheduleGenerator(12)
	terms := fourWeeklyTerms("2025-10-15", nil)
	existing, err := gen.Generate(terms, date("2025-10-15"))
	require.NoError(t, err)

	// WHEN: Extending on the same day
	added, err := gen.Extend(terms, existing, nil, date("2025-10-15"))

	// THEN: Nothing is added
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestSchedule_ExtendTopsUpHorizon(t *testing.T) {
	// GIVEN: A schedule generated 8 weeks ago
	gen := tenancy.NewScheduleGenerator(12)
	terms := fourWeeklyTerms("2025-10-15", nil)
	existing, err := gen.Generate(terms, date("2025-10-15"))
	require.NoError(t, err)

	// WHEN: Extending as of 2025-12-10
	added, err := gen.Extend(terms, existing, nil, date("2025-12-10"))
	require.NoError(t, err)

	// THEN: Two payments continue the numbering and the cycle
	require.Len(t, added, 2)
	assert.Equal(t, 13, added[0].PaymentNumber)
	assert.Equal(t, existing[11].DueDate.AddDays(28).String(), added[0].DueDate.String())
	assert.True(t, added[0].RentDue.Equal(generic.GBP(850)))
}

func TestSchedule_ExtendStopsAfterSettlement(t *testing.T) {
	gen := tenancy.NewScheduleGenerator(12)
	terms := fourWeeklyTerms("2025-10-15", nil)
	existing := []tenancy.Obligation{
		{PaymentNumber: 1, Kind: tenancy.KindRent, DueDate: date("2025-10-15")},
		{PaymentNumber: 2, Kind: tenancy.KindSettlement, DueDate: date("2025-11-01")},
	}

	added, err := gen.Extend(terms, existing, nil, date("2025-12-10"))

	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestCycleDays(t *testing.T) {
	assert.Equal(t, 7, tenancy.CycleDays(tenancy.FrequencyWeekly))
	assert.Equal(t, 14, tenancy.CycleDays(tenancy.FrequencyBiWeekly))
	assert.Equal(t, 28, tenancy.CycleDays(tenancy.FrequencyFourWeekly))
	assert.Equal(t, 30, tenancy.CycleDays(tenancy.FrequencyMonthly))
	assert.Equal(t, 28, tenancy.CycleDays("yearly"))
}
