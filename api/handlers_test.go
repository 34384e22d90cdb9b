/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Tenancy lifecycle over HTTP (create, activate, submit, confirm, balance)
- Notice and settlement responses
- Error mapping (validation, not found, invalid state, rent cap details)
- Admin endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lodger-engine/factory"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/store/memory"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  *chi.Mux
	handler *Handler
	clock   *generic.FixedClock
}

func newTestServer(t *testing.T, now time.Time) *testServer {
	t.Helper()
	store := memory.New()
	clock := generic.NewFixedClock(now)
	cfg := tenancy.DefaultConfig()
	engine := tenancy.NewEngine(store, clock, nil, cfg)
	sweeper := tenancy.NewReminderSweeper(store, nil, nil, cfg)
	h := NewHandler(engine, sweeper, store, nil)
	return &testServer{router: NewRouter(h, RouterOptions{}), handler: h, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// createActive creates and activates an open-ended 4-weekly £850 tenancy
// starting 2025-10-15.
func (s *testServer) createActive(t *testing.T, termMonths int) ActivateResponse {
	t.Helper()
	doc := factory.AgreementTemplate("landlord-1", "lodger-1", "Back bedroom", "2025-10-15", "850.00",
		tenancy.FrequencyFourWeekly, termMonths)
	rec := s.do(t, http.MethodPost, "/api/tenancies", doc)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[TenancyDTO](t, rec)
	assert.Equal(t, "draft", created.Status)

	rec = s.do(t, http.MethodPost, "/api/tenancies/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[ActivateResponse](t, rec)
}

var startOfTenancy = time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t, startOfTenancy)

	rec := s.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTenancyLifecycle_SubmitConfirmBalance(t *testing.T) {
	// GIVEN: An activated open-ended tenancy
	s := newTestServer(t, startOfTenancy)
	activated := s.createActive(t, 0)
	id := activated.Tenancy.ID

	require.Len(t, activated.Obligations, 12)
	first := activated.Obligations[0]
	assert.Equal(t, "1700.00", first.RentDue)
	assert.Equal(t, "2025-11-12", activated.Obligations[1].DueDate)
	assert.Equal(t, "850.00", activated.Tenancy.AdvanceRent)

	// WHEN: The lodger submits the first payment
	rec := s.do(t, http.MethodPost, "/api/obligations/"+first.ID+"/submit", SubmitPaymentRequest{
		Amount: "1700.00", Reference: "OCT-RENT",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "submitted", decodeAs[ObligationDTO](t, rec).Status)

	// THEN: The balance still shows it owed
	rec = s.do(t, http.MethodGet, "/api/tenancies/"+id+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1700.00", decodeAs[BalanceDTO](t, rec).Outstanding)

	// WHEN: The landlord confirms it
	rec = s.do(t, http.MethodPost, "/api/obligations/"+first.ID+"/confirm", ConfirmPaymentRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeAs[ObligationDTO](t, rec)

	// THEN: It is paid and nothing is outstanding
	assert.Equal(t, "paid", paid.Status)
	assert.Equal(t, "1700.00", paid.RentPaid)
	require.NotNil(t, paid.Confirmed)

	rec = s.do(t, http.MethodGet, "/api/tenancies/"+id+"/balance", nil)
	balance := decodeAs[BalanceDTO](t, rec)
	assert.Equal(t, "0.00", balance.Outstanding)
	assert.Equal(t, "£0.00", balance.Display)

	rec = s.do(t, http.MethodGet, "/api/tenancies?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]TenancyDTO](t, rec), 1)
}

func TestPreviewSchedule_StoresNothing(t *testing.T) {
	s := newTestServer(t, startOfTenancy)
	doc := factory.CalendarAgreementTemplate("landlord-1", "lodger-1", "Attic", "2026-01-31", "725.00", 31, 3)

	rec := s.do(t, http.MethodPost, "/api/tenancies/preview", doc)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeAs[ScheduleResponse](t, rec)
	dates := make([]string, len(preview.Added))
	for i, o := range preview.Added {
		dates[i] = o.DueDate
	}
	assert.Equal(t, []string{"2026-01-31", "2026-02-28", "2026-03-31"}, dates)

	rec = s.do(t, http.MethodGet, "/api/tenancies", nil)
	assert.Empty(t, decodeAs[[]TenancyDTO](t, rec))
}

// =============================================================================
// NOTICES
// =============================================================================

func TestGiveNotice_ReturnsSettlement(t *testing.T) {
	// GIVEN: An open-ended tenancy
	s := newTestServer(t, startOfTenancy)
	id := s.createActive(t, 0).Tenancy.ID

	// WHEN: The lodger gives 28 days' notice on 2025-12-15
	s.clock.Set(time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC))
	rec := s.do(t, http.MethodPost, "/api/tenancies/"+id+"/notices", GiveNoticeRequest{
		GivenBy: "lodger-1", NoticePeriodDays: 28, Reason: "moving out",
	})

	// THEN: The settlement refunds unused days and the advance
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeAs[NoticeOutcomeDTO](t, rec)
	assert.Equal(t, "notice_given", out.Tenancy.Status)
	assert.Equal(t, "2026-01-12", out.Tenancy.TerminationDate)
	require.NotNil(t, out.Settlement)
	assert.Equal(t, "unused_days", out.Settlement.Case)
	assert.Equal(t, "-1548.21", out.Settlement.FinalAmount)
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12}, out.Settlement.PrunedPayments)
	assert.Equal(t, 5, out.Settlement.Obligation.PaymentNumber)

	// AND: Terminations complete on the date
	rec = s.do(t, http.MethodPost, "/api/admin/terminations", AsOfRequest{AsOf: "2026-01-12"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{id}, decodeAs[TerminationsResponse](t, rec).Terminated)
}

func TestEscalateBeforeDeadline_Conflict(t *testing.T) {
	s := newTestServer(t, startOfTenancy)
	id := s.createActive(t, 0).Tenancy.ID

	rec := s.do(t, http.MethodPost, "/api/tenancies/"+id+"/breaches", BreachRequest{
		GivenBy: "landlord-1", BreachType: "non_payment",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	breach := decodeAs[NoticeOutcomeDTO](t, rec)
	assert.Equal(t, "remedy_period", breach.Notice.BreachStage)

	rec = s.do(t, http.MethodPost, "/api/notices/"+breach.Notice.ID+"/escalate", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_state", resp.Kind)
	assert.Contains(t, resp.Details, "deadline")
}

func TestOfferExtension_RentCapDetails(t *testing.T) {
	s := newTestServer(t, startOfTenancy)
	id := s.createActive(t, 6).Tenancy.ID
	over := "893.35"

	rec := s.do(t, http.MethodPost, "/api/tenancies/"+id+"/extensions", ExtensionOfferRequest{
		GivenBy: "landlord-1", Months: 6, NewRent: &over,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Kind)
	assert.Equal(t, "892.50", resp.Details["max_rent"])
}

func TestExtensionAccepted(t *testing.T) {
	s := newTestServer(t, startOfTenancy)
	id := s.createActive(t, 6).Tenancy.ID
	rent := "892.50"

	rec := s.do(t, http.MethodPost, "/api/tenancies/"+id+"/extensions", ExtensionOfferRequest{
		GivenBy: "landlord-1", Months: 6, NewRent: &rent,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offer := decodeAs[NoticeDTO](t, rec)
	assert.Equal(t, "2026-10-15", offer.NewEndDate)

	accept := true
	rec = s.do(t, http.MethodPost, "/api/notices/"+offer.ID+"/respond", ExtensionResponseRequest{Accept: &accept})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeAs[ExtensionOutcomeDTO](t, rec)

	assert.Equal(t, "extended", out.Tenancy.Status)
	assert.Equal(t, "892.50", out.Tenancy.Rent)
	assert.NotEmpty(t, out.Added)
	for _, o := range out.Added {
		assert.Equal(t, "892.50", o.RentDue)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrors(t *testing.T) {
	s := newTestServer(t, startOfTenancy)
	activated := s.createActive(t, 0)
	id := activated.Tenancy.ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown tenancy", http.MethodGet, "/api/tenancies/ten_missing", nil, http.StatusNotFound, "not_found"},
		{"unknown notice", http.MethodPost, "/api/notices/ntc_missing/remedy", nil, http.StatusNotFound, "not_found"},
		{"missing amount", http.MethodPost, "/api/obligations/" + activated.Obligations[1].ID + "/submit",
			SubmitPaymentRequest{}, http.StatusBadRequest, "validation"},
		{"malformed json", http.MethodPost, "/api/tenancies/" + id + "/notices",
			[]byte(`{"given_by":`), http.StatusBadRequest, "validation"},
		{"stranger gives notice", http.MethodPost, "/api/tenancies/" + id + "/notices",
			GiveNoticeRequest{GivenBy: "someone-else", NoticePeriodDays: 28}, http.StatusBadRequest, "validation"},
		{"accept missing", http.MethodPost, "/api/notices/ntc_x/respond",
			map[string]any{}, http.StatusBadRequest, "validation"},
		{"activate twice", http.MethodPost, "/api/tenancies/" + id + "/activate", nil, http.StatusConflict, "invalid_state"},
		{"bad as_of", http.MethodGet, "/api/tenancies/" + id + "/statement?as_of=tomorrow", nil, http.StatusBadRequest, "validation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			resp := decodeAs[ErrorResponse](t, rec)
			assert.Equal(t, tc.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestValidationHintsNameFields(t *testing.T) {
	s := newTestServer(t, startOfTenancy)
	activated := s.createActive(t, 0)

	rec := s.do(t, http.MethodPost, "/api/obligations/"+activated.Obligations[0].ID+"/submit",
		SubmitPaymentRequest{Date: "15/10/2025"})

	resp := decodeAs[ErrorResponse](t, rec)
	require.Len(t, resp.Hints, 1)
	assert.Contains(t, resp.Hints[0], "Amount (required)")
	assert.Contains(t, resp.Hints[0], "Date (datetime)")
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdmin_TopUpAndSweep(t *testing.T) {
	// GIVEN: A six month tenancy and an open-ended one
	s := newTestServer(t, startOfTenancy)
	s.createActive(t, 0)
	fixed := s.createActive(t, 6)

	// WHEN: Time moves to 2026-03-20 and the daily jobs run
	s.clock.Set(time.Date(2026, 3, 20, 6, 0, 0, 0, time.UTC))
	rec := s.do(t, http.MethodPost, "/api/admin/topup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Positive(t, decodeAs[TopUpResponse](t, rec).Added)

	rec = s.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sweep := decodeAs[SweepResponse](t, rec)

	// THEN: Only the tenancy ending 2026-04-15 is reminded
	assert.Equal(t, 2, sweep.Scanned)
	require.Len(t, sweep.Raised, 1)
	assert.Equal(t, fixed.Tenancy.ID, sweep.Raised[0].TenancyID)
	assert.Equal(t, "end_approaching", sweep.Raised[0].Kind)
	assert.Equal(t, "2026-04-15", sweep.Raised[0].TargetDate)
}
