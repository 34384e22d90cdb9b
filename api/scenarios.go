/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	tenancies for demos. Each scenario creates agreements through the
	factory and drives them through the engine, so the data is exactly what
	the API itself would produce.

AVAILABLE SCENARIOS:

	four-weekly:      £850 every 4 weeks from 2025-10-15, first payments confirmed
	calendar-month:   Calendar rent on the 31st, clamped in short months
	notice-given:     Lodger gives 28 days' notice; settlement appended
	breach-remedy:    Breach notice in its remedy period
	extension-offer:  Pending 6 month extension at the rent cap

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Build agreement JSON from a factory template
 3. Create and activate the tenancy
 4. Optionally confirm payments or serve notices

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "notice-given"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/agreement.go: Agreement templates
*/
package api

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/lodger-engine/factory"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

const (
	demoLandlord = "landlord-demo"
	demoLodger   = "lodger-demo"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "four-weekly",
		Name:        "Four-weekly lodger",
		Description: "£850 every 4 weeks from 2025-10-15 with the first three payments confirmed",
	},
	{
		ID:          "calendar-month",
		Name:        "Calendar month",
		Description: "Rent due on the 31st of each month, clamped to the last day in short months",
	},
	{
		ID:          "notice-given",
		Name:        "Notice given",
		Description: "Lodger gives 28 days' notice; the schedule is pruned and a settlement added",
	},
	{
		ID:          "breach-remedy",
		Name:        "Breach in remedy period",
		Description: "Landlord issues a non-payment breach notice; the lodger has time to remedy",
	},
	{
		ID:          "extension-offer",
		Name:        "Extension offer",
		Description: "Landlord offers 6 more months at the maximum allowed rent increase",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"four-weekly":     (*Handler).loadFourWeeklyScenario,
	"calendar-month":  (*Handler).loadCalendarMonthScenario,
	"notice-given":    (*Handler).loadNoticeGivenScenario,
	"breach-remedy":   (*Handler).loadBreachRemedyScenario,
	"extension-offer": (*Handler).loadExtensionOfferScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, ok := lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == current })
	if !ok {
		s = ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"}
	}
	writeJSON(w, http.StatusOK, s)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeError(w, r, generic.NewError("unknown scenario").
			WithHintf("scenario %q does not exist; GET /api/scenarios lists them", req.ScenarioID).
			Mark(generic.ErrValidation))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.writeError(w, r, errors.Wrapf(err, "failed to load scenario %s", req.ScenarioID))
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Infow("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFourWeeklyScenario(ctx context.Context) error {
	doc := factory.AgreementTemplate(demoLandlord, demoLodger, "Back bedroom",
		"2025-10-15", "850.00", tenancy.FrequencyFourWeekly, 12)
	_, obligations, err := h.createAndActivate(ctx, doc)
	if err != nil {
		return err
	}
	for _, o := range lo.Slice(obligations, 0, 3) {
		amount := o.RentDue
		date := o.DueDate
		method := "bank_transfer"
		if _, err := h.Engine.ConfirmPayment(ctx, o.ID, tenancy.ConfirmInput{
			Amount: &amount, Date: &date, Method: &method,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCalendarMonthScenario(ctx context.Context) error {
	doc := factory.CalendarAgreementTemplate(demoLandlord, demoLodger, "Attic room",
		"2026-01-31", "725.00", 31, 12)
	_, _, err := h.createAndActivate(ctx, doc)
	return err
}

func (h *Handler) loadNoticeGivenScenario(ctx context.Context) error {
	t, _, err := h.liveDemoTenancy(ctx)
	if err != nil {
		return err
	}
	_, err = h.Engine.GiveNotice(ctx, t.ID, tenancy.GiveNoticeInput{
		GivenBy:          demoLodger,
		NoticePeriodDays: 28,
		Reason:           "Moving for work",
	})
	return err
}

func (h *Handler) loadBreachRemedyScenario(ctx context.Context) error {
	t, _, err := h.liveDemoTenancy(ctx)
	if err != nil {
		return err
	}
	_, err = h.Engine.IssueBreachNotice(ctx, t.ID, tenancy.BreachInput{
		GivenBy:     demoLandlord,
		BreachType:  "non_payment",
		Description: "Rent for the last period has not been received",
	})
	return err
}

func (h *Handler) loadExtensionOfferScenario(ctx context.Context) error {
	t, _, err := h.liveDemoTenancy(ctx)
	if err != nil {
		return err
	}
	newRent := h.Engine.NoticeMachine().MaxRent(t.MonthlyRent)
	_, err = h.Engine.OfferExtension(ctx, t.ID, tenancy.ExtensionInput{
		GivenBy: demoLandlord,
		Months:  6,
		NewRent: &newRent,
		Notes:   "Happy to continue for another six months",
	})
	return err
}

// liveDemoTenancy creates a weekly tenancy that started three months ago,
// so notices served today fall inside the schedule.
func (h *Handler) liveDemoTenancy(ctx context.Context) (tenancy.Tenancy, []tenancy.Obligation, error) {
	start := generic.Today(h.Engine.Clock()).AddMonthsClamped(-3)
	doc := factory.AgreementTemplate(demoLandlord, demoLodger, "Front bedroom",
		start.String(), "200.00", tenancy.FrequencyWeekly, 9)
	return h.createAndActivate(ctx, doc)
}

func (h *Handler) createAndActivate(ctx context.Context, doc []byte) (tenancy.Tenancy, []tenancy.Obligation, error) {
	in, err := h.Factory.ParseAgreement(doc)
	if err != nil {
		return tenancy.Tenancy{}, nil, err
	}
	t, err := h.Engine.CreateTenancy(ctx, in)
	if err != nil {
		return tenancy.Tenancy{}, nil, err
	}
	return h.Engine.ActivateTenancy(ctx, t.ID)
}
