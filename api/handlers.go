/*
handlers.go - HTTP API handlers for the lodger tenancy engine

PURPOSE:
  Exposes the tenancy engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to tenancy.Engine.

ENDPOINTS:
  Tenancies:
    GET    /api/tenancies                      List tenancies (?status=active,extended)
    POST   /api/tenancies                      Create draft from agreement JSON
    POST   /api/tenancies/preview              Preview a schedule without storing
    GET    /api/tenancies/{id}                 Get tenancy
    POST   /api/tenancies/{id}/activate        Activate and generate schedule
    POST   /api/tenancies/{id}/schedule/extend Extend schedule to the horizon
    GET    /api/tenancies/{id}/obligations     List obligations
    GET    /api/tenancies/{id}/statement       Statement (?as_of=YYYY-MM-DD)
    GET    /api/tenancies/{id}/balance         Outstanding balance today
    GET    /api/tenancies/{id}/notices         List notices
    POST   /api/tenancies/{id}/notices         Give termination notice
    POST   /api/tenancies/{id}/breaches        Issue breach notice
    POST   /api/tenancies/{id}/extensions      Offer extension

  Obligations:
    GET    /api/obligations/{id}               Get obligation
    POST   /api/obligations/{id}/submit        Lodger submits a payment
    POST   /api/obligations/{id}/confirm       Landlord confirms receipt
    POST   /api/obligations/{id}/waive         Landlord waives

  Notices:
    GET    /api/notices/{id}                   Get notice
    POST   /api/notices/{id}/remedy            Mark breach remedied
    POST   /api/notices/{id}/escalate          Escalate breach after remedy deadline
    POST   /api/notices/{id}/respond           Accept or reject extension offer

  Admin:
    POST   /api/admin/sweep                    Run the reminder sweep now
    POST   /api/admin/terminations             Complete terminations due by as_of
    POST   /api/admin/topup                    Top up live schedules

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: every tenancy mutation and read
  - Sweeper: reminder sweep
  - Factory: agreement JSON to tenancy input
  - Store: reset for demo scenarios

REQUEST FLOW:
  1. Decode and validate the body (validator/v10 tags on the DTO)
  2. Convert to engine input (money, dates)
  3. Call the engine, retrying once on a concurrency conflict
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with kind, hints and details:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Invalid state, concurrency conflict
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Party identifiers (given_by) are trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/warp/lodger-engine/factory"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/logger"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

const maxBodyBytes = 1 << 20

// conflictRetries is how many times a mutation is re-run after a
// concurrency conflict before the 409 reaches the client.
const conflictRetries = 1

// Resetter clears all stored data. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

type Handler struct {
	Engine  *tenancy.Engine
	Sweeper *tenancy.ReminderSweeper
	Factory *factory.AgreementFactory
	Store   Resetter

	log      *logger.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *tenancy.Engine, sweeper *tenancy.ReminderSweeper, store Resetter, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Sweeper:  sweeper,
		Factory:  factory.NewAgreementFactory(),
		Store:    store,
		log:      log.Named("api"),
		validate: validator.New(),
	}
}

// decode reads a JSON body into v and runs its validate tags. An empty body
// decodes to the zero value.
func (h *Handler) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return generic.WithError(errors.Wrap(err, "invalid JSON body")).
				WithHint("the request body must be a JSON object").
				Mark(generic.ErrValidation)
		}
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
				return fe.Field() + " (" + fe.Tag() + ")"
			})
			return generic.WithError(errors.Wrap(err, "invalid request")).
				WithHintf("check fields: %s", strings.Join(fields, ", ")).
				Mark(generic.ErrValidation)
		}
		return err
	}
	return nil
}

// mutate runs an engine write, retrying on concurrency conflicts.
func (h *Handler) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return generic.RetryOnConflict(ctx, conflictRetries, fn)
}

func optionalDate(s string) (*generic.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalMoney(s *string) (*generic.Money, error) {
	if s == nil {
		return nil, nil
	}
	m, err := generic.ParseGBP(*s)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// =============================================================================
// TENANCY ENDPOINTS
// =============================================================================

func (h *Handler) ListTenancies(w http.ResponseWriter, r *http.Request) {
	var statuses []tenancy.Status
	if q := r.URL.Query().Get("status"); q != "" {
		statuses = lo.Map(strings.Split(q, ","), func(s string, _ int) tenancy.Status {
			return tenancy.Status(strings.TrimSpace(s))
		})
	}
	list, err := h.Engine.Tenancies(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(list, func(t tenancy.Tenancy, _ int) TenancyDTO { return toTenancyDTO(t) }))
}

// CreateTenancy accepts an agreement document (see factory/agreement.go)
// and stores a draft tenancy.
func (h *Handler) CreateTenancy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, errors.Wrap(err, "failed to read request body"))
		return
	}
	in, err := h.Factory.ParseAgreement(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.Engine.CreateTenancy(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenancyDTO(t))
}

// PreviewSchedule returns the obligations an agreement would generate
// without storing anything.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, errors.Wrap(err, "failed to read request body"))
		return
	}
	in, err := h.Factory.ParseAgreement(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	obligations, err := h.Engine.GenerateSchedule(tenancy.Terms{
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Rent:        in.Rent,
		Frequency:   in.Frequency,
		PaymentType: in.PaymentType,
		PaymentDay:  in.PaymentDay,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{Added: toObligationDTOs(obligations)})
}

func (h *Handler) GetTenancy(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.Tenancy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenancyDTO(t))
}

func (h *Handler) ActivateTenancy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		t           tenancy.Tenancy
		obligations []tenancy.Obligation
	)
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		t, obligations, err = h.Engine.ActivateTenancy(ctx, id)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActivateResponse{
		Tenancy:     toTenancyDTO(t),
		Obligations: toObligationDTOs(obligations),
	})
}

func (h *Handler) ExtendSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ExtendScheduleRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := optionalDate(req.EndDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var added []tenancy.Obligation
	err = h.mutate(r.Context(), func(ctx context.Context) (err error) {
		added, err = h.Engine.ExtendSchedule(ctx, id, end)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{TenancyID: id, Added: toObligationDTOs(added)})
}

func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	obligations, err := h.Engine.Obligations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTOs(obligations))
}

func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	asOf, err := optionalDate(r.URL.Query().Get("as_of"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.Engine.Statement(r.Context(), chi.URLParam(r, "id"), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outstanding, err := h.Engine.GetOutstandingBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		TenancyID:   id,
		Outstanding: money(outstanding),
		Display:     outstanding.Round2().String(),
	})
}

// =============================================================================
// OBLIGATION ENDPOINTS
// =============================================================================

func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Obligation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(o))
}

func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SubmitPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := generic.ParseGBP(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in := tenancy.SubmitInput{Amount: amount, Method: req.Method, Reference: req.Reference, Notes: req.Notes}
	if req.Date != "" {
		if in.Date, err = generic.ParseDate(req.Date); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	var o tenancy.Obligation
	err = h.mutate(r.Context(), func(ctx context.Context) (err error) {
		o, err = h.Engine.SubmitPayment(ctx, id, in)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(o))
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ConfirmPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := optionalMoney(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in := tenancy.ConfirmInput{Amount: amount, Method: req.Method, Reference: req.Reference, Notes: req.Notes}
	if req.Date != nil {
		if in.Date, err = optionalDate(*req.Date); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	var o tenancy.Obligation
	err = h.mutate(r.Context(), func(ctx context.Context) (err error) {
		o, err = h.Engine.ConfirmPayment(ctx, id, in)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(o))
}

func (h *Handler) WaiveObligation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req WaiveRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var o tenancy.Obligation
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		o, err = h.Engine.WaiveObligation(ctx, id, req.Notes)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(o))
}

// =============================================================================
// NOTICE ENDPOINTS
// =============================================================================

func (h *Handler) ListNotices(w http.ResponseWriter, r *http.Request) {
	notices, err := h.Engine.Notices(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoticeDTOs(notices))
}

func (h *Handler) GetNotice(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.Notice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoticeDTO(n))
}

func (h *Handler) GiveNotice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req GiveNoticeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := tenancy.GiveNoticeInput{GivenBy: req.GivenBy, NoticePeriodDays: req.NoticePeriodDays, Reason: req.Reason}

	var out tenancy.NoticeOutcome
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		out, err = h.Engine.GiveNotice(ctx, id, in)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNoticeOutcomeDTO(out))
}

func (h *Handler) IssueBreach(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req BreachRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := tenancy.BreachInput{
		GivenBy:     req.GivenBy,
		BreachType:  req.BreachType,
		Description: req.Description,
		Immediate:   req.Immediate,
	}

	var out tenancy.NoticeOutcome
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		out, err = h.Engine.IssueBreachNotice(ctx, id, in)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNoticeOutcomeDTO(out))
}

func (h *Handler) MarkRemedied(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var n tenancy.Notice
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		n, err = h.Engine.MarkRemedied(ctx, id)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoticeDTO(n))
}

func (h *Handler) EscalateBreach(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var out tenancy.NoticeOutcome
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		out, err = h.Engine.EscalateBreach(ctx, id)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoticeOutcomeDTO(out))
}

func (h *Handler) OfferExtension(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ExtensionOfferRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	newRent, err := optionalMoney(req.NewRent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in := tenancy.ExtensionInput{GivenBy: req.GivenBy, Months: req.Months, NewRent: newRent, Notes: req.Notes}

	var n tenancy.Notice
	err = h.mutate(r.Context(), func(ctx context.Context) (err error) {
		n, err = h.Engine.OfferExtension(ctx, id, in)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNoticeDTO(n))
}

func (h *Handler) RespondToExtension(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ExtensionResponseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var out tenancy.ExtensionOutcome
	err := h.mutate(r.Context(), func(ctx context.Context) (err error) {
		out, err = h.Engine.RespondToExtension(ctx, id, *req.Accept)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExtensionOutcomeDTO{
		Tenancy: toTenancyDTO(out.Tenancy),
		Notice:  toNoticeDTO(out.Notice),
		Added:   toObligationDTOs(out.Added),
	})
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func (h *Handler) asOf(r *http.Request) (generic.Date, error) {
	var req AsOfRequest
	if err := h.decode(r, &req); err != nil {
		return generic.Date{}, err
	}
	if req.AsOf == "" {
		return generic.Today(h.Engine.Clock()), nil
	}
	return generic.ParseDate(req.AsOf)
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Sweeper.Sweep(r.Context(), h.Engine.Clock().Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		AsOf:         result.AsOf.String(),
		Scanned:      result.Scanned,
		Deduplicated: result.Deduplicated,
		Raised:       lo.Map(result.Raised, func(rem tenancy.Reminder, _ int) ReminderDTO { return toReminderDTO(rem) }),
	})
}

func (h *Handler) CompleteTerminations(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids, err := h.Engine.CompleteDueTerminations(r.Context(), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TerminationsResponse{AsOf: asOf.String(), Terminated: lo.Ternary(ids == nil, []string{}, ids)})
}

func (h *Handler) TopUpSchedules(w http.ResponseWriter, r *http.Request) {
	added, err := h.Engine.TopUpSchedules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TopUpResponse{Added: added})
}
