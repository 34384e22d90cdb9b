/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, logged with each request
  2. RealIP:     Client address from proxy headers
  3. Logging:    Structured request log through zap
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the landlord/lodger frontends

ROUTE GROUPS:
  /api/tenancies/*      Tenancy lifecycle, schedule, statement, notices
  /api/obligations/*    Payment submission, confirmation, waivers
  /api/notices/*        Breach remedy/escalation, extension responses
  /api/admin/*          Sweep, terminations, schedule top-up
  /api/scenarios/*      Demo scenarios (dev only)
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/lodger/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/lodger-engine/logger"
)

type RouterOptions struct {
	AllowedOrigins []string
	Logger         *logger.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/tenancies", func(r chi.Router) {
			r.Get("/", h.ListTenancies)
			r.Post("/", h.CreateTenancy)
			r.Post("/preview", h.PreviewSchedule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTenancy)
				r.Post("/activate", h.ActivateTenancy)
				r.Post("/schedule/extend", h.ExtendSchedule)
				r.Get("/obligations", h.ListObligations)
				r.Get("/statement", h.GetStatement)
				r.Get("/balance", h.GetBalance)
				r.Get("/notices", h.ListNotices)
				r.Post("/notices", h.GiveNotice)
				r.Post("/breaches", h.IssueBreach)
				r.Post("/extensions", h.OfferExtension)
			})
		})

		r.Route("/obligations/{id}", func(r chi.Router) {
			r.Get("/", h.GetObligation)
			r.Post("/submit", h.SubmitPayment)
			r.Post("/confirm", h.ConfirmPayment)
			r.Post("/waive", h.WaiveObligation)
		})

		r.Route("/notices/{id}", func(r chi.Router) {
			r.Get("/", h.GetNotice)
			r.Post("/remedy", h.MarkRemedied)
			r.Post("/escalate", h.EscalateBreach)
			r.Post("/respond", h.RespondToExtension)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
			r.Post("/terminations", h.CompleteTerminations)
			r.Post("/topup", h.TopUpSchedules)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request with status, size and latency.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Infow("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
