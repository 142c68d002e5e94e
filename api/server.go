/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs and error reports
  2. RealIP:     Client address behind a proxy
  3. Logger:     One logrus entry per request (status, bytes, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend
  6. Authorizer: Allow/deny per request on /api (allow-all by default)

ROUTE GROUPS:
  /api/health                 Liveness + database ping (not authorized)
  /api/items/*                Item master + stock
  /api/partners               Partner master
  /api/bom/*                  BOM edges and production preview
  /api/transactions/*         Ledger
  /api/process-operations/*   Process state machine
  /api/process-chains/*       Chains
  /api/admin/*                Reconciliation
  /api/scenarios/*            Demo data

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Authorizer decides whether a request may proceed. A non-nil error denies
// it and its message is returned to the client.
type Authorizer interface {
	Authorize(r *http.Request) error
}

type AuthorizerFunc func(r *http.Request) error

func (f AuthorizerFunc) Authorize(r *http.Request) error { return f(r) }

// AllowAll is the default Authorizer.
var AllowAll Authorizer = AuthorizerFunc(func(*http.Request) error { return nil })

type RouterOptions struct {
	AllowedOrigins []string
	Authorizer     Authorizer
	Log            logrus.FieldLogger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Log
	if log == nil {
		log = h.Log
	}
	authz := opts.Authorizer
	if authz == nil {
		authz = AllowAll
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(authorize(authz))

			r.Route("/items", func(r chi.Router) {
				r.Get("/", h.ListItems)
				r.Post("/", h.CreateItem)
				r.Get("/{id}", h.GetItem)
				r.Put("/{id}/active", h.SetItemActive)
				r.Get("/{id}/history", h.ItemHistory)
				r.Get("/{id}/reconcile", h.ReconcileItem)
				r.Get("/{id}/traceability", h.ItemTraceability)
			})

			r.Post("/partners", h.CreatePartner)

			r.Route("/bom", func(r chi.Router) {
				r.Post("/", h.CreateBOM)
				r.Get("/{parentId}", h.ListBOM)
				r.Get("/{parentId}/preview", h.PreviewBOM)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/", h.CreateTransaction)
				r.Post("/production-batch", h.CreateProductionBatch)
				r.Get("/{id}", h.GetTransaction)
			})

			r.Route("/process-operations", func(r chi.Router) {
				r.Get("/", h.ListOperations)
				r.Post("/", h.CreateOperation)
				r.Post("/quick", h.QuickOperation)
				r.Get("/{id}", h.GetOperation)
				r.Post("/{id}/start", h.StartOperation)
				r.Post("/{id}/complete", h.CompleteOperation)
				r.Post("/{id}/cancel", h.CancelOperation)
			})

			r.Get("/process-chains/{chainId}", h.GetChain)

			r.Post("/shipping/stock-check", h.CheckStock)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/reconciliation", h.RunReconciliation)
				r.Get("/reconciliation/runs", h.ListReconciliationRuns)
			})

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		})
	})

	return r
}

func authorize(a Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Authorize(r); err != nil {
				writeJSON(w, http.StatusForbidden, failure("FORBIDDEN", err.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one entry per request with chi's request ID.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				entry := log.WithFields(logrus.Fields{
					"request_id":  middleware.GetReqID(r.Context()),
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      status,
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"remote":      r.RemoteAddr,
				})
				switch {
				case status >= 500:
					entry.Error("request")
				case status >= 400:
					entry.Warn("request")
				default:
					entry.Info("request")
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
