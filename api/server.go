/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Remote address for the access log
  3. Logger:     slog access log (requestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus count and latency per route pattern
  6. CORS:       The desktop UI runs on its own dev-server origin

ROUTE GROUPS:
  /api/students/*   Students, memberships, payments
  /api/groups/*     Groups and group reports
  /api/reports/*    Month reports and search
  /api/merge/*      Duplicate detection and merge
  /metrics          Prometheus scrape endpoint
  /healthz          Liveness

SECURITY NOTE:
  No authentication. The server must bind to loopback only; config.Validate
  refuses anything else.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the front-end dev-server origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// NewRouter creates a new router with all routes configured. With no
// origins, DefaultAllowedOrigins is used.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/groupless", h.ListGroupless)
			r.Get("/undo", h.LastDeleted)
			r.Post("/undo", h.UndoDelete)
			r.Post("/bulk-delete", h.BulkDeleteStudents)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetStudent)
				r.Put("/", h.UpdateStudent)
				r.Delete("/", h.DeleteStudent)
				r.Put("/groups", h.SetStudentGroups)
				r.Get("/status", h.GetStatus)
				r.Get("/payments", h.GetPayments)
				r.Put("/payments", h.UpsertPayments)
				r.Get("/grid", h.GetGrid)
			})
		})

		// Group routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/counts", h.GroupCounts)
			r.Delete("/{name}", h.DeleteGroup)
			r.Post("/{name}/remove-sole", h.RemoveSole)
			r.Get("/{name}/roster", h.GroupRoster)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/month", h.MonthReport)
			r.Get("/unpaid", h.UnpaidReport)
			r.Get("/summary", h.SummaryReport)
			r.Get("/search", h.SearchStudents)
		})

		// Merge routes
		r.Route("/merge", func(r chi.Router) {
			r.Get("/candidates", h.MergeCandidates)
			r.Post("/", h.Merge)
			r.Post("/auto", h.MergeAll)
		})

		r.Get("/academic-years", h.AcademicYears)
	})

	return r
}

// requestLogger writes one slog line per request: Error for 5xx, Warn for
// 4xx, Info otherwise.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch status := ww.Status(); {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			log.LogAttrs(r.Context(), level, "HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", requestID(r)),
			)
		})
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
