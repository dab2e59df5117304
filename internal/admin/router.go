package admin

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/middleware"
)

// RouterOptions are the admin server settings the router applies.
type RouterOptions struct {
	ReadTimeout      time.Duration
	AdminToken       string
	RefreshPerMinute int
}

// NewRouter builds the admin HTTP handler.
//
// Route table:
//
//	GET    /api/v1/repos                    → registry entries with alias targets
//	GET    /api/v1/repos/{alias}            → one entry
//	POST   /api/v1/repos/{alias}/refresh    → run a cycle now (blocks until done)
//	POST   /api/v1/repos/{alias}/reconcile  → correct flags against the live version
//	GET    /api/v1/cleanup/pending          → retired versions awaiting deletion
//	GET    /api/v1/scheduler                → loop state, last outcome per alias
//	GET    /health/live, /health/ready      → probes
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → Auth → mux
//
// Read routes get ReadTimeout; refresh and reconcile are not bounded here
// because the build commands carry their own timeouts. Manual refreshes are
// rate limited per alias.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()
	read := func(fn http.HandlerFunc) http.Handler {
		if opts.ReadTimeout <= 0 {
			return fn
		}
		return middleware.Timeout(opts.ReadTimeout)(fn)
	}
	limitRefresh := middleware.RateLimit(middleware.NewLimiter(opts.RefreshPerMinute), func(r *http.Request) string {
		return r.PathValue("alias")
	})

	mux.Handle("GET /health/live", checker.LiveHandler())
	mux.Handle("GET /health/ready", read(checker.ReadyHandler()))

	mux.Handle("GET /api/v1/repos", read(h.ListRepos))
	mux.Handle("GET /api/v1/repos/{alias}", read(h.GetRepo))
	mux.Handle("POST /api/v1/repos/{alias}/refresh", limitRefresh(http.HandlerFunc(h.Refresh)))
	mux.HandleFunc("POST /api/v1/repos/{alias}/reconcile", h.Reconcile)
	mux.Handle("GET /api/v1/cleanup/pending", read(h.PendingCleanups))
	mux.Handle("GET /api/v1/scheduler", read(h.SchedulerStatus))

	var chain http.Handler = mux
	chain = middleware.Auth(opts.AdminToken)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	return chain
}
