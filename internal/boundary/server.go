// Package boundary hosts the kernel's REST surface: the chi-routed HTTP API
// through which external clients spawn and control processes, authenticate,
// manage organizations/teams/policies, schedule cron jobs and event
// triggers, query the audit log, and subscribe to the SSE event stream.
// Grounded on hub/internal/api's server/middleware/ratelimit files.
package boundary

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aether-os/kernel/internal/audit"
	"github.com/aether-os/kernel/internal/authcore"
	"github.com/aether-os/kernel/internal/config"
	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/process"
	"github.com/aether-os/kernel/internal/sse"
	"github.com/aether-os/kernel/internal/store"
)

// Server is the kernel's REST boundary.
type Server struct {
	store  store.Store
	auth   *authcore.Service
	procs  *process.Table
	audit  *audit.Logger
	sse    *sse.Fanout
	bus    *eventbus.Bus
	logger *slog.Logger

	rl      *rateLimiter
	loginRL *rateLimiter
	mux     *chi.Mux
}

// NewServer wires the kernel's full HTTP surface: unauthenticated health
// and webhook routes, the authenticated/rate-limited API group, admin-only
// subroutes, and the SSE stream.
func NewServer(
	s store.Store,
	auth *authcore.Service,
	procs *process.Table,
	auditLogger *audit.Logger,
	fanout *sse.Fanout,
	bus *eventbus.Bus,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	srv := &Server{
		store:  s,
		auth:   auth,
		procs:  procs,
		audit:  auditLogger,
		sse:    fanout,
		bus:    bus,
		logger: logger,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))
	mux.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Server.MaxBodyBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxBodyBytes)
			}
			next.ServeHTTP(w, r)
		})
	})

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	srv.loginRL = newRateLimiter(5, 10)
	mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/v1/auth/register", srv.handleRegister)
	mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/v1/auth/login", srv.handleLogin)
	mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/v1/auth/mfa/verify", srv.handleVerifyMFA)

	mux.With(slackVerify(cfg.Server.SlackSigningKey)).Post("/api/v1/webhooks/slack", srv.handleWebhook)

	if metricsAddr := cfg.Server.MetricsAddr; metricsAddr == "" {
		for _, c := range audit.Collectors() {
			_ = prometheus.Register(c) // a repeat NewServer finds them already registered
		}
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/v1/me", srv.handleMe)
		r.Post("/api/v1/auth/mfa/setup", srv.handleSetupMFA)
		r.Post("/api/v1/auth/mfa/enable", srv.handleEnableMFA)
		r.Post("/api/v1/auth/mfa/disable", srv.handleDisableMFA)

		r.Get("/api/v1/events/stream", srv.sse.ServeHTTP)

		r.With(srv.requirePermission("process:spawn", nil)).
			Post("/api/v1/processes", srv.handleSpawn)
		r.Get("/api/v1/processes", srv.handleListProcesses)
		r.With(srv.requirePermission("process:read", resourceFromPIDParam)).
			Get("/api/v1/processes/{pid}", srv.handleGetProcess)
		r.With(srv.requirePermission("process:signal", resourceFromPIDParam)).
			Post("/api/v1/processes/{pid}/signal", srv.handleSignal)
		r.With(srv.requirePermission("process:write", resourceFromPIDParam)).
			Post("/api/v1/processes/{pid}/priority", srv.handleSetPriority)
		r.With(srv.requirePermission("process:write", resourceFromPIDParam)).
			Post("/api/v1/processes/{pid}/messages", srv.handleSendMessage)
		r.With(srv.requirePermission("process:read", resourceFromPIDParam)).
			Get("/api/v1/processes/{pid}/messages", srv.handleDrainMessages)

		r.With(srv.requirePermission("org:create", nil)).
			Post("/api/v1/orgs", srv.handleCreateOrg)
		r.With(srv.requirePermission("org:invite", resourceFromOrgParam)).
			Post("/api/v1/orgs/{orgID}/members", srv.handleInviteMember)
		r.With(srv.requirePermission("org:manage", resourceFromOrgParam)).
			Put("/api/v1/orgs/{orgID}/members/{userID}", srv.handlePromoteMember)
		r.With(srv.requirePermission("org:manage", resourceFromOrgParam)).
			Delete("/api/v1/orgs/{orgID}/members/{userID}", srv.handleRemoveMember)
		r.With(srv.requirePermission("org:manage", resourceFromOrgParam)).
			Post("/api/v1/orgs/{orgID}/teams", srv.handleCreateTeam)
		r.With(srv.requirePermission("team:manage", resourceFromTeamParam)).
			Post("/api/v1/teams/{teamID}/members", srv.handleAddTeamMember)

		r.With(srv.requirePermission("scheduler:write", nil)).
			Post("/api/v1/cron-jobs", srv.handleCreateCronJob)
		r.Get("/api/v1/cron-jobs", srv.handleListCronJobs)
		r.With(srv.requirePermission("scheduler:write", nil)).
			Put("/api/v1/cron-jobs/{jobID}", srv.handleUpdateCronJob)
		r.With(srv.requirePermission("scheduler:write", nil)).
			Delete("/api/v1/cron-jobs/{jobID}", srv.handleDeleteCronJob)

		r.With(srv.requirePermission("scheduler:write", nil)).
			Post("/api/v1/triggers", srv.handleCreateTrigger)
		r.Get("/api/v1/triggers", srv.handleListTriggers)
		r.With(srv.requirePermission("scheduler:write", nil)).
			Put("/api/v1/triggers/{triggerID}", srv.handleUpdateTrigger)
		r.With(srv.requirePermission("scheduler:write", nil)).
			Delete("/api/v1/triggers/{triggerID}", srv.handleDeleteTrigger)

		// Admin-only routes.
		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)

			r.Post("/api/v1/policies", srv.handleCreatePolicy)
			r.Get("/api/v1/policies", srv.handleListPolicies)
			r.Get("/api/v1/policies/{policyID}", srv.handleGetPolicy)
			r.Delete("/api/v1/policies/{policyID}", srv.handleDeletePolicy)

			r.Get("/api/v1/audit", srv.handleQueryAudit)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeErrCode(w, http.StatusServiceUnavailable, "TRANSIENT", "store unavailable: "+err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}
