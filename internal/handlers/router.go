package handlers

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// RouterConfig groups the handlers mounted by NewRouter. Ops may be nil; the
// authenticated operator routes are only mounted when AdminToken is set.
type RouterConfig struct {
	Webhook    *WebhookHandler
	Health     *HealthHandler
	Ops        *OpsHandler
	AdminToken string
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hlog.FromRequest(r).Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
				respondError(w, r, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func NewRouter(cfg RouterConfig) http.Handler {
	base := alice.New(
		hlog.NewHandler(log.Logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Debug().
				Str("method", r.Method).
				Str("url", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Request")
		}),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		recoverer,
	)

	r := mux.NewRouter()
	r.Handle("/health", base.Then(cfg.Health.Health())).Methods(http.MethodGet)
	r.Handle("/ready", base.Then(cfg.Health.Ready())).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/webhook", base.Then(cfg.Webhook.Verify())).Methods(http.MethodGet)
	r.Handle("/webhook", base.Then(cfg.Webhook.Receive())).Methods(http.MethodPost)

	if cfg.Ops == nil {
		return r
	}
	// linked from notification emails; keys are random per object
	r.Handle("/api/media/{key:.+}", base.Then(cfg.Ops.Media())).Methods(http.MethodGet)

	if cfg.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN not set; operator API disabled")
		return r
	}

	admin := base.Append(RequireAdmin(cfg.AdminToken))
	ops := cfg.Ops
	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/sessions/{id}/close", admin.Then(ops.CloseSession())).Methods(http.MethodPost)
	api.Handle("/tickets/{id}", admin.Then(ops.GetTicket())).Methods(http.MethodGet)
	api.Handle("/tickets/{id}", admin.Then(ops.UpdateTicket())).Methods(http.MethodPatch)
	api.Handle("/tickets/{id}/comments", admin.Then(ops.AddTicketComment())).Methods(http.MethodPost)
	api.Handle("/companies/{id}/knowledge", admin.Then(ops.ReplaceKnowledge())).Methods(http.MethodPut)
	api.Handle("/companies/{id}/admins", admin.Then(ops.AddCompanyAdmin())).Methods(http.MethodPost)
	api.Handle("/companies/{id}/credentials", admin.Then(ops.UpdateCredentials())).Methods(http.MethodPut)
	api.Handle("/companies/{id}/usage", admin.Then(ops.CompanyUsage())).Methods(http.MethodGet)
	api.Handle("/companies/{id}/usage/daily", admin.Then(ops.DailyUsage())).Methods(http.MethodGet)
	api.Handle("/companies/{id}/media", admin.Then(ops.PurgeCompanyMedia())).Methods(http.MethodDelete)
	api.Handle("/events/status", admin.Then(ops.EventStatus())).Methods(http.MethodGet)
	api.Handle("/jobs", admin.Then(ops.JobRuns())).Methods(http.MethodGet)
	return r
}
