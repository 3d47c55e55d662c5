package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"leadflow/internal/events"
	"leadflow/internal/models"
	"leadflow/internal/services"
	"leadflow/internal/storage"
	"leadflow/internal/store"
)

const (
	dateLayout       = "2006-01-02"
	defaultUsageDays = 30
	maxUsageDays     = 366
)

// companyPurger is implemented by blob stores that can drop a tenant's objects.
type companyPurger interface {
	DeleteCompanyObjects(ctx context.Context, companyID string) (int, error)
}

// OpsHandler is the operator API over sessions, tickets, tenants and usage.
type OpsHandler struct {
	engine     *services.Engine
	st         *store.Stores
	blobs      storage.BlobStore
	dispatcher *events.Dispatcher
	loc        *time.Location
}

func NewOpsHandler(engine *services.Engine, st *store.Stores, blobs storage.BlobStore, dispatcher *events.Dispatcher, loc *time.Location) *OpsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &OpsHandler{engine: engine, st: st, blobs: blobs, dispatcher: dispatcher, loc: loc}
}

// RequireAdmin checks the bearer token on every operator request.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				hlog.FromRequest(r).Warn().Str("path", r.URL.Path).Msg("Unauthorized operator request")
				respondError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// CloseSession closes a session with cause operator.
func (h *OpsHandler) CloseSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		closed, err := h.engine.Sessions.CloseNow(r.Context(), id, models.CloseOperator)
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "closed": closed})
	}
}

type ticketPatch struct {
	Status     *models.TicketStatus   `json:"status"`
	Priority   *models.TicketPriority `json:"priority"`
	AssignedTo *string                `json:"assigned_to"`
	Actor      string                 `json:"actor"`
}

// UpdateTicket applies a status, priority or assignee change.
func (h *OpsHandler) UpdateTicket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ticketPatch
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Status == nil && req.Priority == nil && req.AssignedTo == nil {
			respondError(w, r, http.StatusBadRequest, "nothing to update")
			return
		}
		if req.Status != nil && !req.Status.Valid() {
			respondError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", *req.Status))
			return
		}
		if req.Priority != nil && !req.Priority.Valid() {
			respondError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown priority %q", *req.Priority))
			return
		}
		ticket, err := h.engine.Tickets.Update(r.Context(), mux.Vars(r)["id"], store.TicketChange{
			Status:     req.Status,
			Priority:   req.Priority,
			AssignedTo: req.AssignedTo,
			Actor:      req.Actor,
		})
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, ticket)
	}
}

// GetTicket returns a ticket with its images and comments.
func (h *OpsHandler) GetTicket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := h.engine.Tickets.Detail(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, detail)
	}
}

// AddTicketComment appends an operator comment.
func (h *OpsHandler) AddTicketComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Author string `json:"author"`
			Body   string `json:"body"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Body) == "" {
			respondError(w, r, http.StatusBadRequest, "body is required")
			return
		}
		if req.Author == "" {
			req.Author = "operator"
		}
		if err := h.engine.Tickets.AddComment(r.Context(), mux.Vars(r)["id"], req.Author, req.Body); err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, map[string]interface{}{"success": true})
	}
}

// ReplaceKnowledge swaps the knowledge sections of a company.
func (h *OpsHandler) ReplaceKnowledge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sections []struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			} `json:"sections"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		companyID := mux.Vars(r)["id"]
		sections := make([]models.KnowledgeSection, 0, len(req.Sections))
		for i, s := range req.Sections {
			if strings.TrimSpace(s.Title) == "" {
				respondError(w, r, http.StatusBadRequest, fmt.Sprintf("section %d has no title", i))
				return
			}
			sections = append(sections, models.KnowledgeSection{CompanyID: companyID, Title: s.Title, Content: s.Content, Position: i})
		}
		if err := h.engine.Tenants.ReplaceKnowledge(r.Context(), companyID, sections); err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"company_id": companyID, "sections": len(sections)})
	}
}

// UpdateCredentials stores a new transport access token for a company.
func (h *OpsHandler) UpdateCredentials() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AccessToken string `json:"access_token"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.AccessToken) == "" {
			respondError(w, r, http.StatusBadRequest, "access_token is required")
			return
		}
		companyID := mux.Vars(r)["id"]
		if err := h.st.Companies.UpdateAccessToken(r.Context(), companyID, strings.TrimSpace(req.AccessToken)); err != nil {
			respondFailure(w, r, err)
			return
		}
		hlog.FromRequest(r).Info().Str("companyID", companyID).Msg("Transport credentials updated")
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// AddCompanyAdmin registers an address that receives the company's
// notifications.
func (h *OpsHandler) AddCompanyAdmin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if !strings.Contains(req.Email, "@") {
			respondError(w, r, http.StatusBadRequest, "a valid email is required")
			return
		}
		companyID := mux.Vars(r)["id"]
		if _, err := h.st.Companies.Get(r.Context(), companyID); err != nil {
			respondFailure(w, r, err)
			return
		}
		admin := &models.CompanyAdmin{CompanyID: companyID, Name: strings.TrimSpace(req.Name), Email: req.Email}
		if err := h.st.Companies.AddAdmin(r.Context(), admin); err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, admin)
	}
}

func (h *OpsHandler) parseDate(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseInLocation(dateLayout, value, h.loc)
}

// CompanyUsage reports LLM usage between two inclusive dates.
func (h *OpsHandler) CompanyUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().In(h.loc)
		end, err := h.parseDate(r.URL.Query().Get("end"), now)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		start, err := h.parseDate(r.URL.Query().Get("start"), end.AddDate(0, 0, -(defaultUsageDays-1)))
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		if end.Before(start) {
			respondError(w, r, http.StatusBadRequest, "end is before start")
			return
		}
		usage, err := h.engine.Usage.CompanyUsage(r.Context(), mux.Vars(r)["id"], start, end)
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, usage)
	}
}

// DailyUsage returns the zero-filled daily series.
func (h *OpsHandler) DailyUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := defaultUsageDays
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxUsageDays {
				respondError(w, r, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxUsageDays))
				return
			}
			days = n
		}
		series, err := h.engine.Usage.DailySeries(r.Context(), mux.Vars(r)["id"], days, time.Now())
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"days": days, "series": series})
	}
}

// Media streams a stored blob.
func (h *OpsHandler) Media() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		data, err := h.blobs.Get(r.Context(), key)
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// PurgeCompanyMedia deletes every blob of a company when the store supports it.
func (h *OpsHandler) PurgeCompanyMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purger, ok := h.blobs.(companyPurger)
		if !ok {
			respondError(w, r, http.StatusNotImplemented, "blob store does not support purging")
			return
		}
		companyID := mux.Vars(r)["id"]
		n, err := purger.DeleteCompanyObjects(r.Context(), companyID)
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		hlog.FromRequest(r).Info().Str("companyID", companyID).Int("objects", n).Msg("Company media purged")
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"company_id": companyID, "deleted": n})
	}
}

// EventStatus reports the domain event dispatcher state.
func (h *OpsHandler) EventStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.dispatcher == nil || !h.dispatcher.Enabled() {
			respondError(w, r, http.StatusServiceUnavailable, "event dispatcher not configured")
			return
		}
		limit := 50
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = v
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"stats":   h.dispatcher.Stats(),
			"pending": h.dispatcher.Pending(limit),
		})
	}
}

// JobRuns lists the most recent scheduler runs.
func (h *OpsHandler) JobRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := h.st.Jobs.ListRecent(r.Context(), 50)
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, runs)
	}
}
