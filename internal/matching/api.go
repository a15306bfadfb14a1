package matching

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/httputil"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Handler serves donor search and alert endpoints.
type Handler struct {
	matcher *Matcher
	alerter *Alerter
	logger  *zap.Logger
}

// NewHandler creates a matching handler.
func NewHandler(matcher *Matcher, alerter *Alerter, logger *zap.Logger) *Handler {
	return &Handler{
		matcher: matcher,
		alerter: alerter,
		logger:  logger.Named("matching"),
	}
}

// Routes returns the matching router. Both endpoints are admin only.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleAdmin))

	r.Post("/search", h.Search)
	r.Post("/alerts", h.Alert)

	return r
}

// SearchRequest is the body of both endpoints. HospitalID is only read
// when the request carries no token; admins always search from their own
// hospital.
type SearchRequest struct {
	HospitalID    types.ID `json:"hospital_id,omitempty"`
	BloodGroup    string   `json:"blood_group"`
	MaxDistanceKm float64  `json:"max_distance_km,omitempty"`
	Channel       string   `json:"channel,omitempty"`
}

func (h *Handler) query(r *http.Request) (Query, error) {
	var req SearchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return Query{}, err
	}

	q := Query{
		HospitalID:    req.HospitalID,
		BloodGroup:    types.BloodGroup(req.BloodGroup),
		MaxDistanceKm: req.MaxDistanceKm,
		Channel:       notification.Channel(req.Channel),
	}
	if user := auth.GetUser(r.Context()); user != nil {
		if user.HospitalID.IsZero() {
			return Query{}, errors.Forbidden("admin account is not linked to a hospital")
		}
		q.HospitalID = user.HospitalID
	}
	return q, nil
}

// Search ranks nearby donors and opens pending records for them
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.matcher.FindCandidates(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  res,
		"count":   len(res.Candidates),
	})
}

// Alert searches and messages every newly notified donor
func (h *Handler) Alert(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.alerter.Broadcast(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  res,
		"count":   len(res.Candidates),
	})
}
