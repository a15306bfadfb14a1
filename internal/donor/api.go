package donor

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/httputil"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the donor module
type Handler struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new donor handler
func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger.Named("donor"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the donor routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Register)

	r.Route("/{donorID}", func(r chi.Router) {
		r.Get("/", h.GetDonor)
		r.Put("/health", h.UpdateHealth)
		r.Put("/location", h.UpdateLocation)
		r.Get("/eligibility", h.GetEligibility)
	})

	return r
}

// Register creates a donor account
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Registration
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	d, err := New(req, h.now())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	if err := h.store.Create(r.Context(), d); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("donor registered", zap.String("donor_id", d.ID.String()), zap.String("blood_group", d.BloodGroup.String()))
	httputil.WriteJSON(w, http.StatusCreated, d)
}

// GetDonor gets a donor by ID
func (h *Handler) GetDonor(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// UpdateHealth updates age, weight, height and gender
func (h *Handler) UpdateHealth(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}

	var req HealthUpdate
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := d.ApplyHealth(req, h.now()); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := h.store.Update(r.Context(), d); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, d)
}

// UpdateLocation replaces the donor's address and coordinates
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}

	var req types.Location
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := d.SetLocation(req, h.now()); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := h.store.Update(r.Context(), d); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, d)
}

// GetEligibility reports whether the donor can donate now
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d.CheckEligibility(h.now()))
}

// loadAuthorized fetches the donor in the URL. Donors may only see
// themselves; admins may see anyone.
func (h *Handler) loadAuthorized(w http.ResponseWriter, r *http.Request) (*Donor, bool) {
	id, err := types.ParseID(chi.URLParam(r, "donorID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid donor ID"))
		return nil, false
	}

	if user := auth.GetUser(r.Context()); user != nil && !user.IsAdmin() && user.ID != id {
		httputil.WriteError(w, h.logger, errors.Forbidden("donors may only access their own profile"))
		return nil, false
	}

	d, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return nil, false
	}
	return d, true
}
