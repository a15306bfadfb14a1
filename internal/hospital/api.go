package hospital

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/httputil"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// maxCodeAttempts bounds retries when a generated unit code collides.
const maxCodeAttempts = 20

// Handler provides HTTP handlers for the hospital module
type Handler struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new hospital handler
func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger.Named("hospital"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the hospital routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListHospitals)
	r.Post("/", h.Register)

	r.Route("/{hospitalID}", func(r chi.Router) {
		r.Get("/", h.GetHospital)
		r.With(auth.RequireRoles(auth.RoleAdmin)).Post("/activate", h.Activate)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRoles(auth.RoleAdmin))

			r.Get("/inventory", h.GetInventory)
			r.Put("/inventory", h.UpdateInventory)

			r.Route("/units", func(r chi.Router) {
				r.Get("/", h.ListUnits)
				r.Post("/", h.AddUnit)
				r.Get("/summary", h.GetSummary)
				r.Post("/generate-id", h.GenerateUnitID)
				r.Put("/{unitCode}/status", h.UpdateUnitStatus)
				r.Delete("/{unitCode}", h.DeleteUnit)
			})
		})
	})

	return r
}

// --- Request types ---

type AddUnitRequest struct {
	BloodType string     `json:"blood_type"`
	BloodID   string     `json:"blood_id,omitempty"`
	EntryTime *time.Time `json:"entry_time,omitempty"`
}

type UpdateUnitStatusRequest struct {
	Status UnitStatus `json:"status"`
}

// --- Hospital Handlers ---

// Register creates a hospital account in pending state
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Registration
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	hosp, err := New(req, h.now())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if !hosp.Location.HasPoint() {
		h.logger.Warn("hospital registered without coordinates; donor search will fail until they are set",
			zap.String("hospital_id", hosp.ID.String()))
	}

	if err := h.store.Create(r.Context(), hosp); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, hosp)
}

// ListHospitals lists all hospitals
func (h *Handler) ListHospitals(w http.ResponseWriter, r *http.Request) {
	hospitals, err := h.store.List(r.Context())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  hospitals,
		"total": len(hospitals),
	})
}

// GetHospital gets a hospital by ID
func (h *Handler) GetHospital(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, false)
	if !ok {
		return
	}

	hosp, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, hosp)
}

// Activate marks a pending hospital active
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, false)
	if !ok {
		return
	}

	if err := h.store.SetStatus(r.Context(), id, StatusActive, h.now()); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": string(StatusActive)})
}

// GetInventory returns unit counts for all eight groups
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	hosp, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"inventory": hosp.Inventory.Normalize()})
}

// UpdateInventory merges the posted counts into the inventory
func (h *Handler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	var counts map[string]int
	if err := httputil.DecodeJSON(r, &counts); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	hosp, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	inv, err := hosp.Inventory.ApplyCounts(counts)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	if err := h.store.SetInventory(r.Context(), id, inv, h.now()); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"inventory": inv})
}

// --- Blood Unit Handlers ---

// ListUnits lists units with expiry annotations
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	units, err := h.store.ListUnits(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	now := h.now()
	views := make([]UnitView, 0, len(units))
	for i := range units {
		views = append(views, units[i].View(now))
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  views,
		"total": len(views),
	})
}

// AddUnit adds a unit, generating its blood ID when none is given
func (h *Handler) AddUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	var req AddUnitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	bg, err := types.ParseBloodGroup(req.BloodType)
	if err != nil {
		httputil.WriteError(w, h.logger, errors.Validation("invalid blood type", map[string]string{"blood_type": err.Error()}))
		return
	}

	entry := h.now()
	if req.EntryTime != nil {
		entry = req.EntryTime.UTC()
	}

	code := strings.TrimSpace(req.BloodID)
	if code != "" {
		unit := NewUnit(id, code, bg, entry)
		if err := h.store.AddUnit(r.Context(), unit); err != nil {
			httputil.WriteError(w, h.logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, unit)
		return
	}

	unit, err := h.addWithGeneratedCode(r, id, bg, entry)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, unit)
}

func (h *Handler) addWithGeneratedCode(r *http.Request, hospitalID types.ID, bg types.BloodGroup, entry time.Time) (*BloodUnit, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateUnitCode()
		if err != nil {
			return nil, errors.Internal(err)
		}
		unit := NewUnit(hospitalID, code, bg, entry)
		err = h.store.AddUnit(r.Context(), unit)
		if err == nil {
			return unit, nil
		}
		if !errors.IsConflict(err) {
			return nil, err
		}
	}
	return nil, errors.Conflict("unable to generate a unique blood ID, please try again")
}

// GenerateUnitID returns a fresh, currently unused blood ID
func (h *Handler) GenerateUnitID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateUnitCode()
		if err != nil {
			httputil.WriteError(w, h.logger, errors.Internal(err))
			return
		}
		_, err = h.store.GetUnit(r.Context(), id, code)
		if errors.IsNotFound(err) {
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"blood_id": code})
			return
		}
		if err != nil {
			httputil.WriteError(w, h.logger, err)
			return
		}
	}
	httputil.WriteError(w, h.logger, errors.Conflict("unable to generate a unique blood ID, please try again"))
}

// UpdateUnitStatus marks a unit available, used or expired
func (h *Handler) UpdateUnitStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	var req UpdateUnitStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	unit, err := h.store.GetUnit(r.Context(), id, chi.URLParam(r, "unitCode"))
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := unit.SetStatus(req.Status, h.now()); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := h.store.UpdateUnit(r.Context(), unit); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, unit.View(h.now()))
}

// DeleteUnit removes a unit from the store
func (h *Handler) DeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	if err := h.store.DeleteUnit(r.Context(), id, chi.URLParam(r, "unitCode")); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSummary counts units per blood group by effective status
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hospitalID(w, r, true)
	if !ok {
		return
	}

	units, err := h.store.ListUnits(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, Summarize(units, h.now()))
}

// hospitalID parses the URL hospital ID. With ownerOnly set, an
// authenticated admin must administer that hospital.
func (h *Handler) hospitalID(w http.ResponseWriter, r *http.Request, ownerOnly bool) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "hospitalID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid hospital ID"))
		return "", false
	}
	if ownerOnly {
		if user := auth.GetUser(r.Context()); user != nil && user.HospitalID != id {
			httputil.WriteError(w, h.logger, errors.Forbidden("not an administrator of this hospital"))
			return "", false
		}
	}
	return id, true
}
