package donation

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

// Handler provides HTTP handlers for donation history
type Handler struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new donation handler
func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger.Named("donation"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the donation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListDonations)
	r.Get("/stats", h.GetStats)

	return r
}

// ListDonations lists history entries with their cooldown state.
// Admins are scoped to their hospital and donors to themselves; without
// authentication the hospital_id and donor_id query parameters apply.
func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
	filter, err := scopedFilter(r)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	filter.Limit = httputil.QueryInt(r, "limit", 50)
	filter.Offset = httputil.QueryInt(r, "offset", 0)

	records, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	now := h.now()
	views := make([]RecordView, 0, len(records))
	for i := range records {
		views = append(views, RecordView{Record: records[i], CooldownState: records[i].Cooldown(now)})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   views,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetStats returns totals, per-group and per-hospital counts and active cooldowns
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	filter, err := scopedFilter(r)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	stats, err := h.store.Stats(r.Context(), filter.HospitalID, h.now())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func scopedFilter(r *http.Request) (Filter, error) {
	var f Filter
	if user := auth.GetUser(r.Context()); user != nil {
		if user.IsAdmin() {
			id := user.HospitalID
			f.HospitalID = &id
		} else {
			id := user.ID
			f.DonorID = &id
		}
		return f, nil
	}

	if v := r.URL.Query().Get("hospital_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			return f, errors.BadRequest("invalid hospital_id")
		}
		f.HospitalID = &id
	}
	if v := r.URL.Query().Get("donor_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			return f, errors.BadRequest("invalid donor_id")
		}
		f.DonorID = &id
	}
	return f, nil
}
