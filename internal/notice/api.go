package notice

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/httputil"
	"github.com/bloodbridge/platform/internal/shared/types"
)

const (
	defaultActiveLimit = 20
	maxActiveLimit     = 100
)

// Handler serves the notice board
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a notice handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger.Named("notices")}
}

// Routes registers the notice routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/active", h.Active)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRoles(auth.RoleAdmin))

		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Put("/{noticeID}", h.UpdateStatus)
		r.Delete("/{noticeID}", h.Delete)
	})

	return r
}

// CreateRequest is a draft plus the owning hospital for unauthenticated use
type CreateRequest struct {
	Draft
	HospitalID types.ID `json:"hospital_id,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

// Create publishes a notice
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	hospitalID, ok := h.hospital(w, r, req.HospitalID)
	if !ok {
		return
	}

	n, err := h.service.Publish(r.Context(), hospitalID, req.Draft)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"notice":         n,
		"notified_count": n.Recipients,
	})
}

// List returns the hospital's own notices
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := h.hospital(w, r, queryID(r))
	if !ok {
		return
	}
	notices, err := h.service.Own(r.Context(), hospitalID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "notices": notices})
}

// Active returns the public board
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", defaultActiveLimit)
	if limit < 1 || limit > maxActiveLimit {
		limit = defaultActiveLimit
	}
	notices, err := h.service.Active(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "notices": notices})
}

// UpdateStatus activates or deactivates a notice
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "noticeID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid notice ID"))
		return
	}
	var req StatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	hospitalID, ok := h.hospital(w, r, queryID(r))
	if !ok {
		return
	}

	if err := h.service.SetStatus(r.Context(), id, hospitalID, status); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

// Delete removes a notice
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "noticeID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid notice ID"))
		return
	}
	hospitalID, ok := h.hospital(w, r, queryID(r))
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), id, hospitalID); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// hospital is the token's hospital, or fallback without authentication.
func (h *Handler) hospital(w http.ResponseWriter, r *http.Request, fallback types.ID) (types.ID, bool) {
	id := fallback
	if user := auth.GetUser(r.Context()); user != nil {
		id = user.HospitalID
	}
	if id.IsZero() {
		httputil.WriteError(w, h.logger, errors.Validation("hospital_id is required", map[string]string{"hospital_id": "required"}))
		return "", false
	}
	return id, true
}

func queryID(r *http.Request) types.ID {
	id, err := types.ParseID(r.URL.Query().Get("hospital_id"))
	if err != nil {
		return ""
	}
	return id
}
