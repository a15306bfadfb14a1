package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/request/domain"
	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/httputil"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Handler handles HTTP requests for the request lifecycle
type Handler struct {
	tracker *domain.Tracker
	logger  *zap.Logger
}

// NewHandler creates a new request handler
func NewHandler(tracker *domain.Tracker, logger *zap.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		logger:  logger.Named("request"),
	}
}

// Routes returns the router for request endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/donors/{donorID}", h.ListDonorRequests)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Get("/hospitals/{hospitalID}/stats", h.HospitalStats)

	r.Route("/{requestID}", func(r chi.Router) {
		r.Post("/respond", h.Respond)
		r.Post("/form", h.SubmitForm)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRoles(auth.RoleAdmin))
			r.Use(h.ownerOnly)
			r.Get("/accepted", h.AcceptedDonors)
			r.Get("/forms", h.ListForms)
			r.Post("/select", h.Select)
			r.Post("/resume", h.Resume)
		})
	})

	return r
}

// RespondRequest is the body of a donor response
type RespondRequest struct {
	// DonorID is taken from the token when authenticated.
	DonorID  types.ID `json:"donor_id,omitempty"`
	Response string   `json:"response"`
}

// SelectRequest is the body of a donor selection
type SelectRequest struct {
	DonorID types.ID `json:"donor_id"`
}

// FormRequest is the body of a donation form submission
type FormRequest struct {
	// DonorID is taken from the token when authenticated.
	DonorID  types.ID                  `json:"donor_id,omitempty"`
	FormData map[string]map[string]any `json:"form_data"`
}

// Respond records a donor's answer
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var req RespondRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	donorID, ok := h.donorID(w, r, req.DonorID)
	if !ok {
		return
	}

	decision, err := domain.ParseDecision(req.Response)
	if err != nil {
		httputil.WriteError(w, h.logger, errors.Validation("response must be accepted or rejected", map[string]string{"response": req.Response}))
		return
	}

	rec, err := h.tracker.Respond(r.Context(), requestID, donorID, decision)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"record":  domain.NewView(rec),
	})
}

// SubmitForm files the questionnaire of a donor who accepted
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var req FormRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	donorID, ok := h.donorID(w, r, req.DonorID)
	if !ok {
		return
	}

	form, err := h.tracker.SubmitForm(r.Context(), requestID, donorID, req.FormData)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "form": form})
}

// ListForms lists the questionnaires filed for a request
func (h *Handler) ListForms(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}

	forms, err := h.tracker.Forms(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "forms": forms})
}

// Select chooses one of the donors who accepted
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if req.DonorID.IsZero() {
		httputil.WriteError(w, h.logger, errors.Validation("donor_id is required", map[string]string{"donor_id": "required"}))
		return
	}

	sel, err := h.tracker.Select(r.Context(), requestID, req.DonorID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, selectionResponse(sel))
}

// Resume re-runs the follow-up steps of an interrupted selection
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}

	sel, err := h.tracker.ResumeSelection(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, selectionResponse(sel))
}

func selectionResponse(sel *domain.Selection) map[string]any {
	return map[string]any{
		"success":    len(sel.Incomplete) == 0,
		"record":     domain.NewView(sel.Record),
		"donation":   sel.Donation,
		"superseded": sel.Superseded,
		"incomplete": sel.Incomplete,
	}
}

// AcceptedDonors lists donors who accepted a request
func (h *Handler) AcceptedDonors(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}

	donors, err := h.tracker.AcceptedDonors(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "donors": donors})
}

// ListDonorRequests lists a donor's requests; ?pending=true limits it to
// those awaiting an answer.
func (h *Handler) ListDonorRequests(w http.ResponseWriter, r *http.Request) {
	donorID, err := types.ParseID(chi.URLParam(r, "donorID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid donor ID"))
		return
	}
	if user := auth.GetUser(r.Context()); user != nil && !user.IsAdmin() && user.ID != donorID {
		httputil.WriteError(w, h.logger, errors.Forbidden("donors may only view their own requests"))
		return
	}

	requests, err := h.tracker.DonorRequests(r.Context(), donorID, r.URL.Query().Get("pending") == "true")
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "requests": requests})
}

// HospitalStats reports a hospital's request outcomes
func (h *Handler) HospitalStats(w http.ResponseWriter, r *http.Request) {
	hospitalID, err := types.ParseID(chi.URLParam(r, "hospitalID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid hospital ID"))
		return
	}
	if user := auth.GetUser(r.Context()); user != nil && user.HospitalID != hospitalID {
		httputil.WriteError(w, h.logger, errors.Forbidden("admins may only view their own hospital"))
		return
	}

	report, err := h.tracker.HospitalStats(r.Context(), hospitalID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// ownerOnly rejects admins of hospitals other than the one that broadcast
// the request.
func (h *Handler) ownerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetUser(r.Context())
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}
		requestID, ok := h.requestID(w, r)
		if !ok {
			return
		}
		if err := h.tracker.Authorize(r.Context(), requestID, user.HospitalID); err != nil {
			if errors.IsForbidden(err) {
				h.logger.Warn("request access denied",
					zap.String("request_id", requestID.String()),
					zap.String("hospital_id", user.HospitalID.String()),
				)
			}
			httputil.WriteError(w, h.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// donorID resolves the acting donor: the token's subject when authenticated,
// otherwise the id in the body.
func (h *Handler) donorID(w http.ResponseWriter, r *http.Request, fromBody types.ID) (types.ID, bool) {
	donorID := fromBody
	if user := auth.GetUser(r.Context()); user != nil {
		if user.IsAdmin() {
			httputil.WriteError(w, h.logger, errors.Forbidden("only donors may act on their requests"))
			return "", false
		}
		donorID = user.ID
	}
	if donorID.IsZero() {
		httputil.WriteError(w, h.logger, errors.Validation("donor_id is required", map[string]string{"donor_id": "required"}))
		return "", false
	}
	return donorID, true
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid request ID"))
		return "", false
	}
	return id, true
}
