package hospital

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/httputil"
	"github.com/bloodbridge/platform/internal/shared/types"
)

const transferSource = "hospital-transfers"

// TransferHandler serves blood requests between hospitals
type TransferHandler struct {
	transfers TransferStore
	hospitals Store
	sender    notification.Sender
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransferHandler creates a transfer handler. sender and publisher may be nil.
func NewTransferHandler(transfers TransferStore, hospitals Store, sender notification.Sender, publisher events.Publisher, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		hospitals: hospitals,
		sender:    sender,
		publisher: publisher,
		logger:    logger.Named("transfers"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the transfer routes
func (h *TransferHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleAdmin))

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/incoming", h.Incoming)
	r.Post("/{transferID}/respond", h.Respond)

	return r
}

// AnswerRequest is the supplying hospital's reply
type AnswerRequest struct {
	Response TransferStatus `json:"response"`
	Message  string         `json:"message"`
}

// Create asks another hospital for blood
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	from, ok := h.actingHospital(w, r, req.FromHospitalID)
	if !ok {
		return
	}

	t, err := NewTransfer(from, req, h.now())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	requester, err := h.hospitals.Get(r.Context(), from)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	supplier, err := h.hospitals.Get(r.Context(), t.ToHospitalID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	if err := h.transfers.CreateTransfer(r.Context(), t); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("transfer requested",
		zap.String("transfer_id", t.ID.String()),
		zap.String("from", from.String()),
		zap.String("to", t.ToHospitalID.String()),
		zap.String("blood_group", t.BloodGroup.String()),
		zap.Int("units", t.Units),
	)
	h.notify(supplier, fmt.Sprintf("%s requests %d unit(s) of %s blood. Transfer %s.",
		requester.Name, t.Units, t.BloodGroup, t.ID))
	h.publish(r.Context(), events.NewEvent(events.TypeTransferRequested, transferSource, t).WithActor(from, "admin"))

	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "transfer": t})
}

// List returns the acting hospital's incoming and outgoing transfers
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := h.actingHospital(w, r, queryID(r, "hospital_id"))
	if !ok {
		return
	}

	incoming, err := h.transfers.ListTransfers(r.Context(), id, Incoming)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	outgoing, err := h.transfers.ListTransfers(r.Context(), id, Outgoing)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"incoming": incoming,
		"outgoing": outgoing,
	})
}

// IncomingTransfer is a received transfer with the requesting hospital's
// contact details.
type IncomingTransfer struct {
	Transfer
	Requester HospitalContact `json:"from_hospital"`
}

// HospitalContact is how a supplying hospital reaches the requester.
type HospitalContact struct {
	Name    string `json:"hospital_name"`
	Code    string `json:"hospital_code"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Incoming lists received transfers with requester details
func (h *TransferHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	id, ok := h.actingHospital(w, r, queryID(r, "hospital_id"))
	if !ok {
		return
	}

	transfers, err := h.transfers.ListTransfers(r.Context(), id, Incoming)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	contacts := map[types.ID]HospitalContact{}
	out := make([]IncomingTransfer, 0, len(transfers))
	for _, t := range transfers {
		c, seen := contacts[t.FromHospitalID]
		if !seen {
			if from, err := h.hospitals.Get(r.Context(), t.FromHospitalID); err == nil {
				c = HospitalContact{Name: from.Name, Code: from.HospitalCode, Email: from.Email, Phone: from.Phone}
				if from.Location != nil {
					c.Address = from.Location.Address
				}
			} else {
				h.logger.Debug("requesting hospital lookup failed", zap.String("hospital_id", t.FromHospitalID.String()), zap.Error(err))
			}
			contacts[t.FromHospitalID] = c
		}
		out = append(out, IncomingTransfer{Transfer: t, Requester: c})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "requests": out})
}

// Respond accepts or rejects a transfer addressed to the acting hospital
func (h *TransferHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, h.logger, errors.BadRequest("invalid transfer ID"))
		return
	}

	var req AnswerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	t, err := h.transfers.GetTransfer(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if user := auth.GetUser(r.Context()); user != nil && user.HospitalID != t.ToHospitalID {
		httputil.WriteError(w, h.logger, errors.Forbidden("only the requested hospital may answer a transfer"))
		return
	}

	if err := t.Answer(req.Response, req.Message, h.now()); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := h.transfers.AnswerTransfer(r.Context(), t); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("transfer answered",
		zap.String("transfer_id", t.ID.String()),
		zap.String("status", string(t.Status)),
	)
	if requester, err := h.hospitals.Get(r.Context(), t.FromHospitalID); err == nil {
		h.notify(requester, fmt.Sprintf("Your request for %d unit(s) of %s blood was %s.", t.Units, t.BloodGroup, t.Status))
	}
	h.publish(r.Context(), events.NewEvent(events.TypeTransferAnswered, transferSource, t).WithActor(t.ToHospitalID, "admin"))

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "transfer": t})
}

// actingHospital is the token's hospital, or fallback when running without
// authentication.
func (h *TransferHandler) actingHospital(w http.ResponseWriter, r *http.Request, fallback types.ID) (types.ID, bool) {
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

func queryID(r *http.Request, key string) types.ID {
	id, err := types.ParseID(r.URL.Query().Get(key))
	if err != nil {
		return ""
	}
	return id
}

func (h *TransferHandler) notify(to *Hospital, body string) {
	if h.sender == nil || to.Phone == "" {
		return
	}
	msg := notification.Message{Channel: notification.ChannelSMS, RecipientID: to.ID, Phone: to.Phone, Body: body}
	if err := h.sender.Dispatch(msg); err != nil {
		h.logger.Warn("failed to queue transfer notice", zap.String("hospital_id", to.ID.String()), zap.Error(err))
	}
}

func (h *TransferHandler) publish(ctx context.Context, event events.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}
