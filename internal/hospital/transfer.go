package hospital

import (
	"context"
	"strings"
	"time"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// TransferStatus is the state of a blood request between hospitals.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferRejected TransferStatus = "rejected"
)

// MaxTransferUnits bounds a single transfer request.
const MaxTransferUnits = 50

// Transfer is blood one hospital asks of another. Only the supplying
// hospital answers it, and only once.
type Transfer struct {
	ID              types.ID         `json:"id"`
	FromHospitalID  types.ID         `json:"from_hospital_id"`
	ToHospitalID    types.ID         `json:"to_hospital_id"`
	BloodGroup      types.BloodGroup `json:"blood_group"`
	Units           int              `json:"units"`
	Message         string           `json:"message"`
	Status          TransferStatus   `json:"status"`
	ResponseMessage string           `json:"response_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	RespondedAt     *time.Time       `json:"responded_at,omitempty"`
}

// TransferRequest is the body of a new transfer. Units defaults to 1.
type TransferRequest struct {
	// FromHospitalID is taken from the token when authenticated.
	FromHospitalID types.ID `json:"from_hospital_id,omitempty"`
	ToHospitalID   types.ID `json:"to_hospital_id"`
	BloodGroup     string   `json:"blood_group"`
	Units          int      `json:"units"`
	Message        string   `json:"message"`
}

// NewTransfer validates req and opens a pending transfer from the given
// hospital.
func NewTransfer(from types.ID, req TransferRequest, now time.Time) (*Transfer, error) {
	details := map[string]string{}

	if req.ToHospitalID.IsZero() {
		details["to_hospital_id"] = "required"
	} else if req.ToHospitalID == from {
		details["to_hospital_id"] = "cannot request blood from your own hospital"
	}
	bg, err := types.ParseBloodGroup(req.BloodGroup)
	if err != nil {
		details["blood_group"] = err.Error()
	}
	units := req.Units
	if units == 0 {
		units = 1
	}
	if units < 1 || units > MaxTransferUnits {
		details["units"] = "must be between 1 and 50"
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid transfer request", details)
	}

	return &Transfer{
		ID:             types.NewID(),
		FromHospitalID: from,
		ToHospitalID:   req.ToHospitalID,
		BloodGroup:     bg,
		Units:          units,
		Message:        strings.TrimSpace(req.Message),
		Status:         TransferPending,
		CreatedAt:      now,
	}, nil
}

// Answer records the supplying hospital's decision.
func (t *Transfer) Answer(decision TransferStatus, message string, now time.Time) error {
	if decision != TransferAccepted && decision != TransferRejected {
		return errors.Validation("response must be accepted or rejected", map[string]string{"response": string(decision)})
	}
	if t.Status != TransferPending {
		return errors.NotFound("pending transfer", t.ID.String())
	}
	t.Status = decision
	t.ResponseMessage = strings.TrimSpace(message)
	t.RespondedAt = &now
	return nil
}

// Direction selects transfers a hospital received or sent.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// TransferStore persists transfers. AnswerTransfer writes only while the
// stored transfer is pending and addressed to t.ToHospitalID; otherwise it
// returns NotFound.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t *Transfer) error
	GetTransfer(ctx context.Context, id types.ID) (*Transfer, error)
	ListTransfers(ctx context.Context, hospitalID types.ID, dir Direction) ([]Transfer, error)
	AnswerTransfer(ctx context.Context, t *Transfer) error
}
