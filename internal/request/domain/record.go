package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bloodbridge/platform/internal/shared/types"
)

// Status is the lifecycle state of a donor's record for one request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResponded Status = "responded"
	StatusSelected  Status = "selected"
	StatusRejected  Status = "rejected"
)

// Decision is a donor's answer to a request.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// ParseDecision validates a decision from client input.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionAccepted, DecisionRejected:
		return Decision(s), nil
	}
	return "", fmt.Errorf("invalid decision %q", s)
}

// DeliveryStatus tracks the outbound alert for a record.
type DeliveryStatus string

const (
	DeliveryQueued DeliveryStatus = "queued"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// SupersededReason is recorded on accepted responses that lost to another donor.
const SupersededReason = "Another donor was selected"

// Header holds the fields every record carries regardless of state.
type Header struct {
	RequestID  types.ID         `json:"request_id"`
	DonorID    types.ID         `json:"donor_id"`
	HospitalID types.ID         `json:"hospital_id,omitempty"`
	BloodGroup types.BloodGroup `json:"blood_group"`
	DistanceKm float64          `json:"distance_km"`
	Channel    string           `json:"channel,omitempty"`
	Delivery   DeliveryStatus   `json:"delivery_status,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Head returns the common fields.
func (h Header) Head() Header { return h }

// Record is one of Pending, Responded, Selected or Rejected.
type Record interface {
	Head() Header
	Status() Status
	record()
}

// Pending is an alert awaiting the donor's answer.
type Pending struct {
	Header
}

// Responded holds the donor's answer.
type Responded struct {
	Header
	Response    Decision  `json:"response"`
	RespondedAt time.Time `json:"responded_at"`
}

// Selected is the accepted response the hospital chose. Terminal.
type Selected struct {
	Header
	RespondedAt time.Time `json:"responded_at"`
	SelectedAt  time.Time `json:"selected_at"`
}

// Rejected is an accepted response superseded by another donor's selection.
// Terminal.
type Rejected struct {
	Header
	RespondedAt time.Time `json:"responded_at"`
	RejectedAt  time.Time `json:"rejected_at"`
	Reason      string    `json:"rejection_reason"`
}

func (Pending) Status() Status   { return StatusPending }
func (Responded) Status() Status { return StatusResponded }
func (Selected) Status() Status  { return StatusSelected }
func (Rejected) Status() Status  { return StatusRejected }

func (Pending) record()   {}
func (Responded) record() {}
func (Selected) record()  {}
func (Rejected) record()  {}

// ErrInvalidTransition is returned when a record cannot move to the
// requested state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// NewPending creates the record for a donor alerted by a broadcast.
func NewPending(requestID, donorID, hospitalID types.ID, bg types.BloodGroup, distanceKm float64, channel string, at time.Time) Pending {
	return Pending{Header: Header{
		RequestID:  requestID,
		DonorID:    donorID,
		HospitalID: hospitalID,
		BloodGroup: bg,
		DistanceKm: distanceKm,
		Channel:    channel,
		Delivery:   DeliveryQueued,
		CreatedAt:  at,
	}}
}

// Respond records the donor's answer.
func (p Pending) Respond(d Decision, at time.Time) (Responded, error) {
	if _, err := ParseDecision(string(d)); err != nil {
		return Responded{}, err
	}
	return Responded{Header: p.Header, Response: d, RespondedAt: at}, nil
}

// Accepted reports whether the donor agreed to donate.
func (r Responded) Accepted() bool {
	return r.Response == DecisionAccepted
}

// Select marks an accepted response as the chosen donor.
func (r Responded) Select(at time.Time) (Selected, error) {
	if !r.Accepted() {
		return Selected{}, fmt.Errorf("%w: response was %s", ErrInvalidTransition, r.Response)
	}
	return Selected{Header: r.Header, RespondedAt: r.RespondedAt, SelectedAt: at}, nil
}

// Supersede closes an accepted response that was not chosen.
func (r Responded) Supersede(at time.Time, reason string) (Rejected, error) {
	if !r.Accepted() {
		return Rejected{}, fmt.Errorf("%w: response was %s", ErrInvalidTransition, r.Response)
	}
	return Rejected{Header: r.Header, RespondedAt: r.RespondedAt, RejectedAt: at, Reason: reason}, nil
}

// Row is the flat storage shape shared by every state.
type Row struct {
	Header
	Status          Status
	Response        *Decision
	RespondedAt     *time.Time
	SelectedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason *string
}

// Decode turns a row into the variant for its status, rejecting rows whose
// fields do not fit that status.
func (row Row) Decode() (Record, error) {
	switch row.Status {
	case StatusPending:
		return Pending{Header: row.Header}, nil

	case StatusResponded:
		if row.Response == nil || row.RespondedAt == nil {
			return nil, row.malformed("missing response")
		}
		if _, err := ParseDecision(string(*row.Response)); err != nil {
			return nil, row.malformed(err.Error())
		}
		return Responded{Header: row.Header, Response: *row.Response, RespondedAt: *row.RespondedAt}, nil

	case StatusSelected:
		if row.RespondedAt == nil || row.SelectedAt == nil {
			return nil, row.malformed("missing selection time")
		}
		return Selected{Header: row.Header, RespondedAt: *row.RespondedAt, SelectedAt: *row.SelectedAt}, nil

	case StatusRejected:
		if row.RejectedAt == nil {
			return nil, row.malformed("missing rejection time")
		}
		rej := Rejected{Header: row.Header, RejectedAt: *row.RejectedAt}
		if row.RespondedAt != nil {
			rej.RespondedAt = *row.RespondedAt
		}
		if row.RejectionReason != nil {
			rej.Reason = *row.RejectionReason
		}
		return rej, nil
	}
	return nil, row.malformed(fmt.Sprintf("unknown status %q", row.Status))
}

func (row Row) malformed(why string) error {
	return fmt.Errorf("malformed record %s/%s: %s", row.RequestID, row.DonorID, why)
}

// Encode flattens a record for storage.
func Encode(rec Record) Row {
	row := Row{Header: rec.Head(), Status: rec.Status()}
	switch r := rec.(type) {
	case Responded:
		row.Response = &r.Response
		row.RespondedAt = &r.RespondedAt
	case Selected:
		accepted := DecisionAccepted
		row.Response = &accepted
		row.RespondedAt = &r.RespondedAt
		row.SelectedAt = &r.SelectedAt
	case Rejected:
		accepted := DecisionAccepted
		row.Response = &accepted
		row.RespondedAt = &r.RespondedAt
		row.RejectedAt = &r.RejectedAt
		row.RejectionReason = &r.Reason
	}
	return row
}

// BloodRequest is one broadcast: the hospital's search that minted a
// request id shared by every record it created.
type BloodRequest struct {
	RequestID  types.ID         `json:"request_id"`
	HospitalID types.ID         `json:"hospital_id"`
	BloodGroup types.BloodGroup `json:"blood_group"`
	RadiusKm   float64          `json:"radius_km"`
	Channel    string           `json:"channel,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
