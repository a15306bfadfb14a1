package domain

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/types"
)

// View is a record rendered for clients, flattened with its status.
type View struct {
	Header
	Status          Status     `json:"status"`
	Response        *Decision  `json:"response,omitempty"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	SelectedAt      *time.Time `json:"selected_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// NewView flattens rec.
func NewView(rec Record) View {
	row := Encode(rec)
	v := View{
		Header:      row.Header,
		Status:      row.Status,
		Response:    row.Response,
		RespondedAt: row.RespondedAt,
		SelectedAt:  row.SelectedAt,
		RejectedAt:  row.RejectedAt,
	}
	if row.RejectionReason != nil {
		v.RejectionReason = *row.RejectionReason
	}
	return v
}

// HospitalSummary identifies the hospital behind a request in donor views.
type HospitalSummary struct {
	ID      types.ID `json:"hospital_id,omitempty"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Phone   string   `json:"phone"`
	Code    string   `json:"hospital_code"`
}

var unknownHospital = HospitalSummary{
	Name:    "Unknown Hospital",
	Address: "Address not available",
	Phone:   "N/A",
	Code:    "N/A",
}

// DonorRequest is a donor's view of one of their records.
type DonorRequest struct {
	View
	Hospital HospitalSummary `json:"hospital"`
}

// DonorRequests lists the donor's records, newest first. pendingOnly limits
// the list to requests still awaiting an answer.
func (t *Tracker) DonorRequests(ctx context.Context, donorID types.ID, pendingOnly bool) ([]DonorRequest, error) {
	records, err := t.repo.ListByDonor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	sortByCreated(records)

	cache := map[types.ID]HospitalSummary{}
	out := make([]DonorRequest, 0, len(records))
	for _, rec := range records {
		if pendingOnly && rec.Status() != StatusPending {
			continue
		}
		out = append(out, DonorRequest{
			View:     NewView(rec),
			Hospital: t.hospitalSummary(ctx, rec.Head().HospitalID, cache),
		})
	}
	return out, nil
}

func (t *Tracker) hospitalSummary(ctx context.Context, id types.ID, cache map[types.ID]HospitalSummary) HospitalSummary {
	if id.IsZero() {
		return unknownHospital
	}
	if s, ok := cache[id]; ok {
		return s
	}

	s := unknownHospital
	h, err := t.hospitals.Get(ctx, id)
	if err == nil {
		s = HospitalSummary{ID: h.ID, Name: h.Name, Phone: h.Phone, Code: h.HospitalCode, Address: "Address not available"}
		if h.Location != nil && h.Location.Address != "" {
			s.Address = h.Location.Address
		}
	} else {
		t.logger.Debug("hospital lookup failed", zap.String("hospital_id", id.String()), zap.Error(err))
	}
	cache[id] = s
	return s
}

// AcceptedDonor is a donor who accepted a request and may be selected.
type AcceptedDonor struct {
	DonorID     types.ID         `json:"donor_id"`
	Name        string           `json:"name"`
	BloodGroup  types.BloodGroup `json:"blood_group"`
	Phone       string           `json:"phone"`
	Email       string           `json:"email"`
	DistanceKm  float64          `json:"distance_km"`
	RespondedAt time.Time        `json:"responded_at"`
}

// AcceptedDonors lists the donors still eligible for selection on a request,
// earliest response first.
func (t *Tracker) AcceptedDonors(ctx context.Context, requestID types.ID) ([]AcceptedDonor, error) {
	records, err := t.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	out := []AcceptedDonor{}
	for _, rec := range records {
		r, ok := rec.(Responded)
		if !ok || !r.Accepted() {
			continue
		}
		d, err := t.donors.Get(ctx, r.DonorID)
		if err != nil {
			t.logger.Warn("accepted donor not found", zap.String("donor_id", r.DonorID.String()), zap.Error(err))
			continue
		}
		phone := d.Phone
		if phone == "" {
			phone = "N/A"
		}
		out = append(out, AcceptedDonor{
			DonorID:     d.ID,
			Name:        d.Name,
			BloodGroup:  d.BloodGroup,
			Phone:       phone,
			Email:       d.Email,
			DistanceKm:  r.DistanceKm,
			RespondedAt: r.RespondedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RespondedAt.Before(out[j].RespondedAt)
	})
	return out, nil
}

// Stats counts a hospital's records by outcome. Rejected counts donors who
// declined; Superseded counts acceptances closed by another selection.
type Stats struct {
	Total      int `json:"total_requests"`
	Pending    int `json:"pending_requests"`
	Accepted   int `json:"accepted_requests"`
	Rejected   int `json:"rejected_requests"`
	Selected   int `json:"selected_donors"`
	Superseded int `json:"superseded_requests"`
}

// Summarize counts records by outcome.
func Summarize(records []Record) Stats {
	s := Stats{Total: len(records)}
	for _, rec := range records {
		switch r := rec.(type) {
		case Pending:
			s.Pending++
		case Responded:
			if r.Accepted() {
				s.Accepted++
			} else {
				s.Rejected++
			}
		case Selected:
			s.Selected++
		case Rejected:
			s.Superseded++
		}
	}
	return s
}

// HospitalReport is the hospital dashboard: counts plus every record.
type HospitalReport struct {
	Stats   Stats  `json:"stats"`
	Details []View `json:"request_details"`
}

// HospitalStats reports the hospital's records, newest first.
func (t *Tracker) HospitalStats(ctx context.Context, hospitalID types.ID) (*HospitalReport, error) {
	records, err := t.repo.ListByHospital(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	sortByCreated(records)

	report := &HospitalReport{Stats: Summarize(records), Details: make([]View, 0, len(records))}
	for _, rec := range records {
		report.Details = append(report.Details, NewView(rec))
	}
	return report, nil
}
