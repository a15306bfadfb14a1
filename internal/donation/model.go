package donation

import (
	"time"

	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// StatusCompleted is the only status a history record is written with.
const StatusCompleted = "completed"

// Record is an immutable entry for one completed donation. Donor and
// hospital fields are snapshots taken at selection time.
type Record struct {
	ID        types.ID `json:"id"`
	RequestID types.ID `json:"request_id"`

	DonorID         types.ID         `json:"donor_id"`
	DonorName       string           `json:"donor_name"`
	DonorBloodGroup types.BloodGroup `json:"donor_blood_group"`
	DonorPhone      string           `json:"donor_phone"`
	DonorEmail      string           `json:"donor_email"`

	HospitalID   types.ID `json:"hospital_id"`
	HospitalName string   `json:"hospital_name"`
	HospitalCode string   `json:"hospital_code"`

	DonationDate time.Time `json:"donation_date"`
	CooldownEnd  time.Time `json:"cooldown_end"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRecord snapshots d and h for a donation made at.
func NewRecord(requestID types.ID, d *donor.Donor, h *hospital.Hospital, at time.Time) *Record {
	return &Record{
		ID:              types.NewID(),
		RequestID:       requestID,
		DonorID:         d.ID,
		DonorName:       d.Name,
		DonorBloodGroup: d.BloodGroup,
		DonorPhone:      d.Phone,
		DonorEmail:      d.Email,
		HospitalID:      h.ID,
		HospitalName:    h.Name,
		HospitalCode:    h.HospitalCode,
		DonationDate:    at,
		CooldownEnd:     at.Add(donor.CooldownPeriod),
		Status:          StatusCompleted,
		CreatedAt:       at,
	}
}

// CooldownState describes where a donation's cooldown stands.
type CooldownState struct {
	Status        string `json:"cooldown_status"`
	DaysRemaining int    `json:"days_remaining"`
}

// Cooldown reports "Active" with the days left (rounded up), or "Completed".
func (r *Record) Cooldown(now time.Time) CooldownState {
	if !now.Before(r.CooldownEnd) {
		return CooldownState{Status: "Completed"}
	}
	left := r.CooldownEnd.Sub(now)
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return CooldownState{Status: "Active", DaysRemaining: days}
}

// RecordView is a record annotated with its cooldown state.
type RecordView struct {
	Record
	CooldownState
}

// Filter narrows history listings.
type Filter struct {
	HospitalID *types.ID
	DonorID    *types.ID
	Limit      int
	Offset     int
}

// Stats aggregates donation history.
type Stats struct {
	Total           int                      `json:"total_donations"`
	ByBloodGroup    map[types.BloodGroup]int `json:"by_blood_group"`
	ActiveCooldowns int                      `json:"active_cooldowns"`
	ByHospital      map[string]int           `json:"by_hospital"`
}

// Summarize computes stats over records.
func Summarize(records []Record, now time.Time) Stats {
	s := Stats{
		ByBloodGroup: map[types.BloodGroup]int{},
		ByHospital:   map[string]int{},
	}
	for i := range records {
		r := &records[i]
		s.Total++
		s.ByBloodGroup[r.DonorBloodGroup]++
		s.ByHospital[r.HospitalName]++
		if now.Before(r.CooldownEnd) {
			s.ActiveCooldowns++
		}
	}
	return s
}
