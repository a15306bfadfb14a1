package donor

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// CooldownPeriod is the minimum gap between two donations.
const CooldownPeriod = 90 * 24 * time.Hour

// Medical limits for donation.
const (
	MinAge      = 18
	MaxAge      = 65
	MinWeightKg = 45.0
	MinHeightCm = 140.0
	MaxHeightCm = 220.0
)

// Gender is self-reported and informational only.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Donor is a registered blood donor.
type Donor struct {
	ID         types.ID         `json:"id"`
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	Phone      string           `json:"phone"`
	BloodGroup types.BloodGroup `json:"blood_group"`
	Location   *types.Location  `json:"location,omitempty"`

	Age      int     `json:"age"`
	WeightKg float64 `json:"weight_kg"`
	HeightCm float64 `json:"height_cm"`
	Gender   Gender  `json:"gender,omitempty"`

	// LastDonationDate and CooldownEnd are written only when a donor is
	// selected for a request. CooldownEnd is a stored copy of
	// LastDonationDate+CooldownPeriod for clients and reports; eligibility
	// is always derived from LastDonationDate.
	LastDonationDate *time.Time `json:"last_donation_date,omitempty"`
	CooldownEnd      *time.Time `json:"cooldown_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registration is the input for a new donor.
type Registration struct {
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	BloodGroup       string          `json:"blood_group"`
	Location         *types.Location `json:"location,omitempty"`
	Age              int             `json:"age"`
	WeightKg         float64         `json:"weight_kg"`
	HeightCm         float64         `json:"height_cm"`
	Gender           Gender          `json:"gender,omitempty"`
	LastDonationDate *time.Time      `json:"last_donation_date,omitempty"`
}

// New validates reg and builds a donor.
func New(reg Registration, now time.Time) (*Donor, error) {
	details := map[string]string{}

	name := strings.TrimSpace(reg.Name)
	if name == "" {
		details["name"] = "required"
	}
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if !types.ValidEmail(email) {
		details["email"] = "invalid email"
	}
	phone := strings.TrimSpace(reg.Phone)
	if !types.ValidPhone(phone) {
		details["phone"] = "invalid phone number"
	}
	bg, err := types.ParseBloodGroup(reg.BloodGroup)
	if err != nil {
		details["blood_group"] = err.Error()
	}
	if reg.Location.HasPoint() {
		if err := reg.Location.Point.Validate(); err != nil {
			details["location"] = err.Error()
		}
	}
	if reg.Age <= 0 {
		details["age"] = "required"
	}
	if reg.WeightKg <= 0 {
		details["weight_kg"] = "required"
	}
	if reg.HeightCm <= 0 {
		details["height_cm"] = "required"
	}
	if reg.LastDonationDate != nil && reg.LastDonationDate.After(now) {
		details["last_donation_date"] = "cannot be in the future"
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid donor registration", details)
	}

	d := &Donor{
		ID:         types.NewID(),
		Name:       name,
		Email:      email,
		Phone:      phone,
		BloodGroup: bg,
		Location:   reg.Location,
		Age:        reg.Age,
		WeightKg:   reg.WeightKg,
		HeightCm:   reg.HeightCm,
		Gender:     reg.Gender,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if reg.LastDonationDate != nil {
		d.RecordDonation(reg.LastDonationDate.UTC())
		d.UpdatedAt = now
	}
	return d, nil
}

// CooldownEndsAt returns when the donor may donate again, derived from the
// last donation. ok is false when the donor has never donated.
func (d *Donor) CooldownEndsAt() (end time.Time, ok bool) {
	if d.LastDonationDate == nil {
		return time.Time{}, false
	}
	return d.LastDonationDate.Add(CooldownPeriod), true
}

// InCooldown reports whether now falls before the cooldown end.
func (d *Donor) InCooldown(now time.Time) bool {
	end, ok := d.CooldownEndsAt()
	return ok && now.Before(end)
}

// RecordDonation sets the last donation and the resulting cooldown end.
func (d *Donor) RecordDonation(at time.Time) {
	end := at.Add(CooldownPeriod)
	d.LastDonationDate = &at
	d.CooldownEnd = &end
	d.UpdatedAt = at
}

// Eligibility is the outcome of a medical eligibility check.
type Eligibility struct {
	Eligible    bool       `json:"eligible"`
	Reason      string     `json:"reason"`
	CooldownEnd *time.Time `json:"cooldown_end,omitempty"`
}

// CheckEligibility applies the medical limits and the donation cooldown.
func (d *Donor) CheckEligibility(now time.Time) Eligibility {
	if reason := d.medicalReason(); reason != "" {
		return Eligibility{Reason: reason}
	}
	if end, ok := d.CooldownEndsAt(); ok && now.Before(end) {
		return Eligibility{
			Reason:      fmt.Sprintf("last donation was less than %d days ago", int(CooldownPeriod.Hours()/24)),
			CooldownEnd: &end,
		}
	}
	return Eligibility{Eligible: true, Reason: "eligible for donation"}
}

// MedicallyEligible checks age, weight and height only.
func (d *Donor) MedicallyEligible() bool {
	return d.medicalReason() == ""
}

func (d *Donor) medicalReason() string {
	switch {
	case d.Age < MinAge || d.Age > MaxAge:
		return fmt.Sprintf("age must be between %d and %d years", MinAge, MaxAge)
	case d.WeightKg < MinWeightKg:
		return fmt.Sprintf("minimum weight is %.0f kg", MinWeightKg)
	case d.HeightCm < MinHeightCm || d.HeightCm > MaxHeightCm:
		return fmt.Sprintf("height must be between %.0f and %.0f cm", MinHeightCm, MaxHeightCm)
	}
	return ""
}

// HealthUpdate carries donor-editable medical fields.
type HealthUpdate struct {
	Age      *int     `json:"age,omitempty"`
	WeightKg *float64 `json:"weight_kg,omitempty"`
	HeightCm *float64 `json:"height_cm,omitempty"`
	Gender   *Gender  `json:"gender,omitempty"`
}

// ApplyHealth validates and applies u.
func (d *Donor) ApplyHealth(u HealthUpdate, now time.Time) error {
	details := map[string]string{}
	if u.Age != nil && *u.Age <= 0 {
		details["age"] = "must be positive"
	}
	if u.WeightKg != nil && *u.WeightKg <= 0 {
		details["weight_kg"] = "must be positive"
	}
	if u.HeightCm != nil && *u.HeightCm <= 0 {
		details["height_cm"] = "must be positive"
	}
	if len(details) > 0 {
		return errors.Validation("invalid health update", details)
	}

	if u.Age != nil {
		d.Age = *u.Age
	}
	if u.WeightKg != nil {
		d.WeightKg = *u.WeightKg
	}
	if u.HeightCm != nil {
		d.HeightCm = *u.HeightCm
	}
	if u.Gender != nil {
		d.Gender = *u.Gender
	}
	d.UpdatedAt = now
	return nil
}

// SetLocation validates and replaces the donor's location.
func (d *Donor) SetLocation(loc types.Location, now time.Time) error {
	if loc.HasPoint() {
		if err := loc.Point.Validate(); err != nil {
			return errors.Validation("invalid location", map[string]string{"location": err.Error()})
		}
	}
	d.Location = &loc
	d.UpdatedAt = now
	return nil
}
