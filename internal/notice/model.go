// Package notice publishes donation drives and appeals from hospital admins
// and fans them out to registered donors.
package notice

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Status controls whether donors see a notice.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusInactive:
		return Status(s), nil
	}
	return "", errors.Validation("status must be active or inactive", map[string]string{"status": s})
}

// Notice is a public appeal such as a donation camp.
type Notice struct {
	ID                types.ID           `json:"id"`
	HospitalID        types.ID           `json:"hospital_id"`
	Title             string             `json:"title"`
	OrganizationType  string             `json:"organization_type"`
	OrganizationName  string             `json:"organization_name"`
	Description       string             `json:"description"`
	ContactPerson     string             `json:"contact_person"`
	ContactNumber     string             `json:"contact_number"`
	Email             string             `json:"email"`
	Location          types.Location     `json:"location"`
	EventDate         *time.Time         `json:"event_date,omitempty"`
	Requirements      []string           `json:"requirements"`
	BloodGroupsNeeded []types.BloodGroup `json:"blood_groups_needed"`
	ImageURL          string             `json:"image_url,omitempty"`
	Status            Status             `json:"status"`
	// Recipients counts donors the notice was sent to.
	Recipients int       `json:"recipients"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Draft is the body of a new notice.
type Draft struct {
	Title             string       `json:"title"`
	OrganizationType  string       `json:"organization_type"`
	OrganizationName  string       `json:"organization_name"`
	Description       string       `json:"description"`
	ContactPerson     string       `json:"contact_person"`
	ContactNumber     string       `json:"contact_number"`
	Email             string       `json:"email"`
	Address           string       `json:"address"`
	Point             *types.Point `json:"point,omitempty"`
	EventDate         *time.Time   `json:"event_date,omitempty"`
	Requirements      []string     `json:"requirements,omitempty"`
	BloodGroupsNeeded []string     `json:"blood_groups_needed,omitempty"`
	ImageURL          string       `json:"image_url,omitempty"`
}

// New validates d and creates an active notice owned by hospitalID.
func New(hospitalID types.ID, d Draft, now time.Time) (*Notice, error) {
	required := map[string]string{
		"title":             d.Title,
		"organization_type": d.OrganizationType,
		"organization_name": d.OrganizationName,
		"description":       d.Description,
		"contact_person":    d.ContactPerson,
		"contact_number":    d.ContactNumber,
		"email":             d.Email,
		"address":           d.Address,
	}
	details := map[string]string{}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			details[field] = "required"
		}
	}
	if d.Email != "" && !types.ValidEmail(strings.TrimSpace(d.Email)) {
		details["email"] = "invalid email"
	}
	if d.ContactNumber != "" && !types.ValidPhone(strings.TrimSpace(d.ContactNumber)) {
		details["contact_number"] = "invalid phone number"
	}
	if d.Point != nil {
		if err := d.Point.Validate(); err != nil {
			details["point"] = err.Error()
		}
	}

	groups := make([]types.BloodGroup, 0, len(d.BloodGroupsNeeded))
	seen := map[types.BloodGroup]bool{}
	for _, s := range d.BloodGroupsNeeded {
		bg, err := types.ParseBloodGroup(s)
		if err != nil {
			details["blood_groups_needed"] = err.Error()
			continue
		}
		if !seen[bg] {
			seen[bg] = true
			groups = append(groups, bg)
		}
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid notice", details)
	}

	requirements := make([]string, 0, len(d.Requirements))
	for _, r := range d.Requirements {
		if r = strings.TrimSpace(r); r != "" {
			requirements = append(requirements, r)
		}
	}

	return &Notice{
		ID:                types.NewID(),
		HospitalID:        hospitalID,
		Title:             strings.TrimSpace(d.Title),
		OrganizationType:  strings.TrimSpace(d.OrganizationType),
		OrganizationName:  strings.TrimSpace(d.OrganizationName),
		Description:       strings.TrimSpace(d.Description),
		ContactPerson:     strings.TrimSpace(d.ContactPerson),
		ContactNumber:     strings.TrimSpace(d.ContactNumber),
		Email:             strings.ToLower(strings.TrimSpace(d.Email)),
		Location:          types.Location{Address: strings.TrimSpace(d.Address), Point: d.Point},
		EventDate:         d.EventDate,
		Requirements:      requirements,
		BloodGroupsNeeded: groups,
		ImageURL:          strings.TrimSpace(d.ImageURL),
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Audience is the blood groups the notice is sent to; every group when
// none is named.
func (n *Notice) Audience() []types.BloodGroup {
	if len(n.BloodGroupsNeeded) == 0 {
		return types.BloodGroups
	}
	return n.BloodGroupsNeeded
}

// Text is the SMS body sent to donors.
func (n *Notice) Text() string {
	return fmt.Sprintf("New %s notice: %s by %s", n.OrganizationType, n.Title, n.OrganizationName)
}
