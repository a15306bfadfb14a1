package hospital

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// UnitShelfLife is how long a unit of whole blood stays usable.
const UnitShelfLife = 42 * 24 * time.Hour

// ExpiringSoonWindow flags units close to expiry.
const ExpiringSoonWindow = 7 * 24 * time.Hour

// Status of a hospital account
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Hospital is a hospital admin account. The hospital's ID is the admin_id
// recorded on every request it broadcasts.
type Hospital struct {
	ID           types.ID        `json:"id"`
	Name         string          `json:"name"`
	HospitalCode string          `json:"hospital_code"`
	AdminName    string          `json:"admin_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Location     *types.Location `json:"location,omitempty"`
	Status       Status          `json:"status"`
	Inventory    Inventory       `json:"inventory"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Registration is the input for a new hospital account.
type Registration struct {
	Name         string          `json:"name"`
	HospitalCode string          `json:"hospital_code"`
	AdminName    string          `json:"admin_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Location     *types.Location `json:"location,omitempty"`
}

// New validates reg and builds a pending hospital with an empty inventory.
func New(reg Registration, now time.Time) (*Hospital, error) {
	details := map[string]string{}
	if strings.TrimSpace(reg.Name) == "" {
		details["name"] = "required"
	}
	if strings.TrimSpace(reg.HospitalCode) == "" {
		details["hospital_code"] = "required"
	}
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if !types.ValidEmail(email) {
		details["email"] = "invalid email"
	}
	if reg.Phone != "" && !types.ValidPhone(reg.Phone) {
		details["phone"] = "invalid phone number"
	}
	if reg.Location.HasPoint() {
		if err := reg.Location.Point.Validate(); err != nil {
			details["location"] = err.Error()
		}
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid hospital registration", details)
	}

	return &Hospital{
		ID:           types.NewID(),
		Name:         strings.TrimSpace(reg.Name),
		HospitalCode: strings.TrimSpace(reg.HospitalCode),
		AdminName:    strings.TrimSpace(reg.AdminName),
		Email:        email,
		Phone:        reg.Phone,
		Location:     reg.Location,
		Status:       StatusPending,
		Inventory:    NewInventory(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Point returns the hospital coordinates or a configuration error when the
// hospital was registered without them.
func (h *Hospital) Point() (types.Point, error) {
	if !h.Location.HasPoint() {
		return types.Point{}, errors.Configuration(fmt.Sprintf("hospital %s has no location; set its coordinates before searching", h.ID))
	}
	return *h.Location.Point, nil
}

// Activate marks the account active.
func (h *Hospital) Activate(now time.Time) {
	h.Status = StatusActive
	h.UpdatedAt = now
}

// Inventory maps each blood group to a unit count.
type Inventory map[types.BloodGroup]int

// NewInventory returns an inventory with every group at zero.
func NewInventory() Inventory {
	inv := make(Inventory, len(types.BloodGroups))
	for _, bg := range types.BloodGroups {
		inv[bg] = 0
	}
	return inv
}

// Normalize fills in missing groups with zero.
func (inv Inventory) Normalize() Inventory {
	out := NewInventory()
	for bg, n := range inv {
		if bg.IsValid() {
			out[bg] = n
		}
	}
	return out
}

// ApplyCounts merges counts into the inventory. Unknown groups and negative
// counts are rejected; at least one valid group is required.
func (inv Inventory) ApplyCounts(counts map[string]int) (Inventory, error) {
	if len(counts) == 0 {
		return nil, errors.Validation("no blood group counts provided", nil)
	}
	out := inv.Normalize()
	details := map[string]string{}
	for raw, n := range counts {
		bg, err := types.ParseBloodGroup(raw)
		if err != nil {
			details[raw] = "unknown blood group"
			continue
		}
		if n < 0 {
			details[raw] = "count cannot be negative"
			continue
		}
		out[bg] = n
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid inventory update", details)
	}
	return out, nil
}

// UnitStatus of a blood unit
type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitUsed      UnitStatus = "used"
	UnitExpired   UnitStatus = "expired"
)

// IsValid reports whether s is a known unit status.
func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitAvailable, UnitUsed, UnitExpired:
		return true
	}
	return false
}

// BloodUnit is one bag of blood in a hospital's store.
type BloodUnit struct {
	HospitalID types.ID         `json:"hospital_id"`
	Code       string           `json:"blood_id"`
	BloodGroup types.BloodGroup `json:"blood_type"`
	EntryTime  time.Time        `json:"entry_time"`
	ExpiresAt  time.Time        `json:"expiry_date"`
	Status     UnitStatus       `json:"status"`
	UsedAt     *time.Time       `json:"used_at,omitempty"`
	ExpiredAt  *time.Time       `json:"expired_at,omitempty"`
}

// NewUnit creates an available unit entered at entry.
func NewUnit(hospitalID types.ID, code string, bg types.BloodGroup, entry time.Time) *BloodUnit {
	return &BloodUnit{
		HospitalID: hospitalID,
		Code:       code,
		BloodGroup: bg,
		EntryTime:  entry,
		ExpiresAt:  entry.Add(UnitShelfLife),
		Status:     UnitAvailable,
	}
}

// EffectiveStatus treats an available unit past its expiry as expired.
func (u *BloodUnit) EffectiveStatus(now time.Time) UnitStatus {
	if u.Status == UnitAvailable && u.ExpiresAt.Before(now) {
		return UnitExpired
	}
	return u.Status
}

// SetStatus moves the unit to status, stamping used_at/expired_at.
// Returning a unit to available clears both stamps.
func (u *BloodUnit) SetStatus(status UnitStatus, now time.Time) error {
	if !status.IsValid() {
		return errors.Validation("invalid unit status", map[string]string{"status": string(status)})
	}
	u.Status = status
	switch status {
	case UnitUsed:
		u.UsedAt = &now
	case UnitExpired:
		u.ExpiredAt = &now
	case UnitAvailable:
		u.UsedAt = nil
		u.ExpiredAt = nil
	}
	return nil
}

// UnitView is a unit annotated for display.
type UnitView struct {
	BloodUnit
	EffectiveStatus UnitStatus `json:"effective_status"`
	DaysRemaining   int        `json:"days_remaining"`
	IsExpired       bool       `json:"is_expired"`
	IsExpiringSoon  bool       `json:"is_expiring_soon"`
}

// View annotates u relative to now.
func (u *BloodUnit) View(now time.Time) UnitView {
	remaining := u.ExpiresAt.Sub(now)
	days := int(remaining.Hours() / 24)
	if remaining < 0 && remaining%(24*time.Hour) != 0 {
		days--
	}
	return UnitView{
		BloodUnit:       *u,
		EffectiveStatus: u.EffectiveStatus(now),
		DaysRemaining:   days,
		IsExpired:       remaining < 0,
		IsExpiringSoon:  remaining >= 0 && remaining <= ExpiringSoonWindow,
	}
}

// GroupSummary counts units of one blood group by status.
type GroupSummary struct {
	Available int `json:"available"`
	Used      int `json:"used"`
	Expired   int `json:"expired"`
	Total     int `json:"total"`
}

func (g *GroupSummary) add(status UnitStatus) {
	g.Total++
	switch status {
	case UnitUsed:
		g.Used++
	case UnitExpired:
		g.Expired++
	default:
		g.Available++
	}
}

// StoreSummary is the per-group and overall unit breakdown.
type StoreSummary struct {
	Groups map[types.BloodGroup]GroupSummary `json:"summary"`
	Totals GroupSummary                      `json:"totals"`
}

// Summarize counts units by blood group using their effective status.
func Summarize(units []BloodUnit, now time.Time) StoreSummary {
	s := StoreSummary{Groups: make(map[types.BloodGroup]GroupSummary, len(types.BloodGroups))}
	for _, bg := range types.BloodGroups {
		s.Groups[bg] = GroupSummary{}
	}
	for i := range units {
		g, ok := s.Groups[units[i].BloodGroup]
		if !ok {
			continue
		}
		status := units[i].EffectiveStatus(now)
		g.add(status)
		s.Groups[units[i].BloodGroup] = g
		s.Totals.add(status)
	}
	return s
}

// GenerateUnitCode returns "BLD" followed by six uppercase hex digits.
func GenerateUnitCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate unit code: %w", err)
	}
	return "BLD" + strings.ToUpper(hex.EncodeToString(b)), nil
}
