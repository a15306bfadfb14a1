package types

import (
	"fmt"
	"strings"
)

// BloodGroup is an ABO/Rh blood type such as "O+" or "AB-".
// Matching is exact: no compatibility substitution is performed.
type BloodGroup string

const (
	APositive  BloodGroup = "A+"
	ANegative  BloodGroup = "A-"
	BPositive  BloodGroup = "B+"
	BNegative  BloodGroup = "B-"
	ABPositive BloodGroup = "AB+"
	ABNegative BloodGroup = "AB-"
	OPositive  BloodGroup = "O+"
	ONegative  BloodGroup = "O-"
)

// BloodGroups lists every supported group in display order.
var BloodGroups = []BloodGroup{
	APositive, ANegative, BPositive, BNegative,
	ABPositive, ABNegative, OPositive, ONegative,
}

// ParseBloodGroup normalises case and surrounding space, then validates.
func ParseBloodGroup(s string) (BloodGroup, error) {
	bg := BloodGroup(strings.ToUpper(strings.TrimSpace(s)))
	if !bg.IsValid() {
		return "", fmt.Errorf("invalid blood group %q", s)
	}
	return bg, nil
}

// IsValid reports whether bg is one of the eight supported groups.
func (bg BloodGroup) IsValid() bool {
	for _, g := range BloodGroups {
		if g == bg {
			return true
		}
	}
	return false
}

func (bg BloodGroup) String() string {
	return string(bg)
}
