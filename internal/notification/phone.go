package notification

import (
	"strings"

	"github.com/bloodbridge/platform/internal/shared/errors"
)

// NormalizePhone reduces raw to digits and returns it in E.164 form. Ten-digit
// local numbers get countryCode prepended.
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")

	if len(digits) == 10 {
		digits = countryCode + digits
	}
	if len(digits) < 11 || len(digits) > 15 {
		return "", errors.Validation("invalid phone number", map[string]string{"phone": raw})
	}
	return "+" + digits, nil
}

// digitsOnly strips the leading plus of an E.164 number.
func digitsOnly(e164 string) string {
	return strings.TrimPrefix(e164, "+")
}
