package inbound

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"
)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// NormalizePhone reduces a sender address to digits with a country code.
// Full-width digits are folded, a WhatsApp JID suffix and an international
// "00" prefix are dropped. Only bare national numbers (10 or 11 digits) get
// defaultCountry prepended; a leading "+", "00" or a JID is already international.
func NormalizePhone(raw, defaultCountry string) (string, error) {
	s := width.Fold.String(strings.TrimSpace(raw))
	international := strings.HasPrefix(s, "+")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
		international = true
	}

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}

	if n := len(digits); !international && (n == 10 || n == 11) && defaultCountry != "" {
		digits = defaultCountry + digits
	}

	if n := len(digits); n < minPhoneDigits || n > maxPhoneDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, n)
	}
	return digits, nil
}
