package passport

import "strings"

// minPhoneSuffix is the shortest digit run two numbers must share before a
// country-prefix difference is forgiven.
const minPhoneSuffix = 7

// NormalizePhone reduces a phone number to its digits. Everything else
// (plus signs, spaces, dashes, parentheses) is presentation.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhonesEqual compares two phone numbers digits-only with country-prefix
// tolerance: "+972 50-123-4567" and "0501234567" are the same subscriber.
// After stripping leading zeros (international and trunk prefixes), the
// numbers match when equal or when the shorter is a suffix of the longer
// and long enough to identify a subscriber.
func PhonesEqual(a, b string) bool {
	da := NormalizePhone(a)
	db := NormalizePhone(b)
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	ca := strings.TrimLeft(da, "0")
	cb := strings.TrimLeft(db, "0")
	if ca == "" || cb == "" {
		return false
	}
	if ca == cb {
		return true
	}
	shorter, longer := ca, cb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return len(shorter) >= minPhoneSuffix && strings.HasSuffix(longer, shorter)
}
