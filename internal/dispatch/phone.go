package dispatch

import "strings"

// NormalizePhone converts an arbitrary input number to E.164 form.
//
// Rules: whitespace and punctuation are stripped; a leading "+" is kept; a
// leading international "00" prefix is rewritten to "+"; anything else gets a
// "+" prefixed. There is no digit-count validation; malformed numbers surface
// as dispatch-time provider errors, not local rejections.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return ""
	}

	if hasPlus {
		return "+" + d
	}
	if strings.HasPrefix(d, "00") {
		return "+" + d[2:]
	}
	return "+" + d
}
