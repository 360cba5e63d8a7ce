package answer

import "regexp"

// The PII shapes that actually show up in Korean government document text:
// resident registration numbers, mobile phone numbers, and email addresses.
var (
	rrnPattern   = regexp.MustCompile(`\b\d{6}-\d{7}\b`)
	phonePattern = regexp.MustCompile(`\b01[016789]-\d{3,4}-\d{4}\b`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// MaskPII masks resident registration numbers (keeping the birth-date half),
// mobile phone numbers, and email addresses. Citation markers and source
// locator lines are unaffected: none of the masked shapes can occur inside
// a bracketed ordinal or a locator's doc_id/page/span fields.
func MaskPII(s string) string {
	s = rrnPattern.ReplaceAllStringFunc(s, func(m string) string {
		return m[:6] + "-*******"
	})
	s = phonePattern.ReplaceAllString(s, "***-****-****")
	s = emailPattern.ReplaceAllString(s, "***@***")
	return s
}
