// Package phonenum holds the small amount of phone-number handling the bridge needs:
// extracting the number from a call handle, stripping separators, computing the
// type-of-address octet reported to accessories, and number comparison.
package phonenum

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Type-of-address values (3GPP TS 24.008, 10.5.4.7).
const (
	TOAUnknown       = 129
	TOAInternational = 145
	// TOANone is reported alongside an empty ringing address.
	TOANone = 128
)

var nonDigits = regexp.MustCompile(`[^\d]`)

// SchemeSpecificPart returns everything after the URI scheme.
// Examples:
//   - tel:+15551234567 -> +15551234567
//   - sip:5551234567@domain.com -> 5551234567@domain.com
//   - 5551234567 -> 5551234567
func SchemeSpecificPart(uri string) string {
	if idx := strings.Index(uri, ":"); idx != -1 {
		return uri[idx+1:]
	}
	return uri
}

// ExtractPhone extracts a phone number from a tel: or sip: URI, keeping only
// digits and a leading '+'.
func ExtractPhone(uri string) string {
	uri = SchemeSpecificPart(uri)

	// Extract user part (before @)
	if idx := strings.Index(uri, "@"); idx != -1 {
		uri = uri[:idx]
	}
	// Remove any parameters (after ;)
	if idx := strings.Index(uri, ";"); idx != -1 {
		uri = uri[:idx]
	}

	plus := strings.HasPrefix(strings.TrimSpace(uri), "+")
	digits := nonDigits.ReplaceAllString(uri, "")
	if plus && digits != "" {
		return "+" + digits
	}
	return digits
}

// StripSeparators removes formatting characters, keeping only dialable characters:
// digits, '*', '#', '+', and the wild/wait/pause characters 'N', ';' and ','.
func StripSeparators(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#', r == '+', r == 'N', r == ';', r == ',':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TypeOfAddress returns TOAInternational for numbers starting with '+', else TOAUnknown.
func TypeOfAddress(number string) int {
	if strings.HasPrefix(number, "+") {
		return TOAInternational
	}
	return TOAUnknown
}

// SameNumber reports whether two handles or numbers name the same subscriber. National
// numbers are read as dialed in region, an ISO 3166-1 country code such as "US". Numbers
// match when their country codes and national numbers agree. When either side cannot be
// parsed, only identical digit strings match.
func SameNumber(a, b, region string) bool {
	pa, pb := ExtractPhone(a), ExtractPhone(b)
	if pa == "" || pb == "" {
		return false
	}
	region = strings.ToUpper(region)
	na, errA := phonenumbers.Parse(pa, region)
	nb, errB := phonenumbers.Parse(pb, region)
	if errA != nil || errB != nil {
		return pa == pb
	}
	switch phonenumbers.IsNumberMatchWithNumbers(na, nb) {
	case phonenumbers.EXACT_MATCH, phonenumbers.NSN_MATCH:
		return true
	}
	return false
}
