package rfc9111

import "time"

// imfDateLayout is the IMF-fixdate format, the preferred HTTP-date
// representation (RFC 9110 §5.6.7).
const imfDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// httpDateLayouts are tried in order: IMF-fixdate, then the obsolete
// RFC 850 and asctime formats, which recipients must still accept.
var httpDateLayouts = []string{
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// ParseHTTPDate parses an HTTP-date field value.
// It returns ok=false when the value matches none of the three formats.
func ParseHTTPDate(value string) (time.Time, bool) {
	for _, layout := range httpDateLayouts {
		if date, err := time.Parse(layout, value); err == nil {
			return date, true
		}
	}
	return time.Time{}, false
}

// ToHTTPDate formats t as an IMF-fixdate string.
func ToHTTPDate(t time.Time) string {
	return t.UTC().Format(imfDateLayout)
}
