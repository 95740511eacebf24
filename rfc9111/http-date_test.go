package rfc9111

import (
	"testing"
	"time"
)

var expectedDate = time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC)

func TestParseImfFixdate(t *testing.T) {
	date, ok := ParseHTTPDate("Sun, 06 Nov 1994 08:49:37 GMT")
	if !ok {
		t.Fatal("Could not parse IMF-fixdate")
	}
	if !date.Equal(expectedDate) {
		t.Fatalf("Date is %v", date)
	}
}

func TestParseRfc850Date(t *testing.T) {
	date, ok := ParseHTTPDate("Sunday, 06-Nov-94 08:49:37 GMT")
	if !ok {
		t.Fatal("Could not parse RFC 850 date")
	}
	if !date.Equal(expectedDate) {
		t.Fatalf("Date is %v", date)
	}
}

func TestParseAsctimeDate(t *testing.T) {
	date, ok := ParseHTTPDate("Sun Nov  6 08:49:37 1994")
	if !ok {
		t.Fatal("Could not parse asctime date")
	}
	if !date.Equal(expectedDate) {
		t.Fatalf("Date is %v", date)
	}
}

func TestParseInvalidDate(t *testing.T) {
	for _, value := range []string{"", "0", "not a date"} {
		if _, ok := ParseHTTPDate(value); ok {
			t.Fatalf("Parsed %q", value)
		}
	}
}

func TestToHTTPDateRoundTrip(t *testing.T) {
	formatted := ToHTTPDate(expectedDate)
	if formatted != "Sun, 06 Nov 1994 08:49:37 GMT" {
		t.Fatalf("Formatted date is %s", formatted)
	}
	date, ok := ParseHTTPDate(formatted)
	if !ok || !date.Equal(expectedDate) {
		t.Fatalf("Round trip gave %v", date)
	}
}
