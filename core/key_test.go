package core

import (
	"testing"
)

func TestKeyEquivalentRequests(t *testing.T) {
	a := testRequest(t, "http://example.com/page?q=1")
	b := testRequest(t, "http://example.com/page?q=1")
	if Key(a) != Key(b) {
		t.Fatalf("Keys differ: %q vs %q", Key(a), Key(b))
	}
}

func TestKeyIncludesQuery(t *testing.T) {
	a := testRequest(t, "http://example.com/page?q=1")
	b := testRequest(t, "http://example.com/page?q=2")
	if Key(a) == Key(b) {
		t.Fatalf("Keys equal despite differing query: %q", Key(a))
	}
}

func TestKeyIncludesNegotiationHeaders(t *testing.T) {
	a := testRequest(t, "http://example.com/page")
	b := testRequest(t, "http://example.com/page")
	b.Header.Set("Accept-Language", "fi")
	if Key(a) == Key(b) {
		t.Fatal("Keys equal despite differing Accept-Language")
	}
	c := testRequest(t, "http://example.com/page")
	c.Header.Set("Authorization", "Bearer secret")
	if Key(a) != Key(c) {
		t.Fatal("Key depends on a header outside the negotiation set")
	}
}

func TestKeyIncludesMethod(t *testing.T) {
	a := testRequest(t, "http://example.com/page")
	b := testRequest(t, "http://example.com/page")
	b.Method = "HEAD"
	if Key(a) == Key(b) {
		t.Fatal("Keys equal despite differing method")
	}
}

func TestEntryFilenameDeterministic(t *testing.T) {
	name := entryFilename("GET:http://example.com/page")
	if len(name) != 64 {
		t.Fatalf("Filename %q is not a sha256 hex digest", name)
	}
	if name != entryFilename("GET:http://example.com/page") {
		t.Fatal("Filename not deterministic")
	}
}
