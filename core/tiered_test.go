package core

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func testTieredCache(t *testing.T) (*TieredCache, *MemoryCache, *DiskCache) {
	t.Helper()
	memory := NewMemoryCache(Policy{}, 0)
	disk, _ := testDiskCache(t, DiskOptions{})
	return NewTieredCache(memory, disk), memory, disk
}

func TestTieredStorePopulatesBothTiers(t *testing.T) {
	tiered, memory, disk := testTieredCache(t)
	req := testRequest(t, "http://example.com/data")
	res := testResponse(200, map[string]string{"Cache-Control": "max-age=60"})

	if !tiered.Store([]byte("payload"), req, res) {
		t.Fatal("Store did not cache")
	}
	if memory.Len() != 1 {
		t.Fatalf("Memory tier has %d entries", memory.Len())
	}
	if disk.Len() != 1 {
		t.Fatalf("Disk tier has %d entries", disk.Len())
	}
}

func TestTieredPromotion(t *testing.T) {
	tiered, memory, disk := testTieredCache(t)
	req := testRequest(t, "http://example.com/data")
	res := testResponse(200, map[string]string{"Cache-Control": "max-age=60", "ETag": `"v1"`})

	// populate only the persistent tier, as after a restart
	disk.Store([]byte("payload"), req, res)
	if memory.Len() != 0 {
		t.Fatalf("Memory tier has %d entries", memory.Len())
	}

	lookup := tiered.Retrieve(req)
	if lookup.Outcome != Fresh || !bytes.Equal(lookup.Data, []byte("payload")) {
		t.Fatalf("Outcome %s, data %q", lookup.Outcome, lookup.Data)
	}
	if memory.Len() != 1 {
		t.Fatal("Persistent hit not promoted to memory")
	}
	// promotion keeps the validators
	if meta := memory.RetrieveMetadata(req); meta == nil || meta.ETag != `"v1"` {
		t.Fatalf("Promoted metadata is %+v", meta)
	}

	// the promoted entry now serves lookups even if the disk entry goes
	disk.Invalidate(req)
	if lookup := tiered.Retrieve(req); lookup.Outcome != Fresh {
		t.Fatalf("Outcome after disk invalidation is %s", lookup.Outcome)
	}
}

func TestTieredExpiredDiskHitNotPromoted(t *testing.T) {
	tiered, memory, disk := testTieredCache(t)
	req := testRequest(t, "http://example.com/data")
	disk.Store([]byte("payload"), req, testResponse(200, map[string]string{
		"Cache-Control": "max-age=0",
		"ETag":          `"v1"`,
	}))

	time.Sleep(20 * time.Millisecond)
	lookup := tiered.Retrieve(req)
	if lookup.Outcome != NeedsRevalidation {
		t.Fatalf("Outcome is %s", lookup.Outcome)
	}
	if memory.Len() != 0 {
		t.Fatal("Expired entry promoted to memory")
	}
}

func TestTieredInvalidateMatching(t *testing.T) {
	tiered, memory, disk := testTieredCache(t)
	apiReq := testRequest(t, "http://example.com/api/users")
	staticReq := testRequest(t, "http://example.com/static/logo")
	res := testResponse(200, map[string]string{"Cache-Control": "max-age=60"})

	tiered.Store([]byte("users"), apiReq, res)
	tiered.Store([]byte("logo"), staticReq, res)

	if removed := tiered.InvalidateMatching("/api/"); removed != 1 {
		t.Fatalf("Removed %d entries", removed)
	}
	// the memory tier is cleared wholesale, the disk tier precisely
	if memory.Len() != 0 {
		t.Fatalf("Memory tier has %d entries", memory.Len())
	}
	if disk.Len() != 1 {
		t.Fatalf("Disk tier has %d entries", disk.Len())
	}
	if lookup := tiered.Retrieve(apiReq); lookup.Outcome != Miss {
		t.Fatalf("Invalidated entry is %s", lookup.Outcome)
	}
	// the unmatched entry comes back through promotion
	if lookup := tiered.Retrieve(staticReq); lookup.Outcome != Fresh {
		t.Fatalf("Unmatched entry is %s", lookup.Outcome)
	}
}

func TestTieredUpdateAfterRevalidation(t *testing.T) {
	tiered, _, _ := testTieredCache(t)
	req := testRequest(t, "http://example.com/data")
	tiered.Store([]byte("payload"), req, testResponse(200, map[string]string{
		"Cache-Control": "max-age=0",
		"ETag":          `"v1"`,
	}))

	time.Sleep(20 * time.Millisecond)
	if !tiered.UpdateAfterRevalidation(req, testResponse(304, map[string]string{"Cache-Control": "max-age=60"})) {
		t.Fatal("Revalidation update did not apply")
	}
	if lookup := tiered.Retrieve(req); lookup.Outcome != Fresh {
		t.Fatalf("Outcome is %s", lookup.Outcome)
	}
}

// TestTieredAgainstOrigin drives the cache the way a transport layer
// would: look up first, fetch on miss, revalidate with conditional
// headers, and write back.
func TestTieredAgainstOrigin(t *testing.T) {
	var originHits int
	router := chi.NewRouter()
	router.Get("/resource", func(w http.ResponseWriter, r *http.Request) {
		originHits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.Header().Set("Cache-Control", "max-age=60")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "max-age=0")
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("Hello world"))
	})
	origin := httptest.NewServer(router)
	defer origin.Close()

	tiered, _, _ := testTieredCache(t)
	fetch := func(req *http.Request) []byte {
		t.Helper()
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		if res.StatusCode == http.StatusNotModified {
			if !tiered.UpdateAfterRevalidation(req, res) {
				t.Fatal("304 with no cached entry")
			}
			return tiered.Retrieve(req).Data
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			t.Fatal(err)
		}
		tiered.Store(body, req, res)
		return body
	}

	req := testRequest(t, origin.URL+"/resource")

	// miss: fetch and store
	if lookup := tiered.Retrieve(req); lookup.Outcome != Miss {
		t.Fatalf("Outcome is %s", lookup.Outcome)
	}
	if body := fetch(req); string(body) != "Hello world" {
		t.Fatalf("Body is %q", body)
	}

	// expired with validator: conditional fetch, 304 refreshes metadata
	time.Sleep(20 * time.Millisecond)
	lookup := tiered.Retrieve(req)
	if lookup.Outcome != NeedsRevalidation {
		t.Fatalf("Outcome is %s", lookup.Outcome)
	}
	condReq := testRequest(t, origin.URL+"/resource")
	for name, values := range lookup.Metadata.ConditionalHeaders() {
		condReq.Header[name] = values
	}
	if body := fetch(condReq); string(body) != "Hello world" {
		t.Fatalf("Body after revalidation is %q", body)
	}

	// now fresh for 60s, served without the origin
	if lookup := tiered.Retrieve(req); lookup.Outcome != Fresh {
		t.Fatalf("Outcome is %s", lookup.Outcome)
	}
	if originHits != 2 {
		t.Fatalf("Origin hit %d times", originHits)
	}
}
