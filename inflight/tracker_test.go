package inflight

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testKey(t *testing.T, method, url string) RequestKey {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	key, ok := KeyFor(req, ModeAlways, nil)
	if !ok {
		t.Fatal("No key derived")
	}
	return key
}

func TestDedupExactlyOnce(t *testing.T) {
	tracker := NewTracker()
	key := testKey(t, "GET", "http://example.com/data")

	var fetches int32
	gate := make(chan struct{})
	fetch := func() ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		<-gate
		return []byte("payload"), nil
	}

	const waiters = 32
	var wg sync.WaitGroup
	results := make([][]byte, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = tracker.Do(context.Background(), key, fetch)
		}(i)
	}
	// let all waiters register before releasing the fetch
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("Fetch ran %d times", n)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("Waiter %d got error %v", i, errs[i])
		}
		if !bytes.Equal(results[i], []byte("payload")) {
			t.Fatalf("Waiter %d got %q", i, results[i])
		}
	}
}

func TestDistinctKeysFetchIndependently(t *testing.T) {
	tracker := NewTracker()
	var fetches int32
	fetch := func() ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("payload"), nil
	}

	var wg sync.WaitGroup
	for _, path := range []string{"/a", "/b", "/c"} {
		key := testKey(t, "GET", "http://example.com"+path)
		wg.Add(1)
		go func(key RequestKey) {
			defer wg.Done()
			tracker.Do(context.Background(), key, fetch)
		}(key)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 3 {
		t.Fatalf("Fetch ran %d times", n)
	}
}

func TestGetOrCreateReportsReuse(t *testing.T) {
	tracker := NewTracker()
	key := testKey(t, "GET", "http://example.com/data")
	gate := make(chan struct{})
	fetch := func() ([]byte, error) {
		<-gate
		return []byte("payload"), nil
	}

	first, created := tracker.GetOrCreate(key, fetch)
	if !created {
		t.Fatal("First caller did not create the flight")
	}
	second, created := tracker.GetOrCreate(key, fetch)
	if created {
		t.Fatal("Second caller created a duplicate flight")
	}
	if first != second {
		t.Fatal("Callers got different flights")
	}
	close(gate)
	if _, err := second.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCancellationIsLocal(t *testing.T) {
	tracker := NewTracker()
	key := testKey(t, "GET", "http://example.com/data")

	var fetches int32
	gate := make(chan struct{})
	flight, created := tracker.GetOrCreate(key, func() ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		<-gate
		return []byte("payload"), nil
	})
	if !created {
		t.Fatal("Flight not created")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := flight.Wait(cancelled); err != context.Canceled {
		t.Fatalf("Cancelled waiter got %v", err)
	}

	// the fetch is still running and another waiter still gets the data
	close(gate)
	data, err := flight.Wait(context.Background())
	if err != nil || !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("Data %q, err %v", data, err)
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("Fetch ran %d times", n)
	}
}

func TestCompletedFlightIsDeregistered(t *testing.T) {
	tracker := NewTracker()
	key := testKey(t, "GET", "http://example.com/data")

	if _, _, err := tracker.Do(context.Background(), key, func() ([]byte, error) {
		return []byte("first"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("Tracker still holds %d flights", tracker.Len())
	}

	// a later call starts a fresh fetch
	data, shared, err := tracker.Do(context.Background(), key, func() ([]byte, error) {
		return []byte("second"), nil
	})
	if err != nil || shared {
		t.Fatalf("shared=%v, err=%v", shared, err)
	}
	if !bytes.Equal(data, []byte("second")) {
		t.Fatalf("Data is %q", data)
	}
}

func TestKeyForModes(t *testing.T) {
	get, _ := http.NewRequest("GET", "http://example.com/data", nil)
	post, _ := http.NewRequest("POST", "http://example.com/data", nil)

	if _, ok := KeyFor(get, ModeNever, nil); ok {
		t.Fatal("ModeNever derived a key")
	}
	if _, ok := KeyFor(post, ModeAutomatic, nil); ok {
		t.Fatal("ModeAutomatic derived a key for POST")
	}
	if _, ok := KeyFor(get, ModeAutomatic, nil); !ok {
		t.Fatal("ModeAutomatic derived no key for GET")
	}
	if _, ok := KeyFor(post, ModeAlways, nil); !ok {
		t.Fatal("ModeAlways derived no key for POST")
	}
}

func TestKeyForBodyHash(t *testing.T) {
	post, _ := http.NewRequest("POST", "http://example.com/data", nil)

	a, _ := KeyFor(post, ModeAlways, []byte("body one"))
	b, _ := KeyFor(post, ModeAlways, []byte("body two"))
	c, _ := KeyFor(post, ModeAlways, []byte("body one"))

	if a == b {
		t.Fatal("Keys equal despite differing bodies")
	}
	if a != c {
		t.Fatal("Keys differ for equal bodies")
	}
	if !a.HasBody || a.BodyHash == 0 {
		t.Fatalf("Body hash not captured: %+v", a)
	}
}

func TestKeyExcludesHeaders(t *testing.T) {
	plain, _ := http.NewRequest("GET", "http://example.com/data", nil)
	authed, _ := http.NewRequest("GET", "http://example.com/data", nil)
	authed.Header.Set("Authorization", "Bearer secret")

	a, _ := KeyFor(plain, ModeAutomatic, nil)
	b, _ := KeyFor(authed, ModeAutomatic, nil)
	if a != b {
		t.Fatal("Headers leaked into the dedup key")
	}
}
