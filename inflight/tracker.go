package inflight

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Flight is one in-flight fetch shared by all waiters for a key.
// It carries raw bytes only; each waiter decodes the bytes into its
// own typed result, so a decoding failure stays local to one caller.
type Flight struct {
	done chan struct{}
	data []byte
	err  error
}

// Wait blocks until the fetch completes or the waiter's context is
// cancelled. Cancellation is local: the underlying fetch keeps running
// and other waiters are unaffected.
func (f *Flight) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tracker ensures at most one underlying fetch runs per request key.
// Each key moves Idle -> InFlight -> Idle; the entry is removed before
// waiters are released, so a fetch issued after completion starts a
// new flight.
type Tracker struct {
	mu      sync.Mutex
	flights map[RequestKey]*Flight
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{flights: make(map[RequestKey]*Flight)}
}

// GetOrCreate atomically returns the flight registered for key, or
// registers a new one and starts fetch in its own goroutine. created
// reports which happened. The check-and-register is a single critical
// section: two near-simultaneous callers can never both launch a
// fetch for the same key.
func (t *Tracker) GetOrCreate(key RequestKey, fetch func() ([]byte, error)) (flight *Flight, created bool) {
	t.mu.Lock()
	if existing, ok := t.flights[key]; ok {
		t.mu.Unlock()
		log.Trace().Str("url", key.URL).Msg("Reusing in-flight request")
		return existing, false
	}
	flight = &Flight{done: make(chan struct{})}
	t.flights[key] = flight
	t.mu.Unlock()

	go func() {
		data, err := fetch()

		t.mu.Lock()
		delete(t.flights, key)
		t.mu.Unlock()

		flight.data = data
		flight.err = err
		close(flight.done)
	}()
	return flight, true
}

// Do runs fetch deduplicated under key and waits for the shared
// result. shared reports whether an existing flight was reused.
func (t *Tracker) Do(ctx context.Context, key RequestKey, fetch func() ([]byte, error)) (data []byte, shared bool, err error) {
	flight, created := t.GetOrCreate(key, fetch)
	data, err = flight.Wait(ctx)
	return data, !created, err
}

// Len returns the number of fetches currently in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flights)
}
