package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type row struct {
	Year int   `json:"year"`
	Days int64 `json:"days"`
}

func counting(calls *int32, result []row) func(context.Context) ([]row, error) {
	return func(context.Context) ([]row, error) {
		atomic.AddInt32(calls, 1)
		return result, nil
	}
}

func TestCachedWithinTTLComputesOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(nil, 5*time.Minute, WithClock(clock))
	ctx := context.Background()

	var calls int32
	compute := counting(&calls, []row{{Year: 2024, Days: 100}})

	for i := 0; i < 3; i++ {
		got, err := Cached(ctx, c, "stats:occupancy:yearly", compute)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Days != 100 {
			t.Fatalf("got %+v", got)
		}
		clock.Advance(time.Minute)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
}

func TestCachedRecomputesAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(nil, 5*time.Minute, WithClock(clock))
	ctx := context.Background()

	var calls int32
	compute := counting(&calls, []row{{Year: 2024, Days: 1}})

	if _, err := Cached(ctx, c, "k", compute); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Minute)
	if _, err := Cached(ctx, c, "k", compute); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("compute called %d times, want 2", calls)
	}
}

func TestCachedKeysAreIndependent(t *testing.T) {
	backend := NewMemoryBackend()
	c := New(backend, time.Minute, WithClock(clockwork.NewFakeClock()))
	ctx := context.Background()

	var calls int32
	for _, key := range []string{"stats:sensor:a:daily", "stats:sensor:b:daily", "stats:sensor:a:daily"} {
		if _, err := Cached(ctx, c, key, counting(&calls, nil)); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 2 {
		t.Errorf("compute called %d times, want 2", calls)
	}
	if backend.Len() != 2 {
		t.Errorf("backend holds %d keys, want 2", backend.Len())
	}
}

func TestCachedErrorIsNotStored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backend := NewMemoryBackend()
	c := New(backend, time.Minute, WithClock(clock))
	ctx := context.Background()

	if _, err := Cached(ctx, c, "k", func(context.Context) (int, error) { return 7, nil }); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)

	boom := errors.New("db down")
	_, err := Cached(ctx, c, "k", func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	// The stale entry is left as it was.
	e, found, _ := backend.Get(ctx, "k")
	if !found || string(e.Value) != "7" {
		t.Errorf("entry = %+v found=%v, want untouched 7", e, found)
	}

	// An error on an empty key stores nothing either.
	_, _ = Cached(ctx, c, "never", func(context.Context) (int, error) { return 0, boom })
	if _, found, _ := backend.Get(ctx, "never"); found {
		t.Error("failed compute must not create an entry")
	}
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("unreachable")
}

func (failingBackend) Set(context.Context, string, Entry, time.Duration) error {
	return errors.New("unreachable")
}

func TestCachedBackendFailureFallsThrough(t *testing.T) {
	c := New(failingBackend{}, time.Minute)
	var calls int32
	for i := 0; i < 2; i++ {
		got, err := Cached(context.Background(), c, "k", counting(&calls, []row{{Year: 1}}))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("got %+v", got)
		}
	}
	if calls != 2 {
		t.Errorf("compute called %d times, want 2", calls)
	}
}

func TestCachedConcurrentMisses(t *testing.T) {
	c := New(nil, time.Minute)
	ctx := context.Background()

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Cached(ctx, c, "k", counting(&calls, []row{{Year: 2024}})); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if calls < 1 {
		t.Errorf("compute never called")
	}
	// After the burst the entry is fresh.
	before := atomic.LoadInt32(&calls)
	if _, err := Cached(ctx, c, "k", counting(&calls, nil)); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Errorf("fresh entry recomputed")
	}
}
