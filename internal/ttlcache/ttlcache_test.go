package ttlcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*Cache[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New[string](ttl, WithClock[string](clock.Now)), clock
}

func TestGetCachesWithinTTL(t *testing.T) {
	cache, clock := newTestCache(15 * time.Minute)
	ctx := context.Background()

	var calls int
	fetch := func(context.Context) (string, error) {
		calls++
		return "v" + string(rune('0'+calls)), nil
	}

	first, err := cache.Get(ctx, "k", fetch)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}

	clock.Advance(14 * time.Minute)
	second, _ := cache.Get(ctx, "k", fetch)
	if second != first || calls != 1 {
		t.Errorf("Get() within TTL = %q after %d fetches, want %q after 1", second, calls, first)
	}

	clock.Advance(time.Minute)
	third, _ := cache.Get(ctx, "k", fetch)
	if third == first || calls != 2 {
		t.Errorf("Get() after TTL = %q after %d fetches, want a refetch", third, calls)
	}
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	cache, _ := newTestCache(time.Hour)
	ctx := context.Background()
	errBoom := errors.New("boom")

	var calls int
	fetch := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errBoom
		}
		return "ok", nil
	}

	if _, err := cache.Get(ctx, "k", fetch); !errors.Is(err, errBoom) {
		t.Fatalf("Get() error = %v, want %v", err, errBoom)
	}
	got, err := cache.Get(ctx, "k", fetch)
	if err != nil || got != "ok" {
		t.Errorf("Get() after error = %q, %v, want %q, nil", got, err, "ok")
	}
}

func TestGetSingleFlight(t *testing.T) {
	cache, _ := newTestCache(time.Hour)
	ctx := context.Background()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "shared", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.Get(ctx, "k", fetch)
			if err != nil {
				t.Errorf("Get() unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("results[%d] = %q, want %q", i, v, "shared")
		}
	}
}

func TestGetKeysAreIndependent(t *testing.T) {
	cache, _ := newTestCache(time.Hour)
	ctx := context.Background()

	a, _ := cache.Get(ctx, "a", func(context.Context) (string, error) { return "A", nil })
	b, _ := cache.Get(ctx, "b", func(context.Context) (string, error) { return "B", nil })
	if a != "A" || b != "B" {
		t.Errorf("Get() = %q, %q, want A, B", a, b)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}

	cache.Invalidate("a")
	if cache.Len() != 1 {
		t.Errorf("Len() after Invalidate = %d, want 1", cache.Len())
	}
}

func TestGetCallerCancellation(t *testing.T) {
	cache, _ := newTestCache(time.Hour)

	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		<-release
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "k", fetch)
		errc <- err
	}()

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Get() error = %v, want context.Canceled", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("abandoned flight never stored its value")
		}
		time.Sleep(time.Millisecond)
	}

	got, err := cache.Get(context.Background(), "k", func(context.Context) (string, error) {
		t.Error("fetch must not run again after the abandoned flight stored its value")
		return "", nil
	})
	if err != nil || got != "late" {
		t.Errorf("Get() = %q, %v, want %q, nil", got, err, "late")
	}
}
