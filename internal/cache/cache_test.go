package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTTLCache_GetSet(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	c.Set("a", 1, time.Minute)

	v, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit for fresh key")
	}
	if v.(int) != 1 {
		t.Errorf("got %v, want 1", v)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	c.Set("a", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestTTLCache_EvictLRU(t *testing.T) {
	c := NewTTLCache(2)
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	time.Sleep(2 * time.Millisecond)
	c.Set("b", 2, time.Minute)
	c.Get("a") // touch a so b becomes least recently used
	c.Set("c", 3, time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive eviction")
	}
}

func TestTTLCache_InvalidatePrefix(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	c.Set("fumbles:0xabc:daily", 1, time.Minute)
	c.Set("fumbles:0xabc:weekly", 2, time.Minute)
	c.Set("fumbles:0xdef:daily", 3, time.Minute)

	c.InvalidatePrefix("fumbles:0xabc:")

	if _, ok := c.Get("fumbles:0xabc:daily"); ok {
		t.Error("expected daily entry invalidated")
	}
	if _, ok := c.Get("fumbles:0xabc:weekly"); ok {
		t.Error("expected weekly entry invalidated")
	}
	if _, ok := c.Get("fumbles:0xdef:daily"); !ok {
		t.Error("other wallet's entry should survive")
	}
}

func TestService_SingleFlight(t *testing.T) {
	s := New(100)
	defer s.Stop()

	var computations int64
	key := Key("leaderboard", "global", "daily")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.GetOrCompute(key, time.Minute, func() (interface{}, error) {
				atomic.AddInt64(&computations, 1)
				time.Sleep(20 * time.Millisecond) // hold the flight open
				return "snapshot", nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if v.(string) != "snapshot" {
				t.Errorf("got %v, want snapshot", v)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&computations); n != 1 {
		t.Errorf("expected exactly 1 computation under 10 concurrent requesters, got %d", n)
	}
}

func TestService_ErrorNotCached(t *testing.T) {
	s := New(100)
	defer s.Stop()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("upstream down")
		}
		return 42, nil
	}

	if _, err := s.GetOrCompute("k", time.Minute, compute); err == nil {
		t.Fatal("expected error from first computation")
	}
	v, err := s.GetOrCompute("k", time.Minute, compute)
	if err != nil {
		t.Fatalf("second computation should succeed: %v", err)
	}
	if v.(int) != 42 {
		t.Errorf("got %v, want 42", v)
	}
}

func TestService_HitSkipsCompute(t *testing.T) {
	s := New(100)
	defer s.Stop()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return "v", nil
	}

	for i := 0; i < 5; i++ {
		if _, err := s.GetOrCompute("k", time.Minute, compute); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 computation across repeated hits, got %d", calls)
	}
}

func TestService_StatsCountLookupOnce(t *testing.T) {
	s := New(100)
	defer s.Stop()

	if _, err := s.GetOrCompute("k", time.Minute, func() (interface{}, error) {
		return "v", nil
	}); err != nil {
		t.Fatal(err)
	}

	stats := s.Stats()
	if stats.Misses != 1 {
		t.Errorf("cold lookup should count one miss, got %d", stats.Misses)
	}
	if stats.Hits != 0 {
		t.Errorf("cold lookup should count no hits, got %d", stats.Hits)
	}

	if _, err := s.GetOrCompute("k", time.Minute, func() (interface{}, error) {
		t.Error("warm lookup must not recompute")
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	stats = s.Stats()
	if stats.Hits != 1 {
		t.Errorf("warm lookup should count one hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("warm lookup should leave misses at one, got %d", stats.Misses)
	}
}

func TestByteStore_TTL(t *testing.T) {
	st := NewByteStore()

	st.Set("k", []byte("payload"), 10*time.Millisecond)
	if v, ok := st.Get("k"); !ok || string(v) != "payload" {
		t.Fatalf("expected fresh value, got %q ok=%v", v, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := st.Get("k"); ok {
		t.Error("expected expiry")
	}
}
