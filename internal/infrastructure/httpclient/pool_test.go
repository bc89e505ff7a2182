package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientPool_RetriesOn503(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{
		MaxConcurrency: 2,
		RequestTimeout: time.Second,
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	})

	req, _ := http.NewRequest("GET", srv.URL, nil)
	resp, err := pool.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
	if n := atomic.LoadInt64(&hits); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestClientPool_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{
		MaxConcurrency: 2,
		RequestTimeout: time.Second,
	})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			req, _ := http.NewRequest("GET", srv.URL, nil)
			if resp, err := pool.Do(context.Background(), req); err == nil {
				resp.Body.Close()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Errorf("concurrency ceiling violated: peak %d > 2", p)
	}
}

func TestClientPool_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{MaxConcurrency: 1, RequestTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	if _, err := pool.Do(ctx, req); err == nil {
		t.Error("expected error when context expires mid-request")
	}
}
