package cache

import "sync"

// call is an in-flight or completed computation for one key.
type call struct {
	wg  sync.WaitGroup
	val interface{}
	err error
}

// Flight serializes expensive recomputation per key: concurrent callers for
// the same key block on the first caller's result instead of triggering
// duplicate work. The chosen stampede policy is await-in-flight, not
// serve-stale.
type Flight struct {
	mu    sync.Mutex
	calls map[string]*call
}

// NewFlight creates an empty single-flight group.
func NewFlight() *Flight {
	return &Flight{calls: make(map[string]*call)}
}

// Do runs fn once per key at a time. Every concurrent caller for the same
// key receives the same result. The key is forgotten once fn returns, so a
// later expiry triggers a fresh computation.
func (f *Flight) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		f.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := new(call)
	c.wg.Add(1)
	f.calls[key] = c
	f.mu.Unlock()

	c.val, c.err = fn()

	f.mu.Lock()
	delete(f.calls, key)
	f.mu.Unlock()

	c.wg.Done()
	return c.val, c.err
}
