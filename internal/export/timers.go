package export

import (
	"sync"
	"time"
)

// TimerRegistry is the process-wide registry of periodic tasks described
// in §4.6: every ticker-driven goroutine (the pool reaper and idle sweep,
// the stats moving-average sampler, the pool metrics publisher) registers here
// so Shutdown can stop them all atomically, leaving no goroutine holding
// resources after the process exits.
type TimerRegistry struct {
	mu      sync.Mutex
	tickers map[string]*time.Ticker
	stops   map[string]chan struct{}
	closed  bool
}

// NewTimerRegistry constructs an empty registry.
func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{
		tickers: make(map[string]*time.Ticker),
		stops:   make(map[string]chan struct{}),
	}
}

// Register starts a ticker at the given period and invokes fn on every
// tick until the registry is stopped or Unregister(name) is called. The
// name must be unique; registering a duplicate name replaces the prior
// timer.
func (r *TimerRegistry) Register(name string, period time.Duration, fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if old, ok := r.tickers[name]; ok {
		old.Stop()
		close(r.stops[name])
	}
	ticker := time.NewTicker(period)
	stop := make(chan struct{})
	r.tickers[name] = ticker
	r.stops[name] = stop
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}

// Unregister stops and removes a single named timer.
func (r *TimerRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticker, ok := r.tickers[name]; ok {
		ticker.Stop()
		close(r.stops[name])
		delete(r.tickers, name)
		delete(r.stops, name)
	}
}

// StopAll stops every registered timer and marks the registry closed;
// further Register calls are no-ops. Safe to call more than once.
func (r *TimerRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for name, ticker := range r.tickers {
		ticker.Stop()
		close(r.stops[name])
	}
	r.tickers = make(map[string]*time.Ticker)
	r.stops = make(map[string]chan struct{})
	r.closed = true
}

// Count returns the number of currently registered timers, for tests and
// the /health endpoint's diagnostic surface.
func (r *TimerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickers)
}
