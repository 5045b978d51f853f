// Package browser implements the §4.2 Browser Supervisor: a single
// long-running headless-browser process that hands out isolated pages to
// the worker pool and recovers from process death within a bounded
// restart budget.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// State is the supervisor's explicit lifecycle state machine, §4.2:
// Stopped -> Starting -> Running -> (any -> Stopping -> Stopped | Crashed).
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// restartBudget bounds how many automatic restarts the supervisor attempts
// within the trailing window before giving up, per §4.2.
const (
	restartBudgetAttempts = 3
	restartBudgetWindow   = 30 * time.Second
)

// defaultFlags mirrors the headless-Chrome flag list used by the
// retrieval pack's screenshot worker pool, tuned for a server sharing one
// browser process across many isolated pages.
var defaultFlags = []chromedp.ExecAllocatorOption{
	chromedp.Flag("disable-gpu", true),
	chromedp.Flag("no-sandbox", true),
	chromedp.Flag("disable-dev-shm-usage", true),
	chromedp.Flag("disable-extensions", true),
	chromedp.Flag("disable-background-networking", true),
	chromedp.Flag("disable-default-apps", true),
	chromedp.Flag("disable-sync", true),
	chromedp.Flag("disable-translate", true),
	chromedp.Flag("hide-scrollbars", true),
	chromedp.Flag("metrics-recording-only", true),
	chromedp.Flag("mute-audio", true),
	chromedp.Flag("no-first-run", true),
	chromedp.Flag("safebrowsing-disable-auto-update", true),
	chromedp.Flag("disable-setuid-sandbox", true),
	chromedp.Flag("headless", true),
}

// Page is an isolated browser tab handle; each Worker owns exactly one.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the page's chromedp context, for use by callers running
// chromedp actions against it.
func (p *Page) Context() context.Context { return p.ctx }

// Close tears down the page's isolated context.
func (p *Page) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Supervisor owns the single shared headless-browser process.
type Supervisor struct {
	mu          sync.Mutex
	state       State
	allocCtx    context.Context
	allocCancel context.CancelFunc
	flags       []chromedp.ExecAllocatorOption
	restarts    []time.Time

	// OnCrash is invoked (outside the lock) whenever the supervisor
	// transitions to StateCrashed, so the pool can mark all of its
	// workers Dead, per §4.2.
	OnCrash func()
}

// New constructs a Supervisor in the Stopped state.
func New(extraFlags ...chromedp.ExecAllocatorOption) *Supervisor {
	flags := append(append([]chromedp.ExecAllocatorOption{}, defaultFlags...), extraFlags...)
	return &Supervisor{state: StateStopped, flags: flags}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the browser process. Idempotent: calling Start while
// already Running is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, s.flags...)

	// chromedp lazily launches the browser on first use; force an early
	// launch so Start fails fast instead of on the first NewPage call.
	warmCtx, warmCancel := chromedp.NewContext(allocCtx)
	defer warmCancel()
	if err := chromedp.Run(warmCtx); err != nil {
		allocCancel()
		s.mu.Lock()
		s.state = StateCrashed
		s.mu.Unlock()
		return fmt.Errorf("browser: failed to start: %w", err)
	}

	s.mu.Lock()
	s.allocCtx = allocCtx
	s.allocCancel = allocCancel
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

// NewPage creates an isolated tab in the running browser process.
func (s *Supervisor) NewPage() (*Page, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("browser: cannot create page, supervisor is %s", s.state)
	}
	allocCtx := s.allocCtx
	s.mu.Unlock()

	pageCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		s.markCrashed()
		return nil, fmt.Errorf("browser: failed to create page: %w", err)
	}
	return &Page{ctx: pageCtx, cancel: cancel}, nil
}

// markCrashed transitions to Crashed and fires OnCrash, used when a page
// operation reveals the shared browser process has died.
func (s *Supervisor) markCrashed() {
	s.mu.Lock()
	s.state = StateCrashed
	s.mu.Unlock()
	if s.OnCrash != nil {
		s.OnCrash()
	}
}

// Restart attempts to recover from StateCrashed, bounded to three attempts
// within a trailing 30-second window. Exceeding the budget returns a plain
// error without attempting a start; the pool has already failed its pending
// acquisitions with BrowserUnavailable before it calls Restart.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-restartBudgetWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept
	if len(s.restarts) >= restartBudgetAttempts {
		s.mu.Unlock()
		return fmt.Errorf("browser: restart budget exceeded (%d attempts in %s)", restartBudgetAttempts, restartBudgetWindow)
	}
	s.restarts = append(s.restarts, now)
	s.mu.Unlock()

	return s.Start(ctx)
}

// Stop terminates the browser process and releases its resources.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.allocCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.allocCtx = nil
	s.allocCancel = nil
	s.mu.Unlock()
}
