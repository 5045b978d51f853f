// Package pool implements the §4.3 Worker Pool: bounded concurrent dispatch
// of rendering jobs to reusable, stateful workers, enforcing per-worker work
// limits, per-acquisition timeouts, queue-depth admission, and hang reaping.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chartexport/internal/apperror"
	"chartexport/internal/browser"
	"chartexport/internal/cache"
	"chartexport/internal/chrome"
	"chartexport/internal/config"
	"chartexport/internal/logging"
)

// WorkerState is the §3 Worker lifecycle: Idle, Busy, Draining, Dead.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateBusy
	StateDraining
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Outcome describes how an acquired worker's job concluded, passed to
// Release to decide recycling, per §4.3.
type Outcome int

const (
	// OutcomeOK means the job completed without a page-level fault; the
	// worker is recycled only if it has now reached its work limit.
	OutcomeOK Outcome = iota
	// OutcomeFault means the job revealed a page-level fault (navigation
	// crash, uncaught page error); the worker is always recycled.
	OutcomeFault
)

// Page abstracts the isolated browser tab a Worker owns, satisfied by
// *browser.Page. Defined here (rather than imported) so tests can supply a
// fake implementation without a running browser.
type Page interface {
	Context() context.Context
	Close()
}

// Worker is a long-lived rendering slot: an isolated page plus bookkeeping.
// State transitions are atomic compare-and-swaps so the reaper and Release
// can race on the same worker without double-tearing-down it, per §9 Open
// Question 3.
type Worker struct {
	ID        string
	CreatedAt time.Time
	Page      Page

	performedCount atomic.Int64
	state          atomic.Int32
	acquiredAtNano atomic.Int64
	idleSinceNano  atomic.Int64
	destroyed      atomic.Bool
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// PerformedCount returns the number of exports this worker has completed.
func (w *Worker) PerformedCount() int64 { return w.performedCount.Load() }

func (w *Worker) casState(from, to WorkerState) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}

type acquireResult struct {
	worker *Worker
	err    error
}

// waiter is one pending Acquire call queued FIFO behind QueueSize others.
// claimed guards the handoff race between Acquire's timeout/cancellation
// path and Release's (or spawnReplacement's) direct-to-waiter handoff: both
// sides may reach the same waiter concurrently once it's been popped off the
// queue, and only one may act on it, or a worker handed to an already-timed-
// out waiter is never received by anyone and leaks out of rotation forever.
type waiter struct {
	ch      chan acquireResult
	claimed atomic.Bool
}

// claim reports whether the caller won the race to finalize this waiter —
// true on the first call, false on every call after. The loser of a claim
// against Release's handoff must not discard the channel: a worker is
// already on its way and has to be received, not abandoned.
func (w *waiter) claim() bool {
	return !w.claimed.Swap(true)
}

// PageFactory creates a new isolated page from the shared browser process.
type PageFactory func() (Page, error)

// SetupFunc installs the cached bundle into a freshly created page and
// neutralizes animations, §4.3 Init ("SetupChartingLibrary").
type SetupFunc func(ctx context.Context, bundle *cache.Bundle) error

// TimerRegistry is the subset of export.TimerRegistry the pool needs to
// register its reaper. Declared locally (structural typing) to avoid an
// import cycle with the export package, which itself depends on pool.
type TimerRegistry interface {
	Register(name string, period time.Duration, fn func())
}

// BundleSource returns the currently active bundle, satisfied by
// (*cache.Cache).Get.
type BundleSource func() *cache.Bundle

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithPageFactory overrides how new pages are created; intended for tests
// that substitute a fake page instead of launching a real browser.
func WithPageFactory(f PageFactory) Option {
	return func(p *Pool) {
		p.newPage = f
		p.pageOverride = true
	}
}

// WithSetupFunc overrides the per-worker bundle installation step; intended
// for tests that want to skip real chromedp evaluation.
func WithSetupFunc(f SetupFunc) Option {
	return func(p *Pool) { p.setup = f }
}

// Pool owns a bounded multiset of Workers and a FIFO acquisition queue.
type Pool struct {
	cfg        config.PoolConfig
	sup        *browser.Supervisor
	bundleSrc  BundleSource
	log        *logging.Logger
	timers     TimerRegistry
	newPage    PageFactory
	setup      SetupFunc

	// pageOverride is set by WithPageFactory; Init then leaves the browser
	// supervisor unstarted, since pages no longer come from it.
	pageOverride bool

	mu      sync.Mutex
	workers map[string]*Worker
	idle    *list.List
	queue   *list.List
	current int
	closed  bool

	stats Stats
}

// New constructs a Pool. sup must not yet be started; Init starts it.
func New(cfg config.PoolConfig, sup *browser.Supervisor, bundleSrc BundleSource, timers TimerRegistry, log *logging.Logger, opts ...Option) *Pool {
	p := &Pool{
		cfg:       cfg,
		sup:       sup,
		bundleSrc: bundleSrc,
		log:       log,
		timers:    timers,
		workers:   make(map[string]*Worker),
		idle:      list.New(),
		queue:     list.New(),
	}
	p.newPage = func() (Page, error) { return sup.NewPage() }
	p.setup = chrome.SetupChartingLibrary
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init starts the browser supervisor (unless WithPageFactory replaced the
// page source) and creates min workers concurrently, per §4.3. It returns
// PoolInitFailed if min workers cannot be reached.
func (p *Pool) Init(ctx context.Context) error {
	if !p.pageOverride {
		if err := p.sup.Start(ctx); err != nil {
			return apperror.Wrap(err, apperror.CodePoolInitFailed, "browser supervisor failed to start")
		}
		p.sup.OnCrash = p.onBrowserCrash
	}

	var wg sync.WaitGroup
	errs := make(chan error, p.cfg.Min)
	for i := 0; i < p.cfg.Min; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := p.createWorker(ctx)
			if err != nil {
				errs <- err
				return
			}
			p.mu.Lock()
			p.current++
			p.idle.PushBack(w)
			p.mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return apperror.Wrap(err, apperror.CodePoolInitFailed, "worker pool failed to reach minimum size")
	}

	if p.cfg.ReaperEnabled && p.timers != nil {
		p.timers.Register("pool-reaper", p.cfg.ReaperInterval, p.reap)
		if p.cfg.IdleTimeout > 0 {
			p.timers.Register("pool-idle-sweep", p.cfg.ReaperInterval, p.shrinkIdle)
		}
	}
	return nil
}

// createWorker creates one page and installs the bundle, retrying up to
// three times at CreateRetryInterval, per §4.3.
func (p *Pool) createWorker(ctx context.Context) (*Worker, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.CreateRetryInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		page, err := p.newPage()
		if err != nil {
			lastErr = err
			continue
		}

		bundle := p.bundleSrc()
		setupCtx, cancel := context.WithTimeout(page.Context(), p.cfg.CreateTimeout)
		err = p.setup(setupCtx, bundle)
		cancel()
		if err != nil {
			page.Close()
			lastErr = err
			continue
		}

		w := &Worker{ID: uuid.NewString(), CreatedAt: time.Now(), Page: page}
		w.state.Store(int32(StateIdle))
		w.idleSinceNano.Store(time.Now().UnixNano())

		p.mu.Lock()
		p.workers[w.ID] = w
		p.mu.Unlock()
		return w, nil
	}
	return nil, fmt.Errorf("pool: worker creation failed after %d attempts: %w", maxAttempts, lastErr)
}

// Acquire obtains a worker, spawning one if capacity allows, or queueing
// FIFO behind QueueSize other waiters. Fails fast with QueueOverflow when
// the queue is full, or AcquireTimeout after cfg.AcquireTimeout waiting.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	p.stats.Attempted.Add(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperror.ErrShutdown
	}

	if el := p.idle.Front(); el != nil {
		w := el.Value.(*Worker)
		p.idle.Remove(el)
		p.mu.Unlock()
		if !w.casState(StateIdle, StateBusy) {
			// The reaper never touches Idle workers, so this should not
			// happen in practice; fall back to a fresh acquisition attempt.
			return p.Acquire(ctx)
		}
		w.acquiredAtNano.Store(time.Now().UnixNano())
		return w, nil
	}

	if p.current < p.cfg.Max {
		p.current++
		p.mu.Unlock()
		w, err := p.createWorker(ctx)
		if err != nil {
			p.mu.Lock()
			p.current--
			p.mu.Unlock()
			return nil, apperror.Wrap(err, apperror.CodePoolInitFailed, "failed to create worker on demand")
		}
		w.state.Store(int32(StateBusy))
		w.acquiredAtNano.Store(time.Now().UnixNano())
		return w, nil
	}

	if p.queue.Len() >= p.cfg.QueueSize {
		p.mu.Unlock()
		p.stats.Dropped.Add(1)
		return nil, apperror.ErrQueueOverflow
	}

	wtr := &waiter{ch: make(chan acquireResult, 1)}
	el := p.queue.PushBack(wtr)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case res := <-wtr.ch:
		if res.err != nil {
			return nil, res.err
		}
		res.worker.acquiredAtNano.Store(time.Now().UnixNano())
		return res.worker, nil
	case <-timer.C:
		p.mu.Lock()
		p.queue.Remove(el)
		p.mu.Unlock()
		if !wtr.claim() {
			// Release (or spawnReplacement) already won the race and
			// committed a worker to this waiter between the timer firing
			// and us taking the lock above; the send is already in flight
			// on the buffered channel, so receive it instead of discarding
			// a live worker into permanent limbo.
			res := <-wtr.ch
			if res.err != nil {
				return nil, res.err
			}
			res.worker.acquiredAtNano.Store(time.Now().UnixNano())
			return res.worker, nil
		}
		p.stats.Dropped.Add(1)
		return nil, apperror.ErrAcquireTimeout
	case <-ctx.Done():
		p.mu.Lock()
		p.queue.Remove(el)
		p.mu.Unlock()
		if !wtr.claim() {
			res := <-wtr.ch
			if res.err != nil {
				return nil, res.err
			}
			res.worker.acquiredAtNano.Store(time.Now().UnixNano())
			return res.worker, nil
		}
		return nil, ctx.Err()
	}
}

// Release returns a worker after a job completes. An OutcomeOK worker that
// has not yet reached WorkLimit goes back to Idle (or is handed directly to
// the oldest waiter); otherwise it is drained and destroyed, and a
// replacement is spawned if current would fall below min, per §4.3.
func (p *Pool) Release(w *Worker, outcome Outcome) {
	w.acquiredAtNano.Store(0)

	recycle := outcome == OutcomeFault
	if !recycle {
		next := w.performedCount.Add(1)
		if next >= int64(p.cfg.WorkLimit) {
			recycle = true
		}
	}

	if !recycle {
		if !w.casState(StateBusy, StateIdle) {
			// Lost the race with the reaper; the worker is already Dead.
			recycle = true
		}
	}

	if !recycle {
		for {
			p.mu.Lock()
			el := p.queue.Front()
			if el == nil {
				w.idleSinceNano.Store(time.Now().UnixNano())
				p.idle.PushBack(w)
				p.mu.Unlock()
				return
			}
			p.queue.Remove(el)
			p.mu.Unlock()

			wtr := el.Value.(*waiter)
			if !wtr.claim() {
				// Lost the race: Acquire's timeout/cancellation path
				// already claimed this waiter concurrently, so no one will
				// ever receive on its channel. Try the next waiter instead
				// of stranding this worker outside rotation.
				continue
			}
			w.state.Store(int32(StateBusy))
			w.acquiredAtNano.Store(time.Now().UnixNano())
			wtr.ch <- acquireResult{worker: w}
			return
		}
	}

	if p.log != nil && !p.cfg.Benchmarking {
		p.log.Warning("pool: worker recycled", "worker_id", w.ID, "performed_count", w.PerformedCount())
	}
	p.teardown(w)
}

// teardown destroys a worker's page and, once the pool's membership map is
// updated, spawns a replacement if the pool has fallen below min. Idempotent
// via the worker's destroyed flag so a Release/reap race tears down exactly
// once, per §9 Open Question 3.
func (p *Pool) teardown(w *Worker) {
	if !w.destroyed.CompareAndSwap(false, true) {
		return
	}
	go func() {
		destroyCtx, cancel := context.WithTimeout(context.Background(), p.cfg.DestroyTimeout)
		defer cancel()
		_ = destroyCtx
		if w.Page != nil {
			w.Page.Close()
		}
		w.state.Store(int32(StateDead))

		p.mu.Lock()
		delete(p.workers, w.ID)
		p.current--
		needReplacement := p.current < p.cfg.Min && !p.closed
		p.mu.Unlock()

		if needReplacement {
			p.spawnReplacement()
		}
	}()
}

// spawnReplacement creates a new worker to refill the pool below min,
// handing it directly to the oldest waiter if one is pending.
func (p *Pool) spawnReplacement() {
	p.mu.Lock()
	p.current++
	p.mu.Unlock()

	w, err := p.createWorker(context.Background())
	if err != nil {
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
		if p.log != nil {
			p.log.Warning("pool: failed to spawn replacement worker", "error", err)
		}
		return
	}

	for {
		p.mu.Lock()
		el := p.queue.Front()
		if el == nil {
			w.idleSinceNano.Store(time.Now().UnixNano())
			p.idle.PushBack(w)
			p.mu.Unlock()
			return
		}
		p.queue.Remove(el)
		p.mu.Unlock()

		wtr := el.Value.(*waiter)
		if !wtr.claim() {
			// Same handoff race as Release: this waiter already timed out
			// or was canceled concurrently, so try the next one rather than
			// stranding the replacement worker outside rotation.
			continue
		}
		w.state.Store(int32(StateBusy))
		w.acquiredAtNano.Store(time.Now().UnixNano())
		wtr.ch <- acquireResult{worker: w}
		return
	}
}

// reap scans Busy workers for ones held past the rasterization deadline and
// forcibly kills them, per §4.3. Idle workers are never preempted.
func (p *Pool) reap() {
	now := time.Now()
	p.mu.Lock()
	var hung []*Worker
	for _, w := range p.workers {
		if w.State() != StateBusy {
			continue
		}
		at := w.acquiredAtNano.Load()
		if at == 0 {
			continue
		}
		if now.Sub(time.Unix(0, at)) > p.cfg.RasterizationTimeout {
			hung = append(hung, w)
		}
	}
	p.mu.Unlock()

	for _, w := range hung {
		if w.casState(StateBusy, StateDead) {
			if p.log != nil {
				p.log.Warning("pool: reaper killed hung worker", "worker_id", w.ID)
			}
			p.teardown(w)
		}
	}
}

// shrinkIdle is a separate sweep from reap: it shrinks the pool back toward
// min by destroying Idle workers that have sat unused past IdleTimeout. This
// is deliberately not part of reap, which per §4.3 never preempts Idle
// workers; shrinkIdle only ever touches the idle list, never a Busy worker.
func (p *Pool) shrinkIdle() {
	now := time.Now()
	p.mu.Lock()
	var stale []*Worker
	for el := p.idle.Front(); el != nil; {
		next := el.Next()
		if p.current-len(stale) <= p.cfg.Min {
			break
		}
		w := el.Value.(*Worker)
		since := w.idleSinceNano.Load()
		if since != 0 && now.Sub(time.Unix(0, since)) > p.cfg.IdleTimeout {
			p.idle.Remove(el)
			stale = append(stale, w)
		}
		el = next
	}
	p.mu.Unlock()

	for _, w := range stale {
		if w.casState(StateIdle, StateDead) {
			if p.log != nil {
				p.log.Notice("pool: idle worker recycled", "worker_id", w.ID)
			}
			p.teardown(w)
		}
	}
}

// onBrowserCrash marks every worker Dead, fails pending waiters with
// BrowserUnavailable, and attempts a bounded restart, per §4.2/§4.3.
func (p *Pool) onBrowserCrash() {
	p.mu.Lock()
	for _, w := range p.workers {
		w.state.Store(int32(StateDead))
	}
	p.workers = make(map[string]*Worker)
	p.idle.Init()
	p.current = 0

	var failed []*waiter
	for el := p.queue.Front(); el != nil; el = el.Next() {
		failed = append(failed, el.Value.(*waiter))
	}
	p.queue.Init()
	p.mu.Unlock()

	for _, wtr := range failed {
		wtr.ch <- acquireResult{err: apperror.ErrBrowserUnavailable}
	}

	if p.log != nil {
		p.log.Error("pool: browser crashed, attempting restart")
	}
	if err := p.sup.Restart(context.Background()); err != nil {
		if p.log != nil {
			p.log.Error("pool: browser restart budget exceeded", "error", err)
		}
		return
	}
	for i := 0; i < p.cfg.Min; i++ {
		p.spawnReplacement()
	}
}

// Shutdown stops accepting acquisitions, fails pending waiters, destroys all
// workers (bounded by DestroyTimeout), and stops the browser supervisor.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for el := p.queue.Front(); el != nil; el = el.Next() {
		el.Value.(*waiter).ch <- acquireResult{err: apperror.ErrShutdown}
	}
	p.queue.Init()

	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, w := range workers {
			w.state.Store(int32(StateDraining))
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				p.teardown(w)
			}(w)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DestroyTimeout):
	case <-ctx.Done():
	}

	p.sup.Stop()
}

// Capacity returns the configured maximum worker count.
func (p *Pool) Capacity() int {
	return p.cfg.Max
}

// Snapshot reports the pool's current occupancy for GET /health.
type Snapshot struct {
	Current int
	Max     int
	Waiting int
	Running int
}

// Snapshot returns the pool's current occupancy.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	running := 0
	for _, w := range p.workers {
		if w.State() == StateBusy {
			running++
		}
	}
	return Snapshot{
		Current: p.current,
		Max:     p.cfg.Max,
		Waiting: p.queue.Len(),
		Running: running,
	}
}

// Stats returns the pool's monotonic counters (§3 Pool.stats).
func (p *Pool) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}
