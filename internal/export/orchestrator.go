package export

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chartexport/internal/browser"
	"chartexport/internal/cache"
	"chartexport/internal/config"
	"chartexport/internal/logging"
	"chartexport/internal/pool"
)

// Orchestrator is the public surface named in §4.5: Export, BatchExport,
// InitExport, Shutdown. It owns the cache, browser supervisor, worker pool,
// and timer registry for one process.
type Orchestrator struct {
	cfg *config.Config
	log *logging.Logger

	cache   *cache.Cache
	sup     *browser.Supervisor
	pool    *pool.Pool
	engine  *Engine
	timers  *TimerRegistry
	stats   *Stats
	metrics *Metrics

	startedAt time.Time
}

// NewOrchestrator wires together the core subsystems from configuration,
// without starting them; call InitExport to bring the service up.
func NewOrchestrator(cfg *config.Config, log *logging.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		log:    log,
		cache:  cache.New(cfg.Cache, nil, log),
		sup:    browser.New(),
		timers: NewTimerRegistry(),
		stats:  NewStats(),
	}
	// The collectors live in the default Prometheus registry, which accepts
	// each name once per process; later orchestrators share the first set.
	o.metrics = defaultMetrics
	if o.metrics == nil {
		o.metrics = InitMetrics(cfg.App.Name, "export")
	}
	o.pool = pool.New(cfg.Pool, o.sup, o.cache.Get, o.timers, log)
	o.engine = NewEngine(o.pool, o.cache, cfg.Policy, cfg.Pool, o.stats, o.metrics, log)
	return o
}

// InitExport performs the one-time startup sequence: assemble the resource
// cache, then bring the worker pool (and its browser supervisor) online.
// A cache or pool failure here is fatal to startup, §4.1/§4.3.
func (o *Orchestrator) InitExport(ctx context.Context) error {
	o.startedAt = time.Now()

	if err := o.cache.Init(ctx); err != nil {
		return err
	}
	if bundle := o.cache.Get(); bundle != nil && o.metrics != nil {
		o.metrics.SetCacheVersion(bundle.Version, bundle.SHA)
	}

	if err := o.pool.Init(ctx); err != nil {
		return err
	}

	o.timers.Register("stats-moving-average", time.Minute, o.stats.SampleMovingAverage)
	o.timers.Register("pool-stats-publish", 5*time.Second, o.publishPoolMetrics)

	if o.log != nil {
		o.log.Notice("export: service initialized", "version", o.cache.Get().Version)
	}
	return nil
}

func (o *Orchestrator) publishPoolMetrics() {
	if o.metrics == nil {
		return
	}
	snap := o.pool.Snapshot()
	o.metrics.SetPoolStats(snap.Current, snap.Max, snap.Waiting, snap.Running)
}

// Export runs one export through the engine.
func (o *Orchestrator) Export(ctx context.Context, req *RenderRequest) (*Artifact, error) {
	return o.engine.Export(ctx, req)
}

// BatchItem pairs a prepared request with a caller-meaningful label, §4.5
// "Batch". BatchExport only copies the label into the matching BatchResult;
// chartexport-cli uses the pair's output path (e.g. "a.png") and writes the
// artifact there.
type BatchItem struct {
	Label   string
	Request *RenderRequest
}

// BatchResult is one pair's outcome from BatchExport.
type BatchResult struct {
	Label    string
	Artifact *Artifact
	Err      error
}

// BatchExport fans the list out as concurrent Export calls bounded by the
// pool's capacity, §4.5 "Batch". Partial failures are reported per-pair; the
// caller decides whether the batch as a whole succeeded.
func (o *Orchestrator) BatchExport(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))
	sem := semaphore.NewWeighted(int64(o.pool.Capacity()))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = BatchResult{Label: item.Label, Err: err}
				return nil
			}
			defer sem.Release(1)

			artifact, err := o.Export(gctx, item.Request)
			results[i] = BatchResult{Label: item.Label, Artifact: artifact, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// UpdateVersion rebuilds the cached bundle pinned to v, §4.1.
func (o *Orchestrator) UpdateVersion(ctx context.Context, v string) error {
	err := o.cache.UpdateVersion(ctx, v)
	if bundle := o.cache.Get(); bundle != nil && o.metrics != nil {
		o.metrics.SetCacheVersion(bundle.Version, bundle.SHA)
	}
	return err
}

// HealthReport is the §6 GET /health JSON body.
type HealthReport struct {
	Status            string        `json:"status"`
	UptimeSeconds     float64       `json:"uptime"`
	ServerVersion     string        `json:"serverVersion"`
	HighchartsVersion string        `json:"highchartsVersion"`
	Pool              pool.Snapshot `json:"pool"`
	AttemptedExports  uint64        `json:"attemptedExports"`
	PerformedExports  uint64        `json:"performedExports"`
	FailedExports     uint64        `json:"failedExports"`
	AverageExportTime float64       `json:"averageExportTime"`
	MovingAverage     float64       `json:"movingAverage"`
}

// Health builds the §6 GET /health report.
func (o *Orchestrator) Health() HealthReport {
	snap := o.stats.Snapshot()
	bundle := o.cache.Get()
	version := ""
	if bundle != nil {
		version = bundle.Version
	}
	return HealthReport{
		Status:            "ok",
		UptimeSeconds:     time.Since(o.startedAt).Seconds(),
		ServerVersion:     o.cfg.App.Version,
		HighchartsVersion: version,
		Pool:              o.pool.Snapshot(),
		AttemptedExports:  snap.Attempted,
		PerformedExports:  snap.Performed,
		FailedExports:     snap.Failed,
		AverageExportTime: snap.AverageExportTime,
		MovingAverage:     snap.MovingAverage,
	}
}

// Shutdown clears every registered timer, stops the pool accepting new
// acquisitions, fails queued waiters, tears down every worker and stops the
// browser, §4.3/§4.6. Busy workers are torn down along with idle ones:
// in-flight exports are not waited for.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.timers.StopAll()
	o.pool.Shutdown(ctx)
}
