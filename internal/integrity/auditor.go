package integrity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/shared/observability"
)

// Lookup resolves dedup keys to local records
type Lookup interface {
	FindByDedupKeys(ctx context.Context, keys []string) (map[string]models.MessageRecord, error)
}

// Config tunes the auditor
type Config struct {
	Cooldown         time.Duration
	MissingThreshold int
	DataWindow       int
	DisplayWindow    int
	QueueSize        int
	JobTimeout       time.Duration
	LocalOnlySources []string
}

func DefaultConfig() Config {
	d := DefaultDataConfig()
	return Config{
		Cooldown:         30 * time.Minute,
		MissingThreshold: d.MissingThreshold,
		DataWindow:       d.Window,
		DisplayWindow:    100,
		QueueSize:        16,
		JobTimeout:       10 * time.Second,
		LocalOnlySources: d.LocalOnlySources,
	}
}

type job struct {
	name string
	run  func(ctx context.Context) *Finding
}

// Auditor runs integrity checks on a background worker. Checks are
// advisory: a full queue drops the job and failures only reach the log.
type Auditor struct {
	lookup  Lookup
	gate    Gate
	sink    Sink
	cfg     Config
	log     *logger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	jobs      chan job
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// Option customises an Auditor
type Option func(*Auditor)

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// NewAuditor wires an auditor. Call Start before using the async methods.
func NewAuditor(lookup Lookup, gate Gate, sink Sink, cfg Config, log *logger.Logger, opts ...Option) *Auditor {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.DisplayWindow <= 0 {
		cfg.DisplayWindow = def.DisplayWindow
	}
	if cfg.DataWindow <= 0 {
		cfg.DataWindow = def.DataWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	a := &Auditor{
		lookup: lookup,
		sink:   sink,
		cfg:    cfg,
		log:    log.WithComponent("integrity"),
		now:    time.Now,
		jobs:   make(chan job, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if gate == nil {
		gate = NewMemoryGate(cfg.Cooldown, a.now)
	}
	a.gate = gate
	return a
}

// Start launches the worker; it exits when ctx is done or Stop is called
func (a *Auditor) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.worker(ctx)
	})
}

// Stop ends the worker and waits for the job in hand. Queued jobs are dropped.
func (a *Auditor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
}

func (a *Auditor) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case j := <-a.jobs:
			a.execute(ctx, j)
		}
	}
}

func (a *Auditor) execute(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("integrity check panicked", "check", j.name, "panic", fmt.Sprint(r))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.JobTimeout)
	defer cancel()

	if f := j.run(ctx); f != nil {
		a.report(ctx, *f)
	}
}

func (a *Auditor) enqueue(j job) bool {
	select {
	case a.jobs <- j:
		return true
	default:
		a.metrics.AuditDropped()
		a.log.Debug("integrity queue full, check dropped", "check", j.name)
		return false
	}
}

// AuditData queues a data-layer check of the fetched remote events. It
// reports whether the job was accepted.
func (a *Auditor) AuditData(remote []models.RemoteEvent) bool {
	events := append([]models.RemoteEvent(nil), remote...)
	return a.enqueue(job{name: "data", run: func(ctx context.Context) *Finding {
		return a.checkData(ctx, events)
	}})
}

// AuditDisplay queues a display-layer check
func (a *Auditor) AuditDisplay(submitted []models.MessageRecord, view Materialized) bool {
	list := append([]models.MessageRecord(nil), submitted...)
	return a.enqueue(job{name: "display", run: func(context.Context) *Finding {
		return CheckDisplayLayer(list, view, a.cfg.DisplayWindow)
	}})
}

// RunDataCheck runs a data-layer check inline and returns the finding, if
// any, whether or not the cooldown let it through
func (a *Auditor) RunDataCheck(ctx context.Context, remote []models.RemoteEvent) *Finding {
	var out *Finding
	a.execute(ctx, job{name: "data", run: func(ctx context.Context) *Finding {
		out = a.checkData(ctx, remote)
		return out
	}})
	return out
}

// RunDisplayCheck runs a display-layer check inline
func (a *Auditor) RunDisplayCheck(ctx context.Context, submitted []models.MessageRecord, view Materialized) *Finding {
	var out *Finding
	a.execute(ctx, job{name: "display", run: func(context.Context) *Finding {
		out = CheckDisplayLayer(submitted, view, a.cfg.DisplayWindow)
		return out
	}})
	return out
}

func (a *Auditor) checkData(ctx context.Context, remote []models.RemoteEvent) *Finding {
	if len(remote) == 0 {
		return nil
	}
	keys := make([]string, 0, len(remote))
	for _, ev := range remote {
		if k := timeline.ComputeDedupKey(ev); k != nil {
			keys = append(keys, *k)
		}
	}
	local, err := a.lookup.FindByDedupKeys(ctx, keys)
	if err != nil {
		a.log.LogError(err, "integrity data check skipped")
		return nil
	}
	return CheckDataLayer(local, remote, DataConfig{
		LocalOnlySources: a.cfg.LocalOnlySources,
		MissingThreshold: a.cfg.MissingThreshold,
		Window:           a.cfg.DataWindow,
	})
}

func (a *Auditor) report(ctx context.Context, f Finding) {
	if f.DetectedAt.IsZero() {
		f.DetectedAt = a.now()
	}
	fp := f.Fingerprint()
	if !a.gate.Allow(ctx, fp) {
		a.metrics.FindingSuppressed()
		a.log.Debug("integrity finding suppressed", "fingerprint", fp)
		return
	}
	a.metrics.FindingReported(string(f.Layer), string(f.CheckType))
	if a.sink == nil {
		return
	}
	if err := a.sink.Submit(ctx, f); err != nil {
		a.log.Warn("integrity report failed", "fingerprint", fp, "error", err.Error())
	}
}
