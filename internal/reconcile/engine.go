package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrPassInFlight is returned when a pass is requested while one is running.
// The request is dropped, not queued.
var ErrPassInFlight = errors.New("reconcile: pass already in flight")

var tracer = otel.Tracer("claw-companion/backend/reconcile")

// State of the engine within one pass
type State string

const (
	StateIdle     State = "IDLE"
	StateFetching State = "FETCHING"
	StateMerging  State = "MERGING"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// Source is the remote log the engine pulls from
type Source interface {
	FetchSince(ctx context.Context, since int64, limit int) ([]models.RemoteEvent, error)
}

// Config tunes the engine
type Config struct {
	DeviceID        string
	Interval        time.Duration
	FetchLimit      int
	InitialLookback time.Duration
	// Overlap re-fetches a little before the checkpoint to cover remote
	// events that land with slightly older timestamps
	Overlap         time.Duration
	PassTimeout     time.Duration
	ReconcileWindow time.Duration
	LocalSources    []string
	PruneEvery      int
	KeepCount       int
	PrunePolicy     timeline.PrunePolicy
}

// DefaultConfig mirrors the production settings
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Second,
		FetchLimit:      50,
		InitialLookback: time.Minute,
		Overlap:         2 * time.Second,
		PassTimeout:     30 * time.Second,
		ReconcileWindow: 5 * time.Minute,
		LocalSources:    []string{"android_chat", "android_widget", "web"},
		PruneEvery:      200,
		KeepCount:       500,
		PrunePolicy:     timeline.PruneRecency,
	}
}

// PassResult summarises one pass
type PassResult struct {
	State      State     `json:"state"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Reconciled int       `json:"reconciled"`
	Echoes     int       `json:"echoes"`
	Filtered   int       `json:"filtered"`
	Pruned     int64     `json:"pruned"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// PassHook runs after every pass with the events that were fetched
type PassHook func(ctx context.Context, result PassResult, fetched []models.RemoteEvent)

// Engine pulls the remote log into the timeline store
type Engine struct {
	store       timeline.Store
	source      Source
	checkpoints CheckpointStore
	cfg         Config
	log         *logger.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	running  atomic.Bool
	state    atomic.Value
	triggers chan struct{}

	mu             sync.RWMutex
	last           *PassResult
	hooks          []PassHook
	sinceLastPrune int
}

// Option customises an Engine
type Option func(*Engine)

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine; it does nothing until RunOnce or Run is called
func NewEngine(store timeline.Store, source Source, checkpoints CheckpointStore, cfg Config, log *logger.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = def.PassTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = def.ReconcileWindow
	}
	if cfg.PrunePolicy == "" {
		cfg.PrunePolicy = def.PrunePolicy
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	e := &Engine{
		store:       store,
		source:      source,
		checkpoints: checkpoints,
		cfg:         cfg,
		log:         log.WithComponent("reconcile"),
		now:         time.Now,
		triggers:    make(chan struct{}, 1),
	}
	e.state.Store(StateIdle)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnPassComplete registers a hook. Hooks must not block.
func (e *Engine) OnPassComplete(h PassHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// State returns the current pass state
func (e *Engine) State() State {
	return e.state.Load().(State)
}

// Running reports whether a pass is in flight
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastResult returns the most recent finished pass
func (e *Engine) LastResult() (PassResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return PassResult{}, false
	}
	return *e.last, true
}

// Trigger asks Run for an extra pass. It returns false when the request was
// coalesced because a pass is running or one is already pending.
func (e *Engine) Trigger() bool {
	if e.running.Load() {
		return false
	}
	select {
	case e.triggers <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a pass every Interval and on Trigger until ctx is done
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.log.Info("reconcile loop started", "interval", e.cfg.Interval.String())
	for {
		e.runScheduled(ctx)
		select {
		case <-ctx.Done():
			e.log.Info("reconcile loop stopped")
			return
		case <-ticker.C:
		case <-e.triggers:
		}
	}
}

func (e *Engine) runScheduled(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reconcile pass panicked", "panic", fmt.Sprint(r))
			e.state.Store(StateFailed)
			e.running.Store(false)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if _, err := e.RunOnce(ctx); err != nil && !errors.Is(err, ErrPassInFlight) {
		e.log.LogError(err, "reconcile pass not started")
	}
}

// RunOnce executes a single pass. A failed pass is reported through the
// result; the only error is ErrPassInFlight.
func (e *Engine) RunOnce(ctx context.Context) (PassResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInFlight
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.PassTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "reconcile.pass")
	defer span.End()

	res := PassResult{StartedAt: e.now()}
	fetched, err := e.pass(ctx, &res)
	res.FinishedAt = e.now()
	if err != nil {
		res.State = StateFailed
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "pass failed")
		e.log.Warn("reconcile pass failed",
			"error", err.Error(),
			"inserted", res.Inserted,
			"skipped", res.Skipped,
			"reconciled", res.Reconciled,
		)
	} else {
		res.State = StateDone
		if res.Inserted+res.Reconciled > 0 {
			e.log.Info("reconcile pass done",
				"fetched", res.Fetched,
				"inserted", res.Inserted,
				"skipped", res.Skipped,
				"reconciled", res.Reconciled,
				"echoes", res.Echoes,
			)
		}
	}
	e.state.Store(res.State)
	span.SetAttributes(
		attribute.Int("fetched", res.Fetched),
		attribute.Int("inserted", res.Inserted),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("reconciled", res.Reconciled),
	)
	e.metrics.ObservePass(ctx, string(res.State), res.Inserted, res.Skipped, res.Reconciled, res.Echoes, res.FinishedAt.Sub(res.StartedAt))

	e.mu.Lock()
	e.last = &res
	hooks := append([]PassHook(nil), e.hooks...)
	e.mu.Unlock()

	for _, h := range hooks {
		h(context.WithoutCancel(ctx), res, fetched)
	}
	return res, nil
}

func (e *Engine) pass(ctx context.Context, res *PassResult) ([]models.RemoteEvent, error) {
	e.state.Store(StateFetching)

	cp, err := e.checkpoints.Load(ctx, e.cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	since := e.now().Add(-e.cfg.InitialLookback).UnixMilli()
	if cp != nil {
		since = cp.LastSyncAt - e.cfg.Overlap.Milliseconds()
	}

	events, err := e.source.FetchSince(ctx, since, e.cfg.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch remote log: %w", err)
	}
	res.Fetched = len(events)

	e.state.Store(StateMerging)
	merged := 0
	var maxTS int64
	lastID := ""
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return events[:merged], err
		}
		if err := e.merge(ctx, ev, res); err != nil {
			return events[:merged], fmt.Errorf("merge event %s: %w", ev.ID, err)
		}
		merged++
		if ev.Timestamp >= maxTS {
			maxTS, lastID = ev.Timestamp, ev.ID
		}
	}

	if err := e.maybePrune(ctx, res); err != nil {
		e.log.LogError(err, "prune failed")
	}

	next := models.SyncCheckpoint{DeviceID: e.cfg.DeviceID, LastSyncAt: since}
	if cp != nil {
		next = *cp
	}
	if maxTS > next.LastSyncAt {
		next.LastSyncAt = maxTS
		next.LastRemoteID = lastID
	}
	if err := e.checkpoints.Save(ctx, next); err != nil {
		return events, fmt.Errorf("save checkpoint: %w", err)
	}
	return events, nil
}

func (e *Engine) maybePrune(ctx context.Context, res *PassResult) error {
	if e.cfg.PruneEvery <= 0 || e.cfg.KeepCount <= 0 {
		return nil
	}
	e.sinceLastPrune += res.Inserted
	if e.sinceLastPrune < e.cfg.PruneEvery {
		return nil
	}
	n, err := e.store.Prune(ctx, e.cfg.KeepCount, e.cfg.PrunePolicy)
	if err != nil {
		return err
	}
	e.sinceLastPrune = 0
	res.Pruned = n
	if n > 0 {
		e.log.Info("pruned timeline", "deleted", n, "keep", e.cfg.KeepCount, "policy", string(e.cfg.PrunePolicy))
	}
	return nil
}
