package retention

import (
	"context"
	"fmt"
	"time"

	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/logger"

	"github.com/adhocore/gronx"
)

// DefaultCron runs the sweep daily at 03:00 UTC
const DefaultCron = "0 3 * * *"

// Pruner trims the timeline to a keep set
type Pruner interface {
	Prune(ctx context.Context, keep int, policy timeline.PrunePolicy) (int64, error)
}

// ReportCleaner drops old integrity reports
type ReportCleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config for the sweep
type Config struct {
	Cron         string
	KeepCount    int
	Policy       timeline.PrunePolicy
	ReportMaxAge time.Duration
}

// Result of one sweep
type Result struct {
	Messages int64
	Reports  int64
}

// Scheduler runs the retention sweep on a cron schedule
type Scheduler struct {
	pruner  Pruner
	reports ReportCleaner
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
}

// NewScheduler validates the cron expression. reports may be nil.
func NewScheduler(pruner Pruner, reports ReportCleaner, cfg Config, log *logger.Logger) (*Scheduler, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	if cfg.Policy == "" {
		cfg.Policy = timeline.PruneRecency
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Scheduler{
		pruner:  pruner,
		reports: reports,
		cfg:     cfg,
		log:     log.WithComponent("retention"),
		now:     time.Now,
	}, nil
}

// Next returns the first scheduled run strictly after t
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cfg.Cron, t.UTC(), false)
}

// Start runs the scheduler until the returned cancel func is called or ctx ends
func (s *Scheduler) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go s.loop(ctx)
	s.log.Info("retention scheduler started", "cron", s.cfg.Cron, "keep", s.cfg.KeepCount)
	return cancel
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.log.LogError(err, "retention next tick failed", "cron", s.cfg.Cron)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("retention scheduler stopping")
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.LogError(err, "retention run failed")
			}
		}
	}
}

// RunOnce performs a single sweep
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if s.cfg.KeepCount > 0 {
		n, err := s.pruner.Prune(ctx, s.cfg.KeepCount, s.cfg.Policy)
		if err != nil {
			return res, err
		}
		res.Messages = n
	}
	if s.reports != nil && s.cfg.ReportMaxAge > 0 {
		n, err := s.reports.DeleteOlderThan(ctx, s.now().Add(-s.cfg.ReportMaxAge))
		if err != nil {
			return res, err
		}
		res.Reports = n
	}
	s.log.Info("retention sweep done", "messages_deleted", res.Messages, "reports_deleted", res.Reports)
	return res, nil
}
