package redemption

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"giftops/pkg/config"
	"giftops/services/giftcode"
)

// Scheduler owns the two background maintenance loops: the periodic
// revalidation sweep and the nightly retention cleanup. Both run until
// shutdown; the sweep feeds work through the same serialized queue as
// everything else so it can never race a live run.
type Scheduler struct {
	cfg    *config.Config
	codes  *giftcode.Service
	queue  *Queue
	cancel context.CancelFunc
	done   chan struct{}

	// nextCleanup computes the next cleanup deadline; tests shorten it.
	nextCleanup func(time.Time) time.Time
}

type SchedulerParams struct {
	fx.In
	Cfg   *config.Config
	Codes *giftcode.Service
	Queue *Queue
}

func NewScheduler(p SchedulerParams) *Scheduler {
	s := &Scheduler{cfg: p.Cfg, codes: p.Codes, queue: p.Queue}
	s.nextCleanup = func(now time.Time) time.Time {
		return nextRunTime(now, s.cfg.Engine.CleanupHour)
	}
	return s
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	sweep := time.NewTicker(s.cfg.Engine.SweepInterval)
	defer sweep.Stop()

	cleanup := time.NewTimer(time.Until(s.nextCleanup(time.Now())))
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.runSweep(ctx)
		case <-cleanup.C:
			s.runCleanup(ctx)
			cleanup.Reset(time.Until(s.nextCleanup(time.Now())))
		}
	}
}

// runSweep re-enqueues validation for a bounded slice of active codes,
// oldest-checked first. Promotion and demotion both happen inside the
// validate handler, so the sweep itself never talks to the rewards
// service.
func (s *Scheduler) runSweep(ctx context.Context) {
	cfg := config.Current()
	if cfg == nil {
		cfg = s.cfg
	}

	codes, err := s.codes.ListActive(ctx, cfg.Engine.RevalidateCap)
	if err != nil {
		zap.L().Error("sweep: failed to list active codes", zap.Error(err))
		return
	}
	if len(codes) == 0 {
		return
	}

	for _, gc := range codes {
		task, err := NewValidateTask(gc.Code)
		if err != nil {
			zap.L().Error("sweep: failed to build task", zap.String("code", gc.Code), zap.Error(err))
			continue
		}
		if _, err := s.queue.client.EnqueueContext(ctx, task); err != nil {
			zap.L().Error("sweep: failed to enqueue", zap.String("code", gc.Code), zap.Error(err))
		}
	}
	zap.L().Info("sweep enqueued revalidations", zap.Int("codes", len(codes)))
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cfg := config.Current()
	if cfg == nil {
		cfg = s.cfg
	}

	deleted, err := s.codes.DeleteExpiredInvalid(ctx, cfg.Engine.InvalidRetention)
	if err != nil {
		zap.L().Error("cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		zap.L().Info("cleanup removed expired codes", zap.Int64("deleted", deleted))
	}
}

// nextRunTime returns the next occurrence of hour o'clock local time
// strictly after now.
func nextRunTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

var SchedulerModule = fx.Module("redemption.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
