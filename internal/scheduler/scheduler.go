// Package scheduler runs the periodic sweeps: installment status
// convergence and population anomaly scans. Each invocation runs to
// completion; overlapping invocations across replicas are skipped via
// the optional redis lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	"github.com/scolarium/scolarium/internal/clock"
	syncdomain "github.com/scolarium/scolarium/internal/statussync/domain"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

// Config controls the run interval, job timeouts and lock TTLs.
type Config struct {
	Interval   time.Duration
	JobTimeout time.Duration
	LockTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	SyncSvc    syncdomain.Service
	AnomalySvc anomalydomain.Service
	Locker     *Locker `optional:"true"`
	Config     Config  `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	syncSvc    syncdomain.Service
	anomalySvc anomalydomain.Service
	locker     *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.SyncSvc == nil || p.AnomalySvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		syncSvc:    p.SyncSvc,
		anomalySvc: p.AnomalySvc,
		locker:     p.Locker,
	}, nil
}

// RunOnce executes every job, joining their errors. Safe to invoke on a
// schedule: each job converges and reports only what actually changed.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "status_sweep", s.statusSweepJob))
	err = errors.Join(err, s.runJob(parent, "anomaly_scan", s.anomalyScanJob))
	return err
}

// RunForever loops RunOnce on the configured interval until the context
// is cancelled. Job errors are logged, never fatal.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduled run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	lockKey := "scolarium:scheduler:" + name
	token, acquired, lockErr := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if lockErr != nil {
		s.log.Warn("lock attempt failed, running unlocked", zap.String("job", name), zap.Error(lockErr))
	} else if !acquired {
		s.log.Info("job already running elsewhere, skipping", zap.String("job", name))
		return nil
	}
	if token != "" {
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.log.Warn("lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	tracer := otel.Tracer("scolarium/scheduler")
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	start := s.clock.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("job timed out",
				zap.String("job", name),
				zap.Duration("timeout", s.cfg.JobTimeout),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	s.log.Info("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (s *Scheduler) statusSweepJob(ctx context.Context) error {
	result, err := s.syncSvc.Sweep(ctx)
	if err != nil {
		return err
	}
	s.log.Info("status sweep done",
		zap.Int("records_scanned", result.RecordsScanned),
		zap.Int("marked_overdue", result.InstallmentsMarkedOverdue),
		zap.Int("marked_paid", result.InstallmentsMarkedPaid),
		zap.Int("records_changed", result.RecordsChanged),
		zap.Int("record_errors", result.RecordErrors),
	)
	return nil
}

func (s *Scheduler) anomalyScanJob(ctx context.Context) error {
	result, err := s.anomalySvc.Scan(ctx)
	if err != nil {
		return err
	}
	s.log.Info("anomaly scan done",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("errors", result.Errors),
		zap.Int("anomalies_opened", result.AnomaliesOpened),
	)
	return nil
}
