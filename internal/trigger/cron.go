package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/config"
	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/scaling"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepRunner runs a rule sweep for a cadence.
type SweepRunner interface {
	Sweep(ctx context.Context, trigger models.Trigger, cadence scaling.Cadence, dryRun bool) (*scaling.SweepSummary, error)
}

// ScheduleRunner executes due scheduled actions.
type ScheduleRunner interface {
	RunDue(ctx context.Context) (*scaling.ScheduleSummary, error)
}

const hourlySpec = "0 * * * *"

// Scheduler owns the in-process cron trigger. One entry fires at the top of
// every hour in the business timezone. At the configured midnight hour it
// runs due scheduled actions and Midnight rules, then Hourly rules; at any
// other hour only Hourly rules.
type Scheduler struct {
	cron         *cron.Cron
	rules        SweepRunner
	schedules    ScheduleRunner
	loc          *time.Location
	midnightHour int
	logger       *zap.Logger

	tickID cron.EntryID

	// mu keeps a slow tick from overlapping the next one.
	mu sync.Mutex
}

// NewScheduler registers the hourly tick. It does not start it.
func NewScheduler(cfg config.CronConfig, rules SweepRunner, schedules ScheduleRunner, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		rules:        rules,
		schedules:    schedules,
		loc:          cfg.Location(),
		midnightHour: cfg.MidnightHour,
		logger:       logger,
	}

	cl := cronLogger{logger.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	var err error
	s.tickID, err = s.cron.AddFunc(hourlySpec, func() { s.Tick(time.Now()) })
	if err != nil {
		return nil, fmt.Errorf("failed to register hourly trigger: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cron triggers started",
		zap.Time("next_tick", s.cron.Entry(s.tickID).Next),
		zap.Int("midnight_hour", s.midnightHour),
		zap.String("timezone", s.loc.String()),
	)
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("cron triggers stopped")
	case <-ctx.Done():
		s.logger.Warn("cron jobs still running at shutdown")
	}
}

// Tick runs the work due at now. The daily work always finishes before the
// hourly sweep of the same tick starts.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if now.In(s.loc).Hour() == s.midnightHour {
		if _, err := s.schedules.RunDue(ctx); err != nil {
			s.logger.Error("scheduled actions run failed", zap.Error(err))
		}
		s.sweep(ctx, models.TriggerCronDaily, scaling.CadenceDaily)
	}
	s.sweep(ctx, models.TriggerCronHourly, scaling.CadenceHourly)
}

func (s *Scheduler) sweep(ctx context.Context, trigger models.Trigger, cadence scaling.Cadence) {
	_, err := s.rules.Sweep(ctx, trigger, cadence, false)
	switch {
	case err == nil:
	case scaling.IsSweepInProgress(err):
		s.logger.Info("sweep skipped, another run holds the lock", zap.String("trigger", string(trigger)))
	default:
		s.logger.Error("rule sweep failed", zap.String("trigger", string(trigger)), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
