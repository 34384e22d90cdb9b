/*
scheduler.go - Daily maintenance scheduler

PURPOSE:
  Runs the engine's periodic jobs in the server process:
  1. CompleteDueTerminations: tenancies whose termination date has passed
  2. TopUpSchedules: keep every live schedule at the horizon
  3. Reminder sweep: end/termination approaching reminders

DESIGN:
  - Runs a background goroutine with a configurable interval (default 24h)
  - Runs once immediately on start
  - Each job is idempotent, so overlapping with a manual /api/admin call or
    a restart mid-run is harmless
  - A failing job is logged; the next job still runs

USAGE:
  scheduler := NewDailyScheduler(engine, sweeper, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: /api/admin endpoints (manual runs)
  - tenancy/reminders.go: ReminderSweeper
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/logger"
	"github.com/warp/lodger-engine/tenancy"
)

// RunReport summarises one scheduler pass.
type RunReport struct {
	AsOf       generic.Date
	Terminated []string
	Added      int
	Reminders  int
	Errors     []error
}

type DailyScheduler struct {
	Engine   *tenancy.Engine
	Sweeper  *tenancy.ReminderSweeper
	Interval time.Duration
	Enabled  bool

	log     *logger.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

func NewDailyScheduler(engine *tenancy.Engine, sweeper *tenancy.ReminderSweeper, log *logger.Logger) *DailyScheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &DailyScheduler{
		Engine:   engine,
		Sweeper:  sweeper,
		Interval: 24 * time.Hour,
		Enabled:  true,
		log:      log.Named("scheduler"),
	}
}

func (s *DailyScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Infow("scheduler started", "interval", s.Interval)
}

// Stop cancels an in-flight pass and waits for it to return. mu is released
// before waiting because RunOnce records lastRun under it.
func (s *DailyScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker = nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *DailyScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce runs every job once against the engine clock.
func (s *DailyScheduler) RunOnce(ctx context.Context) RunReport {
	now := s.Engine.Clock().Now()
	report := RunReport{AsOf: generic.DateOf(now)}

	terminated, err := s.Engine.CompleteDueTerminations(ctx, report.AsOf)
	if err != nil {
		s.log.Errorw("completing terminations failed", "error", err)
		report.Errors = append(report.Errors, err)
	}
	report.Terminated = terminated

	added, err := s.Engine.TopUpSchedules(ctx)
	if err != nil {
		s.log.Errorw("schedule top-up failed", "error", err)
		report.Errors = append(report.Errors, err)
	}
	report.Added = added

	if s.Sweeper != nil {
		result, err := s.Sweeper.Sweep(ctx, now)
		if err != nil {
			s.log.Errorw("reminder sweep failed", "error", err)
			report.Errors = append(report.Errors, err)
		}
		report.Reminders = len(result.Raised)
	}

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	s.log.Infow("scheduled run finished",
		"as_of", report.AsOf.String(),
		"terminated", len(report.Terminated),
		"obligations_added", report.Added,
		"reminders", report.Reminders,
		"errors", len(report.Errors))
	return report
}

// NextRunTime returns when the next scheduled pass will occur.
func (s *DailyScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return s.Engine.Clock().Now()
	}
	return s.lastRun.Add(s.Interval)
}
