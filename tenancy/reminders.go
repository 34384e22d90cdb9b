/*
reminders.go - Daily end-of-tenancy reminder sweep

PURPOSE:
  Scans live tenancies for an end (termination date when notice has been
  given, otherwise the agreed end date) falling within the lookahead window
  and raises one reminder per tenancy and kind.

IDEMPOTENCE:
  A reminder is not raised again while the previous reminder of the same
  kind for the same tenancy is younger than the dedup window, so running
  the sweep twice on one day (or daily through the lookahead) raises once.

CONCURRENCY:
  Tenancies are independent; they are processed on a bounded pool. The
  sweep never touches obligations, notices or tenancy status, so it takes
  no tenancy lock. The dedup check and the reminder insert run in one
  WithTx, so a manual sweep overlapping the scheduled one cannot raise a
  duplicate.

SEE ALSO:
  - api/scheduler.go: Runs the sweep daily
  - cmd/lodger: `lodger sweep` runs it once
*/
package tenancy

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/logger"
)

// Notifier delivers a raised reminder. Delivery itself (email, in-app) lives
// outside the engine.
type Notifier interface {
	Notify(ctx context.Context, t Tenancy, r Reminder) error
}

// LogNotifier writes reminders to the log.
type LogNotifier struct {
	Log *logger.Logger
}

func (n LogNotifier) Notify(_ context.Context, t Tenancy, r Reminder) error {
	n.Log.Infow("reminder raised",
		"tenancy_id", t.ID,
		"kind", r.Kind,
		"target_date", r.TargetDate.String(),
		"landlord_id", t.LandlordID,
		"lodger_id", t.LodgerID)
	return nil
}

type SweepResult struct {
	AsOf    generic.Date
	Scanned int
	Raised  []Reminder
	// Deduplicated counts tenancies in the window already reminded recently.
	Deduplicated int
}

type ReminderSweeper struct {
	store     TxStore
	notifier  Notifier
	log       *logger.Logger
	lookahead int
	dedup     int
	workers   int
}

func NewReminderSweeper(store TxStore, notifier Notifier, log *logger.Logger, cfg Config) *ReminderSweeper {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	return &ReminderSweeper{
		store:     store,
		notifier:  notifier,
		log:       log.Named("reminders"),
		lookahead: cfg.ReminderLookaheadDays,
		dedup:     cfg.ReminderDedupDays,
		workers:   cfg.SweepWorkers,
	}
}

// Sweep raises reminders for tenancies ending within the lookahead of asOf.
// Errors from individual tenancies are joined; reminders raised before an
// error are kept.
func (s *ReminderSweeper) Sweep(ctx context.Context, asOf time.Time) (SweepResult, error) {
	today := generic.DateOf(asOf)
	result := SweepResult{AsOf: today}

	live, err := s.store.ListTenancies(ctx, StatusActive, StatusExtended, StatusNoticeGiven)
	if err != nil {
		return result, err
	}
	result.Scanned = len(live)

	var mu sync.Mutex
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(s.workers)
	for _, t := range live {
		p.Go(func(ctx context.Context) error {
			r, raised, err := s.sweepOne(ctx, t, asOf)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if raised {
				result.Raised = append(result.Raised, r)
			} else if r.Kind != "" {
				result.Deduplicated++
			}
			return nil
		})
	}
	err = p.Wait()

	s.log.Infow("reminder sweep finished",
		"as_of", today.String(),
		"scanned", result.Scanned,
		"raised", len(result.Raised),
		"deduplicated", result.Deduplicated)
	return result, err
}

// sweepOne returns the candidate reminder (zero Kind when the tenancy is
// outside the window) and whether it was raised.
func (s *ReminderSweeper) sweepOne(ctx context.Context, t Tenancy, asOf time.Time) (Reminder, bool, error) {
	kind, target, ok := s.due(t, generic.DateOf(asOf))
	if !ok {
		return Reminder{}, false, nil
	}
	candidate := Reminder{TenancyID: t.ID, Kind: kind, TargetDate: target}

	raised := false
	err := s.store.WithTx(ctx, func(tx Store) error {
		last, found, err := tx.LastReminder(ctx, t.ID, kind)
		if err != nil {
			return err
		}
		if found && generic.DaysBetween(generic.DateOf(last.RaisedAt), generic.DateOf(asOf)) < s.dedup {
			return nil
		}
		candidate.ID = generic.NewID("rem")
		candidate.RaisedAt = asOf
		if err := tx.CreateReminder(ctx, candidate); err != nil {
			return err
		}
		raised = true
		return nil
	})
	if err != nil || !raised {
		return candidate, false, err
	}
	if err := s.notifier.Notify(ctx, t, candidate); err != nil {
		s.log.Warnw("reminder delivery failed", "tenancy_id", t.ID, "kind", kind, "error", err)
	}
	return candidate, true, nil
}

// due reports which reminder, if any, the tenancy is eligible for today.
func (s *ReminderSweeper) due(t Tenancy, today generic.Date) (ReminderKind, generic.Date, bool) {
	kind := ReminderEndApproaching
	if t.TerminationDate != nil {
		kind = ReminderTerminationApproaching
	}
	end := t.EndsOn()
	if end == nil || end.Before(today) || end.After(today.AddDays(s.lookahead)) {
		return "", generic.Date{}, false
	}
	return kind, *end, true
}
