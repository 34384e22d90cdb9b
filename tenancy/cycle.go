package tenancy

import (
	"github.com/shopspring/decimal"
)

// DefaultCycleDays is used for any frequency the engine does not recognise.
const DefaultCycleDays = 28

// CycleDays maps a payment frequency to its cycle length in days. Total:
// unknown frequencies fall back to 28.
//
// Monthly is a nominal 30 days. Calendar-mode schedules place due dates by
// calendar month, but settlement daily rates still divide by this value.
func CycleDays(f Frequency) int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiWeekly:
		return 14
	case FrequencyMonthly:
		return 30
	case FrequencyFourWeekly:
		return 28
	default:
		return DefaultCycleDays
	}
}

// =============================================================================
// CONFIG - Engine tunables
// =============================================================================

type Config struct {
	// HorizonPeriods caps how many obligations are scheduled ahead of today.
	HorizonPeriods int
	// RemedyDays is the breach remedy window.
	RemedyDays int
	// TerminationDays is the window between breach escalation and termination.
	TerminationDays int
	// RentCapPercent is the maximum rent increase per extension offer.
	RentCapPercent decimal.Decimal
	// ReminderLookaheadDays raises reminders for tenancies ending within it.
	ReminderLookaheadDays int
	// ReminderDedupDays suppresses a repeat reminder of the same kind.
	ReminderDedupDays int
	// SweepWorkers bounds the reminder sweep's parallelism.
	SweepWorkers int
}

func DefaultConfig() Config {
	return Config{
		HorizonPeriods:        12,
		RemedyDays:            7,
		TerminationDays:       7,
		RentCapPercent:        decimal.NewFromInt(5),
		ReminderLookaheadDays: 30,
		ReminderDedupDays:     35,
		SweepWorkers:          4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HorizonPeriods <= 0 {
		c.HorizonPeriods = d.HorizonPeriods
	}
	if c.RemedyDays <= 0 {
		c.RemedyDays = d.RemedyDays
	}
	if c.TerminationDays <= 0 {
		c.TerminationDays = d.TerminationDays
	}
	if c.RentCapPercent.IsZero() {
		c.RentCapPercent = d.RentCapPercent
	}
	if c.ReminderLookaheadDays <= 0 {
		c.ReminderLookaheadDays = d.ReminderLookaheadDays
	}
	if c.ReminderDedupDays <= 0 {
		c.ReminderDedupDays = d.ReminderDedupDays
	}
	if c.SweepWorkers <= 0 {
		c.SweepWorkers = d.SweepWorkers
	}
	return c
}
