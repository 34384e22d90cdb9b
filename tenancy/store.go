package tenancy

import (
	"context"

	"github.com/warp/lodger-engine/generic"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists tenancies, their obligations, notices and reminders.
// Implementations: store/memory (tests), store/sqlite (production).
type Store interface {
	// Tenancies
	CreateTenancy(ctx context.Context, t Tenancy) error
	GetTenancy(ctx context.Context, id string) (Tenancy, error)
	// UpdateTenancy writes t if the stored version still equals t.Version and
	// bumps t.Version on success. A stale version yields
	// generic.ErrConcurrencyConflict.
	UpdateTenancy(ctx context.Context, t *Tenancy) error
	// ListTenancies returns tenancies in the given statuses (all when empty),
	// ordered by start date.
	ListTenancies(ctx context.Context, statuses ...Status) ([]Tenancy, error)

	// Obligations
	InsertObligations(ctx context.Context, obligations []Obligation) error
	GetObligation(ctx context.Context, id string) (Obligation, error)
	UpdateObligation(ctx context.Context, o Obligation) error
	// ListObligations returns a tenancy's obligations ordered by payment number.
	ListObligations(ctx context.Context, tenancyID string) ([]Obligation, error)
	DeleteObligations(ctx context.Context, ids []string) error

	// Notices
	CreateNotice(ctx context.Context, n Notice) error
	GetNotice(ctx context.Context, id string) (Notice, error)
	UpdateNotice(ctx context.Context, n Notice) error
	// ListNotices returns a tenancy's notices, oldest first.
	ListNotices(ctx context.Context, tenancyID string) ([]Notice, error)

	// Reminders
	CreateReminder(ctx context.Context, r Reminder) error
	// LastReminder returns the most recent reminder of kind for the tenancy,
	// or false when none has been raised.
	LastReminder(ctx context.Context, tenancyID string, kind ReminderKind) (Reminder, bool, error)
}

// TxStore runs fn against a transactional view of the store. If fn returns
// an error every write made through the view is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// NotFound builds the error stores return for a missing record.
func NotFound(entity, id string) error {
	return generic.NewError(entity+" not found").
		WithHintf("%s %s does not exist", entity, id).
		WithDetails(map[string]any{"entity": entity, "id": id}).
		Mark(generic.ErrNotFound)
}

// VersionConflict builds the error stores return for a stale tenancy write.
func VersionConflict(id string, expected, actual int) error {
	return generic.NewError("tenancy was modified concurrently").
		WithHintf("tenancy %s is at version %d, update expected %d; retry the operation", id, actual, expected).
		WithDetails(map[string]any{"tenancy_id": id, "expected_version": expected, "actual_version": actual}).
		Mark(generic.ErrConcurrencyConflict)
}
