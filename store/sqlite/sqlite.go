/*
Package sqlite provides a SQLite-backed implementation of tenancy.TxStore.

PURPOSE:
  Persists tenancies, payment obligations, notices and reminders. The same
  SQL runs inside and outside a transaction through one querier, so the
  engine's WithTx view sees its own uncommitted writes.

KEY TABLES:
  tenancies:           Agreement terms, status, optimistic version
  payment_obligations: Rent schedule and settlement entries
  notices:             Append-only notice history (termination, breach, extension)
  reminders:           Reminders raised by the daily sweep

CONSTRAINTS:
  - UNIQUE(tenancy_id, payment_number): the schedule can never hold the
    same payment twice, whatever the caller does
  - DELETE only removes pending obligations (prune); anything else is an
    invalid state
  - UPDATE tenancies ... WHERE version = ?: a stale write affects no rows
    and is reported as generic.ErrConcurrencyConflict

MONEY AND DATES:
  Amounts are stored as decimal TEXT with a currency column, never REAL.
  Civil dates are TEXT "2006-01-02"; instants are RFC3339Nano UTC.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to
  a single connection so every query sees the same database.

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - tenancy/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

// Store implements tenancy.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ tenancy.TxStore = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenancies (
		id TEXT PRIMARY KEY,
		landlord_id TEXT NOT NULL,
		lodger_id TEXT NOT NULL,
		room TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT,
		monthly_rent TEXT NOT NULL,
		advance_rent TEXT NOT NULL,
		currency TEXT NOT NULL,
		frequency TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		payment_day INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		termination_date TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenancies_status
		ON tenancies(status);

	CREATE TABLE IF NOT EXISTS payment_obligations (
		id TEXT PRIMARY KEY,
		tenancy_id TEXT NOT NULL REFERENCES tenancies(id),
		payment_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		due_date TEXT NOT NULL,
		rent_due TEXT NOT NULL,
		rent_paid TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_amount TEXT,
		submitted_date TEXT,
		submitted_reference TEXT,
		submitted_method TEXT,
		submitted_notes TEXT,
		submitted_at TEXT,
		payment_date TEXT,
		payment_method TEXT,
		payment_reference TEXT,
		confirmed_notes TEXT,
		confirmed_at TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(tenancy_id, payment_number)
	);

	CREATE INDEX IF NOT EXISTS idx_obligations_tenancy_due
		ON payment_obligations(tenancy_id, due_date);

	CREATE TABLE IF NOT EXISTS notices (
		id TEXT PRIMARY KEY,
		tenancy_id TEXT NOT NULL REFERENCES tenancies(id),
		type TEXT NOT NULL,
		given_by TEXT NOT NULL,
		given_to TEXT NOT NULL,
		notice_date TEXT NOT NULL,
		effective_date TEXT,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		breach_type TEXT NOT NULL DEFAULT '',
		breach_stage TEXT NOT NULL DEFAULT '',
		remedy_deadline TEXT,
		termination_deadline TEXT,
		extension_months INTEGER NOT NULL DEFAULT 0,
		proposed_rent TEXT,
		current_rent TEXT,
		new_end_date TEXT,
		extension_status TEXT NOT NULL DEFAULT '',
		responded_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notices_tenancy
		ON notices(tenancy_id, created_at);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		tenancy_id TEXT NOT NULL REFERENCES tenancies(id),
		kind TEXT NOT NULL,
		target_date TEXT NOT NULL,
		raised_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_tenancy_kind
		ON reminders(tenancy_id, kind, raised_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes every row. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"reminders", "notices", "payment_obligations", "tenancies"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (tenancy.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The view passed to fn
// takes no locks; the store lock is held for the whole transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "failed to commit transaction")
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore runs every query on q: the *sql.Tx inside WithTx, the *sql.DB
// for the locked Store methods.
type txStore struct {
	q querier
}

func (s *Store) view() *txStore {
	return &txStore{q: s.db}
}

func (s *Store) CreateTenancy(ctx context.Context, t tenancy.Tenancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateTenancy(ctx, t)
}

func (s *Store) GetTenancy(ctx context.Context, id string) (tenancy.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetTenancy(ctx, id)
}

func (s *Store) UpdateTenancy(ctx context.Context, t *tenancy.Tenancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateTenancy(ctx, t)
}

func (s *Store) ListTenancies(ctx context.Context, statuses ...tenancy.Status) ([]tenancy.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTenancies(ctx, statuses...)
}

func (s *Store) InsertObligations(ctx context.Context, obligations []tenancy.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().InsertObligations(ctx, obligations)
}

func (s *Store) GetObligation(ctx context.Context, id string) (tenancy.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetObligation(ctx, id)
}

func (s *Store) UpdateObligation(ctx context.Context, o tenancy.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateObligation(ctx, o)
}

func (s *Store) ListObligations(ctx context.Context, tenancyID string) ([]tenancy.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListObligations(ctx, tenancyID)
}

func (s *Store) DeleteObligations(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteObligations(ctx, ids)
}

func (s *Store) CreateNotice(ctx context.Context, n tenancy.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateNotice(ctx, n)
}

func (s *Store) GetNotice(ctx context.Context, id string) (tenancy.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetNotice(ctx, id)
}

func (s *Store) UpdateNotice(ctx context.Context, n tenancy.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateNotice(ctx, n)
}

func (s *Store) ListNotices(ctx context.Context, tenancyID string) ([]tenancy.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListNotices(ctx, tenancyID)
}

func (s *Store) CreateReminder(ctx context.Context, r tenancy.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateReminder(ctx, r)
}

func (s *Store) LastReminder(ctx context.Context, tenancyID string, kind tenancy.ReminderKind) (tenancy.Reminder, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().LastReminder(ctx, tenancyID, kind)
}

// =============================================================================
// TENANCIES
// =============================================================================

const tenancyColumns = `id, landlord_id, lodger_id, room, start_date, end_date, monthly_rent,
	advance_rent, currency, frequency, payment_type, payment_day, status,
	termination_date, version, created_at, updated_at`

func (ts *txStore) CreateTenancy(ctx context.Context, t tenancy.Tenancy) error {
	query := `INSERT INTO tenancies (` + tenancyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ts.q.ExecContext(ctx, query,
		t.ID, t.LandlordID, t.LodgerID, t.Room,
		formatDate(t.StartDate), nullDate(t.EndDate),
		t.MonthlyRent.Value.String(), t.AdvanceRent.Value.String(), string(t.MonthlyRent.Currency),
		t.Frequency, t.PaymentType, t.PaymentDay, t.Status,
		nullDate(t.TerminationDate), t.Version,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.NewError("tenancy already exists").
			WithHintf("tenancy %s already exists", t.ID).
			Mark(generic.ErrValidation)
	}
	return errors.Wrap(err, "failed to insert tenancy")
}

func (ts *txStore) GetTenancy(ctx context.Context, id string) (tenancy.Tenancy, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT `+tenancyColumns+` FROM tenancies WHERE id = ?`, id)
	if err != nil {
		return tenancy.Tenancy{}, errors.Wrap(err, "failed to query tenancy")
	}
	out, err := scanTenancies(rows)
	if err != nil {
		return tenancy.Tenancy{}, err
	}
	if len(out) == 0 {
		return tenancy.Tenancy{}, tenancy.NotFound("tenancy", id)
	}
	return out[0], nil
}

// UpdateTenancy writes t only if the stored version still matches, then
// advances t.Version.
func (ts *txStore) UpdateTenancy(ctx context.Context, t *tenancy.Tenancy) error {
	query := `
		UPDATE tenancies SET
			room = ?, end_date = ?, monthly_rent = ?, advance_rent = ?, currency = ?,
			frequency = ?, payment_type = ?, payment_day = ?, status = ?,
			termination_date = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		t.Room, nullDate(t.EndDate),
		t.MonthlyRent.Value.String(), t.AdvanceRent.Value.String(), string(t.MonthlyRent.Currency),
		t.Frequency, t.PaymentType, t.PaymentDay, t.Status,
		nullDate(t.TerminationDate), formatTime(t.UpdatedAt),
		t.ID, t.Version,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update tenancy")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update tenancy")
	}
	if affected == 0 {
		var current int
		err := ts.q.QueryRowContext(ctx, `SELECT version FROM tenancies WHERE id = ?`, t.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return tenancy.NotFound("tenancy", t.ID)
		}
		if err != nil {
			return errors.Wrap(err, "failed to read tenancy version")
		}
		return tenancy.VersionConflict(t.ID, t.Version, current)
	}
	t.Version++
	return nil
}

func (ts *txStore) ListTenancies(ctx context.Context, statuses ...tenancy.Status) ([]tenancy.Tenancy, error) {
	query := `SELECT ` + tenancyColumns + ` FROM tenancies`
	var args []any
	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
		query += ` WHERE status IN (` + placeholders + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY start_date ASC, id ASC`

	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tenancies")
	}
	return scanTenancies(rows)
}

func scanTenancies(rows *sql.Rows) ([]tenancy.Tenancy, error) {
	defer rows.Close()

	var out []tenancy.Tenancy
	for rows.Next() {
		var (
			t                        tenancy.Tenancy
			startDate                string
			endDate, terminationDate sql.NullString
			monthlyRent, advanceRent string
			currency                 string
			createdAt, updatedAt     string
		)
		if err := rows.Scan(
			&t.ID, &t.LandlordID, &t.LodgerID, &t.Room, &startDate, &endDate,
			&monthlyRent, &advanceRent, &currency, &t.Frequency, &t.PaymentType,
			&t.PaymentDay, &t.Status, &terminationDate, &t.Version, &createdAt, &updatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan tenancy")
		}
		cur := generic.Currency(currency)
		t.StartDate = parseDate(startDate)
		t.EndDate = parseNullDate(endDate)
		t.TerminationDate = parseNullDate(terminationDate)
		t.MonthlyRent = parseMoney(monthlyRent, cur)
		t.AdvanceRent = parseMoney(advanceRent, cur)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "failed to read tenancies")
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

const obligationColumns = `id, tenancy_id, payment_number, kind, due_date, rent_due, rent_paid,
	currency, status, submitted_amount, submitted_date, submitted_reference,
	submitted_method, submitted_notes, submitted_at, payment_date, payment_method,
	payment_reference, confirmed_notes, confirmed_at, notes, created_at, updated_at`

func (ts *txStore) InsertObligations(ctx context.Context, obligations []tenancy.Obligation) error {
	query := `INSERT INTO payment_obligations (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, o := range obligations {
		args := append([]any{o.ID, o.TenancyID, o.PaymentNumber}, obligationValues(o)...)
		if _, err := ts.q.ExecContext(ctx, query, args...); err != nil {
			if isUniqueConstraintError(err) {
				return generic.NewError("duplicate payment number").
					WithHintf("tenancy %s already has payment %d", o.TenancyID, o.PaymentNumber).
					WithDetails(map[string]any{"tenancy_id": o.TenancyID, "payment_number": o.PaymentNumber}).
					Mark(generic.ErrInvalidState)
			}
			return errors.Wrapf(err, "failed to insert obligation %d", o.PaymentNumber)
		}
	}
	return nil
}

// obligationValues are the mutable columns, kind through updated_at.
func obligationValues(o tenancy.Obligation) []any {
	var (
		subAmount, subDate, subRef, subMethod, subNotes, subAt sql.NullString
		payDate, payMethod, payRef, confNotes, confAt          sql.NullString
	)
	if s := o.Submitted; s != nil {
		subAmount = nullString(s.Amount.Value.String())
		subDate = nullString(formatDate(s.Date))
		subRef = nullString(s.Reference)
		subMethod = nullString(s.Method)
		subNotes = nullString(s.Notes)
		subAt = nullString(formatTime(s.SubmittedAt))
	}
	if c := o.Confirmed; c != nil {
		payDate = nullString(formatDate(c.Date))
		payMethod = nullString(c.Method)
		payRef = nullString(c.Reference)
		confNotes = nullString(c.Notes)
		confAt = nullString(formatTime(c.ConfirmedAt))
	}
	return []any{
		o.Kind, formatDate(o.DueDate), o.RentDue.Value.String(), o.RentPaid.Value.String(),
		string(o.RentDue.Currency), o.Status,
		subAmount, subDate, subRef, subMethod, subNotes, subAt,
		payDate, payMethod, payRef, confNotes, confAt,
		o.Notes, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	}
}

func (ts *txStore) GetObligation(ctx context.Context, id string) (tenancy.Obligation, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT `+obligationColumns+` FROM payment_obligations WHERE id = ?`, id)
	if err != nil {
		return tenancy.Obligation{}, errors.Wrap(err, "failed to query obligation")
	}
	out, err := scanObligations(rows)
	if err != nil {
		return tenancy.Obligation{}, err
	}
	if len(out) == 0 {
		return tenancy.Obligation{}, tenancy.NotFound("obligation", id)
	}
	return out[0], nil
}

func (ts *txStore) UpdateObligation(ctx context.Context, o tenancy.Obligation) error {
	query := `
		UPDATE payment_obligations SET
			kind = ?, due_date = ?, rent_due = ?, rent_paid = ?, currency = ?, status = ?,
			submitted_amount = ?, submitted_date = ?, submitted_reference = ?,
			submitted_method = ?, submitted_notes = ?, submitted_at = ?,
			payment_date = ?, payment_method = ?, payment_reference = ?,
			confirmed_notes = ?, confirmed_at = ?, notes = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	args := append(obligationValues(o), o.ID)
	res, err := ts.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update obligation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenancy.NotFound("obligation", o.ID)
	}
	return nil
}

func (ts *txStore) ListObligations(ctx context.Context, tenancyID string) ([]tenancy.Obligation, error) {
	rows, err := ts.q.QueryContext(ctx,
		`SELECT `+obligationColumns+` FROM payment_obligations WHERE tenancy_id = ? ORDER BY payment_number ASC`,
		tenancyID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query obligations")
	}
	return scanObligations(rows)
}

// DeleteObligations removes pending obligations only.
func (ts *txStore) DeleteObligations(ctx context.Context, ids []string) error {
	for _, id := range ids {
		res, err := ts.q.ExecContext(ctx,
			`DELETE FROM payment_obligations WHERE id = ? AND status = ?`, id, tenancy.ObligationPending)
		if err != nil {
			return errors.Wrap(err, "failed to delete obligation")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.NewError("only pending obligations can be deleted").
				WithHintf("obligation %s is missing or no longer pending", id).
				WithDetails(map[string]any{"obligation_id": id}).
				Mark(generic.ErrInvalidState)
		}
	}
	return nil
}

func scanObligations(rows *sql.Rows) ([]tenancy.Obligation, error) {
	defer rows.Close()

	var out []tenancy.Obligation
	for rows.Next() {
		var (
			o                                                      tenancy.Obligation
			dueDate, rentDue, rentPaid, currency                   string
			subAmount, subDate, subRef, subMethod, subNotes, subAt sql.NullString
			payDate, payMethod, payRef, confNotes, confAt          sql.NullString
			createdAt, updatedAt                                   string
		)
		if err := rows.Scan(
			&o.ID, &o.TenancyID, &o.PaymentNumber, &o.Kind, &dueDate, &rentDue, &rentPaid,
			&currency, &o.Status, &subAmount, &subDate, &subRef, &subMethod, &subNotes, &subAt,
			&payDate, &payMethod, &payRef, &confNotes, &confAt, &o.Notes, &createdAt, &updatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan obligation")
		}
		cur := generic.Currency(currency)
		o.DueDate = parseDate(dueDate)
		o.RentDue = parseMoney(rentDue, cur)
		o.RentPaid = parseMoney(rentPaid, cur)
		if subAt.Valid {
			o.Submitted = &tenancy.Submission{
				Amount:      parseMoney(subAmount.String, cur),
				Date:        parseDate(subDate.String),
				Reference:   subRef.String,
				Method:      subMethod.String,
				Notes:       subNotes.String,
				SubmittedAt: parseTime(subAt.String),
			}
		}
		if confAt.Valid {
			o.Confirmed = &tenancy.Confirmation{
				Date:        parseDate(payDate.String),
				Method:      payMethod.String,
				Reference:   payRef.String,
				Notes:       confNotes.String,
				ConfirmedAt: parseTime(confAt.String),
			}
		}
		o.CreatedAt = parseTime(createdAt)
		o.UpdatedAt = parseTime(updatedAt)
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "failed to read obligations")
}

// =============================================================================
// NOTICES
// =============================================================================

const noticeColumns = `id, tenancy_id, type, given_by, given_to, notice_date, effective_date,
	reason, status, breach_type, breach_stage, remedy_deadline, termination_deadline,
	extension_months, proposed_rent, current_rent, new_end_date, extension_status, responded_at,
	created_at, updated_at`

func (ts *txStore) CreateNotice(ctx context.Context, n tenancy.Notice) error {
	query := `INSERT INTO notices (` + noticeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := append([]any{n.ID, n.TenancyID, n.Type, n.GivenBy, n.GivenTo, formatTime(n.NoticeDate)}, noticeValues(n)...)
	_, err := ts.q.ExecContext(ctx, query, args...)
	if isUniqueConstraintError(err) {
		return generic.NewError("notice already exists").
			WithHintf("notice %s already exists", n.ID).
			Mark(generic.ErrValidation)
	}
	return errors.Wrap(err, "failed to insert notice")
}

// noticeValues are the mutable columns, effective_date through updated_at.
func noticeValues(n tenancy.Notice) []any {
	var proposed, current sql.NullString
	if n.ProposedRent != nil {
		proposed = nullString(n.ProposedRent.Value.String())
	}
	if n.CurrentRent != nil {
		current = nullString(n.CurrentRent.Value.String())
	}
	return []any{
		nullDate(n.EffectiveDate), n.Reason, n.Status, n.BreachType, n.BreachStage,
		nullTime(n.RemedyDeadline), nullTime(n.TerminationDeadline),
		n.ExtensionMonths, proposed, current, nullDate(n.NewEndDate), n.ExtensionStatus,
		nullTime(n.RespondedAt), formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
	}
}

func (ts *txStore) GetNotice(ctx context.Context, id string) (tenancy.Notice, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT `+noticeColumns+` FROM notices WHERE id = ?`, id)
	if err != nil {
		return tenancy.Notice{}, errors.Wrap(err, "failed to query notice")
	}
	out, err := scanNotices(rows)
	if err != nil {
		return tenancy.Notice{}, err
	}
	if len(out) == 0 {
		return tenancy.Notice{}, tenancy.NotFound("notice", id)
	}
	return out[0], nil
}

func (ts *txStore) UpdateNotice(ctx context.Context, n tenancy.Notice) error {
	query := `
		UPDATE notices SET
			effective_date = ?, reason = ?, status = ?, breach_type = ?, breach_stage = ?,
			remedy_deadline = ?, termination_deadline = ?, extension_months = ?,
			proposed_rent = ?, current_rent = ?, new_end_date = ?, extension_status = ?, responded_at = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?
	`
	args := append(noticeValues(n), n.ID)
	res, err := ts.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update notice")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return tenancy.NotFound("notice", n.ID)
	}
	return nil
}

func (ts *txStore) ListNotices(ctx context.Context, tenancyID string) ([]tenancy.Notice, error) {
	rows, err := ts.q.QueryContext(ctx,
		`SELECT `+noticeColumns+` FROM notices WHERE tenancy_id = ? ORDER BY created_at ASC, id ASC`,
		tenancyID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query notices")
	}
	return scanNotices(rows)
}

func scanNotices(rows *sql.Rows) ([]tenancy.Notice, error) {
	defer rows.Close()

	var out []tenancy.Notice
	for rows.Next() {
		var (
			n                                   tenancy.Notice
			noticeDate, createdAt, updatedAt    string
			effectiveDate, newEndDate, proposed sql.NullString
			current                             sql.NullString
			remedyDeadline, terminationDeadline sql.NullString
			respondedAt                         sql.NullString
		)
		if err := rows.Scan(
			&n.ID, &n.TenancyID, &n.Type, &n.GivenBy, &n.GivenTo, &noticeDate, &effectiveDate,
			&n.Reason, &n.Status, &n.BreachType, &n.BreachStage, &remedyDeadline, &terminationDeadline,
			&n.ExtensionMonths, &proposed, &current, &newEndDate, &n.ExtensionStatus, &respondedAt,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan notice")
		}
		n.NoticeDate = parseTime(noticeDate)
		n.EffectiveDate = parseNullDate(effectiveDate)
		n.NewEndDate = parseNullDate(newEndDate)
		n.RemedyDeadline = parseNullTime(remedyDeadline)
		n.TerminationDeadline = parseNullTime(terminationDeadline)
		n.RespondedAt = parseNullTime(respondedAt)
		if proposed.Valid {
			rent := parseMoney(proposed.String, generic.CurrencyGBP)
			n.ProposedRent = &rent
		}
		if current.Valid {
			rent := parseMoney(current.String, generic.CurrencyGBP)
			n.CurrentRent = &rent
		}
		n.CreatedAt = parseTime(createdAt)
		n.UpdatedAt = parseTime(updatedAt)
		out = append(out, n)
	}
	return out, errors.Wrap(rows.Err(), "failed to read notices")
}

// =============================================================================
// REMINDERS
// =============================================================================

func (ts *txStore) CreateReminder(ctx context.Context, r tenancy.Reminder) error {
	_, err := ts.q.ExecContext(ctx,
		`INSERT INTO reminders (id, tenancy_id, kind, target_date, raised_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.TenancyID, r.Kind, formatDate(r.TargetDate), formatTime(r.RaisedAt))
	return errors.Wrap(err, "failed to insert reminder")
}

func (ts *txStore) LastReminder(ctx context.Context, tenancyID string, kind tenancy.ReminderKind) (tenancy.Reminder, bool, error) {
	var (
		r                  tenancy.Reminder
		targetDate, raised string
	)
	err := ts.q.QueryRowContext(ctx, `
		SELECT id, tenancy_id, kind, target_date, raised_at FROM reminders
		WHERE tenancy_id = ? AND kind = ?
		ORDER BY raised_at DESC LIMIT 1`,
		tenancyID, kind,
	).Scan(&r.ID, &r.TenancyID, &r.Kind, &targetDate, &raised)
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.Reminder{}, false, nil
	}
	if err != nil {
		return tenancy.Reminder{}, false, errors.Wrap(err, "failed to query reminder")
	}
	r.TargetDate = parseDate(targetDate)
	r.RaisedAt = parseTime(raised)
	return r, true, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDate(d generic.Date) string { return d.String() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(formatDate(*d))
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullString(formatTime(*t))
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func parseNullDate(s sql.NullString) *generic.Date {
	if !s.Valid {
		return nil
	}
	d := parseDate(s.String)
	return &d
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseMoney(value string, currency generic.Currency) generic.Money {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return generic.NewMoney(d, currency)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}
