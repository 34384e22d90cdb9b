// Package memory provides an in-memory tenancy.TxStore for tests and dev mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	tenancies   map[string]tenancy.Tenancy
	obligations map[string]tenancy.Obligation
	notices     map[string]tenancy.Notice
	reminders   []tenancy.Reminder
}

func New() *Memory {
	return &Memory{state: state{
		tenancies:   make(map[string]tenancy.Tenancy),
		obligations: make(map[string]tenancy.Obligation),
		notices:     make(map[string]tenancy.Notice),
	}}
}

var _ tenancy.TxStore = (*Memory)(nil)

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	fresh := New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = fresh.state
	return nil
}

// WithTx runs fn against a view that writes straight into the store.
// Simulated with a snapshot + restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	c := state{
		tenancies:   make(map[string]tenancy.Tenancy, len(s.tenancies)),
		obligations: make(map[string]tenancy.Obligation, len(s.obligations)),
		notices:     make(map[string]tenancy.Notice, len(s.notices)),
		reminders:   append([]tenancy.Reminder(nil), s.reminders...),
	}
	for k, v := range s.tenancies {
		c.tenancies[k] = v
	}
	for k, v := range s.obligations {
		c.obligations[k] = v
	}
	for k, v := range s.notices {
		c.notices[k] = v
	}
	return c
}

// Outside a transaction each call takes the lock and runs on a one-shot view.

func (m *Memory) read(fn func(v *view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{s: &m.state})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{s: &m.state})
}

func (m *Memory) CreateTenancy(ctx context.Context, t tenancy.Tenancy) error {
	return m.write(func(v *view) error { return v.CreateTenancy(ctx, t) })
}

func (m *Memory) GetTenancy(ctx context.Context, id string) (t tenancy.Tenancy, err error) {
	err = m.read(func(v *view) error { t, err = v.GetTenancy(ctx, id); return err })
	return t, err
}

func (m *Memory) UpdateTenancy(ctx context.Context, t *tenancy.Tenancy) error {
	return m.write(func(v *view) error { return v.UpdateTenancy(ctx, t) })
}

func (m *Memory) ListTenancies(ctx context.Context, statuses ...tenancy.Status) (out []tenancy.Tenancy, err error) {
	err = m.read(func(v *view) error { out, err = v.ListTenancies(ctx, statuses...); return err })
	return out, err
}

func (m *Memory) InsertObligations(ctx context.Context, obligations []tenancy.Obligation) error {
	return m.write(func(v *view) error { return v.InsertObligations(ctx, obligations) })
}

func (m *Memory) GetObligation(ctx context.Context, id string) (o tenancy.Obligation, err error) {
	err = m.read(func(v *view) error { o, err = v.GetObligation(ctx, id); return err })
	return o, err
}

func (m *Memory) UpdateObligation(ctx context.Context, o tenancy.Obligation) error {
	return m.write(func(v *view) error { return v.UpdateObligation(ctx, o) })
}

func (m *Memory) ListObligations(ctx context.Context, tenancyID string) (out []tenancy.Obligation, err error) {
	err = m.read(func(v *view) error { out, err = v.ListObligations(ctx, tenancyID); return err })
	return out, err
}

func (m *Memory) DeleteObligations(ctx context.Context, ids []string) error {
	return m.write(func(v *view) error { return v.DeleteObligations(ctx, ids) })
}

func (m *Memory) CreateNotice(ctx context.Context, n tenancy.Notice) error {
	return m.write(func(v *view) error { return v.CreateNotice(ctx, n) })
}

func (m *Memory) GetNotice(ctx context.Context, id string) (n tenancy.Notice, err error) {
	err = m.read(func(v *view) error { n, err = v.GetNotice(ctx, id); return err })
	return n, err
}

func (m *Memory) UpdateNotice(ctx context.Context, n tenancy.Notice) error {
	return m.write(func(v *view) error { return v.UpdateNotice(ctx, n) })
}

func (m *Memory) ListNotices(ctx context.Context, tenancyID string) (out []tenancy.Notice, err error) {
	err = m.read(func(v *view) error { out, err = v.ListNotices(ctx, tenancyID); return err })
	return out, err
}

func (m *Memory) CreateReminder(ctx context.Context, r tenancy.Reminder) error {
	return m.write(func(v *view) error { return v.CreateReminder(ctx, r) })
}

func (m *Memory) LastReminder(ctx context.Context, tenancyID string, kind tenancy.ReminderKind) (r tenancy.Reminder, found bool, err error) {
	err = m.read(func(v *view) error { r, found, err = v.LastReminder(ctx, tenancyID, kind); return err })
	return r, found, err
}

// =============================================================================
// VIEW - Lock-free operations; the caller holds the store lock
// =============================================================================

type view struct {
	s *state
}

func (v *view) CreateTenancy(_ context.Context, t tenancy.Tenancy) error {
	if _, exists := v.s.tenancies[t.ID]; exists {
		return generic.NewError("tenancy already exists").
			WithHintf("tenancy %s already exists", t.ID).
			Mark(generic.ErrValidation)
	}
	v.s.tenancies[t.ID] = t
	return nil
}

func (v *view) GetTenancy(_ context.Context, id string) (tenancy.Tenancy, error) {
	t, ok := v.s.tenancies[id]
	if !ok {
		return tenancy.Tenancy{}, tenancy.NotFound("tenancy", id)
	}
	return t, nil
}

func (v *view) UpdateTenancy(_ context.Context, t *tenancy.Tenancy) error {
	current, ok := v.s.tenancies[t.ID]
	if !ok {
		return tenancy.NotFound("tenancy", t.ID)
	}
	if current.Version != t.Version {
		return tenancy.VersionConflict(t.ID, t.Version, current.Version)
	}
	t.Version++
	v.s.tenancies[t.ID] = *t
	return nil
}

func (v *view) ListTenancies(_ context.Context, statuses ...tenancy.Status) ([]tenancy.Tenancy, error) {
	out := lo.Filter(lo.Values(v.s.tenancies), func(t tenancy.Tenancy, _ int) bool {
		return len(statuses) == 0 || lo.Contains(statuses, t.Status)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertObligations(_ context.Context, obligations []tenancy.Obligation) error {
	for _, o := range obligations {
		if _, exists := v.s.obligations[o.ID]; exists {
			return generic.NewError("obligation already exists").
				WithHintf("obligation %s already exists", o.ID).
				Mark(generic.ErrValidation)
		}
		for _, existing := range v.s.obligations {
			if existing.TenancyID == o.TenancyID && existing.PaymentNumber == o.PaymentNumber {
				return generic.NewError("duplicate payment number").
					WithHintf("tenancy %s already has payment %d", o.TenancyID, o.PaymentNumber).
					WithDetails(map[string]any{"tenancy_id": o.TenancyID, "payment_number": o.PaymentNumber}).
					Mark(generic.ErrInvalidState)
			}
		}
		v.s.obligations[o.ID] = o
	}
	return nil
}

func (v *view) GetObligation(_ context.Context, id string) (tenancy.Obligation, error) {
	o, ok := v.s.obligations[id]
	if !ok {
		return tenancy.Obligation{}, tenancy.NotFound("obligation", id)
	}
	return o, nil
}

func (v *view) UpdateObligation(_ context.Context, o tenancy.Obligation) error {
	if _, ok := v.s.obligations[o.ID]; !ok {
		return tenancy.NotFound("obligation", o.ID)
	}
	v.s.obligations[o.ID] = o
	return nil
}

func (v *view) ListObligations(_ context.Context, tenancyID string) ([]tenancy.Obligation, error) {
	out := lo.Filter(lo.Values(v.s.obligations), func(o tenancy.Obligation, _ int) bool {
		return o.TenancyID == tenancyID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentNumber < out[j].PaymentNumber })
	return out, nil
}

func (v *view) DeleteObligations(_ context.Context, ids []string) error {
	for _, id := range ids {
		o, ok := v.s.obligations[id]
		if !ok {
			return tenancy.NotFound("obligation", id)
		}
		if o.Status != tenancy.ObligationPending {
			return generic.NewError("only pending obligations can be deleted").
				WithHintf("obligation %d is %s", o.PaymentNumber, o.Status).
				Mark(generic.ErrInvalidState)
		}
		delete(v.s.obligations, id)
	}
	return nil
}

func (v *view) CreateNotice(_ context.Context, n tenancy.Notice) error {
	if _, exists := v.s.notices[n.ID]; exists {
		return generic.NewError("notice already exists").
			WithHintf("notice %s already exists", n.ID).
			Mark(generic.ErrValidation)
	}
	v.s.notices[n.ID] = n
	return nil
}

func (v *view) GetNotice(_ context.Context, id string) (tenancy.Notice, error) {
	n, ok := v.s.notices[id]
	if !ok {
		return tenancy.Notice{}, tenancy.NotFound("notice", id)
	}
	return n, nil
}

func (v *view) UpdateNotice(_ context.Context, n tenancy.Notice) error {
	if _, ok := v.s.notices[n.ID]; !ok {
		return tenancy.NotFound("notice", n.ID)
	}
	v.s.notices[n.ID] = n
	return nil
}

func (v *view) ListNotices(_ context.Context, tenancyID string) ([]tenancy.Notice, error) {
	out := lo.Filter(lo.Values(v.s.notices), func(n tenancy.Notice, _ int) bool {
		return n.TenancyID == tenancyID
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) CreateReminder(_ context.Context, r tenancy.Reminder) error {
	v.s.reminders = append(v.s.reminders, r)
	return nil
}

func (v *view) LastReminder(_ context.Context, tenancyID string, kind tenancy.ReminderKind) (tenancy.Reminder, bool, error) {
	matches := lo.Filter(v.s.reminders, func(r tenancy.Reminder, _ int) bool {
		return r.TenancyID == tenancyID && r.Kind == kind
	})
	if len(matches) == 0 {
		return tenancy.Reminder{}, false, nil
	}
	return lo.MaxBy(matches, func(a, b tenancy.Reminder) bool { return a.RaisedAt.After(b.RaisedAt) }), true, nil
}
