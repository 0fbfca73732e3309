// Package memory is an in-process Store used by tests and by local runs
// without DATABASE_URL. Transactions are serialized and work on a copy of
// the committed state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

type state struct {
	services     map[string]model.Service
	resources    map[string]model.Resource
	rules        map[string][]model.AvailabilityRule
	appointments map[string]model.Appointment
	keys         map[string]string
	events       []outbox.Event
}

func (s *state) clone() *state {
	c := &state{
		services:     make(map[string]model.Service, len(s.services)),
		resources:    make(map[string]model.Resource, len(s.resources)),
		rules:        make(map[string][]model.AvailabilityRule, len(s.rules)),
		appointments: make(map[string]model.Appointment, len(s.appointments)),
		keys:         make(map[string]string, len(s.keys)),
		events:       append([]outbox.Event(nil), s.events...),
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.resources {
		c.resources[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = copyAppointment(v)
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	return c
}

type Store struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	committed *state
	commitErr error
}

func New() *Store {
	return &Store{committed: &state{
		services:     map[string]model.Service{},
		resources:    map[string]model.Resource{},
		rules:        map[string][]model.AvailabilityRule{},
		appointments: map[string]model.Appointment{},
		keys:         map[string]string{},
	}}
}

// FailNextCommit makes the next Commit return err without applying anything.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Events returns the committed outbox events.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.committed.events...)
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()
	return &tx{store: s, st: work}, nil
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

func (s *Store) GetService(_ context.Context, id string) (model.Service, error) {
	svc, ok := s.read().services[id]
	if !ok {
		return model.Service{}, fmt.Errorf("service %s: %w", id, model.ErrNotFound)
	}
	return svc, nil
}

func (s *Store) ListServices(_ context.Context) ([]model.Service, error) {
	st := s.read()
	out := make([]model.Service, 0, len(st.services))
	for _, svc := range st.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetResource(_ context.Context, id string) (model.Resource, error) {
	res, ok := s.read().resources[id]
	if !ok {
		return model.Resource{}, fmt.Errorf("resource %s: %w", id, model.ErrNotFound)
	}
	return res, nil
}

func (s *Store) ListResources(_ context.Context, kind model.Kind) ([]model.Resource, error) {
	st := s.read()
	var out []model.Resource
	for _, res := range st.resources {
		if kind == "" || res.Kind == kind {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := s.read().appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return copyAppointment(appt), nil
}

func (s *Store) AppointmentByKey(ctx context.Context, key string) (model.Appointment, error) {
	id, ok := s.read().keys[key]
	if !ok {
		return model.Appointment{}, fmt.Errorf("idempotency key: %w", model.ErrNotFound)
	}
	return s.GetAppointment(ctx, id)
}

func (s *Store) ListAppointments(_ context.Context, f model.AppointmentFilter) ([]model.Appointment, error) {
	st := s.read()
	var out []model.Appointment
	for _, appt := range st.appointments {
		if !f.From.IsZero() && appt.Window.Start.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !appt.Window.Start.Before(f.To) {
			continue
		}
		if f.Status != "" && appt.Status != f.Status {
			continue
		}
		out = append(out, copyAppointment(appt))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Window.Start.Before(out[j].Window.Start)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Snapshot(_ context.Context, resourceIDs ...string) (model.Snapshot, error) {
	return snapshot(s.read(), nil, resourceIDs), nil
}

func snapshot(st *state, w *window.Window, ids []string) model.Snapshot {
	want := func(string) bool { return true }
	if len(ids) > 0 {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		want = func(id string) bool { return set[id] }
	}

	var snap model.Snapshot
	for id, res := range st.resources {
		if want(id) {
			snap.Resources = append(snap.Resources, res)
		}
	}
	for id, rules := range st.rules {
		if want(id) {
			snap.Rules = append(snap.Rules, rules...)
		}
	}
	for _, appt := range st.appointments {
		for _, b := range appt.Bookings {
			if !b.Active() {
				continue
			}
			if w != nil && !window.Overlaps(*w, b.Window) {
				continue
			}
			for _, id := range b.ResourceIDs {
				if want(id) {
					snap.Bookings = append(snap.Bookings, b)
					break
				}
			}
		}
	}
	sort.Slice(snap.Resources, func(i, j int) bool { return snap.Resources[i].ID < snap.Resources[j].ID })
	sort.Slice(snap.Bookings, func(i, j int) bool { return snap.Bookings[i].ID < snap.Bookings[j].ID })
	return snap
}

type tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *tx) finish() bool {
	if t.done {
		return false
	}
	t.done = true
	t.store.txMu.Unlock()
	return true
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("memory: transaction already closed")
	}
	defer t.finish()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.commitErr; err != nil {
		t.store.commitErr = nil
		return err
	}
	t.store.committed = t.st
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	t.finish()
	return nil
}

func (t *tx) LockResources(ctx context.Context, _ []string) error {
	return ctx.Err()
}

func (t *tx) Snapshot(_ context.Context, w window.Window, resourceIDs ...string) (model.Snapshot, error) {
	return snapshot(t.st, &w, resourceIDs), nil
}

func (t *tx) InsertAppointment(_ context.Context, appt model.Appointment) error {
	if _, ok := t.st.appointments[appt.ID]; ok {
		return fmt.Errorf("appointment %s already exists", appt.ID)
	}
	if appt.IdempotencyKey != "" {
		if _, ok := t.st.keys[appt.IdempotencyKey]; ok {
			return storage.ErrDuplicateKey
		}
	}
	for _, b := range appt.Bookings {
		if !b.Active() {
			continue
		}
		if err := t.exclusive(b); err != nil {
			return err
		}
	}
	t.st.appointments[appt.ID] = copyAppointment(appt)
	if appt.IdempotencyKey != "" {
		t.st.keys[appt.IdempotencyKey] = appt.ID
	}
	return nil
}

// exclusive mirrors the database exclusion constraint.
func (t *tx) exclusive(b model.Booking) error {
	for _, other := range t.st.appointments {
		for _, ob := range other.Bookings {
			if !ob.Active() || !window.Overlaps(ob.Window, b.Window) {
				continue
			}
			for _, id := range b.ResourceIDs {
				for _, oid := range ob.ResourceIDs {
					if id == oid {
						return model.NewConflict(id, []model.Booking{ob})
					}
				}
			}
		}
	}
	return nil
}

func (t *tx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := t.st.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return copyAppointment(appt), nil
}

func (t *tx) CancelAppointment(_ context.Context, id, reason string, at time.Time) error {
	appt, ok := t.st.appointments[id]
	if !ok {
		return fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	appt = copyAppointment(appt)
	appt.Status = model.AppointmentCancelled
	appt.CancelReason = reason
	appt.CancelledAt = &at
	for i := range appt.Bookings {
		appt.Bookings[i].Status = model.BookingCancelled
	}
	t.st.appointments[id] = appt
	return nil
}

func (t *tx) ReplaceRules(_ context.Context, resourceID string, rules []model.AvailabilityRule) error {
	if _, ok := t.st.resources[resourceID]; !ok {
		return fmt.Errorf("resource %s: %w", resourceID, model.ErrNotFound)
	}
	if len(rules) == 0 {
		delete(t.st.rules, resourceID)
		return nil
	}
	t.st.rules[resourceID] = append([]model.AvailabilityRule(nil), rules...)
	return nil
}

func (t *tx) InsertService(_ context.Context, svc model.Service) error {
	if _, ok := t.st.services[svc.ID]; ok {
		return fmt.Errorf("service %s already exists", svc.ID)
	}
	t.st.services[svc.ID] = svc
	return nil
}

func (t *tx) InsertResource(_ context.Context, res model.Resource) error {
	if _, ok := t.st.resources[res.ID]; ok {
		return fmt.Errorf("resource %s already exists", res.ID)
	}
	for _, m := range res.Members {
		if _, ok := t.st.resources[m]; !ok {
			return fmt.Errorf("member %s: %w", m, model.ErrNotFound)
		}
	}
	t.st.resources[res.ID] = res
	return nil
}

func (t *tx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.st.events = append(t.st.events, evt)
	return nil
}

func copyAppointment(a model.Appointment) model.Appointment {
	a.Bookings = append([]model.Booking(nil), a.Bookings...)
	for i := range a.Bookings {
		a.Bookings[i].ResourceIDs = append([]string(nil), a.Bookings[i].ResourceIDs...)
	}
	return a
}
