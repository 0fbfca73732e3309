// Package booking commits appointments and their bookings atomically across
// the database and the live calendar.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/backoffice/libs/otel"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

type Config struct {
	LockTimeout   time.Duration
	CommitTimeout time.Duration
	// Catalog serves service and resource reads; defaults to the store.
	Catalog storage.Catalog
}

type Manager struct {
	store    storage.Store
	catalog  storage.Catalog
	cal      *calendar.Calendar
	resolver *availability.Resolver
	locks    *lock.Manager
	logger   *slog.Logger
	tracer   trace.Tracer

	commitTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

func NewManager(store storage.Store, cal *calendar.Calendar, logger *slog.Logger, cfg Config) *Manager {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	if cfg.Catalog == nil {
		cfg.Catalog = store
	}
	return &Manager{
		store:         store,
		catalog:       cfg.Catalog,
		cal:           cal,
		resolver:      availability.NewResolver(cfg.Catalog, cal),
		locks:         lock.NewManager(cfg.LockTimeout),
		logger:        logger,
		tracer:        otelx.Tracer("booking"),
		commitTimeout: cfg.CommitTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

func (m *Manager) Resolver() *availability.Resolver {
	return m.resolver
}

// Load rebuilds the live calendar from storage.
func (m *Manager) Load(ctx context.Context) error {
	err := m.cal.Load(ctx, m.store)
	st := m.cal.Stats()
	m.logger.Info("calendar loaded", "resources", st.Resources, "bookings", st.Bookings)
	return err
}

type BookRequest struct {
	ServiceID        string
	Start            time.Time
	// End defaults to Start plus the service duration.
	End              time.Time
	PreferredStaffID string
	PreferredRoomID  string
	CustomerName     string
	Notes            string
	IdempotencyKey   string
}

// Book resolves a resource combination and commits the appointment with one
// booking per required resource, or nothing. A repeated idempotency key
// returns the appointment it first produced.
func (m *Manager) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("service_id", req.ServiceID),
	))
	defer span.End()

	if req.IdempotencyKey != "" {
		prior, err := m.store.AppointmentByKey(ctx, req.IdempotencyKey)
		if err == nil {
			span.SetAttributes(attribute.Bool("idempotent_replay", true))
			return prior, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, fail(span, model.Persistence("idempotency lookup", err))
		}
	}

	appt, err := m.book(ctx, req)
	if err != nil && req.IdempotencyKey != "" && replayable(err) {
		// A concurrent request with the same key may have won the slot.
		if prior, perr := m.store.AppointmentByKey(ctx, req.IdempotencyKey); perr == nil {
			return prior, nil
		}
	}
	if errors.Is(err, storage.ErrDuplicateKey) {
		err = model.Persistence("insert appointment", err)
	}
	if err != nil {
		return model.Appointment{}, fail(span, err)
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID))
	return appt, nil
}

func replayable(err error) bool {
	return errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrNoAvailability)
}

func (m *Manager) book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	w, err := m.window(ctx, req)
	if err != nil {
		return model.Appointment{}, err
	}
	combo, err := m.resolver.Resolve(ctx, availability.Request{
		ServiceID:        req.ServiceID,
		Window:           w,
		PreferredStaffID: req.PreferredStaffID,
		PreferredRoomID:  req.PreferredRoomID,
	})
	if err != nil {
		return model.Appointment{}, err
	}

	release, err := m.locks.Acquire(ctx, combo.Occupied())
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	// Once the locks are held the commit runs to completion even if the
	// caller goes away.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.commitTimeout)
	defer cancel()
	return m.commit(cctx, req, combo)
}

func (m *Manager) window(ctx context.Context, req BookRequest) (window.Window, error) {
	if req.Start.IsZero() {
		return window.Window{}, fmt.Errorf("%w: start is required", model.ErrInvalidWindow)
	}
	if !req.End.IsZero() {
		return window.New(req.Start, req.End)
	}
	svc, err := m.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return window.Window{}, err
	}
	return window.Of(req.Start, svc.Duration())
}

func (m *Manager) commit(ctx context.Context, req BookRequest, combo availability.Combination) (model.Appointment, error) {
	now := m.now().UTC()
	appt := model.Appointment{
		ID:             m.newID(),
		ServiceID:      combo.ServiceID,
		Window:         combo.Window,
		Status:         model.AppointmentPending,
		CustomerName:   req.CustomerName,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	for _, res := range combo.Resources {
		b := model.Booking{
			ID:            m.newID(),
			AppointmentID: appt.ID,
			ResourceIDs:   res.Occupies(),
			Window:        combo.Window,
			Status:        model.BookingTentative,
			CreatedAt:     now,
		}
		if res.Kind == model.KindCombined {
			b.SetID = res.ID
		}
		appt.Bookings = append(appt.Bookings, b)
	}
	occupied := combo.Occupied()

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, model.Persistence("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.LockResources(ctx, occupied); err != nil {
		if errors.Is(err, model.ErrTimeout) {
			return model.Appointment{}, err
		}
		return model.Appointment{}, model.Persistence("lock resources", err)
	}
	snap, err := tx.Snapshot(ctx, combo.Window, occupied...)
	if err != nil {
		return model.Appointment{}, model.Persistence("read bookings", err)
	}
	if err := verify(ctx, snap, appt.Bookings); err != nil {
		// Another process booked these resources; bring the live view up to date.
		m.resync(ctx, occupied)
		return model.Appointment{}, err
	}

	appt.Status = model.AppointmentConfirmed
	for i := range appt.Bookings {
		appt.Bookings[i].Status = model.BookingConfirmed
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		if errors.Is(err, model.ErrConflict) || errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, model.ErrTimeout) {
			return model.Appointment{}, err
		}
		return model.Appointment{}, model.Persistence("insert appointment", err)
	}
	evt, err := outbox.NewAppointmentEvent(outbox.TypeAppointmentConfirmed, payload(appt, "", now))
	if err != nil {
		return model.Appointment{}, model.Persistence("build event", err)
	}
	if err := tx.AppendEvent(ctx, evt); err != nil {
		return model.Appointment{}, model.Persistence("write outbox", err)
	}

	if err := m.cal.Reserve(appt.Bookings); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		m.cal.Release(appt.Bookings)
		m.resync(ctx, occupied)
		return model.Appointment{}, model.Persistence("commit", err)
	}

	m.logger.Info("appointment confirmed",
		"appointment_id", appt.ID,
		"service_id", appt.ServiceID,
		"resources", occupied,
		"start", appt.Window.Start,
	)
	return appt, nil
}

// verify replays the bookings against the state read inside the transaction.
func verify(ctx context.Context, snap model.Snapshot, bookings []model.Booking) error {
	scratch := calendar.New()
	// The exclusion constraint keeps persisted rows disjoint, so Load cannot
	// skip anything here.
	_ = scratch.Load(ctx, staticSource(snap))
	return scratch.Reserve(bookings)
}

type staticSource model.Snapshot

func (s staticSource) Snapshot(context.Context, ...string) (model.Snapshot, error) {
	return model.Snapshot(s), nil
}

func (m *Manager) resync(ctx context.Context, ids []string) {
	if err := m.cal.Resync(ctx, m.store, ids...); err != nil {
		m.logger.Warn("calendar resync failed", "resources", ids, "err", err)
	}
}

// Cancel cancels the appointment and all of its bookings. Cancelling twice is
// a no-op that returns the cancelled appointment.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (model.Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "booking.cancel", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.commitTimeout)
	defer cancel()

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fail(span, model.Persistence("begin", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, err
		}
		return model.Appointment{}, fail(span, model.Persistence("load appointment", err))
	}
	switch appt.Status {
	case model.AppointmentCancelled:
		return appt, nil
	case model.AppointmentCompleted:
		return model.Appointment{}, fmt.Errorf("%w: appointment %s is completed", model.ErrInvalidTransition, id)
	}

	now := m.now().UTC()
	if err := tx.CancelAppointment(ctx, id, reason, now); err != nil {
		return model.Appointment{}, fail(span, model.Persistence("cancel appointment", err))
	}
	evt, err := outbox.NewAppointmentEvent(outbox.TypeAppointmentCancelled, payload(appt, reason, now))
	if err != nil {
		return model.Appointment{}, fail(span, model.Persistence("build event", err))
	}
	if err := tx.AppendEvent(ctx, evt); err != nil {
		return model.Appointment{}, fail(span, model.Persistence("write outbox", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fail(span, model.Persistence("commit", err))
	}
	m.cal.Release(appt.Bookings)

	appt.Status = model.AppointmentCancelled
	appt.CancelReason = reason
	appt.CancelledAt = &now
	for i := range appt.Bookings {
		appt.Bookings[i].Status = model.BookingCancelled
	}
	m.logger.Info("appointment cancelled", "appointment_id", id, "reason", reason)
	return appt, nil
}

func payload(appt model.Appointment, reason string, at time.Time) outbox.AppointmentPayload {
	return outbox.AppointmentPayload{
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		ResourceIDs:   appt.ResourceIDs(),
		Start:         appt.Window.Start,
		End:           appt.Window.End,
		Status:        string(appt.Status),
		Reason:        reason,
		OccurredAt:    at,
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
