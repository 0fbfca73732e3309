// Package postgres implements the storage ports on a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/backoffice/libs/db"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	pool        *db.Pool
	outbox      *outbox.Repository
	lockTimeout time.Duration
}

var _ storage.Store = (*Repository)(nil)

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository, lockTimeout time.Duration) *Repository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Repository{pool: pool, outbox: outboxRepo, lockTimeout: lockTimeout}
}

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, outbox: r.outbox, lockTimeout: r.lockTimeout}, nil
}

const serviceColumns = `id::text, name, duration_minutes, required_kinds, active, created_at`

func scanService(row pgx.Row) (model.Service, error) {
	var svc model.Service
	var kinds []string
	if err := row.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &kinds, &svc.Active, &svc.CreatedAt); err != nil {
		return model.Service{}, err
	}
	for _, k := range kinds {
		svc.RequiredKinds = append(svc.RequiredKinds, model.Kind(k))
	}
	return svc, nil
}

func (r *Repository) GetService(ctx context.Context, id string) (model.Service, error) {
	if !validIDs(id) {
		return model.Service{}, fmt.Errorf("service %s: %w", id, model.ErrNotFound)
	}
	svc, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	return svc, translate(err, "service "+id)
}

func (r *Repository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Service, error) {
		return scanService(row)
	})
}

const resourceColumns = `r.id::text, r.kind, r.name, r.timezone, r.active, r.created_at,
	COALESCE((SELECT array_agg(m.member_id::text ORDER BY m.member_id) FROM resource_members m WHERE m.set_id = r.id), '{}')`

func scanResource(row pgx.Row) (model.Resource, error) {
	var res model.Resource
	var kind string
	if err := row.Scan(&res.ID, &kind, &res.Name, &res.Timezone, &res.Active, &res.CreatedAt, &res.Members); err != nil {
		return model.Resource{}, err
	}
	res.Kind = model.Kind(kind)
	if len(res.Members) == 0 {
		res.Members = nil
	}
	return res, nil
}

func (r *Repository) GetResource(ctx context.Context, id string) (model.Resource, error) {
	if !validIDs(id) {
		return model.Resource{}, fmt.Errorf("resource %s: %w", id, model.ErrNotFound)
	}
	res, err := scanResource(r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources r WHERE r.id = $1`, id))
	return res, translate(err, "resource "+id)
}

func (r *Repository) ListResources(ctx context.Context, kind model.Kind) ([]model.Resource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM resources r
		WHERE $1 = '' OR r.kind = $1
		ORDER BY r.id::text
	`, string(kind))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Resource, error) {
		return scanResource(row)
	})
}

const appointmentColumns = `id::text, service_id::text, start_time, end_time, status, customer_name, notes,
	COALESCE(idempotency_key, ''), COALESCE(cancellation_reason, ''), created_at, cancelled_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	var start, end time.Time
	err := row.Scan(&appt.ID, &appt.ServiceID, &start, &end, &status, &appt.CustomerName, &appt.Notes,
		&appt.IdempotencyKey, &appt.CancelReason, &appt.CreatedAt, &appt.CancelledAt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.AppointmentStatus(status)
	appt.Window = window.Window{Start: start.UTC(), End: end.UTC()}
	return appt, nil
}

func (r *Repository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validIDs(id) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return getAppointment(ctx, r.pool, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
}

func (r *Repository) AppointmentByKey(ctx context.Context, key string) (model.Appointment, error) {
	return getAppointment(ctx, r.pool, `SELECT `+appointmentColumns+` FROM appointments WHERE idempotency_key = $1`, key)
}

func getAppointment(ctx context.Context, q querier, sql string, arg string) (model.Appointment, error) {
	appt, err := scanAppointment(q.QueryRow(ctx, sql, arg))
	if err != nil {
		return model.Appointment{}, translate(err, "appointment "+arg)
	}
	bookings, err := bookingsFor(ctx, q, []string{appt.ID})
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Bookings = bookings[appt.ID]
	return appt, nil
}

func (r *Repository) ListAppointments(ctx context.Context, f model.AppointmentFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::timestamptz IS NULL OR start_time >= $1)
			AND ($2::timestamptz IS NULL OR start_time < $2)
			AND ($3 = '' OR status = $3)
		ORDER BY start_time ASC, id
		LIMIT $4
	`, from, to, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	appts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
	if err != nil || len(appts) == 0 {
		return appts, err
	}

	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	bookings, err := bookingsFor(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range appts {
		appts[i].Bookings = bookings[appts[i].ID]
	}
	return appts, nil
}

func (r *Repository) Snapshot(ctx context.Context, resourceIDs ...string) (model.Snapshot, error) {
	return snapshot(ctx, r.pool, nil, resourceIDs)
}

const bookingColumns = `b.id::text, b.appointment_id::text, COALESCE(b.set_id::text, ''), b.start_time, b.end_time,
	b.status, b.created_at, array_agg(br.resource_id::text ORDER BY br.position)`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var status string
	var start, end time.Time
	if err := row.Scan(&b.ID, &b.AppointmentID, &b.SetID, &start, &end, &status, &b.CreatedAt, &b.ResourceIDs); err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.Window = window.Window{Start: start.UTC(), End: end.UTC()}
	return b, nil
}

func bookingsFor(ctx context.Context, q querier, appointmentIDs []string) (map[string][]model.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		JOIN booking_resources br ON br.booking_id = b.id
		WHERE b.appointment_id = ANY($1::uuid[])
		GROUP BY b.id
		ORDER BY b.created_at, b.id
	`, appointmentIDs)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Booking, error) {
		return scanBooking(row)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Booking, len(appointmentIDs))
	for _, b := range list {
		out[b.AppointmentID] = append(out[b.AppointmentID], b)
	}
	return out, nil
}

// snapshot reads resources, rules and active bookings. A nil w reads every
// active booking; empty ids reads every resource.
func snapshot(ctx context.Context, q querier, w *window.Window, ids []string) (model.Snapshot, error) {
	var snap model.Snapshot
	if len(ids) > 0 && !validIDs(ids...) {
		return snap, nil
	}
	var filter []string
	if len(ids) > 0 {
		filter = ids
	}

	rows, err := q.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM resources r
		WHERE $1::uuid[] IS NULL OR r.id = ANY($1::uuid[])
		ORDER BY r.id
	`, filter)
	if err != nil {
		return snap, err
	}
	snap.Resources, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Resource, error) {
		return scanResource(row)
	})
	if err != nil {
		return snap, err
	}

	rows, err = q.Query(ctx, `
		SELECT id::text, resource_id::text, weekday, start_minute, end_minute, effective_date
		FROM availability_rules
		WHERE $1::uuid[] IS NULL OR resource_id = ANY($1::uuid[])
		ORDER BY resource_id, weekday, start_minute
	`, filter)
	if err != nil {
		return snap, err
	}
	snap.Rules, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AvailabilityRule, error) {
		var rule model.AvailabilityRule
		err := row.Scan(&rule.ID, &rule.ResourceID, &rule.Weekday, &rule.StartMinute, &rule.EndMinute, &rule.EffectiveDate)
		return rule, err
	})
	if err != nil {
		return snap, err
	}

	var from, to *time.Time
	if w != nil {
		from, to = &w.Start, &w.End
	}
	rows, err = q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		JOIN booking_resources br ON br.booking_id = b.id
		WHERE b.status <> 'cancelled'
			AND ($2::timestamptz IS NULL OR (b.start_time < $3 AND b.end_time > $2))
			AND ($1::uuid[] IS NULL OR EXISTS (
				SELECT 1 FROM booking_resources x
				WHERE x.booking_id = b.id AND x.resource_id = ANY($1::uuid[])
			))
		GROUP BY b.id
		ORDER BY b.start_time, b.id
	`, filter, from, to)
	if err != nil {
		return snap, err
	}
	snap.Bookings, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Booking, error) {
		return scanBooking(row)
	})
	return snap, err
}
