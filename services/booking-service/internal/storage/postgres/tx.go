package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

type pgTx struct {
	tx          pgx.Tx
	outbox      *outbox.Repository
	lockTimeout time.Duration
}

func (t *pgTx) Commit(ctx context.Context) error {
	return translate(t.tx.Commit(ctx), "commit")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// LockResources takes transaction-scoped advisory locks in sorted order so
// that every process serializes on the same resource keys.
func (t *pgTx) LockResources(ctx context.Context, ids []string) error {
	keys := append([]string(nil), ids...)
	sort.Strings(keys)
	if _, err := t.tx.Exec(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, t.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	for i, id := range keys {
		if i > 0 && keys[i-1] == id {
			continue
		}
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id); err != nil {
			return translate(err, "resource lock")
		}
	}
	return nil
}

func (t *pgTx) Snapshot(ctx context.Context, w window.Window, resourceIDs ...string) (model.Snapshot, error) {
	return snapshot(ctx, t.tx, &w, resourceIDs)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	var key *string
	if appt.IdempotencyKey != "" {
		key = &appt.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, service_id, start_time, end_time, status, customer_name, notes, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.ServiceID, appt.Window.Start, appt.Window.End, string(appt.Status),
		appt.CustomerName, appt.Notes, key, appt.CreatedAt)
	if err != nil {
		return translate(err, "appointment")
	}

	for _, b := range appt.Bookings {
		var setID *string
		if b.SetID != "" {
			setID = &b.SetID
		}
		_, err := t.tx.Exec(ctx, `
			INSERT INTO bookings (id, appointment_id, set_id, start_time, end_time, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, b.ID, appt.ID, setID, b.Window.Start, b.Window.End, string(b.Status), b.CreatedAt)
		if err != nil {
			return translate(err, "booking")
		}
		for pos, resourceID := range b.ResourceIDs {
			_, err := t.tx.Exec(ctx, `
				INSERT INTO booking_resources (booking_id, resource_id, position, period, active)
				VALUES ($1, $2, $3, tstzrange($4, $5, '[)'), $6)
			`, b.ID, resourceID, pos, b.Window.Start, b.Window.End, b.Active())
			if err != nil {
				return translate(err, "resource "+resourceID)
			}
		}
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	if !validIDs(id) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return getAppointment(ctx, t.tx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) CancelAppointment(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = $3,
			cancellation_reason = NULLIF($2, '')
		WHERE id = $1
	`, id, reason, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	if _, err := t.tx.Exec(ctx, `UPDATE bookings SET status = 'cancelled' WHERE appointment_id = $1`, id); err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE booking_resources br
		SET active = false
		FROM bookings b
		WHERE b.id = br.booking_id AND b.appointment_id = $1
	`, id)
	return err
}

func (t *pgTx) ReplaceRules(ctx context.Context, resourceID string, rules []model.AvailabilityRule) error {
	if !validIDs(resourceID) {
		return fmt.Errorf("resource %s: %w", resourceID, model.ErrNotFound)
	}
	if _, err := t.tx.Exec(ctx, `SELECT 1 FROM resources WHERE id = $1 FOR UPDATE`, resourceID); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM availability_rules WHERE resource_id = $1`, resourceID); err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rules {
		batch.Queue(`
			INSERT INTO availability_rules (resource_id, weekday, start_minute, end_minute, effective_date)
			VALUES ($1, $2, $3, $4, $5)
		`, resourceID, r.Weekday, r.StartMinute, r.EndMinute, r.EffectiveDate)
	}
	return translate(t.tx.SendBatch(ctx, batch).Close(), "resource "+resourceID)
}

func (t *pgTx) InsertService(ctx context.Context, svc model.Service) error {
	kinds := make([]string, 0, len(svc.RequiredKinds))
	for _, k := range svc.RequiredKinds {
		kinds = append(kinds, string(k))
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO services (id, name, duration_minutes, required_kinds, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, svc.ID, svc.Name, svc.DurationMinutes, kinds, svc.Active, svc.CreatedAt)
	return err
}

func (t *pgTx) InsertResource(ctx context.Context, res model.Resource) error {
	if !validIDs(res.Members...) {
		return fmt.Errorf("members: %w", model.ErrNotFound)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO resources (id, kind, name, timezone, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, res.ID, string(res.Kind), res.Name, res.Timezone, res.Active, res.CreatedAt)
	if err != nil {
		return err
	}
	for _, m := range res.Members {
		if _, err := t.tx.Exec(ctx, `INSERT INTO resource_members (set_id, member_id) VALUES ($1, $2)`, res.ID, m); err != nil {
			return translate(err, "member "+m)
		}
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}
