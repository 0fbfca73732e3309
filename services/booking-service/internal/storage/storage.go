// Package storage declares the persistence ports of the booking service.
// Adapters live in the postgres and memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

// ErrDuplicateKey is returned by InsertAppointment when the idempotency key
// already belongs to another appointment.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// Catalog reads services and resources.
type Catalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
	ListServices(ctx context.Context) ([]model.Service, error)
	GetResource(ctx context.Context, id string) (model.Resource, error)
	// ListResources returns resources of kind ordered by id; an empty kind
	// returns every resource.
	ListResources(ctx context.Context, kind model.Kind) ([]model.Resource, error)
}

type Store interface {
	Catalog
	Begin(ctx context.Context) (Tx, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	AppointmentByKey(ctx context.Context, idempotencyKey string) (model.Appointment, error)
	ListAppointments(ctx context.Context, filter model.AppointmentFilter) ([]model.Appointment, error)
	// Snapshot returns resources, rules and active bookings. With ids it is
	// restricted to those resources.
	Snapshot(ctx context.Context, resourceIDs ...string) (model.Snapshot, error)
}

// Tx is one unit of work. Nothing is visible to other readers until Commit.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// LockResources serializes with other processes booking the same ids.
	// A lock wait beyond the store's limit fails with model.ErrTimeout.
	LockResources(ctx context.Context, ids []string) error
	// Snapshot reads, inside the transaction, the listed resources, their
	// rules and their active bookings overlapping w.
	Snapshot(ctx context.Context, w window.Window, resourceIDs ...string) (model.Snapshot, error)

	InsertAppointment(ctx context.Context, appt model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	CancelAppointment(ctx context.Context, id, reason string, at time.Time) error

	ReplaceRules(ctx context.Context, resourceID string, rules []model.AvailabilityRule) error
	InsertService(ctx context.Context, svc model.Service) error
	InsertResource(ctx context.Context, res model.Resource) error

	AppendEvent(ctx context.Context, evt outbox.Event) error
}
