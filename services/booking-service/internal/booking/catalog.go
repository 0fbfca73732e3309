package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

func (m *Manager) Get(ctx context.Context, id string) (model.Appointment, error) {
	return m.store.GetAppointment(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter model.AppointmentFilter) ([]model.Appointment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidRequest, filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: start_date must be before end_date", model.ErrInvalidRequest)
	}
	return m.store.ListAppointments(ctx, filter)
}

// Upcoming lists confirmed appointments starting within the next days.
func (m *Manager) Upcoming(ctx context.Context, days, limit int) ([]model.Appointment, error) {
	if days <= 0 {
		days = 7
	}
	now := m.now().UTC()
	return m.store.ListAppointments(ctx, model.AppointmentFilter{
		From:   now,
		To:     now.AddDate(0, 0, days),
		Status: model.AppointmentConfirmed,
		Limit:  limit,
	})
}

func (m *Manager) Services(ctx context.Context) ([]model.Service, error) {
	return m.store.ListServices(ctx)
}

func (m *Manager) Resources(ctx context.Context, kind model.Kind) ([]model.Resource, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", model.ErrInvalidRequest, kind)
	}
	return m.catalog.ListResources(ctx, kind)
}

func (m *Manager) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	if svc.ID == "" {
		svc.ID = m.newID()
	}
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Active = true
	svc.CreatedAt = m.now().UTC()
	if err := svc.Validate(); err != nil {
		return model.Service{}, err
	}

	err := m.write(ctx, "insert service", func(tx txWriter) error {
		return tx.InsertService(ctx, svc)
	})
	if err != nil {
		return model.Service{}, err
	}
	m.logger.Info("service created", "service_id", svc.ID, "duration_minutes", svc.DurationMinutes)
	return svc, nil
}

// CreateResource stores a resource. Members of a combined set must already
// exist and cannot themselves be sets.
func (m *Manager) CreateResource(ctx context.Context, res model.Resource) (model.Resource, error) {
	if res.ID == "" {
		res.ID = m.newID()
	}
	if res.Timezone == "" {
		res.Timezone = "UTC"
	}
	res.Name = strings.TrimSpace(res.Name)
	res.Active = true
	res.CreatedAt = m.now().UTC()
	if err := res.Validate(); err != nil {
		return model.Resource{}, err
	}
	for _, id := range res.Members {
		member, err := m.catalog.GetResource(ctx, id)
		if err != nil {
			return model.Resource{}, err
		}
		if member.Kind == model.KindCombined {
			return model.Resource{}, fmt.Errorf("%w: member %s is a combined set", model.ErrInvalidRequest, id)
		}
	}

	err := m.write(ctx, "insert resource", func(tx txWriter) error {
		return tx.InsertResource(ctx, res)
	})
	if err != nil {
		return model.Resource{}, err
	}
	m.cal.SetLocation(res.ID, res.Location())
	m.logger.Info("resource created", "resource_id", res.ID, "kind", res.Kind)
	return res, nil
}

// ReplaceRules swaps the working hours of a resource. Existing bookings are
// left alone even when they fall outside the new hours.
func (m *Manager) ReplaceRules(ctx context.Context, resourceID string, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error) {
	if _, err := m.store.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	out := make([]model.AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			r.ID = m.newID()
		}
		r.ResourceID = resourceID
		if r.EffectiveDate != nil {
			d := time.Date(r.EffectiveDate.Year(), r.EffectiveDate.Month(), r.EffectiveDate.Day(), 0, 0, 0, 0, time.UTC)
			r.EffectiveDate = &d
		}
		out = append(out, r)
	}
	if err := model.ValidateRules(out); err != nil {
		return nil, err
	}

	err := m.write(ctx, "replace rules", func(tx txWriter) error {
		return tx.ReplaceRules(ctx, resourceID, out)
	})
	if err != nil {
		return nil, err
	}
	if err := m.cal.SetRules(resourceID, out); err != nil {
		return nil, err
	}
	m.logger.Info("availability rules replaced", "resource_id", resourceID, "rules", len(out))
	return out, nil
}

type txWriter interface {
	InsertService(ctx context.Context, svc model.Service) error
	InsertResource(ctx context.Context, res model.Resource) error
	ReplaceRules(ctx context.Context, resourceID string, rules []model.AvailabilityRule) error
}

func (m *Manager) write(ctx context.Context, op string, fn func(tx txWriter) error) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return model.Persistence("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidRequest) {
			return err
		}
		return model.Persistence(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Persistence("commit", err)
	}
	if p, ok := m.catalog.(interface{ Purge() }); ok {
		p.Purge()
	}
	return nil
}
