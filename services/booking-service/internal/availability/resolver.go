// Package availability answers whether a service can be booked in a window
// and with which resources. Answers are advisory; the booking manager
// re-validates under locks.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

// Checker reports why w cannot be booked on ids, or nil.
type Checker interface {
	Check(ids []string, w window.Window) error
}

type Request struct {
	ServiceID        string
	Window           window.Window
	PreferredStaffID string
	PreferredRoomID  string
}

// Combination fills each required kind of a service with one resource, in
// the order of Service.RequiredKinds.
type Combination struct {
	ServiceID string           `json:"service_id"`
	Window    window.Window    `json:"window"`
	Resources []model.Resource `json:"resources"`
}

// Occupied lists every resource id the combination holds, combined sets
// expanded.
func (c Combination) Occupied() []string {
	var ids []string
	for _, r := range c.Resources {
		ids = append(ids, r.Occupies()...)
	}
	return ids
}

type Resolver struct {
	catalog storage.Catalog
	cal     Checker
	now     func() time.Time
}

func NewResolver(catalog storage.Catalog, cal Checker) *Resolver {
	return &Resolver{catalog: catalog, cal: cal, now: time.Now}
}

// Resolve returns the first viable combination in priority order. When only
// one combination was possible its own failure is returned; otherwise
// failure is model.ErrNoAvailability.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Combination, error) {
	p, err := r.plan(ctx, req)
	if err != nil {
		return Combination{}, err
	}
	if err := p.fitsDuration(req.Window); err != nil {
		return Combination{}, err
	}
	found, err := r.evaluate(p, req.Window, 1)
	if err != nil {
		return Combination{}, err
	}
	return found[0], nil
}

// Viable lists up to limit viable combinations. An empty result is not an
// error.
func (r *Resolver) Viable(ctx context.Context, req Request, limit int) ([]Combination, error) {
	if limit <= 0 {
		limit = 10
	}
	p, err := r.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := p.fitsDuration(req.Window); err != nil {
		return nil, err
	}
	found, err := r.evaluate(p, req.Window, limit)
	if err != nil && !isUnavailable(err) {
		return nil, err
	}
	return found, nil
}

type SlotQuery struct {
	ServiceID        string
	Span             window.Window
	Step             time.Duration
	PreferredStaffID string
	PreferredRoomID  string
}

// Slots lists the bookable windows for a service inside q.Span, each with
// the combination that would be chosen.
func (r *Resolver) Slots(ctx context.Context, q SlotQuery) ([]Combination, error) {
	if q.Span.IsZero() || !q.Span.Start.Before(q.Span.End) {
		return nil, fmt.Errorf("%w: empty span", model.ErrInvalidWindow)
	}
	p, err := r.plan(ctx, Request{
		ServiceID:        q.ServiceID,
		PreferredStaffID: q.PreferredStaffID,
		PreferredRoomID:  q.PreferredRoomID,
	})
	if err != nil {
		return nil, err
	}
	step := q.Step
	if step <= 0 {
		step = 15 * time.Minute
	}

	var out []Combination
	AvailableSlots(q.Span, p.svc.Duration(), step, r.now(), func(w window.Window) bool {
		found, err := r.evaluate(p, w, 1)
		if err != nil {
			return false
		}
		out = append(out, found[0])
		return true
	})
	return out, nil
}

type plan struct {
	svc   model.Service
	cands [][]model.Resource
}

func (p plan) fitsDuration(w window.Window) error {
	if w.IsZero() || !w.Start.Before(w.End) {
		return fmt.Errorf("%w: empty window", model.ErrInvalidWindow)
	}
	if w.Duration() != p.svc.Duration() {
		return fmt.Errorf("%w: service %s lasts %s, window lasts %s", model.ErrInvalidWindow, p.svc.ID, p.svc.Duration(), w.Duration())
	}
	return nil
}

func (r *Resolver) plan(ctx context.Context, req Request) (plan, error) {
	svc, err := r.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return plan{}, err
	}
	if !svc.Active {
		return plan{}, fmt.Errorf("service %s is inactive: %w", svc.ID, model.ErrNotFound)
	}

	byKind := make(map[model.Kind][]model.Resource)
	p := plan{svc: svc}
	for _, kind := range svc.RequiredKinds {
		list, ok := byKind[kind]
		if !ok {
			all, err := r.catalog.ListResources(ctx, kind)
			if err != nil {
				return plan{}, err
			}
			for _, res := range all {
				if res.Active {
					list = append(list, res)
				}
			}
			sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
			byKind[kind] = list
		}
		p.cands = append(p.cands, prefer(list, preferredFor(kind, req)))
	}
	return p, nil
}

func preferredFor(kind model.Kind, req Request) string {
	switch kind {
	case model.KindStaff:
		return req.PreferredStaffID
	case model.KindRoom:
		return req.PreferredRoomID
	}
	return ""
}

// prefer moves id to the front of list. Unknown ids leave the order alone.
func prefer(list []model.Resource, id string) []model.Resource {
	if id == "" {
		return list
	}
	for i, res := range list {
		if res.ID != id {
			continue
		}
		out := make([]model.Resource, 0, len(list))
		out = append(out, res)
		out = append(out, list[:i]...)
		return append(out, list[i+1:]...)
	}
	return list
}

// evaluate walks combinations in priority order and collects up to limit
// viable ones. Resources sharing an occupied id never appear together.
func (r *Resolver) evaluate(p plan, w window.Window, limit int) ([]Combination, error) {
	verdicts := make(map[string]error)
	verdict := func(res model.Resource) error {
		v, ok := verdicts[res.ID]
		if !ok {
			v = r.cal.Check(res.Occupies(), w)
			verdicts[res.ID] = v
		}
		return v
	}

	var (
		found    []Combination
		possible int
		only     []model.Resource
		picked   []model.Resource
		used     = make(map[string]int)
	)
	var walk func(depth int) bool
	walk = func(depth int) bool {
		if depth == len(p.cands) {
			possible++
			if possible == 1 {
				only = append([]model.Resource(nil), picked...)
			}
			for _, res := range picked {
				if verdict(res) != nil {
					return false
				}
			}
			found = append(found, Combination{
				ServiceID: p.svc.ID,
				Window:    w,
				Resources: append([]model.Resource(nil), picked...),
			})
			return len(found) >= limit
		}
		for _, res := range p.cands[depth] {
			if clashes(used, res) {
				continue
			}
			// Once two combinations exist the single-combination verdict is
			// no longer needed, so failing branches can be cut.
			if possible >= 2 && verdict(res) != nil {
				continue
			}
			for _, id := range res.Occupies() {
				used[id]++
			}
			picked = append(picked, res)
			stop := walk(depth + 1)
			picked = picked[:len(picked)-1]
			for _, id := range res.Occupies() {
				used[id]--
			}
			if stop {
				return true
			}
		}
		return false
	}
	walk(0)

	if len(found) > 0 {
		return found, nil
	}
	if possible == 1 {
		for _, res := range only {
			if err := verdict(res); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: service %s in %s", model.ErrNoAvailability, p.svc.ID, w)
}

func clashes(used map[string]int, res model.Resource) bool {
	for _, id := range res.Occupies() {
		if used[id] > 0 {
			return true
		}
	}
	return false
}

func isUnavailable(err error) bool {
	return errors.Is(err, model.ErrNoAvailability) || errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrOutsideWorkingHours)
}
