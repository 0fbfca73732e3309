// Package calendar keeps the live overlap index for every resource.
//
// Each resource holds its active bookings sorted by start. Active windows on
// one resource never overlap, so ends are sorted as well and a conflict query
// is a binary search followed by a scan over the k overlapping entries.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

// Source provides persisted state. With no ids it returns everything;
// otherwise only the listed resources, their rules and bookings touching them.
type Source interface {
	Snapshot(ctx context.Context, resourceIDs ...string) (model.Snapshot, error)
}

type Calendar struct {
	mu    sync.RWMutex
	index map[string][]model.Booking
	byID  map[string]model.Booking
	rules map[string][]model.AvailabilityRule
	zones map[string]*time.Location
}

type Stats struct {
	Resources int
	Bookings  int
}

func New() *Calendar {
	return &Calendar{
		index: make(map[string][]model.Booking),
		byID:  make(map[string]model.Booking),
		rules: make(map[string][]model.AvailabilityRule),
		zones: make(map[string]*time.Location),
	}
}

// Conflicts returns the active bookings on resourceID overlapping w.
func (c *Calendar) Conflicts(resourceID string, w window.Window) []model.Booking {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conflicts(resourceID, w)
}

// Check reports the first reason w cannot be booked on any of ids: working
// hours first, then conflicts.
func (c *Calendar) Check(ids []string, w window.Window) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range ids {
		if err := c.checkHours(id, w); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if found := c.conflicts(id, w); len(found) > 0 {
			return model.NewConflict(id, found)
		}
	}
	return nil
}

// Insert adds b to resourceID after checking working hours and conflicts.
func (c *Calendar) Insert(resourceID string, b model.Booking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkHours(resourceID, b.Window); err != nil {
		return err
	}
	if found := c.conflicts(resourceID, b.Window); len(found) > 0 {
		return model.NewConflict(resourceID, found)
	}
	c.insert(resourceID, b)
	return nil
}

// Reserve inserts every booking on every resource it names, or nothing.
func (c *Calendar) Reserve(bookings []model.Booking) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make(map[string][]window.Window)
	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		for _, id := range b.ResourceIDs {
			if err := c.checkHours(id, b.Window); err != nil {
				return err
			}
			if found := c.conflicts(id, b.Window); len(found) > 0 {
				return model.NewConflict(id, found)
			}
			for _, other := range pending[id] {
				if window.Overlaps(other, b.Window) {
					return &model.ConflictError{ResourceID: id}
				}
			}
			pending[id] = append(pending[id], b.Window)
		}
	}
	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		for _, id := range b.ResourceIDs {
			c.insert(id, b)
		}
	}
	return nil
}

// Remove drops bookingID from resourceID. Unknown ids are ignored.
func (c *Calendar) Remove(resourceID, bookingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(resourceID, bookingID)
}

// Release removes each booking from all of its resources.
func (c *Calendar) Release(bookings []model.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range bookings {
		for _, id := range b.ResourceIDs {
			c.remove(id, b.ID)
		}
	}
}

func (c *Calendar) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Resources: len(c.index), Bookings: len(c.byID)}
}

// Load replaces the whole index with the persisted state. Bookings that
// overlap one already indexed are skipped and reported.
func (c *Calendar) Load(ctx context.Context, src Source) error {
	snap, err := src.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("calendar load: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string][]model.Booking)
	c.byID = make(map[string]model.Booking)
	c.rules = make(map[string][]model.AvailabilityRule)
	c.zones = make(map[string]*time.Location)
	return c.apply(snap, nil)
}

// Resync reloads the listed resources from src, leaving the rest untouched.
func (c *Calendar) Resync(ctx context.Context, src Source, resourceIDs ...string) error {
	if len(resourceIDs) == 0 {
		return nil
	}
	snap, err := src.Snapshot(ctx, resourceIDs...)
	if err != nil {
		return fmt.Errorf("calendar resync: %w", err)
	}
	only := make(map[string]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		only[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range only {
		stale := c.index[id]
		delete(c.index, id)
		for _, b := range stale {
			c.forget(b.ID)
		}
		delete(c.rules, id)
		delete(c.zones, id)
	}
	return c.apply(snap, only)
}

func (c *Calendar) apply(snap model.Snapshot, only map[string]bool) error {
	keep := func(id string) bool { return only == nil || only[id] }

	for _, r := range snap.Resources {
		if keep(r.ID) {
			c.zones[r.ID] = r.Location()
		}
	}
	byResource := make(map[string][]model.AvailabilityRule)
	for _, rule := range snap.Rules {
		if keep(rule.ResourceID) {
			byResource[rule.ResourceID] = append(byResource[rule.ResourceID], rule)
		}
	}
	for id, rules := range byResource {
		c.rules[id] = rules
	}

	bookings := append([]model.Booking(nil), snap.Bookings...)
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].Window.Start.Before(bookings[j].Window.Start)
	})
	var errs []error
	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		for _, id := range b.ResourceIDs {
			if !keep(id) {
				continue
			}
			if found := c.conflicts(id, b.Window); len(found) > 0 {
				errs = append(errs, fmt.Errorf("booking %s skipped: %w", b.ID, model.NewConflict(id, found)))
				continue
			}
			c.insert(id, b)
		}
	}
	return errors.Join(errs...)
}

func (c *Calendar) conflicts(resourceID string, w window.Window) []model.Booking {
	list := c.index[resourceID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Window.End.After(w.Start)
	})
	var out []model.Booking
	for ; i < len(list) && list[i].Window.Start.Before(w.End); i++ {
		out = append(out, list[i])
	}
	return out
}

func (c *Calendar) insert(resourceID string, b model.Booking) {
	list := c.index[resourceID]
	pos := sort.Search(len(list), func(i int) bool {
		return list[i].Window.Start.After(b.Window.Start)
	})
	list = append(list, model.Booking{})
	copy(list[pos+1:], list[pos:])
	list[pos] = b
	c.index[resourceID] = list
	c.byID[b.ID] = b
}

func (c *Calendar) remove(resourceID, bookingID string) {
	list := c.index[resourceID]
	pos := c.position(list, bookingID)
	if pos < 0 {
		return
	}
	list = append(list[:pos], list[pos+1:]...)
	if len(list) == 0 {
		delete(c.index, resourceID)
	} else {
		c.index[resourceID] = list
	}
	c.forget(bookingID)
}

// forget drops the id lookup once no resource indexes the booking.
func (c *Calendar) forget(bookingID string) {
	b, ok := c.byID[bookingID]
	if !ok {
		return
	}
	for _, id := range b.ResourceIDs {
		if c.position(c.index[id], bookingID) >= 0 {
			return
		}
	}
	delete(c.byID, bookingID)
}

func (c *Calendar) position(list []model.Booking, bookingID string) int {
	b, ok := c.byID[bookingID]
	if !ok {
		for i := range list {
			if list[i].ID == bookingID {
				return i
			}
		}
		return -1
	}
	i := sort.Search(len(list), func(i int) bool {
		return !list[i].Window.Start.Before(b.Window.Start)
	})
	for ; i < len(list) && list[i].Window.Start.Equal(b.Window.Start); i++ {
		if list[i].ID == bookingID {
			return i
		}
	}
	return -1
}
