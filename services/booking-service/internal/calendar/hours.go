package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

const secondsPerDay = 24 * 60 * 60

// SetRules replaces the working-hours rules of resourceID.
func (c *Calendar) SetRules(resourceID string, rules []model.AvailabilityRule) error {
	if err := model.ValidateRules(rules); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(rules) == 0 {
		delete(c.rules, resourceID)
		return nil
	}
	c.rules[resourceID] = append([]model.AvailabilityRule(nil), rules...)
	return nil
}

// SetLocation sets the timezone rules of resourceID are evaluated in.
func (c *Calendar) SetLocation(resourceID string, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[resourceID] = loc
}

func (c *Calendar) Rules(resourceID string) []model.AvailabilityRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.AvailabilityRule(nil), c.rules[resourceID]...)
}

// CheckHours fails with ErrOutsideWorkingHours unless every local day w
// touches is covered by that day's merged rule intervals. Resources without
// rules are always open.
func (c *Calendar) CheckHours(resourceID string, w window.Window) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkHours(resourceID, w)
}

func (c *Calendar) checkHours(resourceID string, w window.Window) error {
	rules := c.rules[resourceID]
	if len(rules) == 0 {
		return nil
	}
	loc := c.zones[resourceID]
	if loc == nil {
		loc = time.UTC
	}
	for _, part := range w.SplitByDay(loc) {
		from, to := dayOffsets(part, loc)
		if !covered(applicable(rules, part.Start), from, to) {
			return fmt.Errorf("%w: resource %s on %s", model.ErrOutsideWorkingHours, resourceID, part.Start.Format(time.DateOnly))
		}
	}
	return nil
}

// dayOffsets returns the wall-clock seconds since local midnight for both
// bounds of a single-day part. The start rounds down and the end rounds up,
// so a sub-second overhang never fits inside a rule. A part ending at the
// next midnight ends at secondsPerDay.
func dayOffsets(part window.Window, loc *time.Location) (int, int) {
	y, m, d := part.Start.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	from := clockSeconds(part.Start)
	to := secondsPerDay
	if part.End.Before(next) {
		to = clockSeconds(part.End)
		if part.End.Nanosecond() > 0 {
			to++
		}
	}
	return from, to
}

func clockSeconds(t time.Time) int {
	h, m, s := t.Clock()
	return h*3600 + m*60 + s
}

// applicable picks the rules for day's weekday with the latest effective date
// not after day. Undated rules apply when no dated rule has taken effect.
func applicable(rules []model.AvailabilityRule, day time.Time) []model.AvailabilityRule {
	weekday := int(day.Weekday())
	date := day.Format(time.DateOnly)

	best := ""
	for _, r := range rules {
		if r.Weekday != weekday || r.EffectiveDate == nil {
			continue
		}
		if key := r.EffectiveDate.Format(time.DateOnly); key <= date && key > best {
			best = key
		}
	}

	var out []model.AvailabilityRule
	for _, r := range rules {
		if r.Weekday != weekday {
			continue
		}
		key := ""
		if r.EffectiveDate != nil {
			key = r.EffectiveDate.Format(time.DateOnly)
		}
		if key == best {
			out = append(out, r)
		}
	}
	return out
}

// covered merges touching intervals and reports whether one of them holds
// [from, to).
func covered(rules []model.AvailabilityRule, from, to int) bool {
	if len(rules) == 0 {
		return false
	}
	sorted := append([]model.AvailabilityRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinute < sorted[j].StartMinute })

	start, end := sorted[0].StartMinute*60, sorted[0].EndMinute*60
	for _, r := range sorted[1:] {
		if r.StartMinute*60 <= end {
			if r.EndMinute*60 > end {
				end = r.EndMinute * 60
			}
			continue
		}
		if start <= from && to <= end {
			return true
		}
		start, end = r.StartMinute*60, r.EndMinute*60
	}
	return start <= from && to <= end
}
