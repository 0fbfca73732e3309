package model

import (
	"fmt"
	"sort"
	"time"
)

type Kind string

const (
	KindStaff    Kind = "staff"
	KindRoom     Kind = "room"
	KindCombined Kind = "combined"
)

func (k Kind) Valid() bool {
	return k == KindStaff || k == KindRoom || k == KindCombined
}

// Resource is something that can be exclusively booked. A combined resource
// occupies each of its Members whenever it is booked.
type Resource struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Active    bool      `json:"active"`
	Members   []string  `json:"members,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Occupies returns the resource ids a booking of r must hold.
func (r Resource) Occupies() []string {
	return append([]string{r.ID}, r.Members...)
}

func (r Resource) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	if r.Kind == KindCombined && len(r.Members) == 0 {
		return fmt.Errorf("%w: combined resource needs members", ErrInvalidRequest)
	}
	if r.Kind != KindCombined && len(r.Members) > 0 {
		return fmt.Errorf("%w: only combined resources have members", ErrInvalidRequest)
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("%w: timezone: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

type Service struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	RequiredKinds   []Kind    `json:"required_kinds"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s Service) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if s.DurationMinutes <= 0 || s.DurationMinutes > 24*60 {
		return fmt.Errorf("%w: duration_minutes must be in (0, 1440]", ErrInvalidRequest)
	}
	if len(s.RequiredKinds) == 0 {
		return fmt.Errorf("%w: at least one required kind", ErrInvalidRequest)
	}
	for _, k := range s.RequiredKinds {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, k)
		}
	}
	return nil
}

// AvailabilityRule is a weekly working-hours interval in the resource's
// timezone. Minutes count from local midnight. A rule with an EffectiveDate
// replaces the undated rules for its weekday from that date on.
type AvailabilityRule struct {
	ID            string     `json:"id,omitempty"`
	ResourceID    string     `json:"resource_id"`
	Weekday       int        `json:"weekday"`
	StartMinute   int        `json:"start_minute"`
	EndMinute     int        `json:"end_minute"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

func (r AvailabilityRule) effectiveKey() string {
	if r.EffectiveDate == nil {
		return ""
	}
	return r.EffectiveDate.Format(time.DateOnly)
}

// ValidateRules checks bounds and that rules sharing a weekday and effective
// date do not overlap. Touching rules are allowed.
func ValidateRules(rules []AvailabilityRule) error {
	type group struct {
		weekday int
		date    string
	}
	byGroup := make(map[group][]AvailabilityRule)
	for _, r := range rules {
		if r.Weekday < 0 || r.Weekday > 6 {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, r.Weekday)
		}
		if r.StartMinute < 0 || r.EndMinute > 24*60 || r.StartMinute >= r.EndMinute {
			return fmt.Errorf("%w: bad interval %d-%d", ErrInvalidRule, r.StartMinute, r.EndMinute)
		}
		g := group{weekday: r.Weekday, date: r.effectiveKey()}
		byGroup[g] = append(byGroup[g], r)
	}
	for g, list := range byGroup {
		sort.Slice(list, func(i, j int) bool { return list[i].StartMinute < list[j].StartMinute })
		for i := 1; i < len(list); i++ {
			if list[i].StartMinute < list[i-1].EndMinute {
				return fmt.Errorf("%w: overlapping rules on weekday %d", ErrInvalidRule, g.weekday)
			}
		}
	}
	return nil
}

// Snapshot is the persisted state the calendar is rebuilt from.
type Snapshot struct {
	Resources []Resource
	Rules     []AvailabilityRule
	Bookings  []Booking
}
