package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestConflictErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("book: %w", NewConflict("staff-1", []Booking{{ID: "b1"}}))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected errors.Is(err, ErrConflict)")
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.ResourceID != "staff-1" || len(ce.BookingIDs) != 1 {
		t.Fatalf("unexpected conflict %+v", ce)
	}
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Persistence("commit", cause)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, cause) {
		t.Fatalf("unexpected chain for %v", err)
	}
	if Persistence("commit", nil) != nil {
		t.Fatal("nil cause should stay nil")
	}
}

func TestValidateRules(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		rules []AvailabilityRule
		ok    bool
	}{
		{"split shift", []AvailabilityRule{{Weekday: 1, StartMinute: 540, EndMinute: 720}, {Weekday: 1, StartMinute: 780, EndMinute: 1020}}, true},
		{"adjacent", []AvailabilityRule{{Weekday: 1, StartMinute: 540, EndMinute: 720}, {Weekday: 1, StartMinute: 720, EndMinute: 1020}}, true},
		{"overlap", []AvailabilityRule{{Weekday: 1, StartMinute: 540, EndMinute: 730}, {Weekday: 1, StartMinute: 720, EndMinute: 1020}}, false},
		{"overlap other date", []AvailabilityRule{{Weekday: 1, StartMinute: 540, EndMinute: 730}, {Weekday: 1, StartMinute: 720, EndMinute: 1020, EffectiveDate: &day}}, true},
		{"bad weekday", []AvailabilityRule{{Weekday: 7, StartMinute: 0, EndMinute: 60}}, false},
		{"inverted", []AvailabilityRule{{Weekday: 2, StartMinute: 60, EndMinute: 60}}, false},
		{"past midnight", []AvailabilityRule{{Weekday: 2, StartMinute: 60, EndMinute: 1441}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRules(tc.rules)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestResourceValidate(t *testing.T) {
	if err := (Resource{Name: "Suite", Kind: KindCombined}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("combined without members should fail, got %v", err)
	}
	if err := (Resource{Name: "Ana", Kind: KindStaff, Timezone: "Mars/Olympus"}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad timezone should fail, got %v", err)
	}
	r := Resource{ID: "set", Name: "Suite", Kind: KindCombined, Members: []string{"r1", "e1"}}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := r.Occupies(); len(got) != 3 || got[0] != "set" {
		t.Fatalf("unexpected occupancy %v", got)
	}
}
