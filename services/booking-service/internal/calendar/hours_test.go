package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

func rule(weekday, from, to int) model.AvailabilityRule {
	return model.AvailabilityRule{ResourceID: "s1", Weekday: weekday, StartMinute: from, EndMinute: to}
}

func TestCheckHours(t *testing.T) {
	cal := New()
	if err := cal.SetRules("s1", []model.AvailabilityRule{
		rule(1, 9*60, 12*60),
		rule(1, 12*60, 17*60),
		rule(2, 9*60, 12*60),
		rule(2, 13*60, 17*60),
	}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	tue := func(h, m int) time.Time { return mon(h, m).AddDate(0, 0, 1) }
	cases := []struct {
		name       string
		start, end time.Time
		ok         bool
	}{
		{"inside", mon(10, 0), mon(10, 30), true},
		{"across adjacent rules", mon(11, 30), mon(12, 30), true},
		{"ends at close", mon(16, 30), mon(17, 0), true},
		{"after close", mon(17, 0), mon(17, 30), false},
		{"straddles close", mon(16, 45), mon(17, 15), false},
		{"before open", mon(8, 30), mon(9, 0), false},
		{"lunch gap", tue(11, 30), tue(12, 30), false},
		{"afternoon shift", tue(13, 0), tue(14, 0), true},
		{"day off", mon(10, 0).AddDate(0, 0, 2), mon(10, 30).AddDate(0, 0, 2), false},
		{"overnight", mon(16, 0), tue(10, 0), false},
		{"half a second past close", mon(16, 0).Add(500 * time.Millisecond), mon(17, 0).Add(500 * time.Millisecond), false},
		{"fractional bounds inside", mon(10, 0).Add(250 * time.Millisecond), mon(10, 30).Add(250 * time.Millisecond), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cal.CheckHours("s1", win(t, tc.start, tc.end))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tc.ok && !errors.Is(err, model.ErrOutsideWorkingHours) {
				t.Fatalf("expected ErrOutsideWorkingHours, got %v", err)
			}
		})
	}

	if err := cal.CheckHours("room", win(t, mon(2, 0), mon(3, 0))); err != nil {
		t.Fatalf("resources without rules are unconstrained: %v", err)
	}
}

func TestCheckHoursUsesResourceTimezone(t *testing.T) {
	cal := New()
	loc := time.FixedZone("UTC+3", 3*60*60)
	cal.SetLocation("s1", loc)
	if err := cal.SetRules("s1", []model.AvailabilityRule{rule(1, 9*60, 17*60)}); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	// 06:00 UTC is 09:00 local.
	if err := cal.CheckHours("s1", win(t, mon(6, 0), mon(6, 30))); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := cal.CheckHours("s1", win(t, mon(14, 30), mon(15, 0))); !errors.Is(err, model.ErrOutsideWorkingHours) {
		t.Fatalf("17:30 local is after close, got %v", err)
	}
}

func TestCheckHoursEffectiveDate(t *testing.T) {
	from := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	cal := New()
	late := rule(1, 12*60, 20*60)
	late.EffectiveDate = &from
	if err := cal.SetRules("s1", []model.AvailabilityRule{rule(1, 9*60, 17*60), late}); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	if err := cal.CheckHours("s1", win(t, mon(9, 0), mon(10, 0))); err != nil {
		t.Fatalf("baseline applies before the effective date: %v", err)
	}
	next := func(h int) time.Time { return mon(h, 0).AddDate(0, 0, 7) }
	if err := cal.CheckHours("s1", win(t, next(9), next(10))); !errors.Is(err, model.ErrOutsideWorkingHours) {
		t.Fatalf("new schedule should replace the baseline, got %v", err)
	}
	if err := cal.CheckHours("s1", win(t, next(18), next(19))); err != nil {
		t.Fatalf("new schedule should allow evenings: %v", err)
	}
}

func TestSetRulesValidates(t *testing.T) {
	cal := New()
	err := cal.SetRules("s1", []model.AvailabilityRule{rule(1, 9*60, 13*60), rule(1, 12*60, 17*60)})
	if !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if len(cal.Rules("s1")) != 0 {
		t.Fatal("invalid rules must not be stored")
	}
}

func TestInsertChecksHours(t *testing.T) {
	cal := New()
	if err := cal.SetRules("s1", []model.AvailabilityRule{rule(1, 9*60, 17*60)}); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	err := cal.Insert("s1", booking("late", win(t, mon(17, 0), mon(17, 30)), "s1"))
	if !errors.Is(err, model.ErrOutsideWorkingHours) {
		t.Fatalf("expected ErrOutsideWorkingHours, got %v", err)
	}
	if err := cal.Check([]string{"room", "s1"}, win(t, mon(17, 0), mon(17, 30))); !errors.Is(err, model.ErrOutsideWorkingHours) {
		t.Fatalf("Check should report hours first, got %v", err)
	}
}
