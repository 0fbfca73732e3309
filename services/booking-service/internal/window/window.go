// Package window implements the half-open time interval used for every
// booking, rule check and availability query.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidWindow = errors.New("invalid window")

// Window is the half-open interval [Start, End). Values built with New are
// normalised to UTC and always satisfy Start < End.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func New(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start must be before end", ErrInvalidWindow)
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Of builds a window of length d starting at start.
func Of(start time.Time, d time.Duration) (Window, error) {
	return New(start, start.Add(d))
}

// Parse reads an ISO-8601 interval of the form "start/end" with RFC 3339 bounds.
func Parse(raw string) (Window, error) {
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return Window{}, fmt.Errorf("%w: expected start/end", ErrInvalidWindow)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(startRaw))
	if err != nil {
		return Window{}, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(endRaw))
	if err != nil {
		return Window{}, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
	}
	return New(start, end)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}

// Overlaps reports whether a and b share at least one instant.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Contains reports whether t falls inside w. End is exclusive.
func Contains(w Window, t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Covers reports whether inner lies entirely inside outer.
func Covers(outer, inner Window) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// SplitByDay cuts w at local midnights in loc. Each piece keeps its bounds in
// loc so callers can read wall-clock fields directly.
func (w Window) SplitByDay(loc *time.Location) []Window {
	if loc == nil {
		loc = time.UTC
	}
	start := w.Start.In(loc)
	end := w.End.In(loc)

	var parts []Window
	for start.Before(end) {
		y, m, d := start.Date()
		next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		if next.After(end) {
			next = end
		}
		parts = append(parts, Window{Start: start, End: next})
		start = next
	}
	return parts
}
