package availability

import (
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

// AvailableSlots steps through span and returns every window of length
// duration that fits reports as bookable. Windows must end inside span and
// windows starting before now are skipped.
func AvailableSlots(span window.Window, duration, step time.Duration, now time.Time, fits func(window.Window) bool) []window.Window {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !span.End.After(span.Start) {
		return nil
	}

	var slots []window.Window
	for t := span.Start; !t.Add(duration).After(span.End); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		w := window.Window{Start: t.UTC(), End: t.Add(duration).UTC()}
		if fits(w) {
			slots = append(slots, w)
		}
	}
	return slots
}
