package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

// Availability lists viable resource combinations for one window.
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if serviceID == "" {
		badRequest(w, "service_id is required")
		return
	}
	win, err := window.Parse(q.Get("window"))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"), 10)
	if err != nil {
		badRequest(w, "invalid limit")
		return
	}

	combos, err := h.mgr.Resolver().Viable(r.Context(), availability.Request{
		ServiceID:        serviceID,
		Window:           win,
		PreferredStaffID: strings.TrimSpace(q.Get("preferred_staff_id")),
		PreferredRoomID:  strings.TrimSpace(q.Get("preferred_room_id")),
	}, limit)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, combos)
}

// Slots lists bookable start times for a service on one local day.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if serviceID == "" {
		badRequest(w, "service_id is required")
		return
	}
	loc := time.UTC
	if tz := strings.TrimSpace(q.Get("tz")); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			badRequest(w, "invalid tz")
			return
		}
		loc = l
	}
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(q.Get("date")), loc)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	step := 15 * time.Minute
	if raw := strings.TrimSpace(q.Get("step_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 5 || n > 240 {
			badRequest(w, "step_minutes must be between 5 and 240")
			return
		}
		step = time.Duration(n) * time.Minute
	}
	span, err := window.New(day, day.AddDate(0, 0, 1))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	combos, err := h.mgr.Resolver().Slots(r.Context(), availability.SlotQuery{
		ServiceID:        serviceID,
		Span:             span,
		Step:             step,
		PreferredStaffID: strings.TrimSpace(q.Get("preferred_staff_id")),
		PreferredRoomID:  strings.TrimSpace(q.Get("preferred_room_id")),
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, combos)
}
