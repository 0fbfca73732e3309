package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/backoffice/libs/httpx"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

type BookingHandler struct {
	mgr    *booking.Manager
	logger *slog.Logger
}

func NewBookingHandler(mgr *booking.Manager, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{mgr: mgr, logger: logger}
}

// Register mounts every route on mux. admin guards catalog writes; nil leaves
// them open.
func (h *BookingHandler) Register(mux *http.ServeMux, admin httpx.Middleware) {
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}
	mux.HandleFunc("POST /appointments", h.Create)
	mux.HandleFunc("GET /appointments", h.List)
	mux.HandleFunc("GET /appointments/upcoming", h.Upcoming)
	mux.HandleFunc("GET /appointments/{id}", h.Get)
	mux.HandleFunc("DELETE /appointments/{id}", h.Cancel)

	mux.HandleFunc("GET /availability", h.Availability)
	mux.HandleFunc("GET /availability/slots", h.Slots)

	mux.HandleFunc("GET /services", h.ListServices)
	mux.Handle("POST /services", admin(http.HandlerFunc(h.CreateService)))
	mux.HandleFunc("GET /resources", h.ListResources)
	mux.Handle("POST /resources", admin(http.HandlerFunc(h.CreateResource)))
	mux.Handle("PUT /resources/{id}/rules", admin(http.HandlerFunc(h.ReplaceRules)))
}

type windowBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type createAppointmentRequest struct {
	ServiceID        string          `json:"service_id"`
	Window           windowBody      `json:"window"`
	PreferredStaffID string          `json:"preferred_staff_id"`
	PreferredRoomID  string          `json:"preferred_room_id"`
	CustomerName     string          `json:"customer_name"`
	Notes            string          `json:"notes"`
	Recurrence       json.RawMessage `json:"recurrence,omitempty"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if len(req.Recurrence) > 0 && string(req.Recurrence) != "null" {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "unsupported_recurrence", "recurring appointments are not supported")
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		badRequest(w, "service_id is required")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Window.Start))
	if err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_window", "window.start must be RFC3339")
		return
	}
	var end time.Time
	if raw := strings.TrimSpace(req.Window.End); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_window", "window.end must be RFC3339")
			return
		}
	}

	appt, err := h.mgr.Book(r.Context(), booking.BookRequest{
		ServiceID:        req.ServiceID,
		Start:            start,
		End:              end,
		PreferredStaffID: strings.TrimSpace(req.PreferredStaffID),
		PreferredRoomID:  strings.TrimSpace(req.PreferredRoomID),
		CustomerName:     strings.TrimSpace(req.CustomerName),
		Notes:            strings.TrimSpace(req.Notes),
		IdempotencyKey:   strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelAppointmentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json body")
			return
		}
	}
	appt, err := h.mgr.Cancel(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.mgr.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.AppointmentFilter
	var err error
	if filter.From, err = parseDate(q.Get("start_date")); err != nil {
		badRequest(w, "invalid start_date")
		return
	}
	if filter.To, err = parseDate(q.Get("end_date")); err != nil {
		badRequest(w, "invalid end_date")
		return
	}
	filter.Status = model.AppointmentStatus(strings.TrimSpace(q.Get("status")))
	if filter.Limit, err = parseLimit(q.Get("limit"), 100); err != nil {
		badRequest(w, "invalid limit")
		return
	}

	items, err := h.mgr.List(r.Context(), filter)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, items)
}

func (h *BookingHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			badRequest(w, "days must be between 1 and 365")
			return
		}
		days = n
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100)
	if err != nil {
		badRequest(w, "invalid limit")
		return
	}
	items, err := h.mgr.Upcoming(r.Context(), days, limit)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, items)
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// parseDate accepts YYYY-MM-DD or RFC3339; an empty value is the zero time.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseLimit(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
