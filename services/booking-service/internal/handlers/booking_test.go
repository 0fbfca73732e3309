package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/md-rashed-zaman/backoffice/libs/httpx"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage/memory"
)

// 2030-03-04 is a Monday.
const day = "2030-03-04"

func newServer(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := booking.NewManager(memory.New(), calendar.New(), logger, booking.Config{})
	ctx := context.Background()
	for _, r := range []model.Resource{
		{ID: "s1", Kind: model.KindStaff, Name: "Ana"},
		{ID: "r1", Kind: model.KindRoom, Name: "Blue"},
	} {
		if _, err := mgr.CreateResource(ctx, r); err != nil {
			t.Fatalf("resource: %v", err)
		}
	}
	if _, err := mgr.ReplaceRules(ctx, "s1", []model.AvailabilityRule{{Weekday: 1, StartMinute: 9 * 60, EndMinute: 17 * 60}}); err != nil {
		t.Fatalf("rules: %v", err)
	}
	svc := model.Service{ID: "svc", Name: "Treatment", DurationMinutes: 60, RequiredKinds: []model.Kind{model.KindStaff, model.KindRoom}}
	if _, err := mgr.CreateService(ctx, svc); err != nil {
		t.Fatalf("service: %v", err)
	}

	mux := http.NewServeMux()
	NewBookingHandler(mgr, logger).Register(mux, httpx.RequireRole("owner", "admin"))
	return mux
}

func do(t *testing.T, h http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func book(start string) map[string]any {
	return map[string]any{"service_id": "svc", "window": map[string]string{"start": start}}
}

func TestCreateAppointmentStatuses(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/appointments", book(day+"T10:00:00Z"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var appt model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if appt.Status != model.AppointmentConfirmed || len(appt.Bookings) != 2 {
		t.Fatalf("unexpected appointment: %+v", appt)
	}

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"overlap", book(day + "T10:30:00Z"), http.StatusConflict, "conflict"},
		{"after hours", book(day + "T16:30:00Z"), http.StatusUnprocessableEntity, "outside_working_hours"},
		{"bad start", book("tomorrow"), http.StatusUnprocessableEntity, "invalid_window"},
		{"unknown service", map[string]any{"service_id": "nope", "window": map[string]string{"start": day + "T12:00:00Z"}}, http.StatusNotFound, "not_found"},
		{"recurrence", map[string]any{"service_id": "svc", "window": map[string]string{"start": day + "T12:00:00Z"}, "recurrence": "weekly"}, http.StatusUnprocessableEntity, "unsupported_recurrence"},
		{"wrong length", map[string]any{"service_id": "svc", "window": map[string]string{"start": day + "T12:00:00Z", "end": day + "T12:30:00Z"}}, http.StatusUnprocessableEntity, "invalid_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/appointments", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := errorCode(t, rec).Error; got != tt.code {
				t.Fatalf("expected error %q, got %q", tt.code, got)
			}
		})
	}

	rec = do(t, h, http.MethodPost, "/appointments", book(day+"T10:30:00Z"))
	if body := errorCode(t, rec); body.ResourceID == "" {
		t.Fatalf("conflict should name the resource: %+v", body)
	}
}

func TestCancelAndGet(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/appointments", book(day+"T10:00:00Z"))
	var appt model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodDelete, "/appointments/"+appt.ID, map[string]string{"reason": "sick"})
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel #%d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec = do(t, h, http.MethodGet, "/appointments/"+appt.ID, nil)
	var got model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != model.AppointmentCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	if rec := do(t, h, http.MethodDelete, "/appointments/unknown", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/appointments", book(day+"T10:00:00Z")); rec.Code != http.StatusCreated {
		t.Fatalf("rebook: expected 201, got %d", rec.Code)
	}
}

func TestIdempotencyKeyHeader(t *testing.T) {
	h := newServer(t)

	first := do(t, h, http.MethodPost, "/appointments", book(day+"T11:00:00Z"), "Idempotency-Key", "abc")
	second := do(t, h, http.MethodPost, "/appointments", book(day+"T11:00:00Z"), "Idempotency-Key", "abc")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	var a, b model.Appointment
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("replay returned a different appointment: %s vs %s", a.ID, b.ID)
	}
}

func TestListAppointments(t *testing.T) {
	h := newServer(t)
	for _, start := range []string{"T09:00:00Z", "T13:00:00Z"} {
		if rec := do(t, h, http.MethodPost, "/appointments", book(day+start)); rec.Code != http.StatusCreated {
			t.Fatalf("book: %d", rec.Code)
		}
	}

	rec := do(t, h, http.MethodGet, "/appointments?start_date="+day+"&end_date=2030-03-05&status=confirmed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || !items[0].Window.Start.Before(items[1].Window.Start) {
		t.Fatalf("unexpected list: %+v", items)
	}

	if rec := do(t, h, http.MethodGet, "/appointments?status=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestAvailabilityEndpoints(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodGet, "/availability?service_id=svc&window="+day+"T10:00:00Z/"+day+"T11:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var combos []availability.Combination
	if err := json.Unmarshal(rec.Body.Bytes(), &combos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(combos) != 1 {
		t.Fatalf("expected one combination, got %d", len(combos))
	}

	rec = do(t, h, http.MethodGet, "/availability?service_id=svc&window="+day+"T20:00:00Z/"+day+"T21:00:00Z", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]" {
		t.Fatalf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/availability/slots?service_id=svc&date="+day+"&step_minutes=60", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	combos = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &combos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 09:00 through 16:00 starts.
	if len(combos) != 8 {
		t.Fatalf("expected 8 hourly slots, got %d", len(combos))
	}
}

func TestCatalogWritesRequireRole(t *testing.T) {
	h := newServer(t)
	body := map[string]any{"name": "Yellow", "kind": "room"}

	if rec := do(t, h, http.MethodPost, "/resources", body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without role, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/resources", body, "X-Role", "admin")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res model.Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rules := map[string]any{"rules": []map[string]any{
		{"weekday": 2, "start_minute": 600, "end_minute": 720},
		{"weekday": 2, "start_minute": 700, "end_minute": 800},
	}}
	rec = do(t, h, http.MethodPut, "/resources/"+res.ID+"/rules", rules, "X-Role", "owner")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for overlapping rules, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/resources?kind=room", nil)
	var rooms []model.Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}

func TestCancelledRequestIsNotAServerError(t *testing.T) {
	h := newServer(t)
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(book(day + "T10:00:00Z")); err != nil {
		t.Fatalf("encode: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/appointments", &buf).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != statusClientClosedRequest {
		t.Fatalf("expected %d, got %d: %s", statusClientClosedRequest, rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected no body, got %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/appointments", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]" {
		t.Fatalf("cancelled request must not store anything, got %d %s", rec.Code, rec.Body.String())
	}
}
