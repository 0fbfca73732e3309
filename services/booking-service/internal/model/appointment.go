package model

import (
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentPending, AppointmentConfirmed, AppointmentCancelled, AppointmentCompleted:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingTentative BookingStatus = "tentative"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking occupies every id in ResourceIDs for Window. SetID names the
// combined set that produced it, if any; the set id is then also the first
// entry of ResourceIDs.
type Booking struct {
	ID            string        `json:"id"`
	AppointmentID string        `json:"appointment_id"`
	ResourceIDs   []string      `json:"resource_ids"`
	SetID         string        `json:"set_id,omitempty"`
	Window        window.Window `json:"window"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (b Booking) Active() bool {
	return b.Status != BookingCancelled
}

type Appointment struct {
	ID             string            `json:"id"`
	ServiceID      string            `json:"service_id"`
	Window         window.Window     `json:"window"`
	Bookings       []Booking         `json:"bookings"`
	Status         AppointmentStatus `json:"status"`
	CustomerName   string            `json:"customer_name,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	IdempotencyKey string            `json:"-"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
}

// ResourceIDs lists every resource the appointment occupies.
func (a Appointment) ResourceIDs() []string {
	var ids []string
	for _, b := range a.Bookings {
		ids = append(ids, b.ResourceIDs...)
	}
	return ids
}

type AppointmentFilter struct {
	From   time.Time
	To     time.Time
	Status AppointmentStatus
	Limit  int
}
