package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/window"
)

var (
	ErrInvalidWindow       = window.ErrInvalidWindow
	ErrOutsideWorkingHours = errors.New("outside working hours")
	ErrConflict            = errors.New("conflict")
	ErrNoAvailability      = errors.New("no availability")
	ErrTimeout             = errors.New("timeout")
	ErrPersistence         = errors.New("persistence failure")
	ErrNotFound            = errors.New("not found")
	ErrInvalidRule         = errors.New("invalid availability rule")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ConflictError names the resource that already holds an overlapping booking.
type ConflictError struct {
	ResourceID string
	BookingIDs []string
}

func (e *ConflictError) Error() string {
	if len(e.BookingIDs) == 0 {
		return fmt.Sprintf("conflict on resource %s", e.ResourceID)
	}
	return fmt.Sprintf("conflict on resource %s with bookings %s", e.ResourceID, strings.Join(e.BookingIDs, ","))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func NewConflict(resourceID string, bookings []Booking) *ConflictError {
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	return &ConflictError{ResourceID: resourceID, BookingIDs: ids}
}

// PersistenceError wraps a storage failure during commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
