package booking

import (
	"errors"
	"fmt"
)

var (
	ErrAvailabilityNotFound = errors.New("availability window not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrPatientNotFound      = errors.New("patient not found")

	// ErrNoAvailability means no active window covers the requested
	// weekday and time for the resolved doctor scope.
	ErrNoAvailability = errors.New("no availability covers the requested time")

	// ErrSlotAlreadyBooked means the slot at (doctor, date, start) is
	// already claimed by another appointment.
	ErrSlotAlreadyBooked = errors.New("slot is already booked")

	// ErrSlotBeingBooked means a concurrent booking holds the advisory
	// lock for the slot; callers should retry.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid appointment status transition")
)

// ValidationError carries field-level detail for malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AsValidation unwraps err into a *ValidationError when it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
