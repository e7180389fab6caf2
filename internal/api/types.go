package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/booking"
)

type AvailabilityRequest struct {
	DayOfWeek    string `json:"day_of_week" validate:"required"`
	StartTime    string `json:"start_time" validate:"required"`
	EndTime      string `json:"end_time" validate:"required"`
	SlotDuration int    `json:"slot_duration" validate:"required,gt=0"`
	Active       *bool  `json:"active,omitempty"`
}

type AvailabilityResponse struct {
	ID           uuid.UUID `json:"id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	DayOfWeek    string    `json:"day_of_week"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	SlotDuration int       `json:"slot_duration"`
	Active       bool      `json:"active"`
}

func toAvailabilityResponse(a *booking.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:           a.ID,
		DoctorID:     a.DoctorID,
		DayOfWeek:    string(a.Day),
		StartTime:    a.Start.String(),
		EndTime:      a.End.String(),
		SlotDuration: a.SlotDuration,
		Active:       a.Active,
	}
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Booked    bool      `json:"booked"`
	Available bool      `json:"available"`
}

func toSlotResponse(v booking.SlotView) SlotResponse {
	return SlotResponse{
		ID:        v.ID,
		DoctorID:  v.DoctorID,
		Date:      v.Date.Format(time.DateOnly),
		StartTime: v.Start.String(),
		EndTime:   v.End.String(),
		Booked:    v.Booked,
		Available: v.Available,
	}
}

type GenerateSlotsRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type GenerateSlotsResponse struct {
	SlotsCreated int `json:"slots_created"`
}

type CreateBookingRequest struct {
	DoctorID        *string `json:"doctor_id,omitempty"` // omit for "any available doctor"
	Date            string  `json:"date" validate:"required"`
	StartTime       string  `json:"start_time" validate:"required"`
	AppointmentType string  `json:"appointment_type" validate:"required"`
	Reason          string  `json:"reason" validate:"required"`
	Notes           string  `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	SlotID          uuid.UUID `json:"slot_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	AppointmentType string    `json:"appointment_type"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		SlotID:          a.SlotID,
		PatientID:       a.PatientID,
		AppointmentType: string(a.Type),
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName string       `json:"patient_name"`
	DoctorName  string       `json:"doctor_name"`
	Slot        SlotResponse `json:"slot"`
}

func toAppointmentDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		PatientName:         d.Patient.Name,
		DoctorName:          d.Doctor.Name,
		Slot: toSlotResponse(booking.SlotView{
			Slot: *d.Slot,
		}),
	}
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=CONFIRMED REJECTED"`
}
