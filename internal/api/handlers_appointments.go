package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/booking"
)

var validate = validator.New()

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeValidationErrors(w, err)
			return
		}

		date, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeFieldError(w, "date", "invalid date, want YYYY-MM-DD")
			return
		}
		start, err := booking.ParseMinuteOfDay(req.StartTime)
		if err != nil {
			writeFieldError(w, "start_time", "invalid time, want HH:MM")
			return
		}

		var doctorID *uuid.UUID
		if req.DoctorID != nil && *req.DoctorID != "" {
			id, err := uuid.Parse(*req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}

		appt, err := svc.Book(r.Context(), actor, booking.BookingRequest{
			PatientID: actor.ID,
			DoctorID:  doctorID,
			Date:      date,
			Start:     start,
			Type:      booking.AppointmentType(req.AppointmentType),
			Reason:    req.Reason,
			Notes:     req.Notes,
		})
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		var filter booking.AppointmentFilter
		if s := r.URL.Query().Get("status"); s != "" {
			status := booking.AppointmentStatus(s)
			if !status.Valid() {
				writeFieldError(w, "status", "must be one of PENDING, CONFIRMED, REJECTED")
				return
			}
			filter.Status = &status
		}
		if d := r.URL.Query().Get("date"); d != "" {
			date, err := time.Parse(time.DateOnly, d)
			if err != nil {
				writeFieldError(w, "date", "invalid date, want YYYY-MM-DD")
				return
			}
			filter.Date = &date
		}

		appts, err := svc.ListAppointments(r.Context(), actor, filter)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		resp := make([]AppointmentDetailResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentDetailResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(detail))
	}
}

func updateAppointmentStatusHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeValidationErrors(w, err)
			return
		}

		appt, err := svc.Transition(r.Context(), actor, id, booking.AppointmentStatus(req.Status))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
