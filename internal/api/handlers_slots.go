package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/booking"
)

func listSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := mustPrincipal(w, r); !ok {
			return
		}
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		dateStr := r.URL.Query().Get("date")
		if dateStr == "" {
			writeFieldError(w, "date", "required query parameter, YYYY-MM-DD")
			return
		}
		date, err := time.Parse(time.DateOnly, dateStr)
		if err != nil {
			writeFieldError(w, "date", "invalid date, want YYYY-MM-DD")
			return
		}

		views, err := svc.ListDaySlots(r.Context(), doctorID, date)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(views))
		for _, v := range views {
			resp = append(resp, toSlotResponse(v))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func generateSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeValidationErrors(w, err)
			return
		}

		from, err := time.Parse(time.DateOnly, req.StartDate)
		if err != nil {
			writeFieldError(w, "start_date", "invalid date, want YYYY-MM-DD")
			return
		}
		to, err := time.Parse(time.DateOnly, req.EndDate)
		if err != nil {
			writeFieldError(w, "end_date", "invalid date, want YYYY-MM-DD")
			return
		}

		created, err := svc.GenerateRange(r.Context(), actor, doctorID, from, to)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, GenerateSlotsResponse{SlotsCreated: created})
	}
}
