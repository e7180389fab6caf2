package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/booking"
)

// decodeAvailability parses and converts the request body into a domain
// window; time fields come in as "HH:MM".
func decodeAvailability(w http.ResponseWriter, r *http.Request) (*booking.Availability, bool) {
	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return nil, false
	}
	if err := validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return nil, false
	}

	day, err := booking.ParseWeekday(req.DayOfWeek)
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	start, err := booking.ParseMinuteOfDay(req.StartTime)
	if err != nil {
		writeFieldError(w, "start_time", "invalid time, want HH:MM")
		return nil, false
	}
	end, err := booking.ParseMinuteOfDay(req.EndTime)
	if err != nil {
		writeFieldError(w, "end_time", "invalid time, want HH:MM")
		return nil, false
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	return &booking.Availability{
		Day:          day,
		Start:        start,
		End:          end,
		SlotDuration: req.SlotDuration,
		Active:       active,
	}, true
}

func createAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		a, ok := decodeAvailability(w, r)
		if !ok {
			return
		}

		if err := svc.CreateAvailability(r.Context(), actor, a); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAvailabilityResponse(a))
	}
}

func listAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		windows, err := svc.ListAvailability(r.Context(), actor)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		resp := make([]AvailabilityResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toAvailabilityResponse(&windows[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_availability_id", "id must be a valid UUID")
			return
		}

		a, err := svc.GetAvailability(r.Context(), actor, id)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(a))
	}
}

func updateAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_availability_id", "id must be a valid UUID")
			return
		}
		a, ok := decodeAvailability(w, r)
		if !ok {
			return
		}
		a.ID = id

		if err := svc.UpdateAvailability(r.Context(), actor, a); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(a))
	}
}

func deactivateAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustPrincipal(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_availability_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeactivateAvailability(r.Context(), actor, id); err != nil {
			respondServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
