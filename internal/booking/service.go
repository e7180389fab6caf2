package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/appointment-booking/internal/identity"
	"github.com/carebook/appointment-booking/internal/notify"
	redisclient "github.com/carebook/appointment-booking/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
)

// UserDirectory is the slice of the identity provider the booking core needs.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo     Repository
	users    UserDirectory
	locker   redisclient.Locker
	notifier notify.Notifier
	clock    Clock
	log      zerolog.Logger
}

func NewService(repo Repository, users UserDirectory, locker redisclient.Locker, notifier notify.Notifier, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		locker:   locker,
		notifier: notifier,
		clock:    SystemClock(),
		log:      log,
	}
}

// UseClock swaps the service clock; tests pin it to a fixed instant.
func (s *Service) UseClock(c Clock) {
	s.clock = c
}

// ---- Availability store ----

// CreateAvailability registers a recurring weekly window for the acting
// doctor. The owner is always the actor; there is no creating windows on
// another doctor's behalf.
func (s *Service) CreateAvailability(ctx context.Context, actor identity.Principal, a *Availability) error {
	if actor.Role != identity.RoleDoctor {
		return ErrPermissionDenied
	}
	a.DoctorID = actor.ID
	if err := a.Validate(); err != nil {
		return err
	}
	return s.repo.CreateAvailability(ctx, a)
}

func (s *Service) GetAvailability(ctx context.Context, actor identity.Principal, id uuid.UUID) (*Availability, error) {
	a, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case identity.RolePatient, identity.RoleAdmin:
		return a, nil
	case identity.RoleDoctor:
		if a.DoctorID != actor.ID {
			// Doctors only see their own windows; report not-found
			// rather than leaking existence.
			return nil, ErrAvailabilityNotFound
		}
		return a, nil
	}
	return nil, ErrPermissionDenied
}

func (s *Service) ListAvailability(ctx context.Context, actor identity.Principal) ([]Availability, error) {
	switch actor.Role {
	case identity.RoleDoctor:
		return s.repo.ListAvailabilityByDoctor(ctx, actor.ID)
	case identity.RolePatient, identity.RoleAdmin:
		return s.repo.ListAllAvailability(ctx)
	}
	return nil, ErrPermissionDenied
}

// UpdateAvailability applies new window parameters to an existing window
// owned by the acting doctor. Already-materialized slots keep the end times
// they were created with.
func (s *Service) UpdateAvailability(ctx context.Context, actor identity.Principal, a *Availability) error {
	existing, err := s.ownedAvailability(ctx, actor, a.ID)
	if err != nil {
		return err
	}
	a.DoctorID = existing.DoctorID
	if err := a.Validate(); err != nil {
		return err
	}
	return s.repo.UpdateAvailability(ctx, a)
}

// DeactivateAvailability soft-deletes the window: it stops feeding the
// materializer but stays referenced by slots already generated from it.
func (s *Service) DeactivateAvailability(ctx context.Context, actor identity.Principal, id uuid.UUID) error {
	a, err := s.ownedAvailability(ctx, actor, id)
	if err != nil {
		return err
	}
	if !a.Active {
		return nil
	}
	a.Active = false
	return s.repo.UpdateAvailability(ctx, a)
}

func (s *Service) ownedAvailability(ctx context.Context, actor identity.Principal, id uuid.UUID) (*Availability, error) {
	if actor.Role != identity.RoleDoctor {
		return nil, ErrPermissionDenied
	}
	a, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorID != actor.ID {
		return nil, ErrAvailabilityNotFound
	}
	return a, nil
}

// ---- Slot materializer ----

// MaterializeDay expands every active window the doctor has on date's
// weekday and persists the candidates with create-if-absent semantics.
// Existing slots, booked or not, are never touched. Only newly created slots
// come back; callers wanting the full day re-query.
//
// Safe to call concurrently or repeatedly for the same doctor and date: the
// (doctor, date, start) unique key absorbs races.
func (s *Service) MaterializeDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	day := DateOf(date)
	windows, err := s.repo.ListActiveAvailability(ctx, doctorID, WeekdayOf(day))
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}

	var created []Slot
	for _, w := range windows {
		for _, c := range w.Expand() {
			slot := Slot{
				DoctorID: doctorID,
				Date:     day,
				Start:    c.Start,
				End:      c.End,
			}
			ok, err := s.repo.CreateSlotIfAbsent(ctx, &slot)
			if err != nil {
				return created, fmt.Errorf("materialize slot %s %s: %w", day.Format(time.DateOnly), c.Start, err)
			}
			if ok {
				created = append(created, slot)
			}
		}
	}
	return created, nil
}

// GenerateRange materializes each day in [from, to] as an independent unit of
// work. A failure partway through keeps the prior days' slots; nothing rolls
// back globally. Returns the number of slots created.
func (s *Service) GenerateRange(ctx context.Context, actor identity.Principal, doctorID uuid.UUID, from, to time.Time) (int, error) {
	switch actor.Role {
	case identity.RoleDoctor:
		if doctorID != actor.ID {
			return 0, ErrPermissionDenied
		}
	case identity.RoleAdmin:
		// may generate for any doctor
	case identity.RolePatient:
		return 0, ErrPermissionDenied
	default:
		return 0, ErrPermissionDenied
	}

	from, to = DateOf(from), DateOf(to)
	if from.After(to) {
		return 0, &ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}

	total := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		slots, err := s.MaterializeDay(ctx, doctorID, day)
		total += len(slots)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// MaterializeHorizon generates slots for every doctor with active
// availability, today through today+days. The worker calls this on a ticker;
// per-doctor failures are logged and skipped so one bad row cannot stall the
// sweep.
func (s *Service) MaterializeHorizon(ctx context.Context, days int) error {
	doctors, err := s.repo.ListDoctorsWithActiveAvailability(ctx)
	if err != nil {
		return fmt.Errorf("list doctors: %w", err)
	}

	today := DateOf(s.clock.Now())
	for _, doctorID := range doctors {
		for i := 0; i <= days; i++ {
			if _, err := s.MaterializeDay(ctx, doctorID, today.AddDate(0, 0, i)); err != nil {
				s.log.Warn().Err(err).Stringer("doctor_id", doctorID).Msg("horizon materialization failed for doctor")
				break
			}
		}
	}
	return nil
}

// ListDaySlots returns the doctor's slots for one date with the bookability
// flag computed against the clock. Reading never materializes anything; call
// MaterializeDay or GenerateRange for that.
func (s *Service) ListDaySlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error) {
	slots, err := s.repo.ListSlotsByDoctorDate(ctx, doctorID, DateOf(date))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views := make([]SlotView, 0, len(slots))
	for _, sl := range slots {
		views = append(views, SlotView{
			Slot:      sl,
			Available: !sl.Booked && sl.StartsAt().After(now),
		})
	}
	return views, nil
}

// ---- Booking engine ----

// BookingRequest asks for a slot at Date/Start. DoctorID nil means "any
// doctor": the first active window covering the weekday and time, in
// ascending doctor id order, wins.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	Date      time.Time
	Start     MinuteOfDay
	Type      AppointmentType
	Reason    string
	Notes     string
}

func (r *BookingRequest) validate() error {
	if r.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if !r.Start.Valid() {
		return &ValidationError{Field: "start_time", Reason: "out of range"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "appointment_type", Reason: fmt.Sprintf("unknown type %q", string(r.Type))}
	}
	if r.Reason == "" {
		return &ValidationError{Field: "reason", Reason: "required"}
	}
	return nil
}

// Book finds or creates the slot at (doctor, date, start) and atomically
// claims it for the patient, producing a PENDING appointment. Two concurrent
// attempts on the same slot end with exactly one appointment; the loser gets
// ErrSlotAlreadyBooked (or ErrSlotBeingBooked if it lost the advisory lock
// instead of the row race).
func (s *Service) Book(ctx context.Context, actor identity.Principal, req BookingRequest) (*Appointment, error) {
	if actor.Role != identity.RolePatient || actor.ID != req.PatientID {
		return nil, ErrPermissionDenied
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	date := DateOf(req.Date)
	window, err := s.resolveWindow(ctx, req.DoctorID, date, req.Start)
	if err != nil {
		return nil, err
	}

	params := BookSlotParams{
		DoctorID:  window.DoctorID,
		Date:      date,
		Start:     req.Start,
		End:       req.Start + MinuteOfDay(window.SlotDuration),
		PatientID: req.PatientID,
		Type:      req.Type,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}

	var created *Appointment
	err = s.locker.WithLock(ctx, slotLockKey(params.DoctorID, date, req.Start), func(lockCtx context.Context) error {
		appt, err := s.repo.BookSlot(lockCtx, params)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":  params.DoctorID.String(),
		"patient_id": req.PatientID.String(),
		"date":       date.Format(time.DateOnly),
		"start_time": req.Start.String(),
	})
	s.notifyUser(ctx, params.DoctorID, notify.EventAppointmentCreated, map[string]any{
		"appointment_id": created.ID.String(),
		"date":           date.Format(time.DateOnly),
		"start_time":     req.Start.String(),
	})

	return created, nil
}

// resolveWindow picks the availability window that covers the requested
// weekday and time, either for the named doctor or across all doctors.
func (s *Service) resolveWindow(ctx context.Context, doctorID *uuid.UUID, date time.Time, at MinuteOfDay) (*Availability, error) {
	day := WeekdayOf(date)

	if doctorID == nil {
		return s.repo.FindAnyCoveringAvailability(ctx, day, at)
	}

	doctor, err := s.users.GetByID(ctx, *doctorID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != identity.RoleDoctor {
		return nil, ErrDoctorNotFound
	}

	return s.repo.FindCoveringAvailability(ctx, *doctorID, day, at)
}

func slotLockKey(doctorID uuid.UUID, date time.Time, start MinuteOfDay) string {
	return fmt.Sprintf("lock:slot:%s:%s:%s", doctorID, date.Format(time.DateOnly), start)
}

// ---- Appointment lifecycle ----

// Transition moves an appointment out of PENDING. Only the doctor owning the
// appointment's slot may do it, and only to CONFIRMED or REJECTED; everything
// else is ErrInvalidTransition. The patient notification afterwards is best
// effort and never undoes the status change.
func (s *Service) Transition(ctx context.Context, actor identity.Principal, id uuid.UUID, target AppointmentStatus) (*Appointment, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != identity.RoleDoctor || detail.Slot.DoctorID != actor.ID {
		return nil, ErrPermissionDenied
	}

	if target != StatusConfirmed && target != StatusRejected {
		return nil, ErrInvalidTransition
	}
	if detail.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusPending, target)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race: someone moved it out of PENDING first.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}

	event, notifyEvent := EventAppointmentConfirmed, notify.EventAppointmentConfirmed
	if target == StatusRejected {
		event, notifyEvent = EventAppointmentRejected, notify.EventAppointmentRejected
	}
	s.logEvent(ctx, updated.ID, event, map[string]any{"status": string(target)})
	s.notifyUser(ctx, updated.PatientID, notifyEvent, map[string]any{
		"appointment_id": updated.ID.String(),
		"status":         string(target),
	})

	return updated, nil
}

// ---- Appointment reads ----

func (s *Service) GetAppointment(ctx context.Context, actor identity.Principal, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case identity.RoleAdmin:
		return detail, nil
	case identity.RoleDoctor:
		if detail.Slot.DoctorID == actor.ID {
			return detail, nil
		}
	case identity.RolePatient:
		if detail.PatientID == actor.ID {
			return detail, nil
		}
	}
	// Out-of-scope reads look like missing rows, not denials.
	return nil, ErrAppointmentNotFound
}

func (s *Service) ListAppointments(ctx context.Context, actor identity.Principal, f AppointmentFilter) ([]AppointmentDetail, error) {
	switch actor.Role {
	case identity.RoleDoctor:
		return s.repo.ListAppointmentsByDoctor(ctx, actor.ID, f)
	case identity.RolePatient:
		return s.repo.ListAppointmentsByPatient(ctx, actor.ID, f)
	case identity.RoleAdmin:
		return nil, ErrPermissionDenied
	}
	return nil, ErrPermissionDenied
}

// ---- Side effects ----

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload failed")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Stringer("appointment_id", appointmentID).Msg("insert event log failed")
	}
}

// notifyUser looks up the recipient and fires the notifier. Any failure is
// logged and dropped: notifications must never make a successful booking or
// transition look failed.
func (s *Service) notifyUser(ctx context.Context, userID uuid.UUID, event notify.Event, payload map[string]any) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Stringer("user_id", userID).Str("event", string(event)).Msg("notification recipient lookup failed")
		return
	}
	n := notify.Notification{
		Recipient: u.Email,
		Event:     event,
		Payload:   payload,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("recipient", u.Email).Str("event", string(event)).Msg("notification delivery failed")
	}
}
