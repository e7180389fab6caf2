package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentFilter narrows appointment listings.
type AppointmentFilter struct {
	Status *AppointmentStatus
	Date   *time.Time // slot calendar date
}

// BookSlotParams is the input to the atomic claim: get-or-create the slot at
// (DoctorID, Date, Start), flip it to booked, and insert the appointment, all
// in one transaction.
type BookSlotParams struct {
	DoctorID  uuid.UUID
	Date      time.Time
	Start     MinuteOfDay
	End       MinuteOfDay
	PatientID uuid.UUID
	Type      AppointmentType
	Reason    string
	Notes     string
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Availability windows
	CreateAvailability(ctx context.Context, a *Availability) error
	GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	UpdateAvailability(ctx context.Context, a *Availability) error
	ListAvailabilityByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Availability, error)
	ListAllAvailability(ctx context.Context) ([]Availability, error)

	// ListActiveAvailability returns the doctor's active windows for one
	// weekday ordered by (start, id); the materializer processes them in
	// this order, so the first window wins colliding start times.
	ListActiveAvailability(ctx context.Context, doctorID uuid.UUID, day Weekday) ([]Availability, error)

	// FindCoveringAvailability returns an active window for the doctor
	// with at falling in [start, end), or ErrNoAvailability.
	FindCoveringAvailability(ctx context.Context, doctorID uuid.UUID, day Weekday, at MinuteOfDay) (*Availability, error)

	// FindAnyCoveringAvailability is the "any doctor" variant: the first
	// match across all doctors ordered by (doctor_id, start).
	FindAnyCoveringAvailability(ctx context.Context, day Weekday, at MinuteOfDay) (*Availability, error)

	// ListDoctorsWithActiveAvailability backs the horizon worker.
	ListDoctorsWithActiveAvailability(ctx context.Context) ([]uuid.UUID, error)

	// Slots
	// CreateSlotIfAbsent inserts the slot unless one already exists at its
	// (doctor, date, start) key. A lost race is reported as created=false,
	// never as an error; the existing row is left untouched.
	CreateSlotIfAbsent(ctx context.Context, s *Slot) (created bool, err error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlotsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error)

	// BookSlot runs the whole claim in a single transaction and returns
	// the PENDING appointment, or ErrSlotAlreadyBooked.
	BookSlot(ctx context.Context, p BookSlotParams) (*Appointment, error)

	// Appointments
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, f AppointmentFilter) ([]AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, f AppointmentFilter) ([]AppointmentDetail, error)

	// UpdateAppointmentStatus is a compare-and-set: the row moves from
	// `from` to `to` or, if it is no longer in `from`, nothing is updated
	// and ErrAppointmentNotFound comes back.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
