package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/identity"
)

// Weekday is the three-letter day code an availability window is keyed on.
type Weekday string

const (
	Monday    Weekday = "MON"
	Tuesday   Weekday = "TUE"
	Wednesday Weekday = "WED"
	Thursday  Weekday = "THU"
	Friday    Weekday = "FRI"
	Saturday  Weekday = "SAT"
	Sunday    Weekday = "SUN"
)

var weekdayCodes = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// WeekdayOf returns the day code for a calendar date.
func WeekdayOf(t time.Time) Weekday {
	return weekdayCodes[t.Weekday()]
}

func (d Weekday) Valid() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

func ParseWeekday(s string) (Weekday, error) {
	d := Weekday(s)
	if !d.Valid() {
		return "", &ValidationError{Field: "day_of_week", Reason: fmt.Sprintf("unknown day code %q", s)}
	}
	return d, nil
}

// MinuteOfDay is a wall-clock time of day expressed as minutes since midnight.
// It is stored as a plain integer so the unique slot key sorts naturally.
type MinuteOfDay int

const minutesPerDay = 24 * 60

// ParseMinuteOfDay parses "HH:MM".
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}
	return MinuteOfDay(t.Hour()*60 + t.Minute()), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m MinuteOfDay) Valid() bool {
	return m >= 0 && m < minutesPerDay
}

// At anchors the time of day on a calendar date.
func (m MinuteOfDay) At(date time.Time) time.Time {
	y, mo, d := date.Date()
	return time.Date(y, mo, d, int(m)/60, int(m)%60, 0, 0, date.Location())
}

// DateOf truncates a timestamp to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Availability is a doctor's recurring weekly bookable window.
type Availability struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	Day          Weekday
	Start        MinuteOfDay
	End          MinuteOfDay
	SlotDuration int // minutes
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks the window invariants: valid day, start before end,
// positive duration. A duration that does not evenly divide the window is
// allowed; the expander drops the trailing remainder.
func (a *Availability) Validate() error {
	if a.DoctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Reason: "required"}
	}
	if !a.Day.Valid() {
		return &ValidationError{Field: "day_of_week", Reason: fmt.Sprintf("unknown day code %q", string(a.Day))}
	}
	if !a.Start.Valid() {
		return &ValidationError{Field: "start_time", Reason: "out of range"}
	}
	if !a.End.Valid() {
		return &ValidationError{Field: "end_time", Reason: "out of range"}
	}
	if a.Start >= a.End {
		return &ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	if a.SlotDuration <= 0 {
		return &ValidationError{Field: "slot_duration", Reason: "must be positive"}
	}
	return nil
}

// Slot is one concrete bookable interval on a calendar date.
// (doctor_id, date, start) is unique, enforced by the storage layer.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time // calendar date, UTC midnight
	Start     MinuteOfDay
	End       MinuteOfDay
	Booked    bool
	CreatedAt time.Time
}

// StartsAt returns the slot's absolute start timestamp.
func (s *Slot) StartsAt() time.Time {
	return s.Start.At(s.Date)
}

// SlotView is a slot plus its computed bookability at read time.
type SlotView struct {
	Slot
	Available bool
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusRejected  AppointmentStatus = "REJECTED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

type AppointmentType string

const (
	TypePrenatal    AppointmentType = "PRENATAL"
	TypePostnatal   AppointmentType = "POSTNATAL"
	TypeGeneral     AppointmentType = "GENERAL"
	TypeRoutine     AppointmentType = "ROUTINE"
	TypeSpecialist  AppointmentType = "SPECIALIST"
	TypeEmergency   AppointmentType = "EMERGENCY"
	TypeFollowUp    AppointmentType = "FOLLOW_UP"
	TypeLabTest     AppointmentType = "LAB_TEST"
	TypeDiagnostic  AppointmentType = "DIAGNOSTIC"
	TypeVaccination AppointmentType = "VACCINATION"
	TypeOther       AppointmentType = "OTHER"
)

var appointmentTypes = map[AppointmentType]bool{
	TypePrenatal: true, TypePostnatal: true, TypeGeneral: true,
	TypeRoutine: true, TypeSpecialist: true, TypeEmergency: true,
	TypeFollowUp: true, TypeLabTest: true, TypeDiagnostic: true,
	TypeVaccination: true, TypeOther: true,
}

func (t AppointmentType) Valid() bool {
	return appointmentTypes[t]
}

// Appointment is a patient's claim on exactly one slot. SlotID is never nil:
// the slot is claimed and the appointment created in one atomic step.
type Appointment struct {
	ID        uuid.UUID
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Type      AppointmentType
	Status    AppointmentStatus
	Reason    string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentDetail is an appointment hydrated with its slot and parties.
type AppointmentDetail struct {
	Appointment
	Slot    *Slot
	Patient *identity.User
	Doctor  *identity.User
}

// EventLog is an audit trail row. Insert failures are logged and swallowed.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
