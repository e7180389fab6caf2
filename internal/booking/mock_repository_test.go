package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/identity"
)

// memRepo is an in-memory Repository with the same uniqueness and
// compare-and-set guarantees as the Postgres implementation. All methods take
// the mutex, so it is safe for the concurrency tests.
type memRepo struct {
	mu           sync.Mutex
	availability map[uuid.UUID]*Availability
	slots        map[uuid.UUID]*Slot
	slotKeys     map[string]uuid.UUID // (doctor, date, start) -> slot id
	appointments map[uuid.UUID]*Appointment
	bySlot       map[uuid.UUID]uuid.UUID // slot id -> appointment id
	events       []EventLog
	users        map[uuid.UUID]*identity.User
}

func newMemRepo() *memRepo {
	return &memRepo{
		availability: make(map[uuid.UUID]*Availability),
		slots:        make(map[uuid.UUID]*Slot),
		slotKeys:     make(map[string]uuid.UUID),
		appointments: make(map[uuid.UUID]*Appointment),
		bySlot:       make(map[uuid.UUID]uuid.UUID),
		users:        make(map[uuid.UUID]*identity.User),
	}
}

func slotKey(doctorID uuid.UUID, date time.Time, start MinuteOfDay) string {
	return fmt.Sprintf("%s|%s|%d", doctorID, date.Format(time.DateOnly), start)
}

// ---- users (UserDirectory) ----

func (r *memRepo) addUser(role identity.Role) *identity.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &identity.User{
		ID:     uuid.New(),
		Name:   fmt.Sprintf("%s-%d", role, len(r.users)),
		Email:  fmt.Sprintf("%s%d@example.com", role, len(r.users)),
		Role:   role,
		Active: true,
	}
	r.users[u.ID] = u
	return u
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// ---- availability ----

func (r *memRepo) CreateAvailability(_ context.Context, a *Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.availability[a.ID] = &cp
	return nil
}

func (r *memRepo) GetAvailabilityByID(_ context.Context, id uuid.UUID) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.availability[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAvailability(_ context.Context, a *Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.availability[a.ID]; !ok {
		return ErrAvailabilityNotFound
	}
	cp := *a
	cp.UpdatedAt = time.Now()
	r.availability[a.ID] = &cp
	return nil
}

func (r *memRepo) ListAvailabilityByDoctor(_ context.Context, doctorID uuid.UUID) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.availability {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	sortWindows(out)
	return out, nil
}

func (r *memRepo) ListAllAvailability(_ context.Context) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.availability {
		out = append(out, *a)
	}
	sortWindows(out)
	return out, nil
}

func (r *memRepo) ListActiveAvailability(_ context.Context, doctorID uuid.UUID, day Weekday) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.availability {
		if a.DoctorID == doctorID && a.Day == day && a.Active {
			out = append(out, *a)
		}
	}
	sortWindows(out)
	return out, nil
}

func (r *memRepo) FindCoveringAvailability(_ context.Context, doctorID uuid.UUID, day Weekday, at MinuteOfDay) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.availability {
		if a.DoctorID == doctorID && a.Day == day && a.Active && at >= a.Start && at < a.End {
			out = append(out, *a)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAvailability
	}
	sortWindows(out)
	return &out[0], nil
}

func (r *memRepo) FindAnyCoveringAvailability(_ context.Context, day Weekday, at MinuteOfDay) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.availability {
		if a.Day == day && a.Active && at >= a.Start && at < a.End {
			out = append(out, *a)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAvailability
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DoctorID != out[j].DoctorID {
			return strings.Compare(out[i].DoctorID.String(), out[j].DoctorID.String()) < 0
		}
		return out[i].Start < out[j].Start
	})
	return &out[0], nil
}

func (r *memRepo) ListDoctorsWithActiveAvailability(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, a := range r.availability {
		if a.Active && !seen[a.DoctorID] {
			seen[a.DoctorID] = true
			out = append(out, a.DoctorID)
		}
	}
	return out, nil
}

func sortWindows(ws []Availability) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Start != ws[j].Start {
			return ws[i].Start < ws[j].Start
		}
		return strings.Compare(ws[i].ID.String(), ws[j].ID.String()) < 0
	})
}

// ---- slots ----

func (r *memRepo) CreateSlotIfAbsent(_ context.Context, s *Slot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := slotKey(s.DoctorID, s.Date, s.Start)
	if _, exists := r.slotKeys[key]; exists {
		return false, nil
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	r.slots[s.ID] = &cp
	r.slotKeys[key] = s.ID
	return true, nil
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) ListSlotsByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Slot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (r *memRepo) BookSlot(_ context.Context, p BookSlotParams) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey(p.DoctorID, p.Date, p.Start)
	id, exists := r.slotKeys[key]
	var slot *Slot
	if exists {
		slot = r.slots[id]
	} else {
		slot = &Slot{
			ID:        uuid.New(),
			DoctorID:  p.DoctorID,
			Date:      p.Date,
			Start:     p.Start,
			End:       p.End,
			CreatedAt: time.Now(),
		}
		r.slots[slot.ID] = slot
		r.slotKeys[key] = slot.ID
	}

	if slot.Booked {
		return nil, ErrSlotAlreadyBooked
	}
	if _, taken := r.bySlot[slot.ID]; taken {
		return nil, ErrSlotAlreadyBooked
	}

	slot.Booked = true
	now := time.Now()
	appt := &Appointment{
		ID:        uuid.New(),
		SlotID:    slot.ID,
		PatientID: p.PatientID,
		Type:      p.Type,
		Status:    StatusPending,
		Reason:    p.Reason,
		Notes:     p.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.appointments[appt.ID] = appt
	r.bySlot[slot.ID] = appt.ID

	cp := *appt
	return &cp, nil
}

// ---- appointments ----

func (r *memRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detailLocked(id)
}

func (r *memRepo) detailLocked(id uuid.UUID) (*AppointmentDetail, error) {
	appt, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	slot := r.slots[appt.SlotID]
	slotCp := *slot
	apptCp := *appt
	d := &AppointmentDetail{
		Appointment: apptCp,
		Slot:        &slotCp,
	}
	if p, ok := r.users[appt.PatientID]; ok {
		pc := *p
		d.Patient = &pc
	}
	if doc, ok := r.users[slot.DoctorID]; ok {
		dc := *doc
		d.Doctor = &dc
	}
	return d, nil
}

func (r *memRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, f AppointmentFilter) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AppointmentDetail
	for id, appt := range r.appointments {
		slot := r.slots[appt.SlotID]
		if slot.DoctorID != doctorID {
			continue
		}
		if !matchesFilter(appt, slot, f) {
			continue
		}
		d, err := r.detailLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, f AppointmentFilter) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AppointmentDetail
	for id, appt := range r.appointments {
		if appt.PatientID != patientID {
			continue
		}
		if !matchesFilter(appt, r.slots[appt.SlotID], f) {
			continue
		}
		d, err := r.detailLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func matchesFilter(appt *Appointment, slot *Slot, f AppointmentFilter) bool {
	if f.Status != nil && appt.Status != *f.Status {
		return false
	}
	if f.Date != nil && !slot.Date.Equal(DateOf(*f.Date)) {
		return false
	}
	return true
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[id]
	if !ok || appt.Status != from {
		return nil, ErrAppointmentNotFound
	}
	appt.Status = to
	appt.UpdatedAt = time.Now()
	cp := *appt
	return &cp, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	ev.CreatedAt = time.Now()
	r.events = append(r.events, ev)
	return nil
}
