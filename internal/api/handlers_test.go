package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/appointment-booking/internal/booking"
	"github.com/carebook/appointment-booking/internal/identity"
	"github.com/carebook/appointment-booking/internal/notify"
	redisclient "github.com/carebook/appointment-booking/internal/redis"
)

// stubRepo backs the handler tests in memory with the same uniqueness and
// compare-and-set behavior as the Postgres layer.
type stubRepo struct {
	mu           sync.Mutex
	availability map[uuid.UUID]*booking.Availability
	slots        map[uuid.UUID]*booking.Slot
	slotKeys     map[string]uuid.UUID
	appointments map[uuid.UUID]*booking.Appointment
	users        map[uuid.UUID]*identity.User
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		availability: make(map[uuid.UUID]*booking.Availability),
		slots:        make(map[uuid.UUID]*booking.Slot),
		slotKeys:     make(map[string]uuid.UUID),
		appointments: make(map[uuid.UUID]*booking.Appointment),
		users:        make(map[uuid.UUID]*identity.User),
	}
}

func key(doctorID uuid.UUID, date time.Time, start booking.MinuteOfDay) string {
	return fmt.Sprintf("%s|%s|%d", doctorID, date.Format(time.DateOnly), start)
}

func (r *stubRepo) addUser(role identity.Role) *identity.User {
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

func (r *stubRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, identity.ErrUserNotFound
}

func (r *stubRepo) CreateAvailability(_ context.Context, a *booking.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	r.availability[a.ID] = &cp
	return nil
}

func (r *stubRepo) GetAvailabilityByID(_ context.Context, id uuid.UUID) (*booking.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.availability[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, booking.ErrAvailabilityNotFound
}

func (r *stubRepo) UpdateAvailability(_ context.Context, a *booking.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.availability[a.ID]; !ok {
		return booking.ErrAvailabilityNotFound
	}
	cp := *a
	r.availability[a.ID] = &cp
	return nil
}

func (r *stubRepo) ListAvailabilityByDoctor(_ context.Context, doctorID uuid.UUID) ([]booking.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.Availability
	for _, a := range r.availability {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *stubRepo) ListAllAvailability(_ context.Context) ([]booking.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.Availability
	for _, a := range r.availability {
		out = append(out, *a)
	}
	return out, nil
}

func (r *stubRepo) ListActiveAvailability(_ context.Context, doctorID uuid.UUID, day booking.Weekday) ([]booking.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.Availability
	for _, a := range r.availability {
		if a.DoctorID == doctorID && a.Day == day && a.Active {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (r *stubRepo) FindCoveringAvailability(_ context.Context, doctorID uuid.UUID, day booking.Weekday, at booking.MinuteOfDay) (*booking.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.availability {
		if a.DoctorID == doctorID && a.Day == day && a.Active && at >= a.Start && at < a.End {
			cp := *a
			return &cp, nil
		}
	}
	return nil, booking.ErrNoAvailability
}

func (r *stubRepo) FindAnyCoveringAvailability(_ context.Context, day booking.Weekday, at booking.MinuteOfDay) (*booking.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.availability {
		if a.Day == day && a.Active && at >= a.Start && at < a.End {
			cp := *a
			return &cp, nil
		}
	}
	return nil, booking.ErrNoAvailability
}

func (r *stubRepo) ListDoctorsWithActiveAvailability(_ context.Context) ([]uuid.UUID, error) {
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

func (r *stubRepo) CreateSlotIfAbsent(_ context.Context, s *booking.Slot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(s.DoctorID, s.Date, s.Start)
	if _, exists := r.slotKeys[k]; exists {
		return false, nil
	}
	s.ID = uuid.New()
	cp := *s
	r.slots[s.ID] = &cp
	r.slotKeys[k] = s.ID
	return true, nil
}

func (r *stubRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*booking.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, booking.ErrSlotNotFound
}

func (r *stubRepo) ListSlotsByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]booking.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.Slot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (r *stubRepo) BookSlot(_ context.Context, p booking.BookSlotParams) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(p.DoctorID, p.Date, p.Start)
	var slot *booking.Slot
	if id, exists := r.slotKeys[k]; exists {
		slot = r.slots[id]
	} else {
		slot = &booking.Slot{
			ID: uuid.New(), DoctorID: p.DoctorID, Date: p.Date, Start: p.Start, End: p.End,
		}
		r.slots[slot.ID] = slot
		r.slotKeys[k] = slot.ID
	}
	if slot.Booked {
		return nil, booking.ErrSlotAlreadyBooked
	}
	slot.Booked = true

	appt := &booking.Appointment{
		ID: uuid.New(), SlotID: slot.ID, PatientID: p.PatientID,
		Type: p.Type, Status: booking.StatusPending, Reason: p.Reason, Notes: p.Notes,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	r.appointments[appt.ID] = appt
	cp := *appt
	return &cp, nil
}

func (r *stubRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*booking.AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detailLocked(id)
}

func (r *stubRepo) detailLocked(id uuid.UUID) (*booking.AppointmentDetail, error) {
	appt, ok := r.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	slot := *r.slots[appt.SlotID]
	d := &booking.AppointmentDetail{Appointment: *appt, Slot: &slot}
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

func (r *stubRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, f booking.AppointmentFilter) ([]booking.AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.AppointmentDetail
	for id, appt := range r.appointments {
		if r.slots[appt.SlotID].DoctorID != doctorID || !r.matches(appt, f) {
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

func (r *stubRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, f booking.AppointmentFilter) ([]booking.AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.AppointmentDetail
	for id, appt := range r.appointments {
		if appt.PatientID != patientID || !r.matches(appt, f) {
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

func (r *stubRepo) matches(appt *booking.Appointment, f booking.AppointmentFilter) bool {
	if f.Status != nil && appt.Status != *f.Status {
		return false
	}
	if f.Date != nil && !r.slots[appt.SlotID].Date.Equal(booking.DateOf(*f.Date)) {
		return false
	}
	return true
}

func (r *stubRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to booking.AppointmentStatus) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[id]
	if !ok || appt.Status != from {
		return nil, booking.ErrAppointmentNotFound
	}
	appt.Status = to
	appt.UpdatedAt = time.Now()
	cp := *appt
	return &cp, nil
}

func (r *stubRepo) InsertEvent(_ context.Context, _ booking.EventLog) error { return nil }

// ---- test server ----

type testServer struct {
	*httptest.Server
	repo    *stubRepo
	tokens  *identity.TokenManager
	doctor  *identity.User
	patient *identity.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := newStubRepo()
	tokens := identity.NewTokenManager("test-secret", time.Hour)
	svc := booking.NewService(repo, repo, redisclient.NoopLocker{}, notify.NewLogNotifier(zerolog.Nop()), zerolog.Nop())

	router := NewRouter(RouterConfig{
		Service: svc,
		Tokens:  tokens,
		Env:     "test",
		Version: "test",
		Logger:  zerolog.Nop(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{
		Server:  srv,
		repo:    repo,
		tokens:  tokens,
		doctor:  repo.addUser(identity.RoleDoctor),
		patient: repo.addUser(identity.RolePatient),
	}
}

func (ts *testServer) token(t *testing.T, u *identity.User) string {
	t.Helper()
	tok, err := ts.tokens.Issue(u)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// nextWednesday returns an upcoming Wednesday so booked slots are in the future.
func nextWednesday() string {
	d := time.Now().UTC().AddDate(0, 0, 1)
	for d.Weekday() != time.Wednesday {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format(time.DateOnly)
}

func (ts *testServer) addWindow(t *testing.T) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/availability", ts.token(t, ts.doctor), AvailabilityRequest{
		DayOfWeek:    "WED",
		StartTime:    "09:00",
		EndTime:      "10:00",
		SlotDuration: 30,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create availability: status %d", resp.StatusCode)
	}
}

// ---- tests ----

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	if resp := ts.do(t, http.MethodGet, "/appointments", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, "/appointments", "garbage", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, "/health/live", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("liveness should be public, got %d", resp.StatusCode)
	}
}

func TestCreateAvailabilityEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/availability", ts.token(t, ts.doctor), AvailabilityRequest{
		DayOfWeek: "MON", StartTime: "09:00", EndTime: "12:00", SlotDuration: 20,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[AvailabilityResponse](t, resp)
	if created.DoctorID != ts.doctor.ID {
		t.Errorf("owner should be the acting doctor")
	}
	if created.StartTime != "09:00" || created.EndTime != "12:00" {
		t.Errorf("window came back as %s-%s", created.StartTime, created.EndTime)
	}

	// Patients cannot create windows.
	resp = ts.do(t, http.MethodPost, "/availability", ts.token(t, ts.patient), AvailabilityRequest{
		DayOfWeek: "MON", StartTime: "09:00", EndTime: "12:00", SlotDuration: 20,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("patient create: expected 403, got %d", resp.StatusCode)
	}

	// Malformed day code.
	resp = ts.do(t, http.MethodPost, "/availability", ts.token(t, ts.doctor), AvailabilityRequest{
		DayOfWeek: "MONDAY", StartTime: "09:00", EndTime: "12:00", SlotDuration: 20,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad day code: expected 400, got %d", resp.StatusCode)
	}
}

func TestGenerateAndListSlots(t *testing.T) {
	ts := newTestServer(t)
	ts.addWindow(t)
	date := nextWednesday()

	path := fmt.Sprintf("/doctors/%s/slots/generate", ts.doctor.ID)
	resp := ts.do(t, http.MethodPost, path, ts.token(t, ts.doctor), GenerateSlotsRequest{
		StartDate: date, EndDate: date,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate: expected 201, got %d", resp.StatusCode)
	}
	gen := decode[GenerateSlotsResponse](t, resp)
	if gen.SlotsCreated != 2 {
		t.Errorf("expected 2 slots created, got %d", gen.SlotsCreated)
	}

	// Re-generating is idempotent.
	resp = ts.do(t, http.MethodPost, path, ts.token(t, ts.doctor), GenerateSlotsRequest{
		StartDate: date, EndDate: date,
	})
	if gen := decode[GenerateSlotsResponse](t, resp); gen.SlotsCreated != 0 {
		t.Errorf("re-generate created %d slots, expected 0", gen.SlotsCreated)
	}

	listPath := fmt.Sprintf("/doctors/%s/slots?date=%s", ts.doctor.ID, date)
	resp = ts.do(t, http.MethodGet, listPath, ts.token(t, ts.patient), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	slots := decode[[]SlotResponse](t, resp)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if !s.Available {
			t.Errorf("slot %s should be available", s.StartTime)
		}
	}

	// Missing date parameter.
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/doctors/%s/slots", ts.doctor.ID), ts.token(t, ts.patient), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing date: expected 400, got %d", resp.StatusCode)
	}
}

func TestBookingEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.addWindow(t)
	date := nextWednesday()
	doctorID := ts.doctor.ID.String()

	body := CreateBookingRequest{
		DoctorID:        &doctorID,
		Date:            date,
		StartTime:       "09:00",
		AppointmentType: "GENERAL",
		Reason:          "persistent cough",
	}

	resp := ts.do(t, http.MethodPost, "/bookings", ts.token(t, ts.patient), body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	appt := decode[AppointmentResponse](t, resp)
	if appt.Status != "PENDING" {
		t.Errorf("expected PENDING, got %s", appt.Status)
	}
	if appt.PatientID != ts.patient.ID {
		t.Errorf("appointment bound to wrong patient")
	}

	// Same slot again conflicts.
	rival := ts.repo.addUser(identity.RolePatient)
	resp = ts.do(t, http.MethodPost, "/bookings", ts.token(t, rival), body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double booking: expected 409, got %d", resp.StatusCode)
	}

	// Outside any window conflicts too.
	outside := body
	outside.StartTime = "15:00"
	resp = ts.do(t, http.MethodPost, "/bookings", ts.token(t, rival), outside)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("no availability: expected 409, got %d", resp.StatusCode)
	}

	// Doctors cannot book.
	resp = ts.do(t, http.MethodPost, "/bookings", ts.token(t, ts.doctor), body)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("doctor booking: expected 403, got %d", resp.StatusCode)
	}

	// Validation failures.
	bad := body
	bad.AppointmentType = ""
	resp = ts.do(t, http.MethodPost, "/bookings", ts.token(t, rival), bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing type: expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusUpdateEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.addWindow(t)
	doctorID := ts.doctor.ID.String()

	resp := ts.do(t, http.MethodPost, "/bookings", ts.token(t, ts.patient), CreateBookingRequest{
		DoctorID:        &doctorID,
		Date:            nextWednesday(),
		StartTime:       "09:30",
		AppointmentType: "FOLLOW_UP",
		Reason:          "follow up on labs",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book: status %d", resp.StatusCode)
	}
	appt := decode[AppointmentResponse](t, resp)
	path := fmt.Sprintf("/appointments/%s/status", appt.ID)

	// Another doctor cannot review it.
	other := ts.repo.addUser(identity.RoleDoctor)
	resp = ts.do(t, http.MethodPatch, path, ts.token(t, other), UpdateStatusRequest{Status: "CONFIRMED"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign doctor: expected 403, got %d", resp.StatusCode)
	}

	// Invalid target status fails request validation.
	resp = ts.do(t, http.MethodPatch, path, ts.token(t, ts.doctor), UpdateStatusRequest{Status: "PENDING"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("PENDING target: expected 400, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPatch, path, ts.token(t, ts.doctor), UpdateStatusRequest{Status: "CONFIRMED"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", resp.StatusCode)
	}
	if updated := decode[AppointmentResponse](t, resp); updated.Status != "CONFIRMED" {
		t.Errorf("expected CONFIRMED, got %s", updated.Status)
	}

	// Terminal: a second review conflicts.
	resp = ts.do(t, http.MethodPatch, path, ts.token(t, ts.doctor), UpdateStatusRequest{Status: "REJECTED"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("re-review: expected 409, got %d", resp.StatusCode)
	}
}

func TestAppointmentReadEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.addWindow(t)
	doctorID := ts.doctor.ID.String()

	resp := ts.do(t, http.MethodPost, "/bookings", ts.token(t, ts.patient), CreateBookingRequest{
		DoctorID:        &doctorID,
		Date:            nextWednesday(),
		StartTime:       "09:00",
		AppointmentType: "GENERAL",
		Reason:          "checkup",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book: status %d", resp.StatusCode)
	}
	appt := decode[AppointmentResponse](t, resp)
	path := "/appointments/" + appt.ID.String()

	resp = ts.do(t, http.MethodGet, path, ts.token(t, ts.patient), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patient get: expected 200, got %d", resp.StatusCode)
	}
	detail := decode[AppointmentDetailResponse](t, resp)
	if detail.DoctorName != ts.doctor.Name || detail.PatientName != ts.patient.Name {
		t.Errorf("detail parties: got doctor %q patient %q", detail.DoctorName, detail.PatientName)
	}

	// Out-of-scope read is a 404, not a 403.
	stranger := ts.repo.addUser(identity.RolePatient)
	resp = ts.do(t, http.MethodGet, path, ts.token(t, stranger), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("stranger get: expected 404, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/appointments?status=PENDING", ts.token(t, ts.patient), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	if list := decode[[]AppointmentDetailResponse](t, resp); len(list) != 1 {
		t.Errorf("expected 1 appointment, got %d", len(list))
	}

	resp = ts.do(t, http.MethodGet, "/appointments?status=bogus", ts.token(t, ts.patient), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status filter: expected 400, got %d", resp.StatusCode)
	}
}
