package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/appointment-booking/internal/identity"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Helpers

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.Day,
		&a.Start,
		&a.End,
		&a.SlotDuration,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.Start,
		&s.End,
		&s.Booked,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	s.Date = DateOf(s.Date)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.Type,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

const availCols = `id, doctor_id, day_of_week, start_min, end_min, slot_duration, active, created_at, updated_at`
const slotCols = `id, doctor_id, date, start_min, end_min, booked, created_at`
const apptCols = `id, slot_id, patient_id, appointment_type, status, reason, notes, created_at, updated_at`

// Availability windows

func (r *PgRepository) CreateAvailability(ctx context.Context, a *Availability) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability (id, doctor_id, day_of_week, start_min, end_min, slot_duration, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.DoctorID, a.Day, a.Start, a.End, a.SlotDuration, a.Active)
	return row.Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *PgRepository) GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+availCols+`
		FROM availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) UpdateAvailability(ctx context.Context, a *Availability) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability
		SET day_of_week = $2,
		    start_min = $3,
		    end_min = $4,
		    slot_duration = $5,
		    active = $6,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.Day, a.Start, a.End, a.SlotDuration, a.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *PgRepository) listAvailability(ctx context.Context, query string, args ...any) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAvailabilityByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Availability, error) {
	return r.listAvailability(ctx, `
		SELECT `+availCols+`
		FROM availability
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_min
	`, doctorID)
}

func (r *PgRepository) ListAllAvailability(ctx context.Context) ([]Availability, error) {
	return r.listAvailability(ctx, `
		SELECT `+availCols+`
		FROM availability
		ORDER BY doctor_id, day_of_week, start_min
	`)
}

func (r *PgRepository) ListActiveAvailability(ctx context.Context, doctorID uuid.UUID, day Weekday) ([]Availability, error) {
	// (start_min, id) ordering makes the materializer's overlap policy
	// deterministic: the earliest window wins a colliding start time.
	return r.listAvailability(ctx, `
		SELECT `+availCols+`
		FROM availability
		WHERE doctor_id = $1 AND day_of_week = $2 AND active
		ORDER BY start_min, id
	`, doctorID, day)
}

func (r *PgRepository) FindCoveringAvailability(ctx context.Context, doctorID uuid.UUID, day Weekday, at MinuteOfDay) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+availCols+`
		FROM availability
		WHERE doctor_id = $1 AND day_of_week = $2 AND active
		  AND start_min <= $3 AND $3 < end_min
		ORDER BY start_min, id
		LIMIT 1
	`, doctorID, day, at)
	a, err := scanAvailability(row)
	if errors.Is(err, ErrAvailabilityNotFound) {
		return nil, ErrNoAvailability
	}
	return a, err
}

func (r *PgRepository) FindAnyCoveringAvailability(ctx context.Context, day Weekday, at MinuteOfDay) (*Availability, error) {
	// Ascending doctor_id keeps the "any doctor" pick deterministic.
	row := r.pool.QueryRow(ctx, `
		SELECT `+availCols+`
		FROM availability
		WHERE day_of_week = $1 AND active
		  AND start_min <= $2 AND $2 < end_min
		ORDER BY doctor_id, start_min, id
		LIMIT 1
	`, day, at)
	a, err := scanAvailability(row)
	if errors.Is(err, ErrAvailabilityNotFound) {
		return nil, ErrNoAvailability
	}
	return a, err
}

func (r *PgRepository) ListDoctorsWithActiveAvailability(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT doctor_id
		FROM availability
		WHERE active
		ORDER BY doctor_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// Slots

func (r *PgRepository) CreateSlotIfAbsent(ctx context.Context, s *Slot) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, date, start_min, end_min, booked, created_at)
		VALUES ($1, $2, $3, $4, $5, false, now())
		ON CONFLICT (doctor_id, date, start_min) DO NOTHING
		RETURNING created_at
	`, s.ID, s.DoctorID, s.Date, s.Start, s.End)

	err := row.Scan(&s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Someone else already created it; not an error.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert slot: %w", err)
	}
	return true, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlotsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = $1 AND date = $2
		ORDER BY start_min
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// BookSlot claims the slot at (DoctorID, Date, Start) and creates the PENDING
// appointment in one transaction. The insert-or-ignore on the unique key plus
// SELECT ... FOR UPDATE serializes concurrent attempts: exactly one commits
// with booked=true, the rest see the flag and get ErrSlotAlreadyBooked.
func (r *PgRepository) BookSlot(ctx context.Context, p BookSlotParams) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin book tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO slots (id, doctor_id, date, start_min, end_min, booked, created_at)
		VALUES ($1, $2, $3, $4, $5, false, now())
		ON CONFLICT (doctor_id, date, start_min) DO NOTHING
	`, uuid.New(), p.DoctorID, p.Date, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("ensure slot: %w", err)
	}

	var slotID uuid.UUID
	var booked bool
	err = tx.QueryRow(ctx, `
		SELECT id, booked
		FROM slots
		WHERE doctor_id = $1 AND date = $2 AND start_min = $3
		FOR UPDATE
	`, p.DoctorID, p.Date, p.Start).Scan(&slotID, &booked)
	if err != nil {
		return nil, fmt.Errorf("lock slot row: %w", err)
	}
	if booked {
		return nil, ErrSlotAlreadyBooked
	}

	_, err = tx.Exec(ctx, `
		UPDATE slots SET booked = true WHERE id = $1
	`, slotID)
	if err != nil {
		return nil, fmt.Errorf("mark slot booked: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, appointment_type, status, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, now(), now())
		RETURNING `+apptCols+`
	`, uuid.New(), slotID, p.PatientID, p.Type, p.Reason, p.Notes)

	appt, err := scanAppointment(row)
	if err != nil {
		// The one-to-one slot_id constraint closes any remaining race.
		if isUniqueViolation(err) {
			return nil, ErrSlotAlreadyBooked
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit book tx: %w", err)
	}
	return appt, nil
}

// Appointments

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailQuery+` WHERE a.id = $1`, id)
	return scanAppointmentDetail(row)
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var det AppointmentDetail
	var slot Slot
	var patient, doctor identity.User
	err := row.Scan(
		&det.ID, &det.SlotID, &det.PatientID, &det.Type, &det.Status, &det.Reason, &det.Notes, &det.CreatedAt, &det.UpdatedAt,
		&slot.ID, &slot.DoctorID, &slot.Date, &slot.Start, &slot.End, &slot.Booked, &slot.CreatedAt,
		&patient.ID, &patient.Name, &patient.Email, &patient.Phone, &patient.Role, &patient.Active, &patient.CreatedAt, &patient.UpdatedAt,
		&doctor.ID, &doctor.Name, &doctor.Email, &doctor.Phone, &doctor.Role, &doctor.Active, &doctor.CreatedAt, &doctor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	slot.Date = DateOf(slot.Date)
	det.Slot = &slot
	det.Patient = &patient
	det.Doctor = &doctor
	return &det, nil
}

const detailQuery = `
	SELECT a.id, a.slot_id, a.patient_id, a.appointment_type, a.status, a.reason, a.notes, a.created_at, a.updated_at,
	       s.id, s.doctor_id, s.date, s.start_min, s.end_min, s.booked, s.created_at,
	       p.id, p.name, p.email, p.phone, p.role, p.active, p.created_at, p.updated_at,
	       d.id, d.name, d.email, d.phone, d.role, d.active, d.created_at, d.updated_at
	FROM appointments a
	JOIN slots s ON s.id = a.slot_id
	JOIN users p ON p.id = a.patient_id
	JOIN users d ON d.id = s.doctor_id`

func (r *PgRepository) listAppointmentDetails(ctx context.Context, query string, args ...any) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		det, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *det)
	}
	return result, rows.Err()
}

func appendFilter(query string, args []any, f AppointmentFilter) (string, []any) {
	if f.Status != nil {
		args = append(args, *f.Status)
		query += fmt.Sprintf(" AND a.status = $%d", len(args))
	}
	if f.Date != nil {
		args = append(args, *f.Date)
		query += fmt.Sprintf(" AND s.date = $%d", len(args))
	}
	return query, args
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, f AppointmentFilter) ([]AppointmentDetail, error) {
	query := detailQuery + ` WHERE s.doctor_id = $1`
	args := []any{doctorID}
	query, args = appendFilter(query, args, f)
	query += ` ORDER BY s.date DESC, s.start_min DESC`
	return r.listAppointmentDetails(ctx, query, args...)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, f AppointmentFilter) ([]AppointmentDetail, error) {
	query := detailQuery + ` WHERE a.patient_id = $1`
	args := []any{patientID}
	query, args = appendFilter(query, args, f)
	query += ` ORDER BY s.date DESC, s.start_min DESC`
	return r.listAppointmentDetails(ctx, query, args...)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptCols+`
	`, id, to, from)
	return scanAppointment(row)
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
