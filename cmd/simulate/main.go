package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/appointment-booking/internal/config"
	"github.com/carebook/appointment-booking/internal/db"
	"github.com/carebook/appointment-booking/internal/identity"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ReviewRatio  float64
	ReadRatio    float64
	PatientLimit int
	PostgresDSN  string
}

type actor struct {
	ID    uuid.UUID
	Token string
}

type slotTarget struct {
	DoctorID  uuid.UUID
	Date      string
	StartTime string
}

type pendingAppointment struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

// DataPool holds the seeded actors plus the appointments created during the
// run, so review and read operations have something to hit.
type DataPool struct {
	Patients []actor
	Doctors  map[uuid.UUID]actor
	Targets  []slotTarget

	mu           sync.RWMutex
	appointments []pendingAppointment
}

func (dp *DataPool) AddAppointment(a pendingAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (pendingAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return pendingAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[min(len(sorted)*95/100, len(sorted)-1)]
	return avg, p50, p95
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	booking OperationMetrics
	review  OperationMetrics
	read    OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ReviewRatio:  getFloat("SIM_REVIEW_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 1000),
		PostgresDSN:  baseCfg.PostgresDSN,
	}
	total := cfg.BookingRatio + cfg.ReviewRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ReviewRatio /= total
		cfg.ReadRatio /= total
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f review=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.ReviewRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	tokens := identity.NewTokenManager(baseCfg.JWTSecret, baseCfg.JWTTTL)
	dataPool, err := loadDataPool(ctx, pgPool, tokens, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d patients, %d doctors, %d slot targets",
		len(dataPool.Patients), len(dataPool.Doctors), len(dataPool.Targets))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.Run()
	sim.PrintReport()
}

// loadDataPool reads seeded users and availability and pre-computes the
// concrete (doctor, date, start) targets the workers will fight over. Tokens
// are minted locally with the shared secret; the simulator stands in for an
// auth service.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, tokens *identity.TokenManager, cfg SimConfig) (*DataPool, error) {
	users := identity.NewPgRepository(pool)

	patients, err := users.ListByRole(ctx, identity.RolePatient)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if len(patients) > cfg.PatientLimit {
		patients = patients[:cfg.PatientLimit]
	}

	doctors, err := users.ListByRole(ctx, identity.RoleDoctor)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	dp := &DataPool{Doctors: make(map[uuid.UUID]actor)}
	for i := range patients {
		tok, err := tokens.Issue(&patients[i])
		if err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, actor{ID: patients[i].ID, Token: tok})
	}
	for i := range doctors {
		tok, err := tokens.Issue(&doctors[i])
		if err != nil {
			return nil, err
		}
		dp.Doctors[doctors[i].ID] = actor{ID: doctors[i].ID, Token: tok}
	}

	rows, err := pool.Query(ctx, `
		SELECT doctor_id, day_of_week, start_min, end_min, slot_duration
		FROM availability WHERE active
	`)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer rows.Close()

	type window struct {
		doctorID        uuid.UUID
		day             string
		start, end, dur int
	}
	var windows []window
	for rows.Next() {
		var w window
		if err := rows.Scan(&w.doctorID, &w.day, &w.start, &w.end, &w.dur); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Expand windows over the next 7 days into bookable targets.
	dayCodes := map[time.Weekday]string{
		time.Monday: "MON", time.Tuesday: "TUE", time.Wednesday: "WED",
		time.Thursday: "THU", time.Friday: "FRI", time.Saturday: "SAT", time.Sunday: "SUN",
	}
	today := time.Now().UTC()
	for offset := 1; offset <= 7; offset++ {
		date := today.AddDate(0, 0, offset)
		code := dayCodes[date.Weekday()]
		for _, w := range windows {
			if w.day != code {
				continue
			}
			for cur := w.start; cur+w.dur <= w.end; cur += w.dur {
				dp.Targets = append(dp.Targets, slotTarget{
					DoctorID:  w.doctorID,
					Date:      date.Format(time.DateOnly),
					StartTime: fmt.Sprintf("%02d:%02d", cur/60, cur%60),
				})
			}
		}
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no bookable targets, seed availability first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("running for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ReviewRatio:
				s.doReview(ctx, rng)
			default:
				s.doRead(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	target := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	payload := map[string]string{
		"doctor_id":        target.DoctorID.String(),
		"date":             target.Date,
		"start_time":       target.StartTime,
		"appointment_type": "GENERAL",
		"reason":           "load test booking",
	}
	// A slice of requests go through the "any doctor" path.
	if rng.Float64() < 0.1 {
		delete(payload, "doctor_id")
	}
	body, _ := json.Marshal(payload)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				ID     uuid.UUID `json:"id"`
				SlotID uuid.UUID `json:"slot_id"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(pendingAppointment{ID: created.ID, DoctorID: target.DoctorID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	s.booking.Record(latency, success, conflict)
}

// doReview has the owning doctor confirm or reject a previously created
// appointment. Repeat reviews of the same appointment exercise the
// terminal-state conflict path.
func (s *Simulator) doReview(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	doctor, ok := s.pool.Doctors[appt.DoctorID]
	if !ok {
		return
	}

	status := "CONFIRMED"
	if rng.Float64() < 0.3 {
		status = "REJECTED"
	}
	body, _ := json.Marshal(map[string]string{"status": status})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/%s/status", s.config.APIBaseURL, appt.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+doctor.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.review.Record(latency, success, conflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.read.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n==== SIMULATION REPORT ====")
	fmt.Printf("Duration: %s  Workers: %d\n\n", s.config.Duration, s.config.Workers)
	printOperationReport("Booking", &s.booking)
	printOperationReport("Review", &s.review)
	printOperationReport("Read", &s.read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)
	avg, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d  Success: %d (%.1f%%)\n", total, success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
