package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/appointment-booking/internal/booking"
	"github.com/carebook/appointment-booking/internal/db"
	"github.com/carebook/appointment-booking/internal/identity"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedUsers(context.Background(), pool, identity.RoleDoctor, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if _, err := seedUsers(context.Background(), pool, identity.RolePatient, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, doctors); err != nil {
		log.Fatalf("seed availability: %v", err)
	}

	log.Println("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, role identity.Role, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d users with role %s", count, role)

	repo := identity.NewPgRepository(pool)
	ids := make([]uuid.UUID, 0, count)

	for i := 0; i < count; i++ {
		u := identity.User{
			ID:     uuid.New(),
			Name:   gofakeit.Name(),
			Email:  gofakeit.Email(),
			Phone:  gofakeit.Phone(),
			Role:   role,
			Active: true,
		}
		if err := repo.Create(ctx, &u); err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// seedAvailability gives each doctor a weekday morning and afternoon window.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID) error {
	log.Printf("seeding availability for %d doctors", len(doctors))

	repo := booking.NewPgRepository(pool)
	days := []booking.Weekday{booking.Monday, booking.Tuesday, booking.Wednesday, booking.Thursday, booking.Friday}
	durations := []int{15, 20, 30}

	for _, doctorID := range doctors {
		dur := durations[gofakeit.Number(0, len(durations)-1)]
		for _, day := range days {
			morning := booking.Availability{
				DoctorID:     doctorID,
				Day:          day,
				Start:        9 * 60,
				End:          12 * 60,
				SlotDuration: dur,
				Active:       true,
			}
			afternoon := booking.Availability{
				DoctorID:     doctorID,
				Day:          day,
				Start:        14 * 60,
				End:          17 * 60,
				SlotDuration: dur,
				Active:       true,
			}
			if err := repo.CreateAvailability(ctx, &morning); err != nil {
				return err
			}
			if err := repo.CreateAvailability(ctx, &afternoon); err != nil {
				return err
			}
		}
	}
	return nil
}
