package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/appointment-booking/internal/booking"
	"github.com/carebook/appointment-booking/internal/config"
	"github.com/carebook/appointment-booking/internal/db"
	"github.com/carebook/appointment-booking/internal/identity"
	"github.com/carebook/appointment-booking/internal/notify"
	redisclient "github.com/carebook/appointment-booking/internal/redis"
)

// slot-generator materializes slots for one doctor over a date range from the
// command line. It runs with admin privileges; the HTTP endpoint covers the
// doctor-self case.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var (
		doctorFlag = flag.String("doctor", "", "doctor UUID (required)")
		fromFlag   = flag.String("from", "", "start date YYYY-MM-DD (default today)")
		toFlag     = flag.String("to", "", "end date YYYY-MM-DD inclusive (required)")
	)
	flag.Parse()

	if *doctorFlag == "" || *toFlag == "" {
		flag.Usage()
		log.Fatal("-doctor and -to are required")
	}

	doctorID, err := uuid.Parse(*doctorFlag)
	if err != nil {
		log.Fatalf("invalid -doctor: %v", err)
	}

	from := time.Now().UTC()
	if *fromFlag != "" {
		from, err = time.Parse(time.DateOnly, *fromFlag)
		if err != nil {
			log.Fatalf("invalid -from: %v", err)
		}
	}
	to, err := time.Parse(time.DateOnly, *toFlag)
	if err != nil {
		log.Fatalf("invalid -to: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	logger := zerolog.Nop()
	svc := booking.NewService(
		booking.NewPgRepository(pool),
		identity.NewPgRepository(pool),
		redisclient.NoopLocker{},
		notify.NewLogNotifier(logger),
		logger,
	)

	admin := identity.Principal{ID: uuid.New(), Role: identity.RoleAdmin}
	created, err := svc.GenerateRange(ctx, admin, doctorID, from, to)
	if err != nil {
		log.Fatalf("generate slots: %v (created %d before failure)", err, created)
	}

	log.Printf("created %d slots for doctor %s, %s through %s",
		created, doctorID, from.Format(time.DateOnly), to.Format(time.DateOnly))
}
