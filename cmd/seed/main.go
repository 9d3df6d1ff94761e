package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitwise/clinic-queue/internal/db"
)

type clinicSeed struct {
	Name        string
	Address     string
	CurrentWait int
	Capacity    int
}

var defaultClinics = []clinicSeed{
	{Name: "Downtown Health Hub", Address: "123 Main St", CurrentWait: 25, Capacity: 30},
	{Name: "Lakeside Walk-In", Address: "456 Lake Ave", CurrentWait: 40, Capacity: 20},
	{Name: "Uptown Care Clinic", Address: "789 Uptown Blvd", CurrentWait: 15, Capacity: 25},
}

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

	if err := seedClinics(context.Background(), pool); err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	if err := seedUsers(context.Background(), pool, 200); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool) error {
	var existing int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM clinics`).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		log.Printf("clinics already seeded (%d present), skipping", existing)
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range defaultClinics {
		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, address, current_wait, capacity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, uuid.New(), c.Name, c.Address, c.CurrentWait, c.Capacity)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("seeded %d clinics", len(defaultClinics))
	return nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d users", count)

	idTypes := []string{"Healthcard", "GovID"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()
		phone := gofakeit.Phone()
		idType := idTypes[gofakeit.Number(0, len(idTypes)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, name, email, phone, id_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (email) DO NOTHING
		`, id, name, email, phone, idType)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("users seeded")
	return nil
}
