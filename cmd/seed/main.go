// seed inserts a Ready demo identity for local testing.
// Idempotent: skips the insert if the demo phone is already registered.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"phone-onboarding/backend/internal/config"
	"phone-onboarding/backend/internal/db"
	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/identity/repository"
	"phone-onboarding/backend/internal/otp"
	"phone-onboarding/backend/internal/security"
)

const (
	devName     = "Dev User"
	devEmail    = "dev@example.com"
	devPhone    = "9000000001"
	devPassword = "Password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	repo, err := repository.NewPostgresRepository(conn, cfg.IdentityTable)
	if err != nil {
		log.Fatalf("repository: %v", err)
	}
	if err := repo.CheckTable(ctx); err != nil {
		log.Fatalf("repository: %v", err)
	}

	existing, err := repo.GetByPhone(ctx, devPhone)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devPhone)
		os.Exit(0)
	}

	hasher, err := security.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	code, err := otp.Generate()
	if err != nil {
		log.Fatalf("otp: %v", err)
	}

	now := time.Now().UTC()
	i := &domain.Identity{
		ID:        uuid.New().String(),
		Name:      devName,
		Email:     devEmail,
		Phone:     devPhone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Walk the same transitions a real signup takes so the row satisfies every table constraint.
	if err := i.IssueChallenge(code, now, cfg.OTPTTL); err != nil {
		log.Fatalf("issue challenge: %v", err)
	}
	if err := i.VerifyChallenge(code, now, 0); err != nil {
		log.Fatalf("verify challenge: %v", err)
	}
	if err := i.SetPasswordHash(hash, now); err != nil {
		log.Fatalf("set password: %v", err)
	}
	if err := repo.Create(ctx, i); err != nil {
		log.Fatalf("create identity: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s (id %s)\n", devPhone, devPassword, i.ID)
}
