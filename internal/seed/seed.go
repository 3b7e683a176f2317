// internal/seed/seed.go
package seed

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/nivelo/matrix-backend/internal/repository"
)

// SeedData creates the initial admin, company root member and default plans.
// Safe to run repeatedly: it skips when the admin already exists.
func SeedData(repos *repository.Repositories) {
	ctx := context.Background()

	if existing, _ := repos.MemberRepo.FindByEmail(ctx, "admin@nivelo.io"); existing != nil {
		log.Println("[Seed] Data already exists, skipping...")
		return
	}

	log.Println("[Seed] 🌱 Creating initial data...")

	password, _ := bcrypt.GenerateFromPassword([]byte("changeme123"), bcrypt.DefaultCost)
	now := time.Now()

	// ============================================
	// ADMIN
	// ============================================
	admin := &repository.Member{
		ID:           uuid.New().String(),
		Email:        "admin@nivelo.io",
		Password:     string(password),
		Name:         "Nivelo Admin",
		Role:         "admin",
		ReferralCode: "ADMIN001",
		Ancestors:    []string{},
		Children:     []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	repos.MemberRepo.Create(ctx, admin)

	// ============================================
	// COMPANY ROOT (level 0, every public signup lands in its matrix)
	// ============================================
	root := &repository.Member{
		ID:               uuid.New().String(),
		Email:            "root@nivelo.io",
		Password:         string(password),
		Name:             "Nivelo Network",
		Role:             "member",
		ReferralCode:     "NIVELO00",
		Level:            0,
		Ancestors:        []string{},
		Children:         []string{},
		PlacementLocked:  true,
		MembershipActive: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	repos.MemberRepo.Create(ctx, root)

	// ============================================
	// PLANS
	// ============================================
	starter := &repository.Plan{
		ID:              uuid.New().String(),
		Name:            "Starter",
		Amount:          decimal.NewFromInt(29),
		Currency:        "USD",
		DurationMonths:  1,
		MaxPayoutLevels: 3,
		HasDirectBonus:  false,
		Visible:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	repos.PlanRepo.Create(ctx, starter)

	pro := &repository.Plan{
		ID:              uuid.New().String(),
		Name:            "Pro",
		Amount:          decimal.NewFromInt(99),
		Currency:        "USD",
		DurationMonths:  3,
		MaxPayoutLevels: 7,
		HasDirectBonus:  true,
		Visible:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	repos.PlanRepo.Create(ctx, pro)

	log.Printf("[Seed] ✅ Created admin, network root (code %s) and %d plans", root.ReferralCode, 2)
}
