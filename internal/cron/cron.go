package cron

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nivelo/matrix-backend/internal/repository"
	"github.com/nivelo/matrix-backend/internal/service"
)

// Scheduler handles scheduled tasks
type Scheduler struct {
	cron       *cron.Cron
	services   *service.Services
	memberRepo repository.MemberRepository
}

// NewScheduler creates a new scheduler
func NewScheduler(services *service.Services, memberRepo repository.MemberRepository) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		services:   services,
		memberRepo: memberRepo,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Run every hour - deactivate lapsed memberships
	s.cron.AddFunc("0 * * * *", func() {
		log.Println("[Cron] Running membership expiry sweep...")
		s.expireLapsedMemberships()
	})

	// Run every day at 3 AM - purge expired refresh tokens
	s.cron.AddFunc("0 3 * * *", func() {
		log.Println("[Cron] Running refresh token cleanup...")
		s.cleanupRefreshTokens()
	})

	s.cron.Start()
	log.Println("⏰ Cron scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("⏰ Cron scheduler stopped")
}

func (s *Scheduler) expireLapsedMemberships() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.services.Membership.ExpireLapsed(ctx)
	if err != nil {
		log.Printf("❌ [Cron] Membership sweep failed: %v", err)
		return
	}
	log.Printf("[Cron] Membership sweep done, %d members deactivated", n)
}

func (s *Scheduler) cleanupRefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.memberRepo.DeleteExpiredRefreshTokens(ctx, time.Now())
	if err != nil {
		log.Printf("❌ [Cron] Token cleanup failed: %v", err)
		return
	}
	log.Printf("[Cron] Token cleanup done, %d tokens removed", n)
}
