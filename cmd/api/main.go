// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/nivelo/matrix-backend/internal/api/handlers"
	"github.com/nivelo/matrix-backend/internal/api/middleware"
	"github.com/nivelo/matrix-backend/internal/config"
	"github.com/nivelo/matrix-backend/internal/cron"
	"github.com/nivelo/matrix-backend/internal/db"
	"github.com/nivelo/matrix-backend/internal/email"
	"github.com/nivelo/matrix-backend/internal/repository"
	"github.com/nivelo/matrix-backend/internal/seed"
	"github.com/nivelo/matrix-backend/internal/service"
)

func main() {
	// ============================================
	// Load environment variables
	// ============================================
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// ============================================
	// Load configuration
	// ============================================
	cfg := config.Load()

	// ============================================
	// Set Gin mode
	// ============================================
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// ============================================
	// Run Database Migrations FIRST
	// ============================================
	log.Println("🔄 Running database migrations...")
	migrationsPath := "./internal/db/migrations"
	if err := db.RunMigrations(cfg.DatabaseURL, migrationsPath); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database migrations completed")

	// ============================================
	// Initialize PostgreSQL
	// ============================================
	postgres, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to PostgreSQL: %v", err)
	}
	defer postgres.Close()
	log.Println("✅ Connected to PostgreSQL")

	// ============================================
	// Initialize Repositories
	// ============================================
	repos := repository.NewPgRepositories(postgres.Pool)
	log.Println("📦 Repositories initialized")

	// ============================================
	// Initialize Redis (optional)
	// ============================================
	var redisDB *db.RedisDB
	if cfg.RedisURL != "" {
		redisDB, err = db.NewRedisDB(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (continuing without it)", err)
			redisDB = nil
		} else {
			defer redisDB.Close()
			log.Println("⚡ Redis enabled")
		}
	}

	// ============================================
	// Initialize Email Service (optional)
	// ============================================
	var emailSvc *email.Service
	if cfg.SMTPHost != "" {
		emailSvc = email.NewService(&email.Config{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			User:        cfg.SMTPUser,
			Password:    cfg.SMTPPassword,
			From:        cfg.SMTPFrom,
			FromName:    cfg.SMTPFromName,
			UseTLS:      cfg.SMTPUseTLS,
			FrontendURL: cfg.FrontendURL,
		})
		log.Println("📧 Email service initialized")
	} else {
		log.Println("⚠️  Email not configured (SMTP_HOST not set)")
	}

	// ============================================
	// Seed Data (for development)
	// ============================================
	if cfg.Environment != "production" {
		seed.SeedData(repos)
	}

	// ============================================
	// Initialize All Services
	// ============================================
	services := service.NewServices(&service.ServiceDeps{
		Config:   cfg,
		Repos:    repos,
		EmailSvc: emailSvc,
	})
	log.Println("✨ All services initialized")

	// ============================================
	// Initialize Handlers
	// ============================================
	h := handlers.NewHandlers(services, repos, redisDB)

	// ============================================
	// Initialize Cron Scheduler
	// ============================================
	cronScheduler := cron.NewScheduler(services, repos.MemberRepo)
	cronScheduler.Start()
	defer cronScheduler.Stop()

	// ============================================
	// Create Gin Router
	// ============================================
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	// Configure CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL, "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	rateWindow := time.Duration(cfg.RateLimitWindow) * time.Second

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"database":  "connected",
			"redis":     redisStatus(redisDB),
			"email":     emailStatus(emailSvc),
		})
	})

	// API routes
	api := r.Group("/api")
	{
		// ============================================
		// Public routes (no auth required)
		// ============================================
		auth := api.Group("/auth")
		// Tighter limit than the rest of the API: signup and login are the
		// brute-force targets.
		auth.Use(middleware.RateLimit(redisDB, "auth", cfg.RateLimit/4, rateWindow))
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refresh", h.Auth.Refresh)
			auth.POST("/logout", h.Auth.Logout)
		}

		api.GET("/plans", h.Plan.List)

		// ============================================
		// Protected routes (require auth middleware)
		// ============================================
		protected := api.Group("")
		protected.Use(middleware.RateLimit(redisDB, "api", cfg.RateLimit, rateWindow))
		protected.Use(middleware.AuthMiddleware(services.Auth))
		{
			// Member routes
			members := protected.Group("/members")
			{
				members.GET("/me", h.Member.GetCurrentMember)
				members.PUT("/me", h.Member.UpdateCurrentMember)
				members.GET("/:id/tree", h.Member.GetTree)
				members.POST("/:id/activate", h.Membership.Activate)
				members.GET("/:id/activations", h.Membership.GetHistory)
			}

			// Payout routes
			payouts := protected.Group("/payouts")
			{
				payouts.GET("", h.Payout.GetHistory)
				payouts.GET("/trend", h.Payout.GetMonthlyTrend)
			}

			// Coupon routes
			coupons := protected.Group("/coupons")
			{
				coupons.GET("", h.Coupon.ListMine)
				coupons.GET("/:code", h.Coupon.Preview)
			}

			// Wallet routes
			wallet := protected.Group("/wallet")
			{
				wallet.GET("", h.Wallet.GetBalance)
				wallet.GET("/withdrawals", h.Wallet.ListWithdrawals)
				wallet.POST("/withdrawals", h.Wallet.RequestWithdrawal)
			}

			// Admin routes
			admin := protected.Group("/admin")
			admin.Use(middleware.RequireAdmin())
			{
				admin.GET("/plans", h.Plan.List)
				admin.POST("/plans", h.Plan.Create)
				admin.PUT("/plans/:id", h.Plan.Update)
				admin.POST("/coupons", h.Coupon.Issue)
				admin.GET("/withdrawals/pending", h.Wallet.ListPending)
				admin.PATCH("/withdrawals/:id", h.Wallet.SetStatus)
			}
		}
	}

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func redisStatus(r *db.RedisDB) string {
	if r == nil {
		return "disabled"
	}
	return "connected"
}

func emailStatus(e *email.Service) string {
	if e == nil {
		return "disabled"
	}
	return "configured"
}
