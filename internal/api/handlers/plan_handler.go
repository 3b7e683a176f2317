package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/api/middleware"
	"github.com/nivelo/matrix-backend/internal/db"
	"github.com/nivelo/matrix-backend/internal/models"
	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Plan Handler
// ============================================

const planCacheTTL = 5 * time.Minute

type PlanHandler struct {
	planRepo repository.PlanRepository
	redis    *db.RedisDB
}

// List returns plans visible to the caller. On the authenticated admin
// route the catalog includes hidden plans.
func (h *PlanHandler) List(c *gin.Context) {
	visibleOnly := true
	if actor, ok := middleware.GetActor(c); ok && actor.IsAdmin() {
		visibleOnly = false
	}

	cacheKey := "plans:visible"
	if !visibleOnly {
		cacheKey = "plans:all"
	}
	if h.redis != nil {
		var cached []models.PlanResponse
		if err := h.redis.GetCache(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	plans, err := h.planRepo.FindAll(c.Request.Context(), visibleOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load plans"})
		return
	}

	response := make([]models.PlanResponse, len(plans))
	for i, p := range plans {
		response[i] = toPlanResponse(p)
	}
	if h.redis != nil {
		h.redis.SetCache(c.Request.Context(), cacheKey, response, planCacheTTL)
	}
	c.JSON(http.StatusOK, response)
}

// Create adds a new plan (admin only, enforced by router)
func (h *PlanHandler) Create(c *gin.Context) {
	var req models.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	plan := &repository.Plan{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Amount:          amount,
		Currency:        currency,
		DurationMonths:  req.DurationMonths,
		MaxPayoutLevels: req.MaxPayoutLevels,
		HasDirectBonus:  req.HasDirectBonus,
		Visible:         req.Visible,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.planRepo.Create(c.Request.Context(), plan); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create plan"})
		return
	}

	h.invalidateCache(c)
	c.JSON(http.StatusCreated, toPlanResponse(plan))
}

// Update replaces a plan's attributes (admin only, enforced by router).
// Existing memberships keep the periods they already paid for.
func (h *PlanHandler) Update(c *gin.Context) {
	plan, err := h.planRepo.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil || plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		return
	}

	var req models.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	plan.Name = req.Name
	plan.Amount = amount
	if req.Currency != "" {
		plan.Currency = req.Currency
	}
	plan.DurationMonths = req.DurationMonths
	plan.MaxPayoutLevels = req.MaxPayoutLevels
	plan.HasDirectBonus = req.HasDirectBonus
	plan.Visible = req.Visible
	plan.UpdatedAt = time.Now()

	if err := h.planRepo.Update(c.Request.Context(), plan); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update plan"})
		return
	}

	h.invalidateCache(c)
	c.JSON(http.StatusOK, toPlanResponse(plan))
}

func (h *PlanHandler) invalidateCache(c *gin.Context) {
	if h.redis != nil {
		h.redis.InvalidateCache(c.Request.Context(), "plans:*")
	}
}
