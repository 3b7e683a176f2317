package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/api/middleware"
	"github.com/nivelo/matrix-backend/internal/models"
	"github.com/nivelo/matrix-backend/internal/service"
)

// ============================================
// Coupon Handler
// ============================================

type CouponHandler struct {
	couponService service.CouponService
}

// Issue creates a coupon for a member (admin only, enforced by router)
func (h *CouponHandler) Issue(c *gin.Context) {
	var req models.IssueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amountOff, err := decimal.NewFromString(req.AmountOff)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	coupon, err := h.couponService.Issue(c.Request.Context(), req.OwnerID, amountOff, req.Currency, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coupon data"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue coupon"})
		return
	}

	c.JSON(http.StatusCreated, toCouponResponse(coupon))
}

// ListMine returns the caller's coupons
func (h *CouponHandler) ListMine(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	coupons, err := h.couponService.ListByOwner(c.Request.Context(), actor.MemberID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load coupons"})
		return
	}

	response := make([]models.CouponResponse, len(coupons))
	for i, cp := range coupons {
		response[i] = toCouponResponse(cp)
	}
	c.JSON(http.StatusOK, response)
}

// Preview looks up a coupon without consuming it
func (h *CouponHandler) Preview(c *gin.Context) {
	coupon, err := h.couponService.Preview(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, service.ErrCouponNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Coupon not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load coupon"})
		return
	}

	c.JSON(http.StatusOK, toCouponResponse(coupon))
}
