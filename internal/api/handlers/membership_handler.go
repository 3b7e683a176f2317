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
// Membership Handler
// ============================================

type MembershipHandler struct {
	membershipService service.MembershipService
}

// Activate applies a paid membership period to a member
func (h *MembershipHandler) Activate(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	memberID := c.Param("id")
	if memberID == "me" {
		memberID = actor.MemberID
	}

	var req models.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	result, err := h.membershipService.Activate(c.Request.Context(), actor, &service.ActivateRequest{
		MemberID:   memberID,
		PlanID:     req.PlanID,
		Amount:     amount,
		CouponCode: req.CouponCode,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "Cannot activate another member's membership"})
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Member or plan not found"})
		case errors.Is(err, service.ErrAmountMismatch):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Amount does not match plan price"})
		case errors.Is(err, service.ErrCouponNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Coupon not found"})
		case errors.Is(err, service.ErrCouponRedeemed):
			c.JSON(http.StatusConflict, gin.H{"error": "Coupon already redeemed"})
		case errors.Is(err, service.ErrCouponExpired):
			c.JSON(http.StatusGone, gin.H{"error": "Coupon expired"})
		case errors.Is(err, service.ErrCouponConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Coupon could not be redeemed"})
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activation data"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate membership"})
		}
		return
	}

	resp := gin.H{
		"member":      toMemberResponse(result.Member),
		"periodStart": result.PeriodStart,
		"periodEnd":   result.PeriodEnd,
	}
	if result.Placement != nil {
		resp["placement"] = gin.H{
			"status":   result.Placement.Status,
			"parentId": result.Placement.ParentID,
			"level":    result.Placement.Level,
		}
	}
	if result.Distribution != nil {
		resp["payouts"] = gin.H{
			"status": result.Distribution.Status,
			"count":  result.Distribution.PayoutCount,
			"total":  result.Distribution.TotalPaid.StringFixed(2),
		}
	}
	if result.CouponUsed != nil {
		resp["coupon"] = toCouponResponse(result.CouponUsed)
	}

	c.JSON(http.StatusOK, resp)
}

// GetHistory returns a member's activation history
func (h *MembershipHandler) GetHistory(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	memberID := c.Param("id")
	if memberID == "me" {
		memberID = actor.MemberID
	}

	history, err := h.membershipService.History(c.Request.Context(), actor, memberID)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Cannot view another member's history"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	response := make([]models.ActivationResponse, len(history))
	for i, a := range history {
		response[i] = toActivationResponse(a)
	}
	c.JSON(http.StatusOK, response)
}
