package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nivelo/matrix-backend/internal/api/middleware"
	"github.com/nivelo/matrix-backend/internal/models"
	"github.com/nivelo/matrix-backend/internal/service"
)

// ============================================
// Payout Handler
// ============================================

type PayoutHandler struct {
	payoutService service.PayoutService
}

// GetHistory returns the caller's commission payouts, newest first
func (h *PayoutHandler) GetHistory(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	payouts, err := h.payoutService.History(c.Request.Context(), actor.MemberID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payouts"})
		return
	}

	response := make([]models.PayoutResponse, len(payouts))
	for i, p := range payouts {
		response[i] = toPayoutResponse(p)
	}
	c.JSON(http.StatusOK, response)
}

// GetMonthlyTrend returns the caller's commission totals per month for the
// trailing twelve months, zero-filled.
func (h *PayoutHandler) GetMonthlyTrend(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	totals, err := h.payoutService.MonthlyTrend(c.Request.Context(), actor.MemberID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trend"})
		return
	}

	response := make([]models.MonthlyTotalResponse, len(totals))
	for i, t := range totals {
		response[i] = models.MonthlyTotalResponse{Month: t.Month, Total: t.Total.StringFixed(2)}
	}
	c.JSON(http.StatusOK, response)
}
