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
// Wallet Handler
// ============================================

type WalletHandler struct {
	walletService service.WalletService
}

// GetBalance returns the caller's wallet balance and lifetime earnings
func (h *WalletHandler) GetBalance(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	member, err := h.walletService.Balance(c.Request.Context(), actor, actor.MemberID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":     member.WalletBalance.StringFixed(2),
		"totalEarned": member.WalletTotalEarned.StringFixed(2),
	})
}

// RequestWithdrawal creates a pending withdrawal for the caller
func (h *WalletHandler) RequestWithdrawal(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req models.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	w, err := h.walletService.RequestWithdrawal(c.Request.Context(), actor, actor.MemberID, amount, req.Method, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientBalance):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Insufficient wallet balance"})
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid withdrawal request"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to request withdrawal"})
		}
		return
	}

	c.JSON(http.StatusCreated, toWithdrawalResponse(w))
}

// ListWithdrawals returns the caller's withdrawal requests
func (h *WalletHandler) ListWithdrawals(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	withdrawals, err := h.walletService.ListWithdrawals(c.Request.Context(), actor, actor.MemberID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load withdrawals"})
		return
	}

	response := make([]models.WithdrawalResponse, len(withdrawals))
	for i, w := range withdrawals {
		response[i] = toWithdrawalResponse(w)
	}
	c.JSON(http.StatusOK, response)
}

// ListPending returns all pending withdrawals (admin only, enforced by router)
func (h *WalletHandler) ListPending(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	withdrawals, err := h.walletService.PendingWithdrawals(c.Request.Context(), actor)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load withdrawals"})
		return
	}

	response := make([]models.WithdrawalResponse, len(withdrawals))
	for i, w := range withdrawals {
		response[i] = toWithdrawalResponse(w)
	}
	c.JSON(http.StatusOK, response)
}

// SetStatus transitions a withdrawal (admin only, enforced by router)
func (h *WalletHandler) SetStatus(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req models.WithdrawalStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := h.walletService.SetWithdrawalStatus(c.Request.Context(), actor, c.Param("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, service.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Invalid status transition"})
		case errors.Is(err, service.ErrInsufficientBalance):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Insufficient wallet balance"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update withdrawal"})
		}
		return
	}

	c.JSON(http.StatusOK, toWithdrawalResponse(w))
}
