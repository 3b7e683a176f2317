package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nivelo/matrix-backend/internal/api/middleware"
	"github.com/nivelo/matrix-backend/internal/models"
	"github.com/nivelo/matrix-backend/internal/repository"
	"github.com/nivelo/matrix-backend/internal/service"
)

// ============================================
// Member Handler
// ============================================

type MemberHandler struct {
	memberService   service.MembershipService
	referralService service.ReferralService
	memberRepo      repository.MemberRepository
}

// GetCurrentMember returns the caller's own record, with the active flag
// reconciled against the period end.
func (h *MemberHandler) GetCurrentMember(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	member, err := h.memberService.EnsureActiveFlag(c.Request.Context(), actor.MemberID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	c.JSON(http.StatusOK, toMemberResponse(member))
}

// UpdateCurrentMember updates the caller's profile
func (h *MemberHandler) UpdateCurrentMember(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.memberRepo.UpdateProfile(c.Request.Context(), actor.MemberID, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}

	member, err := h.memberRepo.FindByID(c.Request.Context(), actor.MemberID)
	if err != nil || member == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	c.JSON(http.StatusOK, toMemberResponse(member))
}

// GetTree returns the subtree below a member, bounded in depth
func (h *MemberHandler) GetTree(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	memberID := c.Param("id")
	if memberID == "me" {
		memberID = actor.MemberID
	}
	if !actor.CanActOn(memberID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot view another member's network"})
		return
	}

	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "3"))

	tree, err := h.referralService.Tree(c.Request.Context(), memberID, depth)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load network"})
		return
	}

	c.JSON(http.StatusOK, toTreeNodeResponse(tree))
}
