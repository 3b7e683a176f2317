package handlers

import (
	"github.com/nivelo/matrix-backend/internal/db"
	"github.com/nivelo/matrix-backend/internal/models"
	"github.com/nivelo/matrix-backend/internal/repository"
	"github.com/nivelo/matrix-backend/internal/service"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	Auth       *AuthHandler
	Member     *MemberHandler
	Membership *MembershipHandler
	Payout     *PayoutHandler
	Coupon     *CouponHandler
	Wallet     *WalletHandler
	Plan       *PlanHandler
}

// NewHandlers creates all handlers
func NewHandlers(services *service.Services, repos *repository.Repositories, redis *db.RedisDB) *Handlers {
	return &Handlers{
		Auth:       &AuthHandler{authService: services.Auth},
		Member:     &MemberHandler{memberService: services.Membership, referralService: services.Referral, memberRepo: repos.MemberRepo},
		Membership: &MembershipHandler{membershipService: services.Membership},
		Payout:     &PayoutHandler{payoutService: services.Payout},
		Coupon:     &CouponHandler{couponService: services.Coupon},
		Wallet:     &WalletHandler{walletService: services.Wallet},
		Plan:       &PlanHandler{planRepo: repos.PlanRepo, redis: redis},
	}
}

// ============================================
// Response Mappers
// ============================================

func toMemberResponse(m *repository.Member) models.MemberResponse {
	return models.MemberResponse{
		ID:               m.ID,
		Email:            m.Email,
		Name:             m.Name,
		Role:             m.Role,
		ReferralCode:     m.ReferralCode,
		ParentID:         m.ParentID,
		Level:            m.Level,
		ChildrenCount:    m.ChildrenCount,
		MembershipActive: m.MembershipActive,
		PeriodStart:      m.CurrentPeriodStart,
		PeriodEnd:        m.CurrentPeriodEnd,
		PlanID:           m.PlanID,
		WalletBalance:    m.WalletBalance.StringFixed(2),
		TotalEarned:      m.WalletTotalEarned.StringFixed(2),
		CreatedAt:        m.CreatedAt,
	}
}

func toPlanResponse(p *repository.Plan) models.PlanResponse {
	return models.PlanResponse{
		ID:              p.ID,
		Name:            p.Name,
		Amount:          p.Amount.StringFixed(2),
		Currency:        p.Currency,
		DurationMonths:  p.DurationMonths,
		MaxPayoutLevels: p.MaxPayoutLevels,
		HasDirectBonus:  p.HasDirectBonus,
		Visible:         p.Visible,
	}
}

func toTreeNodeResponse(n *service.TreeNode) models.TreeNodeResponse {
	resp := models.TreeNodeResponse{
		ID:               n.ID,
		Name:             n.Name,
		ReferralCode:     n.ReferralCode,
		Level:            n.Level,
		ChildrenCount:    n.ChildrenCount,
		MembershipActive: n.MembershipActive,
		Children:         make([]models.TreeNodeResponse, 0, len(n.Children)),
	}
	for _, child := range n.Children {
		resp.Children = append(resp.Children, toTreeNodeResponse(child))
	}
	return resp
}

func toActivationResponse(a *repository.Activation) models.ActivationResponse {
	resp := models.ActivationResponse{
		MemberID:    a.MemberID,
		PeriodStart: a.PeriodStart,
		PeriodEnd:   a.PeriodEnd,
		Amount:      a.Amount.StringFixed(2),
		Currency:    a.Currency,
		ActivatedAt: a.ActivatedAt,
	}
	if a.Meta != nil {
		if code, ok := a.Meta["coupon"].(string); ok {
			resp.CouponCode = code
		}
	}
	return resp
}

func toPayoutResponse(p *repository.Payout) models.PayoutResponse {
	return models.PayoutResponse{
		ID:          p.ID,
		PayerID:     p.PayerID,
		Level:       p.Level,
		Amount:      p.Amount.StringFixed(2),
		Currency:    p.Currency,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func toCouponResponse(c *repository.Coupon) models.CouponResponse {
	return models.CouponResponse{
		ID:        c.ID,
		Code:      c.Code,
		AmountOff: c.AmountOff.StringFixed(2),
		Currency:  c.Currency,
		Redeemed:  c.Redeemed,
		ExpiresAt: c.ExpiresAt,
	}
}

func toWithdrawalResponse(w *repository.Withdrawal) models.WithdrawalResponse {
	return models.WithdrawalResponse{
		ID:        w.ID,
		MemberID:  w.MemberID,
		Amount:    w.Amount.StringFixed(2),
		Status:    w.Status,
		Method:    w.Method,
		Reference: w.Reference,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
