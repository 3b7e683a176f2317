package models

import "time"

// ============================================
// Request DTOs
// ============================================

type RegisterRequest struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	InviterCode string `json:"inviterCode"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type UpdateProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

type ActivateRequest struct {
	PlanID     string `json:"planId" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	CouponCode string `json:"couponCode"`
	PaymentRef string `json:"paymentRef"`
}

type CreatePlanRequest struct {
	Name            string `json:"name" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Currency        string `json:"currency"`
	DurationMonths  int    `json:"durationMonths" binding:"required,min=1"`
	MaxPayoutLevels int    `json:"maxPayoutLevels" binding:"required,min=1,max=7"`
	HasDirectBonus  bool   `json:"hasDirectBonus"`
	Visible         bool   `json:"visible"`
}

type IssueCouponRequest struct {
	OwnerID   string     `json:"ownerId" binding:"required"`
	AmountOff string     `json:"amountOff" binding:"required"`
	Currency  string     `json:"currency"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type WithdrawalRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Method    string `json:"method" binding:"required,oneof=bank paypal crypto"`
	Reference string `json:"reference" binding:"required"`
}

type WithdrawalStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=approved rejected paid"`
}

// ============================================
// Response DTOs
// ============================================

type MemberResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	ReferralCode     string     `json:"referralCode"`
	ParentID         *string    `json:"parentId,omitempty"`
	Level            int        `json:"level"`
	ChildrenCount    int        `json:"childrenCount"`
	MembershipActive bool       `json:"membershipActive"`
	PeriodStart      *time.Time `json:"periodStart,omitempty"`
	PeriodEnd        *time.Time `json:"periodEnd,omitempty"`
	PlanID           *string    `json:"planId,omitempty"`
	WalletBalance    string     `json:"walletBalance"`
	TotalEarned      string     `json:"totalEarned"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type AuthResponse struct {
	Member       MemberResponse `json:"member"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

type PlanResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	DurationMonths  int    `json:"durationMonths"`
	MaxPayoutLevels int    `json:"maxPayoutLevels"`
	HasDirectBonus  bool   `json:"hasDirectBonus"`
	Visible         bool   `json:"visible"`
}

type TreeNodeResponse struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ReferralCode     string             `json:"referralCode"`
	Level            int                `json:"level"`
	ChildrenCount    int                `json:"childrenCount"`
	MembershipActive bool               `json:"membershipActive"`
	Children         []TreeNodeResponse `json:"children"`
}

type ActivationResponse struct {
	MemberID    string    `json:"memberId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	CouponCode  string    `json:"couponCode,omitempty"`
	ActivatedAt time.Time `json:"activatedAt"`
}

type PayoutResponse struct {
	ID          string    `json:"id"`
	PayerID     string    `json:"payerId"`
	Level       int       `json:"level"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type MonthlyTotalResponse struct {
	Month string `json:"month"`
	Total string `json:"total"`
}

type CouponResponse struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	AmountOff string     `json:"amountOff"`
	Currency  string     `json:"currency"`
	Redeemed  bool       `json:"redeemed"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type WithdrawalResponse struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"memberId"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Method    string    `json:"method"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
