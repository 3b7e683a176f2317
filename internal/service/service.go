package service

import (
	"errors"

	"github.com/nivelo/matrix-backend/internal/config"
	"github.com/nivelo/matrix-backend/internal/email"
	"github.com/nivelo/matrix-backend/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMemberExists       = errors.New("member already exists")
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")

	// Placement
	ErrNoRoot             = errors.New("member has no sponsor root")
	ErrMaxRetriesExceeded = errors.New("placement retries exhausted")

	// Coupons
	ErrCouponNotFound = errors.New("coupon not found")
	ErrCouponRedeemed = errors.New("coupon already redeemed")
	ErrCouponExpired  = errors.New("coupon expired")
	ErrCouponConflict = errors.New("coupon could not be redeemed")

	// Money
	ErrAmountMismatch      = errors.New("amount does not match plan price")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInvalidTransition   = errors.New("invalid withdrawal status transition")
)

// ============================================
// Actor
// ============================================

// ActorKind discriminates who is making a request. Authorization checks
// switch on it exhaustively; an unknown kind is never authorized.
type ActorKind int

const (
	ActorUnknown ActorKind = iota
	ActorAdmin
	ActorMember
)

type Actor struct {
	Kind     ActorKind
	MemberID string
}

func AdminActor(id string) Actor  { return Actor{Kind: ActorAdmin, MemberID: id} }
func MemberActor(id string) Actor { return Actor{Kind: ActorMember, MemberID: id} }

// CanActOn reports whether the actor may operate on the given member's
// records: admins on anyone, members only on themselves.
func (a Actor) CanActOn(memberID string) bool {
	switch a.Kind {
	case ActorAdmin:
		return true
	case ActorMember:
		return a.MemberID == memberID
	default:
		return false
	}
}

func (a Actor) IsAdmin() bool { return a.Kind == ActorAdmin }

// ============================================
// Services Container
// ============================================

type Services struct {
	Auth       AuthService
	Referral   ReferralService
	Payout     PayoutService
	Membership MembershipService
	Coupon     CouponService
	Wallet     WalletService
}

// ServiceDeps contains all dependencies needed to create services
type ServiceDeps struct {
	Config   *config.Config
	Repos    *repository.Repositories
	EmailSvc *email.Service
}

func NewServices(deps *ServiceDeps) *Services {
	referralService := NewReferralService(deps.Repos.MemberRepo)
	payoutService := NewPayoutService(deps.Repos.MemberRepo, deps.Repos.PlanRepo, deps.Repos.PayoutRepo)
	couponService := NewCouponService(deps.Repos.CouponRepo)

	return &Services{
		Auth:     NewAuthService(deps.Config, deps.Repos.MemberRepo, referralService, deps.EmailSvc),
		Referral: referralService,
		Payout:   payoutService,
		Membership: NewMembershipService(
			deps.Repos.MemberRepo,
			deps.Repos.PlanRepo,
			deps.Repos.HistoryRepo,
			referralService,
			payoutService,
			couponService,
			deps.EmailSvc,
		),
		Coupon: couponService,
		Wallet: NewWalletService(deps.Repos.MemberRepo, deps.Repos.WithdrawalRepo, deps.EmailSvc),
	}
}
