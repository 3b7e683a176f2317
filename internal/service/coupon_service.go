package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Coupon Service
// ============================================

type CouponService interface {
	// Redeem marks the coupon used by redeemerID. Exactly one concurrent
	// caller wins; everyone else gets a classified error.
	Redeem(ctx context.Context, code, redeemerID string) (*repository.Coupon, error)

	Issue(ctx context.Context, ownerID string, amountOff decimal.Decimal, currency string, expiresAt *time.Time) (*repository.Coupon, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*repository.Coupon, error)

	// Preview looks a coupon up without consuming it.
	Preview(ctx context.Context, code string) (*repository.Coupon, error)
}

type couponService struct {
	couponRepo repository.CouponRepository
	now        func() time.Time
}

func NewCouponService(couponRepo repository.CouponRepository) CouponService {
	return &couponService{couponRepo: couponRepo, now: time.Now}
}

func (s *couponService) Redeem(ctx context.Context, code, redeemerID string) (*repository.Coupon, error) {
	code = normalizeCouponCode(code)
	if code == "" || redeemerID == "" {
		return nil, ErrInvalidInput
	}

	now := s.now()
	coupon, err := s.couponRepo.Redeem(ctx, code, redeemerID, now)
	if err != nil {
		return nil, err
	}
	if coupon != nil {
		return coupon, nil
	}

	// The conditional update matched nothing. Re-read purely to say why; the
	// update above already decided that this caller does not get the coupon.
	existing, err := s.couponRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil:
		return nil, ErrCouponNotFound
	case existing.Redeemed:
		return nil, ErrCouponRedeemed
	case existing.ExpiresAt != nil && !existing.ExpiresAt.After(now):
		return nil, ErrCouponExpired
	default:
		// Raced with a state change we can no longer observe.
		return nil, ErrCouponConflict
	}
}

func (s *couponService) Issue(ctx context.Context, ownerID string, amountOff decimal.Decimal, currency string, expiresAt *time.Time) (*repository.Coupon, error) {
	if ownerID == "" || !amountOff.IsPositive() {
		return nil, ErrInvalidInput
	}
	if currency == "" {
		currency = "USD"
	}

	for i := 0; i < 8; i++ {
		code, err := generateCouponCode()
		if err != nil {
			return nil, err
		}
		clash, err := s.couponRepo.FindByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if clash != nil {
			continue
		}

		coupon := &repository.Coupon{
			ID:        uuid.New().String(),
			Code:      code,
			OwnerID:   ownerID,
			AmountOff: amountOff,
			Currency:  currency,
			SingleUse: true,
			ExpiresAt: expiresAt,
			CreatedAt: s.now(),
		}
		if err := s.couponRepo.Create(ctx, coupon); err != nil {
			return nil, err
		}
		return coupon, nil
	}
	return nil, ErrCouponConflict
}

func (s *couponService) ListByOwner(ctx context.Context, ownerID string) ([]*repository.Coupon, error) {
	return s.couponRepo.FindByOwner(ctx, ownerID)
}

func (s *couponService) Preview(ctx context.Context, code string) (*repository.Coupon, error) {
	coupon, err := s.couponRepo.FindByCode(ctx, normalizeCouponCode(code))
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateCouponCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
