package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/repository"
)

func seedCoupon(t *testing.T, env *testEnv, code string, expiresAt *time.Time) {
	t.Helper()
	err := env.repos.CouponRepo.Create(context.Background(), &repository.Coupon{
		ID:        uuid.New().String(),
		Code:      code,
		OwnerID:   "owner-1",
		AmountOff: decimal.NewFromInt(10),
		Currency:  "USD",
		SingleUse: true,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

func TestRedeem_MarksCouponUsed(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedCoupon(t, env, "WELCOME1", nil)

	coupon, err := env.coupon.Redeem(ctx, "welcome1", "member-1")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !coupon.Redeemed {
		t.Error("returned coupon should be marked redeemed")
	}
	if coupon.RedeemedBy == nil || *coupon.RedeemedBy != "member-1" {
		t.Errorf("redeemedBy = %v, expected member-1", coupon.RedeemedBy)
	}
	if coupon.RedeemedAt == nil {
		t.Error("redeemedAt should be set")
	}
}

func TestRedeem_ClassifiesFailures(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	seedCoupon(t, env, "USED0001", nil)
	seedCoupon(t, env, "OLD00001", &past)
	if _, err := env.coupon.Redeem(ctx, "USED0001", "member-1"); err != nil {
		t.Fatalf("setup redeem: %v", err)
	}

	tests := []struct {
		name        string
		code        string
		expectedErr error
	}{
		{"AlreadyRedeemed", "USED0001", ErrCouponRedeemed},
		{"Expired", "OLD00001", ErrCouponExpired},
		{"NotFound", "NOPE0000", ErrCouponNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coupon.Redeem(ctx, tt.code, "member-2")
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("Redeem(%s) = %v, expected %v", tt.code, err, tt.expectedErr)
			}
		})
	}
}

func TestRedeem_ConcurrentRedeemersSingleWinner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedCoupon(t, env, "RACE0001", nil)

	const redeemers = 8
	var wg sync.WaitGroup
	results := make([]error, redeemers)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.coupon.Redeem(ctx, "RACE0001", uuid.New().String())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrCouponRedeemed) || errors.Is(err, ErrCouponConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, expected exactly 1", winners)
	}
}

func TestIssue_GeneratesSingleUseCoupon(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	coupon, err := env.coupon.Issue(ctx, "owner-1", decimal.NewFromInt(25), "", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(coupon.Code) != 6 {
		t.Errorf("code length = %d, expected 6", len(coupon.Code))
	}
	if !coupon.SingleUse {
		t.Error("issued coupons are single use")
	}
	if coupon.Currency != "USD" {
		t.Errorf("currency = %s, expected USD default", coupon.Currency)
	}

	mine, _ := env.coupon.ListByOwner(ctx, "owner-1")
	if len(mine) != 1 {
		t.Errorf("owner coupons = %d, expected 1", len(mine))
	}
}

func TestIssue_RejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv()

	_, err := env.coupon.Issue(context.Background(), "owner-1", decimal.Zero, "USD", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
