package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/repository"
)

func newWalletEnv(t *testing.T, balance int64) (*testEnv, WalletService, *repository.Member) {
	t.Helper()
	env := newTestEnv()
	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
		WalletBalance: decimal.NewFromInt(balance),
	})
	wallet := NewWalletService(env.repos.MemberRepo, env.repos.WithdrawalRepo, nil)
	return env, wallet, member
}

func TestRequestWithdrawal_Validation(t *testing.T) {
	_, wallet, member := newWalletEnv(t, 50)
	ctx := context.Background()
	actor := MemberActor(member.ID)

	tests := []struct {
		name        string
		amount      decimal.Decimal
		method      string
		reference   string
		expectedErr error
	}{
		{"BelowMinimum", decimal.NewFromFloat(0.5), "bank", "IBAN123", ErrInvalidInput},
		{"UnknownMethod", decimal.NewFromInt(10), "cheque", "ref", ErrInvalidInput},
		{"MissingReference", decimal.NewFromInt(10), "paypal", "", ErrInvalidInput},
		{"ExceedsBalance", decimal.NewFromInt(100), "bank", "IBAN123", ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wallet.RequestWithdrawal(ctx, actor, member.ID, tt.amount, tt.method, tt.reference)
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("expected %v, got %v", tt.expectedErr, err)
			}
		})
	}

	w, err := wallet.RequestWithdrawal(ctx, actor, member.ID, decimal.NewFromInt(30), "crypto", "0xabc")
	if err != nil {
		t.Fatalf("valid request: %v", err)
	}
	if w.Status != "pending" {
		t.Errorf("status = %s, expected pending", w.Status)
	}
}

func TestRequestWithdrawal_CannotActForOthers(t *testing.T) {
	_, wallet, member := newWalletEnv(t, 50)

	_, err := wallet.RequestWithdrawal(context.Background(), MemberActor("intruder"), member.ID,
		decimal.NewFromInt(10), "bank", "IBAN123")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestSetWithdrawalStatus_LifecycleDebitsOnPaid(t *testing.T) {
	env, wallet, member := newWalletEnv(t, 100)
	ctx := context.Background()
	admin := AdminActor("admin-1")

	w, err := wallet.RequestWithdrawal(ctx, MemberActor(member.ID), member.ID,
		decimal.NewFromInt(40), "bank", "IBAN123")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// pending cannot jump straight to paid.
	if _, err := wallet.SetWithdrawalStatus(ctx, admin, w.ID, "paid"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->paid: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := wallet.SetWithdrawalStatus(ctx, admin, w.ID, "approved"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Approval alone does not move money.
	got, _ := env.repos.MemberRepo.FindByID(ctx, member.ID)
	if !got.WalletBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance after approval = %s, expected 100", got.WalletBalance)
	}

	paid, err := wallet.SetWithdrawalStatus(ctx, admin, w.ID, "paid")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != "paid" {
		t.Errorf("status = %s, expected paid", paid.Status)
	}
	got, _ = env.repos.MemberRepo.FindByID(ctx, member.ID)
	if !got.WalletBalance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("balance after payment = %s, expected 60", got.WalletBalance)
	}

	// Terminal states reject further transitions.
	if _, err := wallet.SetWithdrawalStatus(ctx, admin, w.ID, "rejected"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("paid->rejected: expected ErrInvalidTransition, got %v", err)
	}
}

func TestSetWithdrawalStatus_RevertsWhenBalanceDropped(t *testing.T) {
	env, wallet, member := newWalletEnv(t, 100)
	ctx := context.Background()
	admin := AdminActor("admin-1")

	w, _ := wallet.RequestWithdrawal(ctx, MemberActor(member.ID), member.ID,
		decimal.NewFromInt(80), "bank", "IBAN123")
	if _, err := wallet.SetWithdrawalStatus(ctx, admin, w.ID, "approved"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Balance shrinks between approval and payment.
	if ok, _ := env.repos.MemberRepo.DebitWallet(ctx, member.ID, decimal.NewFromInt(50)); !ok {
		t.Fatal("setup debit failed")
	}

	_, err := wallet.SetWithdrawalStatus(ctx, admin, w.ID, "paid")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The withdrawal went back to approved so it can be re-decided.
	stored, _ := env.repos.WithdrawalRepo.FindByID(ctx, w.ID)
	if stored.Status != "approved" {
		t.Errorf("status after failed payment = %s, expected approved", stored.Status)
	}
	got, _ := env.repos.MemberRepo.FindByID(ctx, member.ID)
	if !got.WalletBalance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance = %s, expected untouched 50", got.WalletBalance)
	}
}

func TestSetWithdrawalStatus_AdminOnly(t *testing.T) {
	_, wallet, member := newWalletEnv(t, 100)
	ctx := context.Background()

	w, _ := wallet.RequestWithdrawal(ctx, MemberActor(member.ID), member.ID,
		decimal.NewFromInt(10), "bank", "IBAN123")

	_, err := wallet.SetWithdrawalStatus(ctx, MemberActor(member.ID), w.ID, "approved")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for member actor, got %v", err)
	}

	if _, err := wallet.PendingWithdrawals(ctx, MemberActor(member.ID)); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden listing pending as member, got %v", err)
	}
}
