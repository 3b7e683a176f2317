package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/email"
	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Wallet Service (balances + withdrawals)
// ============================================

var minWithdrawal = decimal.NewFromInt(1)

var withdrawalMethods = map[string]bool{
	"bank":   true,
	"paypal": true,
	"crypto": true,
}

// Allowed status transitions. Funds only leave the wallet on the
// approved -> paid step.
var withdrawalTransitions = map[string][]string{
	"pending":  {"approved", "rejected"},
	"approved": {"paid"},
}

type WalletService interface {
	Balance(ctx context.Context, actor Actor, memberID string) (*repository.Member, error)
	RequestWithdrawal(ctx context.Context, actor Actor, memberID string, amount decimal.Decimal, method, reference string) (*repository.Withdrawal, error)
	ListWithdrawals(ctx context.Context, actor Actor, memberID string) ([]*repository.Withdrawal, error)
	PendingWithdrawals(ctx context.Context, actor Actor) ([]*repository.Withdrawal, error)
	SetWithdrawalStatus(ctx context.Context, actor Actor, withdrawalID, toStatus string) (*repository.Withdrawal, error)
}

type walletService struct {
	memberRepo     repository.MemberRepository
	withdrawalRepo repository.WithdrawalRepository
	emailSvc       *email.Service
}

func NewWalletService(memberRepo repository.MemberRepository, withdrawalRepo repository.WithdrawalRepository, emailSvc *email.Service) WalletService {
	return &walletService{
		memberRepo:     memberRepo,
		withdrawalRepo: withdrawalRepo,
		emailSvc:       emailSvc,
	}
}

func (s *walletService) Balance(ctx context.Context, actor Actor, memberID string) (*repository.Member, error) {
	if !actor.CanActOn(memberID) {
		return nil, ErrForbidden
	}
	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFound
	}
	return member, nil
}

func (s *walletService) RequestWithdrawal(ctx context.Context, actor Actor, memberID string, amount decimal.Decimal, method, reference string) (*repository.Withdrawal, error) {
	if !actor.CanActOn(memberID) {
		return nil, ErrForbidden
	}
	if !withdrawalMethods[method] || reference == "" {
		return nil, ErrInvalidInput
	}
	if amount.LessThan(minWithdrawal) {
		return nil, ErrInvalidInput
	}

	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFound
	}
	// Advisory check only. The balance is debited when the withdrawal is
	// paid; the conditional debit re-checks it then.
	if amount.GreaterThan(member.WalletBalance) {
		return nil, ErrInsufficientBalance
	}

	now := time.Now()
	w := &repository.Withdrawal{
		ID:        uuid.New().String(),
		MemberID:  memberID,
		Amount:    amount,
		Status:    "pending",
		Method:    method,
		Reference: reference,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.withdrawalRepo.Create(ctx, w); err != nil {
		return nil, err
	}
	log.Printf("💸 Withdrawal requested: %s %s by member %s via %s", amount.StringFixed(2), "USD", memberID, method)
	return w, nil
}

func (s *walletService) ListWithdrawals(ctx context.Context, actor Actor, memberID string) ([]*repository.Withdrawal, error) {
	if !actor.CanActOn(memberID) {
		return nil, ErrForbidden
	}
	return s.withdrawalRepo.FindByMember(ctx, memberID)
}

func (s *walletService) PendingWithdrawals(ctx context.Context, actor Actor) ([]*repository.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.withdrawalRepo.FindByStatus(ctx, "pending")
}

func (s *walletService) SetWithdrawalStatus(ctx context.Context, actor Actor, withdrawalID, toStatus string) (*repository.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	w, err := s.withdrawalRepo.FindByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrNotFound
	}

	allowed := false
	for _, next := range withdrawalTransitions[w.Status] {
		if next == toStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidTransition
	}

	ok, err := s.withdrawalRepo.UpdateStatus(ctx, withdrawalID, w.Status, toStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another admin transitioned it first.
		return nil, ErrInvalidTransition
	}

	if toStatus == "paid" {
		debited, err := s.memberRepo.DebitWallet(ctx, w.MemberID, w.Amount)
		if err != nil {
			return nil, err
		}
		if !debited {
			// Balance dropped below the payout amount since approval. Put
			// the withdrawal back so an admin can re-decide it.
			if _, revertErr := s.withdrawalRepo.UpdateStatus(ctx, withdrawalID, "paid", "approved"); revertErr != nil {
				log.Printf("⚠️ Could not revert withdrawal %s after failed debit: %v", withdrawalID, revertErr)
			}
			return nil, ErrInsufficientBalance
		}
	}

	w.Status = toStatus
	w.UpdatedAt = time.Now()

	if s.emailSvc != nil {
		if member, err := s.memberRepo.FindByID(ctx, w.MemberID); err == nil && member != nil {
			go s.emailSvc.SendWithdrawalUpdate(member.Email, member.Name, toStatus, w.Amount.StringFixed(2))
		}
	}

	log.Printf("✅ Withdrawal %s: %s", withdrawalID, toStatus)
	return w, nil
}
