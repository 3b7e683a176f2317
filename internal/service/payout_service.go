package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Payout Service (commission distribution)
// ============================================

var (
	levelCommission    = decimal.NewFromInt(2) // flat amount per qualifying upline level
	directBonusRate    = decimal.NewFromFloat(0.10)
	maxCommissionDepth = matrixDepth
)

type DistributionStatus string

const (
	DistributionPaid        DistributionStatus = "paid"
	DistributionAlreadyPaid DistributionStatus = "already_paid"
	DistributionNoUpline    DistributionStatus = "no_upline"
)

type DistributionResult struct {
	Status      DistributionStatus
	PayoutCount int
	TotalPaid   decimal.Decimal
}

type PayoutService interface {
	// Distribute pays the upline commissions for one activation. It is
	// idempotent per activation key: repeat calls pay nothing extra.
	Distribute(ctx context.Context, activationKey, payerID string, plan *repository.Plan) (*DistributionResult, error)

	History(ctx context.Context, payeeID string, limit, offset int) ([]*repository.Payout, error)
	MonthlyTrend(ctx context.Context, payeeID string) ([]*repository.MonthlyTotal, error)
}

type payoutService struct {
	memberRepo repository.MemberRepository
	planRepo   repository.PlanRepository
	payoutRepo repository.PayoutRepository
}

func NewPayoutService(memberRepo repository.MemberRepository, planRepo repository.PlanRepository, payoutRepo repository.PayoutRepository) PayoutService {
	return &payoutService{
		memberRepo: memberRepo,
		planRepo:   planRepo,
		payoutRepo: payoutRepo,
	}
}

func (s *payoutService) Distribute(ctx context.Context, activationKey, payerID string, plan *repository.Plan) (*DistributionResult, error) {
	if activationKey == "" || payerID == "" || plan == nil {
		return nil, ErrInvalidInput
	}

	// Cheap fast path. The unique index on the payout rows stays the real
	// guard; this only avoids re-walking the upline on obvious replays.
	exists, err := s.payoutRepo.ExistsForActivation(ctx, activationKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return &DistributionResult{Status: DistributionAlreadyPaid, TotalPaid: decimal.Zero}, nil
	}

	payer, err := s.memberRepo.FindByID(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if payer == nil {
		return nil, ErrNotFound
	}
	if len(payer.Ancestors) == 0 {
		return &DistributionResult{Status: DistributionNoUpline, TotalPaid: decimal.Zero}, nil
	}

	// Ancestors are stored root-first; walk them nearest-first so the direct
	// parent is level 1.
	upline := make([]string, 0, len(payer.Ancestors))
	for i := len(payer.Ancestors) - 1; i >= 0; i-- {
		upline = append(upline, payer.Ancestors[i])
	}
	if len(upline) > maxCommissionDepth {
		upline = upline[:maxCommissionDepth]
	}

	total := decimal.Zero
	count := 0
	planCache := map[string]*repository.Plan{plan.ID: plan}
	for i, payeeID := range upline {
		level := i + 1

		payee, err := s.memberRepo.FindByID(ctx, payeeID)
		if err != nil {
			return nil, err
		}
		if payee == nil {
			log.Printf("⚠️ Payout skipped: upline member %s missing (activation %s)", payeeID, activationKey)
			continue
		}

		// Eligibility is judged against the payee's own plan, not the plan
		// the payer just bought. A payee who never bought in earns nothing.
		if payee.PlanID == nil {
			continue
		}
		payeePlan, err := s.lookupPlan(ctx, planCache, *payee.PlanID)
		if err != nil {
			return nil, err
		}
		if payeePlan == nil {
			log.Printf("⚠️ Payout skipped: plan %s for payee %s missing (activation %s)", *payee.PlanID, payeeID, activationKey)
			continue
		}

		// Direct sale bonus goes to the sponsor regardless of their own
		// membership state, as long as their plan carries the bonus. The
		// amount is a cut of what the payer paid.
		if level == 1 && payeePlan.HasDirectBonus {
			bonus := plan.Amount.Mul(directBonusRate).Round(2)
			paid, err := s.pay(ctx, activationKey, payerID, payee.ID, level, bonus, plan.Currency, "direct bonus")
			if err != nil {
				if errors.Is(err, repository.ErrDuplicatePayout) {
					return &DistributionResult{Status: DistributionAlreadyPaid, PayoutCount: count, TotalPaid: total}, nil
				}
				return nil, err
			}
			if paid {
				total = total.Add(bonus)
				count++
			}
		}

		if !payee.MembershipActive {
			continue
		}
		maxLevels := payeePlan.MaxPayoutLevels
		if maxLevels <= 0 || maxLevels > maxCommissionDepth {
			maxLevels = maxCommissionDepth
		}
		if level > maxLevels {
			continue
		}

		paid, err := s.pay(ctx, activationKey, payerID, payee.ID, level, levelCommission, plan.Currency, "level commission")
		if err != nil {
			if errors.Is(err, repository.ErrDuplicatePayout) {
				return &DistributionResult{Status: DistributionAlreadyPaid, PayoutCount: count, TotalPaid: total}, nil
			}
			return nil, err
		}
		if paid {
			total = total.Add(levelCommission)
			count++
		}
	}

	return &DistributionResult{Status: DistributionPaid, PayoutCount: count, TotalPaid: total}, nil
}

// lookupPlan fetches a plan once per distribution run; upline members on the
// same plan share the cached row.
func (s *payoutService) lookupPlan(ctx context.Context, cache map[string]*repository.Plan, planID string) (*repository.Plan, error) {
	if p, ok := cache[planID]; ok {
		return p, nil
	}
	p, err := s.planRepo.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	cache[planID] = p
	return p, nil
}

// pay persists one payout row and credits the payee's wallet. The insert
// comes first: if the dedup index rejects it the wallet is never touched.
func (s *payoutService) pay(ctx context.Context, activationKey, payerID, payeeID string, level int, amount decimal.Decimal, currency, description string) (bool, error) {
	payout := &repository.Payout{
		ID:            uuid.New().String(),
		ActivationKey: activationKey,
		PayerID:       payerID,
		PayeeID:       payeeID,
		Level:         level,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		CreatedAt:     time.Now(),
	}
	if err := s.payoutRepo.Create(ctx, payout); err != nil {
		return false, err
	}
	if err := s.memberRepo.CreditWallet(ctx, payeeID, amount); err != nil {
		return false, err
	}
	log.Printf("💰 Payout: %s %s to %s (level %d, %s)", amount.StringFixed(2), currency, payeeID, level, description)
	return true, nil
}

func (s *payoutService) History(ctx context.Context, payeeID string, limit, offset int) ([]*repository.Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.payoutRepo.FindByPayee(ctx, payeeID, limit, offset)
}

func (s *payoutService) MonthlyTrend(ctx context.Context, payeeID string) ([]*repository.MonthlyTotal, error) {
	return s.payoutRepo.MonthlyTotals(ctx, payeeID, 12)
}
