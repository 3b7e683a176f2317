package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/email"
	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Membership Service (activation + periods)
// ============================================

type ActivateRequest struct {
	MemberID   string
	PlanID     string
	Amount     decimal.Decimal
	Currency   string
	CouponCode string
	PaymentRef string
}

type ActivateResult struct {
	Member       *repository.Member
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Placement    *PlacementResult
	Distribution *DistributionResult
	CouponUsed   *repository.Coupon
}

type MembershipService interface {
	// Activate applies one paid period to a member: extend or restart the
	// membership window, place the member into the matrix on first
	// activation, and distribute upline commissions.
	Activate(ctx context.Context, actor Actor, req *ActivateRequest) (*ActivateResult, error)

	// EnsureActiveFlag reconciles the stored active flag against the period
	// end, returning the member's current state.
	EnsureActiveFlag(ctx context.Context, memberID string) (*repository.Member, error)

	History(ctx context.Context, actor Actor, memberID string) ([]*repository.Activation, error)
	ExpireLapsed(ctx context.Context) (int, error)
}

type membershipService struct {
	memberRepo  repository.MemberRepository
	planRepo    repository.PlanRepository
	historyRepo repository.HistoryRepository
	referralSvc ReferralService
	payoutSvc   PayoutService
	couponSvc   CouponService
	emailSvc    *email.Service
	now         func() time.Time
}

func NewMembershipService(
	memberRepo repository.MemberRepository,
	planRepo repository.PlanRepository,
	historyRepo repository.HistoryRepository,
	referralSvc ReferralService,
	payoutSvc PayoutService,
	couponSvc CouponService,
	emailSvc *email.Service,
) MembershipService {
	return &membershipService{
		memberRepo:  memberRepo,
		planRepo:    planRepo,
		historyRepo: historyRepo,
		referralSvc: referralSvc,
		payoutSvc:   payoutSvc,
		couponSvc:   couponSvc,
		emailSvc:    emailSvc,
		now:         time.Now,
	}
}

// NextPeriod computes the window a new activation pays for. A renewal made
// while the current period is still running chains onto its end; anything
// else starts now.
func NextPeriod(currentEnd *time.Time, now time.Time, months int) (time.Time, time.Time) {
	start := now
	if currentEnd != nil && currentEnd.After(now) {
		start = *currentEnd
	}
	return start, addMonths(start, months)
}

// addMonths advances by calendar months, clamping to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	targetY := y
	targetM := int(m) + months
	for targetM > 12 {
		targetM -= 12
		targetY++
	}
	for targetM < 1 {
		targetM += 12
		targetY--
	}
	last := daysIn(targetY, time.Month(targetM))
	if d > last {
		d = last
	}
	return time.Date(targetY, time.Month(targetM), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ActivationKey identifies one activation for payout dedup purposes.
func ActivationKey(memberID string, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s", memberID, periodStart.UTC().Format(time.RFC3339))
}

func (s *membershipService) Activate(ctx context.Context, actor Actor, req *ActivateRequest) (*ActivateResult, error) {
	if req == nil || req.MemberID == "" || req.PlanID == "" {
		return nil, ErrInvalidInput
	}
	if !actor.CanActOn(req.MemberID) {
		return nil, ErrForbidden
	}

	member, err := s.memberRepo.FindByID(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFound
	}

	plan, err := s.planRepo.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrNotFound
	}
	if !plan.Visible && !actor.IsAdmin() {
		// Hidden plans are admin-assignable only.
		return nil, ErrNotFound
	}

	expected := plan.Amount
	if req.CouponCode != "" {
		// Price check against a non-consuming read first, so a mismatched
		// payment does not burn the coupon.
		preview, err := s.couponSvc.Preview(ctx, req.CouponCode)
		if err != nil {
			return nil, err
		}
		expected = expected.Sub(preview.AmountOff)
		if expected.IsNegative() {
			expected = decimal.Zero
		}
	}
	if !req.Amount.Equal(expected) {
		return nil, ErrAmountMismatch
	}

	var coupon *repository.Coupon
	if req.CouponCode != "" {
		// The conditional update decides who gets the coupon; a lost race
		// aborts the activation before any membership state changes.
		coupon, err = s.couponSvc.Redeem(ctx, req.CouponCode, req.MemberID)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	periodStart, periodEnd := NextPeriod(member.CurrentPeriodEnd, now, plan.DurationMonths)
	firstActivation := member.FirstActivatedAt == nil

	if err := s.memberRepo.UpdateMembership(ctx, member.ID, &repository.MembershipUpdate{
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		FirstActivatedAt: now,
		PlanID:           plan.ID,
	}); err != nil {
		return nil, err
	}

	activation := &repository.Activation{
		ID:          uuid.New().String(),
		MemberID:    member.ID,
		ActivatedAt: now,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Amount:      req.Amount,
		Currency:    plan.Currency,
	}
	if req.PaymentRef != "" {
		activation.PaymentRef = &req.PaymentRef
	}
	if coupon != nil {
		activation.Meta = map[string]interface{}{"coupon": coupon.Code}
	}
	if err := s.historyRepo.Append(ctx, activation); err != nil {
		return nil, err
	}

	result := &ActivateResult{
		Member:      member,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		CouponUsed:  coupon,
	}

	// First activation attaches the member into the sponsor's matrix. A
	// placement failure never fails the activation: the member keeps the
	// paid period and placement is retried on the next activation.
	if firstActivation && !member.PlacementLocked && member.RootID != nil {
		placement, err := s.referralSvc.Place(ctx, member.ID, *member.RootID)
		if err != nil {
			log.Printf("⚠️ Placement failed for member %s: %v", member.ID, err)
		} else {
			result.Placement = placement
		}
	}

	distribution, err := s.payoutSvc.Distribute(ctx, ActivationKey(member.ID, periodStart), member.ID, plan)
	if err != nil {
		log.Printf("⚠️ Commission distribution failed for member %s: %v", member.ID, err)
	} else {
		result.Distribution = distribution
	}

	if s.emailSvc != nil {
		go s.emailSvc.SendActivationReceipt(member.Email, member.Name, plan.Name, periodEnd)
	}

	log.Printf("✅ Membership activated: %s on plan %s until %s", member.ID, plan.Name, periodEnd.Format(time.RFC3339))

	// Re-read so callers see the post-activation state.
	updated, err := s.memberRepo.FindByID(ctx, member.ID)
	if err == nil && updated != nil {
		result.Member = updated
	}
	return result, nil
}

func (s *membershipService) EnsureActiveFlag(ctx context.Context, memberID string) (*repository.Member, error) {
	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFound
	}

	shouldBeActive := member.CurrentPeriodEnd != nil && member.CurrentPeriodEnd.After(s.now())
	if member.MembershipActive != shouldBeActive {
		if err := s.memberRepo.SetMembershipActive(ctx, member.ID, shouldBeActive); err != nil {
			return nil, err
		}
		member.MembershipActive = shouldBeActive
	}
	return member, nil
}

func (s *membershipService) History(ctx context.Context, actor Actor, memberID string) ([]*repository.Activation, error) {
	if !actor.CanActOn(memberID) {
		return nil, ErrForbidden
	}
	return s.historyRepo.FindByMember(ctx, memberID)
}

// ExpireLapsed flips the active flag off for every member whose period has
// ended. The cron scheduler calls this hourly.
func (s *membershipService) ExpireLapsed(ctx context.Context) (int, error) {
	n, err := s.memberRepo.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("🕐 Membership sweep: deactivated %d lapsed members", n)
	}
	return n, nil
}
