package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivelo/matrix-backend/internal/repository"
)

func TestNextPeriod(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		currentEnd    *time.Time
		months        int
		expectedStart time.Time
		expectedEnd   time.Time
	}{
		{
			name:          "FirstActivation_NoCurrentPeriod",
			currentEnd:    nil,
			months:        1,
			expectedStart: now,
			expectedEnd:   time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "Renewal_ChainsOntoRunningPeriod",
			currentEnd:    timePtr(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)),
			months:        1,
			expectedStart: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "Renewal_AfterLapse_StartsNow",
			currentEnd:    timePtr(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)),
			months:        1,
			expectedStart: now,
			expectedEnd:   time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "MultiMonthPlan",
			currentEnd:    nil,
			months:        3,
			expectedStart: now,
			expectedEnd:   time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := NextPeriod(tt.currentEnd, now, tt.months)
			if !start.Equal(tt.expectedStart) {
				t.Errorf("start = %v, expected %v", start, tt.expectedStart)
			}
			if !end.Equal(tt.expectedEnd) {
				t.Errorf("end = %v, expected %v", end, tt.expectedEnd)
			}
		})
	}
}

func TestAddMonths_ClampsToLastDay(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		months   int
		expected time.Time
	}{
		{
			name:     "Jan31_PlusOneMonth_Feb28",
			from:     time.Date(2025, 1, 31, 9, 30, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "Jan31_PlusOneMonth_LeapYear",
			from:     time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2024, 2, 29, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "May31_PlusOneMonth_Jun30",
			from:     time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "December_RollsIntoNextYear",
			from:     time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "TwelveMonths_SameDay",
			from:     time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			months:   12,
			expected: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addMonths(tt.from, tt.months)
			if !got.Equal(tt.expected) {
				t.Errorf("addMonths(%v, %d) = %v, expected %v", tt.from, tt.months, got, tt.expected)
			}
		})
	}
}

func TestActivationKey_StablePerPeriod(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	k1 := ActivationKey("member-1", start)
	k2 := ActivationKey("member-1", start.In(time.FixedZone("X", 3600)))
	if k1 != k2 {
		t.Errorf("same instant in different zones produced different keys: %q vs %q", k1, k2)
	}
	if k1 == ActivationKey("member-1", start.Add(time.Second)) {
		t.Error("different period starts must produce different keys")
	}
	if k1 == ActivationKey("member-2", start) {
		t.Error("different members must produce different keys")
	}
}

// ============================================
// Activation orchestration
// ============================================

type testEnv struct {
	repos      *repository.Repositories
	referral   ReferralService
	payout     PayoutService
	coupon     CouponService
	membership MembershipService
}

func newTestEnv() *testEnv {
	repos := repository.NewMemoryRepositories()
	referral := NewReferralService(repos.MemberRepo)
	payout := NewPayoutService(repos.MemberRepo, repos.PlanRepo, repos.PayoutRepo)
	coupon := NewCouponService(repos.CouponRepo)
	membership := NewMembershipService(repos.MemberRepo, repos.PlanRepo, repos.HistoryRepo, referral, payout, coupon, nil)
	return &testEnv{
		repos:      repos,
		referral:   referral,
		payout:     payout,
		coupon:     coupon,
		membership: membership,
	}
}

func (e *testEnv) addMember(t *testing.T, m *repository.Member) *repository.Member {
	t.Helper()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Role == "" {
		m.Role = "member"
	}
	if m.Ancestors == nil {
		m.Ancestors = []string{}
	}
	if m.Children == nil {
		m.Children = []string{}
	}
	if err := e.repos.MemberRepo.Create(context.Background(), m); err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func (e *testEnv) addPlan(t *testing.T, p *repository.Plan) *repository.Plan {
	t.Helper()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if err := e.repos.PlanRepo.Create(context.Background(), p); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

func timePtr(t time.Time) *time.Time { return &t }

func TestActivate_FirstActivationPlacesAndPays(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	plan := env.addPlan(t, &repository.Plan{
		Name: "Pro", Amount: decimal.NewFromInt(99), DurationMonths: 1,
		MaxPayoutLevels: 7, HasDirectBonus: true, Visible: true,
	})
	root := env.addMember(t, &repository.Member{
		Email: "root@x.io", Name: "Root", ReferralCode: "ROOT0001",
		PlacementLocked: true, MembershipActive: true, PlanID: &plan.ID,
	})
	member := env.addMember(t, &repository.Member{
		Email: "new@x.io", Name: "New", ReferralCode: "NEW00001",
		RootID: &root.ID,
	})

	result, err := env.membership.Activate(ctx, MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID,
		PlanID:   plan.ID,
		Amount:   decimal.NewFromInt(99),
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if result.Placement == nil || result.Placement.Status != PlacementAttached {
		t.Fatalf("expected placement attached, got %+v", result.Placement)
	}
	if result.Placement.ParentID != root.ID || result.Placement.Level != 1 {
		t.Errorf("expected placement under root at level 1, got parent=%s level=%d",
			result.Placement.ParentID, result.Placement.Level)
	}

	got, _ := env.repos.MemberRepo.FindByID(ctx, member.ID)
	if !got.PlacementLocked {
		t.Error("placement should be locked after first activation")
	}
	if !got.MembershipActive {
		t.Error("member should be active after activation")
	}
	if got.FirstActivatedAt == nil {
		t.Error("first activation timestamp should be set")
	}

	// Direct parent is active with a direct-bonus plan: 10% bonus + $2 level commission.
	rootAfter, _ := env.repos.MemberRepo.FindByID(ctx, root.ID)
	expected := decimal.NewFromFloat(11.90)
	if !rootAfter.WalletBalance.Equal(expected) {
		t.Errorf("root wallet = %s, expected %s", rootAfter.WalletBalance, expected)
	}

	history, _ := env.repos.HistoryRepo.FindByMember(ctx, member.ID)
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
}

func TestActivate_RenewalChainsPeriodAndSkipsPlacement(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	plan := env.addPlan(t, &repository.Plan{
		Name: "Starter", Amount: decimal.NewFromInt(29), DurationMonths: 1,
		MaxPayoutLevels: 3, Visible: true,
	})
	root := env.addMember(t, &repository.Member{
		Email: "root@x.io", Name: "Root", ReferralCode: "ROOT0001",
		PlacementLocked: true, MembershipActive: true, PlanID: &plan.ID,
	})
	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
		RootID: &root.ID,
	})

	first, err := env.membership.Activate(ctx, MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(29),
	})
	if err != nil {
		t.Fatalf("first Activate: %v", err)
	}

	second, err := env.membership.Activate(ctx, MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(29),
	})
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}

	if !second.PeriodStart.Equal(first.PeriodEnd) {
		t.Errorf("renewal should chain: start %v, expected %v", second.PeriodStart, first.PeriodEnd)
	}
	if second.Placement != nil && second.Placement.Status == PlacementAttached {
		t.Error("renewal must not re-place an already placed member")
	}

	// The renewal is a distinct activation with its own payout key, so the
	// upline is paid again, once, for the new period.
	count, _ := env.repos.PayoutRepo.CountByActivation(ctx, ActivationKey(member.ID, second.PeriodStart))
	if count != 1 {
		t.Errorf("expected 1 payout for the renewal period, got %d", count)
	}
}

func TestActivate_AmountMismatchRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
	})
	plan := env.addPlan(t, &repository.Plan{
		Name: "Pro", Amount: decimal.NewFromInt(99), DurationMonths: 1,
		MaxPayoutLevels: 7, Visible: true,
	})

	_, err := env.membership.Activate(ctx, MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(50),
	})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	got, _ := env.repos.MemberRepo.FindByID(ctx, member.ID)
	if got.MembershipActive {
		t.Error("member must stay inactive after a rejected activation")
	}
}

func TestActivate_CouponLowersExpectedAmount(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
	})
	plan := env.addPlan(t, &repository.Plan{
		Name: "Pro", Amount: decimal.NewFromInt(99), DurationMonths: 1,
		MaxPayoutLevels: 7, Visible: true,
	})
	env.repos.CouponRepo.Create(ctx, &repository.Coupon{
		ID: uuid.New().String(), Code: "SAVE20", OwnerID: member.ID,
		AmountOff: decimal.NewFromInt(20), Currency: "USD", SingleUse: true,
	})

	// Full price with a coupon attached does not match the discounted price,
	// and the mismatch must not burn the coupon.
	_, err := env.membership.Activate(ctx, MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID,
		Amount: decimal.NewFromInt(99), CouponCode: "SAVE20",
	})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	unused, _ := env.repos.CouponRepo.FindByCode(ctx, "SAVE20")
	if unused.Redeemed {
		t.Fatal("a rejected activation must not consume the coupon")
	}

	result, err := env.membership.Activate(ctx, MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID,
		Amount: decimal.NewFromInt(79), CouponCode: "SAVE20",
	})
	if err != nil {
		t.Fatalf("Activate with coupon: %v", err)
	}
	if result.CouponUsed == nil || result.CouponUsed.Code != "SAVE20" {
		t.Errorf("expected coupon SAVE20 recorded, got %+v", result.CouponUsed)
	}

	redeemed, _ := env.repos.CouponRepo.FindByCode(ctx, "SAVE20")
	if !redeemed.Redeemed {
		t.Error("successful activation should consume the coupon")
	}
}

func TestActivate_ForbiddenForOtherMembers(t *testing.T) {
	env := newTestEnv()

	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
	})
	plan := env.addPlan(t, &repository.Plan{
		Name: "Pro", Amount: decimal.NewFromInt(99), DurationMonths: 1,
		MaxPayoutLevels: 7, Visible: true,
	})

	_, err := env.membership.Activate(context.Background(), MemberActor("someone-else"), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(99),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestActivate_AdminCanActivateAnyMember(t *testing.T) {
	env := newTestEnv()

	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
	})
	plan := env.addPlan(t, &repository.Plan{
		Name: "Hidden", Amount: decimal.NewFromInt(10), DurationMonths: 1,
		MaxPayoutLevels: 3, Visible: false,
	})

	_, err := env.membership.Activate(context.Background(), AdminActor("admin-1"), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("admin activation on hidden plan: %v", err)
	}

	// The same hidden plan is invisible to the member themselves.
	_, err = env.membership.Activate(context.Background(), MemberActor(member.ID), &ActivateRequest{
		MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(10),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for hidden plan, got %v", err)
	}
}

func TestEnsureActiveFlag_ReconcilesLapsedMember(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	past := time.Now().Add(-24 * time.Hour)
	member := env.addMember(t, &repository.Member{
		Email: "m@x.io", Name: "M", ReferralCode: "M0000001",
		MembershipActive: true, CurrentPeriodEnd: &past,
	})

	got, err := env.membership.EnsureActiveFlag(ctx, member.ID)
	if err != nil {
		t.Fatalf("EnsureActiveFlag: %v", err)
	}
	if got.MembershipActive {
		t.Error("lapsed member should be flagged inactive")
	}

	stored, _ := env.repos.MemberRepo.FindByID(ctx, member.ID)
	if stored.MembershipActive {
		t.Error("reconciled flag should be persisted")
	}
}

func TestExpireLapsed_SweepsOnlyLapsedMembers(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	env.addMember(t, &repository.Member{
		Email: "lapsed@x.io", Name: "Lapsed", ReferralCode: "LAPSED01",
		MembershipActive: true, CurrentPeriodEnd: &past,
	})
	active := env.addMember(t, &repository.Member{
		Email: "active@x.io", Name: "Active", ReferralCode: "ACTIVE01",
		MembershipActive: true, CurrentPeriodEnd: &future,
	})

	n, err := env.membership.ExpireLapsed(ctx)
	if err != nil {
		t.Fatalf("ExpireLapsed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 member swept, got %d", n)
	}

	stillActive, _ := env.repos.MemberRepo.FindByID(ctx, active.ID)
	if !stillActive.MembershipActive {
		t.Error("member with a running period must stay active")
	}
}
