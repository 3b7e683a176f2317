// internal/repository/memory.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================
// In-Memory Repository Implementations (Fallback)
// ============================================
//
// These honor the same conditional-update semantics as the PostgreSQL
// implementations: slot claims, wallet movements, coupon redemption and the
// payout dedup index are all decided under the repository mutex, never by the
// caller's earlier read.

// In-memory Member Repository
type memoryMemberRepository struct {
	mu            sync.Mutex
	members       map[string]*Member
	refreshTokens map[string]*RefreshToken
}

func newMemoryMemberRepository() *memoryMemberRepository {
	return &memoryMemberRepository{
		members:       make(map[string]*Member),
		refreshTokens: make(map[string]*RefreshToken),
	}
}

func cloneMember(m *Member) *Member {
	c := *m
	c.Ancestors = append([]string(nil), m.Ancestors...)
	c.Children = append([]string(nil), m.Children...)
	return &c
}

func (r *memoryMemberRepository) Create(ctx context.Context, member *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.Role == "" {
		member.Role = "member"
	}
	if member.Ancestors == nil {
		member.Ancestors = []string{}
	}
	if member.Children == nil {
		member.Children = []string{}
	}
	member.CreatedAt = time.Now()
	member.UpdatedAt = member.CreatedAt
	r.members[member.ID] = cloneMember(member)
	return nil
}

func (r *memoryMemberRepository) FindByID(ctx context.Context, id string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		return cloneMember(m), nil
	}
	return nil, nil
}

func (r *memoryMemberRepository) FindByEmail(ctx context.Context, email string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if strings.EqualFold(m.Email, email) {
			return cloneMember(m), nil
		}
	}
	return nil, nil
}

func (r *memoryMemberRepository) FindByReferralCode(ctx context.Context, code string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.ReferralCode == code {
			return cloneMember(m), nil
		}
	}
	return nil, nil
}

func (r *memoryMemberRepository) FindChildren(ctx context.Context, parentID string) ([]*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.members[parentID]
	if !ok {
		return nil, nil
	}
	// The children slice is the attachment order.
	children := make([]*Member, 0, len(parent.Children))
	for _, id := range parent.Children {
		if c, ok := r.members[id]; ok {
			children = append(children, cloneMember(c))
		}
	}
	return children, nil
}

func (r *memoryMemberRepository) UpdateProfile(ctx context.Context, id string, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.Name = name
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memoryMemberRepository) SetPlacement(ctx context.Context, id, parentID, rootID string, level int, ancestors []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || m.PlacementLocked {
		return nil
	}
	m.ParentID = &parentID
	m.RootID = &rootID
	m.Level = level
	m.Ancestors = append([]string(nil), ancestors...)
	m.UpdatedAt = time.Now()
	return nil
}

func (r *memoryMemberRepository) TryAttachChild(ctx context.Context, parentID, childID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.members[parentID]
	if !ok {
		return false, nil
	}
	for _, id := range parent.Children {
		if id == childID {
			return false, nil
		}
	}
	if parent.ChildrenCount >= 5 {
		return false, nil
	}
	parent.Children = append(parent.Children, childID)
	parent.ChildrenCount++
	parent.UpdatedAt = time.Now()
	return true, nil
}

func (r *memoryMemberRepository) LockPlacement(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.PlacementLocked = true
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memoryMemberRepository) UpdateMembership(ctx context.Context, id string, up *MembershipUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil
	}
	m.MembershipActive = true
	start, end := up.PeriodStart, up.PeriodEnd
	m.CurrentPeriodStart = &start
	m.CurrentPeriodEnd = &end
	if m.FirstActivatedAt == nil {
		first := up.FirstActivatedAt
		m.FirstActivatedAt = &first
	}
	planID := up.PlanID
	m.PlanID = &planID
	m.UpdatedAt = time.Now()
	return nil
}

func (r *memoryMemberRepository) SetMembershipActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.MembershipActive = active
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memoryMemberRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.members {
		if m.MembershipActive && m.CurrentPeriodEnd != nil && m.CurrentPeriodEnd.Before(now) {
			m.MembershipActive = false
			m.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

func (r *memoryMemberRepository) CreditWallet(ctx context.Context, id string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.WalletBalance = m.WalletBalance.Add(amount)
		m.WalletTotalEarned = m.WalletTotalEarned.Add(amount)
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memoryMemberRepository) DebitWallet(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || m.WalletBalance.LessThan(amount) {
		return false, nil
	}
	m.WalletBalance = m.WalletBalance.Sub(amount)
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *memoryMemberRepository) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()
	r.refreshTokens[token.Token] = token
	return nil
}

func (r *memoryMemberRepository) FindRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.refreshTokens[token]; ok {
		return rt, nil
	}
	return nil, nil
}

func (r *memoryMemberRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refreshTokens, token)
	return nil
}

func (r *memoryMemberRepository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for token, rt := range r.refreshTokens {
		if rt.ExpiresAt.Before(now) {
			delete(r.refreshTokens, token)
			count++
		}
	}
	return count, nil
}

// In-memory Plan Repository
type memoryPlanRepository struct {
	mu    sync.Mutex
	plans map[string]*Plan
}

func newMemoryPlanRepository() *memoryPlanRepository {
	return &memoryPlanRepository{plans: make(map[string]*Plan)}
}

func (r *memoryPlanRepository) Create(ctx context.Context, plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.Currency == "" {
		plan.Currency = "USD"
	}
	plan.CreatedAt = time.Now()
	plan.UpdatedAt = plan.CreatedAt
	c := *plan
	r.plans[plan.ID] = &c
	return nil
}

func (r *memoryPlanRepository) FindByID(ctx context.Context, id string) (*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.plans[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (r *memoryPlanRepository) FindAll(ctx context.Context, visibleOnly bool) ([]*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var plans []*Plan
	for _, p := range r.plans {
		if visibleOnly && !p.Visible {
			continue
		}
		c := *p
		plans = append(plans, &c)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Amount.LessThan(plans[j].Amount) })
	return plans, nil
}

func (r *memoryPlanRepository) Update(ctx context.Context, plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[plan.ID]; ok {
		plan.UpdatedAt = time.Now()
		c := *plan
		r.plans[plan.ID] = &c
	}
	return nil
}

// In-memory Payout Repository
type memoryPayoutRepository struct {
	mu      sync.Mutex
	payouts []*Payout
	dedup   map[string]bool
}

func newMemoryPayoutRepository() *memoryPayoutRepository {
	return &memoryPayoutRepository{dedup: make(map[string]bool)}
}

func payoutDedupKey(p *Payout) string {
	return fmt.Sprintf("%s|%s|%d|%s", p.ActivationKey, p.PayeeID, p.Level, p.Description)
}

func (r *memoryPayoutRepository) Create(ctx context.Context, payout *Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := payoutDedupKey(payout)
	if r.dedup[key] {
		return ErrDuplicatePayout
	}
	if payout.ID == "" {
		payout.ID = uuid.New().String()
	}
	if payout.Currency == "" {
		payout.Currency = "USD"
	}
	payout.CreatedAt = time.Now()
	r.dedup[key] = true
	c := *payout
	r.payouts = append(r.payouts, &c)
	return nil
}

func (r *memoryPayoutRepository) ExistsForActivation(ctx context.Context, activationKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payouts {
		if p.ActivationKey == activationKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryPayoutRepository) CountByActivation(ctx context.Context, activationKey string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, p := range r.payouts {
		if p.ActivationKey == activationKey {
			count++
		}
	}
	return count, nil
}

func (r *memoryPayoutRepository) FindByPayee(ctx context.Context, payeeID string, limit, offset int) ([]*Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payouts []*Payout
	for _, p := range r.payouts {
		if p.PayeeID == payeeID {
			c := *p
			payouts = append(payouts, &c)
		}
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].CreatedAt.After(payouts[j].CreatedAt) })
	if offset > len(payouts) {
		offset = len(payouts)
	}
	payouts = payouts[offset:]
	if limit > 0 && limit < len(payouts) {
		payouts = payouts[:limit]
	}
	return payouts, nil
}

func (r *memoryPayoutRepository) MonthlyTotals(ctx context.Context, payeeID string, months int) ([]*MonthlyTotal, error) {
	if months <= 0 {
		months = 12
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	firstMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	byMonth := make(map[string]decimal.Decimal)
	for _, p := range r.payouts {
		if p.PayeeID != payeeID || p.CreatedAt.Before(firstMonth) {
			continue
		}
		label := p.CreatedAt.UTC().Format("2006-01")
		byMonth[label] = byMonth[label].Add(p.Amount)
	}

	totals := make([]*MonthlyTotal, 0, months)
	for i := 0; i < months; i++ {
		label := firstMonth.AddDate(0, i, 0).Format("2006-01")
		totals = append(totals, &MonthlyTotal{Month: label, Total: byMonth[label]})
	}
	return totals, nil
}

// In-memory Coupon Repository
type memoryCouponRepository struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
}

func newMemoryCouponRepository() *memoryCouponRepository {
	return &memoryCouponRepository{coupons: make(map[string]*Coupon)}
}

func (r *memoryCouponRepository) Create(ctx context.Context, coupon *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if coupon.ID == "" {
		coupon.ID = uuid.New().String()
	}
	if coupon.Currency == "" {
		coupon.Currency = "USD"
	}
	coupon.CreatedAt = time.Now()
	c := *coupon
	r.coupons[coupon.Code] = &c
	return nil
}

func (r *memoryCouponRepository) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coupons[code]; ok {
		cc := *c
		return &cc, nil
	}
	return nil, nil
}

func (r *memoryCouponRepository) FindByOwner(ctx context.Context, ownerID string) ([]*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var coupons []*Coupon
	for _, c := range r.coupons {
		if c.OwnerID == ownerID {
			cc := *c
			coupons = append(coupons, &cc)
		}
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].CreatedAt.After(coupons[j].CreatedAt) })
	return coupons, nil
}

func (r *memoryCouponRepository) Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok || c.Redeemed {
		return nil, nil
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return nil, nil
	}
	c.Redeemed = true
	c.RedeemedBy = &redeemerID
	redeemedAt := now
	c.RedeemedAt = &redeemedAt
	cc := *c
	return &cc, nil
}

// In-memory History Repository
type memoryHistoryRepository struct {
	mu          sync.Mutex
	activations []*Activation
}

func newMemoryHistoryRepository() *memoryHistoryRepository {
	return &memoryHistoryRepository{}
}

func (r *memoryHistoryRepository) Append(ctx context.Context, activation *Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	activation.ID = uuid.New().String()
	if activation.Currency == "" {
		activation.Currency = "USD"
	}
	c := *activation
	r.activations = append(r.activations, &c)
	return nil
}

func (r *memoryHistoryRepository) FindByMember(ctx context.Context, memberID string) ([]*Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var activations []*Activation
	for _, a := range r.activations {
		if a.MemberID == memberID {
			c := *a
			activations = append(activations, &c)
		}
	}
	return activations, nil
}

// In-memory Withdrawal Repository
type memoryWithdrawalRepository struct {
	mu          sync.Mutex
	withdrawals map[string]*Withdrawal
}

func newMemoryWithdrawalRepository() *memoryWithdrawalRepository {
	return &memoryWithdrawalRepository{withdrawals: make(map[string]*Withdrawal)}
}

func (r *memoryWithdrawalRepository) Create(ctx context.Context, w *Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Status == "" {
		w.Status = "pending"
	}
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	c := *w
	r.withdrawals[w.ID] = &c
	return nil
}

func (r *memoryWithdrawalRepository) FindByID(ctx context.Context, id string) (*Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.withdrawals[id]; ok {
		c := *w
		return &c, nil
	}
	return nil, nil
}

func (r *memoryWithdrawalRepository) FindByMember(ctx context.Context, memberID string) ([]*Withdrawal, error) {
	return r.findMatching(func(w *Withdrawal) bool { return w.MemberID == memberID })
}

func (r *memoryWithdrawalRepository) FindByStatus(ctx context.Context, status string) ([]*Withdrawal, error) {
	return r.findMatching(func(w *Withdrawal) bool { return w.Status == status })
}

func (r *memoryWithdrawalRepository) findMatching(match func(*Withdrawal) bool) ([]*Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var withdrawals []*Withdrawal
	for _, w := range r.withdrawals {
		if match(w) {
			c := *w
			withdrawals = append(withdrawals, &c)
		}
	}
	sort.Slice(withdrawals, func(i, j int) bool { return withdrawals[i].CreatedAt.After(withdrawals[j].CreatedAt) })
	return withdrawals, nil
}

func (r *memoryWithdrawalRepository) UpdateStatus(ctx context.Context, id, fromStatus, toStatus string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok || w.Status != fromStatus {
		return false, nil
	}
	w.Status = toStatus
	w.UpdatedAt = time.Now()
	return true, nil
}
