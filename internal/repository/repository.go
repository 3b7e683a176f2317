// internal/repository/repository.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrDuplicatePayout is returned by PayoutRepository.Create when the
// (activationKey, payee, level, description) row already exists. The unique
// index, not the caller's pre-check, is the authoritative idempotency signal.
var ErrDuplicatePayout = errors.New("payout already recorded")

// ============================================
// Models / Entities
// ============================================

type Member struct {
	ID       string
	Email    string
	Password string
	Name     string
	Role     string // "admin" or "member"

	// Referral tree. Ancestors is root-first and ends at the direct parent,
	// so len(Ancestors) == Level once the member is placed.
	ReferralCode    string
	InviterCode     *string
	ParentID        *string
	RootID          *string
	Level           int
	Ancestors       []string
	Children        []string
	ChildrenCount   int
	PlacementLocked bool

	// Membership
	MembershipActive   bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	FirstActivatedAt   *time.Time
	PlanID             *string

	// Wallet
	WalletBalance     decimal.Decimal
	WalletTotalEarned decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

type RefreshToken struct {
	ID        string
	Token     string
	MemberID  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Plan struct {
	ID              string
	Name            string
	Amount          decimal.Decimal
	Currency        string
	DurationMonths  int
	MaxPayoutLevels int
	HasDirectBonus  bool
	Visible         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Payout struct {
	ID            string
	ActivationKey string
	PayerID       string
	PayeeID       string
	Level         int
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CreatedAt     time.Time
}

type MonthlyTotal struct {
	Month string
	Total decimal.Decimal
}

type Coupon struct {
	ID         string
	Code       string
	OwnerID    string
	AmountOff  decimal.Decimal
	Currency   string
	SingleUse  bool
	Redeemed   bool
	RedeemedBy *string
	RedeemedAt *time.Time
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

type Activation struct {
	ID          string
	MemberID    string
	ActivatedAt time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	Amount      decimal.Decimal
	Currency    string
	PaymentRef  *string
	Meta        map[string]interface{}
}

type Withdrawal struct {
	ID        string
	MemberID  string
	Amount    decimal.Decimal
	Status    string // pending | approved | rejected | paid
	Method    string // bank | paypal | crypto
	Reference string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MembershipUpdate carries the membership fields persisted on every
// activation or renewal. FirstActivatedAt is only written when the stored
// value is still null.
type MembershipUpdate struct {
	PeriodStart      time.Time
	PeriodEnd        time.Time
	FirstActivatedAt time.Time
	PlanID           string
}

// ============================================
// Repository Interfaces
// ============================================

type MemberRepository interface {
	Create(ctx context.Context, member *Member) error
	FindByID(ctx context.Context, id string) (*Member, error)
	FindByEmail(ctx context.Context, email string) (*Member, error)
	FindByReferralCode(ctx context.Context, code string) (*Member, error)
	// FindChildren returns direct children in attachment order.
	FindChildren(ctx context.Context, parentID string) ([]*Member, error)
	UpdateProfile(ctx context.Context, id string, name string) error

	// Placement. SetPlacement writes parent/root/level/ancestors on the child,
	// TryAttachChild is the conditional slot claim on the parent row, and
	// LockPlacement is the final done-marker.
	SetPlacement(ctx context.Context, id, parentID, rootID string, level int, ancestors []string) error
	TryAttachChild(ctx context.Context, parentID, childID string) (bool, error)
	LockPlacement(ctx context.Context, id string) error

	// Membership
	UpdateMembership(ctx context.Context, id string, up *MembershipUpdate) error
	SetMembershipActive(ctx context.Context, id string, active bool) error
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)

	// Wallet. Both are single-row atomic updates; DebitWallet refuses to
	// take the balance below zero.
	CreditWallet(ctx context.Context, id string, amount decimal.Decimal) error
	DebitWallet(ctx context.Context, id string, amount decimal.Decimal) (bool, error)

	// Auth tokens
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error)
}

type PlanRepository interface {
	Create(ctx context.Context, plan *Plan) error
	FindByID(ctx context.Context, id string) (*Plan, error)
	FindAll(ctx context.Context, visibleOnly bool) ([]*Plan, error)
	Update(ctx context.Context, plan *Plan) error
}

type PayoutRepository interface {
	// Create returns ErrDuplicatePayout when the dedup index rejects the row.
	Create(ctx context.Context, payout *Payout) error
	ExistsForActivation(ctx context.Context, activationKey string) (bool, error)
	FindByPayee(ctx context.Context, payeeID string, limit, offset int) ([]*Payout, error)
	CountByActivation(ctx context.Context, activationKey string) (int, error)
	MonthlyTotals(ctx context.Context, payeeID string, months int) ([]*MonthlyTotal, error)
}

type CouponRepository interface {
	Create(ctx context.Context, coupon *Coupon) error
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByOwner(ctx context.Context, ownerID string) ([]*Coupon, error)
	// Redeem performs the conditional update. It returns (nil, nil) when no
	// row matched; callers re-read the coupon to classify the miss.
	Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*Coupon, error)
}

type HistoryRepository interface {
	Append(ctx context.Context, activation *Activation) error
	FindByMember(ctx context.Context, memberID string) ([]*Activation, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *Withdrawal) error
	FindByID(ctx context.Context, id string) (*Withdrawal, error)
	FindByMember(ctx context.Context, memberID string) ([]*Withdrawal, error)
	FindByStatus(ctx context.Context, status string) ([]*Withdrawal, error)
	// UpdateStatus transitions only rows currently in fromStatus.
	UpdateStatus(ctx context.Context, id, fromStatus, toStatus string) (bool, error)
}

// ============================================
// Repositories Container
// ============================================

type Repositories struct {
	MemberRepo     MemberRepository
	PlanRepo       PlanRepository
	PayoutRepo     PayoutRepository
	CouponRepo     CouponRepository
	HistoryRepo    HistoryRepository
	WithdrawalRepo WithdrawalRepository
}

// NewMemoryRepositories creates in-memory repositories (for testing/fallback)
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		MemberRepo:     newMemoryMemberRepository(),
		PlanRepo:       newMemoryPlanRepository(),
		PayoutRepo:     newMemoryPayoutRepository(),
		CouponRepo:     newMemoryCouponRepository(),
		HistoryRepo:    newMemoryHistoryRepository(),
		WithdrawalRepo: newMemoryWithdrawalRepository(),
	}
}

// NewPgRepositories creates PostgreSQL-backed repositories
func NewPgRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		MemberRepo:     &pgMemberRepository{pool: pool},
		PlanRepo:       &pgPlanRepository{pool: pool},
		PayoutRepo:     &pgPayoutRepository{pool: pool},
		CouponRepo:     &pgCouponRepository{pool: pool},
		HistoryRepo:    &pgHistoryRepository{pool: pool},
		WithdrawalRepo: &pgWithdrawalRepository{pool: pool},
	}
}

// ============================================
// PostgreSQL Member Repository
// ============================================

type pgMemberRepository struct {
	pool *pgxpool.Pool
}

const memberColumns = `
	id, email, password, name, role,
	referral_code, inviter_code, parent_id, root_id, level,
	ancestors, children, children_count, placement_locked,
	membership_active, current_period_start, current_period_end, first_activated_at, plan_id,
	wallet_balance, wallet_total_earned, created_at, updated_at
`

func scanMember(row pgx.Row) (*Member, error) {
	m := &Member{}
	err := row.Scan(
		&m.ID, &m.Email, &m.Password, &m.Name, &m.Role,
		&m.ReferralCode, &m.InviterCode, &m.ParentID, &m.RootID, &m.Level,
		&m.Ancestors, &m.Children, &m.ChildrenCount, &m.PlacementLocked,
		&m.MembershipActive, &m.CurrentPeriodStart, &m.CurrentPeriodEnd, &m.FirstActivatedAt, &m.PlanID,
		&m.WalletBalance, &m.WalletTotalEarned, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *pgMemberRepository) Create(ctx context.Context, member *Member) error {
	if member.Role == "" {
		member.Role = "member"
	}
	if member.Ancestors == nil {
		member.Ancestors = []string{}
	}
	if member.Children == nil {
		member.Children = []string{}
	}
	query := `
		INSERT INTO members (email, password, name, role, referral_code, inviter_code, root_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, wallet_balance, wallet_total_earned, created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query,
		member.Email, member.Password, member.Name, member.Role,
		member.ReferralCode, member.InviterCode, member.RootID,
	).Scan(&member.ID, &member.WalletBalance, &member.WalletTotalEarned, &member.CreatedAt, &member.UpdatedAt)
}

func (r *pgMemberRepository) FindByID(ctx context.Context, id string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	return scanMember(r.pool.QueryRow(ctx, query, id))
}

func (r *pgMemberRepository) FindByEmail(ctx context.Context, email string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE LOWER(email) = LOWER($1)`
	return scanMember(r.pool.QueryRow(ctx, query, email))
}

func (r *pgMemberRepository) FindByReferralCode(ctx context.Context, code string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE referral_code = $1`
	return scanMember(r.pool.QueryRow(ctx, query, code))
}

func (r *pgMemberRepository) FindChildren(ctx context.Context, parentID string) ([]*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE parent_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *pgMemberRepository) UpdateProfile(ctx context.Context, id string, name string) error {
	query := `UPDATE members SET name = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, name)
	return err
}

func (r *pgMemberRepository) SetPlacement(ctx context.Context, id, parentID, rootID string, level int, ancestors []string) error {
	query := `
		UPDATE members
		SET parent_id = $2, root_id = $3, level = $4, ancestors = $5, updated_at = NOW()
		WHERE id = $1 AND placement_locked = FALSE
	`
	_, err := r.pool.Exec(ctx, query, id, parentID, rootID, level, ancestors)
	return err
}

// TryAttachChild claims a child slot on the parent row. The WHERE guard makes
// this a compare-and-swap: zero rows affected means a concurrent placement
// won the slot (or the child is already attached).
func (r *pgMemberRepository) TryAttachChild(ctx context.Context, parentID, childID string) (bool, error) {
	query := `
		UPDATE members
		SET children = array_append(children, $2),
		    children_count = children_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND children_count < 5 AND NOT (children @> ARRAY[$2])
	`
	tag, err := r.pool.Exec(ctx, query, parentID, childID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgMemberRepository) LockPlacement(ctx context.Context, id string) error {
	query := `UPDATE members SET placement_locked = TRUE, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *pgMemberRepository) UpdateMembership(ctx context.Context, id string, up *MembershipUpdate) error {
	query := `
		UPDATE members
		SET membership_active = TRUE,
		    current_period_start = $2,
		    current_period_end = $3,
		    first_activated_at = COALESCE(first_activated_at, $4),
		    plan_id = $5,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, up.PeriodStart, up.PeriodEnd, up.FirstActivatedAt, up.PlanID)
	return err
}

func (r *pgMemberRepository) SetMembershipActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE members SET membership_active = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, active)
	return err
}

func (r *pgMemberRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE members SET membership_active = FALSE, updated_at = NOW()
		WHERE membership_active AND current_period_end < $1
	`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgMemberRepository) CreditWallet(ctx context.Context, id string, amount decimal.Decimal) error {
	query := `
		UPDATE members
		SET wallet_balance = wallet_balance + $2,
		    wallet_total_earned = wallet_total_earned + $2,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, amount)
	return err
}

func (r *pgMemberRepository) DebitWallet(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	query := `
		UPDATE members
		SET wallet_balance = wallet_balance - $2, updated_at = NOW()
		WHERE id = $1 AND wallet_balance >= $2
	`
	tag, err := r.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgMemberRepository) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, member_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	return r.pool.QueryRow(ctx, query, token.Token, token.MemberID, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
}

func (r *pgMemberRepository) FindRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	query := `
		SELECT id, token, member_id, expires_at, created_at
		FROM refresh_tokens WHERE token = $1
	`
	rt := &RefreshToken{}
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&rt.ID, &rt.Token, &rt.MemberID, &rt.ExpiresAt, &rt.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *pgMemberRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	query := `DELETE FROM refresh_tokens WHERE token = $1`
	_, err := r.pool.Exec(ctx, query, token)
	return err
}

func (r *pgMemberRepository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ============================================
// PostgreSQL Plan Repository
// ============================================

type pgPlanRepository struct {
	pool *pgxpool.Pool
}

func (r *pgPlanRepository) Create(ctx context.Context, plan *Plan) error {
	if plan.Currency == "" {
		plan.Currency = "USD"
	}
	query := `
		INSERT INTO plans (name, amount, currency, duration_months, max_payout_levels, has_direct_bonus, visible)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query,
		plan.Name, plan.Amount, plan.Currency, plan.DurationMonths,
		plan.MaxPayoutLevels, plan.HasDirectBonus, plan.Visible,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
}

func (r *pgPlanRepository) FindByID(ctx context.Context, id string) (*Plan, error) {
	query := `
		SELECT id, name, amount, currency, duration_months, max_payout_levels, has_direct_bonus, visible, created_at, updated_at
		FROM plans WHERE id = $1
	`
	p := &Plan{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Amount, &p.Currency, &p.DurationMonths,
		&p.MaxPayoutLevels, &p.HasDirectBonus, &p.Visible, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *pgPlanRepository) FindAll(ctx context.Context, visibleOnly bool) ([]*Plan, error) {
	query := `
		SELECT id, name, amount, currency, duration_months, max_payout_levels, has_direct_bonus, visible, created_at, updated_at
		FROM plans
	`
	if visibleOnly {
		query += ` WHERE visible`
	}
	query += ` ORDER BY amount`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p := &Plan{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Amount, &p.Currency, &p.DurationMonths,
			&p.MaxPayoutLevels, &p.HasDirectBonus, &p.Visible, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *pgPlanRepository) Update(ctx context.Context, plan *Plan) error {
	query := `
		UPDATE plans
		SET name = $2, amount = $3, duration_months = $4, max_payout_levels = $5,
		    has_direct_bonus = $6, visible = $7, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query,
		plan.ID, plan.Name, plan.Amount, plan.DurationMonths,
		plan.MaxPayoutLevels, plan.HasDirectBonus, plan.Visible,
	)
	return err
}

// ============================================
// PostgreSQL Payout Repository
// ============================================

type pgPayoutRepository struct {
	pool *pgxpool.Pool
}

func (r *pgPayoutRepository) Create(ctx context.Context, payout *Payout) error {
	if payout.Currency == "" {
		payout.Currency = "USD"
	}
	query := `
		INSERT INTO referral_payouts (activation_key, payer_id, payee_id, level, amount, currency, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		payout.ActivationKey, payout.PayerID, payout.PayeeID,
		payout.Level, payout.Amount, payout.Currency, payout.Description,
	).Scan(&payout.ID, &payout.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePayout
		}
		return err
	}
	return nil
}

func (r *pgPayoutRepository) ExistsForActivation(ctx context.Context, activationKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM referral_payouts WHERE activation_key = $1)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, activationKey).Scan(&exists)
	return exists, err
}

func (r *pgPayoutRepository) CountByActivation(ctx context.Context, activationKey string) (int, error) {
	query := `SELECT COUNT(*) FROM referral_payouts WHERE activation_key = $1`
	var count int
	err := r.pool.QueryRow(ctx, query, activationKey).Scan(&count)
	return count, err
}

func (r *pgPayoutRepository) FindByPayee(ctx context.Context, payeeID string, limit, offset int) ([]*Payout, error) {
	query := `
		SELECT id, activation_key, payer_id, payee_id, level, amount, currency, description, created_at
		FROM referral_payouts WHERE payee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, query, payeeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []*Payout
	for rows.Next() {
		p := &Payout{}
		if err := rows.Scan(
			&p.ID, &p.ActivationKey, &p.PayerID, &p.PayeeID,
			&p.Level, &p.Amount, &p.Currency, &p.Description, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (r *pgPayoutRepository) MonthlyTotals(ctx context.Context, payeeID string, months int) ([]*MonthlyTotal, error) {
	if months <= 0 {
		months = 12
	}
	query := `
		WITH months AS (
			SELECT generate_series(
				date_trunc('month', NOW()) - ($2::int - 1) * interval '1 month',
				date_trunc('month', NOW()),
				interval '1 month'
			)::date AS month_start
		),
		agg AS (
			SELECT date_trunc('month', created_at)::date AS month_start,
			       SUM(amount)::numeric(12,2) AS total
			FROM referral_payouts
			WHERE payee_id = $1
			GROUP BY 1
		)
		SELECT to_char(m.month_start, 'YYYY-MM') AS month_label,
		       COALESCE(a.total, 0)::numeric(12,2) AS total
		FROM months m
		LEFT JOIN agg a USING (month_start)
		ORDER BY m.month_start
	`
	rows, err := r.pool.Query(ctx, query, payeeID, months)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []*MonthlyTotal
	for rows.Next() {
		t := &MonthlyTotal{}
		if err := rows.Scan(&t.Month, &t.Total); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ============================================
// PostgreSQL Coupon Repository
// ============================================

type pgCouponRepository struct {
	pool *pgxpool.Pool
}

const couponColumns = `
	id, code, owner_id, amount_off, currency, single_use,
	redeemed, redeemed_by, redeemed_at, expires_at, created_at
`

func scanCoupon(row pgx.Row) (*Coupon, error) {
	c := &Coupon{}
	err := row.Scan(
		&c.ID, &c.Code, &c.OwnerID, &c.AmountOff, &c.Currency, &c.SingleUse,
		&c.Redeemed, &c.RedeemedBy, &c.RedeemedAt, &c.ExpiresAt, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *pgCouponRepository) Create(ctx context.Context, coupon *Coupon) error {
	if coupon.Currency == "" {
		coupon.Currency = "USD"
	}
	query := `
		INSERT INTO coupons (code, owner_id, amount_off, currency, single_use, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return r.pool.QueryRow(ctx, query,
		coupon.Code, coupon.OwnerID, coupon.AmountOff, coupon.Currency,
		coupon.SingleUse, coupon.ExpiresAt,
	).Scan(&coupon.ID, &coupon.CreatedAt)
}

func (r *pgCouponRepository) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	return scanCoupon(r.pool.QueryRow(ctx, query, code))
}

func (r *pgCouponRepository) FindByOwner(ctx context.Context, ownerID string) ([]*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coupons []*Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// Redeem flips the coupon in one guarded statement. The decision is made
// here, not by any prior read.
func (r *pgCouponRepository) Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*Coupon, error) {
	query := `
		UPDATE coupons
		SET redeemed = TRUE, redeemed_by = $2, redeemed_at = $3
		WHERE code = $1 AND redeemed = FALSE AND (expires_at IS NULL OR expires_at > $3)
		RETURNING ` + couponColumns
	return scanCoupon(r.pool.QueryRow(ctx, query, code, redeemerID, now))
}

// ============================================
// PostgreSQL History Repository
// ============================================

type pgHistoryRepository struct {
	pool *pgxpool.Pool
}

func (r *pgHistoryRepository) Append(ctx context.Context, activation *Activation) error {
	if activation.Currency == "" {
		activation.Currency = "USD"
	}
	query := `
		INSERT INTO membership_history (member_id, activated_at, period_start, period_end, amount, currency, payment_ref, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.pool.QueryRow(ctx, query,
		activation.MemberID, activation.ActivatedAt, activation.PeriodStart, activation.PeriodEnd,
		activation.Amount, activation.Currency, activation.PaymentRef, activation.Meta,
	).Scan(&activation.ID)
}

func (r *pgHistoryRepository) FindByMember(ctx context.Context, memberID string) ([]*Activation, error) {
	query := `
		SELECT id, member_id, activated_at, period_start, period_end, amount, currency, payment_ref, meta
		FROM membership_history WHERE member_id = $1
		ORDER BY activated_at
	`
	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*Activation
	for rows.Next() {
		a := &Activation{}
		if err := rows.Scan(
			&a.ID, &a.MemberID, &a.ActivatedAt, &a.PeriodStart, &a.PeriodEnd,
			&a.Amount, &a.Currency, &a.PaymentRef, &a.Meta,
		); err != nil {
			return nil, err
		}
		activations = append(activations, a)
	}
	return activations, rows.Err()
}

// ============================================
// PostgreSQL Withdrawal Repository
// ============================================

type pgWithdrawalRepository struct {
	pool *pgxpool.Pool
}

func (r *pgWithdrawalRepository) Create(ctx context.Context, w *Withdrawal) error {
	if w.Status == "" {
		w.Status = "pending"
	}
	query := `
		INSERT INTO withdrawals (member_id, amount, status, method, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query,
		w.MemberID, w.Amount, w.Status, w.Method, w.Reference,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
}

func (r *pgWithdrawalRepository) FindByID(ctx context.Context, id string) (*Withdrawal, error) {
	query := `
		SELECT id, member_id, amount, status, method, reference, created_at, updated_at
		FROM withdrawals WHERE id = $1
	`
	w := &Withdrawal{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&w.ID, &w.MemberID, &w.Amount, &w.Status, &w.Method, &w.Reference, &w.CreatedAt, &w.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *pgWithdrawalRepository) FindByMember(ctx context.Context, memberID string) ([]*Withdrawal, error) {
	return r.findWhere(ctx, `member_id = $1`, memberID)
}

func (r *pgWithdrawalRepository) FindByStatus(ctx context.Context, status string) ([]*Withdrawal, error) {
	return r.findWhere(ctx, `status = $1`, status)
}

func (r *pgWithdrawalRepository) findWhere(ctx context.Context, cond string, arg interface{}) ([]*Withdrawal, error) {
	query := `
		SELECT id, member_id, amount, status, method, reference, created_at, updated_at
		FROM withdrawals WHERE ` + cond + ` ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []*Withdrawal
	for rows.Next() {
		w := &Withdrawal{}
		if err := rows.Scan(
			&w.ID, &w.MemberID, &w.Amount, &w.Status, &w.Method, &w.Reference, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

func (r *pgWithdrawalRepository) UpdateStatus(ctx context.Context, id, fromStatus, toStatus string) (bool, error) {
	query := `UPDATE withdrawals SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, query, id, fromStatus, toStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
