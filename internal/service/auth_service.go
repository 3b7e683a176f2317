package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nivelo/matrix-backend/internal/config"
	"github.com/nivelo/matrix-backend/internal/email"
	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Auth Service
// ============================================

type RegisterRequest struct {
	Name        string
	Email       string
	Password    string
	InviterCode string
}

type AuthResult struct {
	Member       *repository.Member
	AccessToken  string
	RefreshToken string
}

type Claims struct {
	MemberID string `json:"member_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResult, error)
	Login(ctx context.Context, emailAddr, password string) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error

	// ActorFromToken validates an access token and maps its role claim onto
	// an Actor.
	ActorFromToken(tokenString string) (Actor, error)
}

type authService struct {
	config      *config.Config
	memberRepo  repository.MemberRepository
	referralSvc ReferralService
	emailSvc    *email.Service
}

func NewAuthService(cfg *config.Config, memberRepo repository.MemberRepository, referralSvc ReferralService, emailSvc *email.Service) AuthService {
	return &authService{
		config:      cfg,
		memberRepo:  memberRepo,
		referralSvc: referralSvc,
		emailSvc:    emailSvc,
	}
}

func (s *authService) Register(ctx context.Context, req *RegisterRequest) (*AuthResult, error) {
	if req == nil {
		return nil, ErrInvalidInput
	}
	name := strings.TrimSpace(req.Name)
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || emailAddr == "" || len(req.Password) < 8 {
		return nil, ErrInvalidInput
	}

	existing, err := s.memberRepo.FindByEmail(ctx, emailAddr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrMemberExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	code, err := s.referralSvc.EnsureUniqueReferralCode(ctx)
	if err != nil {
		return nil, err
	}

	member := &repository.Member{
		ID:           uuid.New().String(),
		Email:        emailAddr,
		Password:     string(hashed),
		Name:         name,
		Role:         "member",
		ReferralCode: code,
		Ancestors:    []string{},
		Children:     []string{},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	// A bad inviter code is remembered but never blocks signup; the member
	// just has no sponsor and will not be placed into a matrix.
	if inviter := strings.TrimSpace(req.InviterCode); inviter != "" {
		root, err := s.referralSvc.ResolveRootByInviterCode(ctx, inviter)
		if err != nil {
			return nil, err
		}
		member.InviterCode = &inviter
		if root != nil {
			member.RootID = &root.ID
		} else {
			log.Printf("⚠️ Signup with unknown inviter code %q (member %s)", inviter, emailAddr)
		}
	}

	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, err
	}

	if s.emailSvc != nil {
		go s.emailSvc.SendWelcome(member.Email, member.Name, member.ReferralCode)
	}

	log.Printf("👤 Member registered: %s (%s)", member.Name, member.Email)
	return s.issueTokens(ctx, member)
}

func (s *authService) Login(ctx context.Context, emailAddr, password string) (*AuthResult, error) {
	member, err := s.memberRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// Reconcile the stored active flag on login so a lapsed member sees the
	// truth even before the hourly sweep runs.
	shouldBeActive := member.CurrentPeriodEnd != nil && member.CurrentPeriodEnd.After(time.Now())
	if member.MembershipActive != shouldBeActive {
		if err := s.memberRepo.SetMembershipActive(ctx, member.ID, shouldBeActive); err == nil {
			member.MembershipActive = shouldBeActive
		}
	}

	return s.issueTokens(ctx, member)
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	stored, err := s.memberRepo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.ExpiresAt.Before(time.Now()) {
		return nil, ErrInvalidToken
	}

	member, err := s.memberRepo.FindByID(ctx, stored.MemberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrInvalidToken
	}

	// One-shot refresh tokens: rotate on every use.
	if err := s.memberRepo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, member)
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	return s.memberRepo.DeleteRefreshToken(ctx, refreshToken)
}

func (s *authService) issueTokens(ctx context.Context, member *repository.Member) (*AuthResult, error) {
	now := time.Now()
	claims := &Claims{
		MemberID: member.ID,
		Email:    member.Email,
		Role:     member.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.config.JWTExpiry) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   member.ID,
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, err
	}

	refresh := &repository.RefreshToken{
		ID:        uuid.New().String(),
		Token:     uuid.New().String(),
		MemberID:  member.ID,
		ExpiresAt: now.Add(time.Duration(s.config.RefreshExpiry) * 24 * time.Hour),
		CreatedAt: now,
	}
	if err := s.memberRepo.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, err
	}

	return &AuthResult{
		Member:       member,
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
	}, nil
}

func (s *authService) ActorFromToken(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Actor{}, ErrInvalidToken
	}

	switch claims.Role {
	case "admin":
		return AdminActor(claims.MemberID), nil
	case "member":
		return MemberActor(claims.MemberID), nil
	default:
		return Actor{}, ErrInvalidToken
	}
}
