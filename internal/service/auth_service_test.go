package service

import (
	"context"
	"errors"
	"testing"

	"github.com/nivelo/matrix-backend/internal/config"
	"github.com/nivelo/matrix-backend/internal/repository"
)

func newAuthEnv(t *testing.T) (*testEnv, AuthService) {
	t.Helper()
	env := newTestEnv()
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: 1, RefreshExpiry: 1}
	return env, NewAuthService(cfg, env.repos.MemberRepo, env.referral, nil)
}

func TestRegister_ResolvesInviterCode(t *testing.T) {
	env, auth := newAuthEnv(t)
	ctx := context.Background()

	sponsor := env.addMember(t, &repository.Member{
		Email: "sponsor@x.io", Name: "Sponsor", ReferralCode: "SPONSOR1",
		PlacementLocked: true,
	})

	result, err := auth.Register(ctx, &RegisterRequest{
		Name: "Newbie", Email: "Newbie@X.IO", Password: "password123",
		InviterCode: " sponsor1 ",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	m := result.Member
	if m.Email != "newbie@x.io" {
		t.Errorf("email = %s, expected lowercased", m.Email)
	}
	if m.RootID == nil || *m.RootID != sponsor.ID {
		t.Errorf("rootID = %v, expected sponsor %s", m.RootID, sponsor.ID)
	}
	if m.PlacementLocked {
		t.Error("registration must not place the member yet")
	}
	if len(m.ReferralCode) != 8 {
		t.Errorf("referral code %q, expected 8 hex chars", m.ReferralCode)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Error("registration should issue both tokens")
	}
}

func TestRegister_UnknownInviterCodeIsNotFatal(t *testing.T) {
	_, auth := newAuthEnv(t)

	result, err := auth.Register(context.Background(), &RegisterRequest{
		Name: "Solo", Email: "solo@x.io", Password: "password123",
		InviterCode: "NOSUCH00",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if result.Member.RootID != nil {
		t.Error("unknown inviter code must leave the member without a sponsor root")
	}
}

func TestRegister_DuplicateEmailRejected(t *testing.T) {
	_, auth := newAuthEnv(t)
	ctx := context.Background()

	req := &RegisterRequest{Name: "A", Email: "dup@x.io", Password: "password123"}
	if _, err := auth.Register(ctx, req); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := auth.Register(ctx, req); !errors.Is(err, ErrMemberExists) {
		t.Errorf("expected ErrMemberExists, got %v", err)
	}
}

func TestLogin_And_ActorRoundTrip(t *testing.T) {
	_, auth := newAuthEnv(t)
	ctx := context.Background()

	reg, err := auth.Register(ctx, &RegisterRequest{
		Name: "M", Email: "m@x.io", Password: "password123",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	login, err := auth.Login(ctx, "m@x.io", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	actor, err := auth.ActorFromToken(login.AccessToken)
	if err != nil {
		t.Fatalf("ActorFromToken: %v", err)
	}
	if actor.Kind != ActorMember || actor.MemberID != reg.Member.ID {
		t.Errorf("actor = %+v, expected member %s", actor, reg.Member.ID)
	}

	if _, err := auth.Login(ctx, "m@x.io", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := auth.ActorFromToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	_, auth := newAuthEnv(t)
	ctx := context.Background()

	reg, err := auth.Register(ctx, &RegisterRequest{
		Name: "M", Email: "m@x.io", Password: "password123",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	refreshed, err := auth.Refresh(ctx, reg.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == reg.RefreshToken {
		t.Error("refresh token should rotate on use")
	}

	// The old token is gone.
	if _, err := auth.Refresh(ctx, reg.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for reused refresh token, got %v", err)
	}
}

func TestActor_CanActOn(t *testing.T) {
	tests := []struct {
		name     string
		actor    Actor
		memberID string
		expected bool
	}{
		{"AdminOnAnyone", AdminActor("admin-1"), "member-9", true},
		{"MemberOnSelf", MemberActor("member-1"), "member-1", true},
		{"MemberOnOther", MemberActor("member-1"), "member-2", false},
		{"UnknownKind", Actor{}, "member-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.actor.CanActOn(tt.memberID); got != tt.expected {
				t.Errorf("CanActOn = %v, expected %v", got, tt.expected)
			}
		})
	}
}
