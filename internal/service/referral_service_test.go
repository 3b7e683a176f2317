package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nivelo/matrix-backend/internal/repository"
)

func newPlacementEnv(t *testing.T) (*testEnv, *repository.Member) {
	t.Helper()
	env := newTestEnv()
	root := env.addMember(t, &repository.Member{
		Email: "root@x.io", Name: "Root", ReferralCode: "ROOT0001",
		PlacementLocked: true,
	})
	return env, root
}

func (e *testEnv) addUnplaced(t *testing.T, rootID string, n int) []*repository.Member {
	t.Helper()
	members := make([]*repository.Member, n)
	for i := 0; i < n; i++ {
		members[i] = e.addMember(t, &repository.Member{
			Email:        fmt.Sprintf("m%d@x.io", i),
			Name:         fmt.Sprintf("M%d", i),
			ReferralCode: fmt.Sprintf("CODE%04d", i),
			RootID:       &rootID,
		})
	}
	return members
}

func TestPlace_FillsRootBeforeSpillingOver(t *testing.T) {
	env, root := newPlacementEnv(t)
	ctx := context.Background()

	members := env.addUnplaced(t, root.ID, 6)

	// First five land directly under the root.
	for i := 0; i < 5; i++ {
		result, err := env.referral.Place(ctx, members[i].ID, root.ID)
		if err != nil {
			t.Fatalf("Place member %d: %v", i, err)
		}
		if result.Status != PlacementAttached || result.ParentID != root.ID || result.Level != 1 {
			t.Fatalf("member %d: expected level 1 under root, got %+v", i, result)
		}
	}

	// The sixth spills into the first child's slot, leftmost first.
	result, err := env.referral.Place(ctx, members[5].ID, root.ID)
	if err != nil {
		t.Fatalf("Place spillover member: %v", err)
	}
	if result.ParentID != members[0].ID {
		t.Errorf("spillover parent = %s, expected first child %s", result.ParentID, members[0].ID)
	}
	if result.Level != 2 {
		t.Errorf("spillover level = %d, expected 2", result.Level)
	}

	rootAfter, _ := env.repos.MemberRepo.FindByID(ctx, root.ID)
	if rootAfter.ChildrenCount != 5 {
		t.Errorf("root children count = %d, expected 5", rootAfter.ChildrenCount)
	}
}

func TestPlace_IdempotentOncePlaced(t *testing.T) {
	env, root := newPlacementEnv(t)
	ctx := context.Background()

	member := env.addUnplaced(t, root.ID, 1)[0]

	first, err := env.referral.Place(ctx, member.ID, root.ID)
	if err != nil {
		t.Fatalf("first Place: %v", err)
	}

	second, err := env.referral.Place(ctx, member.ID, root.ID)
	if err != nil {
		t.Fatalf("second Place: %v", err)
	}
	if second.Status != PlacementAlreadyLocked {
		t.Errorf("expected already_locked, got %s", second.Status)
	}
	if second.ParentID != first.ParentID || second.Level != first.Level {
		t.Errorf("repeat placement must report the original slot, got %+v", second)
	}

	rootAfter, _ := env.repos.MemberRepo.FindByID(ctx, root.ID)
	if rootAfter.ChildrenCount != 1 {
		t.Errorf("root children count = %d, expected 1", rootAfter.ChildrenCount)
	}
}

func TestPlace_ConcurrentPlacementsAllLand(t *testing.T) {
	env, root := newPlacementEnv(t)
	ctx := context.Background()

	// Root already has four children, so only one direct slot remains and
	// the loser of the race has to spill over.
	existing := env.addUnplaced(t, root.ID, 4)
	for _, m := range existing {
		if _, err := env.referral.Place(ctx, m.ID, root.ID); err != nil {
			t.Fatalf("seed placement: %v", err)
		}
	}

	racers := env.addUnplaced(t, root.ID, 2)
	var wg sync.WaitGroup
	errs := make([]error, len(racers))
	for i, m := range racers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.referral.Place(ctx, id, root.ID)
		}(i, m.ID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("racer %d failed: %v", i, err)
		}
	}

	rootAfter, _ := env.repos.MemberRepo.FindByID(ctx, root.ID)
	if rootAfter.ChildrenCount != 5 {
		t.Errorf("root children count = %d, expected exactly 5", rootAfter.ChildrenCount)
	}

	placedUnderRoot := 0
	for _, m := range racers {
		got, _ := env.repos.MemberRepo.FindByID(ctx, m.ID)
		if !got.PlacementLocked {
			t.Errorf("racer %s not locked after placement", m.ID)
		}
		if got.ParentID != nil && *got.ParentID == root.ID {
			placedUnderRoot++
		}
	}
	if placedUnderRoot != 1 {
		t.Errorf("expected exactly one racer in the last root slot, got %d", placedUnderRoot)
	}
}

func TestPlace_AncestorsFollowThePath(t *testing.T) {
	env, root := newPlacementEnv(t)
	ctx := context.Background()

	members := env.addUnplaced(t, root.ID, 7)
	for _, m := range members[:6] {
		if _, err := env.referral.Place(ctx, m.ID, root.ID); err != nil {
			t.Fatalf("Place: %v", err)
		}
	}

	// Member 6 is the second spillover into members[0]'s subtree.
	result, err := env.referral.Place(ctx, members[6].ID, root.ID)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if result.ParentID != members[0].ID {
		t.Fatalf("expected parent %s, got %s", members[0].ID, result.ParentID)
	}

	got, _ := env.repos.MemberRepo.FindByID(ctx, members[6].ID)
	if len(got.Ancestors) != 2 || got.Ancestors[0] != root.ID || got.Ancestors[1] != members[0].ID {
		t.Errorf("ancestors = %v, expected [%s %s]", got.Ancestors, root.ID, members[0].ID)
	}
	if got.Level != len(got.Ancestors) {
		t.Errorf("level %d must equal ancestor count %d", got.Level, len(got.Ancestors))
	}
}

func TestPlace_FallsBackToRootWhenSubtreeClosed(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// A sponsor sitting at the depth bound: children would exceed it, so the
	// search finds nothing and defaults to a level-1 slot under the sponsor.
	root := env.addMember(t, &repository.Member{
		Email: "deep@x.io", Name: "Deep", ReferralCode: "DEEP0001",
		Level: 7, PlacementLocked: true,
	})
	member := env.addUnplaced(t, root.ID, 1)[0]

	result, err := env.referral.Place(ctx, member.ID, root.ID)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if result.ParentID != root.ID || result.Level != 1 {
		t.Errorf("expected fallback slot under sponsor at level 1, got %+v", result)
	}
}

func TestPlace_MissingRootRejected(t *testing.T) {
	env, root := newPlacementEnv(t)
	member := env.addUnplaced(t, root.ID, 1)[0]

	if _, err := env.referral.Place(context.Background(), member.ID, ""); !errors.Is(err, ErrNoRoot) {
		t.Errorf("empty root: expected ErrNoRoot, got %v", err)
	}
	if _, err := env.referral.Place(context.Background(), member.ID, "nope"); !errors.Is(err, ErrNoRoot) {
		t.Errorf("unknown root: expected ErrNoRoot, got %v", err)
	}
}

func TestTree_BoundedDepth(t *testing.T) {
	env, root := newPlacementEnv(t)
	ctx := context.Background()

	members := env.addUnplaced(t, root.ID, 6)
	for _, m := range members {
		if _, err := env.referral.Place(ctx, m.ID, root.ID); err != nil {
			t.Fatalf("Place: %v", err)
		}
	}

	tree, err := env.referral.Tree(ctx, root.ID, 1)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(tree.Children) != 5 {
		t.Errorf("expected 5 direct children, got %d", len(tree.Children))
	}
	for _, child := range tree.Children {
		if len(child.Children) != 0 {
			t.Error("depth 1 snapshot must not include grandchildren")
		}
	}

	full, err := env.referral.Tree(ctx, root.ID, 2)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(full.Children[0].Children) != 1 {
		t.Errorf("expected the spillover grandchild at depth 2, got %d", len(full.Children[0].Children))
	}
}

func TestEnsureUniqueReferralCode_Format(t *testing.T) {
	env := newTestEnv()

	code, err := env.referral.EnsureUniqueReferralCode(context.Background())
	if err != nil {
		t.Fatalf("EnsureUniqueReferralCode: %v", err)
	}
	if len(code) != 8 {
		t.Errorf("code length = %d, expected 8", len(code))
	}
	for _, c := range code {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			t.Errorf("code %q contains non-hex character %q", code, c)
		}
	}
}
