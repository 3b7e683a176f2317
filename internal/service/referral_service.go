package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nivelo/matrix-backend/internal/repository"
)

// ============================================
// Referral Service (matrix placement)
// ============================================

const (
	// Forced matrix shape: every node holds at most 5 direct children and
	// the tree never grows past 7 levels below the sponsor root.
	matrixWidth = 5
	matrixDepth = 7

	maxPlacementRetries = 5
)

type PlacementStatus string

const (
	PlacementAttached      PlacementStatus = "attached"
	PlacementAlreadyLocked PlacementStatus = "already_locked"
)

type PlacementResult struct {
	Status   PlacementStatus
	ParentID string
	Level    int
}

// TreeNode is one node of a member's subtree snapshot.
type TreeNode struct {
	ID               string
	Name             string
	ReferralCode     string
	Level            int
	ChildrenCount    int
	MembershipActive bool
	Children         []*TreeNode
}

type ReferralService interface {
	// Place attaches a member into the first open slot under the sponsor
	// root's subtree. Calling it again after a successful attach is a no-op.
	Place(ctx context.Context, memberID, rootID string) (*PlacementResult, error)

	ResolveRootByInviterCode(ctx context.Context, inviterCode string) (*repository.Member, error)
	EnsureUniqueReferralCode(ctx context.Context) (string, error)

	// Tree builds a nested snapshot of the subtree below rootID, at most
	// maxDepth levels deep (capped at the matrix depth).
	Tree(ctx context.Context, rootID string, maxDepth int) (*TreeNode, error)
}

type referralService struct {
	memberRepo repository.MemberRepository
}

func NewReferralService(memberRepo repository.MemberRepository) ReferralService {
	return &referralService{memberRepo: memberRepo}
}

func (s *referralService) Place(ctx context.Context, memberID, rootID string) (*PlacementResult, error) {
	if rootID == "" {
		return nil, ErrNoRoot
	}

	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFound
	}
	if member.PlacementLocked {
		// Placement is immutable once locked; report where the member sits.
		result := &PlacementResult{Status: PlacementAlreadyLocked, Level: member.Level}
		if member.ParentID != nil {
			result.ParentID = *member.ParentID
		}
		return result, nil
	}

	root, err := s.memberRepo.FindByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, ErrNoRoot
	}

	for attempt := 0; attempt < maxPlacementRetries; attempt++ {
		parent, level, err := s.findOpenSlot(ctx, root)
		if err != nil {
			return nil, err
		}

		ancestors := append(append([]string(nil), parent.Ancestors...), parent.ID)

		// Write the child's placement fields before claiming the slot. If we
		// crash between the claim and the lock, re-running Place recovers:
		// the lock flag, not the attach, is the done marker.
		if err := s.memberRepo.SetPlacement(ctx, memberID, parent.ID, rootID, level, ancestors); err != nil {
			return nil, err
		}

		attached, err := s.memberRepo.TryAttachChild(ctx, parent.ID, memberID)
		if err != nil {
			return nil, err
		}
		if attached {
			if err := s.memberRepo.LockPlacement(ctx, memberID); err != nil {
				return nil, err
			}
			return &PlacementResult{Status: PlacementAttached, ParentID: parent.ID, Level: level}, nil
		}

		// A concurrent placement won the slot. The tree shape changed, so
		// re-read the root and redo the whole search.
		root, err = s.memberRepo.FindByID(ctx, rootID)
		if err != nil {
			return nil, err
		}
		if root == nil {
			return nil, ErrNoRoot
		}
	}

	return nil, ErrMaxRetriesExceeded
}

// findOpenSlot searches the sponsor subtree breadth-first: the root first,
// then each node's children in attachment order. A node is open when it has
// a free slot and its children would not exceed the depth bound.
func (s *referralService) findOpenSlot(ctx context.Context, root *repository.Member) (*repository.Member, int, error) {
	queue := []*repository.Member{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		nextLevel := node.Level + 1
		if node.ChildrenCount < matrixWidth && nextLevel <= matrixDepth {
			return node, nextLevel, nil
		}
		if nextLevel > matrixDepth {
			// Children would sit past the depth bound; nothing below is open.
			continue
		}

		children, err := s.memberRepo.FindChildren(ctx, node.ID)
		if err != nil {
			return nil, 0, err
		}
		queue = append(queue, children...)
	}

	// The entire subtree is closed at depth 7. Default policy: hang the new
	// member directly off the sponsor root at level 1.
	return root, 1, nil
}

func (s *referralService) ResolveRootByInviterCode(ctx context.Context, inviterCode string) (*repository.Member, error) {
	code := strings.ToUpper(strings.TrimSpace(inviterCode))
	if code == "" {
		return nil, nil
	}
	return s.memberRepo.FindByReferralCode(ctx, code)
}

func generateReferralCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func (s *referralService) EnsureUniqueReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", err
		}
		clash, err := s.memberRepo.FindByReferralCode(ctx, code)
		if err != nil {
			return "", err
		}
		if clash == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique referral code")
}

func (s *referralService) Tree(ctx context.Context, rootID string, maxDepth int) (*TreeNode, error) {
	if maxDepth <= 0 || maxDepth > matrixDepth {
		maxDepth = matrixDepth
	}

	root, err := s.memberRepo.FindByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, ErrNotFound
	}

	rootNode := toTreeNode(root)

	// Iterative traversal with an explicit queue and a hard depth bound, so
	// corrupted parent links can never recurse without limit.
	type queued struct {
		memberID string
		node     *TreeNode
		depth    int
	}
	queue := []queued{{memberID: root.ID, node: rootNode, depth: 0}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			continue
		}

		children, err := s.memberRepo.FindChildren(ctx, item.memberID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childNode := toTreeNode(child)
			item.node.Children = append(item.node.Children, childNode)
			queue = append(queue, queued{memberID: child.ID, node: childNode, depth: item.depth + 1})
		}
	}

	return rootNode, nil
}

func toTreeNode(m *repository.Member) *TreeNode {
	return &TreeNode{
		ID:               m.ID,
		Name:             m.Name,
		ReferralCode:     m.ReferralCode,
		Level:            m.Level,
		ChildrenCount:    m.ChildrenCount,
		MembershipActive: m.MembershipActive,
		Children:         []*TreeNode{},
	}
}
