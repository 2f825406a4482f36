package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nukeguard/internal/platform"
)

// AuthorizationContext identifies who is acting and where.
type AuthorizationContext interface {
	CommunityID() string
	PrincipalID() string
}

// Subject is the plain AuthorizationContext used by event handlers.
type Subject struct {
	Community string
	Principal string
}

func (s Subject) CommunityID() string { return s.Community }
func (s Subject) PrincipalID() string { return s.Principal }

// AllowList answers whether a principal was granted trusted status.
type AllowList interface {
	IsAllowListed(ctx context.Context, communityID, principalID string) (bool, error)
}

// Gate decides which principals bypass rate tracking and which may
// manage protection.
type Gate struct {
	platform         platform.CommunityAPI
	allow            AllowList
	newAccountWindow time.Duration
	now              func() time.Time
}

func NewGate(p platform.CommunityAPI, allow AllowList, newAccountWindow time.Duration) *Gate {
	return &Gate{
		platform:         p,
		allow:            allow,
		newAccountWindow: newAccountWindow,
		now:              time.Now,
	}
}

// IsExempt reports whether ac is trusted: the bot itself, the community
// owner, an allow-listed principal, or an automated account that joined
// outside the new-account window. A principal no longer in the community
// is not exempt.
func (g *Gate) IsExempt(ctx context.Context, ac AuthorizationContext) (bool, error) {
	principal := ac.PrincipalID()
	if principal == g.platform.SelfID() {
		return true, nil
	}
	ok, err := g.CanManage(ctx, ac)
	if err != nil || ok {
		return ok, err
	}

	member, err := g.platform.Member(ctx, ac.CommunityID(), principal)
	if errors.Is(err, platform.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve member %s: %w", principal, err)
	}
	return member.Bot && !g.isNew(member), nil
}

// CanManage reports whether ac may run configuration commands: the owner
// or an allow-listed principal.
func (g *Gate) CanManage(ctx context.Context, ac AuthorizationContext) (bool, error) {
	community, err := g.platform.Community(ctx, ac.CommunityID())
	if err != nil {
		return false, fmt.Errorf("resolve community %s: %w", ac.CommunityID(), err)
	}
	if community.OwnerID == ac.PrincipalID() {
		return true, nil
	}

	ok, err := g.allow.IsAllowListed(ctx, ac.CommunityID(), ac.PrincipalID())
	if err != nil {
		return false, fmt.Errorf("allow list lookup: %w", err)
	}
	return ok, nil
}

// IsNewAutomatedAccount reports whether m is a bot that joined inside the
// new-account window.
func (g *Gate) IsNewAutomatedAccount(m *platform.Member) bool {
	return m.Bot && g.isNew(m)
}

func (g *Gate) isNew(m *platform.Member) bool {
	if m.JoinedAt.IsZero() {
		return true
	}
	return g.now().Sub(m.JoinedAt) < g.newAccountWindow
}
