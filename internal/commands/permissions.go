package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/auth"
)

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

// requireManager allows administrators, the owner and allow-listed users.
func (h *Handler) requireManager(ctx context.Context, i *discordgo.InteractionCreate) error {
	if isAdmin(i) {
		return nil
	}
	ok, err := h.deps.Authorizer.CanManage(ctx, auth.Subject{Community: i.GuildID, Principal: actorID(i)})
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !ok {
		return errDenied
	}
	return nil
}

// requireAdmin allows administrators only. The owner always carries
// Administrator in interaction permissions.
func (h *Handler) requireAdmin(_ context.Context, i *discordgo.InteractionCreate) error {
	if isAdmin(i) {
		return nil
	}
	return errDenied
}
