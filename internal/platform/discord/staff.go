package discord

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/patrickmn/go-cache"

	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/moderation"
)

const defaultStaffTTL = time.Minute

// StaffOracle answers whether a member may act on alerts: the guild owner,
// administrators and holders of a configured staff role. Answers are cached
// briefly per guild and user.
type StaffOracle struct {
	session *discordgo.Session
	guilds  moderation.GuildConfigProvider
	cache   *cache.Cache
}

// NewStaffOracle creates an oracle. ttl <= 0 uses one minute.
func NewStaffOracle(session *discordgo.Session, guilds moderation.GuildConfigProvider, ttl time.Duration) *StaffOracle {
	if ttl <= 0 {
		ttl = defaultStaffTTL
	}
	return &StaffOracle{
		session: session,
		guilds:  guilds,
		cache:   cache.New(ttl, 2*ttl),
	}
}

func (o *StaffOracle) IsStaff(ctx context.Context, guildID, userID string) (bool, error) {
	key := guildID + "/" + userID
	if v, ok := o.cache.Get(key); ok {
		return v.(bool), nil
	}
	staff, err := o.resolve(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	o.cache.SetDefault(key, staff)
	return staff, nil
}

// Invalidate forgets cached answers for a member, e.g. after a role change.
func (o *StaffOracle) Invalidate(guildID, userID string) {
	o.cache.Delete(guildID + "/" + userID)
}

func (o *StaffOracle) resolve(ctx context.Context, guildID, userID string) (bool, error) {
	var staffRoles []string
	if o.guilds != nil {
		cfg, err := o.guilds.GuildConfig(ctx, guildID)
		switch {
		case err == nil:
			if cfg.OwnerID == userID {
				return true, nil
			}
			staffRoles = cfg.StaffRoles()
		case !errors.Is(err, repository.ErrGuildConfigNotFound):
			return false, fmt.Errorf("failed to load guild config: %w", err)
		}
	}

	guild, err := o.guild(ctx, guildID)
	if err != nil {
		return false, err
	}
	if guild.OwnerID == userID {
		return true, nil
	}

	member, err := o.member(ctx, guildID, userID)
	if err != nil {
		if isRESTCode(err, discordgo.ErrCodeUnknownMember) {
			return false, nil
		}
		return false, err
	}

	for _, roleID := range member.Roles {
		if slices.Contains(staffRoles, roleID) {
			return true, nil
		}
	}
	return memberPermissions(guild, member)&discordgo.PermissionAdministrator != 0, nil
}

func (o *StaffOracle) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g, err := o.session.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
		return g, nil
	}
	g, err := o.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to load guild %s: %w", guildID, err)
	}
	return g, nil
}

func (o *StaffOracle) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := o.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := o.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to load member %s: %w", userID, err)
	}
	return m, nil
}

// memberPermissions combines @everyone with the member's roles.
func memberPermissions(guild *discordgo.Guild, member *discordgo.Member) int64 {
	var perms int64
	for _, role := range guild.Roles {
		if role.ID == guild.ID || slices.Contains(member.Roles, role.ID) {
			perms |= role.Permissions
		}
	}
	return perms
}
