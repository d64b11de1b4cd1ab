// Package discord binds the platform capability interfaces to Discord via
// discordgo. Scopes are guilds, status resources are voice channels, detail
// resources are read-only text channels.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/platform"
	"github.com/whoson/whoson/pkg/render"
	"github.com/whoson/whoson/pkg/telemetry"
)

// capabilityBits maps the platform capability enum onto Discord permission
// bits. Every capability the engine can name must appear here.
var capabilityBits = map[platform.Capability]int64{
	platform.CapManageChannels:     discordgo.PermissionManageChannels,
	platform.CapManageRoles:        discordgo.PermissionManageRoles,
	platform.CapViewChannel:        discordgo.PermissionViewChannel,
	platform.CapSendMessages:       discordgo.PermissionSendMessages,
	platform.CapEmbedLinks:         discordgo.PermissionEmbedLinks,
	platform.CapReadMessageHistory: discordgo.PermissionReadMessageHistory,
}

// Manager implements platform.ResourceManager on a discordgo session.
type Manager struct {
	session *discordgo.Session
	logger  *telemetry.Logger
}

// NewManager wraps an opened session.
func NewManager(session *discordgo.Session, logger *telemetry.Logger) *Manager {
	return &Manager{
		session: session,
		logger:  logger.NewComponentLogger("discord"),
	}
}

// selfID returns the bot user's ID, preferring the session state populated
// at ready time.
func (m *Manager) selfID() (string, error) {
	if m.session.State != nil && m.session.State.User != nil {
		return m.session.State.User.ID, nil
	}
	user, err := m.session.User("@me")
	if err != nil {
		return "", mapError("identify self", err)
	}
	return user.ID, nil
}

func (m *Manager) EnsureCategory(ctx context.Context, scopeID, name string) (string, error) {
	if id, err := m.FindCategory(ctx, scopeID, name); err == nil {
		return id, nil
	} else if !faults.IsNotFound(err) {
		return "", err
	}

	m.logger.WithScope(scopeID).Infof("creating category %q", name)
	channel, err := m.session.GuildChannelCreateComplex(scopeID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("create category", err)
	}
	return channel.ID, nil
}

func (m *Manager) FindCategory(ctx context.Context, scopeID, name string) (string, error) {
	channels, err := m.session.GuildChannels(scopeID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("list channels", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", faults.NotFound(fmt.Sprintf("category %q not found", name), nil).WithOperation("find category")
}

func (m *Manager) CategoryChannelCount(ctx context.Context, scopeID, categoryID string) (int, error) {
	channels, err := m.session.GuildChannels(scopeID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError("list channels", err)
	}
	count := 0
	for _, ch := range channels {
		if ch.ParentID == categoryID {
			count++
		}
	}
	return count, nil
}

// CreateStatusChannel creates the voice channel carrying the live label.
// Nobody can connect, and the bot gets an explicit manage overwrite so
// later renames do not depend on role hierarchy.
func (m *Manager) CreateStatusChannel(ctx context.Context, scopeID, categoryID, label string) (string, error) {
	self, err := m.selfID()
	if err != nil {
		return "", err
	}

	overwrites := []*discordgo.PermissionOverwrite{
		{
			// The guild ID doubles as the @everyone role ID.
			ID:   scopeID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionVoiceConnect,
		},
		{
			ID:    self,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionManageChannels | discordgo.PermissionViewChannel | discordgo.PermissionVoiceConnect,
		},
	}

	channel, err := m.session.GuildChannelCreateComplex(scopeID, discordgo.GuildChannelCreateData{
		Name:                 label,
		Type:                 discordgo.ChannelTypeGuildVoice,
		ParentID:             categoryID,
		UserLimit:            0,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("create status channel", err)
	}
	return channel.ID, nil
}

func (m *Manager) StatusChannelLabel(ctx context.Context, _, channelID string) (string, error) {
	channel, err := m.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("fetch channel", err)
	}
	return channel.Name, nil
}

func (m *Manager) RenameStatusChannel(ctx context.Context, _, channelID, label string) error {
	_, err := m.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: label}, discordgo.WithContext(ctx))
	return mapError("rename channel", err)
}

// CreateDetailChannel creates the read-only text channel for status
// reports: everyone can read, only the bot writes.
func (m *Manager) CreateDetailChannel(ctx context.Context, scopeID, categoryID, name string) (string, error) {
	self, err := m.selfID()
	if err != nil {
		return "", err
	}

	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:    scopeID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory,
			Deny:  discordgo.PermissionSendMessages | discordgo.PermissionCreatePublicThreads | discordgo.PermissionCreatePrivateThreads,
		},
		{
			ID:   self,
			Type: discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages |
				discordgo.PermissionEmbedLinks | discordgo.PermissionReadMessageHistory |
				discordgo.PermissionManageMessages,
		},
	}

	channel, err := m.session.GuildChannelCreateComplex(scopeID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             categoryID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("create detail channel", err)
	}
	return channel.ID, nil
}

func (m *Manager) DeleteChannel(ctx context.Context, _, channelID string) error {
	_, err := m.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapError("delete channel", err)
}

func (m *Manager) SendReport(ctx context.Context, _, channelID string, report *render.Report) (string, error) {
	message, err := m.session.ChannelMessageSendEmbed(channelID, embedFromReport(report), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("send report", err)
	}
	return message.ID, nil
}

func (m *Manager) EditReport(ctx context.Context, _, channelID, messageID string, report *render.Report) error {
	_, err := m.session.ChannelMessageEditEmbed(channelID, messageID, embedFromReport(report), discordgo.WithContext(ctx))
	return mapError("edit report", err)
}

func (m *Manager) MissingCapabilities(ctx context.Context, scopeID, resourceID string, want []platform.Capability) ([]platform.Capability, error) {
	var granted int64
	var err error
	if resourceID == "" {
		granted, err = m.guildPermissions(ctx, scopeID)
	} else {
		granted, err = m.channelPermissions(ctx, resourceID)
	}
	if err != nil {
		return nil, err
	}

	var missing []platform.Capability
	for _, c := range want {
		bit, ok := capabilityBits[c]
		if !ok {
			return nil, faults.Unexpected(fmt.Sprintf("unknown capability %q", c), nil)
		}
		if granted&bit == 0 {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// GrantCapabilities sets a permission overwrite for the bot on a specific
// channel. Discord offers no API for a bot to widen its own guild-level
// permissions, so a scope-wide grant is always a PermissionDenied fault;
// fixing that needs a human re-invite.
func (m *Manager) GrantCapabilities(ctx context.Context, _, resourceID string, grant []platform.Capability) error {
	if resourceID == "" {
		return faults.PermissionDenied("guild-level permissions can only be granted by re-inviting the bot", nil).
			WithOperation("grant capabilities")
	}

	self, err := m.selfID()
	if err != nil {
		return err
	}

	var allow int64
	for _, c := range grant {
		bit, ok := capabilityBits[c]
		if !ok {
			return faults.Unexpected(fmt.Sprintf("unknown capability %q", c), nil)
		}
		allow |= bit
	}

	err = m.session.ChannelPermissionSet(resourceID, self,
		discordgo.PermissionOverwriteTypeMember, allow, 0, discordgo.WithContext(ctx))
	return mapError("set channel permissions", err)
}

func (m *Manager) Scopes(ctx context.Context) ([]string, error) {
	var scopes []string
	after := ""
	for {
		guilds, err := m.session.UserGuilds(200, "", after, false, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError("list guilds", err)
		}
		for _, g := range guilds {
			scopes = append(scopes, g.ID)
		}
		if len(guilds) < 200 {
			return scopes, nil
		}
		after = guilds[len(guilds)-1].ID
	}
}

// channelPermissions computes the bot's effective permissions on a channel.
func (m *Manager) channelPermissions(ctx context.Context, channelID string) (int64, error) {
	self, err := m.selfID()
	if err != nil {
		return 0, err
	}
	perms, err := m.session.UserChannelPermissions(self, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError("read channel permissions", err)
	}
	return perms, nil
}

// guildPermissions computes the bot's guild-wide base permissions from its
// role set.
func (m *Manager) guildPermissions(ctx context.Context, guildID string) (int64, error) {
	self, err := m.selfID()
	if err != nil {
		return 0, err
	}

	guild, err := m.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError("fetch guild", err)
	}
	if guild.OwnerID == self {
		return discordgo.PermissionAll, nil
	}

	member, err := m.session.GuildMember(guildID, self, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError("fetch member", err)
	}

	var perms int64
	for _, role := range guild.Roles {
		if role.ID == guildID {
			// @everyone applies to every member.
			perms |= role.Permissions
			continue
		}
		for _, roleID := range member.Roles {
			if roleID == role.ID {
				perms |= role.Permissions
				break
			}
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll, nil
	}
	return perms, nil
}
