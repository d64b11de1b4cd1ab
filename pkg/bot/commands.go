package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whoson/pkg/engine"
	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/probe"
	"github.com/whoson/whoson/pkg/store"
)

const (
	colorSuccess = 0x00ff00
	colorError   = 0xff0000
	colorInfo    = 0x00a8ff
	colorWarning = 0xffff00
)

const handlerTimeout = 60 * time.Second

var manageGuild int64 = discordgo.PermissionManageServer

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "add",
			Description:              "Add a Minecraft server to track",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "address",
					Description: "Server address (e.g., play.example.com or play.example.com:25565)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "nickname",
					Description: "Friendly name for the server",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "server_type",
					Description: "Server type",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "auto", Value: "auto"},
						{Name: "java", Value: "java"},
						{Name: "bedrock", Value: "bedrock"},
					},
				},
			},
		},
		{
			Name:                     "remove",
			Description:              "Stop tracking a Minecraft server",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "address",
					Description:  "Address of the tracked server",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        "list",
			Description: "List the tracked Minecraft servers",
		},
		{
			Name:                     "update",
			Description:              "Refresh every tracked server now",
			DefaultMemberPermissions: &manageGuild,
		},
		{
			Name:                     "permissions",
			Description:              "Check and repair the bot's permissions",
			DefaultMemberPermissions: &manageGuild,
		},
		{
			Name:                     "cleanup",
			Description:              "Remove every tracked server and its channels",
			DefaultMemberPermissions: &manageGuild,
		},
		{
			Name:        "stats",
			Description: "Show tracking statistics",
		},
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case "add":
			b.handleAdd(ctx, s, i)
		case "remove":
			b.handleRemove(ctx, s, i)
		case "list":
			b.handleList(ctx, s, i)
		case "update":
			b.handleUpdate(ctx, s, i)
		case "permissions":
			b.handlePermissions(ctx, s, i)
		case "cleanup":
			b.handleCleanup(s, i)
		case "stats":
			b.handleStats(ctx, s, i)
		}
	case discordgo.InteractionApplicationCommandAutocomplete:
		if i.ApplicationCommandData().Name == "remove" {
			b.handleRemoveAutocomplete(ctx, s, i)
		}
	case discordgo.InteractionMessageComponent:
		b.handleCleanupButton(ctx, s, i)
	}
}

// maxAutocompleteChoices is Discord's cap on choices per autocomplete
// response.
const maxAutocompleteChoices = 25

// handleRemoveAutocomplete offers the guild's tracked servers as choices
// for the remove command's address option.
func (b *Bot) handleRemoveAutocomplete(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	partial := ""
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			partial = opt.StringValue()
		}
	}

	targets, err := b.service.ListTargets(ctx, i.GuildID)
	if err != nil {
		b.logger.WithScope(i.GuildID).WithError(err).Warn("failed to list targets for autocomplete")
		targets = nil
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: removeChoices(targets, partial)},
	}); err != nil {
		b.logger.WithError(err).Warn("failed to send autocomplete choices")
	}
}

// removeChoices filters the tracked targets by the partially typed value,
// matching either the address or the display name case-insensitively.
func removeChoices(targets []*store.Target, partial string) []*discordgo.ApplicationCommandOptionChoice {
	partial = strings.ToLower(partial)
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(targets))
	for _, target := range targets {
		if partial != "" &&
			!strings.Contains(strings.ToLower(target.Address), partial) &&
			!strings.Contains(strings.ToLower(target.Name()), partial) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s (%s)", target.Name(), target.Address),
			Value: target.Address,
		})
		if len(choices) == maxAutocompleteChoices {
			break
		}
	}
	return choices
}

// optionMap flattens an interaction's options by name.
func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

// kindFromOption translates the server_type choice. The "auto" choice (and
// an absent option) leaves detection to the resolver.
func kindFromOption(opt *discordgo.ApplicationCommandInteractionDataOption) probe.Kind {
	if opt == nil {
		return probe.KindUndetermined
	}
	switch opt.StringValue() {
	case "java":
		return probe.KindJava
	case "bedrock":
		return probe.KindBedrock
	default:
		return probe.KindUndetermined
	}
}

func (b *Bot) handleAdd(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	address := opts["address"].StringValue()
	nickname := ""
	if opt, ok := opts["nickname"]; ok {
		nickname = opt.StringValue()
	}

	// Adding probes the server and creates channels, so defer.
	b.deferResponse(s, i)

	result, err := b.service.AddTarget(ctx, i.GuildID, address, nickname, kindFromOption(opts["server_type"]))
	if err != nil {
		b.followupEmbed(s, i, faultEmbed(err))
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "✅ Server Added",
		Color:       colorSuccess,
		Description: fmt.Sprintf("Now tracking `%s` as a %s server.", address, result.Target.Kind),
	}
	if result.Detected {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Auto-Detected",
			Value: fmt.Sprintf("Protocol detected as %s", result.Target.Kind),
		})
	}
	for _, warning := range result.Warnings {
		embed.Color = colorWarning
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "⚠️ Warning",
			Value: warning,
		})
	}
	b.followupEmbed(s, i, embed)
}

func (b *Bot) handleRemove(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	address := optionMap(i)["address"].StringValue()
	key := store.KeyFromAddress(address)

	b.deferResponse(s, i)

	summary, err := b.service.RemoveTarget(ctx, i.GuildID, key)
	if err != nil {
		b.followupEmbed(s, i, faultEmbed(err))
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "🗑️ Server Removed",
		Color:       colorSuccess,
		Description: fmt.Sprintf("No longer tracking `%s`.", summary.Target.Address),
	}
	if summary.CategoryDeleted {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Category Cleaned Up",
			Value: "Removed the empty tracking category",
		})
	}
	if len(summary.Errors) > 0 {
		embed.Color = colorWarning
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "⚠️ Partial Cleanup",
			Value: strings.Join(summary.Errors, "\n"),
		})
	}
	b.followupEmbed(s, i, embed)
}

func (b *Bot) handleList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	targets, err := b.service.ListTargets(ctx, i.GuildID)
	if err != nil {
		b.respondEmbed(s, i, faultEmbed(err), true)
		return
	}

	b.respondEmbed(s, i, listEmbed(targets), false)
}

// listEmbed builds the /list response.
func listEmbed(targets []*store.Target) *discordgo.MessageEmbed {
	if len(targets) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "📋 Tracked Servers",
			Color:       colorInfo,
			Description: "No servers are being tracked. Use `/add` to start.",
		}
	}

	embed := &discordgo.MessageEmbed{
		Title: "📋 Tracked Servers",
		Color: colorInfo,
	}
	for _, t := range targets {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  t.Name(),
			Value: fmt.Sprintf("`%s` (%s)", t.Address, t.Kind),
		})
	}
	return embed
}

func (b *Bot) handleUpdate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.deferResponse(s, i)

	succeeded, failed, err := b.service.ForceReconcileAll(ctx, i.GuildID)
	if err != nil {
		b.followupEmbed(s, i, faultEmbed(err))
		return
	}

	color := colorSuccess
	if failed > 0 {
		color = colorWarning
	}
	b.followupEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "🔄 Update Complete",
		Color:       color,
		Description: fmt.Sprintf("Updated %d servers, %d failed.", succeeded, failed),
	})
}

func (b *Bot) handlePermissions(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.deferResponse(s, i)

	report, err := b.service.CheckAndRepairPermissions(ctx, i.GuildID)
	if err != nil {
		b.followupEmbed(s, i, faultEmbed(err))
		return
	}

	b.followupEmbed(s, i, permissionEmbed(report))
}

// permissionEmbed builds the /permissions response, naming each missing
// capability so an admin knows what to fix.
func permissionEmbed(report *engine.PermissionReport) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "🔐 Permission Check"}

	if report.ScopeSatisfied {
		embed.Color = colorSuccess
		embed.Description = "All required server-wide permissions are granted."
	} else {
		embed.Color = colorError
		missing := make([]string, len(report.ScopeMissing))
		for i, c := range report.ScopeMissing {
			missing[i] = string(c)
		}
		embed.Description = fmt.Sprintf(
			"Missing server-wide permissions: **%s**\n\nGrant these to the bot's role, or re-invite the bot with the correct permissions. Make sure the bot's role sits high enough in the role hierarchy.",
			strings.Join(missing, ", "))
	}

	for _, ch := range report.Channels {
		if ch.Satisfied {
			continue
		}
		missing := make([]string, len(ch.Missing))
		for i, c := range ch.Missing {
			missing[i] = string(c)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  ch.Key,
			Value: fmt.Sprintf("Missing on <#%s>: %s", ch.ChannelID, strings.Join(missing, ", ")),
		})
	}
	return embed
}

// handleCleanup asks for confirmation before the bulk removal runs. The
// destructive action itself waits behind a single-use token.
func (b *Bot) handleCleanup(s *discordgo.Session, i *discordgo.InteractionCreate) {
	scopeID := i.GuildID
	token := b.confirmer.Begin(scopeID, func(ctx context.Context) error {
		return b.cleanupScope(ctx, scopeID)
	})

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "⚠️ Confirm Cleanup",
				Color:       colorWarning,
				Description: "This removes **every** tracked server and its channels. This cannot be undone.",
			}},
			Flags: discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    "Confirm",
							Style:    discordgo.DangerButton,
							CustomID: "cleanup_confirm:" + token,
						},
						discordgo.Button{
							Label:    "Cancel",
							Style:    discordgo.SecondaryButton,
							CustomID: "cleanup_cancel:" + token,
						},
					},
				},
			},
		},
	})
	if err != nil {
		b.logger.WithError(err).Error("failed to send cleanup confirmation")
	}
}

func (b *Bot) handleCleanupButton(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	action, token, ok := strings.Cut(customID, ":")
	if !ok || (action != "cleanup_confirm" && action != "cleanup_cancel") {
		return
	}

	b.deferResponse(s, i)

	outcome, err := b.confirmer.Resolve(ctx, token, action == "cleanup_confirm")
	if err != nil {
		if faults.IsNotFound(err) {
			b.followupEmbed(s, i, &discordgo.MessageEmbed{
				Title:       "⏱️ Nothing To Confirm",
				Color:       colorInfo,
				Description: "This confirmation was already handled.",
			})
			return
		}
		b.followupEmbed(s, i, faultEmbed(err))
		return
	}

	switch outcome {
	case engine.OutcomeConfirmed:
		b.followupEmbed(s, i, &discordgo.MessageEmbed{
			Title:       "🧹 Cleanup Complete",
			Color:       colorSuccess,
			Description: "All tracked servers and their channels were removed.",
		})
	case engine.OutcomeCancelled:
		b.followupEmbed(s, i, &discordgo.MessageEmbed{
			Title:       "Cleanup Cancelled",
			Color:       colorInfo,
			Description: "Nothing was removed.",
		})
	case engine.OutcomeExpired:
		b.followupEmbed(s, i, &discordgo.MessageEmbed{
			Title:       "⏱️ Confirmation Expired",
			Color:       colorWarning,
			Description: "The confirmation window passed. Run `/cleanup` again.",
		})
	}
}

// cleanupScope removes every tracked target in a guild. Idempotent: targets
// already gone are skipped.
func (b *Bot) cleanupScope(ctx context.Context, scopeID string) error {
	targets, err := b.service.ListTargets(ctx, scopeID)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if _, err := b.service.RemoveTarget(ctx, scopeID, t.Key); err != nil && !faults.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (b *Bot) handleStats(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	stats, err := b.service.Stats(ctx)
	if err != nil {
		b.respondEmbed(s, i, faultEmbed(err), true)
		return
	}
	status := b.service.SchedulerStatus()

	embed := &discordgo.MessageEmbed{
		Title: "📈 Tracking Statistics",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tracked Servers", Value: fmt.Sprintf("%d", stats.Total), Inline: true},
			{Name: "Guilds", Value: fmt.Sprintf("%d", stats.Scopes), Inline: true},
			{Name: "Cycles Completed", Value: fmt.Sprintf("%d", status.CycleCount), Inline: true},
			{Name: "Scheduler", Value: schedulerStateLabel(status.Running), Inline: true},
		},
	}
	for kind, count := range stats.ByKind {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("%s Servers", capitalize(string(kind))),
			Value:  fmt.Sprintf("%d", count),
			Inline: true,
		})
	}
	if status.Running && !status.NextRun.IsZero() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Next Update",
			Value:  fmt.Sprintf("<t:%d:R>", status.NextRun.Unix()),
			Inline: true,
		})
	}

	b.respondEmbed(s, i, embed, false)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func schedulerStateLabel(running bool) string {
	if running {
		return "🟢 Running"
	}
	return "🔴 Stopped"
}

// faultEmbed renders an engine fault as a user-facing error message.
func faultEmbed(err error) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Color: colorError}

	switch faults.KindOf(err) {
	case faults.KindNotFound:
		embed.Title = "❌ Not Found"
	case faults.KindDuplicateKey:
		embed.Title = "❌ Already Tracked"
	case faults.KindUnreachable:
		embed.Title = "❌ Server Not Found"
	case faults.KindPermissionDenied:
		embed.Title = "❌ Missing Permissions"
	case faults.KindRateLimited:
		embed.Title = "⏳ Rate Limited"
	default:
		embed.Title = "❌ Error"
	}
	embed.Description = err.Error()
	return embed
}

func (b *Bot) deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		b.logger.WithError(err).Warn("failed to defer interaction response")
	}
}

func (b *Bot) respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.logger.WithError(err).Warn("failed to respond to interaction")
	}
}

func (b *Bot) followupEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		b.logger.WithError(err).Warn("failed to send interaction followup")
	}
}
