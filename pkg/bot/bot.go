// Package bot maps Discord slash commands onto the tracking engine's
// operations and owns the gateway event handlers.
package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whoson/pkg/engine"
	"github.com/whoson/whoson/pkg/telemetry"
)

// Bot wires the Discord gateway to the engine service.
type Bot struct {
	session   *discordgo.Session
	service   *engine.Service
	confirmer *engine.Confirmer
	logger    *telemetry.Logger
}

// New creates the bot layer over an unopened session. Call Register before
// opening the session.
func New(session *discordgo.Session, service *engine.Service, logger *telemetry.Logger) *Bot {
	return &Bot{
		session:   session,
		service:   service,
		confirmer: engine.NewConfirmer(engine.DefaultConfirmTTL),
		logger:    logger.NewComponentLogger("bot"),
	}
}

// Register installs the gateway handlers and the required intents.
func (b *Bot) Register() {
	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onInteraction)
}

// onReady publishes the slash commands, prunes registry rows for guilds the
// bot no longer belongs to, and starts the scheduler.
func (b *Bot) onReady(s *discordgo.Session, ready *discordgo.Ready) {
	b.logger.Infof("logged in as %s, serving %d guilds", ready.User.Username, len(ready.Guilds))

	if _, err := s.ApplicationCommandBulkOverwrite(ready.User.ID, "", commandDefinitions()); err != nil {
		b.logger.WithError(err).Error("failed to register slash commands")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.service.PruneOrphanedScopes(ctx); err != nil {
		b.logger.WithError(err).Warn("failed to prune orphaned scopes")
	}

	b.service.StartScheduler()
}

// onGuildDelete tears down registry state for a guild that kicked the bot.
// Unavailable guilds are outages, not removals.
func (b *Bot) onGuildDelete(_ *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Unavailable {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.service.RemoveScope(ctx, event.ID); err != nil {
		b.logger.WithScope(event.ID).WithError(err).Error("failed to clean up departed guild")
	}
}

// Stop halts the scheduler, letting an in-flight reconciliation finish.
func (b *Bot) Stop() {
	b.service.StopScheduler()
}
