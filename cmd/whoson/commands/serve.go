package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/whoson/whoson/pkg/bot"
	"github.com/whoson/whoson/pkg/engine"
	"github.com/whoson/whoson/pkg/platform/discord"
	"github.com/whoson/whoson/pkg/probe"
	"github.com/whoson/whoson/pkg/store"
	"github.com/whoson/whoson/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking daemon",
		Long: `Connects to Discord, starts the update scheduler, and serves the
slash commands until interrupted. Shutdown waits for any in-flight
reconciliation to finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return fmt.Errorf("no bot token: set discord.token or DISCORD_BOT_TOKEN")
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	if cfg.Metrics.Enabled {
		if err := metrics.StartMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	registry, err := store.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer registry.Close()
	if err := registry.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	if err := registry.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate registry: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	prober := probe.NewProber(cfg.Tracking.ProbeTimeout)
	service := engine.NewService(
		cfg.Tracking,
		registry,
		discord.NewManager(session, logger),
		prober,
		probe.NewResolver(prober),
		logger,
		metrics,
	)

	b := bot.New(session, service, logger)
	b.Register()

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}
	logger.Info("connected to discord")

	<-ctx.Done()

	// Scheduler first, so the in-flight reconciliation completes before
	// the gateway drops.
	logger.Info("shutting down")
	b.Stop()
	if err := session.Close(); err != nil {
		logger.WithError(err).Warn("failed to close discord session")
	}
	return nil
}
