package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whoson/whoson/pkg/store"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print registry-wide tracking statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry, err := store.NewStore(cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open registry: %w", err)
			}
			defer registry.Close()

			ctx := cmd.Context()
			if err := registry.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize registry: %w", err)
			}

			stats, err := registry.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to read statistics: %w", err)
			}

			fmt.Printf("tracked servers: %d\n", stats.Total)
			fmt.Printf("guilds:          %d\n", stats.Scopes)
			for kind, count := range stats.ByKind {
				fmt.Printf("%-16s %d\n", string(kind)+":", count)
			}
			return nil
		},
	}
}
