package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whoson/whoson/pkg/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending registry schema migrations",
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
			if err := registry.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("registry at %s is up to date\n", cfg.Store.Path)
			return nil
		},
	}
}
