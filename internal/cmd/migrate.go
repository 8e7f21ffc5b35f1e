package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aether-os/kernel/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending StateStore schema migrations and exit",
		RunE:  runMigrate,
	}
}

// runMigrate opens the configured store, which runs every pending
// migration as a side effect of construction, then closes it. There is no
// separate migration-runner API to invoke: store.NewSQLite and
// store.NewPostgres already migrate synchronously on open, so this
// subcommand exists for operators who want to apply schema changes without
// also starting the API listener.
func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag(cmd))
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	s, err := openStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _ = s.Close() }()

	cmd.Println("migrations applied")
	return nil
}
