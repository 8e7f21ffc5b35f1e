package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aether-os/kernel/internal/authcore"
	"github.com/aether-os/kernel/internal/config"
	"github.com/aether-os/kernel/internal/eventbus"
)

func newBootstrapAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the initial admin user if the store has none",
		RunE:  runBootstrapAdmin,
	}
	cmd.Flags().String("username", "", "admin username")
	cmd.Flags().String("password", "", "admin password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runBootstrapAdmin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag(cmd))
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	ctx := context.Background()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap-admin: %w", err)
	}
	defer func() { _ = s.Close() }()

	tokenSecret, _, err := cfg.EnsureTokenSecret()
	if err != nil {
		return fmt.Errorf("bootstrap-admin: %w", err)
	}
	bus := eventbus.New(nil)
	auth := authcore.New(s, bus, authcore.Config{
		TokenSecret: tokenSecret,
		TokenExpiry: cfg.Auth.TokenExpiry.Duration,
		MFATokenTTL: cfg.Auth.MFATokenTTL.Duration,
	})

	if err := auth.Bootstrap(ctx, &authcore.InitialAdmin{Username: username, Password: password}); err != nil {
		return fmt.Errorf("bootstrap-admin: %w", err)
	}

	cmd.Println("admin user ready: " + username)
	return nil
}
