package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for aetherd, grounded on
// hub/internal/cmd's NewRootCmd shape.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "aetherd",
		Short: "AetherOS kernel — hosts long-lived agent processes",
		Long:  "aetherd runs the AetherOS kernel: process scheduling, authorization, the permission engine, and the REST boundary that external clients drive it through.",
		// Bare invocation behaves as "serve".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newBootstrapAdminCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "kernel-config.json", "path to config file")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("aetherd " + version)
			return nil
		},
	}
}

func configPathFlag(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil {
		return f.Value.String()
	}
	return "kernel-config.json"
}
