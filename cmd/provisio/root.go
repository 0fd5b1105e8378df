package main

import (
	"github.com/spf13/cobra"
)

// Exit codes shared by apply and verify.
const (
	exitOK          = 0
	exitStepFailure = 1
	exitConfigError = 2
)

type rootFlags struct {
	verbose bool
	dryRun  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "provisio",
		Short: "provisio provisions hosts from declarative plans",
		Long: `provisio applies declarative YAML plans to a host: typed steps with
explicit dependencies, skipped when their desired state already holds,
resumable after failure, and verifiable without mutation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Preview execution without making changes")

	cmd.AddCommand(newApplyCmd(flags))
	cmd.AddCommand(newVerifyCmd(flags))
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}
