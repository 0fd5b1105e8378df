package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/internal/reporter"
	"github.com/provisio/provisio/internal/state"
)

func newStatusCmd() *cobra.Command {
	stateFile := state.DefaultPath

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show results persisted by previous apply runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.NewStore(stateFile)
			if err := store.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading state file: %v\n", err)
				os.Exit(exitConfigError)
			}

			history := store.History()
			if len(history) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded in %s\n", store.Path())
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State file: %s\n\n", store.Path())
			fmt.Fprintf(out, "%-28s %-30s %-12s %s\n", "Run", "Step", "Status", "When")
			fmt.Fprintln(out, strings.Repeat("-", 90))
			for _, rec := range history {
				fmt.Fprintf(out, "%-28s %-30s %-12s %s\n",
					rec.RunID,
					rec.StepID,
					reporter.String(rec.Status),
					rec.Timestamp.Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFile, "state-file", state.DefaultPath, "Path to the state file")

	return cmd
}
