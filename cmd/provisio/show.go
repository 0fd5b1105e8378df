package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/engine"
)

func newShowCmd() *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved execution order for a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePlanPath(planPath); err != nil {
				return err
			}

			plan, err := config.ParsePlan(planPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing plan: %v\n", err)
				os.Exit(exitConfigError)
			}

			graph, err := engine.BuildDAG(plan.Steps)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error building execution plan: %v\n", err)
				os.Exit(exitConfigError)
			}

			execPlan, err := engine.GeneratePlan(graph)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan: %s (%d steps)\n", plan.Name, len(graph.Nodes))
			if plan.Description != "" {
				fmt.Fprintln(out, plan.Description)
			}
			fmt.Fprint(out, execPlan.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&planPath, "config", "c", "", "Path to plan file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}
