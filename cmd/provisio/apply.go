package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/engine"
	"github.com/provisio/provisio/internal/logger"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/reporter"
	"github.com/provisio/provisio/internal/state"
	"github.com/provisio/provisio/internal/tui"
	validationpkg "github.com/provisio/provisio/internal/validation"
	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

type applyOptions struct {
	PlanPath       string
	StateFile      string
	Yes            bool
	DryRun         bool
	Verbose        bool
	NonInteractive bool
}

var applyCmdRunner = runApply

func newApplyCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a provisioning plan to this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DryRun = root.dryRun
			opts.Verbose = root.verbose
			opts.NonInteractive = !term.IsTerminal(int(os.Stdout.Fd()))

			if err := validatePlanPath(opts.PlanPath); err != nil {
				return err
			}

			return applyCmdRunner(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.PlanPath, "config", "c", "", "Path to plan file")
	cmd.Flags().StringVar(&opts.StateFile, "state-file", state.DefaultPath, "Path to the state file used for resume")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runApply(opts applyOptions) error {
	plan, err := config.ParsePlan(opts.PlanPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing plan: %v\n", err)
		os.Exit(exitConfigError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	graph, err := engine.BuildDAG(plan.Steps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building execution plan: %v\n", err)
		os.Exit(exitConfigError)
	}

	execPlan, err := engine.GeneratePlan(graph)
	if err != nil {
		return err
	}

	effectiveDryRun := opts.DryRun || plan.Settings.DryRun
	effectiveVerbose := opts.Verbose || plan.Settings.Verbose
	interactive := !opts.NonInteractive

	if !effectiveDryRun && !opts.Yes && interactive {
		if !confirmApply(plan, execPlan) {
			fmt.Fprintln(os.Stdout, "Aborted.")
			return nil
		}
	}

	level := "info"
	if effectiveVerbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: interactive})
	if err != nil {
		return err
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}

	store := state.NewStore(opts.StateFile)
	if err := store.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading state file: %v\n", err)
		os.Exit(exitConfigError)
	}

	parallel := plan.Settings.Parallel
	if parallel <= 0 {
		parallel = 1
	}

	execCtx := &engine.ExecutionContext{
		Plan:            plan,
		Registry:        registry,
		StateStore:      store,
		RunID:           state.NewRunID(),
		DryRun:          effectiveDryRun,
		Verbose:         effectiveVerbose,
		ContinueOnError: plan.Settings.ContinueOnError,
		WorkerPool:      make(chan struct{}, parallel),
		Results:         make(map[string]*model.StepResult),
		Logger:          log,
		Context:         ctx,
	}

	modelState := tui.NewModel(plan, execPlan, opts.NonInteractive)

	var program *tea.Program
	var programErr error
	done := make(chan struct{})

	if interactive {
		program = tea.NewProgram(modelState)
		execCtx.Reporter = tui.NewProgramReporter(program)
		go func() {
			_, programErr = program.Run()
			close(done)
		}()
	} else {
		execCtx.Reporter = reporter.NewLogReporter(log)
	}

	results, execErr := engine.Execute(execCtx, execPlan)

	if !interactive {
		for _, res := range results {
			updated, _ := modelState.Update(tui.StepCompleteMsg{Result: res})
			if m, ok := updated.(tui.Model); ok {
				modelState = m
			}
		}
	}

	var valErr error
	if execErr == nil && !effectiveDryRun && len(plan.Validations) > 0 {
		validationResults, err := validationpkg.RunValidations(ctx, plan.Validations)
		valErr = err
		for _, vr := range validationResults {
			msg := tui.ValidationMsg{Passed: vr.Passed, Message: vr.Message}
			if interactive {
				program.Send(msg)
			} else {
				updated, _ := modelState.Update(msg)
				if m, ok := updated.(tui.Model); ok {
					modelState = m
				}
			}
		}
	}

	if interactive {
		program.Send(tea.QuitMsg{})
		<-done
		if programErr != nil {
			return programErr
		}
	} else {
		fmt.Fprintln(os.Stdout, modelState.View())
	}

	if execErr != nil {
		var valCfgErr *provisioerrors.ValidationError
		if errors.As(execErr, &valCfgErr) {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", execErr)
			os.Exit(exitConfigError)
		}
		fmt.Fprintf(os.Stderr, "Apply failed: %v\n", execErr)
		os.Exit(exitStepFailure)
	}
	if valErr != nil {
		fmt.Fprintf(os.Stderr, "Post-apply validations failed: %v\n", valErr)
		os.Exit(exitStepFailure)
	}

	return nil
}

// confirmApply shows the resolved execution order and asks before
// mutating the host. Only reached on a TTY without --yes.
func confirmApply(plan *config.Plan, execPlan *engine.ExecutionPlan) bool {
	fmt.Fprintf(os.Stdout, "Plan: %s\n", plan.Name)
	if plan.Description != "" {
		fmt.Fprintln(os.Stdout, plan.Description)
	}
	fmt.Fprint(os.Stdout, execPlan.String())
	fmt.Fprint(os.Stdout, "\nProceed with apply? [y/N]: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
