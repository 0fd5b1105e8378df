package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/engine"
	"github.com/provisio/provisio/internal/logger"
	"github.com/provisio/provisio/internal/model"
	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

type verifyOptions struct {
	PlanPath string
	Verbose  bool
	JSON     bool
	Timeout  time.Duration
}

// verificationExecutor is the slice of engine.Executor verify needs.
// Tests substitute a fake.
type verificationExecutor interface {
	VerifySteps(execCtx *engine.ExecutionContext, steps []config.Step, defaultTimeout time.Duration) (*model.VerificationSummary, error)
}

// Seams for tests. runVerifyInternal goes through these so the command
// can be exercised without touching the real host or calling os.Exit.
var (
	parsePlanFunc   = config.ParsePlan
	newLoggerFunc   = logger.New
	newRegistryFunc = newRegistry
	newExecutorFunc = func(log *logger.Logger) verificationExecutor {
		return engine.NewExecutor(log)
	}
	exitFunc               = os.Exit
	printTableOutputFunc   = printTableOutput
	printVerboseOutputFunc = printVerboseOutput
	printJSONOutputFunc    = printJSONOutput
)

var stderrWriter io.Writer = os.Stderr

var verifyCmdRunner = runVerify

func newVerifyCmd(root *rootFlags) *cobra.Command {
	opts := verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify <plan-file>",
		Short: "Verify host state matches the plan without making changes",
		Long: `Verify performs read-only checks to determine whether the host state
matches the declared plan. Returns exit code 0 if all steps are satisfied,
1 if any changes are needed, and 2 if any step is blocked or could not be
assessed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PlanPath = args[0]
			opts.Verbose = root.verbose

			return verifyCmdRunner(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Default timeout per step; accepts Go duration strings (e.g. 60s)")

	return cmd
}

func runVerify(opts verifyOptions) error {
	code, err := runVerifyInternal(opts)
	if err != nil {
		return err
	}
	exitFunc(code)
	return nil
}

func runVerifyInternal(opts verifyOptions) (int, error) {
	plan, err := parsePlanFunc(opts.PlanPath)
	if err != nil {
		fmt.Fprintf(stderrWriter, "Error parsing plan: %v\n", err)
		return exitConfigError, nil
	}

	level := "info"
	if opts.Verbose {
		level = "debug"
	}

	log, err := newLoggerFunc(logger.Options{Level: level, HumanReadable: !opts.JSON})
	if err != nil {
		return 0, err
	}

	registry, err := newRegistryFunc()
	if err != nil {
		return 0, err
	}

	executor := newExecutorFunc(log)

	ctx := context.Background()
	perStepTimeout := opts.Timeout
	if perStepTimeout > 0 {
		var cancel context.CancelFunc
		totalTimeout := perStepTimeout * time.Duration(len(plan.Steps))
		if len(plan.Steps) == 0 {
			totalTimeout = perStepTimeout
		}
		ctx, cancel = context.WithTimeout(ctx, totalTimeout)
		defer cancel()
	}

	log.WithFields(map[string]any{
		"plan":  opts.PlanPath,
		"steps": len(plan.Steps),
	}).Info("starting verification")

	execCtx := &engine.ExecutionContext{
		Plan:     plan,
		Registry: registry,
		Logger:   log,
		Context:  ctx,
	}

	summary, err := executor.VerifySteps(execCtx, plan.Steps, perStepTimeout)
	if err != nil {
		var validationErr *provisioerrors.ValidationError
		if errors.As(err, &validationErr) {
			fmt.Fprintf(stderrWriter, "Configuration error: %v\n", err)
			return exitConfigError, nil
		}

		fmt.Fprintf(stderrWriter, "Verification error: %v\n", err)
		return exitConfigError, nil
	}

	log.WithFields(map[string]any{
		"total":     summary.TotalSteps,
		"satisfied": summary.Satisfied,
		"missing":   summary.Missing,
		"drifted":   summary.Drifted,
		"blocked":   summary.Blocked,
		"unknown":   summary.Unknown,
		"duration":  summary.Duration.String(),
	}).Info("verification complete")

	if opts.JSON {
		if err := printJSONOutputFunc(summary, opts.PlanPath); err != nil {
			fmt.Fprintf(stderrWriter, "Error writing JSON output: %v\n", err)
			return exitConfigError, nil
		}
	} else if opts.Verbose {
		printVerboseOutputFunc(summary)
	} else {
		printTableOutputFunc(summary)
	}

	return summary.ExitCode(), nil
}

func printTableOutput(summary *model.VerificationSummary) {
	fmt.Println("\nVerification Results:")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-40s %-12s %-8s %s\n", "Step ID", "Status", "Duration", "Message")
	fmt.Println(strings.Repeat("-", 80))

	for _, result := range summary.Results {
		symbol := getStatusSymbol(result.Status)
		duration := fmt.Sprintf("%.2fs", result.Duration.Seconds())
		message := truncateString(result.Message, 40)

		fmt.Printf("%-40s %-12s %-8s %s\n",
			truncateString(result.StepID, 40),
			fmt.Sprintf("%s %s", symbol, result.Status),
			duration,
			message,
		)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("\nSummary:\n")
	fmt.Printf("  Total:     %d\n", summary.TotalSteps)
	fmt.Printf("  ✔ Satisfied: %d\n", summary.Satisfied)
	fmt.Printf("  ✖ Missing:   %d\n", summary.Missing)
	fmt.Printf("  ⚠ Drifted:   %d\n", summary.Drifted)
	fmt.Printf("  🚫 Blocked:  %d\n", summary.Blocked)
	fmt.Printf("  ? Unknown:  %d\n", summary.Unknown)
	fmt.Printf("  Duration:  %s\n", summary.Duration.String())

	if summary.AllSatisfied() {
		fmt.Println("\n✅ All steps satisfied - no changes needed")
	} else {
		fmt.Println("\n❌ Changes needed - run 'provisio apply' to fix")
	}
}

func printVerboseOutput(summary *model.VerificationSummary) {
	printTableOutputFunc(summary)

	hasDetails := false
	for _, result := range summary.Results {
		if result.Status == model.StatusDrifted && result.Details != "" {
			if !hasDetails {
				fmt.Println("\nDetailed Diff Output:")
				fmt.Println(strings.Repeat("=", 80))
				hasDetails = true
			}
			fmt.Printf("\n--- Step: %s ---\n", result.StepID)
			fmt.Println(result.Details)
		}
		if result.Status == model.StatusBlocked && result.Error != nil {
			if !hasDetails {
				fmt.Println("\nError Details:")
				fmt.Println(strings.Repeat("=", 80))
				hasDetails = true
			}
			fmt.Printf("\n--- Step: %s ---\n", result.StepID)
			fmt.Printf("Error: %v\n", result.Error)
		}
	}
}

func printJSONOutput(summary *model.VerificationSummary, planPath string) error {
	type JSONResult struct {
		StepID    string  `json:"step_id"`
		Status    string  `json:"status"`
		Message   string  `json:"message"`
		Details   string  `json:"details,omitempty"`
		Error     string  `json:"error,omitempty"`
		Duration  float64 `json:"duration_seconds"`
		Timestamp string  `json:"timestamp"`
	}

	type JSONSummary struct {
		TotalSteps int     `json:"total_steps"`
		Satisfied  int     `json:"satisfied"`
		Missing    int     `json:"missing"`
		Drifted    int     `json:"drifted"`
		Blocked    int     `json:"blocked"`
		Unknown    int     `json:"unknown"`
		Duration   float64 `json:"duration_seconds"`
	}

	type JSONOutput struct {
		PlanFile string       `json:"plan_file"`
		Summary  JSONSummary  `json:"summary"`
		Results  []JSONResult `json:"results"`
	}

	jsonOutput := JSONOutput{
		PlanFile: planPath,
		Summary: JSONSummary{
			TotalSteps: summary.TotalSteps,
			Satisfied:  summary.Satisfied,
			Missing:    summary.Missing,
			Drifted:    summary.Drifted,
			Blocked:    summary.Blocked,
			Unknown:    summary.Unknown,
			Duration:   summary.Duration.Seconds(),
		},
		Results: make([]JSONResult, len(summary.Results)),
	}

	for i, result := range summary.Results {
		jsonResult := JSONResult{
			StepID:    result.StepID,
			Status:    string(result.Status),
			Message:   result.Message,
			Details:   result.Details,
			Duration:  result.Duration.Seconds(),
			Timestamp: result.Timestamp.Format(time.RFC3339),
		}
		if result.Error != nil {
			jsonResult.Error = result.Error.Error()
		}
		jsonOutput.Results[i] = jsonResult
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonOutput)
}

func getStatusSymbol(status model.VerificationStatus) string {
	switch status {
	case model.StatusSatisfied:
		return "✔"
	case model.StatusMissing:
		return "✖"
	case model.StatusDrifted:
		return "⚠"
	case model.StatusBlocked:
		return "🚫"
	default:
		return "?"
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
