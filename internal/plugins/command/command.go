// Package commandplugin executes arbitrary shell commands. The optional
// check command is the idempotency predicate: exit 0 means the desired
// state already holds and the command is skipped.
package commandplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/plugins/internalexec"
)

type commandPlugin struct{}

// New creates a new command plugin instance.
func New() plugin.Plugin {
	return &commandPlugin{}
}

var _ plugin.Plugin = (*commandPlugin)(nil)

func (p *commandPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "command",
		Version:     "1.0.0",
		Description: "Executes shell commands with an exit-code idempotency check.",
	}
}

func (p *commandPlugin) Schema() any {
	return config.CommandStep{}
}

func (p *commandPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.Command
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("command configuration missing"))
	}

	// Without a check command the step cannot be proven satisfied, so
	// it always runs. This mirrors plain scripting semantics.
	if strings.TrimSpace(cfg.Check) == "" {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Imperative:     true,
			Message:        "no check declared; command will run",
			Diff:           fmt.Sprintf("Would run: %s", cfg.Command),
		}, nil
	}

	cmd, err := buildShellCommand(ctx, cfg, cfg.Check)
	if err != nil {
		return nil, plugin.NewStateError(step.ID, err)
	}

	if _, err := internalexec.RunQuiet(cmd); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &model.EvaluationResult{
				StepID:         step.ID,
				CurrentState:   model.StatusMissing,
				RequiresAction: true,
				Message:        fmt.Sprintf("check failed (exit code %d)", exitErr.ExitCode()),
				Diff:           fmt.Sprintf("Would run: %s", cfg.Command),
			}, nil
		}
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("check could not run: %w", err))
	}

	return &model.EvaluationResult{
		StepID:       step.ID,
		CurrentState: model.StatusSatisfied,
		Message:      "check succeeded (exit code 0)",
	}, nil
}

func (p *commandPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.Command
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("command configuration missing"))
	}

	cmd, err := buildShellCommand(ctx, cfg, cfg.Command)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	streamResult, err := internalexec.RunStreaming(cmd)
	if err != nil {
		if combined := internalexec.PrimaryOutput(streamResult); combined != "" {
			err = fmt.Errorf("%w: %s", err, combined)
		}
		result := &model.StepResult{StepID: step.ID, Status: model.StatusFailed, Message: err.Error(), Error: err}
		return result, plugin.NewExecutionError(step.ID, err)
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: "command executed",
	}, nil
}

func buildShellCommand(ctx context.Context, cfg *config.CommandStep, script string) (*exec.Cmd, error) {
	shell, shellArgs, err := determineShell(cfg.Shell)
	if err != nil {
		return nil, err
	}

	args := append(shellArgs, script)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Env = buildEnv(cfg.Env)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	return cmd, nil
}

func determineShell(explicit string) (string, []string, error) {
	if explicit != "" {
		return explicit, []string{"-c"}, nil
	}

	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}, nil
	}

	if path, err := exec.LookPath("bash"); err == nil {
		return path, []string{"-c"}, nil
	}

	if path, err := exec.LookPath("sh"); err == nil {
		return path, []string{"-c"}, nil
	}

	return "", nil, fmt.Errorf("no suitable shell found")
}

func buildEnv(custom map[string]string) []string {
	env := os.Environ()
	for k, v := range custom {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
