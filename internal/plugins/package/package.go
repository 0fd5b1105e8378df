// Package packageplugin manages system packages through apt. Package
// entries may pin a version using the name=version syntax understood by
// apt-get.
package packageplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/plugins/internalexec"
)

type packagePlugin struct {
	// queryCommand allows tests to substitute dpkg-query.
	queryCommand   string
	installCommand string
}

// New creates a new package plugin instance.
func New() plugin.Plugin {
	return &packagePlugin{queryCommand: "dpkg-query", installCommand: "apt-get"}
}

var _ plugin.Plugin = (*packagePlugin)(nil)

func (p *packagePlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "package",
		Version:     "1.0.0",
		Description: "Installs system packages via apt with per-package presence checks.",
	}
}

func (p *packagePlugin) Schema() any {
	return config.PackageStep{}
}

type packageEvaluationData struct {
	Missing []string
}

func (p *packagePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.Package
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("package configuration missing"))
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	var missing []string
	for _, entry := range cfg.Packages {
		name := packageName(entry)
		if err := p.runQuiet(ctx, p.queryCommand, "-W", name); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				missing = append(missing, entry)
				continue
			}
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("failed to query package %s: %w", name, err))
		}
	}

	if len(missing) == 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("all packages installed: %s", strings.Join(cfg.Packages, ", ")),
			InternalData: &packageEvaluationData{},
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusMissing,
		RequiresAction: true,
		Message:        fmt.Sprintf("packages not installed: %s", strings.Join(missing, ", ")),
		Diff:           fmt.Sprintf("Would install: %s", strings.Join(missing, ", ")),
		InternalData:   &packageEvaluationData{Missing: missing},
	}, nil
}

func (p *packagePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.Package
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("package configuration missing"))
	}

	data, _ := evalData(evalResult)
	if data == nil {
		fresh, err := p.Evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
		evalResult = fresh
		data, _ = evalData(fresh)
	}

	if !evalResult.RequiresAction || len(data.Missing) == 0 {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "no changes needed",
		}, nil
	}

	if cfg.Update {
		if err := p.runStreaming(ctx, p.installCommand, "update"); err != nil {
			return failedResult(step.ID, fmt.Errorf("failed to update package index: %w", err))
		}
	}

	args := append([]string{"install", "-y"}, data.Missing...)
	if err := p.runStreaming(ctx, p.installCommand, args...); err != nil {
		return failedResult(step.ID, fmt.Errorf("failed to install packages: %w", err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("installed packages: %s", strings.Join(data.Missing, ", ")),
	}, nil
}

func evalData(evalResult *model.EvaluationResult) (*packageEvaluationData, bool) {
	if evalResult == nil {
		return nil, false
	}
	data, ok := evalResult.InternalData.(*packageEvaluationData)
	return data, ok
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

// packageName strips a pinned version suffix from a package entry.
func packageName(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}

func (p *packagePlugin) runQuiet(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	_, err := internalexec.RunQuiet(cmd)
	return err
}

func (p *packagePlugin) runStreaming(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")

	streamResult, err := internalexec.RunStreaming(cmd)
	if err != nil {
		if combined := internalexec.PrimaryOutput(streamResult); combined != "" {
			return fmt.Errorf("%w: %s", err, combined)
		}
		return err
	}
	return nil
}
