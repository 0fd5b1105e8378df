// Package fileplugin manages file content on the host: config files,
// systemd units, persisted kernel settings. Content may be declared
// inline or copied from a local source path.
package fileplugin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/pkg/diff"
)

const defaultMode = os.FileMode(0o644)

type filePlugin struct{}

// New creates a new file plugin instance.
func New() plugin.Plugin {
	return &filePlugin{}
}

var _ plugin.Plugin = (*filePlugin)(nil)

func (p *filePlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "file",
		Version:     "1.0.0",
		Description: "Writes files with declared content, source, and mode.",
	}
}

func (p *filePlugin) Schema() any {
	return config.FileStep{}
}

type fileEvaluationData struct {
	Desired []byte
	Mode    os.FileMode
}

func (p *filePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.File
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("file configuration missing"))
	}

	desired, mode, err := desiredState(cfg)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}
	data := &fileEvaluationData{Desired: desired, Mode: mode}

	info, err := os.Lstat(cfg.Destination)
	if os.IsNotExist(err) {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s does not exist", cfg.Destination),
			Diff:           diff.Unified(desired, nil, "desired", cfg.Destination),
			InternalData:   data,
		}, nil
	}
	if err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot stat %s: %w", cfg.Destination, err))
	}
	if info.IsDir() {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("%s is a directory", cfg.Destination))
	}

	actual, err := os.ReadFile(cfg.Destination)
	if err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot read %s: %w", cfg.Destination, err))
	}

	if !bytes.Equal(actual, desired) {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s content differs", cfg.Destination),
			Diff:           diff.Unified(desired, actual, "desired", cfg.Destination),
			InternalData:   data,
		}, nil
	}

	if info.Mode().Perm() != mode {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s mode is %04o, want %04o", cfg.Destination, info.Mode().Perm(), mode),
			InternalData:   data,
		}, nil
	}

	return &model.EvaluationResult{
		StepID:       step.ID,
		CurrentState: model.StatusSatisfied,
		Message:      fmt.Sprintf("%s matches desired content", cfg.Destination),
		InternalData: data,
	}, nil
}

func (p *filePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.File
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("file configuration missing"))
	}

	var data *fileEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*fileEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		desired, mode, err := desiredState(cfg)
		if err != nil {
			return nil, plugin.NewValidationError(step.ID, err)
		}
		data = &fileEvaluationData{Desired: desired, Mode: mode}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Destination), 0o755); err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot create parent directory: %w", err))
	}

	// Write-then-rename keeps a partially written config from being
	// picked up by the service it configures.
	tmp := cfg.Destination + ".provisio-tmp"
	if err := os.WriteFile(tmp, data.Desired, data.Mode); err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot write %s: %w", tmp, err))
	}
	if err := os.Chmod(tmp, data.Mode); err != nil {
		os.Remove(tmp)
		return failedResult(step.ID, fmt.Errorf("cannot chmod %s: %w", tmp, err))
	}
	if err := os.Rename(tmp, cfg.Destination); err != nil {
		os.Remove(tmp)
		return failedResult(step.ID, fmt.Errorf("cannot rename into place: %w", err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("wrote %s (%d bytes)", cfg.Destination, len(data.Desired)),
	}, nil
}

func desiredState(cfg *config.FileStep) ([]byte, os.FileMode, error) {
	mode := defaultMode
	if cfg.Mode != "" {
		parsed, err := strconv.ParseUint(cfg.Mode, 8, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid mode %q: %w", cfg.Mode, err)
		}
		mode = os.FileMode(parsed)
	}

	if cfg.Source != "" {
		content, err := os.ReadFile(cfg.Source)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot read source %s: %w", cfg.Source, err)
		}
		return content, mode, nil
	}

	return []byte(cfg.Content), mode, nil
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}
