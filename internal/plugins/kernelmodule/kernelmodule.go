// Package kernelmoduleplugin loads kernel modules and persists them to
// a modules-load.d drop-in so they survive reboot. Loaded state is read
// from /proc/modules.
package kernelmoduleplugin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/plugins/internalexec"
)

type kernelModulePlugin struct {
	// procModules and modprobeCommand are overridable for tests.
	procModules     string
	modprobeCommand string
}

// New creates a new kernel_module plugin instance.
func New() plugin.Plugin {
	return &kernelModulePlugin{procModules: "/proc/modules", modprobeCommand: "modprobe"}
}

var _ plugin.Plugin = (*kernelModulePlugin)(nil)

func (p *kernelModulePlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "kernel_module",
		Version:     "1.0.0",
		Description: "Loads kernel modules and persists them across reboots.",
	}
}

func (p *kernelModulePlugin) Schema() any {
	return config.KernelModuleStep{}
}

type moduleEvaluationData struct {
	Missing []string
}

func (p *kernelModulePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.KernelModule
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("kernel_module configuration missing"))
	}

	loaded, err := p.loadedModules()
	if err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("reading %s: %w", p.procModules, err))
	}

	var missing []string
	for _, module := range cfg.Modules {
		// modprobe normalizes dashes to underscores when loading.
		normalized := strings.ReplaceAll(module, "-", "_")
		if !loaded[normalized] {
			missing = append(missing, module)
		}
	}

	persistStale := false
	if cfg.PersistPath != "" {
		persisted, err := os.ReadFile(cfg.PersistPath)
		if os.IsNotExist(err) {
			persistStale = true
		} else if err != nil {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("reading %s: %w", cfg.PersistPath, err))
		} else if string(persisted) != renderPersistFile(cfg.Modules) {
			persistStale = true
		}
	}

	if len(missing) == 0 && !persistStale {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("all %d modules loaded", len(cfg.Modules)),
			InternalData: &moduleEvaluationData{},
		}, nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "not loaded: "+strings.Join(missing, ", "))
	}
	if persistStale {
		parts = append(parts, fmt.Sprintf("persist file %s out of date", cfg.PersistPath))
	}

	state := model.StatusDrifted
	if len(missing) == len(cfg.Modules) {
		state = model.StatusMissing
	}
	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   state,
		RequiresAction: true,
		Message:        strings.Join(parts, "; "),
		InternalData:   &moduleEvaluationData{Missing: missing},
	}, nil
}

func (p *kernelModulePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.KernelModule
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("kernel_module configuration missing"))
	}

	toLoad := cfg.Modules
	if evalResult != nil {
		if data, ok := evalResult.InternalData.(*moduleEvaluationData); ok {
			toLoad = data.Missing
		}
	}

	for _, module := range toLoad {
		res, err := internalexec.RunQuiet(exec.CommandContext(ctx, p.modprobeCommand, module))
		if err != nil {
			detail := internalexec.PrimaryOutput(res)
			if detail == "" {
				detail = err.Error()
			}
			return failedResult(step.ID, fmt.Errorf("modprobe %s: %s", module, detail))
		}
	}

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.PersistPath), 0o755); err != nil {
			return failedResult(step.ID, fmt.Errorf("cannot create parent directory: %w", err))
		}
		if err := os.WriteFile(cfg.PersistPath, []byte(renderPersistFile(cfg.Modules)), 0o644); err != nil {
			return failedResult(step.ID, fmt.Errorf("cannot persist to %s: %w", cfg.PersistPath, err))
		}
	}

	msg := fmt.Sprintf("loaded %d modules", len(toLoad))
	if cfg.PersistPath != "" {
		msg += fmt.Sprintf(", persisted to %s", cfg.PersistPath)
	}
	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: msg,
	}, nil
}

// loadedModules parses /proc/modules, whose first column is the module
// name.
func (p *kernelModulePlugin) loadedModules() (map[string]bool, error) {
	f, err := os.Open(p.procModules)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	loaded := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			loaded[fields[0]] = true
		}
	}
	return loaded, scanner.Err()
}

func renderPersistFile(modules []string) string {
	var b strings.Builder
	b.WriteString("# Managed by provisio. Do not edit.\n")
	for _, module := range modules {
		b.WriteString(module)
		b.WriteString("\n")
	}
	return b.String()
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}
