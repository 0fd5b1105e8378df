// Package sysctlplugin manages kernel parameters. Desired values are
// compared against /proc/sys directly rather than parsing sysctl
// output, applied with sysctl -w, and persisted to a sysctl.d drop-in.
package sysctlplugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/plugins/internalexec"
)

type sysctlPlugin struct {
	// procRoot and sysctlCommand are overridable so tests can run
	// against a fake /proc/sys tree.
	procRoot      string
	sysctlCommand string
}

// New creates a new sysctl plugin instance.
func New() plugin.Plugin {
	return &sysctlPlugin{procRoot: "/proc/sys", sysctlCommand: "sysctl"}
}

var _ plugin.Plugin = (*sysctlPlugin)(nil)

func (p *sysctlPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "sysctl",
		Version:     "1.0.0",
		Description: "Sets and persists kernel parameters.",
	}
}

func (p *sysctlPlugin) Schema() any {
	return config.SysctlStep{}
}

type sysctlEvaluationData struct {
	Pending map[string]string
}

func (p *sysctlPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.Sysctl
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("sysctl configuration missing"))
	}

	pending := map[string]string{}
	persistStale := false

	for key, want := range cfg.Keys {
		current, err := p.readKey(key)
		if err != nil {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("reading %s: %w", key, err))
		}
		if current != want {
			pending[key] = current
		}
	}

	if cfg.PersistPath != "" {
		persisted, err := os.ReadFile(cfg.PersistPath)
		if os.IsNotExist(err) {
			persistStale = true
		} else if err != nil {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("reading %s: %w", cfg.PersistPath, err))
		} else if string(persisted) != renderPersistFile(cfg.Keys) {
			persistStale = true
		}
	}

	if len(pending) == 0 && !persistStale {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("all %d keys at desired values", len(cfg.Keys)),
			InternalData: &sysctlEvaluationData{},
		}, nil
	}

	var lines []string
	for _, key := range sortedKeys(pending) {
		lines = append(lines, fmt.Sprintf("%s: %q -> %q", key, pending[key], cfg.Keys[key]))
	}
	if persistStale {
		lines = append(lines, fmt.Sprintf("persist file %s out of date", cfg.PersistPath))
	}

	state := model.StatusDrifted
	if len(pending) == len(cfg.Keys) {
		state = model.StatusMissing
	}
	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   state,
		RequiresAction: true,
		Message:        fmt.Sprintf("%d of %d keys need changes", len(pending), len(cfg.Keys)),
		Diff:           strings.Join(lines, "\n"),
		InternalData:   &sysctlEvaluationData{Pending: pending},
	}, nil
}

func (p *sysctlPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.Sysctl
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("sysctl configuration missing"))
	}

	applied := 0
	for _, key := range sortedKeys(cfg.Keys) {
		want := cfg.Keys[key]
		cmd := exec.CommandContext(ctx, p.sysctlCommand, "-w", fmt.Sprintf("%s=%s", key, want))
		res, err := internalexec.RunQuiet(cmd)
		if err != nil {
			detail := internalexec.PrimaryOutput(res)
			if detail == "" {
				detail = err.Error()
			}
			return failedResult(step.ID, fmt.Errorf("sysctl -w %s=%s: %s", key, want, detail))
		}
		applied++
	}

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.PersistPath), 0o755); err != nil {
			return failedResult(step.ID, fmt.Errorf("cannot create parent directory: %w", err))
		}
		if err := os.WriteFile(cfg.PersistPath, []byte(renderPersistFile(cfg.Keys)), 0o644); err != nil {
			return failedResult(step.ID, fmt.Errorf("cannot persist to %s: %w", cfg.PersistPath, err))
		}
	}

	msg := fmt.Sprintf("set %d kernel parameters", applied)
	if cfg.PersistPath != "" {
		msg += fmt.Sprintf(", persisted to %s", cfg.PersistPath)
	}
	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: msg,
	}, nil
}

func (p *sysctlPlugin) readKey(key string) (string, error) {
	path := filepath.Join(p.procRoot, strings.ReplaceAll(key, ".", "/"))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func renderPersistFile(keys map[string]string) string {
	var b strings.Builder
	b.WriteString("# Managed by provisio. Do not edit.\n")
	for _, key := range sortedKeys(keys) {
		fmt.Fprintf(&b, "%s = %s\n", key, keys[key])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}
