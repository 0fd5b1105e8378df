// Package serviceplugin drives systemd units: activation state, boot
// enablement, and daemon reloads after unit file changes.
package serviceplugin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/plugins/internalexec"
)

type servicePlugin struct {
	// systemctl is overridable so tests can substitute a fake binary.
	systemctl string
}

// New creates a new service plugin instance.
func New() plugin.Plugin {
	return &servicePlugin{systemctl: "systemctl"}
}

var _ plugin.Plugin = (*servicePlugin)(nil)

func (p *servicePlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "service",
		Version:     "1.0.0",
		Description: "Manages systemd unit activation and enablement.",
	}
}

func (p *servicePlugin) Schema() any {
	return config.ServiceStep{}
}

type serviceEvaluationData struct {
	NeedsState   bool
	NeedsEnable  bool
	NeedsDisable bool
}

func (p *servicePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.Service
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("service configuration missing"))
	}
	if cfg.State == "" && cfg.Enabled == nil && !cfg.DaemonReload {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("service step declares no desired state"))
	}

	data := &serviceEvaluationData{}
	var pending []string

	// restarted and reloaded are imperative: the unit may be active yet
	// still running a stale config, which we cannot observe.
	switch cfg.State {
	case "restarted", "reloaded":
		data.NeedsState = true
		pending = append(pending, cfg.State)
	case "started":
		active, err := p.isActive(ctx, step.ID, cfg.Unit)
		if err != nil {
			return nil, err
		}
		if !active {
			data.NeedsState = true
			pending = append(pending, "start")
		}
	case "stopped":
		active, err := p.isActive(ctx, step.ID, cfg.Unit)
		if err != nil {
			return nil, err
		}
		if active {
			data.NeedsState = true
			pending = append(pending, "stop")
		}
	}

	if cfg.Enabled != nil {
		enabled, err := p.isEnabled(ctx, step.ID, cfg.Unit)
		if err != nil {
			return nil, err
		}
		if *cfg.Enabled && !enabled {
			data.NeedsEnable = true
			pending = append(pending, "enable")
		}
		if !*cfg.Enabled && enabled {
			data.NeedsDisable = true
			pending = append(pending, "disable")
		}
	}

	if cfg.DaemonReload {
		// daemon-reload is always pending; systemd does not expose
		// whether its unit cache is stale.
		pending = append(pending, "daemon-reload")
	}

	if len(pending) == 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("%s already in desired state", cfg.Unit),
			InternalData: data,
		}, nil
	}

	state := model.StatusMissing
	if !data.NeedsState && !data.NeedsEnable && !data.NeedsDisable {
		state = model.StatusDrifted
	}
	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   state,
		RequiresAction: true,
		Imperative:     cfg.State == "restarted" || cfg.State == "reloaded" || cfg.DaemonReload,
		Message:        fmt.Sprintf("%s needs: %s", cfg.Unit, strings.Join(pending, ", ")),
		InternalData:   data,
	}, nil
}

func (p *servicePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.Service
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("service configuration missing"))
	}

	data, _ := internalDataFrom(evalResult)
	if data == nil {
		data = &serviceEvaluationData{NeedsState: cfg.State != "", NeedsEnable: cfg.Enabled != nil && *cfg.Enabled, NeedsDisable: cfg.Enabled != nil && !*cfg.Enabled}
	}

	var applied []string

	if cfg.DaemonReload {
		if err := p.run(ctx, step.ID, "daemon-reload"); err != nil {
			return failedResult(step.ID, err)
		}
		applied = append(applied, "daemon-reload")
	}

	if data.NeedsEnable {
		if err := p.run(ctx, step.ID, "enable", cfg.Unit); err != nil {
			return failedResult(step.ID, err)
		}
		applied = append(applied, "enable")
	}
	if data.NeedsDisable {
		if err := p.run(ctx, step.ID, "disable", cfg.Unit); err != nil {
			return failedResult(step.ID, err)
		}
		applied = append(applied, "disable")
	}

	if data.NeedsState {
		verb := map[string]string{
			"started":   "start",
			"stopped":   "stop",
			"restarted": "restart",
			"reloaded":  "reload",
		}[cfg.State]
		if verb != "" {
			if err := p.run(ctx, step.ID, verb, cfg.Unit); err != nil {
				return failedResult(step.ID, err)
			}
			applied = append(applied, verb)
		}
	}

	if len(applied) == 0 {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: fmt.Sprintf("%s already in desired state", cfg.Unit),
		}, nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("%s: %s", cfg.Unit, strings.Join(applied, ", ")),
	}, nil
}

func (p *servicePlugin) isActive(ctx context.Context, stepID, unit string) (bool, error) {
	res, err := internalexec.RunQuiet(exec.CommandContext(ctx, p.systemctl, "is-active", "--quiet", unit))
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, plugin.NewStateError(stepID, fmt.Errorf("systemctl is-active %s: %w (%s)", unit, err, internalexec.PrimaryOutput(res)))
}

func (p *servicePlugin) isEnabled(ctx context.Context, stepID, unit string) (bool, error) {
	res, err := internalexec.RunQuiet(exec.CommandContext(ctx, p.systemctl, "is-enabled", unit))
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// is-enabled exits non-zero for disabled, masked, and unknown
		// units alike; the output distinguishes them.
		out := internalexec.PrimaryOutput(res)
		if strings.Contains(out, "No such file") || strings.Contains(out, "not found") {
			return false, plugin.NewStateError(stepID, fmt.Errorf("unit %s not found: %s", unit, out))
		}
		return false, nil
	}
	return false, plugin.NewStateError(stepID, fmt.Errorf("systemctl is-enabled %s: %w", unit, err))
}

func (p *servicePlugin) run(ctx context.Context, stepID string, args ...string) error {
	res, err := internalexec.RunStreaming(exec.CommandContext(ctx, p.systemctl, args...))
	if err != nil {
		detail := internalexec.PrimaryOutput(res)
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("systemctl %s: %s", strings.Join(args, " "), detail)
	}
	return nil
}

func internalDataFrom(evalResult *model.EvaluationResult) (*serviceEvaluationData, bool) {
	if evalResult == nil {
		return nil, false
	}
	data, ok := evalResult.InternalData.(*serviceEvaluationData)
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
