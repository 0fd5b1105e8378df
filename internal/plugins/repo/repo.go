// Package repoplugin clones git repositories. Provisioning plans use it
// for configuration trees and manifests that ship as git repos rather
// than release tarballs.
package repoplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
)

type repoPlugin struct{}

// New creates a new repo plugin instance.
func New() plugin.Plugin {
	return &repoPlugin{}
}

var _ plugin.Plugin = (*repoPlugin)(nil)

func (p *repoPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "repo",
		Version:     "1.0.0",
		Description: "Clones git repositories to a local destination.",
	}
}

func (p *repoPlugin) Schema() any {
	return config.RepoStep{}
}

type repoEvaluationData struct {
	DirExists    bool
	IsGitRepo    bool
	CloneOptions *git.CloneOptions
}

func (p *repoPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.Repo
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("repo configuration missing"))
	}

	cloneOpts := &git.CloneOptions{URL: cfg.URL}
	if cfg.Depth > 0 {
		cloneOpts.Depth = cfg.Depth
	}
	if cfg.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(cfg.Branch)
		cloneOpts.SingleBranch = true
	}
	data := &repoEvaluationData{CloneOptions: cloneOpts}

	if _, err := os.Stat(cfg.Destination); err != nil {
		if !os.IsNotExist(err) {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot access %s: %w", cfg.Destination, err))
		}
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s does not exist", cfg.Destination),
			Diff:           fmt.Sprintf("Would clone: %s", cfg.URL),
			InternalData:   data,
		}, nil
	}
	data.DirExists = true

	repo, err := git.PlainOpen(cfg.Destination)
	if err != nil {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s exists but is not a git repository", cfg.Destination),
			Diff:           fmt.Sprintf("Would remove directory and clone: %s", cfg.URL),
			InternalData:   data,
		}, nil
	}
	data.IsGitRepo = true

	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		if actual := remote.Config().URLs[0]; actual != cfg.URL {
			return &model.EvaluationResult{
				StepID:         step.ID,
				CurrentState:   model.StatusDrifted,
				RequiresAction: true,
				Message:        fmt.Sprintf("remote URL is %s, want %s", actual, cfg.URL),
				Diff:           fmt.Sprintf("Would reclone from: %s", cfg.URL),
				InternalData:   data,
			}, nil
		}
	}

	if cfg.Branch != "" {
		if head, err := repo.Head(); err == nil && head.Name().Short() != cfg.Branch {
			return &model.EvaluationResult{
				StepID:         step.ID,
				CurrentState:   model.StatusDrifted,
				RequiresAction: true,
				Message:        fmt.Sprintf("checked out branch is %s, want %s", head.Name().Short(), cfg.Branch),
				InternalData:   data,
			}, nil
		}
	}

	return &model.EvaluationResult{
		StepID:       step.ID,
		CurrentState: model.StatusSatisfied,
		Message:      fmt.Sprintf("repository present at %s", cfg.Destination),
		InternalData: data,
	}, nil
}

func (p *repoPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.Repo
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("repo configuration missing"))
	}

	var data *repoEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*repoEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		fresh, err := p.Evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
		if !fresh.RequiresAction {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusSkipped,
				Message: "repository already in desired state",
			}, nil
		}
		data = fresh.InternalData.(*repoEvaluationData)
	}

	// A non-repo directory or one pointing at the wrong remote is
	// replaced wholesale; rewriting remotes in place risks leaving
	// unrelated local state behind.
	if data.DirExists {
		if err := os.RemoveAll(cfg.Destination); err != nil {
			return failedResult(step.ID, fmt.Errorf("cannot remove %s: %w", cfg.Destination, err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Destination), 0o755); err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot create parent directory: %w", err))
	}

	if _, err := git.PlainCloneContext(ctx, cfg.Destination, false, data.CloneOptions); err != nil {
		return failedResult(step.ID, fmt.Errorf("cloning %s: %w", cfg.URL, err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("cloned %s into %s", cfg.URL, cfg.Destination),
	}, nil
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}
