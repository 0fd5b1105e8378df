package engine

import (
	"context"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/logger"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/reporter"
	"github.com/provisio/provisio/internal/state"
)

// ExecutionContext contains runtime state shared across executor workers.
type ExecutionContext struct {
	Plan            *config.Plan
	Registry        *plugin.Registry
	Reporter        reporter.Reporter
	StateStore      *state.Store
	RunID           string
	DryRun          bool
	Verbose         bool
	ContinueOnError bool
	WorkerPool      chan struct{}
	Results         map[string]*model.StepResult
	Logger          *logger.Logger
	Context         context.Context
}
