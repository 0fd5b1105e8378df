package plugin

import (
	"context"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
)

// Metadata describes a plugin's identity for registration and listing.
type Metadata struct {
	// Name is the step type the plugin handles (e.g. "sysctl").
	Name string
	// Version is the plugin implementation version.
	Version string
	// Description summarises what host state the plugin manages.
	Description string
}

// Plugin is the contract every step kind implements.
//
// The engine drives a two-phase protocol: Evaluate performs a strictly
// read-only idempotency check, and Apply mutates the host only when
// Evaluate reported that action is required.
type Plugin interface {
	// PluginMetadata returns the plugin's identity.
	PluginMetadata() Metadata

	// Schema returns the struct describing the step kind's YAML body,
	// used for documentation and schema generation.
	Schema() any

	// Evaluate assesses the host's current state against the desired
	// state declared in the step.
	//
	// CONTRACT: Evaluate MUST NOT mutate any host state. It is invoked
	// by apply (idempotency check and postcondition re-check), dry-run,
	// and verify alike.
	Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error)

	// Apply mutates the host to reach the desired state. Only called
	// when Evaluate reported RequiresAction. Must be idempotent: a
	// second Apply with the same inputs yields the same final state.
	Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error)
}
