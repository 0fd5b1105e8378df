package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisio/provisio/internal/config"
	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

func step(id string, deps ...string) config.Step {
	return config.Step{ID: id, Type: "command", Enabled: true, DependsOn: deps}
}

func TestBuildDAG_LevelsFollowDependencies(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		step("disable_swap"),
		step("load_modules"),
		step("configure_sysctl", "load_modules"),
		step("install_containerd", "configure_sysctl"),
		step("init_cluster", "install_containerd", "disable_swap"),
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)

	require.Len(t, graph.Levels, 4)
	assert.Equal(t, []string{"disable_swap", "load_modules"}, graph.Levels[0])
	assert.Equal(t, []string{"configure_sysctl"}, graph.Levels[1])
	assert.Equal(t, []string{"install_containerd"}, graph.Levels[2])
	assert.Equal(t, []string{"init_cluster"}, graph.Levels[3])
}

func TestBuildDAG_DeclarationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	// All independent; levels must keep document order, not sort ids.
	steps := []config.Step{
		step("zeta"),
		step("alpha"),
		step("mike"),
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)
	require.Len(t, graph.Levels, 1)
	assert.Equal(t, []string{"zeta", "alpha", "mike"}, graph.Levels[0])
}

func TestBuildDAG_DisabledStepsExcluded(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		step("a"),
		{ID: "b", Type: "command", Enabled: false},
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)
	require.Len(t, graph.Levels, 1)
	assert.Equal(t, []string{"a"}, graph.Levels[0])
}

func TestBuildDAG_UnknownDependency(t *testing.T) {
	t.Parallel()

	steps := []config.Step{step("a", "ghost")}

	_, err := BuildDAG(steps)
	require.Error(t, err)

	var valErr *provisioerrors.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildDAG_DuplicateID(t *testing.T) {
	t.Parallel()

	steps := []config.Step{step("a"), step("a")}

	_, err := BuildDAG(steps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestBuildDAG_CycleNamesSteps(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		step("a", "c"),
		step("b", "a"),
		step("c", "b"),
	}

	_, err := BuildDAG(steps)
	require.Error(t, err)

	var valErr *provisioerrors.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, err.Error(), "cycle")
	assert.Contains(t, err.Error(), "a")
}

func TestGeneratePlan_String(t *testing.T) {
	t.Parallel()

	graph, err := BuildDAG([]config.Step{step("a"), step("b", "a")})
	require.NoError(t, err)

	plan, err := GeneratePlan(graph)
	require.NoError(t, err)
	require.Len(t, plan.Levels, 2)

	rendered := plan.String()
	assert.Contains(t, rendered, "Level 1 (1 steps): a")
	assert.Contains(t, rendered, "Level 2 (1 steps): b")
}

func TestGeneratePlan_NilGraph(t *testing.T) {
	t.Parallel()

	_, err := GeneratePlan(nil)
	require.Error(t, err)
}
