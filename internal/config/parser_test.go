package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParsePlan_Valid(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
version: "1.0"
name: control-plane
settings:
  parallel: 1
  timeout: 600
steps:
  - id: load_modules
    type: kernel_module
    modules: [overlay, br_netfilter]
  - id: configure_sysctl
    type: sysctl
    keys:
      net.ipv4.ip_forward: "1"
  - id: install_containerd
    type: download
    url: https://example.com/containerd.tar.gz
    destination: /tmp/containerd.tar.gz
    depends_on: [load_modules]
validations:
  - type: command_exists
    command: kubeadm
`)

	plan, err := ParsePlan(path)
	require.NoError(t, err)
	assert.Equal(t, "control-plane", plan.Name)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, "kernel_module", plan.Steps[0].Type)
	require.NotNil(t, plan.Steps[0].KernelModule)
	assert.Equal(t, []string{"overlay", "br_netfilter"}, plan.Steps[0].KernelModule.Modules)

	require.NotNil(t, plan.Steps[1].Sysctl)
	assert.Equal(t, "1", plan.Steps[1].Sysctl.Keys["net.ipv4.ip_forward"])

	require.NotNil(t, plan.Steps[2].Download)
	assert.Equal(t, []string{"load_modules"}, plan.Steps[2].DependsOn)
	assert.True(t, plan.Steps[2].Enabled, "steps default to enabled")

	require.Len(t, plan.Validations, 1)
	require.NotNil(t, plan.Validations[0].CommandExists)
	assert.Equal(t, "kubeadm", plan.Validations[0].CommandExists.Command)
}

func TestParsePlan_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := ParsePlan(filepath.Join(t.TempDir(), "absent.yaml"))

	var parseErr *provisioerrors.ParseError
	require.True(t, errors.As(err, &parseErr))
}

func TestParsePlan_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := writePlan(t, "version: [unclosed")
	_, err := ParsePlan(path)

	var parseErr *provisioerrors.ParseError
	require.True(t, errors.As(err, &parseErr))
}

func TestParsePlan_UnknownStepType(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
version: "1.0"
name: bad
steps:
  - id: mystery
    type: teleport
`)

	_, err := ParsePlan(path)

	var valErr *provisioerrors.ValidationError
	require.True(t, errors.As(err, &valErr))
}

func TestParsePlan_DuplicateStepID(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
version: "1.0"
name: bad
steps:
  - id: twin
    type: command
    command: "true"
  - id: twin
    type: command
    command: "true"
`)

	_, err := ParsePlan(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestParsePlan_UnknownDependency(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
version: "1.0"
name: bad
steps:
  - id: solo
    type: command
    command: "true"
    depends_on: [ghost]
`)

	_, err := ParsePlan(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "ghost"`)
}

func TestParsePlan_CycleIsFatal(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
version: "1.0"
name: bad
steps:
  - id: a
    type: command
    command: "true"
    depends_on: [b]
  - id: b
    type: command
    command: "true"
    depends_on: [a]
`)

	_, err := ParsePlan(path)
	require.Error(t, err)

	var valErr *provisioerrors.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, err.Error(), "dependency cycle detected")
	assert.Contains(t, err.Error(), "a")
}

func TestParsePlan_StepOverrides(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
version: "1.0"
name: overrides
steps:
  - id: best_effort
    type: command
    command: "apt-get remove -y docker.io"
    continue_on_error: true
    timeout: 120
  - id: disabled_step
    type: command
    command: "true"
    enabled: false
`)

	plan, err := ParsePlan(path)
	require.NoError(t, err)
	assert.True(t, plan.Steps[0].ContinueOnError)
	assert.Equal(t, 120, plan.Steps[0].Timeout)
	assert.False(t, plan.Steps[1].Enabled)
}
