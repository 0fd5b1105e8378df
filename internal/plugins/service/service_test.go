package serviceplugin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}
}

// fakeSystemctl writes a script that answers is-active / is-enabled per
// the given exit codes and logs every mutating invocation.
func fakeSystemctl(t *testing.T, active, enabled bool) (path, logFile string) {
	t.Helper()

	dir := t.TempDir()
	logFile = filepath.Join(dir, "calls.log")

	activeExit, enabledExit := "1", "1"
	if active {
		activeExit = "0"
	}
	if enabled {
		enabledExit = "0"
	}

	script := `#!/bin/sh
case "$1" in
is-active) exit ` + activeExit + ` ;;
is-enabled) exit ` + enabledExit + ` ;;
*) echo "$@" >> ` + logFile + `; exit 0 ;;
esac
`
	path = filepath.Join(dir, "fake-systemctl")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, logFile
}

func boolPtr(b bool) *bool { return &b }

func serviceStep(cfg config.ServiceStep) *config.Step {
	return &config.Step{ID: "enable_containerd", Type: "service", Enabled: true, Service: &cfg}
}

func TestEvaluate_StartedAndActive(t *testing.T) {
	skipOnWindows(t)

	ctl, _ := fakeSystemctl(t, true, true)
	p := &servicePlugin{systemctl: ctl}

	result, err := p.Evaluate(context.Background(), serviceStep(config.ServiceStep{Unit: "containerd", State: "started"}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSatisfied, result.CurrentState)
	assert.False(t, result.RequiresAction)
}

func TestEvaluate_StartedButInactive(t *testing.T) {
	skipOnWindows(t)

	ctl, _ := fakeSystemctl(t, false, true)
	p := &servicePlugin{systemctl: ctl}

	result, err := p.Evaluate(context.Background(), serviceStep(config.ServiceStep{Unit: "containerd", State: "started"}))
	require.NoError(t, err)
	assert.True(t, result.RequiresAction)
	assert.Contains(t, result.Message, "start")
}

func TestEvaluate_RestartAlwaysPending(t *testing.T) {
	skipOnWindows(t)

	ctl, _ := fakeSystemctl(t, true, true)
	p := &servicePlugin{systemctl: ctl}

	result, err := p.Evaluate(context.Background(), serviceStep(config.ServiceStep{Unit: "kubelet", State: "restarted"}))
	require.NoError(t, err)
	assert.True(t, result.RequiresAction)
}

func TestEvaluate_EnableNeeded(t *testing.T) {
	skipOnWindows(t)

	ctl, _ := fakeSystemctl(t, true, false)
	p := &servicePlugin{systemctl: ctl}

	result, err := p.Evaluate(context.Background(), serviceStep(config.ServiceStep{Unit: "kubelet", State: "started", Enabled: boolPtr(true)}))
	require.NoError(t, err)
	assert.True(t, result.RequiresAction)
	assert.Contains(t, result.Message, "enable")
}

func TestEvaluate_NoDesiredState(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Evaluate(context.Background(), serviceStep(config.ServiceStep{Unit: "kubelet"}))

	var valErr *plugin.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestEvaluate_SystemctlMissing(t *testing.T) {
	skipOnWindows(t)

	p := &servicePlugin{systemctl: "/nonexistent/systemctl"}
	_, err := p.Evaluate(context.Background(), serviceStep(config.ServiceStep{Unit: "kubelet", State: "started"}))

	var stateErr *plugin.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestApply_StartAndEnable(t *testing.T) {
	skipOnWindows(t)

	ctl, logFile := fakeSystemctl(t, false, false)
	p := &servicePlugin{systemctl: ctl}
	step := serviceStep(config.ServiceStep{Unit: "containerd", State: "started", Enabled: boolPtr(true)})

	eval, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	result, err := p.Apply(context.Background(), eval, step)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, result.Status)

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "enable containerd")
	assert.Contains(t, string(logged), "start containerd")
}

func TestApply_DaemonReloadRunsFirst(t *testing.T) {
	skipOnWindows(t)

	ctl, logFile := fakeSystemctl(t, false, true)
	p := &servicePlugin{systemctl: ctl}
	step := serviceStep(config.ServiceStep{Unit: "containerd", State: "restarted", DaemonReload: true})

	eval, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), eval, step)
	require.NoError(t, err)

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := string(logged)
	assert.Contains(t, lines, "daemon-reload")
	require.Less(t, strings.Index(lines, "daemon-reload"), strings.Index(lines, "restart containerd"))
}

func TestApply_Failure(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	ctl := filepath.Join(dir, "fake-systemctl")
	script := "#!/bin/sh\ncase \"$1\" in\nis-active) exit 1 ;;\n*) echo 'Failed to start unit' >&2; exit 1 ;;\nesac\n"
	require.NoError(t, os.WriteFile(ctl, []byte(script), 0o755))

	p := &servicePlugin{systemctl: ctl}
	step := serviceStep(config.ServiceStep{Unit: "containerd", State: "started"})

	eval, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	result, err := p.Apply(context.Background(), eval, step)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "Failed to start unit")

	var execErr *plugin.ExecutionError
	require.ErrorAs(t, err, &execErr)
}
