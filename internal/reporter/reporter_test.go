package reporter

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisio/provisio/internal/logger"
	"github.com/provisio/provisio/internal/model"
)

func newTestReporter(t *testing.T) (*LogReporter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Level: "debug", Writer: &buf})
	require.NoError(t, err)
	return NewLogReporter(log), &buf
}

func TestLogReporter_StepCompleted(t *testing.T) {
	t.Parallel()

	r, buf := newTestReporter(t)
	r.StepCompleted(&model.StepResult{
		StepID:   "install_containerd",
		Status:   model.StatusSuccess,
		Message:  "downloaded containerd",
		Duration: 3 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "install_containerd")
	assert.Contains(t, out, "step completed")
	assert.Contains(t, out, "success")
}

func TestLogReporter_FailedStepLogsError(t *testing.T) {
	t.Parallel()

	r, buf := newTestReporter(t)
	r.StepCompleted(&model.StepResult{
		StepID: "init_cluster",
		Status: model.StatusFailed,
		Error:  errors.New("kubeadm exited with status 1"),
	})

	out := buf.String()
	assert.Contains(t, out, "step failed")
	assert.Contains(t, out, "kubeadm exited with status 1")
}

func TestLogReporter_PlanLifecycle(t *testing.T) {
	t.Parallel()

	r, buf := newTestReporter(t)
	r.PlanStarted("kubernetes-control-plane", 12)
	r.PlanCompleted([]*model.StepResult{
		{StepID: "a", Status: model.StatusSuccess},
		{StepID: "b", Status: model.StatusSkipped},
	}, 90*time.Second)

	out := buf.String()
	assert.Contains(t, out, "plan started")
	assert.Contains(t, out, "kubernetes-control-plane")
	assert.Contains(t, out, "plan completed")
}

type recordingReporter struct {
	started   []string
	completed []string
}

func (r *recordingReporter) PlanStarted(string, int) {}
func (r *recordingReporter) StepStarted(stepID string) {
	r.started = append(r.started, stepID)
}
func (r *recordingReporter) StepCompleted(result *model.StepResult) {
	r.completed = append(r.completed, result.StepID)
}
func (r *recordingReporter) PlanCompleted([]*model.StepResult, time.Duration) {}

func TestMultiReporter_FansOut(t *testing.T) {
	t.Parallel()

	first := &recordingReporter{}
	second := &recordingReporter{}
	m := NewMultiReporter(first, nil, second)

	m.StepStarted("configure_sysctl")
	m.StepCompleted(&model.StepResult{StepID: "configure_sysctl", Status: model.StatusSuccess})

	assert.Equal(t, []string{"configure_sysctl"}, first.started)
	assert.Equal(t, []string{"configure_sysctl"}, second.completed)
}
