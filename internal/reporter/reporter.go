// Package reporter publishes execution progress. Reporting is
// observational: no implementation may alter step outcomes.
package reporter

import (
	"time"

	"github.com/provisio/provisio/internal/logger"
	"github.com/provisio/provisio/internal/model"
)

// Reporter receives execution lifecycle events.
type Reporter interface {
	PlanStarted(planName string, totalSteps int)
	StepStarted(stepID string)
	StepCompleted(result *model.StepResult)
	PlanCompleted(results []*model.StepResult, duration time.Duration)
}

// LogReporter emits one structured log event per lifecycle transition.
type LogReporter struct {
	log *logger.Logger
}

// NewLogReporter creates a reporter backed by the given logger.
func NewLogReporter(log *logger.Logger) *LogReporter {
	return &LogReporter{log: log}
}

var _ Reporter = (*LogReporter)(nil)

func (r *LogReporter) PlanStarted(planName string, totalSteps int) {
	r.log.WithFields(map[string]any{
		"plan":  planName,
		"steps": totalSteps,
	}).Info("plan started")
}

func (r *LogReporter) StepStarted(stepID string) {
	r.log.WithFields(map[string]any{"step": stepID}).Debug("step started")
}

func (r *LogReporter) StepCompleted(result *model.StepResult) {
	fields := map[string]any{
		"step":     result.StepID,
		"status":   result.Status,
		"duration": result.Duration.String(),
	}
	if result.Message != "" {
		fields["message"] = result.Message
	}

	log := r.log.WithFields(fields)
	if result.Status == model.StatusFailed {
		log.Error(result.Error, "step failed")
		return
	}
	log.Info("step completed")
}

func (r *LogReporter) PlanCompleted(results []*model.StepResult, duration time.Duration) {
	counts := map[string]int{}
	for _, res := range results {
		counts[res.Status]++
	}
	r.log.WithFields(map[string]any{
		"total":    len(results),
		"success":  counts[model.StatusSuccess],
		"skipped":  counts[model.StatusSkipped],
		"failed":   counts[model.StatusFailed],
		"duration": duration.String(),
	}).Info("plan completed")
}

// MultiReporter fans events out to several reporters, such as the log
// reporter plus the TUI bridge.
type MultiReporter struct {
	reporters []Reporter
}

// NewMultiReporter combines reporters; nil entries are dropped.
func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	out := &MultiReporter{}
	for _, r := range reporters {
		if r != nil {
			out.reporters = append(out.reporters, r)
		}
	}
	return out
}

var _ Reporter = (*MultiReporter)(nil)

func (m *MultiReporter) PlanStarted(planName string, totalSteps int) {
	for _, r := range m.reporters {
		r.PlanStarted(planName, totalSteps)
	}
}

func (m *MultiReporter) StepStarted(stepID string) {
	for _, r := range m.reporters {
		r.StepStarted(stepID)
	}
}

func (m *MultiReporter) StepCompleted(result *model.StepResult) {
	for _, r := range m.reporters {
		r.StepCompleted(result)
	}
}

func (m *MultiReporter) PlanCompleted(results []*model.StepResult, duration time.Duration) {
	for _, r := range m.reporters {
		r.PlanCompleted(results, duration)
	}
}

// String renders a status for plain-text output.
func String(status string) string {
	switch status {
	case model.StatusSuccess:
		return "ok"
	case model.StatusSkipped:
		return "skipped"
	case model.StatusFailed:
		return "FAILED"
	case model.StatusWouldCreate, model.StatusWouldUpdate:
		return "would change"
	default:
		return status
	}
}
