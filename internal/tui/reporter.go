package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/reporter"
)

// ProgramReporter bridges engine events into Bubbletea messages.
type ProgramReporter struct {
	program *tea.Program
}

// NewProgramReporter wraps a running Bubbletea program.
func NewProgramReporter(program *tea.Program) *ProgramReporter {
	return &ProgramReporter{program: program}
}

var _ reporter.Reporter = (*ProgramReporter)(nil)

func (r *ProgramReporter) PlanStarted(string, int) {}

func (r *ProgramReporter) StepStarted(stepID string) {
	r.program.Send(StepStartMsg{ID: stepID, Time: time.Now()})
}

func (r *ProgramReporter) StepCompleted(result *model.StepResult) {
	r.program.Send(StepCompleteMsg{Result: *result})
}

// PlanCompleted is a no-op: post-apply validations stream in after the
// last step, so the apply command decides when to quit the program.
func (r *ProgramReporter) PlanCompleted([]*model.StepResult, time.Duration) {}
