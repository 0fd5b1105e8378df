package model

import (
	"time"
)

// VerificationStatus classifies a step's current state relative to its
// declared desired state.
type VerificationStatus string

const (
	// StatusSatisfied means the desired state already holds.
	StatusSatisfied VerificationStatus = "satisfied"
	// StatusMissing means the resource does not exist yet.
	StatusMissing VerificationStatus = "missing"
	// StatusDrifted means the resource exists but differs from the desired state.
	StatusDrifted VerificationStatus = "drifted"
	// StatusBlocked means the step could not be verified because a dependency is unsatisfied.
	StatusBlocked VerificationStatus = "blocked"
	// StatusUnknown means the current state could not be determined.
	StatusUnknown VerificationStatus = "unknown"
)

// IsValid reports whether the status is one of the defined values.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusSatisfied, StatusMissing, StatusDrifted, StatusBlocked, StatusUnknown:
		return true
	}
	return false
}

// VerificationResult is the read-only assessment of a single step.
type VerificationResult struct {
	StepID    string
	Status    VerificationStatus
	Message   string
	Details   string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// VerificationSummary aggregates verification results for a whole plan.
type VerificationSummary struct {
	TotalSteps int
	Satisfied  int
	Missing    int
	Drifted    int
	Blocked    int
	Unknown    int
	Duration   time.Duration
	Results    []*VerificationResult
}

// AllSatisfied reports whether every verified step is satisfied.
func (s *VerificationSummary) AllSatisfied() bool {
	if s == nil {
		return false
	}
	return s.TotalSteps > 0 && s.Satisfied == s.TotalSteps
}

// NeedsApply reports whether any step requires changes.
func (s *VerificationSummary) NeedsApply() bool {
	if s == nil {
		return false
	}
	return s.Missing > 0 || s.Drifted > 0
}

// ExitCode maps the summary to the process exit code contract:
// 0 all satisfied, 1 changes needed, 2 blocked or undeterminable.
func (s *VerificationSummary) ExitCode() int {
	switch {
	case s == nil:
		return 2
	case s.Blocked > 0 || s.Unknown > 0:
		return 2
	case s.NeedsApply():
		return 1
	default:
		return 0
	}
}
