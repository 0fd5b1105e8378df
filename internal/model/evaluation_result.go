package model

// EvaluationResult contains the result of evaluating a step's current
// state against its desired state. Returned by Plugin.Evaluate() and
// passed to Plugin.Apply() when action is required.
type EvaluationResult struct {
	// StepID is the unique identifier of the evaluated step.
	StepID string

	// CurrentState classifies the resource relative to the desired
	// state (Satisfied, Missing, Drifted, Blocked, Unknown).
	CurrentState VerificationStatus

	// RequiresAction indicates whether Apply() should be called.
	RequiresAction bool

	// Message is a human-readable description of the state assessment.
	Message string

	// Diff is an optional formatted preview of what would change,
	// populated when RequiresAction is true for dry-run output.
	Diff string

	// Imperative marks steps whose action cannot be proven by
	// re-evaluation, such as a command without a check or a service
	// restart. The postcondition check is skipped for these.
	Imperative bool

	// InternalData is opaque data passed from Evaluate() to Apply()
	// to avoid recomputation.
	InternalData any
}
