package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/logger"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
	"github.com/provisio/provisio/internal/state"
	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

// Execute runs the execution plan level by level and returns step
// results in plan order. A failed step halts subsequent levels unless
// it (or the plan) sets continue_on_error; dependents of a failed step
// are skipped either way.
func Execute(execCtx *ExecutionContext, plan *ExecutionPlan) ([]model.StepResult, error) {
	if execCtx == nil {
		return nil, provisioerrors.NewExecutionError("", fmt.Errorf("execution context is nil"))
	}
	if execCtx.Plan == nil {
		return nil, provisioerrors.NewExecutionError("", fmt.Errorf("execution context plan is nil"))
	}
	if plan == nil {
		return nil, provisioerrors.NewExecutionError("", fmt.Errorf("execution plan is nil"))
	}
	if execCtx.Registry == nil {
		return nil, provisioerrors.NewExecutionError("", fmt.Errorf("plugin registry is nil"))
	}

	baseCtx := execCtx.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	defaultTimeout := time.Duration(execCtx.Plan.Settings.Timeout) * time.Second

	stepLookup := make(map[string]*config.Step, len(execCtx.Plan.Steps))
	for i := range execCtx.Plan.Steps {
		step := &execCtx.Plan.Steps[i]
		stepLookup[step.ID] = step
	}

	if execCtx.Results == nil {
		execCtx.Results = make(map[string]*model.StepResult)
	}

	var mu sync.Mutex
	failed := make(map[string]bool)
	var allResults []model.StepResult
	var firstErr error
	halted := false

	planStart := time.Now()
	if execCtx.Reporter != nil {
		execCtx.Reporter.PlanStarted(execCtx.Plan.Name, len(stepLookup))
	}

	for _, level := range plan.Levels {
		if halted {
			break
		}

		levelResults := make([]*model.StepResult, len(level.StepIDs))
		levelErrs := make([]error, len(level.StepIDs))
		var wg sync.WaitGroup

		for idx, stepID := range level.StepIDs {
			step, ok := stepLookup[stepID]
			if !ok {
				return allResults, provisioerrors.NewExecutionError(stepID, fmt.Errorf("step not found"))
			}

			mu.Lock()
			blockedBy := failedDependency(step, failed)
			mu.Unlock()
			if blockedBy != "" {
				levelResults[idx] = &model.StepResult{
					StepID:    step.ID,
					Status:    model.StatusSkipped,
					Message:   fmt.Sprintf("skipped: dependency %s failed", blockedBy),
					Timestamp: time.Now(),
				}
				mu.Lock()
				failed[step.ID] = true // dependents of a skipped dependent stay skipped
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(idx int, step *config.Step) {
				defer wg.Done()

				if execCtx.Reporter != nil {
					execCtx.Reporter.StepStarted(step.ID)
				}

				res, err := executeStep(ctx, execCtx, step, defaultTimeout)
				levelResults[idx] = res
				levelErrs[idx] = err
			}(idx, step)
		}

		wg.Wait()

		for idx, res := range levelResults {
			if res == nil {
				continue
			}

			mu.Lock()
			execCtx.Results[res.StepID] = res
			if res.Status == model.StatusFailed {
				failed[res.StepID] = true
			}
			mu.Unlock()

			recordResult(execCtx, res)
			if execCtx.Reporter != nil {
				execCtx.Reporter.StepCompleted(res)
			}

			allResults = append(allResults, *res)

			err := levelErrs[idx]
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				var valErr *plugin.ValidationError
				if errors.As(err, &valErr) {
					halted = true
					continue
				}
				step := stepLookup[res.StepID]
				if !execCtx.ContinueOnError && !(step != nil && step.ContinueOnError) {
					halted = true
				}
			}
		}
	}

	if execCtx.StateStore != nil && !execCtx.DryRun {
		if err := execCtx.StateStore.Save(); err != nil {
			execCtx.Logger.Error(err, "failed to persist state")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if execCtx.Reporter != nil {
		resultRefs := make([]*model.StepResult, len(allResults))
		for i := range allResults {
			resultRefs[i] = &allResults[i]
		}
		execCtx.Reporter.PlanCompleted(resultRefs, time.Since(planStart))
	}

	return allResults, firstErr
}

// failedDependency returns the id of the first direct dependency that
// failed, or empty when all dependencies succeeded.
func failedDependency(step *config.Step, failed map[string]bool) string {
	for _, dep := range step.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func recordResult(execCtx *ExecutionContext, res *model.StepResult) {
	if execCtx.StateStore == nil || execCtx.DryRun {
		return
	}
	execCtx.StateStore.Append(state.Record{
		RunID:     execCtx.RunID,
		StepID:    res.StepID,
		Status:    res.Status,
		Message:   res.Message,
		Duration:  res.Duration,
		Timestamp: res.Timestamp,
	})
}

func executeStep(ctx context.Context, execCtx *ExecutionContext, step *config.Step, defaultTimeout time.Duration) (*model.StepResult, error) {
	if ctx.Err() != nil {
		return cancelledResult(step.ID, ctx.Err())
	}

	timeout := defaultTimeout
	if step.Timeout > 0 {
		timeout = time.Duration(step.Timeout) * time.Second
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if execCtx.WorkerPool != nil {
		select {
		case execCtx.WorkerPool <- struct{}{}:
			defer func() { <-execCtx.WorkerPool }()
		case <-stepCtx.Done():
			return timeoutResult(step.ID, stepCtx.Err())
		}
	}

	impl, err := execCtx.Registry.Get(step.Type)
	if err != nil {
		return failedStepResult(step.ID, err), err
	}

	start := time.Now()

	evalResult, err := impl.Evaluate(stepCtx, step)
	if err != nil {
		return evaluationFailure(execCtx, step, start, err)
	}

	if !evalResult.RequiresAction {
		msg := evalResult.Message
		if prior, ok := priorSuccess(execCtx, step.ID); ok {
			msg = fmt.Sprintf("%s (completed in run %s)", evalResult.Message, prior.RunID)
		}
		return &model.StepResult{
			StepID:    step.ID,
			Status:    model.StatusSkipped,
			Message:   msg,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}, nil
	}

	if execCtx.DryRun {
		status := model.StatusWouldUpdate
		if evalResult.CurrentState == model.StatusMissing {
			status = model.StatusWouldCreate
		}
		return &model.StepResult{
			StepID:    step.ID,
			Status:    status,
			Message:   dryRunMessage(evalResult),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}, nil
	}

	result, err := impl.Apply(stepCtx, evalResult, step)
	if result == nil {
		result = &model.StepResult{StepID: step.ID}
	}
	if result.StepID == "" {
		result.StepID = step.ID
	}
	result.Duration = time.Since(start)
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	if err != nil {
		return applyFailure(result, stepCtx, step.ID, err)
	}

	if result.Status == "" {
		result.Status = model.StatusSuccess
	}
	if result.Message == "" {
		result.Message = "completed"
	}

	// Postcondition: the state the step declared must now hold. A step
	// whose action succeeded without producing the desired state is a
	// verification failure, not an execution failure.
	if result.Status == model.StatusSuccess && !evalResult.Imperative {
		reEval, reErr := impl.Evaluate(stepCtx, step)
		if reErr == nil && reEval.RequiresAction {
			verr := provisioerrors.NewVerificationError(step.ID,
				fmt.Errorf("postcondition not met: %s", reEval.Message))
			result.Status = model.StatusFailed
			result.Message = fmt.Sprintf("postcondition not met: %s", reEval.Message)
			result.Error = verr
			return result, verr
		}
	}

	return result, nil
}

// priorSuccess reports whether the state store has a successful record
// for the step from an earlier run.
func priorSuccess(execCtx *ExecutionContext, stepID string) (state.Record, bool) {
	if execCtx.StateStore == nil {
		return state.Record{}, false
	}
	rec, ok := execCtx.StateStore.Latest(stepID)
	if !ok || rec.Status != model.StatusSuccess || rec.RunID == execCtx.RunID {
		return state.Record{}, false
	}
	return rec, true
}

func dryRunMessage(evalResult *model.EvaluationResult) string {
	if evalResult.Diff != "" {
		return fmt.Sprintf("%s\n%s", evalResult.Message, strings.TrimRight(evalResult.Diff, "\n"))
	}
	return evalResult.Message
}

func evaluationFailure(execCtx *ExecutionContext, step *config.Step, start time.Time, err error) (*model.StepResult, error) {
	var stateErr *plugin.StateError
	if errors.As(err, &stateErr) {
		// The host state could not be inspected. Mutating blindly could
		// make things worse, so the step is skipped with a warning.
		execCtx.Logger.WithFields(map[string]any{"step": step.ID}).Warn(
			fmt.Sprintf("cannot determine current state, skipping: %v", stateErr.Unwrap()))
		return &model.StepResult{
			StepID:    step.ID,
			Status:    model.StatusSkipped,
			Message:   fmt.Sprintf("state could not be determined: %v", stateErr.Unwrap()),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}, nil
	}

	res := &model.StepResult{
		StepID:    step.ID,
		Status:    model.StatusFailed,
		Message:   fmt.Sprintf("evaluation failed: %v", err),
		Error:     err,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}

	var valErr *plugin.ValidationError
	if errors.As(err, &valErr) {
		return res, err
	}
	return res, provisioerrors.NewExecutionError(step.ID, err)
}

func applyFailure(result *model.StepResult, stepCtx context.Context, stepID string, err error) (*model.StepResult, error) {
	result.Status = model.StatusFailed
	if result.Error == nil {
		result.Error = err
	}
	if result.Message == "" {
		result.Message = err.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		result.Message = "timeout exceeded"
	}

	var valErr *plugin.ValidationError
	if errors.As(err, &valErr) {
		return result, err
	}
	return result, provisioerrors.NewExecutionError(stepID, err)
}

func failedStepResult(stepID string, err error) *model.StepResult {
	return &model.StepResult{
		StepID:    stepID,
		Status:    model.StatusFailed,
		Message:   err.Error(),
		Error:     err,
		Timestamp: time.Now(),
	}
}

func cancelledResult(stepID string, err error) (*model.StepResult, error) {
	res := &model.StepResult{
		StepID:    stepID,
		Status:    model.StatusFailed,
		Message:   "cancelled",
		Error:     err,
		Timestamp: time.Now(),
	}
	return res, provisioerrors.NewExecutionError(stepID, err)
}

func timeoutResult(stepID string, err error) (*model.StepResult, error) {
	if err == nil {
		err = context.DeadlineExceeded
	}
	res := &model.StepResult{
		StepID:    stepID,
		Status:    model.StatusFailed,
		Message:   "timeout exceeded",
		Error:     err,
		Timestamp: time.Now(),
	}
	return res, provisioerrors.NewExecutionError(stepID, err)
}

// Executor handles read-only verification walks.
type Executor struct {
	logger *logger.Logger
}

// NewExecutor creates a new executor instance.
func NewExecutor(log *logger.Logger) *Executor {
	return &Executor{logger: log}
}

// VerifySteps evaluates every enabled step without mutating the host
// and returns a summary. Steps whose dependencies are not satisfied are
// reported Blocked rather than evaluated.
func (e *Executor) VerifySteps(execCtx *ExecutionContext, steps []config.Step, defaultTimeout time.Duration) (*model.VerificationSummary, error) {
	start := time.Now()

	stepIndex := make(map[string]*config.Step, len(steps))
	enabledSteps := 0
	for i := range steps {
		if !steps[i].Enabled {
			continue
		}
		stepIndex[steps[i].ID] = &steps[i]
		enabledSteps++
	}

	graph, err := BuildDAG(steps)
	if err != nil {
		return nil, err
	}

	summary := &model.VerificationSummary{
		TotalSteps: enabledSteps,
		Results:    make([]*model.VerificationResult, 0, enabledSteps),
	}

	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}

	resultsByID := make(map[string]*model.VerificationResult, enabledSteps)

	record := func(result *model.VerificationResult) {
		summary.Results = append(summary.Results, result)
		resultsByID[result.StepID] = result
		switch result.Status {
		case model.StatusSatisfied:
			summary.Satisfied++
		case model.StatusMissing:
			summary.Missing++
		case model.StatusDrifted:
			summary.Drifted++
		case model.StatusBlocked:
			summary.Blocked++
		case model.StatusUnknown:
			summary.Unknown++
		}
	}

	for _, level := range graph.Levels {
		for _, stepID := range level {
			step, ok := stepIndex[stepID]
			if !ok {
				continue
			}

			if execCtx.Context.Err() != nil {
				return summary, execCtx.Context.Err()
			}

			var unsatisfied []string
			for _, depID := range step.DependsOn {
				depResult, exists := resultsByID[depID]
				if !exists {
					continue
				}
				if depResult.Status != model.StatusSatisfied {
					unsatisfied = append(unsatisfied, fmt.Sprintf("%s (%s)", depID, depResult.Status))
				}
			}

			if len(unsatisfied) > 0 {
				record(&model.VerificationResult{
					StepID:    step.ID,
					Status:    model.StatusBlocked,
					Message:   fmt.Sprintf("blocked: dependencies not satisfied: %s", strings.Join(unsatisfied, ", ")),
					Timestamp: time.Now(),
				})
				continue
			}

			impl, err := execCtx.Registry.Get(step.Type)
			if err != nil {
				record(&model.VerificationResult{
					StepID:    step.ID,
					Status:    model.StatusBlocked,
					Message:   fmt.Sprintf("no plugin registered for type %s", step.Type),
					Error:     err,
					Timestamp: time.Now(),
				})
				continue
			}

			timeout := defaultTimeout
			if step.Timeout > 0 {
				timeout = time.Duration(step.Timeout) * time.Second
			}

			stepStart := time.Now()
			stepCtx, cancel := context.WithTimeout(execCtx.Context, timeout)
			evalResult, verifyErr := impl.Evaluate(stepCtx, step)
			cancel()

			if verifyErr != nil {
				var stateErr *plugin.StateError
				if errors.As(verifyErr, &stateErr) {
					record(&model.VerificationResult{
						StepID:    step.ID,
						Status:    model.StatusUnknown,
						Message:   stateErr.Error(),
						Error:     stateErr.Unwrap(),
						Duration:  time.Since(stepStart),
						Timestamp: time.Now(),
					})
					continue
				}
				// Validation and execution failures abort the walk.
				summary.Duration = time.Since(start)
				return summary, verifyErr
			}

			record(&model.VerificationResult{
				StepID:    evalResult.StepID,
				Status:    evalResult.CurrentState,
				Message:   evalResult.Message,
				Details:   evalResult.Diff,
				Duration:  time.Since(stepStart),
				Timestamp: time.Now(),
			})
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}
