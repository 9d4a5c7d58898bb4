package engine

import (
	"context"
	"errors"
	"time"

	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/aegis-sec/aegis/pkg/workflow"
	"github.com/rs/zerolog"
)

// executeAttempts runs the instance's task up to retryCount+1 times and
// finalizes the instance with a terminal status. Retries apply to execution
// failures and timeouts; run-level cancellation stops the sequence
// immediately. Exactly one goroutine owns the instance while this runs.
func executeAttempts(ctx context.Context, inst *task.Instance, step *workflow.Step, rc *runctx.Context, logger zerolog.Logger) {
	maxAttempts := step.RetryCount + 1
	inst.StartedAt = time.Now()
	inst.Status = task.StatusRunning

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			finalize(inst, task.StatusSkipped, &task.CancelledError{TaskName: inst.TaskName})
			return
		}

		inst.Attempts = attempt
		result, err := executeOnce(ctx, inst, step, rc)
		if err == nil {
			if setErr := inst.SetResult(result); setErr != nil {
				finalize(inst, task.StatusFailed, &task.ExecError{TaskName: inst.TaskName, Err: setErr})
				return
			}
			finalize(inst, task.StatusCompleted, nil)
			return
		}

		if errors.Is(err, task.ErrCancelled) {
			finalize(inst, task.StatusSkipped, err)
			return
		}

		lastErr = err
		if attempt < maxAttempts {
			logger.Warn().
				Str("task", inst.TaskName).
				Int("attempt", attempt).
				Err(err).
				Msg("attempt failed, retrying")
			if !waitRetry(ctx, step.RetryDelay.Std()) {
				finalize(inst, task.StatusSkipped, &task.CancelledError{TaskName: inst.TaskName})
				return
			}
		}
	}

	if errors.Is(lastErr, task.ErrTimeout) {
		finalize(inst, task.StatusTimedOut, lastErr)
		return
	}
	finalize(inst, task.StatusFailed, lastErr)
}

// executeOnce performs a single attempt: before hook, Execute under the
// per-attempt timeout, after hook. Errors are normalized to the task error
// taxonomy.
func executeOnce(ctx context.Context, inst *task.Instance, step *workflow.Step, rc *runctx.Context) (interface{}, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if limit := step.Timeout.Std(); limit > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	impl := inst.Task()

	if hook, ok := impl.(task.BeforeHook); ok {
		if err := hook.Before(attemptCtx, rc, inst.Params); err != nil {
			return nil, normalizeErr(ctx, attemptCtx, inst, step, err)
		}
	}

	result, err := impl.Execute(attemptCtx, rc, inst.Params)

	if hook, ok := impl.(task.AfterHook); ok {
		hook.After(attemptCtx, rc, inst.Params, result, err)
	}

	if err != nil {
		return nil, normalizeErr(ctx, attemptCtx, inst, step, err)
	}
	return result, nil
}

// normalizeErr classifies an attempt error: run cancellation wins over the
// per-attempt deadline, deadline expiry becomes a TimeoutError, and anything
// else is wrapped as an ExecError unless already typed.
func normalizeErr(runCtx, attemptCtx context.Context, inst *task.Instance, step *workflow.Step, err error) error {
	if runCtx.Err() != nil || errors.Is(err, task.ErrCancelled) {
		return &task.CancelledError{TaskName: inst.TaskName}
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, task.ErrTimeout) {
		return &task.TimeoutError{TaskName: inst.TaskName, Limit: step.Timeout.Std()}
	}
	var execErr *task.ExecError
	if errors.As(err, &execErr) {
		return err
	}
	return &task.ExecError{TaskName: inst.TaskName, Err: err}
}

// waitRetry sleeps for the retry delay, returning false when the run context
// is cancelled first.
func waitRetry(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func finalize(inst *task.Instance, status task.Status, err error) {
	inst.Status = status
	inst.Err = err
	inst.FinishedAt = time.Now()
}
