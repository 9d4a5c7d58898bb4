// Package engine schedules and executes validated workflow definitions. The
// engine owns run-level policy: dependency ordering, parallelism limits,
// retry, per-step timeouts, failure propagation, and report aggregation.
// Tasks themselves stay policy-free.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/aegis-sec/aegis/pkg/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine executes workflows against a task registry.
type Engine struct {
	registry    *registry.Registry
	maxParallel int
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxParallel caps concurrently running steps regardless of what a
// definition asks for. Zero means the definition's own limit applies.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine bound to a registry.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		logger:   log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stepState is the scheduler's bookkeeping for one step. It is only ever
// touched by the scheduler goroutine; workers communicate back through the
// events channel.
type stepState struct {
	spec       *workflow.Step
	index      int
	remaining  int
	dependents []*stepState
	inst       *task.Instance
	launched   bool
	finished   bool
}

type stepEvent struct {
	state *stepState
}

// Run executes a definition and returns the aggregated report. Structural
// problems (invalid definition) fail before any step executes and return a
// nil report. Once scheduling starts a report is always produced; step
// failures surface through Status and Errors, and a cancelled run
// additionally returns an error wrapping task.ErrCancelled.
func (e *Engine) Run(ctx context.Context, def *workflow.Definition, rc *runctx.Context) (*RunReport, error) {
	if result := def.Validate(); !result.IsValid() {
		return nil, workflow.NewDefinitionError(def.Name, result)
	}

	runID := uuid.NewString()
	logger := e.logger.With().Str("run_id", runID).Str("workflow", def.Name).Logger()
	logger.Info().Int("steps", len(def.Steps)).Msg("run started")

	report := &RunReport{
		RunID:        runID,
		WorkflowName: def.Name,
		StartedAt:    time.Now(),
		StepResults:  make(map[string]*task.Instance, len(def.Steps)),
	}

	states := make([]*stepState, len(def.Steps))
	byName := make(map[string]*stepState, len(def.Steps))
	for i := range def.Steps {
		s := &stepState{
			spec:      &def.Steps[i],
			index:     i,
			remaining: len(def.Steps[i].DependsOn),
		}
		states[i] = s
		byName[s.spec.Name] = s
	}
	for _, s := range states {
		for _, dep := range s.spec.DependsOn {
			byName[dep].dependents = append(byName[dep].dependents, s)
		}
	}

	limit := def.MaxParallel
	if e.maxParallel > 0 && (limit == 0 || e.maxParallel < limit) {
		limit = e.maxParallel
	}

	events := make(chan stepEvent)
	running := 0
	finished := 0
	stop := false

	countFinished := func(s *stepState) {
		if !s.finished {
			s.finished = true
			finished++
		}
	}

	// skipBranch marks a step and everything downstream of it as skipped.
	// Runs whenever a dependency ends in anything but success.
	var skipBranch func(s *stepState, cause error)
	skipBranch = func(s *stepState, cause error) {
		if s.launched || s.finished {
			return
		}
		s.launched = true
		inst := task.NewInstance(s.spec.Task, nil, nil)
		finalize(inst, task.StatusSkipped, cause)
		s.inst = inst
		report.StepResults[s.spec.Name] = inst
		countFinished(s)
		logger.Debug().Str("step", s.spec.Name).Msg("step skipped")
		for _, dep := range s.dependents {
			skipBranch(dep, nil)
		}
	}

	// failBeforeExec records a step that could not even start, for example
	// when substitution or instance creation fails. It behaves like a failed
	// execution for downstream propagation.
	failBeforeExec := func(s *stepState, params task.Params, err error) {
		inst := task.NewInstance(s.spec.Task, nil, params)
		finalize(inst, task.StatusFailed, err)
		s.inst = inst
		report.StepResults[s.spec.Name] = inst
		countFinished(s)
		logger.Error().Str("step", s.spec.Name).Err(err).Msg("step failed before execution")
		for _, dep := range s.dependents {
			skipBranch(dep, nil)
		}
		if !s.spec.Optional && !def.ContinueOnError {
			stop = true
		}
	}

	launch := func(s *stepState) {
		s.launched = true

		params, err := substituteParams(s.spec.Name, s.spec.Params, report.StepResults, def.Variables)
		if err != nil {
			failBeforeExec(s, nil, err)
			return
		}

		inst, err := e.registry.Create(s.spec.Task, rc, params)
		if err != nil {
			failBeforeExec(s, params, err)
			return
		}
		s.inst = inst

		running++
		logger.Debug().Str("step", s.spec.Name).Str("task", s.spec.Task).Msg("step started")
		go func(s *stepState) {
			executeAttempts(ctx, s.inst, s.spec, rc, logger)
			events <- stepEvent{state: s}
		}(s)
	}

	for finished < len(states) {
		if ctx.Err() != nil {
			stop = true
		}

		// Launch every ready step in declaration order, repeating while a
		// launch can immediately retire a step and unblock another pass.
		if !stop {
			for progressed := true; progressed && !stop; {
				progressed = false
				for _, s := range states {
					if stop {
						break
					}
					if s.launched || s.remaining != 0 {
						continue
					}
					if limit > 0 && running >= limit {
						break
					}
					launch(s)
					progressed = true
				}
			}
		}

		if finished == len(states) {
			break
		}
		if running == 0 {
			// Nothing in flight and nothing launchable: the remaining steps
			// are unreachable under the stop policy.
			break
		}

		ev := <-events
		s := ev.state
		running--
		report.StepResults[s.spec.Name] = s.inst
		countFinished(s)

		switch s.inst.Status {
		case task.StatusCompleted:
			logger.Debug().
				Str("step", s.spec.Name).
				Int("attempts", s.inst.Attempts).
				Dur("duration", s.inst.Duration()).
				Msg("step completed")
			for _, dep := range s.dependents {
				dep.remaining--
			}
		default:
			logger.Warn().
				Str("step", s.spec.Name).
				Str("status", s.inst.Status.String()).
				Err(s.inst.Err).
				Msg("step did not complete")
			for _, dep := range s.dependents {
				skipBranch(dep, nil)
			}
			if s.inst.Status != task.StatusSkipped && !s.spec.Optional && !def.ContinueOnError {
				stop = true
			}
		}
	}

	// Anything never launched was cut off by the stop policy or by run
	// cancellation.
	for _, s := range states {
		if s.inst == nil {
			var cause error
			if ctx.Err() != nil {
				cause = &task.CancelledError{TaskName: s.spec.Task}
			}
			skipBranch(s, cause)
		}
	}

	report.FinishedAt = time.Now()
	report.Status = aggregateStatus(states)
	for _, s := range states {
		if s.inst.Err != nil {
			report.Errors = append(report.Errors, StepError{Step: s.spec.Name, Err: s.inst.Err})
		}
	}

	logger.Info().
		Str("status", string(report.Status)).
		Dur("duration", report.Duration()).
		Int("errors", len(report.Errors)).
		Msg("run finished")

	if ctx.Err() != nil {
		return report, fmt.Errorf("workflow %q interrupted: %w", def.Name, task.ErrCancelled)
	}
	return report, nil
}

// RunTask executes a single registered task outside any workflow. Params are
// taken literally; no substitution applies.
func (e *Engine) RunTask(ctx context.Context, name string, rc *runctx.Context, params task.Params) (*task.Instance, error) {
	inst, err := e.registry.Create(name, rc, params)
	if err != nil {
		return nil, err
	}

	step := &workflow.Step{Name: name, Task: name}
	executeAttempts(ctx, inst, step, rc, e.logger)

	if inst.Err != nil {
		return inst, inst.Err
	}
	return inst, nil
}

// aggregateStatus folds step outcomes into the run status: completed when
// every step completed, partial when only optional steps fell short, failed
// otherwise.
func aggregateStatus(states []*stepState) RunStatus {
	status := RunCompleted
	for _, s := range states {
		if s.inst.Status == task.StatusCompleted {
			continue
		}
		if s.spec.Optional {
			if status == RunCompleted {
				status = RunPartial
			}
			continue
		}
		return RunFailed
	}
	return status
}
