// Package execcmd wraps external security tooling (static analyzers,
// scanners) as a task. The command runs under the step's context, so engine
// timeouts and cancellation terminate the process.
package execcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/rs/zerolog/log"
)

// maxCapturedOutput bounds how much stdout/stderr is kept in the result.
const maxCapturedOutput = 1 << 20

// Result captures the outcome of an external command.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Task runs one external command.
type Task struct{}

// New creates an exec-command task.
func New() *Task { return &Task{} }

// Validate implements the task contract.
func (t *Task) Validate(params task.Params) error {
	ve := &task.ValidationError{TaskName: "exec-command"}
	if params.String("command") == "" {
		ve.Add("command", "command is required")
	}
	if params.Has("dir") {
		if info, err := os.Stat(params.String("dir")); err != nil || !info.IsDir() {
			ve.Add("dir", "working directory does not exist")
		}
	}
	return ve.OrNil()
}

// Execute runs the command and captures its output. Sandboxed run contexts
// refuse external process execution outright.
func (t *Task) Execute(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error) {
	if rc.Sandboxed() {
		return nil, &task.ExecError{
			TaskName: "exec-command",
			Err:      errors.New("external commands are disabled in sandboxed runs"),
		}
	}

	command := params.String("command")
	args := params.StringSlice("args")
	logger := log.With().Str("task", "exec-command").Str("command", command).Logger()

	cmd := exec.CommandContext(ctx, command, args...)
	if dir := params.String("dir"); dir != "" {
		cmd.Dir = dir
	} else if wd := rc.WorkDir(); wd != "" {
		cmd.Dir = wd
	}
	if env := params.StringSlice("env"); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &task.TimeoutError{TaskName: "exec-command"}
		}
		return nil, &task.CancelledError{TaskName: "exec-command"}
	}

	result := &Result{
		Command:  command,
		Stdout:   truncate(stdout.String()),
		Stderr:   truncate(stderr.String()),
		Duration: elapsed,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if params.Bool("allow_failure") {
				logger.Warn().Int("exit_code", result.ExitCode).Msg("command failed, tolerated")
				return result, nil
			}
			return nil, &task.ExecError{
				TaskName: "exec-command",
				Err:      fmt.Errorf("%s exited with code %d: %s", command, result.ExitCode, truncate(stderr.String())),
			}
		}
		return nil, &task.ExecError{TaskName: "exec-command", Err: runErr}
	}

	logger.Debug().Dur("duration", elapsed).Msg("command completed")
	return result, nil
}

func truncate(s string) string {
	if len(s) > maxCapturedOutput {
		return s[:maxCapturedOutput]
	}
	return s
}

// Descriptor describes the exec-command task for registration.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:           "exec-command",
		Description:    "Runs an external tool and captures its output",
		Kind:           "execution",
		Version:        "0.1.0",
		RequiredParams: []string{"command"},
		OptionalParams: []string{"args", "dir", "env", "allow_failure"},
		Tags:           []string{"exec", "tool"},
		Factory:        func() task.Task { return New() },
	}
}
