package commands

import (
	"errors"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aegis-sec/aegis/cmd/aegis/internal/format"
	"github.com/aegis-sec/aegis/pkg/engine"
	"github.com/aegis-sec/aegis/pkg/workflow"
	"github.com/aegis-sec/aegis/pkg/workspace"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *options) *cobra.Command {
	var (
		setValues   []string
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			def, err := workflow.LoadFromFile(args[0], false)
			if err != nil {
				return reportError(cmd, out, err)
			}

			rc, err := opts.loadRunContext(setValues)
			if err != nil {
				return reportError(cmd, out, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !opts.noWorkspace {
				root, err := workspace.Prepare(opts.workspaceDir)
				if err != nil {
					return reportError(cmd, out, err)
				}
				lock, err := workspace.AcquireLock(ctx, root)
				if err != nil {
					return reportError(cmd, out, err)
				}
				defer func() {
					if err := lock.Release(); err != nil {
						log.Warn().Err(err).Msg("release workspace lock")
					}
				}()
				log.Info().Str("workspace", root).Msg("workspace ready")
			}

			var engineOpts []engine.Option
			if maxParallel > 0 {
				engineOpts = append(engineOpts, engine.WithMaxParallel(maxParallel))
			}

			report, err := engine.New(opts.registry, engineOpts...).Run(ctx, def, rc)
			if report != nil {
				if printErr := out.PrintRunSummary(runSummary(def, report)); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return reportError(cmd, out, err)
			}
			if report.Status == engine.RunFailed {
				cmd.SilenceErrors = true
				exitWithCode(cmd, 1)
				return errors.New("workflow failed")
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&setValues, "set", nil, "Set a run context value (key=value, repeatable)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Cap concurrently running steps (overrides the definition)")

	return cmd
}

// runSummary flattens an engine report into the CLI summary view, steps in
// declaration order.
func runSummary(def *workflow.Definition, report *engine.RunReport) format.RunSummary {
	summary := format.RunSummary{
		RunID:    report.RunID,
		Workflow: report.WorkflowName,
		Status:   string(report.Status),
		Duration: report.Duration(),
	}
	for _, step := range def.Steps {
		inst, ok := report.Step(step.Name)
		if !ok {
			continue
		}
		row := format.StepSummary{
			Name:     step.Name,
			Task:     step.Task,
			Status:   inst.Status.String(),
			Attempts: inst.Attempts,
			Duration: inst.Duration(),
		}
		if inst.Err != nil {
			row.Error = inst.Err.Error()
		}
		summary.Steps = append(summary.Steps, row)
	}
	return summary
}

// reportError prints the error with suggestions and arranges the mapped
// exit code.
func reportError(cmd *cobra.Command, out format.Formatter, err error) error {
	_ = out.PrintError(err, engine.Suggestions(err))
	cmd.SilenceErrors = true
	exitWithCode(cmd, engine.ExitCode(err))
	return err
}

// exitWithCode stashes the intended process exit code on the root command
// annotations so main can pick it up after Execute returns.
func exitWithCode(cmd *cobra.Command, code int) {
	root := cmd.Root()
	if root.Annotations == nil {
		root.Annotations = map[string]string{}
	}
	root.Annotations["exit-code"] = strconv.Itoa(code)
}

// ExitCode reads the exit code a command run requested, defaulting to 1 for
// a non-nil error and 0 otherwise.
func ExitCode(cmd *cobra.Command, runErr error) int {
	if code, ok := cmd.Annotations["exit-code"]; ok {
		if n, err := strconv.Atoi(code); err == nil {
			return n
		}
	}
	if runErr != nil {
		return 1
	}
	return 0
}
