package commands

import (
	"strings"

	"github.com/aegis-sec/aegis/pkg/engine"
	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/spf13/cobra"
)

func newTaskCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and run registered tasks",
	}

	cmd.AddCommand(newTaskListCommand(opts))
	cmd.AddCommand(newTaskSearchCommand(opts))
	cmd.AddCommand(newTaskRunCommand(opts))

	return cmd
}

func newTaskListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printDescriptors(opts, cmd, opts.registry.List())
		},
	}
}

func newTaskSearchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search tasks by name or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches := opts.registry.Search(args[0])
			if len(matches) == 0 {
				return opts.formatter(cmd).PrintMessage("no tasks match " + args[0])
			}
			return printDescriptors(opts, cmd, matches)
		},
	}
}

func newTaskRunCommand(opts *options) *cobra.Command {
	var (
		paramValues []string
		setValues   []string
	)

	cmd := &cobra.Command{
		Use:   "run <task-name>",
		Short: "Run a single task outside any workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			params := task.Params{}
			for _, kv := range paramValues {
				key, value, err := splitKeyValue(kv)
				if err != nil {
					return reportError(cmd, out, err)
				}
				// Comma-separated values become lists so slice params work
				// from the command line.
				if strings.Contains(value, ",") {
					params[key] = strings.Split(value, ",")
				} else {
					params[key] = value
				}
			}

			rc, err := opts.loadRunContext(setValues)
			if err != nil {
				return reportError(cmd, out, err)
			}

			inst, err := engine.New(opts.registry).RunTask(cmd.Context(), args[0], rc, params)
			if err != nil {
				return reportError(cmd, out, err)
			}

			result, _ := inst.Result()
			return out.PrintJSON(map[string]any{
				"task":     inst.TaskName,
				"status":   inst.Status.String(),
				"attempts": inst.Attempts,
				"duration": inst.Duration().String(),
				"result":   result,
			})
		},
	}

	cmd.Flags().StringArrayVarP(&paramValues, "param", "p", nil, "Task parameter (key=value, repeatable)")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "Set a run context value (key=value, repeatable)")

	return cmd
}

func printDescriptors(opts *options, cmd *cobra.Command, descriptors []registry.Descriptor) error {
	rows := make([][]string, 0, len(descriptors))
	for _, d := range descriptors {
		rows = append(rows, []string{
			d.Name,
			d.Kind,
			d.Version,
			strings.Join(d.RequiredParams, ","),
			d.Description,
		})
	}
	return opts.formatter(cmd).PrintTable([]string{"NAME", "KIND", "VERSION", "REQUIRED", "DESCRIPTION"}, rows)
}
