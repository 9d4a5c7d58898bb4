package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aegis-sec/aegis/pkg/workflow"
	"github.com/spf13/cobra"
)

func newWorkflowCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Validate and convert workflow definitions",
	}

	cmd.AddCommand(newWorkflowValidateCommand(opts))
	cmd.AddCommand(newWorkflowExportCommand(opts))

	return cmd
}

func newWorkflowValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Check a workflow definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			def, err := workflow.LoadFromFile(args[0], true)
			if err != nil {
				return reportError(cmd, out, err)
			}

			result := def.Validate()
			for _, warning := range result.Warnings {
				if err := out.PrintMessage("warning: " + warning); err != nil {
					return err
				}
			}
			if !result.IsValid() {
				return reportError(cmd, out, workflow.NewDefinitionError(def.Name, result))
			}
			return out.PrintMessage(fmt.Sprintf("workflow %q is valid (%d steps)", def.Name, len(def.Steps)))
		},
	}
}

func newWorkflowExportCommand(opts *options) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <workflow-file>",
		Short: "Re-serialize a workflow definition to YAML or JSON",
		Long: `Export loads and validates a definition, then writes it back out in the
format implied by the output path extension. Useful for converting between
YAML and JSON and for normalizing hand-edited files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			def, err := workflow.LoadFromFile(args[0], false)
			if err != nil {
				return reportError(cmd, out, err)
			}

			if outPath == "" {
				ext := filepath.Ext(args[0])
				target := ".json"
				if strings.EqualFold(ext, ".json") {
					target = ".yaml"
				}
				outPath = strings.TrimSuffix(args[0], ext) + target
			}

			if err := workflow.SaveToFile(def, outPath); err != nil {
				return reportError(cmd, out, err)
			}
			return out.PrintMessage("wrote " + outPath)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Output path (defaults to the input with the converse extension)")

	return cmd
}
