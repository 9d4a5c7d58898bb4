package commands

import (
	"github.com/aegis-sec/aegis/pkg/version"
	"github.com/spf13/cobra"
)

func newVersionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if opts.outputMode == "json" {
				return out.PrintJSON(version.Get())
			}
			return out.PrintMessage(version.Info())
		},
	}
}
