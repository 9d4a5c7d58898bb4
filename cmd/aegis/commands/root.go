// Package commands implements the aegis CLI.
package commands

import (
	"fmt"

	"github.com/aegis-sec/aegis/cmd/aegis/internal/format"
	"github.com/aegis-sec/aegis/pkg/logging"
	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/tasks"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const cliExecutable = "aegis"

// options carries the global flags and shared state every subcommand needs.
type options struct {
	configFile   string
	workspaceDir string
	noWorkspace  bool
	sandbox      bool
	verbosity    int
	outputMode   string
	quiet        bool
	noColor      bool

	registry *registry.Registry
}

// NewCommand constructs the top-level aegis CLI command, wiring global
// flags, logging, and the builtin task registry.
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Aegis is a pluggable security task and workflow runner",
		Long: `Aegis executes registered security tasks, standalone or orchestrated
as declarative multi-step workflows with dependencies, retries, and timeouts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureGlobal(verbosityLevel(opts.verbosity))

			opts.registry = registry.New()
			if err := tasks.RegisterBuiltins(opts.registry); err != nil {
				return fmt.Errorf("register builtin tasks: %w", err)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().StringVar(&opts.workspaceDir, "workspace-dir", "", "Override workspace root directory")
	cmd.PersistentFlags().BoolVar(&opts.noWorkspace, "no-workspace", false, "Disable workspace persistence for this run")
	cmd.PersistentFlags().BoolVar(&opts.sandbox, "sandbox", false, "Confine task side effects, refusing external commands")
	cmd.PersistentFlags().CountVarP(&opts.verbosity, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().StringVarP(&opts.outputMode, "output", "o", "table", "Output format: table or json")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newTaskCommand(opts))
	cmd.AddCommand(newWorkflowCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}

// verbosityLevel maps repeated -v flags to zerolog levels: info by default,
// debug at -v, trace at -vv and beyond.
func verbosityLevel(count int) zerolog.Level {
	switch {
	case count <= 0:
		return zerolog.InfoLevel
	case count == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// formatter builds the output formatter bound to the command's streams.
func (o *options) formatter(cmd *cobra.Command) format.Formatter {
	mode := format.ModeTable
	if o.outputMode == string(format.ModeJSON) {
		mode = format.ModeJSON
	}
	return format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode, o.quiet, !o.noColor)
}

// loadRunContext builds the layered run context shared by run and task
// commands. Values given on the command line override the config file and
// environment.
func (o *options) loadRunContext(setValues []string) (*runctx.Context, error) {
	overrides := map[string]interface{}{
		runctx.KeySandbox: o.sandbox,
	}
	if o.workspaceDir != "" {
		overrides["workspace"] = o.workspaceDir
	}
	for _, kv := range setValues {
		key, value, err := splitKeyValue(kv)
		if err != nil {
			return nil, err
		}
		overrides[key] = value
	}

	return runctx.Load(
		&runctx.DefaultsSource{},
		&runctx.FileSource{Path: o.configFile},
		&runctx.EnvSource{},
		&cliOverrideSource{values: overrides},
	)
}

// cliOverrideSource layers explicit command-line values above every other
// source, including the environment.
type cliOverrideSource struct {
	values map[string]interface{}
}

func (s *cliOverrideSource) Name() string  { return "cli-overrides" }
func (s *cliOverrideSource) Priority() int { return 50 }

func (s *cliOverrideSource) Load(k *koanf.Koanf) error {
	if len(s.values) == 0 {
		return nil
	}
	return k.Load(confmap.Provider(s.values, "."), nil)
}

func splitKeyValue(kv string) (string, string, error) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			if i == 0 {
				break
			}
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid key=value pair %q", kv)
}
