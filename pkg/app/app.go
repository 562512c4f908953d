package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
)

// RunFunc is the body of the root command. It runs after the options were
// loaded, completed and validated.
type RunFunc func() error

// ReloadFunc receives a freshly decoded and validated copy of the options
// each time the configuration file changes.
type ReloadFunc func(opts NamedFlagSetOptions) error

// NamedFlagSetOptions is implemented by the top-level options of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error

	// Validate returns all problems found as one aggregate.
	Validate() error
}

// Option configures an App.
type Option func(*App)

// App is a cobra command whose options can be set by flags, environment
// variables and a config file, in that order of precedence.
type App struct {
	name        string
	shortDesc   string
	description string

	options    NamedFlagSetOptions
	runFunc    RunFunc
	newOptions func() NamedFlagSetOptions
	reloadFunc ReloadFunc

	args      cobra.PositionalArgs
	commands  []*cobra.Command
	envPrefix string
	envFiles  []string

	configFile string
	viper      *viper.Viper
	cmd        *cobra.Command
}

// WithDescription sets the long description shown by --help.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithOptions binds opts to the command line and the config file.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the function run by the root command.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithReloadFunc enables hot reload. newOptions must return a fresh options
// object with defaults; it is decoded from the changed file and handed to fn.
func WithReloadFunc(newOptions func() NamedFlagSetOptions, fn ReloadFunc) Option {
	return func(a *App) {
		a.newOptions = newOptions
		a.reloadFunc = fn
	}
}

// WithValidArgs sets the positional argument validator.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) {
		a.args = args
	}
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubCommands adds child commands. They see the same loaded options.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// WithEnvPrefix overrides the prefix of environment variables.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) {
		a.envPrefix = prefix
	}
}

// WithEnvFiles sets the dotenv files loaded before reading the environment.
// Missing files are ignored.
func WithEnvFiles(files ...string) Option {
	return func(a *App) {
		a.envFiles = files
	}
}

// NewApp creates an App with the given command name and short description.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envPrefix: envPrefixFor(name),
		envFiles:  []string{".env"},
		viper:     viper.New(),
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()

	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Viper returns the configuration source of this App.
func (a *App) Viper() *viper.Viper {
	return a.viper
}

// Run executes the command and exits the process on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	cmd.AddCommand(a.commands...)

	if a.runFunc != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			if err := a.watchConfig(); err != nil {
				return err
			}
			return a.runFunc()
		}
	}

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	fss.FlagSet("global").StringVarP(&a.configFile, "config", "c", "",
		"Read configuration from the specified file, support JSON, TOML, YAML format.")
	globalflag.AddGlobalFlags(fss.FlagSet("global"), cmd.Name())

	fs := cmd.PersistentFlags()
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, fss, 0)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.loadOptions(cmd)
	}

	a.cmd = cmd
}
