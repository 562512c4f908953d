package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/videoupload/pkg/log"
)

func envPrefixFor(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// loadOptions fills the options from the config file, the environment and
// the command line, then completes and validates them.
func (a *App) loadOptions(cmd *cobra.Command) error {
	if err := a.loadEnvFiles(); err != nil {
		return err
	}

	v := a.viper
	v.SetEnvPrefix(a.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return bindErr
	}

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cpeer")
		v.SetConfigName(a.name)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if a.options == nil {
		return nil
	}
	return a.decode(a.options)
}

func (a *App) decode(opts NamedFlagSetOptions) error {
	if err := a.viper.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := opts.Complete(); err != nil {
		return err
	}
	return opts.Validate()
}

func (a *App) loadEnvFiles() error {
	for _, f := range a.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// watchConfig starts hot reload when a config file was read and a reload
// function was registered.
func (a *App) watchConfig() error {
	if a.reloadFunc == nil || a.newOptions == nil || a.viper.ConfigFileUsed() == "" {
		return nil
	}

	a.viper.OnConfigChange(a.reload)
	a.viper.WatchConfig()
	log.Info("Watching configuration file for changes", "file", a.viper.ConfigFileUsed())
	return nil
}

func (a *App) reload(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	opts := a.newOptions()
	if err := a.decode(opts); err != nil {
		log.Error(err, "Ignoring invalid configuration change", "file", e.Name)
		return
	}
	if err := a.reloadFunc(opts); err != nil {
		log.Error(err, "Failed to apply configuration change, keeping the running configuration", "file", e.Name)
		return
	}
	log.Info("Configuration reloaded", "file", e.Name)
}
