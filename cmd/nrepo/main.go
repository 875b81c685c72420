package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/the-maldridge/nrepo/pkg/builder"
	_ "github.com/the-maldridge/nrepo/pkg/builder/local"
	_ "github.com/the-maldridge/nrepo/pkg/builder/nomad"
	"github.com/the-maldridge/nrepo/pkg/config"
	"github.com/the-maldridge/nrepo/pkg/storage"
	_ "github.com/the-maldridge/nrepo/pkg/storage/bc"
	_ "github.com/the-maldridge/nrepo/pkg/storage/mem"
)

var (
	v         *viper.Viper
	cfg       *config.Config
	appLogger hclog.Logger
)

var rootCmd = &cobra.Command{
	Use:               "nrepo",
	Short:             "Build and publish a custom package repository",
	Long:              "nrepo keeps a package repository up to date: it finds outdated packages, builds them in dependency order, signs and publishes the results.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	v = config.Viper()

	f := rootCmd.PersistentFlags()
	f.String("config", "", "config file (toml, yaml or json)")
	f.String("log-level", "", "log level (trace, debug, info, warn, error)")
	f.StringSlice("architecture", nil, "architectures to operate on")
	f.String("repository", "", "repository name")

	v.BindPFlag("log_level", f.Lookup("log-level"))
	v.BindPFlag("repository.architectures", f.Lookup("architecture"))
	v.BindPFlag("repository.name", f.Lookup("repository"))
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	c, err := config.FromViper(v)
	if err != nil {
		return err
	}
	cfg = c

	appLogger = hclog.New(&hclog.LoggerOptions{
		Name:  "nrepo",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
	appLogger.Debug("nrepo is initializing", "config", v.ConfigFileUsed())

	builder.SetLogger(appLogger)
	builder.DoCallbacks()
	storage.SetLogger(appLogger)
	storage.DoCallbacks()
	return nil
}

// signalContext is cancelled on the first interrupt.  A second one
// kills the process the usual way.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
