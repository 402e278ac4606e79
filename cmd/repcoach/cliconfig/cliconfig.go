// Package cliconfig loads the configuration and logger shared by the
// repcoach subcommands.
package cliconfig

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/repcoach/pkg/coach"
	"github.com/papercomputeco/repcoach/pkg/config"
	"github.com/papercomputeco/repcoach/pkg/logger"
)

const (
	ConfigFlag = "config"
	DebugFlag  = "debug"
)

// AddFlags registers the global flags on the root command.
func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(ConfigFlag, "", "Path to config file (default ~/.repcoach/config.toml)")
	cmd.PersistentFlags().Bool(DebugFlag, false, "Enable debug logging")
}

// Load reads the configuration named by the global flags and builds a logger
// that writes to the command's stderr. A command run without the root
// command's flags gets the default config path and info logging.
func Load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	var path string
	var debug bool
	if f := cmd.Flags().Lookup(ConfigFlag); f != nil {
		path = f.Value.String()
	}
	if f := cmd.Flags().Lookup(DebugFlag); f != nil {
		debug = f.Value.String() == "true"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger.NewLogger(debug, logger.WithOutput(cmd.ErrOrStderr())), nil
}

// ClientConfig maps the file configuration onto a coach client.
func ClientConfig(cfg *config.Config) coach.Config {
	return coach.Config{
		Endpoint:         cfg.Endpoint,
		APIKey:           cfg.APIKey,
		UserID:           cfg.UserID,
		UnitPreference:   cfg.UnitPreference,
		DisableStreaming: cfg.DisableStreaming,
		Timeout:          cfg.Timeout.Duration,
	}
}
