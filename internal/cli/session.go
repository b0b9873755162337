package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/config"
	"github.com/roach88/vdoc/internal/docstore"
	"github.com/roach88/vdoc/internal/logging"
)

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads --config, or the defaults when it is unset.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Config == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// logger builds the logger from the config; --verbose forces debug.
func (o *RootOptions) logger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if o.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Logging.Format)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	return logger, nil
}

// connect opens a client for a one-shot command: the alarm stays off and
// Close drains whatever the command logged.
func (o *RootOptions) connect(cmd *cobra.Command, extra ...docstore.Option) (*docstore.Client, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := o.logger(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := append([]docstore.Option{docstore.WithLogger(logger), docstore.WithoutAlarm()}, extra...)
	client, err := docstore.Connect(cmd.Context(), cfg, opts...)
	if err != nil {
		logger.Sync()
		return nil, nil, storeExit("failed to connect", err)
	}
	return client, logger, nil
}

func closeClient(client *docstore.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Error("error closing document store", zap.Error(err))
	}
	_ = logger.Sync()
}
