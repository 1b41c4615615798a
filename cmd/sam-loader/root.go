package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

type rootOptions struct {
	configPath string
	// logger is set once a command has loaded its configuration.
	logger *logrus.Logger
}

func newRootCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sam-loader",
		Short:         "Load SAM entity extracts into the entity registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", samerrors.ErrUsage, err)
	})
	cmd.PersistentFlags().StringVar(&ro.configPath, "config", "", "Config file (YAML or JSON); the process environment takes precedence")

	cmd.AddCommand(newLoadCmd(ro))
	cmd.AddCommand(newParentsCmd(ro))
	cmd.AddCommand(newHistoricParentsCmd(ro))
	cmd.AddCommand(newCheckConfigCmd(ro))
	return cmd
}

func Execute() {
	ro := &rootOptions{}
	if err := newRootCmd(ro).Execute(); err != nil {
		logFailure(ro.logger, err)
		os.Exit(exitCode(err))
	}
}

// logFailure emits the single structured line describing a failed run.
func logFailure(logger *logrus.Logger, err error) {
	if logger == nil {
		logger = logging.ConsoleLogger(logrus.InfoLevel)
	}
	logger.WithFields(logrus.Fields{
		"error_kind": samerrors.Kind(err),
		"error":      err.Error(),
	}).Error("sam-loader failed")
}
