package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath = "config.yaml"
	logLevel   string
)

func setupLogger() error {
	level := Cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	l, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	logrus.SetLevel(l)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	return nil
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shuttercal",
		Short: "shuttercal drives relay shutters over MQTT and calibrates their travel times",
		Long: `shuttercal drives relay shutters over MQTT and calibrates their travel times.

Calibration flows are served on the calibration request topic. Every cover keeps
an open and a close travel time, used to estimate its position.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := loadConfig(configPath); err != nil {
				return err
			}

			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&configPath, "config", "c", configPath, "config.yaml file path")
	globalFlags.StringVarP(&logLevel, "log-level", "l", "", "log level (trace, debug, info, warn, error), overrides log_level")

	cmd.AddCommand(
		NewRunCommand(),
		NewCalibrationsCommand(),
	)

	return cmd
}
