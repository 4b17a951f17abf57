package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/pkg/config"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file against the engine's constraints.

With --watch, the file is revalidated on every change until interrupted.`,
		Example: `  # Validate once
  visionflow validate -c visionflow.yaml

  # Revalidate on every save
  visionflow validate -c visionflow.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Println("configuration is valid")

			if !watch {
				return nil
			}
			if configPath == "" {
				return fmt.Errorf("--watch requires --config")
			}

			logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "info", Format: "console"})
			if err != nil {
				return err
			}
			watcher := config.NewWatcher(configPath, logger.NewComponentLogger("config-watcher"))
			return watcher.Watch(ctx, func(_ *config.Config, err error) {
				if err != nil {
					log.Error().Err(err).Msg("Configuration is invalid")
					return
				}
				log.Info().Msg("Configuration is valid")
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "revalidate on file change")

	return cmd
}
