package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue an interrupted session from its latest checkpoint",
		Long: `Continue an interrupted session from its latest checkpoint.

The session is reconstructed from the checkpoint store and executed to a
terminal state. A session that already completed is returned as-is.`,
		Example: `  visionflow resume 6a1f0c9e-1b2d-4f4a-9c3e-8d7b6a5f4e3d`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			log.Info().Str("session_id", args[0]).Msg("Resuming session")
			st, err := a.engine.Resume(ctx, args[0])
			if err != nil {
				return err
			}
			return printState(st)
		},
	}
	return cmd
}
