package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the checkpointed step history of a session",
		Long: `Show the checkpointed step history of a session, one snapshot per
completed execution step, ordered by step index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			history, err := a.engine.History(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}

			for _, cp := range history {
				st := cp.State
				node := st.CurrentNode
				status := "pending"
				if len(st.Steps) > 0 {
					last := st.Steps[len(st.Steps)-1]
					node = last.Node
					status = string(last.Status)
				}
				if st.Completed {
					status = fmt.Sprintf("%s (%s)", status, st.Outcome)
				}
				fmt.Printf("checkpoint %3d  %-18s %s\n", cp.StepIndex, node, status)
			}
			return nil
		},
	}
	return cmd
}
