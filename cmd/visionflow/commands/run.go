package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/pkg/graph"
)

func newRunCommand() *cobra.Command {
	var (
		stream    bool
		async     bool
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Execute an automation command",
		Long: `Execute an automation command through the workflow graph.

The session runs until a node marks it complete, a node exhausts its
retries, or the step budget is reached. Every step is checkpointed, so an
interrupted session can be continued with "visionflow resume".`,
		Example: `  # Run a command to completion
  visionflow run "open Safari"

  # Stream step events as they happen
  visionflow run --stream "click Submit"

  # Start in the background and print the session ID
  visionflow run --async "type hello world"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			command := strings.Join(args, " ")

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			switch {
			case stream:
				x, events := a.engine.RunStream(ctx, command)
				log.Info().Str("session_id", x.SessionID).Msg("Session started")
				for ev := range events {
					printEvent(ev.StepIndex, ev.Node, string(ev.Status), ev.Error)
				}
				st, err := x.Wait(ctx)
				if err != nil {
					return err
				}
				return printState(st)

			case async:
				x := a.engine.RunAsync(ctx, command)
				fmt.Println(x.SessionID)
				// The process hosts the session; wait for it to finish.
				st, err := x.Wait(ctx)
				if err != nil {
					return err
				}
				return printState(st)

			default:
				var st *graph.State
				if sessionID != "" {
					st, err = a.engine.RunSession(ctx, graph.Session{ID: sessionID, Command: command})
				} else {
					st, err = a.engine.Run(ctx, command)
				}
				if err != nil {
					return err
				}
				return printState(st)
			}
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "print step events as they happen")
	cmd.Flags().BoolVar(&async, "async", false, "print the session ID immediately, then wait")
	cmd.Flags().StringVar(&sessionID, "session", "", "caller-supplied session ID")

	return cmd
}

func printEvent(index int, node, status string, stepErr *graph.StepError) {
	if stepErr != nil {
		fmt.Printf("step %3d  %-18s %-10s %s\n", index, node, status, stepErr.Message)
		return
	}
	fmt.Printf("step %3d  %-18s %s\n", index, node, status)
}

func printState(st *graph.State) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("session:  %s\n", st.SessionID)
	fmt.Printf("command:  %s\n", st.Command)
	fmt.Printf("steps:    %d\n", len(st.Steps))
	fmt.Printf("outcome:  %s\n", st.Outcome)
	if st.Outcome == graph.OutcomeFailure {
		fmt.Printf("failure:  %s: %s\n", st.FailureKind, st.Detail)
	} else if st.Detail != "" {
		fmt.Printf("detail:   %s\n", st.Detail)
	}
	return nil
}
