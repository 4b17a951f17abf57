package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/pkg/agent"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the workflow graph as a Mermaid diagram",
		Long: `Print the workflow graph as a Mermaid flowchart, including the
conditional routing rules between nodes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, edges, err := agent.Build(agent.SimulatedServices(), nil)
			if err != nil {
				return err
			}
			fmt.Print(edges.Mermaid())
			return nil
		},
	}
	return cmd
}
