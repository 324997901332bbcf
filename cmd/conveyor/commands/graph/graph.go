package graph

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	"github.com/conveyorci/conveyor/cmd/conveyor/utils"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/dag"
	"github.com/conveyorci/conveyor/parser"
)

func init() {
	commands.RootCmd.AddCommand(graphCmd)
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the expanded build graph in Graphviz DOT format",
	Long: `Expand the pipeline in the current repository (including matrix jobs) and
print the resulting job dependency graph in Graphviz DOT format on stdout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "error locating current directory")
		}
		definition, err := utils.LoadDefinition(repoDir)
		if err != nil {
			return err
		}
		// The build here exists only to drive matrix expansion; nothing runs
		build := models.NewBuild(definition.Name, models.EventManual, "", time.Now())
		jobs, err := parser.ExpandPipeline(definition, build)
		if err != nil {
			return err
		}
		nodes := make([]dag.Node, len(jobs))
		for i, job := range jobs {
			nodes[i] = job
		}
		graph, err := dag.NewDAG(nodes)
		if err != nil {
			return err
		}
		return graph.DOT(os.Stdout)
	},
}
