package lint

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/cmd/conveyor/cli"
	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	"github.com/conveyorci/conveyor/cmd/conveyor/utils"
	"github.com/conveyorci/conveyor/lint"
)

func init() {
	commands.RootCmd.AddCommand(lintCmd)
}

var lintCmd = &cobra.Command{
	Use:           "lint",
	Short:         "Check the pipeline in the current repository for problems without running it",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logFactory, err := commands.MakeLogFactory()
		if err != nil {
			return err
		}
		repoDir, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "error locating current directory")
		}
		definition, err := utils.LoadDefinition(repoDir)
		if err != nil {
			return err
		}
		err = lint.NewLinter(logFactory).Lint(definition, repoDir)
		if err != nil {
			return err
		}
		cli.Stdout.Printf("Pipeline %q is valid", definition.Name)
		return nil
	},
}
