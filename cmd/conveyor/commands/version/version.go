package version

import (
	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/cmd/conveyor/cli"
	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	"github.com/conveyorci/conveyor/common/version"
)

func init() {
	commands.RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the conveyor version",
	Run: func(cmd *cobra.Command, args []string) {
		cli.Stdout.Println(version.VersionToString())
	},
}
