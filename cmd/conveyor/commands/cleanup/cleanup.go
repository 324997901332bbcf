package cleanup

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	"github.com/conveyorci/conveyor/cmd/conveyor/utils"
)

func init() {
	cleanupCmd.Flags().StringVar(
		&cleanupCmdConfig.workDir,
		"workdir",
		"~/.conveyor",
		"The scratch space to use for local builds")
	commands.RootCmd.AddCommand(cleanupCmd)
}

var cleanupCmdConfig = struct {
	workDir string
}{}

var cleanupCmd = &cobra.Command{
	Use:           "cleanup",
	Short:         "Clean up docker containers and staging directories left over from previous runs",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logFactory, err := commands.MakeLogFactory()
		if err != nil {
			return err
		}
		workDir, err := utils.HomeifyPath(cleanupCmdConfig.workDir)
		if err != nil {
			return err
		}

		utils.CleanUpOldContainers(logFactory)

		// Staging directories don't need to persist between runs
		err = os.RemoveAll(filepath.Join(workDir, "staging"))
		if err != nil {
			return err
		}
		return nil
	},
}
