package publish

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conveyorci/conveyor/artifact"
	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	"github.com/conveyorci/conveyor/cmd/conveyor/utils"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/parser"
	"github.com/conveyorci/conveyor/publish"
	"github.com/conveyorci/conveyor/secret"
)

func init() {
	publishCmd.Flags().StringVar(
		&publishCmdConfig.buildID,
		"build-id",
		"",
		"The ID of a previously run build whose artifacts should be published")
	publishCmd.Flags().StringVar(
		&publishCmdConfig.workDir,
		"workdir",
		"~/.conveyor",
		"The scratch space holding the artifact store of previous builds")
	publishCmd.Flags().StringVar(
		&publishCmdConfig.indexURL,
		"index-url",
		"",
		"Override the package index upload URL declared in the pipeline")
	publishCmd.MarkFlagRequired("build-id")

	commands.BindFlag("index_url", publishCmd.Flags().Lookup("index-url"))

	commands.RootCmd.AddCommand(publishCmd)
}

var publishCmdConfig = struct {
	buildID  string
	workDir  string
	indexURL string
}{}

// storedOutcome stands in for a live build result when publishing artifacts
// of a build that already ran. The run command only stores artifacts of jobs
// that executed, so the gate was already applied when they were collected;
// re-running it here would require build history, which is not persisted.
type storedOutcome struct{}

func (s storedOutcome) Succeeded() bool { return true }

func (s storedOutcome) TemplateSucceeded(name models.ResourceName) bool { return true }

var publishCmd = &cobra.Command{
	Use:           "publish",
	Short:         "Publish the artifacts of a previously run build to the package index",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		logFactory, err := commands.MakeLogFactory()
		if err != nil {
			return err
		}
		workDir, err := utils.HomeifyPath(publishCmdConfig.workDir)
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
		if definition.Publish == nil {
			return errors.Errorf("error pipeline %q does not declare a publish block", definition.Name)
		}
		if indexURL := viper.GetString("index_url"); indexURL != "" {
			definition.Publish.IndexURL = indexURL
		}

		buildID, err := models.ParseBuildID(publishCmdConfig.buildID)
		if err != nil {
			return err
		}

		// Job names are deterministic, so expanding the definition again
		// yields the same names the artifacts were stored under
		build := models.NewBuild(definition.Name, models.EventManual, "", time.Now())
		build.ID = buildID
		jobs, err := parser.ExpandPipeline(definition, build)
		if err != nil {
			return err
		}

		secrets := secret.NewStoreFromEnv()
		artifacts := artifact.NewManager(filepath.Join(workDir, "artifacts"), logFactory)
		publisher := publish.NewPublisher(artifacts, secrets, logFactory)
		return publisher.Publish(ctx, definition.Publish, build, jobs, storedOutcome{})
	},
}
