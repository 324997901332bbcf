package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conveyorci/conveyor/cmd/conveyor/cli"
	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	"github.com/conveyorci/conveyor/cmd/conveyor/utils"
	"github.com/conveyorci/conveyor/common/gerror"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/engine"
	"github.com/conveyorci/conveyor/publish"
	"github.com/conveyorci/conveyor/secret"
)

func init() {
	runCmd.Flags().StringVar(
		&runCmdConfig.event,
		"event",
		string(models.EventManual),
		"The repository event to evaluate pipeline triggers against (push, pull_request or manual)")
	runCmd.Flags().StringVar(
		&runCmdConfig.ref,
		"ref",
		"",
		"The git ref the build runs against, e.g. refs/heads/main")
	runCmd.Flags().IntVarP(
		&runCmdConfig.parallelJobs,
		"parallel",
		"p",
		0,
		"The maximum number of jobs to run concurrently (0 selects a default based on CPU count)")
	runCmd.Flags().StringVar(
		&runCmdConfig.workDir,
		"workdir",
		"~/.conveyor",
		"The scratch space to use for local builds")
	runCmd.Flags().BoolVarP(
		&runCmdConfig.force,
		"force",
		"f",
		false,
		"Force all jobs to re-run by ignoring fingerprints")
	runCmd.Flags().BoolVar(
		&runCmdConfig.skipPublish,
		"skip-publish",
		false,
		"Do not publish artifacts to the package index, even if the pipeline declares a publish block")
	runCmd.Flags().BoolVar(
		&runCmdConfig.skipCleanup,
		"skip-cleanup",
		false,
		"Do not attempt to clean up docker containers left over from previous runs")

	commands.BindFlag("parallel_jobs", runCmd.Flags().Lookup("parallel"))
	commands.BindFlag("workdir", runCmd.Flags().Lookup("workdir"))

	commands.RootCmd.AddCommand(runCmd)
}

var runCmdConfig = struct {
	event        string
	ref          string
	parallelJobs int
	workDir      string
	force        bool
	skipPublish  bool
	skipCleanup  bool
}{}

var runCmd = &cobra.Command{
	Use:   "run [job]...",
	Short: "Run the pipeline in the current repository",
	Long: `Run the pipeline defined in the current repository, or only the named jobs
(plus their transitive dependencies) if any are given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		logFactory, err := commands.MakeLogFactory()
		if err != nil {
			return err
		}

		workDir, err := utils.HomeifyPath(viper.GetString("workdir"))
		if err != nil {
			return err
		}
		err = os.MkdirAll(workDir, 0770)
		if err != nil {
			return fmt.Errorf("error making work directory %q: %w", workDir, err)
		}

		repoDir, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "error locating current directory")
		}
		definition, err := utils.LoadDefinition(repoDir)
		if err != nil {
			return err
		}
		err = definition.Validate()
		if err != nil {
			return err
		}

		event, err := models.ParseEvent(runCmdConfig.event)
		if err != nil {
			return err
		}
		fqns, err := utils.ParseNodeFQNs(args)
		if err != nil {
			return err
		}

		if !runCmdConfig.skipCleanup {
			utils.CleanUpOldContainers(logFactory)
		}

		secrets := secret.NewStoreFromEnv()
		eng := engine.NewEngine(engine.Config{
			WorkspaceDir:   repoDir,
			ArtifactDir:    filepath.Join(workDir, "artifacts"),
			StagingRootDir: filepath.Join(workDir, "staging"),
			ParallelJobs:   viper.GetInt("parallel_jobs"),
			Stdout:         os.Stdout,
		}, secrets, clock.New(), logFactory)

		result, err := eng.RunBuild(ctx, definition, models.BuildOptions{
			Event:      event,
			Ref:        runCmdConfig.ref,
			NodesToRun: fqns,
			Force:      runCmdConfig.force,
		})
		if err != nil {
			return err
		}
		if result.Build.Status == models.StatusSkipped {
			cli.Stdout.Printf("Pipeline %q is not triggered by event %q on ref %q; Nothing to do",
				definition.Name, event, runCmdConfig.ref)
			return nil
		}

		failedJobs := result.FailedJobs()
		for _, job := range failedJobs {
			cli.Stderr.Printf("Job %q failed: %s", job.Name, job.Error)
		}

		if definition.Publish != nil && !runCmdConfig.skipPublish {
			if indexURL := viper.GetString("index_url"); indexURL != "" {
				definition.Publish.IndexURL = indexURL
			}
			publisher := publish.NewPublisher(eng.ArtifactManager(), secrets, logFactory)
			err = publisher.Publish(ctx, definition.Publish, result.Build, result.Jobs, result)
			if gerror.IsPublishGated(err) {
				// Not publishing because upstream jobs failed is a normal
				// outcome of a failed build, not a publish error
				cli.Stdout.Printf("Skipping publish: %s", err)
			} else if err != nil {
				return err
			}
		}

		if len(failedJobs) > 0 {
			cli.Stderr.Printf("%d job(s) failed. See logs for details.", len(failedJobs))
			os.Exit(1)
		}
		return nil
	},
}
