package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/artifact"
	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/dag"
	"github.com/conveyorci/conveyor/engine/runtime"
	"github.com/conveyorci/conveyor/engine/runtime/docker"
	"github.com/conveyorci/conveyor/engine/runtime/exec"
	"github.com/conveyorci/conveyor/parser"
	"github.com/conveyorci/conveyor/secret"
)

const (
	// jobTimeout bounds the total execution time of a single job.
	jobTimeout = 3 * time.Hour
	// cleanupTimeout bounds runtime teardown, which must still run after the
	// job context has timed out.
	cleanupTimeout = 2 * time.Minute
)

func getCleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cleanupTimeout)
}

// JobOrchestrator runs a single job from start to finish.
type JobOrchestrator interface {
	Run(ctx context.Context, job *models.Job) error
}

// OrchestratorFactory produces a new orchestrator for each job to be run.
type OrchestratorFactory func() JobOrchestrator

// RuntimeFactory produces a runtime for the given job. Factored out so tests
// can substitute a fake runtime.
type RuntimeFactory func(job *models.Job, config runtime.Config, stdout io.Writer, stderr io.Writer) (runtime.Runtime, error)

// NewRuntimeFactory returns the default runtime factory, producing an exec
// or docker runtime based on the job's type.
func NewRuntimeFactory(logFactory logger.LogFactory) RuntimeFactory {
	return func(job *models.Job, config runtime.Config, stdout io.Writer, stderr io.Writer) (runtime.Runtime, error) {
		switch job.Type {
		case models.JobTypeExec:
			return exec.NewRuntime(exec.Config{Config: config}), nil
		case models.JobTypeDocker:
			dClient, err := client.NewClientWithOpts(client.FromEnv)
			if err != nil {
				return nil, errors.Wrap(err, "error making Docker API client")
			}
			dConfig := docker.Config{
				Config:       config,
				ImageURI:     job.DockerImage,
				PullStrategy: job.DockerImagePullStrategy,
				ShellOrNil:   job.DockerShell,
				Stdout:       stdout,
				Stderr:       stderr,
			}
			return docker.NewRuntime(dConfig, dClient, logger.NoOpLogFactory), nil
		default:
			return nil, fmt.Errorf("error unsupported job type: %v", job.Type)
		}
	}
}

type OrchestratorConfig struct {
	// WorkspaceDir is the directory jobs execute in. For local builds this
	// is the repository checkout the tool was invoked from.
	WorkspaceDir string
	// StagingRootDir receives per-job staging directories for build scripts.
	// Defaults to a directory under the system temp dir.
	StagingRootDir string
	// Stdout receives job output, after secret scrubbing.
	Stdout io.Writer
}

// Orchestrator orchestrates the execution of a single job by progressing it
// through its lifecycle phases: templating, artifact materialization, runtime
// start, fingerprinting, step execution, artifact collection and teardown.
type Orchestrator struct {
	config         OrchestratorConfig
	state          *BuildState
	artifacts      *artifact.Manager
	secrets        *secret.Store
	runtimeFactory RuntimeFactory
	logger.Log
}

func MakeOrchestratorFactory(
	config OrchestratorConfig,
	state *BuildState,
	artifacts *artifact.Manager,
	secrets *secret.Store,
	runtimeFactory RuntimeFactory,
	logFactory logger.LogFactory) OrchestratorFactory {
	return func() JobOrchestrator {
		return NewOrchestrator(config, state, artifacts, secrets, runtimeFactory, logFactory)
	}
}

func NewOrchestrator(
	config OrchestratorConfig,
	state *BuildState,
	artifacts *artifact.Manager,
	secrets *secret.Store,
	runtimeFactory RuntimeFactory,
	logFactory logger.LogFactory) *Orchestrator {
	if config.StagingRootDir == "" {
		config.StagingRootDir = filepath.Join(os.TempDir(), "conveyor")
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	return &Orchestrator{
		config:         config,
		state:          state,
		artifacts:      artifacts,
		secrets:        secrets,
		runtimeFactory: runtimeFactory,
		Log:            logFactory("Orchestrator"),
	}
}

// Run executes all steps of the job, respecting the step dependency graph.
// By the time Run returns the job's steps carry their final statuses and all
// declared artifacts have been collected into the artifact store.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	log := o.WithFields(logger.Fields{"job_id": job.ID.String(), "job_name": job.Name})
	log.Info("Running job")

	err := o.templateJob(job)
	if err != nil {
		return fmt.Errorf("error templating job: %w", err)
	}

	stagingDir := filepath.Join(o.config.StagingRootDir, job.ID.ShortID(), "staging")
	err = os.MkdirAll(stagingDir, 0777)
	if err != nil {
		return errors.Wrap(err, "error creating job staging directory")
	}
	defer func() {
		cleanupErr := os.RemoveAll(filepath.Join(o.config.StagingRootDir, job.ID.ShortID()))
		if cleanupErr != nil {
			log.Warnf("Will ignore error removing job staging directory: %s", cleanupErr)
		}
	}()

	err = o.artifacts.Materialize(job, o.config.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("error materializing artifacts from dependencies: %w", err)
	}

	scrubber := secret.NewScrubber(o.config.Stdout, o.secrets.GetAll())
	defer scrubber.Flush()

	rt, err := o.runtimeFactory(job, runtime.Config{
		RuntimeID:    job.ID.ShortID(),
		StagingDir:   stagingDir,
		WorkspaceDir: o.config.WorkspaceDir,
	}, scrubber, scrubber)
	if err != nil {
		return fmt.Errorf("error preparing runtime: %w", err)
	}
	err = rt.Start(ctx)
	if err != nil {
		return fmt.Errorf("error starting runtime: %w", err)
	}
	defer func() {
		// Use the cleanup context, not the job context, so we still tear the
		// runtime down if the job has timed out
		cleanupCtx, cleanupCancel := getCleanupContext()
		defer cleanupCancel()
		stopErr := rt.Stop(cleanupCtx)
		if stopErr != nil {
			log.Warnf("Will ignore error stopping runtime: %s", stopErr)
		}
	}()

	jobErr := o.fingerprintJob(ctx, job, rt, scrubber)
	if jobErr != nil {
		jobErr = fmt.Errorf("error fingerprinting job: %w", jobErr)
	}

	if jobErr == nil {
		jobErr = o.runSteps(ctx, job, rt, scrubber)
	}

	// Collect artifacts even when a step failed, so partial output (e.g. a
	// docs build that rendered before failing) is still retained.
	_, artifactErr := o.artifacts.Collect(job, o.config.WorkspaceDir)
	if artifactErr != nil && jobErr == nil {
		jobErr = artifactErr
	}
	return jobErr
}

// templateJob resolves templates that can only be substituted at run time,
// e.g. the fingerprints of jobs this job depends on.
func (o *Orchestrator) templateJob(job *models.Job) error {
	depends := o.state.DependencyJobs(job)
	if len(depends) == 0 {
		return nil
	}
	return parser.TemplateJobFields(job, parser.NewJobsContext(depends))
}

// fingerprintJob calculates the job's fingerprint from its definition, the
// fingerprints of its dependencies and the output of its fingerprint
// commands (if any).
func (o *Orchestrator) fingerprintJob(ctx context.Context, job *models.Job, rt runtime.Runtime, scrubber *secret.Scrubber) error {
	hasher := newFingerprintHasher()

	// Include the job definition hash, so a configuration change produces a
	// different fingerprint
	definitionHash, err := hashJobDefinition(job)
	if err != nil {
		return err
	}
	hasher.Append("Job configuration", definitionHash)

	// Include the fingerprint of every job this job depends on, in a stable order
	depends := o.state.DependencyJobs(job)
	sort.Slice(depends, func(i, j int) bool {
		return depends[i].Name < depends[j].Name
	})
	for _, dependency := range depends {
		hasher.Append(fmt.Sprintf("%s fingerprint", dependency.Name), dependency.Fingerprint)
	}

	if len(job.FingerprintCommands) > 0 {
		env, err := o.makeEnv(job)
		if err != nil {
			return fmt.Errorf("error making env vars for fingerprinting: %w", err)
		}
		hasher.Prepare("Command(s) stdout")
		config := runtime.ExecConfig{
			Name:     "fingerprint",
			Commands: job.FingerprintCommands.Strings(),
			Env:      env,
			Stdout:   hasher,
			Stderr:   scrubber,
		}
		err = rt.Exec(ctx, config)
		if err != nil {
			return err
		}
	}

	job.Fingerprint = hasher.Finalize()
	o.Debugf("Job %q fingerprint: %s", job.Name, job.Fingerprint)
	return nil
}

// stepDAGNode wraps a Step so it can be used as a node in a DAG.
type stepDAGNode struct {
	job  *models.Job
	step *models.Step
}

func (s *stepDAGNode) GetFQN() models.NodeFQN {
	return models.NewNodeFQN(s.job.Name, s.step.Name)
}

func (s *stepDAGNode) GetFQNDependencies() []models.NodeFQN {
	var depends []models.NodeFQN
	for _, dependency := range s.step.Depends {
		depends = append(depends, models.NewNodeFQN(s.job.Name, dependency.StepName))
	}
	return depends
}

// runSteps walks the step dependency graph, executing each step once after
// its dependencies have succeeded. All steps are visited even when a
// dependency fails, so every step carries a final status; errors are recorded
// against steps rather than aborting the walk.
func (o *Orchestrator) runSteps(ctx context.Context, job *models.Job, rt runtime.Runtime, scrubber *secret.Scrubber) error {
	nodes := make([]dag.Node, len(job.Steps))
	for i, step := range job.Steps {
		nodes[i] = &stepDAGNode{job: job, step: step}
	}
	stepGraph, err := dag.NewDAG(nodes)
	if err != nil {
		return errors.Wrap(err, "error building step dependency graph")
	}

	env, err := o.makeEnv(job)
	if err != nil {
		return fmt.Errorf("error making env vars for steps: %w", err)
	}

	stepsByName := make(map[models.ResourceName]*models.Step, len(job.Steps))
	for _, step := range job.Steps {
		stepsByName[step.Name] = step
	}

	err = stepGraph.Walk(ctx, 1, func(ctx context.Context, node dag.Node) error {
		step := node.(*stepDAGNode).step
		stepErr := o.executeStep(ctx, job, step, stepsByName, rt, env, scrubber)
		if stepErr != nil {
			step.Status = models.StatusFailed
			step.Error = models.NewError(stepErr)
		} else {
			step.Status = models.StatusSucceeded
		}
		now := time.Now()
		step.Timings.FinishedAt = &now
		// Intentionally do not bubble errors up to the walk: all steps must
		// be visited so each one carries a final status.
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "error walking step dependency graph")
	}

	for _, step := range job.Steps {
		if step.Error.Valid() {
			return fmt.Errorf("Step failed: %s", step.Name)
		}
		if step.Status != models.StatusSucceeded {
			return fmt.Errorf("Step did not succeed (status is '%s'): %s", step.Status, step.Name)
		}
	}
	return nil
}

func (o *Orchestrator) executeStep(
	ctx context.Context,
	job *models.Job,
	step *models.Step,
	stepsByName map[models.ResourceName]*models.Step,
	rt runtime.Runtime,
	env []string,
	scrubber *secret.Scrubber) error {

	for _, dependency := range step.Depends {
		dependencyStep, ok := stepsByName[dependency.StepName]
		if !ok {
			return fmt.Errorf("error locating result for step dependency: %s", dependency.StepName)
		}
		if dependencyStep.Error.Valid() {
			return fmt.Errorf("Step dependency failed: %s", dependencyStep.Name)
		}
		if dependencyStep.Status != models.StatusSucceeded {
			return fmt.Errorf("Step dependency did not succeed (status is '%s'): %s", dependencyStep.Status, dependencyStep.Name)
		}
	}

	now := time.Now()
	step.Status = models.StatusRunning
	step.Timings.RunningAt = &now

	for _, command := range step.Commands {
		o.Debugf("Job %q step %q: %s", job.Name, step.Name, shellescape.StripUnsafe(command.String()))
	}

	config := runtime.ExecConfig{
		Name:     fmt.Sprintf("step-%s", step.Name),
		Commands: step.Commands.Strings(),
		Env:      env,
		Stdout:   scrubber,
		Stderr:   scrubber,
	}
	err := rt.Exec(ctx, config)
	if err != nil {
		return errors.Wrapf(err, "error executing step %q", step.Name)
	}
	return nil
}

// makeEnv builds the environment for commands executed during the job: a
// standard set of build variables, matrix values, then the job's declared
// environment with secrets resolved. Secrets are never written to disk.
func (o *Orchestrator) makeEnv(job *models.Job) ([]string, error) {
	build := o.state.Build()
	mappings := []string{
		fmt.Sprintf("CONVEYOR_BUILD_ID=%s", build.ID),
		fmt.Sprintf("CONVEYOR_PIPELINE_NAME=%s", build.PipelineName),
		fmt.Sprintf("CONVEYOR_EVENT=%s", build.Event),
		fmt.Sprintf("CONVEYOR_BUILD_REF=%s", build.Ref),
		fmt.Sprintf("CONVEYOR_JOB_NAME=%s", job.Name),
		fmt.Sprintf("CONVEYOR_JOB_FINGERPRINT=%s", job.Fingerprint),
		fmt.Sprintf("CONVEYOR_WORKSPACE=%s", o.config.WorkspaceDir),
	}
	matrixKeys := make([]string, 0, len(job.Matrix))
	for key := range job.Matrix {
		matrixKeys = append(matrixKeys, key)
	}
	sort.Strings(matrixKeys)
	for _, key := range matrixKeys {
		mappings = append(mappings, fmt.Sprintf("CONVEYOR_MATRIX_%s=%s", strings.ToUpper(key), job.Matrix[key]))
	}
	for _, envVar := range job.Environment {
		value := envVar.Value
		if envVar.ValueFromSecret != "" {
			resolved, err := o.secrets.Get(envVar.ValueFromSecret)
			if err != nil {
				return nil, fmt.Errorf("error sourcing value for environment variable %q from secret: %w",
					envVar.Name, err)
			}
			value = resolved.Value
		}
		mappings = append(mappings, fmt.Sprintf("%s=%s", strings.ToUpper(envVar.Name), value))
	}
	return mappings, nil
}
