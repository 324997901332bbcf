package engine

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/artifact"
	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/dag"
	"github.com/conveyorci/conveyor/parser"
	"github.com/conveyorci/conveyor/secret"
)

type Config struct {
	// WorkspaceDir is the directory jobs execute in, normally the repository
	// checkout the tool was invoked from.
	WorkspaceDir string
	// ArtifactDir is the root directory of the local artifact store.
	ArtifactDir string
	// StagingRootDir receives per-job staging directories. Empty means a
	// directory under the system temp dir.
	StagingRootDir string
	// ParallelJobs is the maximum number of jobs to run concurrently.
	ParallelJobs int
	// Stdout receives job output, after secret scrubbing.
	Stdout io.Writer
	// RuntimeFactory overrides how runtimes are created, for testing.
	// Nil means the default exec/docker factory.
	RuntimeFactory RuntimeFactory
}

// Engine turns a parsed pipeline definition into a build and runs it.
type Engine struct {
	config     Config
	artifacts  *artifact.Manager
	secrets    *secret.Store
	clk        clock.Clock
	logFactory logger.LogFactory
	log        logger.Log
}

func NewEngine(config Config, secrets *secret.Store, clk clock.Clock, logFactory logger.LogFactory) *Engine {
	if config.RuntimeFactory == nil {
		config.RuntimeFactory = NewRuntimeFactory(logFactory)
	}
	return &Engine{
		config:     config,
		artifacts:  artifact.NewManager(config.ArtifactDir, logFactory),
		secrets:    secrets,
		clk:        clk,
		logFactory: logFactory,
		log:        logFactory("Engine"),
	}
}

// ArtifactManager returns the artifact store the engine collects into.
func (e *Engine) ArtifactManager() *artifact.Manager {
	return e.artifacts
}

// Result describes the outcome of a build.
type Result struct {
	Build *models.Build
	// Jobs contains every job in the build with its final status, in
	// topological order.
	Jobs  []*models.Job
	state *BuildState
}

// Succeeded returns true if the build finished successfully.
func (r *Result) Succeeded() bool {
	return r.Build.Status == models.StatusSucceeded
}

// FailedJobs returns the jobs that finished in a failed state.
func (r *Result) FailedJobs() []*models.Job {
	var failed []*models.Job
	for _, job := range r.Jobs {
		if job.Status == models.StatusFailed {
			failed = append(failed, job)
		}
	}
	return failed
}

// TemplateSucceeded returns true if every job instance expanded from the
// named job template succeeded.
func (r *Result) TemplateSucceeded(templateName models.ResourceName) bool {
	if r.state == nil {
		return false
	}
	return r.state.TemplateSucceeded(templateName)
}

// RunBuild expands the pipeline definition into a build and runs its jobs to
// completion. If the pipeline's triggers do not match the requested event and
// ref, the build is returned in a skipped state without running anything.
func (e *Engine) RunBuild(ctx context.Context, definition *models.PipelineDefinition, options models.BuildOptions) (*Result, error) {
	build := models.NewBuild(definition.Name, options.Event, options.Ref, e.clk.Now())

	shouldRun, err := definition.Triggers.ShouldRun(options.Event, options.Ref)
	if err != nil {
		return nil, err
	}
	if !shouldRun {
		e.log.Infof("Pipeline %q is not triggered by event %q on ref %q; Nothing to do",
			definition.Name, options.Event, options.Ref)
		build.Status = models.StatusSkipped
		return &Result{Build: build}, nil
	}

	jobs, err := parser.ExpandPipeline(definition, build)
	if err != nil {
		return nil, err
	}
	if len(options.NodesToRun) > 0 {
		jobs, err = selectJobs(jobs, options.NodesToRun)
		if err != nil {
			return nil, err
		}
	}

	now := e.clk.Now()
	build.Status = models.StatusRunning
	build.Timings.RunningAt = &now

	state, err := NewBuildState(build, jobs, e.clk, e.logFactory)
	if err != nil {
		return nil, err
	}
	orchestratorFactory := MakeOrchestratorFactory(
		OrchestratorConfig{
			WorkspaceDir:   e.config.WorkspaceDir,
			StagingRootDir: e.config.StagingRootDir,
			Stdout:         e.config.Stdout,
		},
		state,
		e.artifacts,
		e.secrets,
		e.config.RuntimeFactory,
		e.logFactory,
	)
	scheduler := NewScheduler(
		SchedulerConfig{ParallelJobs: e.config.ParallelJobs},
		state,
		orchestratorFactory,
		e.clk,
		e.logFactory,
	)
	err = scheduler.Run(ctx)
	if err != nil {
		state.CancelPending()
		canceledAt := e.clk.Now()
		build.Status = models.StatusCanceled
		build.Error = models.NewError(err)
		build.Timings.CanceledAt = &canceledAt
		return &Result{Build: build, Jobs: state.Jobs(), state: state}, err
	}
	e.log.Debugf("Scheduler stats: %s", scheduler.Stats())
	return &Result{Build: build, Jobs: state.Jobs(), state: state}, nil
}

// selectJobs restricts a build to the named jobs plus their transitive
// dependencies. Names match either a job instance or a job template (in
// which case all of the template's instances are selected).
func selectJobs(jobs []*models.Job, nodesToRun []models.NodeFQN) ([]*models.Job, error) {
	nodes := make([]dag.Node, len(jobs))
	for i, job := range jobs {
		nodes[i] = job
	}
	graph, err := dag.NewDAG(nodes)
	if err != nil {
		return nil, err
	}

	selected := make(map[models.ResourceName]bool)
	for _, fqn := range nodesToRun {
		matched := false
		for _, job := range jobs {
			if job.Name != fqn.JobName && job.TemplateName != fqn.JobName {
				continue
			}
			matched = true
			selected[job.Name] = true
			ancestors, err := graph.Ancestors(job.GetFQN())
			if err != nil {
				return nil, err
			}
			for _, ancestor := range ancestors {
				selected[ancestor.(*models.Job).Name] = true
			}
		}
		if !matched {
			return nil, errors.Errorf("error no job matches %q", fqn)
		}
	}

	var filtered []*models.Job
	for _, job := range jobs {
		if selected[job.Name] {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}
