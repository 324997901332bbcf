// Package engine runs the jobs of a build: it tracks job statuses, schedules
// jobs whose dependencies have finished onto a bounded worker pool, and
// orchestrates the lifecycle of each job inside a runtime.
package engine

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/dag"
)

// BuildState tracks the status of every job in a build as it executes.
// All methods are safe for concurrent use.
type BuildState struct {
	mu         sync.RWMutex
	build      *models.Build
	jobsByName map[models.ResourceName]*models.Job
	graph      *dag.DAG
	clk        clock.Clock
	log        logger.Log
}

func NewBuildState(build *models.Build, jobs []*models.Job, clk clock.Clock, logFactory logger.LogFactory) (*BuildState, error) {
	nodes := make([]dag.Node, len(jobs))
	jobsByName := make(map[models.ResourceName]*models.Job, len(jobs))
	for i, job := range jobs {
		nodes[i] = job
		jobsByName[job.Name] = job
	}
	graph, err := dag.NewDAG(nodes)
	if err != nil {
		return nil, fmt.Errorf("error building job dependency graph: %w", err)
	}
	return &BuildState{
		build:      build,
		jobsByName: jobsByName,
		graph:      graph,
		clk:        clk,
		log:        logFactory("BuildState"),
	}, nil
}

func (s *BuildState) Build() *models.Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.build
}

// Job returns the job with the given instance name, or nil.
func (s *BuildState) Job(name models.ResourceName) *models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobsByName[name]
}

// Jobs returns all jobs in the build in topological order.
func (s *BuildState) Jobs() []*models.Job {
	nodes, err := s.graph.Nodes()
	if err != nil {
		// The graph was validated acyclic on construction
		panic(err)
	}
	jobs := make([]*models.Job, len(nodes))
	for i, node := range nodes {
		jobs[i] = node.(*models.Job)
	}
	return jobs
}

// DependencyJobs returns the jobs the given job directly depends on.
func (s *BuildState) DependencyJobs(job *models.Job) []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var depends []*models.Job
	for _, dependency := range job.Depends {
		if dependencyJob, ok := s.jobsByName[dependency.JobName]; ok {
			depends = append(depends, dependencyJob)
		}
	}
	return depends
}

// DequeueReady returns up to max queued jobs whose dependencies have all
// cleared, marking each returned job as running. A dependency clears when it
// has succeeded, or when it has finished in any state and is marked
// continue-on-error.
func (s *BuildState) DequeueReady(max int) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []*models.Job
	for _, job := range s.jobsByName {
		if max >= 0 && len(ready) >= max {
			break
		}
		if job.Status != models.StatusQueued {
			continue
		}
		if !s.dependenciesCleared(job) {
			continue
		}
		now := s.clk.Now()
		job.Status = models.StatusRunning
		job.Timings.RunningAt = &now
		ready = append(ready, job)
	}
	return ready
}

// dependenciesCleared returns true if every dependency of the job has
// finished and either succeeded or is marked continue-on-error.
// Callers must hold the lock.
func (s *BuildState) dependenciesCleared(job *models.Job) bool {
	for _, dependency := range job.Depends {
		dependencyJob, ok := s.jobsByName[dependency.JobName]
		if !ok {
			// Unknown dependencies are rejected when the DAG is built
			return false
		}
		if !dependencyJob.Status.HasFinished() {
			return false
		}
		if dependencyJob.Status != models.StatusSucceeded && !dependencyJob.ContinueOnError {
			return false
		}
	}
	return true
}

// JobFinished records the outcome of a job. If the job failed and is not
// marked continue-on-error, every queued job downstream of it is skipped.
func (s *BuildState) JobFinished(job *models.Job, jobErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	job.Timings.FinishedAt = &now
	if jobErr != nil {
		job.Status = models.StatusFailed
		job.Error = models.NewError(jobErr)
	} else {
		job.Status = models.StatusSucceeded
	}
	if jobErr == nil || job.ContinueOnError {
		return
	}
	descendants, err := s.graph.Descendants(job.GetFQN())
	if err != nil {
		s.log.Errorf("Error finding dependents of failed job %q: %s", job.Name, err)
		return
	}
	for _, node := range descendants {
		dependent := node.(*models.Job)
		if dependent.Status != models.StatusQueued {
			continue
		}
		skippedAt := s.clk.Now()
		dependent.Status = models.StatusSkipped
		dependent.Error = models.NewError(fmt.Errorf("Job dependency failed: %s", job.Name))
		dependent.Timings.FinishedAt = &skippedAt
		s.log.Infof("Skipping job %q: dependency %q failed", dependent.Name, job.Name)
	}
}

// CancelPending marks every job that has not started as canceled, typically
// because the build's context was canceled. Running jobs are left to finish.
func (s *BuildState) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobsByName {
		if job.Status != models.StatusQueued {
			continue
		}
		canceledAt := s.clk.Now()
		job.Status = models.StatusCanceled
		job.Timings.CanceledAt = &canceledAt
	}
}

// IsComplete returns true once every job in the build has finished.
func (s *BuildState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobsByName {
		if !job.Status.HasFinished() {
			return false
		}
	}
	return true
}

// RunningCount returns the number of jobs currently running.
func (s *BuildState) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, job := range s.jobsByName {
		if job.Status == models.StatusRunning {
			count++
		}
	}
	return count
}

// FinishBuild computes and records the final status of the build from the
// statuses of its jobs. Failures of continue-on-error jobs do not fail the
// build.
func (s *BuildState) FinishBuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	s.build.Timings.FinishedAt = &now
	for _, job := range s.jobsByName {
		if job.Status == models.StatusFailed && !job.ContinueOnError {
			s.build.Status = models.StatusFailed
			s.build.Error = models.NewError(fmt.Errorf("Job failed: %s", job.Name))
			return
		}
	}
	s.build.Status = models.StatusSucceeded
}

// TemplateSucceeded returns true if every job instance expanded from the
// named job template succeeded. Used to gate publishing on upstream jobs.
func (s *BuildState) TemplateSucceeded(templateName models.ResourceName) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	for _, job := range s.jobsByName {
		if job.TemplateName != templateName {
			continue
		}
		found = true
		if job.Status != models.StatusSucceeded {
			return false
		}
	}
	return found
}
