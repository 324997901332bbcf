package engine

import (
	"context"
	"fmt"
	hRuntime "runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	minParallelJobs     = 2
)

type SchedulerConfig struct {
	// ParallelJobs is the maximum number of jobs to run concurrently.
	// Defaults to half the number of CPUs, with a minimum of two.
	ParallelJobs int
	// PollInterval is how often the scheduler re-checks for ready jobs.
	// Job completions trigger an immediate check regardless.
	PollInterval time.Duration
}

func (c *SchedulerConfig) PopulateDefaults() {
	if c.ParallelJobs <= 0 {
		c.ParallelJobs = hRuntime.NumCPU() / 2
		if c.ParallelJobs < minParallelJobs {
			c.ParallelJobs = minParallelJobs
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

type jobResult struct {
	job *models.Job
	err error
}

// Scheduler runs the jobs of a build to completion. Jobs whose dependencies
// have cleared are dequeued from the build state and handed to an
// orchestrator, up to the configured parallelism.
type Scheduler struct {
	config              SchedulerConfig
	state               *BuildState
	orchestratorFactory OrchestratorFactory
	clk                 clock.Clock
	jobCompleteC        chan *jobResult
	exitChan            chan struct{}
	doneChan            chan struct{}
	stopOnce            sync.Once
	stats               struct {
		mu            sync.RWMutex
		jobsStarted   int
		jobsCompleted int
	}
	logger.Log
}

func NewScheduler(
	config SchedulerConfig,
	state *BuildState,
	orchestratorFactory OrchestratorFactory,
	clk clock.Clock,
	logFactory logger.LogFactory) *Scheduler {
	config.PopulateDefaults()
	return &Scheduler{
		config:              config,
		state:               state,
		orchestratorFactory: orchestratorFactory,
		clk:                 clk,
		jobCompleteC:        make(chan *jobResult),
		exitChan:            make(chan struct{}),
		doneChan:            make(chan struct{}),
		Log:                 logFactory("Scheduler"),
	}
}

// Start begins scheduling jobs in the background. The returned Done channel
// is closed once every job in the build has finished.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts scheduling. Jobs already running are left to finish; no new
// jobs are dispatched.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.exitChan)
	})
}

// Done is closed when every job in the build has finished.
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneChan
}

// Run schedules jobs until the build completes or the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	pollTicker := s.clk.Ticker(s.config.PollInterval)
	defer pollTicker.Stop()
	s.dispatch(ctx)
	if s.checkComplete() {
		return
	}
	for {
		select {
		case <-s.exitChan:
			s.Infof("Scheduler stopping; %d job(s) still running", s.state.RunningCount())
			return
		case <-pollTicker.C:
			s.dispatch(ctx)
		case result := <-s.jobCompleteC:
			s.handleJobComplete(result)
			s.dispatch(ctx)
		}
		if s.checkComplete() {
			return
		}
	}
}

// dispatch starts orchestrators for ready jobs, up to the parallelism limit.
func (s *Scheduler) dispatch(ctx context.Context) {
	capacity := s.config.ParallelJobs - s.state.RunningCount()
	if capacity <= 0 {
		return
	}
	for _, job := range s.state.DequeueReady(capacity) {
		job := job
		s.recordJobStarted()
		s.Infof("Starting job %q", job.Name)
		go func() {
			err := s.orchestratorFactory().Run(ctx, job)
			select {
			case s.jobCompleteC <- &jobResult{job: job, err: err}:
			case <-s.exitChan:
			}
		}()
	}
}

func (s *Scheduler) handleJobComplete(result *jobResult) {
	s.recordJobCompleted()
	s.state.JobFinished(result.job, result.err)
	if result.err != nil {
		if result.job.ContinueOnError {
			s.Warnf("Job %q failed (continue-on-error): %s", result.job.Name, result.err)
		} else {
			s.Errorf("Job %q failed: %s", result.job.Name, result.err)
		}
	} else {
		s.Infof("Job %q succeeded in %s", result.job.Name, result.job.Timings.Duration().Round(time.Millisecond))
	}
}

// checkComplete finalizes the build and closes the done channel once all
// jobs have finished.
func (s *Scheduler) checkComplete() bool {
	if !s.state.IsComplete() {
		return false
	}
	s.state.FinishBuild()
	build := s.state.Build()
	s.Infof("Build %s finished with status %q", build.ID, build.Status)
	close(s.doneChan)
	return true
}

func (s *Scheduler) recordJobStarted() {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.jobsStarted++
}

func (s *Scheduler) recordJobCompleted() {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.jobsCompleted++
}

// Stats returns a human-readable summary of scheduling activity.
func (s *Scheduler) Stats() string {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return fmt.Sprintf("started %d job(s), completed %d job(s)", s.stats.jobsStarted, s.stats.jobsCompleted)
}
