package engine

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
)

func newStateTestBuild() *models.Build {
	return models.NewBuild("pipeline", models.EventManual, "refs/heads/main", time.Now())
}

func newStateTestJob(build *models.Build, name string, continueOnError bool, depends ...string) *models.Job {
	job := &models.Job{
		JobData: models.JobData{
			JobDefinitionData: models.JobDefinitionData{
				Name:            models.ResourceName(name),
				Type:            models.JobTypeExec,
				ContinueOnError: continueOnError,
				Steps: []*models.Step{
					{StepDefinitionData: models.StepDefinitionData{Name: "run", Commands: models.Commands{"true"}}},
				},
			},
		},
	}
	for _, dependency := range depends {
		job.Depends = append(job.Depends, models.NewJobDependency(models.ResourceName(dependency)))
	}
	job.PopulateDefaults(build)
	return job
}

func TestBuildStateDequeueReady(t *testing.T) {
	build := newStateTestBuild()
	jobA := newStateTestJob(build, "a", false)
	jobB := newStateTestJob(build, "b", false, "a")
	jobC := newStateTestJob(build, "c", false, "a", "b")

	state, err := NewBuildState(build, []*models.Job{jobA, jobB, jobC}, clock.NewMock(), logger.NoOpLogFactory)
	require.NoError(t, err)

	ready := state.DequeueReady(-1)
	require.Len(t, ready, 1)
	assert.Equal(t, models.ResourceName("a"), ready[0].Name)
	assert.Equal(t, models.StatusRunning, ready[0].Status)

	// Nothing further is ready until a finishes
	assert.Empty(t, state.DequeueReady(-1))

	state.JobFinished(jobA, nil)
	assert.Equal(t, models.StatusSucceeded, jobA.Status)

	ready = state.DequeueReady(-1)
	require.Len(t, ready, 1)
	assert.Equal(t, models.ResourceName("b"), ready[0].Name)

	state.JobFinished(jobB, nil)
	ready = state.DequeueReady(-1)
	require.Len(t, ready, 1)
	assert.Equal(t, models.ResourceName("c"), ready[0].Name)

	state.JobFinished(jobC, nil)
	assert.True(t, state.IsComplete())
	state.FinishBuild()
	assert.Equal(t, models.StatusSucceeded, build.Status)
}

func TestBuildStateFailureSkipsDependents(t *testing.T) {
	build := newStateTestBuild()
	jobA := newStateTestJob(build, "a", false)
	jobB := newStateTestJob(build, "b", false, "a")
	jobC := newStateTestJob(build, "c", false, "b")
	jobD := newStateTestJob(build, "d", false)

	state, err := NewBuildState(build, []*models.Job{jobA, jobB, jobC, jobD}, clock.NewMock(), logger.NoOpLogFactory)
	require.NoError(t, err)

	state.DequeueReady(-1)
	state.JobFinished(jobA, errors.New("command exited with code 1"))

	assert.Equal(t, models.StatusFailed, jobA.Status)
	assert.Equal(t, models.StatusSkipped, jobB.Status)
	assert.Equal(t, models.StatusSkipped, jobC.Status)
	assert.Contains(t, jobB.Error.Error(), "Job dependency failed: a")

	// The independent job is unaffected
	assert.Equal(t, models.StatusRunning, jobD.Status)
	state.JobFinished(jobD, nil)

	assert.True(t, state.IsComplete())
	state.FinishBuild()
	assert.Equal(t, models.StatusFailed, build.Status)
	assert.Contains(t, build.Error.Error(), "Job failed: a")
}

func TestBuildStateContinueOnError(t *testing.T) {
	build := newStateTestBuild()
	docs := newStateTestJob(build, "docs", true)
	dist := newStateTestJob(build, "dist", false, "docs")

	state, err := NewBuildState(build, []*models.Job{docs, dist}, clock.NewMock(), logger.NoOpLogFactory)
	require.NoError(t, err)

	state.DequeueReady(-1)
	state.JobFinished(docs, errors.New("sphinx-build exited with code 2"))

	// A continue-on-error failure does not gate dependents
	assert.Equal(t, models.StatusFailed, docs.Status)
	ready := state.DequeueReady(-1)
	require.Len(t, ready, 1)
	assert.Equal(t, models.ResourceName("dist"), ready[0].Name)

	state.JobFinished(dist, nil)
	state.FinishBuild()

	// ...and does not fail the build
	assert.Equal(t, models.StatusSucceeded, build.Status)
}

func TestBuildStateTemplateSucceeded(t *testing.T) {
	build := newStateTestBuild()
	test1 := newStateTestJob(build, "test-3-9", false)
	test1.TemplateName = "test"
	test2 := newStateTestJob(build, "test-3-10", false)
	test2.TemplateName = "test"

	state, err := NewBuildState(build, []*models.Job{test1, test2}, clock.NewMock(), logger.NoOpLogFactory)
	require.NoError(t, err)

	state.DequeueReady(-1)
	state.JobFinished(test1, nil)
	assert.False(t, state.TemplateSucceeded("test"), "one instance still running")

	state.JobFinished(test2, nil)
	assert.True(t, state.TemplateSucceeded("test"))
	assert.False(t, state.TemplateSucceeded("ghost"))
}

func TestBuildStateRejectsCycles(t *testing.T) {
	build := newStateTestBuild()
	jobA := newStateTestJob(build, "a", false, "b")
	jobB := newStateTestJob(build, "b", false, "a")

	_, err := NewBuildState(build, []*models.Job{jobA, jobB}, clock.NewMock(), logger.NoOpLogFactory)
	require.Error(t, err)
}
