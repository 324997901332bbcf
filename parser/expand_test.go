package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/models"
)

func mustParseReferencePipeline(t *testing.T) *models.PipelineDefinition {
	t.Helper()
	definition, err := NewPipelineParser(ParserLimits{}).Parse([]byte(referencePipelineYAML), models.ConfigTypeYAML)
	require.NoError(t, err)
	return definition
}

func newTestBuild(t *testing.T, definition *models.PipelineDefinition) *models.Build {
	t.Helper()
	return models.NewBuild(definition.Name, models.EventManual, "master", time.Now())
}

func TestExpandPipeline(t *testing.T) {
	definition := mustParseReferencePipeline(t)
	build := newTestBuild(t, definition)

	jobs, err := ExpandPipeline(definition, build)
	require.NoError(t, err)
	// static + 4 test instances (2 python x 2 case) + docs + dist
	require.Len(t, jobs, 7)

	jobsByName := make(map[models.ResourceName]*models.Job, len(jobs))
	var names []models.ResourceName
	for _, job := range jobs {
		jobsByName[job.Name] = job
		names = append(names, job.Name)
	}

	// Instance names are the template name plus the normalized combination
	// suffix, dimensions sorted by name (case before python).
	expected := []models.ResourceName{
		"static",
		"test-test_core-py-3-9",
		"test-test_core-py-3-10",
		"test-test_pipelines-py-3-9",
		"test-test_pipelines-py-3-10",
		"docs",
		"dist",
	}
	require.Equal(t, expected, names)

	// Expansion is deterministic
	again, err := ExpandPipeline(definition, build)
	require.NoError(t, err)
	for i := range jobs {
		require.Equal(t, jobs[i].Name, again[i].Name)
		require.Equal(t, jobs[i].Matrix, again[i].Matrix)
	}

	// Matrix values are substituted into templated fields
	instance := jobsByName["test-test_core-py-3-10"]
	require.NotNil(t, instance)
	require.Equal(t, models.ResourceName("test"), instance.TemplateName)
	require.Equal(t, "python:3.10", instance.DockerImage)
	require.Equal(t, models.MatrixCombination{"python": "3.10", "case": "test_core.py"}, instance.Matrix)
	require.Equal(t, []string{"test/test_core.py"}, instance.UsesPaths)
	require.Equal(t, models.Commands{"python -m pytest -v test/test_core.py"}, instance.Steps[1].Commands)

	// Non-matrix jobs keep the template name and carry no combination
	static := jobsByName["static"]
	require.NotNil(t, static)
	require.Equal(t, models.ResourceName("static"), static.TemplateName)
	require.Nil(t, static.Matrix)

	// Dependencies on a matrix template fan in across all of its instances
	dist := jobsByName["dist"]
	require.NotNil(t, dist)
	require.Len(t, dist.Depends, 4)
	for _, dependency := range dist.Depends {
		dependent := jobsByName[dependency.JobName]
		require.NotNil(t, dependent)
		require.Equal(t, models.ResourceName("test"), dependent.TemplateName)
	}

	// Every job is queued with populated IDs
	for _, job := range jobs {
		require.True(t, job.ID.Valid())
		require.Equal(t, build.ID, job.BuildID)
		require.Equal(t, models.StatusQueued, job.Status)
		for _, step := range job.Steps {
			require.True(t, step.ID.Valid())
			require.Equal(t, models.StatusQueued, step.Status)
		}
	}
}

func TestExpandPipelineDuplicateInstanceName(t *testing.T) {
	definition, err := NewPipelineParser(ParserLimits{}).Parse([]byte(`
version: "1"
jobs:
  - name: test
    matrix:
      ver: ["1.0", "1-0"]
    steps:
      - name: run
        commands: ["true"]
`), models.ConfigTypeYAML)
	require.NoError(t, err)
	build := newTestBuild(t, definition)

	// "1.0" and "1-0" normalize to the same instance suffix
	_, err = ExpandPipeline(definition, build)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate instance name")
}

func TestTemplateField(t *testing.T) {
	templateContext := NewMatrixContext(models.MatrixCombination{"python": "3.10"})

	v, err := TemplateField("python:${{ matrix.python }}", templateContext)
	require.NoError(t, err)
	require.Equal(t, "python:3.10", v)

	// Untemplated values pass through unchanged
	v, err = TemplateField("python:3.9", templateContext)
	require.NoError(t, err)
	require.Equal(t, "python:3.9", v)

	// Templates rooted at keys the context doesn't provide are deferred
	v, err = TemplateField("${{ jobs.build.fingerprint }}", templateContext)
	require.NoError(t, err)
	require.Equal(t, "${{ jobs.build.fingerprint }}", v)

	// Unknown paths within a provided root are errors
	_, err = TemplateField("${{ matrix.ghost }}", templateContext)
	require.Error(t, err)

	// Path parts must be valid names
	_, err = TemplateField("${{ matrix.a b }}", templateContext)
	require.Error(t, err)
}

func TestTemplateFieldJobsContext(t *testing.T) {
	job := &models.Job{}
	job.Name = "build"
	job.Fingerprint = "abc123"
	templateContext := NewJobsContext([]*models.Job{job})

	v, err := TemplateField("cache-${{ jobs.build.fingerprint }}", templateContext)
	require.NoError(t, err)
	require.Equal(t, "cache-abc123", v)

	_, err = TemplateField("${{ jobs.ghost.fingerprint }}", templateContext)
	require.Error(t, err)
}
