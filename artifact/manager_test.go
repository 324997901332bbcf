package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/gerror"
	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
)

func newTestJob(t *testing.T, name models.ResourceName, build *models.Build) *models.Job {
	t.Helper()
	job := &models.Job{}
	job.Name = name
	job.TemplateName = name
	job.Steps = []*models.Step{{
		StepDefinitionData: models.StepDefinitionData{Name: "run", Commands: models.Commands{"true"}},
	}}
	job.PopulateDefaults(build)
	return job
}

func writeWorkspaceFile(t *testing.T, workspaceDir, path, content string) {
	t.Helper()
	full := filepath.Join(workspaceDir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0777))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestCollectAndSearch(t *testing.T) {
	build := models.NewBuild("ci", models.EventManual, "master", time.Now())
	job := newTestJob(t, "dist", build)
	job.ArtifactDefinitions = models.ArtifactDefinitions{
		{GroupName: "wheels", Paths: []string{"dist/*.whl", "dist/*.tar.gz"}},
	}

	workspaceDir := t.TempDir()
	writeWorkspaceFile(t, workspaceDir, "dist/pkg-1.0-py3-none-any.whl", "wheel data")
	writeWorkspaceFile(t, workspaceDir, "dist/pkg-1.0.tar.gz", "sdist data")
	writeWorkspaceFile(t, workspaceDir, "dist/notes.txt", "not an artifact")

	manager := NewManager(t.TempDir(), logger.NoOpLogFactory)
	artifacts, err := manager.Collect(job, workspaceDir)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for _, artifact := range artifacts {
		require.NoError(t, artifact.Validate())
		require.Equal(t, models.HashTypeSHA256, artifact.HashType)
		require.NotEmpty(t, artifact.Hash)
		require.Equal(t, models.ResourceName("wheels"), artifact.GroupName)
		require.Equal(t, job.Name, artifact.JobName)
	}

	found, err := manager.Search(build.ID, job.Name, "wheels")
	require.NoError(t, err)
	require.Len(t, found, 2)

	// An empty group name matches all groups
	found, err = manager.Search(build.ID, job.Name, "")
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = manager.Search(build.ID, job.Name, "ghost")
	require.NoError(t, err)
	require.Empty(t, found)

	found, err = manager.Search(build.ID, "ghost", "")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestCollectRecursiveGlob(t *testing.T) {
	build := models.NewBuild("ci", models.EventManual, "master", time.Now())
	job := newTestJob(t, "docs", build)
	job.ArtifactDefinitions = models.ArtifactDefinitions{
		{GroupName: "html", Paths: []string{"docs/_build/**"}},
	}

	workspaceDir := t.TempDir()
	writeWorkspaceFile(t, workspaceDir, "docs/_build/index.html", "<html></html>")
	writeWorkspaceFile(t, workspaceDir, "docs/_build/api/module.html", "<html></html>")

	manager := NewManager(t.TempDir(), logger.NoOpLogFactory)
	artifacts, err := manager.Collect(job, workspaceDir)
	require.NoError(t, err)
	// Directories matched by the glob are skipped
	require.Len(t, artifacts, 2)
	paths := []string{artifacts[0].Path, artifacts[1].Path}
	assert.ElementsMatch(t, []string{"docs/_build/index.html", "docs/_build/api/module.html"}, paths)
}

func TestCollectNoDefinitions(t *testing.T) {
	build := models.NewBuild("ci", models.EventManual, "master", time.Now())
	job := newTestJob(t, "static", build)

	manager := NewManager(t.TempDir(), logger.NoOpLogFactory)
	artifacts, err := manager.Collect(job, t.TempDir())
	require.NoError(t, err)
	require.Empty(t, artifacts)
}

func TestCollectBadGlob(t *testing.T) {
	build := models.NewBuild("ci", models.EventManual, "master", time.Now())
	job := newTestJob(t, "dist", build)
	job.ArtifactDefinitions = models.ArtifactDefinitions{
		{GroupName: "wheels", Paths: []string{"dist/[.whl"}},
	}

	manager := NewManager(t.TempDir(), logger.NoOpLogFactory)
	_, err := manager.Collect(job, t.TempDir())
	require.Error(t, err)
	require.True(t, gerror.IsArtifactUploadFailed(err))
}

func TestMaterialize(t *testing.T) {
	build := models.NewBuild("ci", models.EventManual, "master", time.Now())
	producer := newTestJob(t, "dist", build)
	producer.ArtifactDefinitions = models.ArtifactDefinitions{
		{GroupName: "wheels", Paths: []string{"dist/*.whl"}},
	}

	producerWorkspace := t.TempDir()
	writeWorkspaceFile(t, producerWorkspace, "dist/pkg-1.0-py3-none-any.whl", "wheel data")

	storeDir := t.TempDir()
	manager := NewManager(storeDir, logger.NoOpLogFactory)
	_, err := manager.Collect(producer, producerWorkspace)
	require.NoError(t, err)

	consumer := newTestJob(t, "publish", build)
	consumer.Depends = models.JobDependencies{
		models.NewJobDependency("dist", models.NewArtifactDependency("dist", "wheels")),
	}

	consumerWorkspace := t.TempDir()
	require.NoError(t, manager.Materialize(consumer, consumerWorkspace))
	data, err := os.ReadFile(filepath.Join(consumerWorkspace, "dist", "pkg-1.0-py3-none-any.whl"))
	require.NoError(t, err)
	require.Equal(t, "wheel data", string(data))

	// Materializing again over a matching file is a no-op
	require.NoError(t, manager.Materialize(consumer, consumerWorkspace))

	// A mismatched file at the artifact path is an error
	require.NoError(t, os.WriteFile(filepath.Join(consumerWorkspace, "dist", "pkg-1.0-py3-none-any.whl"), []byte("tampered!!"), 0644))
	err = manager.Materialize(consumer, consumerWorkspace)
	require.Error(t, err)
}
