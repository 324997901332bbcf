package lint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
)

// newLintTestDefinition builds a definition resembling a test-and-docs
// pipeline: a matrix job that uses per-case test files, and a docs job that
// installs from a pinned requirements manifest.
func newLintTestDefinition() *models.PipelineDefinition {
	return &models.PipelineDefinition{
		Version: "1",
		Name:    "pipeline",
		Jobs: []*models.JobTemplate{
			{
				JobDefinitionData: models.JobDefinitionData{
					Name:      "test",
					Type:      models.JobTypeExec,
					UsesPaths: []string{"test/${{ matrix.case }}"},
					Steps: []*models.Step{
						{StepDefinitionData: models.StepDefinitionData{
							Name:     "run",
							Commands: models.Commands{"pytest test/${{ matrix.case }}"},
						}},
					},
				},
				MatrixDefinition: models.MatrixDefinition{
					"case": {"test_core.py", "test_pipelines.py"},
				},
			},
			{
				JobDefinitionData: models.JobDefinitionData{
					Name:      "docs",
					Type:      models.JobTypeExec,
					Manifests: []string{"docs/requirements.txt"},
					ArtifactDefinitions: models.ArtifactDefinitions{
						{GroupName: "html", Paths: []string{"docs/_build/**"}},
					},
					Steps: []*models.Step{
						{StepDefinitionData: models.StepDefinitionData{Name: "build", Commands: models.Commands{"make html"}}},
					},
				},
			},
		},
	}
}

// newLintTestWorkspace creates a repository layout satisfying the reference
// definition.
func newLintTestWorkspace(t *testing.T) string {
	workspaceDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspaceDir, "test"), 0777))
	require.NoError(t, os.MkdirAll(filepath.Join(workspaceDir, "docs"), 0777))
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir, "test", "test_core.py"), []byte("def test(): pass\n"), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir, "test", "test_pipelines.py"), []byte("def test(): pass\n"), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir, "docs", "requirements.txt"),
		[]byte("sphinx==4.5.0\nsphinx_rtd_theme>=1.0,<2.0\n"), 0666))
	return workspaceDir
}

func TestLintCleanDefinition(t *testing.T) {
	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(newLintTestDefinition(), newLintTestWorkspace(t))
	require.NoError(t, err)
}

func TestLintMissingUsesPath(t *testing.T) {
	workspaceDir := newLintTestWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(workspaceDir, "test", "test_pipelines.py")))

	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(newLintTestDefinition(), workspaceDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Path "test/test_pipelines.py" does not exist`)
	// The other matrix instance's path is fine and must not be reported
	assert.NotContains(t, err.Error(), "test_core.py")
}

func TestLintMissingManifest(t *testing.T) {
	workspaceDir := newLintTestWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(workspaceDir, "docs", "requirements.txt")))

	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(newLintTestDefinition(), workspaceDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Manifest "docs/requirements.txt" does not exist`)
}

func TestLintBadManifestSpecifier(t *testing.T) {
	workspaceDir := newLintTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir, "docs", "requirements.txt"),
		[]byte("sphinx=4.5.0\n"), 0666))

	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(newLintTestDefinition(), workspaceDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestLintInvalidArtifactGlob(t *testing.T) {
	definition := newLintTestDefinition()
	definition.Jobs[1].ArtifactDefinitions[0].Paths = []string{"docs/[_build/**"}

	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(definition, newLintTestWorkspace(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a valid glob pattern")
}

func TestLintDependencyCycle(t *testing.T) {
	definition := newLintTestDefinition()
	definition.Jobs[0].Depends = models.JobDependencies{models.NewJobDependency("docs")}
	definition.Jobs[1].Depends = models.JobDependencies{models.NewJobDependency("test")}

	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(definition, newLintTestWorkspace(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLintUnknownDependency(t *testing.T) {
	definition := newLintTestDefinition()
	definition.Jobs[1].Depends = models.JobDependencies{models.NewJobDependency("ghost")}

	linter := NewLinter(logger.NoOpLogFactory)
	err := linter.Lint(definition, newLintTestWorkspace(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on unknown job "ghost"`)
}
