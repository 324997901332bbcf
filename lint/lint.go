// Package lint statically checks a pipeline definition against the
// repository it will run in, without executing anything.
package lint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/dag"
	"github.com/conveyorci/conveyor/manifest"
	"github.com/conveyorci/conveyor/parser"
)

// Linter checks a pipeline definition for problems that would only surface
// at run time: missing files, bad manifests, invalid globs and dependency
// cycles. All checks are side-effect free.
type Linter struct {
	log logger.Log
}

func NewLinter(logFactory logger.LogFactory) *Linter {
	return &Linter{log: logFactory("Linter")}
}

// Lint checks the definition against the repository rooted at workspaceDir.
// All problems found are accumulated and returned together.
func (l *Linter) Lint(definition *models.PipelineDefinition, workspaceDir string) error {
	var result *multierror.Error

	err := definition.Validate()
	if err != nil {
		result = multierror.Append(result, err)
	}

	// Expand the matrix so templated uses/manifest paths are checked once
	// per instance with matrix values substituted
	build := models.NewBuild(definition.Name, models.EventManual, "lint", time.Now())
	jobs, err := parser.ExpandPipeline(definition, build)
	if err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}

	nodes := make([]dag.Node, len(jobs))
	for i, job := range jobs {
		nodes[i] = job
	}
	_, err = dag.NewDAG(nodes)
	if err != nil {
		result = multierror.Append(result, err)
	}

	checkedManifests := make(map[string]bool)
	for _, job := range jobs {
		for _, path := range job.UsesPaths {
			if isTemplated(path) {
				continue
			}
			if err := l.checkPathExists(workspaceDir, path); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "error in job %q", job.Name))
			}
		}
		for _, path := range job.Manifests {
			if isTemplated(path) || checkedManifests[path] {
				continue
			}
			checkedManifests[path] = true
			if err := l.checkManifest(workspaceDir, path); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "error in job %q", job.Name))
			}
		}
		for _, artifactDefinition := range job.ArtifactDefinitions {
			for _, pattern := range artifactDefinition.Paths {
				if isTemplated(pattern) {
					continue
				}
				if err := l.checkGlob(pattern); err != nil {
					result = multierror.Append(result, errors.Wrapf(err, "error in artifact group %q of job %q",
						artifactDefinition.GroupName, job.Name))
				}
			}
		}
	}

	return result.ErrorOrNil()
}

// isTemplated returns true if the value still contains a template that can
// only be resolved at run time (e.g. a job fingerprint).
func isTemplated(value string) bool {
	return strings.Contains(value, "${{")
}

func (l *Linter) checkPathExists(workspaceDir string, path string) error {
	_, err := os.Stat(filepath.Join(workspaceDir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("Path %q does not exist in the repository", path)
		}
		return errors.Wrapf(err, "error checking path %q", path)
	}
	return nil
}

func (l *Linter) checkManifest(workspaceDir string, path string) error {
	file, err := manifest.ParseFile(filepath.Join(workspaceDir, path))
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return fmt.Errorf("Manifest %q does not exist in the repository", path)
		}
		return err
	}
	err = file.Validate()
	if err != nil {
		return errors.Wrapf(err, "error validating manifest %q", path)
	}
	l.log.Debugf("Manifest %q: %d requirement(s)", path, len(file.Requirements))
	return nil
}

func (l *Linter) checkGlob(pattern string) error {
	_, err := doublestar.Match(pattern, "x")
	if err != nil {
		return fmt.Errorf("Artifact path %q is not a valid glob pattern: %v", pattern, err)
	}
	return nil
}
