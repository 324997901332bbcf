package models

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ArtifactDefinition is generated from jobs in the pipeline config.
// It declares that a job is expected to create one or more artifacts at the given paths, and
// that these artifact files should be saved and made available to other jobs (see ArtifactDependency).
type ArtifactDefinition struct {
	// GroupName uniquely identifies the one or more artifacts specified in paths.
	GroupName ResourceName `json:"name"`
	// Paths contains one or more relative paths to artifacts that should be collected at the
	// end of the job. These paths will be globbed, so that each path may identify one or
	// more actual files.
	Paths []string `json:"paths"`
}

func (m *ArtifactDefinition) Validate() error {
	var result *multierror.Error
	if err := m.GroupName.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if len(m.Paths) == 0 {
		result = multierror.Append(result, errors.New("Artifact must specify at least one path"))
	}
	for _, path := range m.Paths {
		if filepath.IsAbs(path) {
			result = multierror.Append(result, fmt.Errorf("Artifact path %q must be relative to the workspace directory", path))
		}
	}
	return result.ErrorOrNil()
}

type ArtifactDefinitions []*ArtifactDefinition

// Get returns the definition with the given group name, or nil.
func (m ArtifactDefinitions) Get(groupName ResourceName) *ArtifactDefinition {
	for _, definition := range m {
		if definition.GroupName == groupName {
			return definition
		}
	}
	return nil
}
