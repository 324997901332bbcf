package models

import (
	"github.com/hashicorp/go-multierror"
)

// ArtifactDependency declares that a job consumes artifacts produced by
// one of the jobs it depends on. An empty GroupName means all artifact
// groups produced by the referenced job.
type ArtifactDependency struct {
	// JobName is the name of the job that produces the artifacts.
	JobName ResourceName `json:"job_name"`
	// GroupName is the name of the artifact group to consume, or empty for all groups.
	GroupName ResourceName `json:"group_name"`
}

func NewArtifactDependency(jobName ResourceName, groupName ResourceName) *ArtifactDependency {
	return &ArtifactDependency{JobName: jobName, GroupName: groupName}
}

// JobDependency declares that one job depends on the successful execution of another, and optionally
// that the dependent job consumes one or more artifacts from the other.
type JobDependency struct {
	// JobName is the name of the job referenced in the dependency.
	JobName ResourceName `json:"job_name"`
	// ArtifactDependencies lists artifacts produced by the referenced job that are required by the dependent job.
	ArtifactDependencies []*ArtifactDependency `json:"artifact_dependencies"`
}

func NewJobDependency(jobName ResourceName, artifactDependencies ...*ArtifactDependency) *JobDependency {
	return &JobDependency{
		JobName:              jobName,
		ArtifactDependencies: artifactDependencies,
	}
}

func (m *JobDependency) Equal(that *JobDependency) bool {
	return m.JobName == that.JobName
}

// GetFQN returns a fully-qualified name for the job referenced by this dependency.
func (m *JobDependency) GetFQN() NodeFQN {
	return NewNodeFQNForJob(m.JobName)
}

func (m *JobDependency) Validate() error {
	var result *multierror.Error
	if err := m.JobName.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, artifact := range m.ArtifactDependencies {
		if artifact.GroupName != "" {
			if err := artifact.GroupName.Validate(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

type JobDependencies []*JobDependency
