package models

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const JobResourceKind ResourceKind = "job"

type JobID struct {
	ResourceID
}

func NewJobID() JobID {
	return JobID{ResourceID: NewResourceID(JobResourceKind)}
}

func ParseJobID(str string) (JobID, error) {
	resourceID, err := ParseResourceID(str)
	if err != nil {
		return JobID{}, fmt.Errorf("error parsing Job ID: %w", err)
	}
	return JobID{ResourceID: resourceID}, nil
}

// Job represents a single job instance in a multi-job pipeline. A job contains
// multiple steps that may be executed in a fan-out/fan-in workflow. A matrix
// job template produces one Job per matrix combination.
type Job struct {
	JobMetadata
	JobData
}

type JobMetadata struct {
	ID        JobID     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobData struct {
	JobDefinitionData
	BuildID BuildID `json:"build_id"`
	// Ref is the git ref the build was triggered for (e.g. branch or tag).
	Ref string `json:"ref"`
	// Status reflects where the job is in the queue.
	Status Status `json:"status"`
	// Error is set if the job finished with an error (or nil if the job succeeded).
	Error *Error `json:"error"`
	// Timings records the times at which the job transitioned between statuses.
	Timings Timings `json:"timings"`
	// Fingerprint is a hash of the job's definition data. Two jobs in the same
	// repo with the same name and fingerprint are considered identical.
	Fingerprint string `json:"fingerprint"`
}

type JobDefinitionData struct {
	// Name of the job instance, unique within the build. For matrix jobs this
	// is the template name with the combination suffix appended.
	Name ResourceName `json:"name"`
	// TemplateName is the name of the job as declared in the pipeline config,
	// before matrix expansion. Equal to Name for non-matrix jobs.
	TemplateName ResourceName `json:"template_name"`
	// Description is an optional human-readable description of the job.
	Description string `json:"description"`
	// Depends describes the dependencies this job has on other jobs.
	Depends JobDependencies `json:"depends"`
	// Type of the job (e.g. docker, exec etc.)
	Type JobType `json:"type"`
	// DockerImage is the Docker image to run the job's steps in, if the job is of type Docker.
	DockerImage string `json:"docker_image"`
	// DockerImagePullStrategy determines if/when the Docker image is pulled during
	// job execution, if the job is of type Docker.
	DockerImagePullStrategy DockerPullStrategy `json:"docker_pull"`
	// DockerShell is the path to the shell to use to run build scripts with inside the container.
	DockerShell *string `json:"docker_shell"`
	// ContinueOnError means a failure of this job does not gate dependent jobs
	// and does not fail the build.
	ContinueOnError bool `json:"continue_on_error"`
	// Matrix is the combination of matrix dimension values assigned to this
	// instance, or nil for non-matrix jobs.
	Matrix MatrixCombination `json:"matrix"`
	// Steps contains the steps to execute, in dependency order.
	Steps []*Step `json:"steps"`
	// FingerprintCommands contains zero or more shell commands to execute to generate
	// a unique fingerprint for the job.
	FingerprintCommands Commands `json:"fingerprint_commands"`
	// ArtifactDefinitions contains a list of artifacts the job is expected to produce that
	// will be saved to the artifact store at the end of the job's execution.
	ArtifactDefinitions ArtifactDefinitions `json:"artifact_definitions"`
	// Environment contains a list of environment variables to export prior to executing the job.
	Environment JobEnvVars `json:"environment"`
	// UsesPaths lists repository paths the job requires to exist (e.g. the test
	// case files named in a matrix dimension). Checked by lint.
	UsesPaths []string `json:"uses_paths"`
	// Manifests lists pinned-dependency manifest files the job installs from.
	// Checked by lint: the file must exist and every version specifier must parse.
	Manifests []string `json:"manifests"`
}

// GetFQN returns a fully-qualified name for this job.
func (m *Job) GetFQN() NodeFQN {
	return NewNodeFQNForJob(m.Name)
}

// GetFQNDependencies returns a list of the fully-qualified names of jobs that must execute before this job.
func (m *Job) GetFQNDependencies() []NodeFQN {
	var depends []NodeFQN
	for _, dependency := range m.Depends {
		depends = append(depends, dependency.GetFQN())
	}
	return depends
}

// Validate the job including the step relationships/dependencies.
func (m *Job) Validate() error {
	var result *multierror.Error
	if !m.ID.Valid() {
		result = multierror.Append(result, errors.New("error id must be set"))
	}
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	if !m.BuildID.Valid() {
		result = multierror.Append(result, errors.New("error build id must be set"))
	}
	if err := m.Name.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.TemplateName.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if !m.Type.Valid() {
		result = multierror.Append(result, errors.New("error job type is invalid"))
	} else if m.Type == JobTypeDocker {
		if m.DockerImage == "" {
			result = multierror.Append(result, errors.New("error docker image must be set"))
		}
		if !m.DockerImagePullStrategy.Valid() {
			result = multierror.Append(result, errors.New("error docker image pull strategy must be set"))
		}
	}
	if !m.Status.Valid() {
		result = multierror.Append(result, errors.New("error status is invalid"))
	}
	if len(m.Steps) == 0 {
		result = multierror.Append(result, errors.New("error job must declare at least one step"))
	}
	stepsByName := make(map[ResourceName]*Step, len(m.Steps))
	for i, step := range m.Steps {
		if err := step.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating step %q (index %d)", step.Name, i))
		}
		if _, ok := stepsByName[step.Name]; ok {
			result = multierror.Append(result, errors.Errorf("Found duplicate step %q; Steps must have unique names", step.Name))
		}
		stepsByName[step.Name] = step
	}
	for _, step := range m.Steps {
		for _, dependency := range step.Depends {
			if _, ok := stepsByName[dependency.StepName]; !ok {
				result = multierror.Append(result, errors.Errorf("error step %q depends on unknown step %q", step.Name, dependency.StepName))
			}
		}
	}
	dependenciesByName := make(map[ResourceName]*JobDependency, len(m.Depends))
	for i, dependency := range m.Depends {
		if err := dependency.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating dependency %q (index %d)", dependency.JobName, i))
		}
		if _, ok := dependenciesByName[dependency.JobName]; ok {
			result = multierror.Append(result, errors.Errorf("Found duplicate dependency %q; Dependencies must be unique", dependency.JobName))
		}
		dependenciesByName[dependency.JobName] = dependency
	}
	artifactsByName := make(map[ResourceName]*ArtifactDefinition, len(m.ArtifactDefinitions))
	for i, artifact := range m.ArtifactDefinitions {
		if err := artifact.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating artifact %q (index %d)", artifact.GroupName, i))
		}
		if _, ok := artifactsByName[artifact.GroupName]; ok {
			result = multierror.Append(result, errors.Errorf("error duplicate artifact definition %q; Artifacts must have unique names", artifact.GroupName))
		}
		artifactsByName[artifact.GroupName] = artifact
	}
	for i, env := range m.Environment {
		if err := env.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating environment variable %q (index %d)", env.Name, i))
		}
	}
	return result.ErrorOrNil()
}

// PopulateDefaults sets default values for all fields of all structs
// in the job that haven't been populated.
func (m *Job) PopulateDefaults(build *Build) {
	if !m.ID.Valid() {
		m.ID = NewJobID()
	}
	m.BuildID = build.ID
	m.Ref = build.Ref
	if m.CreatedAt.IsZero() {
		m.CreatedAt = build.CreatedAt
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = build.CreatedAt
	}
	if m.Status == "" || m.Status == StatusUnknown {
		m.Status = StatusQueued
	}
	if m.TemplateName == "" {
		m.TemplateName = m.Name
	}
	for _, step := range m.Steps {
		if !step.ID.Valid() {
			step.ID = NewStepID()
		}
		if step.Status == "" || step.Status == StatusUnknown {
			step.Status = StatusQueued
		}
	}
}
