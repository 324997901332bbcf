package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// JobTemplate is a job as declared in the pipeline config, before matrix
// expansion. A template with a matrix produces one job instance per
// combination; a template without a matrix produces exactly one instance.
type JobTemplate struct {
	JobDefinitionData
	// MatrixDefinition declares the matrix dimensions for this job, or nil.
	MatrixDefinition MatrixDefinition `json:"matrix_definition"`
}

// PipelineDefinition is the parsed, validated representation of a pipeline
// definition file.
type PipelineDefinition struct {
	// Version of the config format the definition was parsed from.
	Version string `json:"version"`
	// Name of the pipeline.
	Name ResourceName `json:"name"`
	// Triggers declares which repository events run the pipeline.
	Triggers TriggerDefinition `json:"triggers"`
	// Jobs contains the job templates in declaration order.
	Jobs []*JobTemplate `json:"jobs"`
	// Publish optionally declares a gated package-index upload.
	Publish *PublishDefinition `json:"publish"`
}

// GetJob returns the job template with the given name, or nil.
func (m *PipelineDefinition) GetJob(name ResourceName) *JobTemplate {
	for _, job := range m.Jobs {
		if job.Name == name {
			return job
		}
	}
	return nil
}

// Validate checks the pipeline definition for internal consistency: unique,
// well-formed names, resolvable job dependencies and a valid publish block.
// Cycle detection is left to the DAG construction.
func (m *PipelineDefinition) Validate() error {
	var result *multierror.Error
	if err := m.Name.Validate(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "error validating pipeline name"))
	}
	if err := m.Triggers.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if len(m.Jobs) == 0 {
		result = multierror.Append(result, errors.New("error pipeline must declare at least one job"))
	}
	jobsByName := make(map[ResourceName]*JobTemplate, len(m.Jobs))
	for i, job := range m.Jobs {
		if err := job.Name.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating job (index %d)", i))
			continue
		}
		if _, ok := jobsByName[job.Name]; ok {
			result = multierror.Append(result, errors.Errorf("Found duplicate job %q; Jobs must have unique names", job.Name))
		}
		jobsByName[job.Name] = job
		if job.MatrixDefinition != nil {
			if err := job.MatrixDefinition.Validate(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "error validating matrix for job %q", job.Name))
			}
		}
		if job.Type == JobTypeDocker && job.DockerImage == "" {
			result = multierror.Append(result, errors.Errorf("error job %q must set a docker image", job.Name))
		}
		if len(job.Steps) == 0 {
			result = multierror.Append(result, errors.Errorf("error job %q must declare at least one step", job.Name))
		}
		stepsByName := make(map[ResourceName]*Step, len(job.Steps))
		for j, step := range job.Steps {
			if err := step.Validate(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "error validating step %q of job %q (index %d)", step.Name, job.Name, j))
			}
			if _, ok := stepsByName[step.Name]; ok {
				result = multierror.Append(result, errors.Errorf("Found duplicate step %q in job %q; Steps must have unique names", step.Name, job.Name))
			}
			stepsByName[step.Name] = step
		}
		for _, step := range job.Steps {
			for _, dependency := range step.Depends {
				if _, ok := stepsByName[dependency.StepName]; !ok {
					result = multierror.Append(result, errors.Errorf("error step %q of job %q depends on unknown step %q", step.Name, job.Name, dependency.StepName))
				}
			}
		}
	}
	for _, job := range m.Jobs {
		for _, dependency := range job.Depends {
			if _, ok := jobsByName[dependency.JobName]; !ok {
				result = multierror.Append(result, errors.Errorf("error job %q depends on unknown job %q", job.Name, dependency.JobName))
			}
		}
	}
	if m.Publish != nil {
		if err := m.Publish.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
		for _, name := range m.Publish.Needs {
			if _, ok := jobsByName[name]; !ok {
				result = multierror.Append(result, errors.Errorf("error publish block needs unknown job %q", name))
			}
		}
		if m.Publish.ArtifactGroup != "" {
			found := false
			for _, job := range m.Jobs {
				if job.ArtifactDefinitions.Get(m.Publish.ArtifactGroup) != nil {
					found = true
					break
				}
			}
			if !found {
				result = multierror.Append(result, errors.Errorf("error publish block references unknown artifact group %q", m.Publish.ArtifactGroup))
			}
		}
	}
	return result.ErrorOrNil()
}
