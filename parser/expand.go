package parser

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/common/models"
)

// ExpandPipeline instantiates the job templates of a pipeline definition into
// concrete job instances for a build. A template with a matrix produces one
// instance per matrix combination, named "<template>-<suffix>"; a template
// without a matrix produces a single instance keeping the template name.
// Dependencies declared against a matrix template fan in across all of its
// instances. Matrix values are substituted into templated fields. Expansion
// is deterministic: instance order follows declaration order and the sorted
// dimension order of each matrix.
func ExpandPipeline(definition *models.PipelineDefinition, build *models.Build) ([]*models.Job, error) {
	type instance struct {
		template    *models.JobTemplate
		name        models.ResourceName
		combination models.MatrixCombination
	}

	var (
		instances           []*instance
		instancesByTemplate = make(map[models.ResourceName][]models.ResourceName, len(definition.Jobs))
		seen                = make(map[models.ResourceName]*instance)
	)
	for _, template := range definition.Jobs {
		combinations := template.MatrixDefinition.Expand()
		if combinations == nil {
			combinations = []models.MatrixCombination{nil}
		}
		for _, combination := range combinations {
			name := template.Name
			if combination != nil {
				name = models.ResourceName(string(template.Name) + "-" + string(combination.InstanceSuffix()))
			}
			if existing, ok := seen[name]; ok {
				return nil, errors.Errorf(
					"error matrix for job %q produces duplicate instance name %q (conflicts with an instance of job %q)",
					template.Name, name, existing.template.Name)
			}
			inst := &instance{template: template, name: name, combination: combination}
			seen[name] = inst
			instances = append(instances, inst)
			instancesByTemplate[template.Name] = append(instancesByTemplate[template.Name], name)
		}
	}

	var (
		jobs   []*models.Job
		result *multierror.Error
	)
	for _, inst := range instances {
		job := &models.Job{
			JobData: models.JobData{
				JobDefinitionData: cloneJobDefinition(&inst.template.JobDefinitionData),
			},
		}
		job.Name = inst.name
		job.TemplateName = inst.template.Name
		job.Matrix = inst.combination
		job.Depends = expandDependencies(inst.template.Depends, instancesByTemplate)
		if inst.combination != nil {
			err := TemplateJobFields(job, NewMatrixContext(inst.combination))
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "error expanding job %q", job.Name))
				continue
			}
		}
		job.PopulateDefaults(build)
		if err := job.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating job %q", job.Name))
			continue
		}
		jobs = append(jobs, job)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// expandDependencies rewrites template-level dependencies into instance-level
// dependencies. A dependency on a matrix template becomes one dependency per
// instance of that template, carrying the same artifact requirements.
func expandDependencies(depends models.JobDependencies, instancesByTemplate map[models.ResourceName][]models.ResourceName) models.JobDependencies {
	var expanded models.JobDependencies
	for _, dependency := range depends {
		instanceNames, ok := instancesByTemplate[dependency.JobName]
		if !ok {
			// Unknown job names are caught by definition validation; keep the
			// dependency as-is so the error surfaces with the original name.
			instanceNames = []models.ResourceName{dependency.JobName}
		}
		for _, instanceName := range instanceNames {
			artifacts := make([]*models.ArtifactDependency, 0, len(dependency.ArtifactDependencies))
			for _, artifact := range dependency.ArtifactDependencies {
				artifacts = append(artifacts, models.NewArtifactDependency(instanceName, artifact.GroupName))
			}
			expanded = append(expanded, models.NewJobDependency(instanceName, artifacts...))
		}
	}
	return expanded
}

// cloneJobDefinition returns a deep copy of a job definition so each matrix
// instance can be templated independently.
func cloneJobDefinition(def *models.JobDefinitionData) models.JobDefinitionData {
	clone := *def
	if def.DockerShell != nil {
		shell := *def.DockerShell
		clone.DockerShell = &shell
	}
	clone.Steps = make([]*models.Step, len(def.Steps))
	for i, step := range def.Steps {
		stepClone := &models.Step{
			StepDefinitionData: models.StepDefinitionData{
				Name:        step.Name,
				Description: step.Description,
				Commands:    append(models.Commands{}, step.Commands...),
			},
		}
		for _, dependency := range step.Depends {
			stepClone.Depends = append(stepClone.Depends, &models.StepDependency{StepName: dependency.StepName})
		}
		clone.Steps[i] = stepClone
	}
	clone.FingerprintCommands = append(models.Commands{}, def.FingerprintCommands...)
	clone.ArtifactDefinitions = make(models.ArtifactDefinitions, len(def.ArtifactDefinitions))
	for i, artifact := range def.ArtifactDefinitions {
		clone.ArtifactDefinitions[i] = &models.ArtifactDefinition{
			GroupName: artifact.GroupName,
			Paths:     append([]string{}, artifact.Paths...),
		}
	}
	clone.Environment = make(models.JobEnvVars, len(def.Environment))
	for i, env := range def.Environment {
		clone.Environment[i] = &models.EnvVar{
			Name:         env.Name,
			SecretString: env.SecretString,
		}
	}
	clone.UsesPaths = append([]string{}, def.UsesPaths...)
	clone.Manifests = append([]string{}, def.Manifests...)
	// Depends is rewritten by the caller rather than cloned.
	clone.Depends = nil
	return clone
}
