package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/common/models"
)

var (
	// Job dependencies are a mandatory job name, then optionally 'artifacts'
	// (for all artifacts) or an artifact group name (for a single group).
	// The shorthand syntax can be ambiguous with the full syntax; the full
	// syntax always wins and is never ambiguous.
	jobDependsOnOneArtifactFromJobRegex  = regexp.MustCompile(`(?im)^jobs\.([a-zA-Z0-9_-]+)\.artifacts\.([a-zA-Z0-9_-]+)$`)
	jobDependsOnAllArtifactsFromJobRegex = regexp.MustCompile(`(?im)^jobs\.([a-zA-Z0-9_-]+)\.artifacts$`)
	jobDependsOnJobRegex                 = regexp.MustCompile(`(?im)^jobs\.([a-zA-Z0-9_-]+)$`)
	jobDependsOnAllArtifactsShorthand    = regexp.MustCompile(`(?im)^([a-zA-Z0-9_-]+)\.artifacts$`)
	jobDependsOnJobShorthand             = regexp.MustCompile(`(?im)^([a-zA-Z0-9_-]+)$`)
)

type pipelineParserV1 struct {
	limits ParserLimits
}

func newPipelineParserV1(limits ParserLimits) *pipelineParserV1 {
	return &pipelineParserV1{
		limits: limits,
	}
}

// Parse parses a pipeline definition of this specific version.
func (s *pipelineParserV1) Parse(topLevelElement map[string]interface{}) (*models.PipelineDefinition, error) {
	definition := &models.PipelineDefinition{}

	rName, ok := topLevelElement["name"]
	if ok {
		name, ok := rName.(string)
		if !ok {
			return nil, errors.Errorf("Expected pipeline 'name' field to be a string but found: %T", rName)
		}
		definition.Name = models.ResourceName(name)
	} else {
		definition.Name = "default"
	}

	rTriggers, ok := topLevelElement["on"]
	if ok {
		triggers, err := s.parseTriggers(rTriggers)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing 'on' triggers")
		}
		definition.Triggers = *triggers
	}

	rJobs, ok := topLevelElement["jobs"]
	if !ok {
		return nil, errors.Errorf("pipeline definition does not contain a 'jobs' list")
	}
	rJobsArray, ok := rJobs.([]interface{})
	if !ok {
		return nil, errors.Errorf("jobs element must contain an array but found %T", rJobs)
	}
	if s.limits.MaxJobsPerPipeline > 0 && len(rJobsArray) > s.limits.MaxJobsPerPipeline {
		return nil, errors.Errorf("pipeline declares %d jobs which exceeds the limit of %d", len(rJobsArray), s.limits.MaxJobsPerPipeline)
	}
	jobs, err := s.parseJobs(rJobsArray)
	if err != nil {
		return nil, err
	}
	definition.Jobs = jobs

	rPublish, ok := topLevelElement["publish"]
	if ok {
		publish, err := s.parsePublish(rPublish)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing 'publish' block")
		}
		definition.Publish = publish
	}

	return definition, nil
}

func (s *pipelineParserV1) parseJobs(raw []interface{}) ([]*models.JobTemplate, error) {
	jobs := make([]*models.JobTemplate, len(raw))
	for i, obj := range raw {
		element, ok := obj.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("Top-level jobs element is not a job object: %T", obj)
		}
		job, err := s.parseJob(element)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing job at index %d", i)
		}
		jobs[i] = job
	}
	return jobs, nil
}

func (s *pipelineParserV1) parseJob(raw map[string]interface{}) (*models.JobTemplate, error) {
	job := &models.JobTemplate{}

	rName, ok := raw["name"]
	if ok {
		name, ok := rName.(string)
		if !ok {
			return nil, errors.Errorf("Expected job 'name' field to be a string but found: %T", rName)
		}
		job.Name = models.ResourceName(name)
		job.TemplateName = job.Name
	}

	rDescription, ok := raw["description"]
	if ok {
		job.Description, ok = rDescription.(string)
		if !ok {
			return nil, errors.Errorf("Expected job 'description' field to be a string but found: %T", rDescription)
		}
	}

	rDepends, ok := raw["needs"]
	if ok {
		jobDependencies, err := s.parseJobDependencies(rDepends)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'needs'")
		}
		job.Depends = jobDependencies
	}

	// If type is not set explicitly then we will try and infer it below
	rType, ok := raw["type"]
	if ok {
		typeStr, ok := rType.(string)
		if !ok {
			return nil, errors.Errorf("Expected job 'type' field to be a string but found: %T", rType)
		}
		jobType, err := models.ParseJobType(typeStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing job 'type' property: %w", err)
		}
		job.Type = jobType
	}

	rDocker, ok := raw["docker"]
	if ok {
		if job.Type.Valid() && job.Type != models.JobTypeDocker {
			return nil, fmt.Errorf("%s jobs do not support a 'docker' configuration option", job.Type)
		}
		job.Type = models.JobTypeDocker

		docker, ok := rDocker.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("Expected job 'docker' field to be an object but found: %T", rDocker)
		}

		rImage, ok := docker["image"]
		if ok {
			job.DockerImage, ok = rImage.(string)
			if !ok {
				return nil, errors.Errorf("Expected job 'docker.image' field to be a string but found: %T", rImage)
			}
		}

		rShell, ok := docker["shell"]
		if ok {
			if shell, ok := rShell.(string); ok {
				job.DockerShell = &shell
			} else {
				return nil, errors.Errorf("Expected job 'docker.shell' field to be a string but found: %T", rShell)
			}
		}

		pullStr := ""
		rPull, ok := docker["pull"]
		if ok {
			pullStr, ok = rPull.(string)
			if !ok {
				return nil, errors.Errorf("Expected job 'docker.pull' field to be a string but found: %T", rPull)
			}
		}
		pull, err := models.ParseDockerPullStrategy(pullStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing job 'docker.pull' property: %w", err)
		}
		job.DockerImagePullStrategy = pull
	}
	if !job.Type.Valid() {
		job.Type = models.JobTypeExec
	}

	rContinueOnError, ok := raw["continue_on_error"]
	if ok {
		continueOnError, err := parseBoolValue(rContinueOnError)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'continue_on_error' property")
		}
		job.ContinueOnError = continueOnError
	}

	rMatrix, ok := raw["matrix"]
	if ok {
		matrix, err := s.parseMatrix(rMatrix)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'matrix'")
		}
		job.MatrixDefinition = matrix
	}

	rEnv, ok := raw["env"]
	if ok {
		env, err := s.parseEnv(rEnv)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'env'")
		}
		job.Environment = env
	}

	rSteps, ok := raw["steps"]
	if ok {
		rStepsArray, ok := rSteps.([]interface{})
		if !ok {
			return nil, errors.Errorf("Expected steps to be an array of step objects but found %T", rSteps)
		}
		if s.limits.MaxStepsPerJob > 0 && len(rStepsArray) > s.limits.MaxStepsPerJob {
			return nil, errors.Errorf("job declares %d steps which exceeds the limit of %d", len(rStepsArray), s.limits.MaxStepsPerJob)
		}
		for i, obj := range rStepsArray {
			element, ok := obj.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("Expected steps to be an array of step objects but found %T", obj)
			}
			step, err := s.parseStep(element)
			if err != nil {
				return nil, errors.Wrapf(err, "error parsing step at index %d", i)
			}
			job.Steps = append(job.Steps, step)
		}
	}

	rFingerprintCommands, ok := raw["fingerprint"]
	if ok {
		commands, err := s.parseCommands(rFingerprintCommands)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'fingerprint'")
		}
		job.FingerprintCommands = commands
	}

	rArtifacts, ok := raw["artifacts"]
	if ok {
		artifacts, err := s.parseArtifacts(rArtifacts)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'artifacts'")
		}
		job.ArtifactDefinitions = artifacts
	}

	rUses, ok := raw["uses"]
	if ok {
		uses, err := s.parseStringArray(rUses)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'uses'")
		}
		job.UsesPaths = uses
	}

	rManifests, ok := raw["manifests"]
	if ok {
		manifests, err := s.parseStringArray(rManifests)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing job 'manifests'")
		}
		job.Manifests = manifests
	}

	return job, nil
}

func (s *pipelineParserV1) parseStep(raw map[string]interface{}) (*models.Step, error) {
	step := &models.Step{}

	rName, ok := raw["name"]
	if ok {
		name, ok := rName.(string)
		if !ok {
			return nil, errors.Errorf("Expected step 'name' field to be a string but found: %T", rName)
		}
		step.Name = models.ResourceName(name)
	}

	rDescription, ok := raw["description"]
	if ok {
		step.Description, ok = rDescription.(string)
		if !ok {
			return nil, errors.Errorf("Expected step 'description' field to be a string but found: %T", rDescription)
		}
	}

	rCommands, ok := raw["commands"]
	if ok {
		commands, err := s.parseCommands(rCommands)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing step 'commands'")
		}
		step.Commands = commands
	}

	rDepends, ok := raw["depends"]
	if ok {
		depends, err := s.parseStringArray(rDepends)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing step 'depends'")
		}
		for _, name := range depends {
			step.Depends = append(step.Depends, &models.StepDependency{StepName: models.ResourceName(name)})
		}
	}

	return step, nil
}

func (s *pipelineParserV1) parseCommands(raw interface{}) (models.Commands, error) {
	switch value := raw.(type) {
	case string:
		return models.Commands{models.Command(value)}, nil
	case []interface{}:
		commands := make(models.Commands, 0, len(value))
		for _, obj := range value {
			command, ok := obj.(string)
			if !ok {
				return nil, errors.Errorf("Expected command to be a string but found: %T", obj)
			}
			commands = append(commands, models.Command(command))
		}
		return commands, nil
	default:
		return nil, errors.Errorf("Expected a command string or an array of command strings but found: %T", raw)
	}
}

// parseJobDependencies parses the 'needs' field of a job. Each entry is either
// the shorthand syntax ("jobname" or "jobname.artifacts") or the full syntax
// ("jobs.jobname", "jobs.jobname.artifacts", "jobs.jobname.artifacts.group").
func (s *pipelineParserV1) parseJobDependencies(raw interface{}) (models.JobDependencies, error) {
	var entries []string
	switch value := raw.(type) {
	case string:
		entries = []string{value}
	case []interface{}:
		for _, obj := range value {
			entry, ok := obj.(string)
			if !ok {
				return nil, errors.Errorf("Expected dependency to be a string but found: %T", obj)
			}
			entries = append(entries, entry)
		}
	default:
		return nil, errors.Errorf("Expected a dependency string or an array of dependency strings but found: %T", raw)
	}

	dependenciesByName := make(map[models.ResourceName]*models.JobDependency)
	var order []models.ResourceName
	for _, entry := range entries {
		jobName, artifact, err := parseJobDependency(entry)
		if err != nil {
			return nil, err
		}
		dependency, ok := dependenciesByName[jobName]
		if !ok {
			dependency = models.NewJobDependency(jobName)
			dependenciesByName[jobName] = dependency
			order = append(order, jobName)
		}
		if artifact != nil {
			dependency.ArtifactDependencies = append(dependency.ArtifactDependencies, artifact)
		}
	}
	dependencies := make(models.JobDependencies, 0, len(order))
	for _, name := range order {
		dependencies = append(dependencies, dependenciesByName[name])
	}
	return dependencies, nil
}

// parseJobDependency parses a single dependency entry, returning the
// referenced job name and an artifact dependency if one was requested.
func parseJobDependency(entry string) (models.ResourceName, *models.ArtifactDependency, error) {
	if match := jobDependsOnOneArtifactFromJobRegex.FindStringSubmatch(entry); match != nil {
		jobName := models.ResourceName(match[1])
		return jobName, models.NewArtifactDependency(jobName, models.ResourceName(match[2])), nil
	}
	if match := jobDependsOnAllArtifactsFromJobRegex.FindStringSubmatch(entry); match != nil {
		jobName := models.ResourceName(match[1])
		return jobName, models.NewArtifactDependency(jobName, ""), nil
	}
	if match := jobDependsOnJobRegex.FindStringSubmatch(entry); match != nil {
		return models.ResourceName(match[1]), nil, nil
	}
	if match := jobDependsOnAllArtifactsShorthand.FindStringSubmatch(entry); match != nil {
		jobName := models.ResourceName(match[1])
		return jobName, models.NewArtifactDependency(jobName, ""), nil
	}
	if match := jobDependsOnJobShorthand.FindStringSubmatch(entry); match != nil {
		return models.ResourceName(match[1]), nil, nil
	}
	return "", nil, errors.Errorf("Unable to parse dependency %q", entry)
}

func (s *pipelineParserV1) parseMatrix(raw interface{}) (models.MatrixDefinition, error) {
	element, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("Expected matrix to be an object but found: %T", raw)
	}
	matrix := make(models.MatrixDefinition, len(element))
	for key, rValues := range element {
		values, err := s.parseStringArray(rValues)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing matrix dimension %q", key)
		}
		matrix[key] = values
	}
	return matrix, nil
}

// parseEnv parses the 'env' field of a job: a map of variable names to either
// a literal value or an object of the form {"from_secret": "SECRET_NAME"}.
func (s *pipelineParserV1) parseEnv(raw interface{}) (models.JobEnvVars, error) {
	element, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("Expected env to be an object but found: %T", raw)
	}
	names := make([]string, 0, len(element))
	for name := range element {
		names = append(names, name)
	}
	sort.Strings(names)
	env := make(models.JobEnvVars, 0, len(names))
	for _, name := range names {
		switch value := element[name].(type) {
		case string:
			env = append(env, &models.EnvVar{Name: name, SecretString: models.SecretString{Value: value}})
		case map[string]interface{}:
			rSecret, ok := value["from_secret"]
			if !ok {
				return nil, errors.Errorf("Expected env variable %q object to contain a 'from_secret' field", name)
			}
			secret, ok := rSecret.(string)
			if !ok {
				return nil, errors.Errorf("Expected env variable %q 'from_secret' field to be a string but found: %T", name, rSecret)
			}
			env = append(env, &models.EnvVar{Name: name, SecretString: models.SecretString{ValueFromSecret: secret}})
		default:
			return nil, errors.Errorf("Expected env variable %q to be a string or an object but found: %T", name, element[name])
		}
	}
	return env, nil
}

func (s *pipelineParserV1) parseArtifacts(raw interface{}) (models.ArtifactDefinitions, error) {
	value, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Errorf("Expected artifacts to be an array of artifact objects but found %T", raw)
	}
	artifacts := make(models.ArtifactDefinitions, 0, len(value))
	for i, obj := range value {
		element, ok := obj.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("Expected artifacts to be an array of artifact objects but found %T", obj)
		}
		artifact := &models.ArtifactDefinition{}
		rName, ok := element["name"]
		if ok {
			name, ok := rName.(string)
			if !ok {
				return nil, errors.Errorf("Expected artifact 'name' field to be a string but found: %T", rName)
			}
			artifact.GroupName = models.ResourceName(name)
		}
		rPaths, ok := element["paths"]
		if ok {
			paths, err := s.parseStringArray(rPaths)
			if err != nil {
				return nil, errors.Wrapf(err, "error parsing artifact paths (index %d)", i)
			}
			artifact.Paths = paths
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (s *pipelineParserV1) parsePublish(raw interface{}) (*models.PublishDefinition, error) {
	element, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("Expected publish to be an object but found: %T", raw)
	}
	publish := &models.PublishDefinition{}

	rIndexURL, ok := element["index_url"]
	if ok {
		publish.IndexURL, ok = rIndexURL.(string)
		if !ok {
			return nil, errors.Errorf("Expected publish 'index_url' field to be a string but found: %T", rIndexURL)
		}
	}

	rArtifactGroup, ok := element["artifacts"]
	if ok {
		group, ok := rArtifactGroup.(string)
		if !ok {
			return nil, errors.Errorf("Expected publish 'artifacts' field to be a string but found: %T", rArtifactGroup)
		}
		publish.ArtifactGroup = models.ResourceName(group)
	}

	rTokenSecret, ok := element["token_secret"]
	if ok {
		publish.TokenSecret, ok = rTokenSecret.(string)
		if !ok {
			return nil, errors.Errorf("Expected publish 'token_secret' field to be a string but found: %T", rTokenSecret)
		}
	}

	rNeeds, ok := element["needs"]
	if ok {
		needs, err := s.parseStringArray(rNeeds)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing publish 'needs'")
		}
		for _, name := range needs {
			publish.Needs = append(publish.Needs, models.ResourceName(name))
		}
	}

	return publish, nil
}

func (s *pipelineParserV1) parseTriggers(raw interface{}) (*models.TriggerDefinition, error) {
	element, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("Expected 'on' to be an object but found: %T", raw)
	}
	triggers := &models.TriggerDefinition{}
	for event, rFilter := range element {
		filter, err := s.parseTriggerFilter(rFilter)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing trigger %q", event)
		}
		switch event {
		case string(models.EventPush):
			triggers.Push = filter
		case string(models.EventPullRequest):
			triggers.PullRequest = filter
		default:
			return nil, errors.Errorf("Unknown trigger event: %s", event)
		}
	}
	return triggers, nil
}

func (s *pipelineParserV1) parseTriggerFilter(raw interface{}) (*models.TriggerFilter, error) {
	if raw == nil {
		return &models.TriggerFilter{}, nil
	}
	element, ok := raw.(map[string]interface{})
	if !ok {
		// YAML normalization renders a bare "push:" key as the string "<nil>"
		if str, isStr := raw.(string); isStr && str == "<nil>" {
			return &models.TriggerFilter{}, nil
		}
		return nil, errors.Errorf("Expected trigger filter to be an object but found: %T", raw)
	}
	filter := &models.TriggerFilter{}
	rBranches, ok := element["branches"]
	if ok {
		branches, err := s.parseStringArray(rBranches)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing trigger 'branches'")
		}
		filter.Branches = branches
	}
	return filter, nil
}

func (s *pipelineParserV1) parseStringArray(raw interface{}) ([]string, error) {
	switch value := raw.(type) {
	case string:
		return []string{value}, nil
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, obj := range value {
			str, ok := obj.(string)
			if !ok {
				return nil, errors.Errorf("Expected a string but found: %T", obj)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, errors.Errorf("Expected a string or an array of strings but found: %T", raw)
	}
}

// parseBoolValue handles booleans arriving as real booleans (JSON) or as the
// strings "true"/"false" (normalized YAML).
func parseBoolValue(raw interface{}) (bool, error) {
	switch value := raw.(type) {
	case bool:
		return value, nil
	case string:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, errors.Errorf("Expected a boolean but found %q", value)
		}
		return b, nil
	default:
		return false, errors.Errorf("Expected a boolean but found: %T", raw)
	}
}
