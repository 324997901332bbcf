package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/structs"

	"github.com/conveyorci/conveyor/common/models"
)

type jobTemplateData struct {
	Name        string `structs:"name"`
	Fingerprint string `structs:"fingerprint"`
}

// fieldTemplateRegex matches our standard template syntax of "${{ path.to.value }}"
var fieldTemplateRegex = regexp.MustCompile("\\$\\{\\{ *(.+?) *}}")

// NewMatrixContext returns a template context exposing the values of a matrix
// combination under the top-level "matrix" key, e.g. "${{ matrix.python }}".
func NewMatrixContext(combination models.MatrixCombination) map[string]interface{} {
	matrixContext := make(map[string]interface{}, len(combination))
	for key, value := range combination {
		matrixContext[key] = value
	}
	return map[string]interface{}{"matrix": matrixContext}
}

// NewJobsContext returns a template context exposing per-job data under the
// top-level "jobs" key, e.g. "${{ jobs.build.fingerprint }}". Only jobs that
// have finished have a fingerprint available.
func NewJobsContext(jobs []*models.Job) map[string]interface{} {
	jobContext := make(map[string]interface{}, len(jobs))
	for _, job := range jobs {
		jobData := &jobTemplateData{
			Name:        job.Name.String(),
			Fingerprint: job.Fingerprint,
		}
		jobContext[job.Name.String()] = structs.Map(jobData)
	}
	return map[string]interface{}{"jobs": jobContext}
}

// TemplateJobFields applies template substitution to every supported field of
// the job in place: commands, fingerprint commands, docker image, environment
// values, artifact paths, uses paths and manifest paths.
func TemplateJobFields(job *models.Job, templateContext map[string]interface{}) error {
	v, err := TemplateField(job.DockerImage, templateContext)
	if err != nil {
		return fmt.Errorf("error templating docker image field: %w", err)
	}
	job.DockerImage = v
	for _, step := range job.Steps {
		for i, command := range step.Commands {
			v, err := TemplateField(string(command), templateContext)
			if err != nil {
				return fmt.Errorf("error templating command in step %q: %w", step.Name, err)
			}
			step.Commands[i] = models.Command(v)
		}
	}
	for i, command := range job.FingerprintCommands {
		v, err := TemplateField(string(command), templateContext)
		if err != nil {
			return fmt.Errorf("error templating fingerprint command: %w", err)
		}
		job.FingerprintCommands[i] = models.Command(v)
	}
	for _, env := range job.Environment {
		v, err := TemplateField(env.Value, templateContext)
		if err != nil {
			return fmt.Errorf("error templating environment variable %q: %w", env.Name, err)
		}
		env.Value = v
	}
	for _, artifact := range job.ArtifactDefinitions {
		for i, path := range artifact.Paths {
			v, err := TemplateField(path, templateContext)
			if err != nil {
				return fmt.Errorf("error templating artifact path in group %q: %w", artifact.GroupName, err)
			}
			artifact.Paths[i] = v
		}
	}
	for i, path := range job.UsesPaths {
		v, err := TemplateField(path, templateContext)
		if err != nil {
			return fmt.Errorf("error templating uses path: %w", err)
		}
		job.UsesPaths[i] = v
	}
	for i, path := range job.Manifests {
		v, err := TemplateField(path, templateContext)
		if err != nil {
			return fmt.Errorf("error templating manifest path: %w", err)
		}
		job.Manifests[i] = v
	}
	return nil
}

// TemplateField substitutes all templates in the specified field value (if any)
// with corresponding variables from the template context.
func TemplateField(value string, templateContext map[string]interface{}) (string, error) {
	matches := fieldTemplateRegex.FindAllStringSubmatch(value, 256) // Some upper bound we expect to never be hit
	if len(matches) == 0 {
		return value, nil
	}
	for _, match := range matches {
		if len(match) != 2 {
			return "", fmt.Errorf("error unexpected regex result (!=2)")
		}
		outer := match[0]                  // e.g. "${{ foo.bar }}"
		inner := match[1]                  // e.g. "foo.bar"
		parts := strings.Split(inner, ".") // e.g. ["foo", "bar"]
		for _, part := range parts {
			// Each part of the path must be a valid name
			if !models.ResourceNameRegex.Match([]byte(part)) {
				return "", fmt.Errorf("error invalid path part: %s", part)
			}
		}
		// Templates rooted at a key this context doesn't provide are left in
		// place to be substituted by a later phase (e.g. matrix values are
		// substituted at expansion time, job fingerprints at run time).
		if _, ok := templateContext[parts[0]]; !ok {
			continue
		}
		var current interface{} = templateContext
		for _, part := range parts {
			currentM, ok := current.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("error unknown %q", outer)
			}
			next, ok := currentM[part]
			if !ok {
				return "", fmt.Errorf("error resolving %q", outer)
			}
			current = next
		}
		switch current.(type) {
		case string, int, int32, int64, float32, float64, bool:
		default:
			return "", fmt.Errorf("error only primitive types can be templated")
		}
		value = strings.Replace(value, outer, fmt.Sprintf("%v", current), 1)
	}
	return value, nil
}
