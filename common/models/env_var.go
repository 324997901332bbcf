package models

import (
	"github.com/pkg/errors"
)

// EnvVar represents a single key/value pair to export as an
// environment variable prior to executing all steps in a job.
type EnvVar struct {
	// Name of the environment variable
	Name string `json:"name"`
	SecretString
}

func (m *EnvVar) Validate() error {
	if m.Name == "" {
		return errors.New("error name must be set")
	}
	if m.Value != "" && m.ValueFromSecret != "" {
		return errors.Errorf("error variable %q must set a value or reference a secret, not both", m.Name)
	}
	return nil
}

type JobEnvVars []*EnvVar

// Merge combines the existing job environment vars with a new set from extraVars, and returns a new
// combined environment. Later values win on duplicate names.
func (m JobEnvVars) Merge(extraVars JobEnvVars) JobEnvVars {
	merged := make(JobEnvVars, 0, len(m)+len(extraVars))
	merged = append(merged, m...)
	merged = append(merged, extraVars...)
	return merged
}
