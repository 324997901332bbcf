package models

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const StepResourceKind ResourceKind = "step"

type StepID struct {
	ResourceID
}

func NewStepID() StepID {
	return StepID{ResourceID: NewResourceID(StepResourceKind)}
}

// Command is a single shell command to execute as part of a step.
type Command string

func (m Command) String() string {
	return string(m)
}

type Commands []Command

// Strings returns the commands as plain strings.
func (m Commands) Strings() []string {
	out := make([]string, len(m))
	for i, command := range m {
		out[i] = string(command)
	}
	return out
}

// StepDependency declares that one step depends on the successful
// execution of another step within the same job.
type StepDependency struct {
	StepName ResourceName `json:"step_name"`
}

type StepDependencies []*StepDependency

// Step represents a single build step executed as part of a pipeline job.
type Step struct {
	ID StepID `json:"id"`
	StepDefinitionData
	// Status reflects where the step is in processing.
	Status Status `json:"status"`
	// Error is set if the step finished with an error (or nil if the step succeeded).
	Error *Error `json:"error"`
	// Timings records the times at which the step transitioned between statuses.
	Timings Timings `json:"timings"`
}

type StepDefinitionData struct {
	// Name of the step.
	Name ResourceName `json:"name"`
	// Description is an optional human-readable description of the step.
	Description string `json:"description"`
	// Commands is a list of at least one command to execute during the step.
	Commands Commands `json:"commands"`
	// Depends describes the dependencies this step has on other steps within the parent job.
	Depends StepDependencies `json:"depends"`
}

func (m *Step) Validate() error {
	var result *multierror.Error
	if err := m.Name.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if len(m.Commands) == 0 {
		result = multierror.Append(result, errors.New("error step must declare at least one command"))
	}
	dependenciesByName := make(map[ResourceName]*StepDependency, len(m.Depends))
	for i, dependency := range m.Depends {
		if err := dependency.StepName.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error validating dependency (index %d)", i))
		}
		if _, ok := dependenciesByName[dependency.StepName]; ok {
			result = multierror.Append(result, fmt.Errorf("Found duplicate step dependency %q; Dependencies must be unique", dependency.StepName))
		}
		dependenciesByName[dependency.StepName] = dependency
	}
	return result.ErrorOrNil()
}
