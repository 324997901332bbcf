package models

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// NodeFQN is the fully qualified name identifying a node in the build graph.
// A node is either a job ("jobname") or a step within a job ("jobname.stepname").
type NodeFQN struct {
	JobName  ResourceName `json:"job_name"`
	StepName ResourceName `json:"step_name"`
}

func NewNodeFQN(jobName ResourceName, stepName ResourceName) NodeFQN {
	return NodeFQN{JobName: jobName, StepName: stepName}
}

func NewNodeFQNForJob(jobName ResourceName) NodeFQN {
	return NodeFQN{JobName: jobName, StepName: ""}
}

func (s NodeFQN) String() string {
	if s.StepName == "" {
		return s.JobName.String()
	}
	return fmt.Sprintf("%s.%s", s.JobName, s.StepName)
}

func (s NodeFQN) Equal(that NodeFQN) bool {
	return s.JobName == that.JobName && s.StepName == that.StepName
}

func ParseNodeFQN(str string) (NodeFQN, error) {
	parts := strings.SplitN(str, ".", 2)
	fqn := NodeFQN{}
	switch len(parts) {
	case 1:
		fqn.JobName = ResourceName(parts[0])
	case 2:
		fqn.JobName = ResourceName(parts[0])
		fqn.StepName = ResourceName(parts[1])
	default:
		return NodeFQN{}, fmt.Errorf("error expected one or two parts to node FQN in the format \"job.step\" but found %q", str)
	}
	return fqn, fqn.Validate()
}

func (s NodeFQN) Validate() error {
	var result *multierror.Error
	if s.JobName == "" {
		result = multierror.Append(result, errors.New("Job name must be specified"))
	} else if !ResourceNameRegex.MatchString(s.JobName.String()) {
		result = multierror.Append(result, errors.New("Job name must only contain alphanumeric, dash or underscore characters (matching ^[a-zA-Z0-9_-]+$)"))
	}
	if s.StepName != "" && !ResourceNameRegex.MatchString(s.StepName.String()) {
		result = multierror.Append(result, errors.New("Step name must only contain alphanumeric, dash or underscore characters (matching ^[a-zA-Z0-9_-]+$)"))
	}
	return result.ErrorOrNil()
}
