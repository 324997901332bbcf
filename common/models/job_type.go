package models

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	JobTypeDocker JobType = "docker"
	JobTypeExec   JobType = "exec"
)

type JobType string

// ParseJobType parses a job type from a config value.
// An empty string maps to the exec type.
func ParseJobType(str string) (JobType, error) {
	switch strings.ToLower(str) {
	case "", string(JobTypeExec):
		return JobTypeExec, nil
	case string(JobTypeDocker):
		return JobTypeDocker, nil
	default:
		return "", errors.Errorf("error unknown job type: %s", str)
	}
}

func (m JobType) Valid() bool {
	return m == JobTypeDocker || m == JobTypeExec
}

func (m JobType) String() string {
	return string(m)
}

type JobTypes []JobType
