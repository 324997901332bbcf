package models

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	DockerPullStrategyDefault     DockerPullStrategy = "default"
	DockerPullStrategyNever       DockerPullStrategy = "never"
	DockerPullStrategyAlways      DockerPullStrategy = "always"
	DockerPullStrategyIfNotExists DockerPullStrategy = "if-not-exists"
)

type DockerPullStrategy string

// ParseDockerPullStrategy parses a pull strategy from a config value.
// An empty string maps to the default strategy.
func ParseDockerPullStrategy(str string) (DockerPullStrategy, error) {
	switch strings.ToLower(str) {
	case "", string(DockerPullStrategyDefault):
		return DockerPullStrategyDefault, nil
	case string(DockerPullStrategyNever):
		return DockerPullStrategyNever, nil
	case string(DockerPullStrategyAlways):
		return DockerPullStrategyAlways, nil
	case string(DockerPullStrategyIfNotExists):
		return DockerPullStrategyIfNotExists, nil
	default:
		return "", errors.Errorf("error unknown Docker pull strategy: %s", str)
	}
}

func (m DockerPullStrategy) Valid() bool {
	return m == DockerPullStrategyDefault ||
		m == DockerPullStrategyNever ||
		m == DockerPullStrategyAlways ||
		m == DockerPullStrategyIfNotExists
}

func (m DockerPullStrategy) String() string {
	return string(m)
}
