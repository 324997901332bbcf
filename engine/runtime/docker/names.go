package docker

import (
	"fmt"
	"strings"
)

const containerNamePrefix = "conveyor-job-"

func makeContainerNameForJob(config *Config) string {
	return fmt.Sprintf("%s%s", containerNamePrefix, config.RuntimeID)
}

// isContainerNameForJob returns true if the given container name was created
// by the engine, so cleanup knows which containers are safe to remove.
func isContainerNameForJob(name string) bool {
	return strings.HasPrefix(name, containerNamePrefix)
}
