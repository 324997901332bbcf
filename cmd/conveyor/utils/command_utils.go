package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/dag"
	"github.com/conveyorci/conveyor/engine/runtime/docker"
	"github.com/conveyorci/conveyor/parser"
)

// LoadDefinition discovers the pipeline config file in the root of the given
// repository directory and parses it.
func LoadDefinition(repoDir string) (*models.PipelineDefinition, error) {
	path, configType, err := parser.Discover(repoDir)
	if err != nil {
		return nil, err
	}
	if configType == models.ConfigTypeNoConfig {
		return nil, errors.Errorf("error no pipeline configuration file was found in %q", repoDir)
	}
	definition, err := parser.NewPipelineParser(parser.ParserLimits{}).ParseFile(path)
	if err != nil {
		return nil, err
	}
	return definition, nil
}

// ParseNodeFQNs parses each of the supplied arguments as a name identifying a
// node in the build graph, in the format "job" or "job.step".
func ParseNodeFQNs(args []string) ([]models.NodeFQN, error) {
	var fqns []models.NodeFQN
	for _, str := range args {
		fqn, err := models.ParseNodeFQN(str)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing %q", str)
		}
		fqns = append(fqns, fqn)
	}
	// Sort so job selection does not depend on argument order
	dag.SortFQNs(fqns)
	return fqns, nil
}

func HomeifyPath(path string) (string, error) {
	var prefix string
	switch {
	case strings.HasPrefix(path, "~/"):
		prefix = "~/"
	case strings.HasPrefix(path, "$HOME"):
		prefix = "$HOME"
	default:
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error locating user home directory: %w", err)
	}
	return filepath.Join(home, path[len(prefix):]), nil
}

// CleanUpOldContainers removes docker containers left over from previous runs.
// Errors are logged and ignored; a machine without docker must still be able
// to run exec jobs.
func CleanUpOldContainers(logFactory logger.LogFactory) {
	log := logFactory("Cleanup")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	dockerClient, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		log.Warnf("Unable to create docker client to clean up old containers; Use --skip-cleanup to skip this check: %s", err)
		return
	}
	defer dockerClient.Close()

	err = docker.NewContainerManager(dockerClient, logFactory).CleanUpContainers(ctx)
	if err != nil {
		log.Warnf("Unable to clean up old containers; Use --skip-cleanup to skip this check: %s", err)
	}
}
