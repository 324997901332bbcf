package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	rt "github.com/conveyorci/conveyor/engine/runtime"
)

// BasicAuth defines what is sent to Docker when we authenticate for an image pull.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ImagePullConfig struct {
	ImageURI     string
	AuthOrNil    *BasicAuth
	PullStrategy models.DockerPullStrategy
}

type ContainerConfig struct {
	Name       string
	ImageURI   string
	Entrypoint []string
	Command    []string
	WorkingDir string
	Env        []string
	Binds      []string
	Stdout     io.Writer
	Stderr     io.Writer
}

type ExecConfig struct {
	ContainerID string
	Command     []string
	WorkingDir  string
	Env         []string
	Stdout      io.Writer
	Stderr      io.Writer
}

type ContainerManager struct {
	client *client.Client
	log    logger.Log
}

func NewContainerManager(client *client.Client, logFactory logger.LogFactory) *ContainerManager {
	return &ContainerManager{client: client, log: logFactory("DockerContainerManager")}
}

// PullDockerImage pulls a Docker image from a remote registry, honoring the
// configured pull strategy.
func (r *ContainerManager) PullDockerImage(ctx context.Context, config *ImagePullConfig) error {
	image := parseDockerImageURI(config.ImageURI)
	fil := filters.NewArgs()
	fil.Add("reference", image.Reference())
	list, err := r.client.ImageList(ctx, types.ImageListOptions{
		All:     false,
		Filters: fil,
	})
	if err != nil {
		return fmt.Errorf("error listing images: %w", err)
	}

	alreadyExists := len(list) > 0
	if config.PullStrategy == models.DockerPullStrategyNever {
		r.log.Debugf("Docker pull strategy is %q; %q will not be pulled",
			models.DockerPullStrategyNever, image.FQN())
		return nil
	}
	if config.PullStrategy == models.DockerPullStrategyIfNotExists && alreadyExists {
		r.log.Debugf("Docker pull strategy is %q and image exists in cache; %q will not be pulled",
			models.DockerPullStrategyIfNotExists, image.FQN())
		return nil
	}
	if alreadyExists && !image.IsLatest() && config.PullStrategy == models.DockerPullStrategyDefault {
		r.log.Debugf("Docker pull strategy is %q, image exists in cache and is not latest; %q will not be pulled",
			models.DockerPullStrategyDefault, image.FQN())
		return nil
	}

	r.log.Infof("Pulling image: %s", image)

	imagePullOptions := types.ImagePullOptions{}
	if config.AuthOrNil != nil {
		jsonBytes, err := json.Marshal(config.AuthOrNil)
		if err != nil {
			return fmt.Errorf("error encoding docker auth: %w", err)
		}
		imagePullOptions.RegistryAuth = base64.StdEncoding.EncodeToString(jsonBytes)
	}

	stream, err := r.client.ImagePull(ctx, image.FQN(), imagePullOptions)
	if err != nil {
		return errors.Wrap(err, "error pulling image")
	}
	defer stream.Close()

	res, err := r.client.ImageLoad(ctx, stream, false)
	if err != nil {
		return errors.Wrap(err, "error loading image")
	}
	defer res.Body.Close()
	return nil
}

// GetDockerImageOS returns the type of underlying guest OS the specified Docker image
// is made from. The docker image must have been pulled first.
func (r *ContainerManager) GetDockerImageOS(ctx context.Context, imageURI string) (rt.OS, error) {
	image := parseDockerImageURI(imageURI)
	inspect, _, err := r.client.ImageInspectWithRaw(ctx, image.String())
	if err != nil {
		return "", fmt.Errorf("error inspecting image %q: %w", image, err)
	}
	return rt.OS(inspect.Os), nil
}

// StartContainer starts a new container in the background and returns its unique ID.
// Call StopContainer to stop it and free up resources.
func (r *ContainerManager) StartContainer(ctx context.Context, config ContainerConfig) (string, error) {
	image := parseDockerImageURI(config.ImageURI)
	cConfig := &container.Config{
		Image:      image.FQN(),
		Entrypoint: config.Entrypoint,
		Cmd:        config.Command,
		WorkingDir: config.WorkingDir,
		Env:        config.Env,
	}
	hConfig := &container.HostConfig{
		AutoRemove: false,
		Binds:      config.Binds,
	}
	nConfig := &network.NetworkingConfig{}
	res, err := r.client.ContainerCreate(ctx, cConfig, hConfig, nConfig, nil, config.Name)
	if err != nil {
		return "", errors.Wrap(err, "error creating container")
	}
	err = r.client.ContainerStart(ctx, res.ID, types.ContainerStartOptions{})
	if err != nil {
		return "", errors.Wrap(err, "error starting container")
	}
	if config.Stdout != nil || config.Stderr != nil {
		opts := types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Follow: true, Timestamps: false}
		reader, err := r.client.ContainerLogs(ctx, res.ID, opts)
		if err != nil {
			return "", fmt.Errorf("error connecting to container log stream: %w", err)
		}
		r.pipeContainerLogAsync(ctx, reader, config.Stdout, config.Stderr)
	}
	return res.ID, nil
}

// StopContainer stops and removes a previously started docker container.
func (r *ContainerManager) StopContainer(ctx context.Context, containerID string) error {
	var results *multierror.Error
	err := r.client.ContainerKill(ctx, containerID, "kill")
	if err != nil && !errdefs.IsNotFound(err) {
		results = multierror.Append(results, fmt.Errorf("error killing container %q: %w", containerID, err))
	}
	err = r.client.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{RemoveVolumes: true, Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		results = multierror.Append(results, fmt.Errorf("error removing container %q: %w", containerID, err))
	}
	return results.ErrorOrNil()
}

// CleanUpContainers looks for containers left behind by previous runs and removes them.
func (r *ContainerManager) CleanUpContainers(ctx context.Context) error {
	r.log.Infof("Cleaning up docker containers...")

	containers, err := r.client.ContainerList(ctx, types.ContainerListOptions{
		All:     true, // include containers that are not currently running
		Limit:   0,
		Filters: filters.Args{},
	})
	if err != nil {
		return fmt.Errorf("error listing docker containers: %w", err)
	}

	var results *multierror.Error
	for _, c := range containers {
		if containerIsOurs(c) {
			r.log.Infof("Deleting container '%s' with ID '%s' during cleanup", c.Names[0], c.ID)
			err := r.StopContainer(ctx, c.ID)
			if err != nil {
				results = multierror.Append(results, err)
			}
		}
	}
	return results.ErrorOrNil()
}

// Execute a command inside the container.
// StartContainer must have previously been called.
func (r *ContainerManager) Execute(ctx context.Context, config ExecConfig) error {
	eConfig := types.ExecConfig{
		Cmd:          config.Command,
		Env:          config.Env,
		WorkingDir:   config.WorkingDir,
		Detach:       false,
		AttachStderr: true,
		AttachStdout: true,
	}
	createRes, err := r.client.ContainerExecCreate(ctx, config.ContainerID, eConfig)
	if err != nil {
		return fmt.Errorf("error creating script exec: %w", err)
	}
	resp, err := r.client.ContainerExecAttach(ctx, createRes.ID, types.ExecStartCheck{})
	if err != nil {
		return fmt.Errorf("error attaching script exec: %w", err)
	}
	defer resp.Close()
	if config.Stdout != nil || config.Stderr != nil {
		err = r.pipeContainerLog(ctx, resp.Reader, config.Stdout, config.Stderr)
		if err != nil {
			return fmt.Errorf("error piping container log: %w", err)
		}
	}
	var exitCode int
	for {
		res, err := r.client.ContainerExecInspect(ctx, createRes.ID)
		if err != nil {
			return fmt.Errorf("error inspecting script exec: %w", err)
		}
		if res.Running {
			time.Sleep(time.Second)
			continue
		}
		exitCode = res.ExitCode
		break
	}
	if exitCode != 0 {
		return fmt.Errorf("error script exited with non-zero exit code: %d", exitCode)
	}
	return nil
}

func (r *ContainerManager) pipeContainerLog(ctx context.Context, from io.Reader, stdout io.Writer, stderr io.Writer) error {
	_, err := stdcopy.StdCopy(stdout, stderr, from)
	if err != nil && err != io.EOF && err != io.ErrClosedPipe {
		return err
	}
	return nil
}

func (r *ContainerManager) pipeContainerLogAsync(ctx context.Context, from io.Reader, stdout io.Writer, stderr io.Writer) <-chan struct{} {
	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		err := r.pipeContainerLog(ctx, from, stdout, stderr)
		if err != nil {
			r.log.Warnf("Ignoring error piping container logs; Logs may be incomplete: %s", err)
		}
	}()
	return doneC
}

// containerIsOurs returns true if the specified container was created by the
// engine, so cleanup leaves other containers alone.
func containerIsOurs(c types.Container) bool {
	for _, name := range c.Names {
		// Docker container names come back with a slash on the front
		if isContainerNameForJob(strings.TrimPrefix(name, "/")) {
			return true
		}
	}
	return false
}
