// Package docker provides a runtime that executes job steps inside a Docker
// container kept alive for the duration of the job.
package docker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/docker/docker/client"
	"github.com/hashicorp/go-multierror"

	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	rt "github.com/conveyorci/conveyor/engine/runtime"
)

type Config struct {
	rt.Config
	ImageURI     string
	AuthOrNil    *BasicAuth
	PullStrategy models.DockerPullStrategy
	ShellOrNil   *string
	// Stdout receives output from the job container's PID 0, if set.
	Stdout io.Writer
	// Stderr receives error output from the job container's PID 0, if set.
	Stderr io.Writer
}

type runtimeImageConfig struct {
	OS rt.OS
}

type runtimeContainerConfig struct {
	Name                string
	GuestShellPath      []string
	GuestWorkspaceDir   string
	GuestStagingDir     string
	GuestPID0ScriptPath string
	Binds               []string
}

// Runtime executes jobs inside a Docker container.
type Runtime struct {
	config           Config
	containerManager *ContainerManager
	log              logger.Log
	state            struct {
		started         bool
		containerID     string
		imageConfig     runtimeImageConfig
		containerConfig runtimeContainerConfig
	}
}

func NewRuntime(config Config, client *client.Client, logFactory logger.LogFactory) *Runtime {
	return &Runtime{
		config:           config,
		containerManager: NewContainerManager(client, logFactory),
		log:              logFactory("DockerRuntime"),
	}
}

// Start initializes the runtime and prepares it to have commands Exec'd inside it.
func (r *Runtime) Start(ctx context.Context) error {
	if r.state.started {
		return fmt.Errorf("error starting docker runtime: already started")
	}
	r.state.started = true
	pConfig := &ImagePullConfig{
		ImageURI:     r.config.ImageURI,
		AuthOrNil:    r.config.AuthOrNil,
		PullStrategy: r.config.PullStrategy,
	}
	err := r.containerManager.PullDockerImage(ctx, pConfig)
	if err != nil {
		return fmt.Errorf("error pulling Docker image: %w", err)
	}
	imageOS, err := r.containerManager.GetDockerImageOS(ctx, r.config.ImageURI)
	if err != nil {
		return fmt.Errorf("error discovering image OS: %w", err)
	}
	r.state.imageConfig.OS = imageOS
	config, err := r.prepareJobContainerConfig(ctx)
	if err != nil {
		return err
	}
	r.state.containerConfig = *config
	r.log.Debugf("Guest OS: %s", r.state.imageConfig.OS)
	r.log.Debugf("Guest shell: %#v", config.GuestShellPath)
	r.log.Debugf("Guest working dir: %s", config.GuestWorkspaceDir)
	r.log.Debugf("Guest staging dir: %s", config.GuestStagingDir)
	r.log.Debugf("Binds: %#v", config.Binds)
	cConfig := ContainerConfig{
		Name:       makeContainerNameForJob(&r.config),
		ImageURI:   r.config.ImageURI,
		Entrypoint: config.GuestShellPath,
		Command:    []string{config.GuestPID0ScriptPath},
		WorkingDir: config.GuestWorkspaceDir,
		Binds:      config.Binds,
		Stdout:     r.config.Stdout,
		Stderr:     r.config.Stderr,
	}
	containerID, err := r.containerManager.StartContainer(ctx, cConfig)
	if err != nil {
		return err
	}
	r.state.containerID = containerID
	return nil
}

// Stop tears down the runtime.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.state.started {
		return fmt.Errorf("error stopping docker runtime: not started")
	}
	var results *multierror.Error
	if r.state.containerID != "" {
		err := r.containerManager.StopContainer(ctx, r.state.containerID)
		if err != nil {
			results = multierror.Append(results, fmt.Errorf("error stopping job container: %w", err))
		}
	}
	r.state.started = false
	return results.ErrorOrNil()
}

// Exec executes a command inside the runtime.
// Start must have been called before calling Exec.
func (r *Runtime) Exec(ctx context.Context, config rt.ExecConfig) error {
	guestShell, err := rt.ShellForOS(r.state.imageConfig.OS)
	if err != nil {
		return err
	}
	_, err = rt.WriteScript(r.config.StagingDir, config.Name, guestShell, config.Commands)
	if err != nil {
		return err
	}
	shell := ""
	if r.config.ShellOrNil != nil {
		shell = *r.config.ShellOrNil
	} else {
		shell, err = rt.ShellPath(guestShell)
		if err != nil {
			return err
		}
	}
	containerScriptPath, _, err := r.mapHostPath(rt.GetHostOS(), filepath.Join(r.config.StagingDir, config.Name))
	if err != nil {
		return err
	}
	execConfig := ExecConfig{
		ContainerID: r.state.containerID,
		Command:     []string{shell, containerScriptPath},
		WorkingDir:  r.state.containerConfig.GuestWorkspaceDir,
		Env:         r.fixEnv(config.Env),
		Stdout:      config.Stdout,
		Stderr:      config.Stderr,
	}
	return r.containerManager.Execute(ctx, execConfig)
}

// CleanUp removes any resources left over from previous runs that may not
// have finished cleanly (e.g. old containers). Assumes no commands are
// currently running.
func (r *Runtime) CleanUp(ctx context.Context) error {
	if r.state.started {
		return fmt.Errorf("error performing docker runtime cleanup: runtime is currently started, must be stopped in order to clean up")
	}
	return r.containerManager.CleanUpContainers(ctx)
}

func (r *Runtime) prepareJobContainerConfig(ctx context.Context) (*runtimeContainerConfig, error) {
	switch r.state.imageConfig.OS {
	case rt.OSLinux:
		return r.prepareLinuxContainerConfig(ctx)
	case rt.OSWindows:
		return r.prepareWindowsContainerConfig(ctx)
	default:
		return nil, fmt.Errorf("error unsupported image OS: %v", r.state.imageConfig.OS)
	}
}

func (r *Runtime) prepareWindowsContainerConfig(ctx context.Context) (*runtimeContainerConfig, error) {
	scriptName := "pid0"
	_, err := rt.WriteScript(r.config.StagingDir, scriptName, rt.ShellCMD, []string{"timeout /t -1"})
	if err != nil {
		return nil, err
	}
	shellPath, err := rt.ShellPath(rt.ShellCMD)
	if err != nil {
		return nil, err
	}
	guestWorkingDir := "C:\\conveyor\\workspace"
	guestStagingDir := "C:\\conveyor\\staging"
	guestKeepAliveScriptPath := fmt.Sprintf("C:\\conveyor\\staging\\%s", scriptName)
	binds := []string{
		fmt.Sprintf("%s:%s:rw", r.config.WorkspaceDir, guestWorkingDir),
		fmt.Sprintf("%s:%s:ro", r.config.StagingDir, guestStagingDir),
	}
	return &runtimeContainerConfig{
		Name:                r.config.RuntimeID,
		Binds:               binds,
		GuestShellPath:      []string{shellPath},
		GuestWorkspaceDir:   guestWorkingDir,
		GuestStagingDir:     guestStagingDir,
		GuestPID0ScriptPath: guestKeepAliveScriptPath,
	}, nil
}

func (r *Runtime) prepareLinuxContainerConfig(ctx context.Context) (*runtimeContainerConfig, error) {
	scriptName := "pid0"
	_, err := rt.WriteScript(r.config.StagingDir, scriptName, rt.ShellSH, []string{"while :; do sleep 2073600; done"})
	if err != nil {
		return nil, err
	}
	shellPath, err := rt.ShellPath(rt.ShellSH)
	if err != nil {
		return nil, err
	}
	guestWorkingDir := "/tmp/conveyor/workspace"
	guestStagingDir := "/tmp/conveyor/staging"
	guestKeepAliveScriptPath := fmt.Sprintf("/tmp/conveyor/staging/%s", scriptName)
	binds := []string{
		fmt.Sprintf("%s:%s:rw", r.config.WorkspaceDir, guestWorkingDir),
		fmt.Sprintf("%s:%s:ro", r.config.StagingDir, guestStagingDir),
	}
	return &runtimeContainerConfig{
		Name:                r.config.RuntimeID,
		Binds:               binds,
		GuestShellPath:      []string{shellPath},
		GuestWorkspaceDir:   guestWorkingDir,
		GuestStagingDir:     guestStagingDir,
		GuestPID0ScriptPath: guestKeepAliveScriptPath,
	}, nil
}

func (r *Runtime) fixEnv(env []string) []string {
	for i, envVar := range env {
		parts := strings.SplitN(envVar, "=", 2)
		if len(parts) == 2 {
			path, changed, err := r.mapHostPath(rt.GetHostOS(), parts[1])
			if err != nil {
				r.log.Warnf("Ignoring error mapping host path for %q: %v", parts[1], err)
			} else if changed {
				env[i] = fmt.Sprintf("%s=%s", parts[0], path)
			}
		}
	}
	return env
}

// mapHostPath translates a host filesystem path into the equivalent path
// inside the job container, for paths under the workspace or staging dirs.
func (r *Runtime) mapHostPath(fromOS rt.OS, path string) (string, bool, error) {
	if r.state.imageConfig.OS == "" {
		return "", false, fmt.Errorf("error runtime is not prepared")
	}
	var changed bool
	if strings.HasPrefix(path, r.config.WorkspaceDir) {
		path = strings.Replace(path, r.config.WorkspaceDir, r.state.containerConfig.GuestWorkspaceDir, 1)
		changed = true
	} else if strings.HasPrefix(path, r.config.StagingDir) {
		path = strings.Replace(path, r.config.StagingDir, r.state.containerConfig.GuestStagingDir, 1)
		changed = true
	}
	if changed && fromOS == rt.OSWindows && r.state.imageConfig.OS == rt.OSLinux {
		// Windows to Linux needs path separator tweaking after we've swapped out the path above
		path = strings.Replace(path, "\\", "/", -1)
	}
	return path, changed, nil
}
