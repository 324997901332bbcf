// Package runtime defines the execution environments job steps run inside.
package runtime

import (
	"context"
	"io"
)

// Config is the base runtime configuration.
type Config struct {
	// RuntimeID uniquely identifies an instance of a runtime.
	RuntimeID string
	// StagingDir is a directory on the local filesystem where job related files
	// (e.g. step scripts) will be written by the engine.
	StagingDir string
	// WorkspaceDir is a directory on the local filesystem containing the job's
	// source code, used as the working directory for the job's steps.
	WorkspaceDir string
}

// ExecConfig describes a command that will execute inside a runtime.
type ExecConfig struct {
	// Name is a human-readable name that uniquely identifies the command.
	Name string
	// Commands are the one or more shell commands to execute.
	Commands []string
	// Env is the environment in the form name=value to expose to the commands.
	Env []string
	// Stdout is optional. If supplied the command(s) stdout will be written to it.
	Stdout io.Writer
	// Stderr is optional. If supplied the command(s) stderr will be written to it.
	Stderr io.Writer
}

// Runtime is an execution environment for steps.
type Runtime interface {
	// Start initializes the runtime and prepares it to have commands Exec'd inside it.
	Start(ctx context.Context) error
	// Exec executes a command inside the runtime.
	// Start must have been called before calling Exec.
	Exec(ctx context.Context, config ExecConfig) error
	// Stop tears down the runtime, freeing up any and all resources.
	// ctx is a context with a timeout suitable for use in cleanup tasks. This context will *not* time out
	// when the job times out, to ensure we still clean up timed-out jobs.
	Stop(ctx context.Context) error
	// CleanUp removes any resources left over from previous runs that may not have finished cleanly
	// (e.g. old containers). Assumes no commands are currently running.
	CleanUp(ctx context.Context) error
}
