// Package hostctl consumes scale events and manages backend container
// lifecycles on the host it runs on.
package hostctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ContainerSpec describes one backend instance to start.
type ContainerSpec struct {
	// Name is the container name, unique per instance.
	Name string

	// Image is the backend image reference.
	Image string

	// Network is the cluster network to attach to.
	Network string

	// InternalPort is the port the backend serves inside the container.
	InternalPort int

	// VolumePath is the host directory mounted as the instance's storage
	// root.
	VolumePath string

	// Env is extra environment passed to the container.
	Env map[string]string
}

// Handle identifies a started container.
type Handle string

// State is the inspected container state.
type State struct {
	Running bool
	Status  string
}

// Executor runs container lifecycle operations. The production
// implementation shells out to the local container CLI; tests swap in a
// fake.
type Executor interface {
	Start(ctx context.Context, spec ContainerSpec) (Handle, error)
	Stop(ctx context.Context, handle Handle) error
	Inspect(ctx context.Context, handle Handle) (State, error)
}

// DockerExecutor shells out to the docker CLI.
type DockerExecutor struct {
	// Binary is the CLI to invoke. Default "docker"; "podman" works too.
	Binary string
}

// NewDockerExecutor creates an executor over the local docker CLI.
func NewDockerExecutor() *DockerExecutor {
	return &DockerExecutor{Binary: "docker"}
}

// Start runs the container detached and returns its id.
func (e *DockerExecutor) Start(ctx context.Context, spec ContainerSpec) (Handle, error) {
	args := []string{"run", "-d", "--name", spec.Name}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if spec.InternalPort > 0 {
		args = append(args, "-p", fmt.Sprintf("%d", spec.InternalPort))
	}
	if spec.VolumePath != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/data", spec.VolumePath))
	}
	for key, value := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, value))
	}
	args = append(args, spec.Image)

	out, err := exec.CommandContext(ctx, e.Binary, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("starting container %s: %v: %s", spec.Name, err, strings.TrimSpace(string(out)))
	}
	return Handle(strings.TrimSpace(string(out))), nil
}

// Stop stops and removes the container.
func (e *DockerExecutor) Stop(ctx context.Context, handle Handle) error {
	out, err := exec.CommandContext(ctx, e.Binary, "rm", "-f", string(handle)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("stopping container %s: %v: %s", handle, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Inspect returns the container's running state.
func (e *DockerExecutor) Inspect(ctx context.Context, handle Handle) (State, error) {
	out, err := exec.CommandContext(ctx, e.Binary,
		"inspect", "-f", "{{.State.Running}} {{.State.Status}}", string(handle)).CombinedOutput()
	if err != nil {
		return State{}, fmt.Errorf("inspecting container %s: %v: %s", handle, err, strings.TrimSpace(string(out)))
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	state := State{}
	if len(fields) > 0 {
		state.Running = fields[0] == "true"
	}
	if len(fields) > 1 {
		state.Status = fields[1]
	}
	return state, nil
}
