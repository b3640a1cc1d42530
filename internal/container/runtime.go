// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package container starts and stops long-running llama.cpp server
// containers through docker or podman.
package container

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

const (
	binDocker = "docker"
	binPodman = "podman"
)

// Spec describes a detached container.
type Spec struct {
	// Image is the container image reference.
	Image string

	// Name is the container name; empty lets the runtime pick one.
	Name string

	// Ports maps host ports to container ports.
	Ports map[int]int

	// Mounts maps host paths to container paths (mounted read-only).
	Mounts map[string]string

	// GPUs requests all GPUs for the container.
	GPUs bool

	// Args are passed to the image entrypoint.
	Args []string
}

// Runtime provides the container operations the inference launcher needs.
type Runtime interface {
	// Name returns the runtime name ("docker" or "podman").
	Name() string

	// Available reports whether the runtime binary exists on PATH and
	// responds to an info command.
	Available() bool

	// ImageExists checks whether the named image exists locally.
	ImageExists(image string) error

	// Start runs spec detached and returns the container ID.
	Start(spec Spec) (string, error)

	// Stop stops and removes the container.
	Stop(id string) error
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (o *osExecutor) RunSilent(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (o *osExecutor) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// runtime implements Runtime for a specific container binary. Docker and
// Podman differ only in binary name, the image check subcommand and the GPU
// flag.
type runtime struct {
	bin           string
	imageCheckCmd []string
	gpuFlag       string
	exec          executor
}

func (r *runtime) Name() string { return r.bin }

func (r *runtime) Available() bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(r.bin, "info") == nil
}

func (r *runtime) ImageExists(image string) error {
	args := make([]string, 0, len(r.imageCheckCmd)+1)
	args = append(args, r.imageCheckCmd...)
	args = append(args, image)

	if err := r.exec.RunSilent(r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func (r *runtime) Start(spec Spec) (string, error) {
	out, err := r.exec.Output(r.bin, r.runArgs(spec)...)
	if err != nil {
		return "", fmt.Errorf("starting %s container %s: %w", r.bin, spec.Image, err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("starting %s container %s: no container id returned", r.bin, spec.Image)
	}
	return id, nil
}

func (r *runtime) Stop(id string) error {
	if err := r.exec.RunSilent(r.bin, "rm", "-f", id); err != nil {
		return fmt.Errorf("stopping %s container %s: %w", r.bin, id, err)
	}
	return nil
}

// runArgs builds a deterministic "run -d --rm ..." argument list.
func (r *runtime) runArgs(spec Spec) []string {
	args := []string{"run", "-d", "--rm"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}

	hostPorts := make([]int, 0, len(spec.Ports))
	for hp := range spec.Ports {
		hostPorts = append(hostPorts, hp)
	}
	sort.Ints(hostPorts)
	for _, hp := range hostPorts {
		args = append(args, "-p", fmt.Sprintf("%d:%d", hp, spec.Ports[hp]))
	}

	hostPaths := make([]string, 0, len(spec.Mounts))
	for hp := range spec.Mounts {
		hostPaths = append(hostPaths, hp)
	}
	sort.Strings(hostPaths)
	for _, hp := range hostPaths {
		args = append(args, "-v", fmt.Sprintf("%s:%s:ro", hp, spec.Mounts[hp]))
	}

	if spec.GPUs {
		args = append(args, r.gpuFlag)
	}
	args = append(args, spec.Image)
	return append(args, spec.Args...)
}

func newDockerRuntime(exec executor) *runtime {
	return &runtime{
		bin:           binDocker,
		imageCheckCmd: []string{"image", "inspect"},
		gpuFlag:       "--gpus=all",
		exec:          exec,
	}
}

func newPodmanRuntime(exec executor) *runtime {
	return &runtime{
		bin:           binPodman,
		imageCheckCmd: []string{"image", "exists"},
		gpuFlag:       "--device=nvidia.com/gpu=all",
		exec:          exec,
	}
}

var defaultExec = &osExecutor{}

// DetectRuntime tries docker first, falls back to podman. Returns an error
// if neither runtime is available.
func DetectRuntime() (Runtime, error) {
	return detectRuntime(defaultExec)
}

func detectRuntime(exec executor) (Runtime, error) {
	docker := newDockerRuntime(exec)
	if docker.Available() {
		return docker, nil
	}

	podman := newPodmanRuntime(exec)
	if podman.Available() {
		return podman, nil
	}

	return nil, fmt.Errorf(
		"no container runtime available: neither %s nor %s found or operational",
		binDocker, binPodman,
	)
}
