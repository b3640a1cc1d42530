// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llamacpp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/container"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

const (
	// containerPort is the port llama-server listens on inside the image.
	containerPort = 8080

	// containerModelDir is where the model directory is mounted.
	containerModelDir = "/models"

	stopGrace = 5 * time.Second
)

// server is a running llama.cpp server owned by one engine.
type server struct {
	baseURL string

	// exited is closed when a spawned server stops on its own; nil for
	// servers the engine does not own.
	exited <-chan struct{}

	stop func() error
}

// serverArgs builds the llama-server command line for a model reachable
// at modelPath, listening on host:port.
func serverArgs(modelPath, host string, port int, params types.ModelParams, apiKey string) []string {
	args := []string{"-m", modelPath}
	if params.ContextLength > 0 {
		args = append(args, "-c", strconv.Itoa(params.ContextLength))
	}
	if params.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(params.Threads))
	}
	args = append(args,
		"-ngl", strconv.Itoa(params.GPULayers),
		"--host", host,
		"--port", strconv.Itoa(port),
	)
	if apiKey != "" {
		args = append(args, "--api-key", apiKey)
	}
	if params.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// process is a started child process.
type process interface {
	// Done is closed when the process exits.
	Done() <-chan struct{}

	// Stop asks the process to exit and waits for it.
	Stop() error
}

// spawner starts child processes. Tests replace it.
type spawner interface {
	Spawn(name string, args []string) (process, error)
}

type osSpawner struct {
	verbose bool
}

func (s osSpawner) Spawn(name string, args []string) (process, error) {
	cmd := exec.Command(name, args...)
	detach(cmd)
	if s.verbose {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *osProcess) Done() <-chan struct{} { return p.done }

func (p *osProcess) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(stopGrace):
		return p.cmd.Process.Kill()
	}
}

// launchProcess spawns llama-server as a child process.
func (f *Factory) launchProcess(params types.ModelParams) (*server, error) {
	port := f.cfg.BasePort + params.Worker
	args := serverArgs(params.ModelPath, f.cfg.Host, port, params, f.cfg.APIKey)

	proc, err := f.spawner.Spawn(f.cfg.Binary, args)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", f.cfg.Binary, err)
	}
	f.logger.Info("spawned llama.cpp server",
		zap.String("binary", f.cfg.Binary),
		zap.String("model", params.ModelPath),
		zap.Int("worker", params.Worker),
		zap.Int("port", port),
	)
	return &server{
		baseURL: fmt.Sprintf("http://%s:%d", dialHost(f.cfg.Host), port),
		exited:  proc.Done(),
		stop:    proc.Stop,
	}, nil
}

// launchContainer runs the llama.cpp server image with the model directory
// mounted read-only.
func (f *Factory) launchContainer(params types.ModelParams) (*server, error) {
	rt, err := f.containerRuntime()
	if err != nil {
		return nil, err
	}
	if err := rt.ImageExists(f.cfg.Image); err != nil {
		f.logger.Info("image not present locally, runtime will pull it", zap.String("image", f.cfg.Image))
	}

	modelPath, err := filepath.Abs(params.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("resolving model path: %w", err)
	}
	port := f.cfg.BasePort + params.Worker
	spec := container.Spec{
		Image:  f.cfg.Image,
		Name:   fmt.Sprintf("lesion-engine-w%d-%s", params.Worker, uuid.NewString()[:8]),
		Ports:  map[int]int{port: containerPort},
		Mounts: map[string]string{filepath.Dir(modelPath): containerModelDir},
		GPUs:   params.GPULayers > 0,
		Args: serverArgs(
			containerModelDir+"/"+filepath.Base(modelPath),
			"0.0.0.0", containerPort, params, f.cfg.APIKey,
		),
	}

	id, err := rt.Start(spec)
	if err != nil {
		return nil, err
	}
	f.logger.Info("started llama.cpp container",
		zap.String("runtime", rt.Name()),
		zap.String("container", spec.Name),
		zap.Int("worker", params.Worker),
		zap.Int("port", port),
	)
	return &server{
		baseURL: fmt.Sprintf("http://%s:%d", dialHost(f.cfg.Host), port),
		stop:    func() error { return rt.Stop(id) },
	}, nil
}

// attachEndpoint uses an already running server.
func (f *Factory) attachEndpoint(types.ModelParams) (*server, error) {
	if f.cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint mode requires inference.server.endpoint")
	}
	return &server{
		baseURL: f.cfg.Endpoint,
		stop:    func() error { return nil },
	}, nil
}

// dialHost maps wildcard listen addresses to loopback.
func dialHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return host
}
