// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package environment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	units "github.com/docker/go-units"
)

const (
	defaultContainerImage = "docker.io/library/ubuntu"

	// assetsMountPath is where the whole __assets root is bind-mounted,
	// read-only, inside every run's container. Every asset container lives
	// under assetsMountPath/<containerID>/... from the run's point of view,
	// regardless of which containerID a caller addressed it by.
	assetsMountPath = "/assets"
)

// containerExec tracks one docker-exec invocation in flight. A single
// background goroutine drains the attach stream and inspects the exit code
// exactly once, signaling through done, mirroring liveProcess/poll in
// local.go so advance() can poll it without blocking.
type containerExec struct {
	done     chan struct{}
	exitCode int
}

func (ce *containerExec) poll() (exited bool, code int) {
	select {
	case <-ce.done:
		return true, ce.exitCode
	default:
		return false, 0
	}
}

// containerRun tracks one run's backing container and its queued commands,
// executed sequentially with docker exec the same way LocalEnvironment
// chains direct child processes.
type containerRun struct {
	containerID string
	commands    [][]string
	status      RunStatus
	exec        *containerExec
}

// ContainerEnvironment is the backend added beyond the three the reference
// implementation carries: one run gets one disposable container, built from
// a configurable base image (default "ubuntu", per core/pool.go's
// ContainerRunnerPool image-pull pattern generalized from a pre-started
// pool to an on-demand container per run).
type ContainerEnvironment struct {
	mu sync.Mutex

	runtimeDirectory string
	image            string
	memoryBytes      int64
	logger           *log.Logger
	notifier         Notifier

	cli *client.Client
	ctx context.Context

	runs map[string]*containerRun
}

// NewContainerEnvironment validates runtimeDirectory the same way
// NewLocalEnvironment does (host-side logs and assets still live on the
// local filesystem, bind-mounted into each run's container) and dials the
// local docker daemon via the environment-configured client. memoryLimit is
// a human-readable size ("512m", "2g"); empty leaves the container
// unbounded.
func NewContainerEnvironment(runtimeDirectory, image, memoryLimit string, l *log.Logger) (*ContainerEnvironment, error) {
	if !filepath.IsAbs(runtimeDirectory) {
		return nil, fmt.Errorf("environment: runtime directory must be absolute: %s", runtimeDirectory)
	}
	if _, err := os.Stat(runtimeDirectory); err != nil {
		return nil, fmt.Errorf("environment: runtime directory does not exist: %s", runtimeDirectory)
	}
	if err := ensureAssetsDir(runtimeDirectory); err != nil {
		return nil, err
	}

	if image == "" {
		image = defaultContainerImage
	}

	var memoryBytes int64
	if memoryLimit != "" {
		parsed, err := units.RAMInBytes(memoryLimit)
		if err != nil {
			return nil, fmt.Errorf("environment: invalid memory limit %q: %w", memoryLimit, err)
		}
		memoryBytes = parsed
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &ContainerEnvironment{
		runtimeDirectory: runtimeDirectory,
		image:            image,
		memoryBytes:      memoryBytes,
		logger:           l,
		notifier:         NoopNotifier{},
		cli:              cli,
		ctx:              context.Background(),
		runs:             map[string]*containerRun{},
	}, nil
}

func (e *ContainerEnvironment) SetNotifier(n Notifier) {
	if n == nil {
		n = NoopNotifier{}
	}
	e.notifier = n
}

func (e *ContainerEnvironment) runPath(runID string) string {
	return filepath.Join(e.runtimeDirectory, runID)
}

// Start pulls the configured image, creates one container bind-mounting the
// run's directory (so logs land on the same host path the log accessors
// read from) and the whole __assets root read-only at assetsMountPath, and
// starts the first queued command in the background. It returns as soon as
// the exec is dispatched; advance() (driven by Stop/Clean/GetStatus, the
// same pull-based pattern LocalEnvironment uses) observes completion.
func (e *ContainerEnvironment) Start(runID string, commands [][]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.runs[runID]; ok {
		return ErrDuplicateRun
	}
	if len(commands) == 0 {
		return ErrEmptyCommands
	}

	runPath := e.runPath(runID)
	if err := os.MkdirAll(runPath, 0o755); err != nil {
		return err
	}

	reader, err := e.cli.ImagePull(e.ctx, e.image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	resp, err := e.cli.ContainerCreate(e.ctx,
		&container.Config{
			Image:      e.image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: "/run",
		},
		&container.HostConfig{
			Binds: []string{
				runPath + ":/run",
				assetsRoot(e.runtimeDirectory) + ":" + assetsMountPath + ":ro",
			},
			Resources: container.Resources{
				Memory: e.memoryBytes,
			},
		},
		nil, nil, "",
	)
	if err != nil {
		return err
	}

	if err := e.cli.ContainerStart(e.ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return err
	}

	run := &containerRun{containerID: resp.ID, commands: commands, status: Started}
	e.runs[runID] = run
	e.logger.Printf("started run %s (container %s)", runID, resp.ID)

	if err := e.execNext(runID, run); err != nil {
		run.status = Failed
	}

	return nil
}

// execNext pops the next queued command and dispatches it with docker exec,
// handing the blocking attach/inspect work to a background goroutine so the
// caller (Start, or advance() chaining the next command) never waits on it.
func (e *ContainerEnvironment) execNext(runID string, run *containerRun) error {
	command := run.commands[0]
	run.commands = run.commands[1:]

	execResp, err := e.cli.ContainerExecCreate(e.ctx, run.containerID, types.ExecConfig{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return err
	}

	attach, err := e.cli.ContainerExecAttach(e.ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return err
	}

	ce := &containerExec{done: make(chan struct{})}
	run.exec = ce

	go func() {
		defer attach.Close()

		var stdout, stderr bytes.Buffer
		demuxStdcopy(&stdout, &stderr, attach.Reader)

		appendToLog(filepath.Join(e.runPath(runID), "stdout.log"), stdout.Bytes())
		appendToLog(filepath.Join(e.runPath(runID), "stderr.log"), stderr.Bytes())

		inspect, err := e.cli.ContainerExecInspect(e.ctx, execResp.ID)
		if err != nil {
			ce.exitCode = -1
		} else {
			ce.exitCode = inspect.ExitCode
		}
		close(ce.done)
	}()

	return nil
}

func appendToLog(path string, data []byte) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(data)
}

// demuxStdcopy splits docker's multiplexed exec-attach stream into separate
// stdout/stderr buffers, following the 8-byte-header framing docker's own
// stdcopy package uses: a type byte, three padding bytes and a big-endian
// uint32 length prefix every frame.
func demuxStdcopy(stdout, stderr *bytes.Buffer, r io.Reader) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}
		if header[0] == 2 {
			stderr.Write(frame)
		} else {
			stdout.Write(frame)
		}
	}
}

// advance mirrors LocalEnvironment.advance: poll every alive run's in-flight
// exec without blocking; on zero exit with more queued commands dispatch the
// next one, on zero exit with none left mark finished, on nonzero exit mark
// failed and drop the remaining queue.
func (e *ContainerEnvironment) advance() {
	for runID, run := range e.runs {
		if !run.status.IsAlive() || run.exec == nil {
			continue
		}

		exited, code := run.exec.poll()
		if !exited {
			continue
		}

		if code == 0 {
			if len(run.commands) > 0 {
				if err := e.execNext(runID, run); err != nil {
					run.status = Failed
					e.notifier.Notify("", runID, Failed)
				}
				continue
			}
			run.status = Finished
			e.notifier.Notify("", runID, Finished)
		} else {
			run.status = Failed
			e.notifier.Notify("", runID, Failed)
		}
		e.logger.Printf("updated status of run %s to %s", runID, run.status)
	}
}

// Stop stops the run's container with a grace period, which also
// interrupts whatever command is currently mid-exec inside it — unlike a
// synchronous wait for the queue to drain, this returns as soon as the
// docker daemon acknowledges the stop.
func (e *ContainerEnvironment) Stop(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	run, ok := e.runs[runID]
	if !ok {
		return ErrUnknownRun
	}

	if run.status.IsAlive() {
		timeout := 5 * time.Second
		e.cli.ContainerStop(e.ctx, run.containerID, &timeout)
		run.status = Stopped
		e.notifier.Notify("", runID, Stopped)
	}

	e.logger.Printf("stopped run %s", runID)
	return nil
}

func (e *ContainerEnvironment) Clean(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	run, ok := e.runs[runID]
	if !ok {
		return ErrUnknownRun
	}

	if run.status.IsAlive() {
		timeout := 5 * time.Second
		e.cli.ContainerStop(e.ctx, run.containerID, &timeout)
	}

	e.cli.ContainerRemove(e.ctx, run.containerID, types.ContainerRemoveOptions{Force: true})

	if err := os.RemoveAll(e.runPath(runID)); err != nil {
		return err
	}

	delete(e.runs, runID)
	e.logger.Printf("cleaned run %s", runID)
	return nil
}

func (e *ContainerEnvironment) GetStatus(runID string) (RunStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	run, ok := e.runs[runID]
	if !ok {
		return "", ErrUnknownRun
	}
	return run.status, nil
}

func (e *ContainerEnvironment) GetStdout(runID string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(e.runPath(runID), "stdout.log"))
}

func (e *ContainerEnvironment) GetStderr(runID string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(e.runPath(runID), "stderr.log"))
}

func (e *ContainerEnvironment) GetFile(runID, path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(e.runPath(runID), strings.TrimPrefix(path, "/")))
}

func (e *ContainerEnvironment) AddAsset(containerID, remotePath, localPath string) error {
	return addLocalAsset(e.runtimeDirectory, containerID, remotePath, localPath)
}

func (e *ContainerEnvironment) HasAsset(containerID, remotePath string) (bool, error) {
	return hasLocalAsset(e.runtimeDirectory, containerID, remotePath), nil
}

// GetAsset returns the in-container path under assetsMountPath, not the
// host path addLocalAsset/localAssetPath resolve to: a run's commands
// execute inside the container's own mount namespace, where the host
// __assets tree is only reachable at assetsMountPath (see Start). A command
// that `cat`s this path sees exactly the bytes add_asset wrote.
func (e *ContainerEnvironment) GetAsset(containerID, remotePath string) (string, error) {
	return filepath.Join(assetsMountPath, containerID, remotePath), nil
}

func (e *ContainerEnvironment) CleanAssets(containerID string) error {
	return cleanLocalAssets(e.runtimeDirectory, containerID)
}

// AddAssetFromGit populates containerID's asset namespace from a git
// repository, reachable from the control plane's POST
// /environment/{id}/asset/{container_id} endpoint for any backend that
// implements it (see control/handlers.go's gitAssetAdder).
func (e *ContainerEnvironment) AddAssetFromGit(containerID, remotePath, repoURL, ref string) error {
	return AddAssetFromGit(e.runtimeDirectory, containerID, remotePath, repoURL, ref)
}

var _ RunEnvironment = (*ContainerEnvironment)(nil)
