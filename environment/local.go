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
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// liveProcess tracks one spawned command: a single background goroutine
// calls cmd.Wait() exactly once and records the result, so advance() can
// poll it without ever blocking.
type liveProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

func startProcess(command []string, dir string, stdout, stderr *os.File) (*liveProcess, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	lp := &liveProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if err == nil {
			lp.exitCode = 0
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			lp.exitCode = exitErr.ExitCode()
		} else {
			lp.exitCode = -1
		}
		close(lp.done)
	}()

	return lp, nil
}

// poll reports whether the process has exited and, if so, its exit code.
// It never blocks.
func (lp *liveProcess) poll() (exited bool, code int) {
	select {
	case <-lp.done:
		return true, lp.exitCode
	default:
		return false, 0
	}
}

// LocalEnvironment runs commands as direct child processes of the
// supervisor. Exactly one command per run is live at any moment; advance
// spawns the next queued command on a zero exit and marks the run failed,
// discarding the remaining queue, on a nonzero one.
type LocalEnvironment struct {
	mu sync.Mutex

	runtimeDirectory string
	logger           *log.Logger
	notifier         Notifier

	processes map[string]*liveProcess
	commands  map[string][][]string
	status    map[string]RunStatus
}

// NewLocalEnvironment validates runtimeDirectory (must be absolute and
// already exist) and ensures its sibling __assets directory is present.
func NewLocalEnvironment(runtimeDirectory string, l *log.Logger) (*LocalEnvironment, error) {
	if !filepath.IsAbs(runtimeDirectory) {
		return nil, fmt.Errorf("environment: runtime directory must be absolute: %s", runtimeDirectory)
	}
	if _, err := os.Stat(runtimeDirectory); err != nil {
		return nil, fmt.Errorf("environment: runtime directory does not exist: %s", runtimeDirectory)
	}
	if err := ensureAssetsDir(runtimeDirectory); err != nil {
		return nil, err
	}

	return &LocalEnvironment{
		runtimeDirectory: runtimeDirectory,
		logger:           l,
		notifier:         NoopNotifier{},
		processes:        map[string]*liveProcess{},
		commands:         map[string][][]string{},
		status:           map[string]RunStatus{},
	}, nil
}

// SetNotifier installs a sink invoked after every supervisor-originated
// status transition. Passing nil restores the no-op notifier.
func (e *LocalEnvironment) SetNotifier(n Notifier) {
	if n == nil {
		n = NoopNotifier{}
	}
	e.notifier = n
}

func (e *LocalEnvironment) runPath(runID string) string {
	return filepath.Join(e.runtimeDirectory, runID)
}

func (e *LocalEnvironment) workPath(runID string) string {
	return filepath.Join(e.runPath(runID), "run")
}

func (e *LocalEnvironment) Start(runID string, commands [][]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.status[runID]; ok {
		return ErrDuplicateRun
	}
	if len(commands) == 0 {
		return ErrEmptyCommands
	}

	runPath := e.runPath(runID)
	if err := os.Mkdir(runPath, 0o755); err != nil {
		return err
	}
	if err := os.Mkdir(e.workPath(runID), 0o755); err != nil {
		return err
	}

	queue := make([][]string, len(commands))
	copy(queue, commands)

	e.commands[runID] = queue
	e.status[runID] = Started
	e.logger.Printf("started run %s", runID)

	if err := e.spawnNext(runID); err != nil {
		e.status[runID] = Failed
	}

	return nil
}

// spawnNext pops and launches the next queued command for runID, opening
// stdout.log/stderr.log in append mode so successive commands accumulate
// into one file.
func (e *LocalEnvironment) spawnNext(runID string) error {
	queue := e.commands[runID]
	command := queue[0]
	e.commands[runID] = queue[1:]

	stdout, err := os.OpenFile(filepath.Join(e.runPath(runID), "stdout.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	stderr, err := os.OpenFile(filepath.Join(e.runPath(runID), "stderr.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		stdout.Close()
		return err
	}

	lp, err := startProcess(command, e.workPath(runID), stdout, stderr)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return err
	}

	e.processes[runID] = lp
	return nil
}

// advance mirrors the reference implementation's _ping: poll every alive
// run's live child without blocking; on zero exit with more queued commands
// spawn the next one, on zero exit with none left mark finished, on nonzero
// exit mark failed and drop the remaining queue.
func (e *LocalEnvironment) advance() {
	for runID, status := range e.status {
		if !status.IsAlive() {
			continue
		}

		lp := e.processes[runID]
		exited, code := lp.poll()
		if !exited {
			continue
		}

		if code == 0 {
			if len(e.commands[runID]) > 0 {
				if err := e.spawnNext(runID); err != nil {
					e.status[runID] = Failed
					e.notifier.Notify("", runID, Failed)
				}
				continue
			}
			e.status[runID] = Finished
			e.notifier.Notify("", runID, Finished)
		} else {
			e.status[runID] = Failed
			e.notifier.Notify("", runID, Failed)
		}
		e.logger.Printf("updated status of run %s to %s", runID, e.status[runID])
	}
}

func (e *LocalEnvironment) Stop(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return ErrUnknownRun
	}

	if status.IsAlive() {
		if lp := e.processes[runID]; lp != nil && lp.cmd.Process != nil {
			lp.cmd.Process.Kill()
		}
		e.status[runID] = Stopped
		e.notifier.Notify("", runID, Stopped)
	}

	e.logger.Printf("stopped run %s", runID)
	return nil
}

func (e *LocalEnvironment) Clean(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return ErrUnknownRun
	}

	if status.IsAlive() {
		if lp := e.processes[runID]; lp != nil && lp.cmd.Process != nil {
			lp.cmd.Process.Kill()
		}
	}

	if err := os.RemoveAll(e.runPath(runID)); err != nil {
		return err
	}

	delete(e.status, runID)
	delete(e.processes, runID)
	delete(e.commands, runID)

	e.logger.Printf("cleaned run %s", runID)
	return nil
}

func (e *LocalEnvironment) GetStatus(runID string) (RunStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return "", ErrUnknownRun
	}
	return status, nil
}

func (e *LocalEnvironment) GetStdout(runID string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(e.runPath(runID), "stdout.log"))
}

func (e *LocalEnvironment) GetStderr(runID string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(e.runPath(runID), "stderr.log"))
}

func (e *LocalEnvironment) GetFile(runID, path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(e.workPath(runID), path))
}

func (e *LocalEnvironment) AddAsset(containerID, remotePath, localPath string) error {
	return addLocalAsset(e.runtimeDirectory, containerID, remotePath, localPath)
}

func (e *LocalEnvironment) HasAsset(containerID, remotePath string) (bool, error) {
	return hasLocalAsset(e.runtimeDirectory, containerID, remotePath), nil
}

func (e *LocalEnvironment) GetAsset(containerID, remotePath string) (string, error) {
	return localAssetPath(e.runtimeDirectory, containerID, remotePath), nil
}

func (e *LocalEnvironment) CleanAssets(containerID string) error {
	return cleanLocalAssets(e.runtimeDirectory, containerID)
}

// AddAssetFromGit populates containerID's asset namespace from a git
// repository, reachable from the control plane's POST
// /environment/{id}/asset/{container_id} endpoint for any backend that
// implements it (see control/handlers.go's gitAssetAdder).
func (e *LocalEnvironment) AddAssetFromGit(containerID, remotePath, repoURL, ref string) error {
	return AddAssetFromGit(e.runtimeDirectory, containerID, remotePath, repoURL, ref)
}

var _ RunEnvironment = (*LocalEnvironment)(nil)
