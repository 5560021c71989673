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
	"strconv"
	"strings"
	"sync"
)

// remoteBase is the composable helper shared by the remote-shell and batch
// backends (spec.md section 9's design note: "the shared pieces ... live in
// a composable helper consumed by both remote variants rather than via
// inheritance"). It owns the transport, the pid/status maps and their
// state.json mirror, and the run-script construction every remote backend
// uses to chain a run's commands under "sh".
type remoteBase struct {
	mu sync.Mutex

	environmentID    string
	runtimeDirectory string
	transport        Transport
	logger           *log.Logger
	notifier         Notifier

	pids   map[string]int
	status map[string]RunStatus
}

func newRemoteBase(environmentID, runtimeDirectory string, t Transport, l *log.Logger) (*remoteBase, error) {
	exitCode, _, _, err := t.Run(BuildCommand(runtimeDirectory, []string{"ls", runtimeDirectory}, nil))
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("environment: remote directory does not exist: %s", runtimeDirectory)
	}

	rb := &remoteBase{
		environmentID:    environmentID,
		runtimeDirectory: runtimeDirectory,
		transport:        t,
		logger:           l,
		notifier:         NoopNotifier{},
		pids:             map[string]int{},
		status:           map[string]RunStatus{},
	}

	state := readRemoteState(t, runtimeDirectory)
	for id, s := range state.Status {
		rb.status[id] = RunStatus(s)
	}
	for id, pid := range state.Pids {
		rb.pids[id] = pid
	}

	if err := t.EnsureDir(runtimeDirectory + "/__assets"); err != nil {
		return nil, err
	}

	return rb, nil
}

func (rb *remoteBase) setNotifier(n Notifier) {
	if n == nil {
		n = NoopNotifier{}
	}
	rb.notifier = n
}

func (rb *remoteBase) runPath(runID string) string {
	return rb.runtimeDirectory + "/" + runID
}

func (rb *remoteBase) workPath(runID string) string {
	return rb.runPath(runID) + "/run"
}

// persistState writes the current {pids, status} snapshot to state.json.
// Must be called with rb.mu held.
func (rb *remoteBase) persistState() error {
	state := newRemoteState()
	for id, pid := range rb.pids {
		state.Pids[id] = pid
	}
	for id, s := range rb.status {
		state.Status[id] = string(s)
	}
	return writeRemoteState(rb.transport, rb.runtimeDirectory, state)
}

// writeRunScript assembles run.sh: one line per command, each appended with
// a redirect into ../stdout.log/../stderr.log, plus a trailing line
// capturing $? into ../return_code. Previous logs are cleared first.
func (rb *remoteBase) writeRunScript(runID string, commands [][]string) error {
	workPath := rb.workPath(runID)

	mkdir := BuildCommand(rb.runtimeDirectory, []string{"mkdir", "-p", runID + "/run"}, nil)
	if exitCode, _, stderr, err := rb.transport.Run(mkdir); err != nil {
		return err
	} else if exitCode != 0 {
		return fmt.Errorf("environment: mkdir run directory failed: %s", stderr)
	}

	rb.transport.Run(BuildCommand(workPath, []string{"rm", "../stdout.log"}, nil))
	rb.transport.Run(BuildCommand(workPath, []string{"rm", "../stderr.log"}, nil))

	var lines []string
	for _, command := range commands {
		lines = append(lines, QuoteAll(command)+" 1>> ../stdout.log 2>> ../stderr.log")
	}
	script := strings.Join(lines, "\n")

	writeScript := BuildCommand(workPath, []string{"echo", script}, &Redirect{Path: "run.sh"})
	if exitCode, _, stderr, err := rb.transport.Run(writeScript); err != nil {
		return err
	} else if exitCode != 0 {
		return fmt.Errorf("environment: writing run.sh failed: %s", stderr)
	}

	appendReturnCode := BuildCommand(workPath, []string{"echo", `echo \$? > ../return_code`}, &Redirect{Path: "run.sh", Append: true})
	if exitCode, _, stderr, err := rb.transport.Run(appendReturnCode); err != nil {
		return err
	} else if exitCode != 0 {
		return fmt.Errorf("environment: appending return_code capture failed: %s", stderr)
	}

	return nil
}

func (rb *remoteBase) readReturnCode(runID string) (int, error) {
	cmd := BuildCommand(rb.runPath(runID), []string{"cat", "return_code"}, nil)
	exitCode, stdout, stderr, err := rb.transport.Run(cmd)
	if err != nil {
		return -1, err
	}
	if exitCode != 0 {
		return -1, fmt.Errorf("environment: reading return_code failed: %s", stderr)
	}
	return strconv.Atoi(strings.TrimSpace(string(stdout)))
}

func (rb *remoteBase) AddAsset(containerID, remotePath, localPath string) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	assetPath := rb.runtimeDirectory + "/__assets/" + containerID + "/" + remotePath
	if err := rb.transport.EnsureDir(parentDir(assetPath)); err != nil {
		return err
	}
	return rb.transport.Upload(localPath, assetPath)
}

func (rb *remoteBase) HasAsset(containerID, remotePath string) (bool, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	path := rb.runtimeDirectory + "/__assets/" + containerID + "/" + remotePath
	exitCode, _, _, err := rb.transport.Run(BuildCommand(rb.runtimeDirectory, []string{"ls", path}, nil))
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

func (rb *remoteBase) GetAsset(containerID, remotePath string) (string, error) {
	return rb.runtimeDirectory + "/__assets/" + containerID + "/" + remotePath, nil
}

func (rb *remoteBase) CleanAssets(containerID string) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	cmd := BuildCommand(rb.runtimeDirectory, []string{"rm", "-rf", "__assets/" + containerID}, nil)
	_, _, _, err := rb.transport.Run(cmd)
	return err
}

// SSHEnvironment is the remote-shell backend: it submits a run as a
// backgrounded "sh run.sh &" process over an SSH session and polls its
// liveness with "kill -0 <pid>".
type SSHEnvironment struct {
	*remoteBase
}

// NewSSHEnvironment runs over the already dialed transport t and recovers
// any prior run state found at <runtimeDirectory>/state.json.
func NewSSHEnvironment(environmentID, runtimeDirectory string, t Transport, l *log.Logger) (*SSHEnvironment, error) {
	rb, err := newRemoteBase(environmentID, runtimeDirectory, t, l)
	if err != nil {
		return nil, err
	}
	return &SSHEnvironment{remoteBase: rb}, nil
}

func (e *SSHEnvironment) SetNotifier(n Notifier) { e.setNotifier(n) }

func (e *SSHEnvironment) Start(runID string, commands [][]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.status[runID]; ok {
		return ErrDuplicateRun
	}
	if len(commands) == 0 {
		return ErrEmptyCommands
	}

	if err := e.writeRunScript(runID, commands); err != nil {
		return err
	}

	workPath := e.workPath(runID)
	startCmd := BuildCommand(workPath, []string{"sh", "run.sh", "&", "echo", "$!"}, nil)
	exitCode, stdout, stderr, err := e.transport.Run(startCmd)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("environment: starting run.sh failed: %s", stderr)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(stdout)))
	if err != nil {
		return fmt.Errorf("environment: could not recover pid: %w", err)
	}

	e.pids[runID] = pid
	e.status[runID] = Started
	e.logger.Printf("started run %s (pid %d)", runID, pid)
	return e.persistState()
}

// advance mirrors SSHEnvironment._ping: a single "kill -0 <pid>" liveness
// check per alive run; once the process is gone, reading return_code
// decides finished vs failed.
func (e *SSHEnvironment) advance() {
	changed := false

	for runID, status := range e.status {
		if !status.IsAlive() {
			continue
		}

		pid := e.pids[runID]
		cmd := BuildCommand(e.runtimeDirectory, []string{"kill", "-0", strconv.Itoa(pid)}, nil)
		exitCode, _, _, err := e.transport.Run(cmd)
		if err != nil || exitCode == 0 {
			continue // still alive, or the liveness probe itself failed transiently
		}

		code, err := e.readReturnCode(runID)
		next := Failed
		if err == nil && code == 0 {
			next = Finished
		}
		e.status[runID] = next
		e.notifier.Notify(e.environmentID, runID, next)
		e.logger.Printf("updated status of run %s to %s", runID, next)
		changed = true
	}

	if changed {
		e.persistState()
	}
}

func (e *SSHEnvironment) Stop(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return ErrUnknownRun
	}

	if status.IsAlive() {
		cmd := BuildCommand(e.runtimeDirectory, []string{"kill", "-9", strconv.Itoa(e.pids[runID])}, nil)
		e.transport.Run(cmd)
		e.status[runID] = Stopped
		e.notifier.Notify(e.environmentID, runID, Stopped)
		if err := e.persistState(); err != nil {
			return err
		}
	}

	e.logger.Printf("stopped run %s", runID)
	return nil
}

func (e *SSHEnvironment) Clean(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return ErrUnknownRun
	}

	if status.IsAlive() {
		cmd := BuildCommand(e.runtimeDirectory, []string{"kill", "-9", strconv.Itoa(e.pids[runID])}, nil)
		e.transport.Run(cmd)
	}

	rm := BuildCommand(e.runtimeDirectory, []string{"rm", "-rf", "./" + runID}, nil)
	if exitCode, _, stderr, err := e.transport.Run(rm); err != nil {
		return err
	} else if exitCode != 0 {
		return fmt.Errorf("environment: cleaning run directory failed: %s", stderr)
	}

	delete(e.status, runID)
	delete(e.pids, runID)

	e.logger.Printf("cleaned run %s", runID)
	return e.persistState()
}

func (e *SSHEnvironment) GetStatus(runID string) (RunStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return "", ErrUnknownRun
	}
	return status, nil
}

func (e *SSHEnvironment) GetStdout(runID string) (io.ReadCloser, error) {
	return e.transport.Open(e.runPath(runID) + "/stdout.log")
}

func (e *SSHEnvironment) GetStderr(runID string) (io.ReadCloser, error) {
	return e.transport.Open(e.runPath(runID) + "/stderr.log")
}

func (e *SSHEnvironment) GetFile(runID, path string) (io.ReadCloser, error) {
	return e.transport.Open(e.workPath(runID) + "/" + path)
}

var _ RunEnvironment = (*SSHEnvironment)(nil)
