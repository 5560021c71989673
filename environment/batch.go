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
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"
)

var jobIDPattern = regexp.MustCompile(`Job <(\d+)>`)

// BatchEnvironment specializes the remote-shell backend for an LSF queue:
// it submits run.sh with bsub instead of backgrounding it directly, and
// polls bjobs plus the queue's own completion markers instead of kill -0.
type BatchEnvironment struct {
	*remoteBase

	jobIDs map[string]string
}

// NewBatchEnvironment runs over the already dialed transport t and recovers
// prior job-to-run mappings from state.json, same as SSHEnvironment; the
// numeric LSF job id is persisted in the pids map and kept in string form in
// jobIDs, since LSF ids are not OS pids.
func NewBatchEnvironment(environmentID, runtimeDirectory string, t Transport, l *log.Logger) (*BatchEnvironment, error) {
	rb, err := newRemoteBase(environmentID, runtimeDirectory, t, l)
	if err != nil {
		return nil, err
	}

	jobIDs := map[string]string{}
	for runID, pid := range rb.pids {
		jobIDs[runID] = strconv.Itoa(pid)
	}

	return &BatchEnvironment{remoteBase: rb, jobIDs: jobIDs}, nil
}

func (e *BatchEnvironment) SetNotifier(n Notifier) { e.setNotifier(n) }

// Start writes run.sh exactly as the remote-shell backend does, then submits
// it with "bsub -J overseer:<run_id> sh run.sh" instead of backgrounding it
// directly; a run starts in Scheduled until bjobs reports it as running.
func (e *BatchEnvironment) Start(runID string, commands [][]string) error {
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
	submit := BuildCommand(workPath, []string{"bsub", "-J", "overseer:" + runID, "sh", "run.sh"}, nil)
	exitCode, stdout, stderr, err := e.transport.Run(submit)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("environment: bsub submission failed: %s", stderr)
	}

	match := jobIDPattern.FindSubmatch(stdout)
	if match == nil {
		return fmt.Errorf("environment: could not parse job id from bsub output: %q", stdout)
	}

	jobID := string(match[1])
	e.jobIDs[runID] = jobID
	if pid, err := strconv.Atoi(jobID); err == nil {
		e.pids[runID] = pid
	}
	e.status[runID] = Scheduled
	e.logger.Printf("scheduled run %s (lsf job %s)", runID, jobID)
	return e.persistState()
}

// advance polls bjobs for each alive run's job id. A RUN token moves a
// Scheduled run to Started; otherwise a PEND/RUN token keeps the run in its
// current state. Anything else triggers the two-signal
// completion test: the queue's own "lsf.o<jobid>" log must report exactly
// one "Successfully completed." line AND run.sh's own return_code must be
// zero, both required before a run is marked finished.
func (e *BatchEnvironment) advance() {
	changed := false

	for runID, status := range e.status {
		if !status.IsAlive() {
			continue
		}

		jobID := e.jobIDs[runID]
		cmd := BuildCommand(e.runtimeDirectory, []string{"bjobs", jobID}, nil)
		exitCode, stdout, _, err := e.transport.Run(cmd)
		if err != nil {
			continue
		}

		if exitCode == 0 && (bytes.Contains(stdout, []byte("PEND")) || bytes.Contains(stdout, []byte("RUN"))) {
			if status == Scheduled && bytes.Contains(stdout, []byte("RUN")) {
				e.status[runID] = Started
				changed = true
			}
			continue
		}

		next := e.testCompletion(runID, jobID)
		e.status[runID] = next
		e.notifier.Notify(e.environmentID, runID, next)
		e.logger.Printf("updated status of run %s to %s", runID, next)
		changed = true
	}

	if changed {
		e.persistState()
	}
}

// testCompletion implements the queue-level + program-level double check:
// both the "lsf.o<jobid>" completion banner and run.sh's own return_code
// must agree the run succeeded before it is reported finished.
func (e *BatchEnvironment) testCompletion(runID, jobID string) RunStatus {
	logCmd := BuildCommand(e.runPath(runID), []string{"grep", "-c", "Successfully completed.", "lsf.o" + jobID}, nil)
	_, stdout, _, err := e.transport.Run(logCmd)
	count, convErr := strconv.Atoi(strings.TrimSpace(string(stdout)))
	queueOK := err == nil && convErr == nil && count == 1

	code, err := e.readReturnCode(runID)
	programOK := err == nil && code == 0

	if queueOK && programOK {
		return Finished
	}
	return Failed
}

func (e *BatchEnvironment) Stop(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return ErrUnknownRun
	}

	if status.IsAlive() {
		cmd := BuildCommand(e.runtimeDirectory, []string{"bkill", e.jobIDs[runID]}, nil)
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

func (e *BatchEnvironment) Clean(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return ErrUnknownRun
	}

	if status.IsAlive() {
		cmd := BuildCommand(e.runtimeDirectory, []string{"bkill", e.jobIDs[runID]}, nil)
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
	delete(e.jobIDs, runID)

	e.logger.Printf("cleaned run %s", runID)
	return e.persistState()
}

func (e *BatchEnvironment) GetStatus(runID string) (RunStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advance()

	status, ok := e.status[runID]
	if !ok {
		return "", ErrUnknownRun
	}
	return status, nil
}

func (e *BatchEnvironment) GetStdout(runID string) (io.ReadCloser, error) {
	return e.transport.Open(e.runPath(runID) + "/stdout.log")
}

func (e *BatchEnvironment) GetStderr(runID string) (io.ReadCloser, error) {
	return e.transport.Open(e.runPath(runID) + "/stderr.log")
}

func (e *BatchEnvironment) GetFile(runID, path string) (io.ReadCloser, error) {
	return e.transport.Open(e.workPath(runID) + "/" + path)
}

var _ RunEnvironment = (*BatchEnvironment)(nil)
