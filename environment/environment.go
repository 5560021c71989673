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

// Package environment implements the backend-abstracted run-lifecycle
// engine: one contract (RunEnvironment), realized by a local process
// backend, a remote-shell backend, a batch-scheduled backend and a
// container backend, plus the asset-container model shared by all of them.
package environment

import (
	"errors"
	"io"
	"time"
)

// RunStatus is the state of a tracked run. It only ever moves forward
// through the diagram in spec.md section 4.5; no backend may move a run out
// of a terminal state.
type RunStatus string

const (
	Scheduled RunStatus = "scheduled"
	Started   RunStatus = "started"
	Finished  RunStatus = "finished"
	Failed    RunStatus = "failed"
	Stopped   RunStatus = "stopped"
)

// IsAlive reports whether a run in this status still has outstanding work.
func (s RunStatus) IsAlive() bool {
	return s == Scheduled || s == Started
}

// IsTerminal is the complement of IsAlive.
func (s RunStatus) IsTerminal() bool {
	return !s.IsAlive()
}

var (
	// ErrUnknownRun is returned by any operation addressing a run id the
	// environment has never seen, or has already cleaned.
	ErrUnknownRun = errors.New("environment: unknown run id")

	// ErrDuplicateRun is returned by Start when the given run id is already
	// tracked by the environment.
	ErrDuplicateRun = errors.New("environment: run id already exists")

	// ErrEmptyCommands is returned by Start when given an empty command
	// queue; spec.md requires a run's command list to be non-empty.
	ErrEmptyCommands = errors.New("environment: commands must be non-empty")
)

// RunEnvironment is the uniform contract every backend satisfies: a local
// process, a detached remote shell process or a batch queue job all look
// the same to a caller.
type RunEnvironment interface {
	// Start registers a fresh run id against an ordered, non-empty list of
	// argument vectors and begins executing the first one.
	Start(runID string, commands [][]string) error

	// Stop forces an alive run into Stopped; a no-op on a terminal run.
	Stop(runID string) error

	// Clean stops the run if alive, removes its on-host artifacts and
	// forgets the id.
	Clean(runID string) error

	// GetStatus refreshes and returns the run's current status.
	GetStatus(runID string) (RunStatus, error)

	// GetStdout returns a reader over the run's accumulated stdout log.
	GetStdout(runID string) (io.ReadCloser, error)

	// GetStderr returns a reader over the run's accumulated stderr log.
	GetStderr(runID string) (io.ReadCloser, error)

	// GetFile returns a reader over a file at a path relative to the run's
	// working directory.
	GetFile(runID, path string) (io.ReadCloser, error)

	// AddAsset stores localPath under remotePath inside container id,
	// creating intermediate directories as needed.
	AddAsset(containerID, remotePath, localPath string) error

	// HasAsset reports whether remotePath exists inside the container.
	HasAsset(containerID, remotePath string) (bool, error)

	// GetAsset returns an absolute path backing remotePath, resolved the way
	// this backend's own commands see it: the host filesystem path for the
	// local and remote backends, the in-container mount path for the
	// container backend (see environment/container.go).
	GetAsset(containerID, remotePath string) (string, error)

	// CleanAssets recursively removes a container; a no-op if absent.
	CleanAssets(containerID string) error
}

// Wait polls GetStatus for every id in ids every interval, returning true
// once all of them are terminal. If limit is non-zero and the accumulated
// sleep time exceeds it before that happens, Wait returns false. Deadline
// comparison is against accumulated sleep, not wall-clock time, so a paused
// caller does not itself drain the budget (spec.md section 4.1).
func Wait(env RunEnvironment, ids []string, interval time.Duration, limit time.Duration) (bool, error) {
	remaining := make([]string, len(ids))
	copy(remaining, ids)

	var waited time.Duration

	for {
		next := remaining[:0]
		for _, id := range remaining {
			status, err := env.GetStatus(id)
			if err != nil {
				return false, err
			}
			if status.IsAlive() {
				next = append(next, id)
			}
		}
		remaining = next

		if len(remaining) == 0 {
			return true, nil
		}

		if limit > 0 && waited > limit {
			return false, nil
		}

		time.Sleep(interval)
		waited += interval
	}
}
