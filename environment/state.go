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
	"encoding/json"
	"fmt"
)

// remoteState is the state.json schema from spec.md section 6: a run-state
// store mirrored onto the execution host so a restarted supervisor can
// rejoin existing remote processes by pid/job id.
type remoteState struct {
	Pids   map[string]int    `json:"pids"`
	Status map[string]string `json:"status"`
}

func newRemoteState() remoteState {
	return remoteState{
		Pids:   map[string]int{},
		Status: map[string]string{},
	}
}

// readRemoteState attempts to recover {pids, status} from the execution
// host via "cat state.json". Absence or any read/parse failure yields an
// empty state rather than an error — the reference implementation starts
// empty when the state file was never written.
func readRemoteState(t Transport, runtimeDirectory string) remoteState {
	state := newRemoteState()

	cmd := BuildCommand(runtimeDirectory, []string{"cat", "state.json"}, nil)
	exitCode, stdout, _, err := t.Run(cmd)
	if err != nil || exitCode != 0 {
		return state
	}

	var recovered remoteState
	if err := json.Unmarshal(stdout, &recovered); err != nil {
		return state
	}
	if recovered.Pids == nil {
		recovered.Pids = map[string]int{}
	}
	if recovered.Status == nil {
		recovered.Status = map[string]string{}
	}
	return recovered
}

// writeRemoteState serialises state and writes it to <runtime>/state.json
// using the quoted-echo redirection trick: small text files are written
// remotely without a dedicated SFTP round trip.
func writeRemoteState(t Transport, runtimeDirectory string, state remoteState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	cmd := BuildCommand(runtimeDirectory, []string{"echo", string(payload)}, &Redirect{Path: "state.json"})
	exitCode, _, stderr, err := t.Run(cmd)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("environment: writing state.json failed: %s", stderr)
	}
	return nil
}
