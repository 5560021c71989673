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
	"io"
	"strings"
	"testing"
)

// fakeTransport is an in-memory Transport stand-in: Run stores what an
// echo redirected into state.json writes and serves it back to
// "cat state.json", enough to exercise readRemoteState/writeRemoteState
// without a real SSH session.
type fakeTransport struct {
	files map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: map[string]string{}}
}

func (f *fakeTransport) Run(command string) (int, []byte, []byte, error) {
	switch {
	case strings.Contains(command, `"cat" "state.json"`):
		contents, ok := f.files["state.json"]
		if !ok {
			return 1, nil, []byte("no such file"), nil
		}
		return 0, []byte(contents), nil, nil
	case strings.Contains(command, `"echo"`) && strings.Contains(command, `> "state.json"`):
		start := strings.Index(command, `"echo" "`) + len(`"echo" "`)
		end := strings.LastIndex(command, `" > "state.json"`)
		f.files["state.json"] = strings.ReplaceAll(command[start:end], `\"`, `"`)
		return 0, nil, nil, nil
	default:
		return 0, nil, nil, nil
	}
}

func (f *fakeTransport) Upload(localPath, remotePath string) error { return nil }
func (f *fakeTransport) EnsureDir(remotePath string) error         { return nil }
func (f *fakeTransport) Open(remotePath string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.files[remotePath])), nil
}
func (f *fakeTransport) Close() error { return nil }

func TestReadRemoteStateEmptyWhenAbsent(t *testing.T) {
	state := readRemoteState(newFakeTransport(), "/runtime")
	if len(state.Pids) != 0 || len(state.Status) != 0 {
		t.Errorf("expected empty state when state.json is absent, got %+v", state)
	}
}

func TestWriteThenReadRemoteStateRoundtrips(t *testing.T) {
	transport := newFakeTransport()
	state := newRemoteState()
	state.Pids["run-1"] = 4242
	state.Status["run-1"] = string(Started)

	if err := writeRemoteState(transport, "/runtime", state); err != nil {
		t.Fatalf("writeRemoteState: %v", err)
	}

	recovered := readRemoteState(transport, "/runtime")
	if recovered.Pids["run-1"] != 4242 {
		t.Errorf("recovered pid = %d, want 4242", recovered.Pids["run-1"])
	}
	if recovered.Status["run-1"] != string(Started) {
		t.Errorf("recovered status = %s, want %s", recovered.Status["run-1"], Started)
	}
}
