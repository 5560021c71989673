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
	"io/ioutil"
	"log"
	"os"
	"testing"
	"time"
)

func newTestLocalEnvironment(t *testing.T) *LocalEnvironment {
	t.Helper()
	dir, err := ioutil.TempDir("", "overseer-local-*")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	logger := log.New(ioutil.Discard, "", 0)
	env, err := NewLocalEnvironment(dir, logger)
	if err != nil {
		t.Fatalf("NewLocalEnvironment: %v", err)
	}
	return env
}

func waitForTerminal(t *testing.T, env *LocalEnvironment, runID string) RunStatus {
	t.Helper()
	for i := 0; i < 200; i++ {
		status, err := env.GetStatus(runID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.IsTerminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return ""
}

func TestLocalStartFinishesOnZeroExit(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", [][]string{{"true"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := waitForTerminal(t, env, "run-1"); status != Finished {
		t.Errorf("status = %s, want %s", status, Finished)
	}
}

func TestLocalStartFailsOnNonzeroExit(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", [][]string{{"false"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := waitForTerminal(t, env, "run-1"); status != Failed {
		t.Errorf("status = %s, want %s", status, Failed)
	}
}

func TestLocalStartChainsCommands(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", [][]string{{"true"}, {"true"}, {"true"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := waitForTerminal(t, env, "run-1"); status != Finished {
		t.Errorf("status = %s, want %s", status, Finished)
	}
	if remaining := len(env.commands["run-1"]); remaining != 0 {
		t.Errorf("expected the command queue to be drained, %d left", remaining)
	}
}

func TestLocalStartRejectsDuplicateID(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", [][]string{{"true"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.Start("run-1", [][]string{{"true"}}); err != ErrDuplicateRun {
		t.Errorf("Start on a duplicate id = %v, want ErrDuplicateRun", err)
	}
}

func TestLocalStartRejectsEmptyCommands(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", nil); err != ErrEmptyCommands {
		t.Errorf("Start with no commands = %v, want ErrEmptyCommands", err)
	}
}

func TestLocalGetStatusUnknownRun(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if _, err := env.GetStatus("missing"); err != ErrUnknownRun {
		t.Errorf("GetStatus on an unknown id = %v, want ErrUnknownRun", err)
	}
}

func TestLocalStopThenCleanRemovesRun(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", [][]string{{"sleep", "5"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.Stop("run-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status, err := env.GetStatus("run-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != Stopped {
		t.Errorf("status after Stop = %s, want %s", status, Stopped)
	}
	if err := env.Clean("run-1"); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := env.GetStatus("run-1"); err != ErrUnknownRun {
		t.Errorf("GetStatus after Clean = %v, want ErrUnknownRun", err)
	}
}

func TestLocalGetStdoutReturnsCommandOutput(t *testing.T) {
	env := newTestLocalEnvironment(t)
	if err := env.Start("run-1", [][]string{{"echo", "hello"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, env, "run-1")

	rc, err := env.GetStdout("run-1")
	if err != nil {
		t.Fatalf("GetStdout: %v", err)
	}
	defer rc.Close()

	contents, err := ioutil.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if string(contents) != "hello\n" {
		t.Errorf("stdout = %q, want %q", contents, "hello\n")
	}
}

func TestLocalAssetRoundtrip(t *testing.T) {
	env := newTestLocalEnvironment(t)

	src, err := ioutil.TempFile("", "overseer-asset-*")
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	defer os.Remove(src.Name())
	src.WriteString("payload")
	src.Close()

	if err := env.AddAsset("container-1", "nested/file.txt", src.Name()); err != nil {
		t.Fatalf("AddAsset: %v", err)
	}

	has, err := env.HasAsset("container-1", "nested/file.txt")
	if err != nil {
		t.Fatalf("HasAsset: %v", err)
	}
	if !has {
		t.Errorf("HasAsset = false after AddAsset")
	}

	path, err := env.GetAsset("container-1", "nested/file.txt")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	contents, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatalf("reading asset: %v", err)
	}
	if string(contents) != "payload" {
		t.Errorf("asset contents = %q, want %q", contents, "payload")
	}

	if err := env.CleanAssets("container-1"); err != nil {
		t.Fatalf("CleanAssets: %v", err)
	}
	has, err = env.HasAsset("container-1", "nested/file.txt")
	if err != nil {
		t.Fatalf("HasAsset: %v", err)
	}
	if has {
		t.Errorf("HasAsset = true after CleanAssets")
	}
}
