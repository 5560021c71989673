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
	"errors"
	"testing"
	"time"
)

func TestRunStatusIsAlive(t *testing.T) {
	alive := map[RunStatus]bool{
		Scheduled: true,
		Started:   true,
		Finished:  false,
		Failed:    false,
		Stopped:   false,
	}
	for status, want := range alive {
		if got := status.IsAlive(); got != want {
			t.Errorf("%s.IsAlive() = %v, want %v", status, got, want)
		}
	}
}

func TestRunStatusIsTerminal(t *testing.T) {
	if Scheduled.IsTerminal() {
		t.Errorf("Scheduled should not be terminal")
	}
	if !Finished.IsTerminal() {
		t.Errorf("Finished should be terminal")
	}
	if !Failed.IsTerminal() {
		t.Errorf("Failed should be terminal")
	}
	if !Stopped.IsTerminal() {
		t.Errorf("Stopped should be terminal")
	}
}

// fakeEnvironment lets Wait be tested without a real backend: GetStatus
// returns Started until statusAfter calls, then Finished.
type fakeEnvironment struct {
	RunEnvironment
	calls       int
	statusAfter int
}

func (f *fakeEnvironment) GetStatus(runID string) (RunStatus, error) {
	f.calls++
	if f.calls >= f.statusAfter {
		return Finished, nil
	}
	return Started, nil
}

func TestWaitReturnsTrueOnceAllTerminal(t *testing.T) {
	env := &fakeEnvironment{statusAfter: 3}
	done, err := Wait(env, []string{"run-1"}, time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !done {
		t.Errorf("Wait should report done once the run reaches a terminal status")
	}
}

func TestWaitRespectsLimit(t *testing.T) {
	env := &fakeEnvironment{statusAfter: 1000}
	done, err := Wait(env, []string{"run-1"}, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if done {
		t.Errorf("Wait should not report done before the limit elapses for a run that never finishes")
	}
}

type erroringEnvironment struct {
	RunEnvironment
}

func (erroringEnvironment) GetStatus(runID string) (RunStatus, error) {
	return "", errors.New("boom")
}

func TestWaitPropagatesErrors(t *testing.T) {
	_, err := Wait(erroringEnvironment{}, []string{"run-1"}, time.Millisecond, 0)
	if err == nil {
		t.Errorf("Wait should propagate a GetStatus error")
	}
}
