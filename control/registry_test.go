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

package control

import (
	"testing"

	"github.com/codepr/overseer/environment"
)

func TestAddEnvironmentRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()
	env, _ := environment.NewLocalEnvironment(t.TempDir(), nil)

	if _, err := reg.AddEnvironment("local", env); err != nil {
		t.Fatalf("AddEnvironment: %v", err)
	}
	if _, err := reg.AddEnvironment("local", env); err != ErrDuplicateID {
		t.Errorf("AddEnvironment on a duplicate id = %v, want ErrDuplicateID", err)
	}
}

func TestAddEnvironmentGeneratesIDWhenEmpty(t *testing.T) {
	reg := NewRegistry()
	env, _ := environment.NewLocalEnvironment(t.TempDir(), nil)

	id, err := reg.AddEnvironment("", env)
	if err != nil {
		t.Fatalf("AddEnvironment: %v", err)
	}
	if id == "" {
		t.Errorf("AddEnvironment with no id should generate one")
	}
	if _, err := reg.Environment(id); err != nil {
		t.Errorf("Environment(%s): %v", id, err)
	}
}

func TestRemoveEnvironmentForgetsID(t *testing.T) {
	reg := NewRegistry()
	env, _ := environment.NewLocalEnvironment(t.TempDir(), nil)
	reg.AddEnvironment("local", env)

	reg.RemoveEnvironment("local")
	if _, err := reg.Environment("local"); err != ErrUnknownID {
		t.Errorf("Environment after Remove = %v, want ErrUnknownID", err)
	}
}

func TestSimulationRoundtrip(t *testing.T) {
	reg := NewRegistry()
	sim := Simulation{"name": "smoke-test"}

	id, err := reg.AddSimulation("sim-1", sim)
	if err != nil {
		t.Fatalf("AddSimulation: %v", err)
	}
	if id != "sim-1" {
		t.Errorf("AddSimulation id = %s, want sim-1", id)
	}

	got, err := reg.Simulation("sim-1")
	if err != nil {
		t.Fatalf("Simulation: %v", err)
	}
	if got["name"] != "smoke-test" {
		t.Errorf("Simulation[name] = %v, want smoke-test", got["name"])
	}

	if _, err := reg.AddSimulation("sim-1", sim); err != ErrDuplicateID {
		t.Errorf("AddSimulation on a duplicate id = %v, want ErrDuplicateID", err)
	}
}
